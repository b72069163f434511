package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip_Text(t *testing.T) {
	raw, err := Encode([]any{TypePromise, int64(1), "echo", "marco"}, TextBody("polo"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if f.Type() != TypePromise {
		t.Errorf("Type() = %d, want %d", f.Type(), TypePromise)
	}
	if f.Body.Tag != BodyText || f.Body.Text != "polo" {
		t.Errorf("Body = %+v, want text %q", f.Body, "polo")
	}

	p, err := DecodePromise(f)
	if err != nil {
		t.Fatalf("DecodePromise: %v", err)
	}
	if p.ID != 1 || p.ChannelName != "echo" || p.Name != "marco" {
		t.Errorf("Promise = %+v", p)
	}
}

func TestEncodeDecodeRoundTrip_Undefined(t *testing.T) {
	raw, err := Encode([]any{TypePromiseCancel, int64(7)}, Undefined)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Body.Tag != BodyUndefined {
		t.Errorf("Body.Tag = %v, want BodyUndefined", f.Body.Tag)
	}
}

func TestEncodeDecodeRoundTrip_Bytes(t *testing.T) {
	payload := []byte{0x00, 0x01, 0xFF, 0x10}
	raw, err := Encode([]any{TypeEventFire, int64(3)}, BytesBody(payload))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Body.Tag != BodyBytes || !bytes.Equal(f.Body.Bytes, payload) {
		t.Errorf("Body = %+v, want bytes %v", f.Body, payload)
	}
}

func TestEncodeDecodeRoundTrip_StructuredValue(t *testing.T) {
	type payload struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	body, err := ValueBody(payload{A: 5, B: "x"})
	if err != nil {
		t.Fatalf("ValueBody: %v", err)
	}
	raw, err := Encode([]any{TypePromiseSuccess, int64(2)}, body)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	var got payload
	if err := f.Body.Decode(&got); err != nil {
		t.Fatalf("Body.Decode: %v", err)
	}
	if got.A != 5 || got.B != "x" {
		t.Errorf("got = %+v", got)
	}
}

func TestDecode_MalformedHeaderLength(t *testing.T) {
	if _, err := Decode([]byte{0, 0, 0, 100, 'x'}); err == nil {
		t.Fatal("expected error for header length overrun, got nil")
	}
}

func TestDecode_MalformedHeaderJSON(t *testing.T) {
	raw := append([]byte{0, 0, 0, 3}, []byte("abc")...)
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected error for invalid header JSON, got nil")
	}
}

func TestDecode_MalformedStructuredBody(t *testing.T) {
	badBody := Body{Tag: BodyValue, Value: []byte("{not json")}
	raw, err := Encode([]any{TypePromiseSuccess, int64(1)}, badBody)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected error decoding invalid JSON structured body, got nil")
	}
}

func TestStructuredErrorStack_StringAndArray(t *testing.T) {
	bodyArr, err := ValueBody(map[string]any{
		"message": "boom",
		"name":    "Error",
		"stack":   []string{"line1", "line2"},
	})
	if err != nil {
		t.Fatalf("ValueBody: %v", err)
	}
	se, err := DecodeStructuredError(bodyArr)
	if err != nil {
		t.Fatalf("DecodeStructuredError: %v", err)
	}
	if len(se.Stack) != 2 || se.Stack[0] != "line1" || se.Stack[1] != "line2" {
		t.Errorf("Stack = %v", se.Stack)
	}

	bodyStr, err := ValueBody(map[string]any{
		"message": "boom",
		"name":    "Error",
		"stack":   "line1\nline2",
	})
	if err != nil {
		t.Fatalf("ValueBody: %v", err)
	}
	se2, err := DecodeStructuredError(bodyStr)
	if err != nil {
		t.Fatalf("DecodeStructuredError: %v", err)
	}
	if len(se2.Stack) != 2 || se2.Stack[0] != "line1" || se2.Stack[1] != "line2" {
		t.Errorf("Stack = %v", se2.Stack)
	}
}

func TestEncodePromiseError_EncodesStackAsArray(t *testing.T) {
	raw, err := EncodePromiseError(PromiseError{
		ID: 4,
		Err: StructuredError{
			Message: "nice error",
			Name:    "Error",
			Stack:   []string{"a", "b"},
		},
	})
	if err != nil {
		t.Fatalf("EncodePromiseError: %v", err)
	}
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	pe, err := DecodePromiseErrorFrame(f)
	if err != nil {
		t.Fatalf("DecodePromiseErrorFrame: %v", err)
	}
	if pe.Err.Message != "nice error" {
		t.Errorf("Message = %q", pe.Err.Message)
	}
	if len(pe.Err.Stack) != 2 {
		t.Errorf("Stack = %v", pe.Err.Stack)
	}
}

func TestEncodePromiseError_NilStackEncodesAsEmptyArrayNotNull(t *testing.T) {
	raw, err := EncodePromiseError(PromiseError{
		ID:  5,
		Err: StructuredError{Message: "no trace", Name: "NotImplemented"},
	})
	if err != nil {
		t.Fatalf("EncodePromiseError: %v", err)
	}
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Contains(f.Body.Value, []byte(`"stack":[]`)) {
		t.Errorf("body = %s, want stack encoded as [] not null", f.Body.Value)
	}
}
