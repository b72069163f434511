// Package wire implements the chanmux frame protocol: a length-prefixed
// JSON header followed by a body whose encoding is tagged in the header.
// It also defines the Transport contract the engines in muxserver and
// muxclient consume.
package wire

import "encoding/json"

// BodyTag identifies how a frame's body bytes should be interpreted.
type BodyTag int

const (
	// BodyUndefined means there is no body (zero-length).
	BodyUndefined BodyTag = 0
	// BodyText means the body is UTF-8 text, stored as-is.
	BodyText BodyTag = 1
	// BodyBytes means the body is an opaque byte buffer.
	BodyBytes BodyTag = 2
	// BodyValue means the body is JSON-encoded structured data.
	BodyValue BodyTag = 3
)

// Body is a sum type over the four representations a frame's body may
// take. Exactly one field is meaningful; which one is determined by Tag.
// Modeling this as a tagged struct (rather than sniffing Go runtime types
// at the send site) keeps the ambiguity between a raw byte buffer and a
// structured value explicit, per the design note in spec.md §9.
type Body struct {
	Tag   BodyTag
	Text  string
	Bytes []byte
	Value json.RawMessage
}

// Undefined is the canonical empty body.
var Undefined = Body{Tag: BodyUndefined}

// TextBody wraps a UTF-8 string body.
func TextBody(s string) Body {
	return Body{Tag: BodyText, Text: s}
}

// BytesBody wraps an opaque byte-buffer body.
func BytesBody(b []byte) Body {
	return Body{Tag: BodyBytes, Bytes: b}
}

// ValueBody marshals v to its canonical JSON text and wraps it as a
// structured body. Marshal errors propagate to the caller rather than
// silently downgrading to an undefined body.
func ValueBody(v any) (Body, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Body{}, err
	}
	return Body{Tag: BodyValue, Value: raw}, nil
}

// Decode unmarshals a structured body into v. Only valid when Tag ==
// BodyValue.
func (b Body) Decode(v any) error {
	return json.Unmarshal(b.Value, v)
}

// ToAny rematerializes a Body into a plain Go value for consumption by
// channel implementations: BodyUndefined → nil, BodyText → string,
// BodyBytes → []byte, BodyValue → whatever json.Unmarshal into an
// interface{} produces (map[string]any, []any, float64, string, bool,
// or nil).
func (b Body) ToAny() (any, error) {
	switch b.Tag {
	case BodyUndefined:
		return nil, nil
	case BodyText:
		return b.Text, nil
	case BodyBytes:
		return b.Bytes, nil
	case BodyValue:
		var v any
		if err := b.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, errUnknownBodyTag
	}
}

// ValueOf classifies a plain Go value into the Body sum type: nil
// becomes Undefined, string becomes Text, []byte becomes Bytes, and
// everything else is marshaled as a structured Value. This mirrors the
// classify() step in the encode contract (spec.md §4.A) at the
// language boundary between channel implementations and the wire.
func ValueOf(v any) (Body, error) {
	switch x := v.(type) {
	case nil:
		return Undefined, nil
	case string:
		return TextBody(x), nil
	case []byte:
		return BytesBody(x), nil
	default:
		return ValueBody(x)
	}
}

// bytes returns the raw wire bytes for the body, per its tag.
func (b Body) bytes() []byte {
	switch b.Tag {
	case BodyText:
		return []byte(b.Text)
	case BodyBytes:
		return b.Bytes
	case BodyValue:
		return b.Value
	default:
		return nil
	}
}

// bodyFromBytes rematerializes a Body from raw wire bytes and a tag read
// off the frame header. For BodyValue it validates that the bytes are
// well-formed JSON; malformed input is the caller's malformed-frame case.
func bodyFromBytes(tag BodyTag, raw []byte) (Body, error) {
	switch tag {
	case BodyUndefined:
		return Undefined, nil
	case BodyText:
		return Body{Tag: BodyText, Text: string(raw)}, nil
	case BodyBytes:
		return Body{Tag: BodyBytes, Bytes: raw}, nil
	case BodyValue:
		if !json.Valid(raw) {
			return Body{}, errMalformedBody
		}
		return Body{Tag: BodyValue, Value: json.RawMessage(raw)}, nil
	default:
		return Body{}, errUnknownBodyTag
	}
}
