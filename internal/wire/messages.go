package wire

import "fmt"

// RequestID is a monotonically increasing id assigned by the requester.
// It is unique only within one direction of one transport (spec.md §3).
type RequestID int64

// Promise is a request to invoke command Name on channel ChannelName with
// argument Arg.
type Promise struct {
	ID          RequestID
	ChannelName string
	Name        string
	Arg         Body
}

// EncodePromise serializes a Promise request frame.
func EncodePromise(p Promise) ([]byte, error) {
	return Encode([]any{TypePromise, int64(p.ID), p.ChannelName, p.Name}, p.Arg)
}

// PromiseCancel cancels a prior Promise by id.
type PromiseCancel struct {
	ID RequestID
}

// EncodePromiseCancel serializes a PromiseCancel request frame.
func EncodePromiseCancel(c PromiseCancel) ([]byte, error) {
	return Encode([]any{TypePromiseCancel, int64(c.ID)}, Undefined)
}

// EventListen subscribes to event Name on channel ChannelName.
type EventListen struct {
	ID          RequestID
	ChannelName string
	Name        string
	Arg         Body
}

// EncodeEventListen serializes an EventListen request frame.
func EncodeEventListen(l EventListen) ([]byte, error) {
	return Encode([]any{TypeEventListen, int64(l.ID), l.ChannelName, l.Name}, l.Arg)
}

// EventDispose ends a subscription by id.
type EventDispose struct {
	ID RequestID
}

// EncodeEventDispose serializes an EventDispose request frame.
func EncodeEventDispose(d EventDispose) ([]byte, error) {
	return Encode([]any{TypeEventDispose, int64(d.ID)}, Undefined)
}

// PromiseSuccess carries the result of a completed command.
type PromiseSuccess struct {
	ID   RequestID
	Data Body
}

// EncodePromiseSuccess serializes a PromiseSuccess response frame.
func EncodePromiseSuccess(s PromiseSuccess) ([]byte, error) {
	return Encode([]any{TypePromiseSuccess, int64(s.ID)}, s.Data)
}

// StructuredError is the body of a PromiseError frame: a command that
// rejected with something recognizable as an error. Stack is accepted as
// either a string or an array of lines on decode (spec.md Open Questions)
// and always encoded as an array.
type StructuredError struct {
	Message string   `json:"message"`
	Name    string   `json:"name"`
	Stack   []string `json:"stack"`
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// PromiseError carries a structured remote failure.
type PromiseError struct {
	ID  RequestID
	Err StructuredError
}

// EncodePromiseError serializes a PromiseError response frame. Per the
// Open Question in spec.md §9, Stack is always encoded as an array,
// never as JSON null, even when there is no trace to report.
func EncodePromiseError(e PromiseError) ([]byte, error) {
	if e.Err.Stack == nil {
		e.Err.Stack = []string{}
	}
	body, err := ValueBody(e.Err)
	if err != nil {
		return nil, err
	}
	return Encode([]any{TypePromiseError, int64(e.ID)}, body)
}

// PromiseErrorObj carries an arbitrary rejection value (not recognizable
// as a structured error).
type PromiseErrorObj struct {
	ID   RequestID
	Data Body
}

// EncodePromiseErrorObj serializes a PromiseErrorObj response frame.
func EncodePromiseErrorObj(e PromiseErrorObj) ([]byte, error) {
	return Encode([]any{TypePromiseErrorObj, int64(e.ID)}, e.Data)
}

// EventFire carries one event delivery for subscription ID.
type EventFire struct {
	ID   RequestID
	Data Body
}

// EncodeEventFire serializes an EventFire response frame.
func EncodeEventFire(e EventFire) ([]byte, error) {
	return Encode([]any{TypeEventFire, int64(e.ID)}, e.Data)
}

// EncodeInitialize serializes the server's handshake frame.
func EncodeInitialize() ([]byte, error) {
	return Encode([]any{TypeInitialize}, Undefined)
}

// rawStructuredError accepts either a JSON string or array of strings for the
// stack field, matching the Open Question in spec.md §9.
type rawStructuredError struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	Stack   any    `json:"stack"`
}

// DecodeStructuredError parses the body of a PromiseError frame,
// normalizing Stack to a line list regardless of whether the origin sent
// a single joined string or an array of lines.
func DecodeStructuredError(body Body) (StructuredError, error) {
	var raw rawStructuredError
	if err := body.Decode(&raw); err != nil {
		return StructuredError{}, err
	}

	out := StructuredError{Message: raw.Message, Name: raw.Name}
	switch v := raw.Stack.(type) {
	case string:
		if v != "" {
			out.Stack = splitLines(v)
		}
	case []any:
		for _, line := range v {
			if s, ok := line.(string); ok {
				out.Stack = append(out.Stack, s)
			}
		}
	}
	return out, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

// idFrom extracts a RequestID from the second header element, returning
// errMalformedHeader if the header is too short or that element is not
// a number.
func idFrom(header []any) (RequestID, error) {
	if len(header) < 2 {
		return 0, errMalformedHeader
	}
	n, ok := header[1].(float64)
	if !ok {
		return 0, errMalformedHeader
	}
	return RequestID(int64(n)), nil
}

func stringAt(header []any, i int) (string, error) {
	if len(header) <= i {
		return "", errMalformedHeader
	}
	s, ok := header[i].(string)
	if !ok {
		return "", errMalformedHeader
	}
	return s, nil
}
