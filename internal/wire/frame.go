package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Frame-type tags, the first element of the header array. Request types
// travel one direction within a peer pair (requester to responder),
// response types the other way.
const (
	TypeInitialize      = 200
	TypePromiseSuccess  = 201
	TypePromiseError    = 202
	TypePromiseErrorObj = 203
	TypeEventFire       = 204

	TypePromise       = 100
	TypePromiseCancel = 101
	TypeEventListen   = 102
	TypeEventDispose  = 103
)

// IdentityFrameType is the header tag used for the one-off peer identity
// exchange frame (spec.md §6), sent before either engine's protocol
// begins. It is distinct from every request/response tag so a receiver
// can never confuse it with in-protocol traffic.
const IdentityFrameType = 0

var (
	errMalformedBody   = fmt.Errorf("%w: malformed structured body", errMalformedFrame)
	errUnknownBodyTag  = fmt.Errorf("%w: unknown body tag", errMalformedFrame)
	errMalformedHeader = fmt.Errorf("%w: malformed frame header", errMalformedFrame)
	errMalformedFrame  = errors.New("wire: malformed frame")
	errEmptyHeader     = fmt.Errorf("%w: empty frame header", errMalformedFrame)
)

// ErrMalformedFrame is returned by Decode when a frame cannot be parsed.
// Per spec.md §7 this is a local, non-propagating failure: callers of
// Decode should log it and drop the frame, not surface it to a pending
// call or subscription.
var ErrMalformedFrame = errMalformedFrame

// Frame is one decoded wire message: a header array (whose first element
// is the frame-type tag) and the fully rematerialized body.
type Frame struct {
	Header []any
	Body    Body
}

// Type returns the frame's type tag (the first header element), or -1 if
// the header is empty or its first element isn't a number.
func (f Frame) Type() int {
	if len(f.Header) == 0 {
		return -1
	}
	n, ok := f.Header[0].(float64)
	if !ok {
		return -1
	}
	return int(n)
}

// Encode serializes a header array and body into the wire format:
// uint32 BE header_len, the header JSON (with the body tag appended as
// its last element), then the raw body bytes.
func Encode(header []any, body Body) ([]byte, error) {
	full := make([]any, 0, len(header)+1)
	full = append(full, header...)
	full = append(full, int(body.Tag))

	headerJSON, err := json.Marshal(full)
	if err != nil {
		return nil, fmt.Errorf("wire: encode header: %w", err)
	}

	bodyBytes := body.bytes()

	out := make([]byte, 4+len(headerJSON)+len(bodyBytes))
	binary.BigEndian.PutUint32(out[:4], uint32(len(headerJSON)))
	copy(out[4:], headerJSON)
	copy(out[4+len(headerJSON):], bodyBytes)
	return out, nil
}

// Decode parses a single frame from raw wire bytes. The header's last
// element is consumed as the body tag and stripped from Frame.Header so
// callers see only the frame-type-specific fields.
//
// Unknown body tags and malformed header JSON both return
// ErrMalformedFrame; per spec.md §4.A the receiver's job is to drop such
// frames, not propagate the error further.
func Decode(raw []byte) (Frame, error) {
	if len(raw) < 4 {
		return Frame{}, errMalformedFrame
	}
	n := binary.BigEndian.Uint32(raw[:4])
	if uint64(4+n) > uint64(len(raw)) {
		return Frame{}, errMalformedFrame
	}

	headerJSON := raw[4 : 4+n]
	bodyRaw := raw[4+n:]

	var header []any
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return Frame{}, errMalformedHeader
	}
	if len(header) == 0 {
		return Frame{}, errEmptyHeader
	}

	tagF, ok := header[len(header)-1].(float64)
	if !ok {
		return Frame{}, errMalformedHeader
	}
	tag := BodyTag(int(tagF))

	body, err := bodyFromBytes(tag, bodyRaw)
	if err != nil {
		return Frame{}, err
	}

	return Frame{Header: header[:len(header)-1], Body: body}, nil
}
