// Package channel defines the Channel capability both engines in this
// module operate on: a named set of remotely invokable commands and
// subscribable events. The same interface represents a locally hosted
// channel (registered on a server engine) and a remote proxy (returned
// by a client engine, a router, or a delayed-channel adapter) — callers
// never need to know which.
package channel

import "context"

// Channel exposes one command surface: call a named command with an
// argument and get back one value or error, or subscribe to a named
// event and get back a stream of values.
type Channel interface {
	Call(ctx context.Context, command string, arg any) (any, error)
	Listen(ctx context.Context, event string, arg any) (Subscription, error)
}

// Subscription is an active event stream. C delivers values in arrival
// order until the channel is closed (teardown) or Close is called.
// Close is idempotent.
type Subscription interface {
	C() <-chan any
	Close()
}

// ChannelFunc adapts plain functions to Channel, for small ad hoc
// channels (tests, demo binaries) that don't warrant their own type.
// A nil ListenFn answers every Listen with ErrNotImplemented.
type ChannelFunc struct {
	CallFn   func(ctx context.Context, command string, arg any) (any, error)
	ListenFn func(ctx context.Context, event string, arg any) (Subscription, error)
}

func (f ChannelFunc) Call(ctx context.Context, command string, arg any) (any, error) {
	return f.CallFn(ctx, command, arg)
}

func (f ChannelFunc) Listen(ctx context.Context, event string, arg any) (Subscription, error) {
	if f.ListenFn == nil {
		return nil, ErrNotImplemented
	}
	return f.ListenFn(ctx, event, arg)
}
