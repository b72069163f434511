// Package deferred implements the delayed and next-tick channel
// adapters (spec.md §4.G): wrappers that let a caller address a channel
// before it actually exists. No direct teacher analog — the closest
// relative is internal/connwatch.Watcher's ready-flag/callback
// signaling, adapted here from a repeating health probe to a one-shot
// resolution.
package deferred

import (
	"context"
	"sync"

	"github.com/nugget/chanmux/internal/channel"
)

// ChannelFuture produces the real channel once it becomes available.
// It may be called more than once concurrently before resolution; once
// Delayed has cached a result, ChannelFuture is not consulted again.
type ChannelFuture func(ctx context.Context) (channel.Channel, error)

// Delayed wraps a ChannelFuture behind channel.Channel, queuing calls
// and subscriptions (by virtue of blocking on resolution) until the
// future resolves, then dispatching directly. Once resolved, every
// subsequent Call/Listen goes straight to the resolved channel.
type Delayed struct {
	future ChannelFuture

	mu       sync.Mutex
	resolved channel.Channel
}

// NewDelayed wraps future behind a channel.Channel facade.
func NewDelayed(future ChannelFuture) *Delayed {
	return &Delayed{future: future}
}

func (d *Delayed) resolve(ctx context.Context) (channel.Channel, error) {
	d.mu.Lock()
	if d.resolved != nil {
		ch := d.resolved
		d.mu.Unlock()
		return ch, nil
	}
	d.mu.Unlock()

	ch, err := d.future(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.resolved == nil {
		d.resolved = ch
	}
	resolved := d.resolved
	d.mu.Unlock()
	return resolved, nil
}

// Call blocks until the wrapped future resolves (or ctx is cancelled),
// then forwards to the resolved channel. Cancellation of ctx propagates
// to both the wait and, if already resolved, the underlying call.
func (d *Delayed) Call(ctx context.Context, command string, arg any) (any, error) {
	ch, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return ch.Call(ctx, command, arg)
}

// Listen blocks until the wrapped future resolves, then forwards the
// subscription to the resolved channel.
func (d *Delayed) Listen(ctx context.Context, event string, arg any) (channel.Subscription, error) {
	ch, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return ch.Listen(ctx, event, arg)
}
