package deferred

import (
	"context"
	"runtime"
	"sync"

	"github.com/nugget/chanmux/internal/channel"
)

// NextTick wraps a channel that was just constructed during a reactive
// callback, so its very first call or listen yields to the scheduler
// once before dispatching. This breaks synchronous re-entrancy when a
// channel is built and immediately used from the same callback that
// produced it. Subsequent calls go straight through.
type NextTick struct {
	inner channel.Channel
	once  sync.Once
}

// NewNextTick wraps inner.
func NewNextTick(inner channel.Channel) *NextTick {
	return &NextTick{inner: inner}
}

func (n *NextTick) yieldOnce() {
	n.once.Do(runtime.Gosched)
}

func (n *NextTick) Call(ctx context.Context, command string, arg any) (any, error) {
	n.yieldOnce()
	return n.inner.Call(ctx, command, arg)
}

func (n *NextTick) Listen(ctx context.Context, event string, arg any) (channel.Subscription, error) {
	n.yieldOnce()
	return n.inner.Listen(ctx, event, arg)
}
