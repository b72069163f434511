package muxclient

import (
	"context"

	"github.com/nugget/chanmux/internal/channel"
	"github.com/nugget/chanmux/internal/wire"
)

// clientChannel is the proxy channel.Channel handed back by
// Engine.GetChannel: Call and Listen forward to the owning engine's
// request/response machinery.
type clientChannel struct {
	engine *Engine
	name   string
}

func (c *clientChannel) Call(ctx context.Context, command string, arg any) (any, error) {
	return c.engine.call(ctx, c.name, command, arg)
}

func (c *clientChannel) Listen(ctx context.Context, event string, arg any) (channel.Subscription, error) {
	return c.engine.listen(ctx, c.name, event, arg)
}

// subscription is the channel.Subscription returned by Listen. Close
// sends EventDispose iff the EventListen was actually sent; if it was
// still waiting on initialization, the wait is simply abandoned.
type subscription struct {
	id     wire.RequestID
	engine *Engine
	sub    *pendingSub
}

func (s *subscription) C() <-chan any { return s.sub.values }

func (s *subscription) Close() {
	s.engine.disposeSubscription(s.id)
}
