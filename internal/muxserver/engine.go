// Package muxserver implements the channel-server engine: the half of
// the protocol that accepts request frames, dispatches them to locally
// registered channels, and streams responses back. Grounded on the
// request-loop shape of internal/mcp/stdio.go (background read goroutine,
// ctx.Done() interrupts a blocked read) and the non-blocking fan-out
// idiom of internal/events/bus.go.
package muxserver

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nugget/chanmux/internal/channel"
	"github.com/nugget/chanmux/internal/wire"
)

// Engine is the server half of one connection. It sends Initialize on
// startup and then dispatches incoming Promise/EventListen/
// PromiseCancel/EventDispose frames against its registered channels.
type Engine struct {
	transport wire.Transport
	logger    *slog.Logger

	mu       sync.Mutex
	channels map[string]channel.Channel
	active   map[wire.RequestID]context.CancelFunc
	subs     map[wire.RequestID]channel.Subscription
	disposed bool
}

// New constructs a server engine over transport. Channels may be
// registered before or after Run starts; registrations made after
// connections exist on other engines have no effect on those other
// engines (spec.md §4.F) — each Engine owns its own registry.
func New(transport wire.Transport, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		transport: transport,
		logger:    logger,
		channels:  make(map[string]channel.Channel),
		active:    make(map[wire.RequestID]context.CancelFunc),
		subs:      make(map[wire.RequestID]channel.Subscription),
	}
}

// Register offers a channel under name to every peer connected to this
// engine's transport.
func (e *Engine) Register(name string, ch channel.Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels[name] = ch
}

// SendInitialize writes the Initialize handshake frame. It must be
// called exactly once, before any response frame, per spec.md §3.
// Run calls it automatically; a Peer composing this engine with a
// client engine over a shared transport calls it directly instead of
// using Run, since only one side may own the transport's read loop.
func (e *Engine) SendInitialize(ctx context.Context) error {
	raw, err := wire.EncodeInitialize()
	if err != nil {
		return err
	}
	if err := e.transport.Send(ctx, raw); err != nil {
		e.logger.Log(ctx, slog.LevelWarn, "muxserver: send Initialize failed", "err", err)
	}
	return nil
}

// Run sends the Initialize handshake and then services incoming frames
// until ctx is cancelled or the transport disconnects. It returns the
// transport's Recv error: nil on a clean close, ctx.Err() when ctx is
// cancelled. Use this only
// when the engine owns the transport's read loop outright; a Peer
// instead calls SendInitialize and HandleFrame directly so it can
// route frames to both a server and a client engine.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.SendInitialize(ctx); err != nil {
		return err
	}

	for {
		raw, ok, err := e.transport.Recv(ctx)
		if !ok {
			e.Dispose()
			return err
		}
		f, decErr := wire.Decode(raw)
		if decErr != nil {
			e.logger.Log(ctx, slog.LevelDebug, "muxserver: dropping malformed frame", "err", decErr)
			continue
		}
		e.logger.Log(ctx, wire.LevelTrace, "muxserver: recv frame", "type", f.Type())
		e.HandleFrame(ctx, f)
	}
}

// HandleFrame dispatches one already-decoded frame. Exported so a Peer
// that owns the shared transport's single read loop can route request
// frames here directly.
func (e *Engine) HandleFrame(ctx context.Context, f wire.Frame) {
	switch f.Type() {
	case wire.TypePromise:
		p, err := wire.DecodePromise(f)
		if err != nil {
			e.logger.Log(ctx, slog.LevelDebug, "muxserver: malformed Promise", "err", err)
			return
		}
		e.handlePromise(ctx, p)
	case wire.TypeEventListen:
		l, err := wire.DecodeEventListen(f)
		if err != nil {
			e.logger.Log(ctx, slog.LevelDebug, "muxserver: malformed EventListen", "err", err)
			return
		}
		e.handleEventListen(ctx, l)
	case wire.TypePromiseCancel:
		c, err := wire.DecodePromiseCancel(f)
		if err != nil {
			return
		}
		e.cancelActive(c.ID)
	case wire.TypeEventDispose:
		d, err := wire.DecodeEventDispose(f)
		if err != nil {
			return
		}
		e.disposeSub(d.ID)
	default:
		e.logger.Log(ctx, slog.LevelDebug, "muxserver: dropping frame of unknown type", "type", f.Type())
	}
}

func (e *Engine) lookupChannel(name string) (channel.Channel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.channels[name]
	return ch, ok
}

func (e *Engine) handlePromise(ctx context.Context, p wire.Promise) {
	ch, ok := e.lookupChannel(p.ChannelName)
	if !ok {
		e.emitError(p.ID, channel.ErrNotImplemented)
		return
	}

	callCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		cancel()
		return
	}
	e.active[p.ID] = cancel
	e.mu.Unlock()

	arg, err := p.Arg.ToAny()
	if err != nil {
		e.clearActive(p.ID)
		cancel()
		e.emitError(p.ID, err)
		return
	}

	go func() {
		defer e.clearActive(p.ID)
		result, err := ch.Call(callCtx, p.Name, arg)
		if callCtx.Err() != nil {
			// Cancelled: spec.md §4.C guarantees no terminal response
			// is emitted for this id once cancellation has occurred.
			return
		}
		if err != nil {
			e.emitError(p.ID, err)
			return
		}
		body, err := wire.ValueOf(result)
		if err != nil {
			e.emitError(p.ID, err)
			return
		}
		raw, encErr := wire.EncodePromiseSuccess(wire.PromiseSuccess{ID: p.ID, Data: body})
		e.sendFrame(ctx, raw, encErr)
	}()
}

func (e *Engine) emitError(id wire.RequestID, err error) {
	var remote *channel.RemoteError
	var valueErr *channel.RemoteValueError
	switch {
	case errors.As(err, &remote):
		raw, encErr := wire.EncodePromiseError(wire.PromiseError{
			ID: id,
			Err: wire.StructuredError{
				Message: remote.Message,
				Name:    remote.Name,
				Stack:   remote.Stack,
			},
		})
		e.sendFrame(context.Background(), raw, encErr)
	case errors.As(err, &valueErr):
		body, bodyErr := wire.ValueOf(valueErr.Value)
		if bodyErr != nil {
			body = wire.Undefined
		}
		raw, encErr := wire.EncodePromiseErrorObj(wire.PromiseErrorObj{ID: id, Data: body})
		e.sendFrame(context.Background(), raw, encErr)
	case errors.Is(err, channel.ErrNotImplemented):
		raw, encErr := wire.EncodePromiseError(wire.PromiseError{
			ID:  id,
			Err: wire.StructuredError{Message: err.Error(), Name: "NotImplemented"},
		})
		e.sendFrame(context.Background(), raw, encErr)
	default:
		raw, encErr := wire.EncodePromiseError(wire.PromiseError{
			ID:  id,
			Err: wire.StructuredError{Message: err.Error(), Name: "Error"},
		})
		e.sendFrame(context.Background(), raw, encErr)
	}
}

func (e *Engine) handleEventListen(ctx context.Context, l wire.EventListen) {
	ch, ok := e.lookupChannel(l.ChannelName)
	if !ok {
		// No dedicated error response exists for EventListen in the
		// wire format (spec.md §6); the subscription is simply never
		// started and EventDispose on this id remains a harmless no-op.
		e.logger.Log(ctx, slog.LevelDebug, "muxserver: listen on unknown channel/event", "channel", l.ChannelName, "event", l.Name)
		return
	}

	listenCtx, cancel := context.WithCancel(ctx)
	arg, err := l.Arg.ToAny()
	if err != nil {
		cancel()
		return
	}
	sub, err := ch.Listen(listenCtx, l.Name, arg)
	if err != nil {
		cancel()
		return
	}

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		cancel()
		sub.Close()
		return
	}
	e.active[l.ID] = cancel
	e.subs[l.ID] = sub
	e.mu.Unlock()

	go func() {
		for {
			select {
			case v, ok := <-sub.C():
				if !ok {
					return
				}
				body, err := wire.ValueOf(v)
				if err != nil {
					continue
				}
				raw, encErr := wire.EncodeEventFire(wire.EventFire{ID: l.ID, Data: body})
				e.sendFrame(ctx, raw, encErr)
			case <-listenCtx.Done():
				return
			}
		}
	}()
}

func (e *Engine) cancelActive(id wire.RequestID) {
	e.mu.Lock()
	cancel, ok := e.active[id]
	delete(e.active, id)
	sub, hasSub := e.subs[id]
	delete(e.subs, id)
	e.mu.Unlock()

	if ok {
		cancel()
	}
	if hasSub {
		sub.Close()
	}
}

func (e *Engine) disposeSub(id wire.RequestID) {
	e.cancelActive(id)
}

func (e *Engine) clearActive(id wire.RequestID) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}

func (e *Engine) sendFrame(ctx context.Context, raw []byte, err error) {
	if err != nil {
		e.logger.Log(ctx, slog.LevelWarn, "muxserver: encode failed", "err", err)
		return
	}
	if err := e.transport.Send(ctx, raw); err != nil {
		// transport-error: swallowed per spec.md §7, the transport's
		// own disconnect signal is what eventually unwinds this engine.
		e.logger.Log(ctx, slog.LevelDebug, "muxserver: send failed", "err", err)
		return
	}
	e.logger.Log(ctx, wire.LevelTrace, "muxserver: sent frame", "bytes", len(raw))
}

// Dispose cancels every active call and subscription and marks the
// engine as no longer accepting new work. Safe to call more than once.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	cancels := make([]context.CancelFunc, 0, len(e.active))
	for id, cancel := range e.active {
		cancels = append(cancels, cancel)
		delete(e.active, id)
	}
	subs := make([]channel.Subscription, 0, len(e.subs))
	for id, sub := range e.subs {
		subs = append(subs, sub)
		delete(e.subs, id)
	}
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, sub := range subs {
		sub.Close()
	}
}
