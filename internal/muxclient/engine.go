// Package muxclient implements the channel-client engine: issuing
// requests, correlating responses by id, buffering calls until the
// peer's Initialize marker arrives, and fanning event frames out to
// subscriptions. Grounded on internal/mcp/client.go (atomic id counter,
// RWMutex-guarded state, a private send that waits for a matching
// response) and its mockTransport test double.
package muxclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nugget/chanmux/internal/channel"
	"github.com/nugget/chanmux/internal/wire"
)

type state int32

const (
	stateUninitialized state = iota
	stateIdle
)

type promiseResult struct {
	data any
	err  error
}

// pendingPromise is the engine's bookkeeping for one in-flight call.
type pendingPromise struct {
	resultCh chan promiseResult
	sent     bool
}

// pendingSub is the engine's bookkeeping for one in-flight subscription.
type pendingSub struct {
	values chan any
	done   chan struct{}
	sent   bool
	once   sync.Once
}

func (s *pendingSub) C() <-chan any { return s.values }

func (s *pendingSub) close() {
	s.once.Do(func() { close(s.done) })
}

// Engine is the client half of one connection.
type Engine struct {
	transport wire.Transport
	logger    *slog.Logger

	nextID atomic.Int64

	mu        sync.Mutex
	st        state
	promises  map[wire.RequestID]*pendingPromise
	subs      map[wire.RequestID]*pendingSub
	buffered  []bufferedFrame
	initCh    chan struct{}
	disposed  bool
	disposeCh chan struct{}
}

type bufferedFrame struct {
	id  wire.RequestID
	raw []byte
}

// New constructs a client engine over transport.
func New(transport wire.Transport, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		transport: transport,
		logger:    logger,
		promises:  make(map[wire.RequestID]*pendingPromise),
		subs:      make(map[wire.RequestID]*pendingSub),
		initCh:    make(chan struct{}),
		disposeCh: make(chan struct{}),
	}
}

// Run services incoming frames until ctx is cancelled or the transport
// disconnects, at which point every outstanding call and subscription is
// rejected/closed.
func (e *Engine) Run(ctx context.Context) error {
	for {
		raw, ok, err := e.transport.Recv(ctx)
		if !ok {
			e.Dispose()
			return err
		}
		f, decErr := wire.Decode(raw)
		if decErr != nil {
			e.logger.Log(ctx, slog.LevelDebug, "muxclient: dropping malformed frame", "err", decErr)
			continue
		}
		e.logger.Log(ctx, wire.LevelTrace, "muxclient: recv frame", "type", f.Type())
		e.HandleFrame(f)
	}
}

// HandleFrame dispatches one already-decoded frame. Exported so a Peer
// that owns the shared transport's single read loop can route response
// frames here directly.
func (e *Engine) HandleFrame(f wire.Frame) {
	if f.Type() == wire.TypeInitialize {
		e.onInitialize()
		return
	}

	switch f.Type() {
	case wire.TypePromiseSuccess:
		s, err := wire.DecodePromiseSuccess(f)
		if err != nil {
			return
		}
		data, err := s.Data.ToAny()
		e.resolvePromise(s.ID, promiseResult{data: data, err: err})
	case wire.TypePromiseError:
		pe, err := wire.DecodePromiseErrorFrame(f)
		if err != nil {
			return
		}
		rerr := pe.Err
		e.resolvePromise(pe.ID, promiseResult{err: &channel.RemoteError{Message: rerr.Message, Name: rerr.Name, Stack: rerr.Stack}})
	case wire.TypePromiseErrorObj:
		pe, err := wire.DecodePromiseErrorObj(f)
		if err != nil {
			return
		}
		val, _ := pe.Data.ToAny()
		e.resolvePromise(pe.ID, promiseResult{err: &channel.RemoteValueError{Value: val}})
	case wire.TypeEventFire:
		ef, err := wire.DecodeEventFire(f)
		if err != nil {
			return
		}
		val, err := ef.Data.ToAny()
		if err != nil {
			return
		}
		e.fireEvent(ef.ID, val)
	}
}

func (e *Engine) onInitialize() {
	e.mu.Lock()
	if e.st == stateIdle {
		e.mu.Unlock()
		return
	}
	e.st = stateIdle
	toFlush := e.buffered
	e.buffered = nil
	for i := range toFlush {
		if p, ok := e.promises[toFlush[i].id]; ok {
			p.sent = true
		}
		if s, ok := e.subs[toFlush[i].id]; ok {
			s.sent = true
		}
	}
	close(e.initCh)
	e.mu.Unlock()

	for _, bf := range toFlush {
		if err := e.transport.Send(context.Background(), bf.raw); err != nil {
			e.logger.Log(context.Background(), slog.LevelDebug, "muxclient: flush send failed", "err", err)
		}
	}
}

func (e *Engine) resolvePromise(id wire.RequestID, res promiseResult) {
	e.mu.Lock()
	p, ok := e.promises[id]
	delete(e.promises, id)
	e.mu.Unlock()
	if !ok {
		return // unknown id: cancelled locally, response still arrived
	}
	select {
	case p.resultCh <- res:
	default:
	}
}

func (e *Engine) fireEvent(id wire.RequestID, val any) {
	e.mu.Lock()
	s, ok := e.subs[id]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case s.values <- val:
	case <-s.done:
	}
}

// GetChannel returns a client-side proxy for the remote channel name.
func (e *Engine) GetChannel(name string) channel.Channel {
	return &clientChannel{engine: e, name: name}
}

func (e *Engine) allocID() wire.RequestID {
	return wire.RequestID(e.nextID.Add(1))
}

func (e *Engine) call(ctx context.Context, channelName, command string, arg any) (any, error) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil, channel.ErrDisposed
	}
	e.mu.Unlock()

	body, err := wire.ValueOf(arg)
	if err != nil {
		return nil, err
	}
	id := e.allocID()
	raw, err := wire.EncodePromise(wire.Promise{ID: id, ChannelName: channelName, Name: command, Arg: body})
	if err != nil {
		return nil, err
	}

	pending := &pendingPromise{resultCh: make(chan promiseResult, 1)}

	e.mu.Lock()
	e.promises[id] = pending
	if e.st == stateIdle {
		pending.sent = true
		e.mu.Unlock()
		if err := e.transport.Send(ctx, raw); err != nil {
			e.logger.Log(ctx, slog.LevelDebug, "muxclient: send failed", "err", err)
		} else {
			e.logger.Log(ctx, wire.LevelTrace, "muxclient: sent frame", "id", id, "bytes", len(raw))
		}
	} else {
		e.buffered = append(e.buffered, bufferedFrame{id: id, raw: raw})
		e.mu.Unlock()
	}

	select {
	case res := <-pending.resultCh:
		return res.data, res.err
	case <-ctx.Done():
		e.cancelPromise(id)
		return nil, channel.ErrCancelled
	case <-e.disposeCh:
		return nil, channel.ErrDisposed
	}
}

func (e *Engine) cancelPromise(id wire.RequestID) {
	e.mu.Lock()
	p, ok := e.promises[id]
	delete(e.promises, id)
	wasBuffered := false
	if ok && !p.sent {
		wasBuffered = true
		for i, bf := range e.buffered {
			if bf.id == id {
				e.buffered = append(e.buffered[:i], e.buffered[i+1:]...)
				break
			}
		}
	}
	e.mu.Unlock()

	if ok && !wasBuffered {
		raw, err := wire.EncodePromiseCancel(wire.PromiseCancel{ID: id})
		if err == nil {
			_ = e.transport.Send(context.Background(), raw)
		}
	}
}

func (e *Engine) listen(ctx context.Context, channelName, event string, arg any) (channel.Subscription, error) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil, channel.ErrDisposed
	}
	e.mu.Unlock()

	select {
	case <-e.initCh:
	case <-ctx.Done():
		return nil, channel.ErrCancelled
	case <-e.disposeCh:
		return nil, channel.ErrDisposed
	}

	body, err := wire.ValueOf(arg)
	if err != nil {
		return nil, err
	}
	id := e.allocID()
	raw, err := wire.EncodeEventListen(wire.EventListen{ID: id, ChannelName: channelName, Name: event, Arg: body})
	if err != nil {
		return nil, err
	}

	sub := &pendingSub{values: make(chan any, 32), done: make(chan struct{}), sent: true}
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil, channel.ErrDisposed
	}
	e.subs[id] = sub
	e.mu.Unlock()

	if err := e.transport.Send(ctx, raw); err != nil {
		e.logger.Log(ctx, slog.LevelDebug, "muxclient: send failed", "err", err)
	}

	return &subscription{id: id, engine: e, sub: sub}, nil
}

func (e *Engine) disposeSubscription(id wire.RequestID) {
	e.mu.Lock()
	sub, ok := e.subs[id]
	delete(e.subs, id)
	e.mu.Unlock()
	if !ok {
		return
	}
	sub.close()
	raw, err := wire.EncodeEventDispose(wire.EventDispose{ID: id})
	if err == nil {
		_ = e.transport.Send(context.Background(), raw)
	}
}

// Dispose rejects every outstanding call and subscription with
// ErrDisposed and marks the engine as no longer accepting new work.
// Safe to call more than once.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	promises := e.promises
	e.promises = make(map[wire.RequestID]*pendingPromise)
	subs := e.subs
	e.subs = make(map[wire.RequestID]*pendingSub)
	close(e.disposeCh)
	e.mu.Unlock()

	for _, p := range promises {
		select {
		case p.resultCh <- promiseResult{err: channel.ErrDisposed}:
		default:
		}
	}
	for _, s := range subs {
		s.close()
	}
}
