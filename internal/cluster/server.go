// Package cluster implements the multi-client server and router (spec
// component F): a server that accepts many peer connections, learns
// each peer's id from its identity frame, and exposes a routed channel
// façade that forwards calls/listens to whichever connected peer a
// caller-supplied Router names. The Router/AuditingRouter shape is
// re-grounded from the teacher's model-selection router
// (pluggable-strategy-plus-audit-trail) onto peer selection; the
// not-yet-connected wait follows internal/connwatch.Watcher's
// cancellable-wait pattern.
package cluster

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nugget/chanmux/internal/channel"
	"github.com/nugget/chanmux/internal/deferred"
	"github.com/nugget/chanmux/internal/muxclient"
	"github.com/nugget/chanmux/internal/muxserver"
	"github.com/nugget/chanmux/internal/wire"
)

// NewRandomPeerID mints an id for a connecting side that has none of
// its own to offer in the identity exchange frame (spec.md §6).
func NewRandomPeerID() string {
	return uuid.NewString()
}

// ErrNoIdentityFrame is returned when a newly accepted transport's
// first frame is not the identity exchange frame spec.md §6 requires.
var ErrNoIdentityFrame = errors.New("cluster: first frame was not an identity frame")

// ErrPeerGone is returned when a peer disconnects while a routed call
// was waiting for it to connect.
var ErrPeerGone = errors.New("cluster: peer disconnected before it could be routed to")

// Server accepts peer connections, offers one set of channels to all of
// them, and lets callers address a specific connected peer via a
// Router.
type Server struct {
	logger *slog.Logger

	mu       sync.Mutex
	channels map[string]channel.Channel
	clients  map[string]*muxclient.Engine
	waiters  map[string][]chan struct{}
	engines  map[*muxserver.Engine]struct{}
}

// NewServer constructs an empty cluster server.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:   logger,
		channels: make(map[string]channel.Channel),
		clients:  make(map[string]*muxclient.Engine),
		waiters:  make(map[string][]chan struct{}),
		engines:  make(map[*muxserver.Engine]struct{}),
	}
}

// Register offers ch under name to every connection accepted from now
// on, and immediately to every connection already established: per
// spec.md §4.F, "existing C engines are updated by the server
// immediately."
func (s *Server) Register(name string, ch channel.Channel) {
	s.mu.Lock()
	s.channels[name] = ch
	engines := make([]*muxserver.Engine, 0, len(s.engines))
	for c := range s.engines {
		engines = append(engines, c)
	}
	s.mu.Unlock()

	for _, c := range engines {
		c.Register(name, ch)
	}
}

// HandleConnection reads the peer identity frame off transport,
// constructs a server engine (offering this Server's current channels,
// tracked so later Register calls reach it too) and a client engine
// over it, and services frames until ctx is cancelled or the transport
// disconnects.
func (s *Server) HandleConnection(ctx context.Context, transport wire.Transport) error {
	raw, ok, err := transport.Recv(ctx)
	if !ok {
		return err
	}
	idFrame, err := wire.Decode(raw)
	if err != nil || idFrame.Type() != wire.IdentityFrameType {
		return ErrNoIdentityFrame
	}
	peerID := string(idFrame.Body.Bytes)

	c := muxserver.New(transport, s.logger)
	s.mu.Lock()
	for name, ch := range s.channels {
		c.Register(name, ch)
	}
	s.engines[c] = struct{}{}
	s.mu.Unlock()

	d := muxclient.New(transport, s.logger)
	s.addClient(peerID, d)
	defer s.removeClient(peerID)
	defer s.removeEngine(c)
	defer c.Dispose()
	defer d.Dispose()

	if err := c.SendInitialize(ctx); err != nil {
		return err
	}

	for {
		raw, ok, err := transport.Recv(ctx)
		if !ok {
			return err
		}
		f, decErr := wire.Decode(raw)
		if decErr != nil {
			s.logger.Log(ctx, slog.LevelDebug, "cluster: dropping malformed frame", "err", decErr)
			continue
		}
		if f.Type() >= 200 {
			d.HandleFrame(f)
		} else {
			c.HandleFrame(ctx, f)
		}
	}
}

func (s *Server) addClient(id string, d *muxclient.Engine) {
	s.mu.Lock()
	s.clients[id] = d
	waiters := s.waiters[id]
	delete(s.waiters, id)
	s.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

func (s *Server) removeClient(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

func (s *Server) removeEngine(c *muxserver.Engine) {
	s.mu.Lock()
	delete(s.engines, c)
	s.mu.Unlock()
}

// waitForClient resolves once peerID connects, or fails if ctx is
// cancelled first.
func (s *Server) waitForClient(ctx context.Context, peerID string) (*muxclient.Engine, error) {
	s.mu.Lock()
	if d, ok := s.clients[peerID]; ok {
		s.mu.Unlock()
		return d, nil
	}
	ready := make(chan struct{})
	s.waiters[peerID] = append(s.waiters[peerID], ready)
	s.mu.Unlock()

	select {
	case <-ready:
		s.mu.Lock()
		d, ok := s.clients[peerID]
		s.mu.Unlock()
		if !ok {
			return nil, ErrPeerGone
		}
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetChannel returns a façade channel that, for every call or listen,
// consults router to pick a peer id and forwards to that peer's
// exposed channel name. Resolution of a not-yet-connected peer is
// wrapped in a delayed channel (spec.md §4.G) so the caller simply
// blocks on Call/Listen rather than polling.
func (s *Server) GetChannel(name string, router Router) channel.Channel {
	return &routedChannel{server: s, name: name, router: router}
}

type routedChannel struct {
	server *Server
	name   string
	router Router
}

func (r *routedChannel) Call(ctx context.Context, command string, arg any) (any, error) {
	peerID, err := r.router.RouteCall(ctx, command, arg)
	if err != nil {
		return nil, err
	}
	dc := deferred.NewDelayed(r.peerChannelFuture(peerID))
	return dc.Call(ctx, command, arg)
}

func (r *routedChannel) Listen(ctx context.Context, event string, arg any) (channel.Subscription, error) {
	peerID, err := r.router.RouteEvent(ctx, event, arg)
	if err != nil {
		return nil, err
	}
	dc := deferred.NewDelayed(r.peerChannelFuture(peerID))
	return dc.Listen(ctx, event, arg)
}

func (r *routedChannel) peerChannelFuture(peerID string) deferred.ChannelFuture {
	return func(ctx context.Context) (channel.Channel, error) {
		d, err := r.server.waitForClient(ctx, peerID)
		if err != nil {
			return nil, err
		}
		return d.GetChannel(r.name), nil
	}
}
