// Package muxpeer composes a channel-server engine and a channel-client
// engine over one transport, so one connection endpoint can both offer
// and consume channels. No direct teacher analog; a thin composition
// layer over internal/muxserver and internal/muxclient, following the
// constructor/option idiom of internal/mcp.NewClient.
package muxpeer

import (
	"context"
	"log/slog"

	"github.com/nugget/chanmux/internal/muxclient"
	"github.com/nugget/chanmux/internal/muxserver"
	"github.com/nugget/chanmux/internal/wire"
)

// Peer is one endpoint of a transport. Server offers channels to the
// remote side; Client consumes channels the remote side offers.
type Peer struct {
	ID        string
	Server    *muxserver.Engine
	Client    *muxclient.Engine
	transport wire.Transport
	logger    *slog.Logger
}

// New constructs a Peer identified by id over transport. id is written
// as the peer identity exchange frame (spec.md §6) the moment Run
// starts, before either engine's protocol traffic begins.
func New(id string, transport wire.Transport, logger *slog.Logger) *Peer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Peer{
		ID:        id,
		Server:    muxserver.New(transport, logger),
		Client:    muxclient.New(transport, logger),
		transport: transport,
		logger:    logger,
	}
}

// Run writes the identity frame, starts the server engine's
// Initialize handshake, and then services incoming frames until ctx is
// cancelled or the transport disconnects, routing request-shaped
// frames (tag < 200) to Server and response-shaped frames (tag >= 200)
// to Client.
func (p *Peer) Run(ctx context.Context) error {
	idRaw, err := wire.Encode([]any{wire.IdentityFrameType}, wire.BytesBody([]byte(p.ID)))
	if err != nil {
		return err
	}
	if err := p.transport.Send(ctx, idRaw); err != nil {
		p.logger.Log(ctx, slog.LevelWarn, "muxpeer: send identity frame failed", "err", err)
	}
	if err := p.Server.SendInitialize(ctx); err != nil {
		return err
	}

	for {
		raw, ok, err := p.transport.Recv(ctx)
		if !ok {
			p.Dispose()
			return err
		}
		f, decErr := wire.Decode(raw)
		if decErr != nil {
			p.logger.Log(ctx, slog.LevelDebug, "muxpeer: dropping malformed frame", "err", decErr)
			continue
		}
		if f.Type() >= 200 {
			p.Client.HandleFrame(f)
		} else {
			p.Server.HandleFrame(ctx, f)
		}
	}
}

// Dispose tears down Client before Server (spec.md §4.E), then closes
// the shared transport.
func (p *Peer) Dispose() {
	p.Client.Dispose()
	p.Server.Dispose()
	_ = p.transport.Close()
}
