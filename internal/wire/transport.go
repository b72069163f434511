package wire

import "context"

// Transport is the interface the engines in muxserver/muxclient consume.
// It deliberately exposes only the two capabilities spec.md §6 grants the
// transport layer: send one opaque frame, and observe inbound frames in
// delivery order. Concrete byte-level framing (sockets, stdio pipes,
// WebSocket) lives outside this package — see internal/wstransport and
// internal/stdiotransport for two implementations.
type Transport interface {
	// Send writes one encoded frame. Implementations should treat send
	// failure as transport-error: per spec.md §7 the engine swallows it
	// and relies on the transport's own disconnect signal to eventually
	// fail outstanding work.
	Send(ctx context.Context, raw []byte) error

	// Recv blocks until the next inbound frame arrives, the transport
	// disconnects (ok=false, with a nil error on a clean close or the
	// read error otherwise), or ctx is cancelled (ok=false, ctx.Err()).
	Recv(ctx context.Context) (raw []byte, ok bool, err error)

	// Close releases transport resources. Safe to call more than once.
	Close() error
}
