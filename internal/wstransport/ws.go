// Package wstransport implements wire.Transport over a gorilla/websocket
// connection. Unlike internal/stdiotransport, a WebSocket connection
// already delivers discrete messages, so each wire-encoded frame maps
// to exactly one WebSocket binary message with no extra length prefix
// needed.
package wstransport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport adapts a *websocket.Conn to wire.Transport.
type Transport struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
}

// New wraps an already-established WebSocket connection.
func New(conn *websocket.Conn, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{conn: conn, logger: logger}
}

// Send writes raw as a single binary WebSocket message.
func (t *Transport) Send(ctx context.Context, raw []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		return fmt.Errorf("wstransport: write: %w", err)
	}
	return nil
}

// Recv blocks for the next binary message. Non-binary control frames
// are skipped; a close frame or read error ends the stream (ok=false).
func (t *Transport) Recv(ctx context.Context) ([]byte, bool, error) {
	type result struct {
		data []byte
		mt   int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		for {
			mt, data, err := t.conn.ReadMessage()
			done <- result{data, mt, err}
			return
		}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if websocket.IsCloseError(r.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("wstransport: read: %w", r.err)
		}
		if r.mt != websocket.BinaryMessage {
			t.logger.Debug("wstransport: dropping non-binary message", "type", r.mt)
			return t.Recv(ctx)
		}
		return r.data, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Close sends a close frame and closes the underlying connection.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = t.conn.Close()
	})
	return err
}
