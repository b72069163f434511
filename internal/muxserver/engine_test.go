package muxserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nugget/chanmux/internal/channel"
	"github.com/nugget/chanmux/internal/wire"
)

// mockTransport is a loopback pipe: frames written via Send appear, in
// order, on a peer mockTransport's Recv. Modeled on the mockTransport in
// internal/mcp/client_test.go.
type mockTransport struct {
	mu     sync.Mutex
	peer   *mockTransport
	inbox  chan []byte
	closed bool
}

func newMockPair() (*mockTransport, *mockTransport) {
	a := &mockTransport{inbox: make(chan []byte, 64)}
	b := &mockTransport{inbox: make(chan []byte, 64)}
	a.peer = b
	b.peer = a
	return a, b
}

func (m *mockTransport) Send(ctx context.Context, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	cp := append([]byte(nil), raw...)
	select {
	case m.peer.inbox <- cp:
	default:
	}
	return nil
}

func (m *mockTransport) Recv(ctx context.Context) ([]byte, bool, error) {
	select {
	case raw, ok := <-m.inbox:
		if !ok {
			return nil, false, nil
		}
		return raw, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.inbox)
	return nil
}

// echoChannel implements channel.Channel with a single command "marco"
// that returns "polo", matching scenario S1.
type echoChannel struct{}

func (echoChannel) Call(ctx context.Context, command string, arg any) (any, error) {
	if command != "marco" {
		return nil, channel.ErrNotImplemented
	}
	return "polo", nil
}

func (echoChannel) Listen(ctx context.Context, event string, arg any) (channel.Subscription, error) {
	return nil, channel.ErrNotImplemented
}

func TestHandlePromise_EchoSuccess(t *testing.T) {
	serverSide, clientSide := newMockPair()
	e := New(serverSide, nil)
	e.Register("echo", echoChannel{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go e.Run(ctx)

	// Drain the Initialize frame.
	raw, ok, err := clientSide.Recv(ctx)
	if err != nil || !ok {
		t.Fatalf("expected Initialize frame, err=%v ok=%v", err, ok)
	}
	f, err := wire.Decode(raw)
	if err != nil || f.Type() != wire.TypeInitialize {
		t.Fatalf("expected Initialize, got type=%d err=%v", f.Type(), err)
	}

	promiseRaw, err := wire.EncodePromise(wire.Promise{ID: 1, ChannelName: "echo", Name: "marco", Arg: wire.TextBody("")})
	if err != nil {
		t.Fatalf("EncodePromise: %v", err)
	}
	if err := clientSide.Send(ctx, promiseRaw); err != nil {
		t.Fatalf("Send: %v", err)
	}

	respRaw, ok, err := clientSide.Recv(ctx)
	if err != nil || !ok {
		t.Fatalf("expected response frame, err=%v ok=%v", err, ok)
	}
	respFrame, err := wire.Decode(respRaw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if respFrame.Type() != wire.TypePromiseSuccess {
		t.Fatalf("Type() = %d, want PromiseSuccess", respFrame.Type())
	}
	success, err := wire.DecodePromiseSuccess(respFrame)
	if err != nil {
		t.Fatalf("DecodePromiseSuccess: %v", err)
	}
	if success.ID != 1 {
		t.Errorf("ID = %d, want 1", success.ID)
	}
	if success.Data.Tag != wire.BodyText {
		t.Errorf("Data.Tag = %v, want BodyText", success.Data.Tag)
	}
	got, err := success.Data.ToAny()
	if err != nil {
		t.Fatalf("ToAny: %v", err)
	}
	if got != "polo" {
		t.Errorf("got = %q, want %q", got, "polo")
	}
}

func TestHandlePromise_UnknownChannel(t *testing.T) {
	serverSide, clientSide := newMockPair()
	e := New(serverSide, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go e.Run(ctx)

	if _, _, err := clientSide.Recv(ctx); err != nil {
		t.Fatalf("recv Initialize: %v", err)
	}

	promiseRaw, _ := wire.EncodePromise(wire.Promise{ID: 9, ChannelName: "nope", Name: "x", Arg: wire.Undefined})
	if err := clientSide.Send(ctx, promiseRaw); err != nil {
		t.Fatalf("Send: %v", err)
	}

	respRaw, ok, err := clientSide.Recv(ctx)
	if err != nil || !ok {
		t.Fatalf("expected error response, err=%v ok=%v", err, ok)
	}
	f, err := wire.Decode(respRaw)
	if err != nil || f.Type() != wire.TypePromiseError {
		t.Fatalf("expected PromiseError, got type=%d err=%v", f.Type(), err)
	}
	pe, err := wire.DecodePromiseErrorFrame(f)
	if err != nil {
		t.Fatalf("DecodePromiseErrorFrame: %v", err)
	}
	if pe.Err.Name != "NotImplemented" {
		t.Errorf("Name = %q, want NotImplemented", pe.Err.Name)
	}
}

// blockingChannel never completes a call until its context is cancelled,
// for exercising scenario S3.
type blockingChannel struct {
	cancelled chan struct{}
}

func (c *blockingChannel) Call(ctx context.Context, command string, arg any) (any, error) {
	<-ctx.Done()
	close(c.cancelled)
	return nil, ctx.Err()
}

func (c *blockingChannel) Listen(ctx context.Context, event string, arg any) (channel.Subscription, error) {
	return nil, channel.ErrNotImplemented
}

func TestHandlePromise_CancelSuppressesResponse(t *testing.T) {
	serverSide, clientSide := newMockPair()
	e := New(serverSide, nil)
	bc := &blockingChannel{cancelled: make(chan struct{})}
	e.Register("stuck", bc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go e.Run(ctx)

	if _, _, err := clientSide.Recv(ctx); err != nil {
		t.Fatalf("recv Initialize: %v", err)
	}

	promiseRaw, _ := wire.EncodePromise(wire.Promise{ID: 5, ChannelName: "stuck", Name: "wait", Arg: wire.Undefined})
	if err := clientSide.Send(ctx, promiseRaw); err != nil {
		t.Fatalf("Send: %v", err)
	}

	cancelRaw, _ := wire.EncodePromiseCancel(wire.PromiseCancel{ID: 5})
	if err := clientSide.Send(ctx, cancelRaw); err != nil {
		t.Fatalf("Send cancel: %v", err)
	}

	select {
	case <-bc.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("call was never cancelled")
	}

	select {
	case raw := <-clientSide.inbox:
		f, _ := wire.Decode(raw)
		t.Fatalf("unexpected frame after cancel: type=%d", f.Type())
	case <-time.After(100 * time.Millisecond):
	}
}
