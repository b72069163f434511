package muxclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nugget/chanmux/internal/channel"
	"github.com/nugget/chanmux/internal/wire"
)

// mockTransport mirrors the loopback double used in internal/muxserver's
// tests and in the teacher's internal/mcp/client_test.go.
type mockTransport struct {
	mu     sync.Mutex
	sent   chan []byte
	inbox  chan []byte
	closed bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{sent: make(chan []byte, 64), inbox: make(chan []byte, 64)}
}

func (m *mockTransport) Send(ctx context.Context, raw []byte) error {
	cp := append([]byte(nil), raw...)
	select {
	case m.sent <- cp:
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

func (m *mockTransport) deliver(raw []byte) {
	m.inbox <- raw
}

func TestCall_BuffersBeforeInitialize(t *testing.T) {
	tr := newMockTransport()
	e := New(tr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go e.Run(ctx)

	ch := e.GetChannel("echo")

	results := make(chan any, 1)
	go func() {
		v, err := ch.Call(ctx, "marco", nil)
		if err != nil {
			t.Errorf("Call err = %v", err)
		}
		results <- v
	}()

	// Nothing should be on the wire yet: engine is Uninitialized.
	select {
	case raw := <-tr.sent:
		t.Fatalf("unexpected send before Initialize: %v", raw)
	case <-time.After(50 * time.Millisecond):
	}

	initRaw, _ := wire.EncodeInitialize()
	tr.deliver(initRaw)

	var sentRaw []byte
	select {
	case sentRaw = <-tr.sent:
	case <-time.After(time.Second):
		t.Fatal("expected buffered Promise to flush after Initialize")
	}
	f, err := wire.Decode(sentRaw)
	if err != nil || f.Type() != wire.TypePromise {
		t.Fatalf("expected Promise frame, type=%d err=%v", f.Type(), err)
	}
	p, err := wire.DecodePromise(f)
	if err != nil || p.ChannelName != "echo" || p.Name != "marco" {
		t.Fatalf("Promise = %+v, err=%v", p, err)
	}

	successRaw, _ := wire.EncodePromiseSuccess(wire.PromiseSuccess{ID: p.ID, Data: wire.TextBody("polo")})
	tr.deliver(successRaw)

	select {
	case v := <-results:
		if v != "polo" {
			t.Errorf("v = %v, want polo", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Call never returned")
	}
}

func TestCall_StructuredError(t *testing.T) {
	tr := newMockTransport()
	e := New(tr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go e.Run(ctx)

	initRaw, _ := wire.EncodeInitialize()
	tr.deliver(initRaw)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.GetChannel("echo").Call(ctx, "boom", nil)
		errCh <- err
	}()

	sentRaw := <-tr.sent
	f, _ := wire.Decode(sentRaw)
	p, _ := wire.DecodePromise(f)

	errRaw, _ := wire.EncodePromiseError(wire.PromiseError{
		ID: p.ID,
		Err: wire.StructuredError{
			Message: "nice error",
			Name:    "Error",
			Stack:   []string{"at x"},
		},
	})
	tr.deliver(errRaw)

	select {
	case err := <-errCh:
		var re *channel.RemoteError
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if r, ok := err.(*channel.RemoteError); ok {
			re = r
		} else {
			t.Fatalf("err is %T, want *channel.RemoteError", err)
		}
		if re.Message != "nice error" {
			t.Errorf("Message = %q", re.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("Call never returned")
	}
}

func TestCall_CancelSendsPromiseCancel(t *testing.T) {
	tr := newMockTransport()
	e := New(tr, nil)
	runCtx, cancelRun := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelRun()
	go e.Run(runCtx)

	initRaw, _ := wire.EncodeInitialize()
	tr.deliver(initRaw)

	callCtx, cancelCall := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.GetChannel("stuck").Call(callCtx, "wait", nil)
		done <- err
	}()

	<-tr.sent // the Promise frame
	cancelCall()

	select {
	case err := <-done:
		if err != channel.ErrCancelled {
			t.Errorf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Call never returned after cancel")
	}

	select {
	case raw := <-tr.sent:
		f, _ := wire.Decode(raw)
		if f.Type() != wire.TypePromiseCancel {
			t.Fatalf("Type() = %d, want PromiseCancel", f.Type())
		}
	case <-time.After(time.Second):
		t.Fatal("expected PromiseCancel on the wire")
	}
}

func TestListen_EventsDeliveredInOrder(t *testing.T) {
	tr := newMockTransport()
	e := New(tr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go e.Run(ctx)

	initRaw, _ := wire.EncodeInitialize()
	tr.deliver(initRaw)

	sub, err := e.GetChannel("pinger").Listen(ctx, "pong", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	sentRaw := <-tr.sent
	f, _ := wire.Decode(sentRaw)
	if f.Type() != wire.TypeEventListen {
		t.Fatalf("Type() = %d, want EventListen", f.Type())
	}
	l, _ := wire.DecodeEventListen(f)

	for _, word := range []string{"hello", "world"} {
		fireRaw, _ := wire.EncodeEventFire(wire.EventFire{ID: l.ID, Data: wire.TextBody(word)})
		tr.deliver(fireRaw)
	}

	for _, want := range []string{"hello", "world"} {
		select {
		case v := <-sub.C():
			if v != want {
				t.Errorf("got %v, want %v", v, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("did not receive %q", want)
		}
	}

	sub.Close()
	disposeRaw := <-tr.sent
	df, _ := wire.Decode(disposeRaw)
	if df.Type() != wire.TypeEventDispose {
		t.Fatalf("Type() = %d, want EventDispose", df.Type())
	}
}
