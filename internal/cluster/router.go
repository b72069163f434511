package cluster

import (
	"context"
	"sync"
	"time"
)

// Router is the caller-supplied strategy a routed channel consults for
// every call and every listen: given the command/event name and its
// argument, pick which connected peer should handle it.
type Router interface {
	RouteCall(ctx context.Context, command string, arg any) (peerID string, err error)
	RouteEvent(ctx context.Context, event string, arg any) (peerID string, err error)
}

// RouterFunc adapts two plain functions to the Router interface.
type RouterFunc struct {
	Call  func(ctx context.Context, command string, arg any) (string, error)
	Event func(ctx context.Context, event string, arg any) (string, error)
}

func (f RouterFunc) RouteCall(ctx context.Context, command string, arg any) (string, error) {
	return f.Call(ctx, command, arg)
}

func (f RouterFunc) RouteEvent(ctx context.Context, event string, arg any) (string, error) {
	return f.Event(ctx, event, arg)
}

// Decision records one routing outcome, for operators inspecting why a
// call landed on a given peer. Grounded on internal/router.Decision's
// audit-trail shape, re-pointed from model selection to peer selection.
type Decision struct {
	Timestamp time.Time
	Kind      string // "call" or "event"
	Name      string
	PeerID    string
	Err       string
}

// AuditingRouter wraps a Router and records every decision it makes,
// bounded to the most recent MaxLog entries. Grounded on
// internal/router.Router's recordDecision/GetAuditLog pair.
type AuditingRouter struct {
	inner  Router
	maxLog int

	mu  sync.RWMutex
	log []Decision
}

// NewAuditingRouter wraps inner. maxLog <= 0 defaults to 1000.
func NewAuditingRouter(inner Router, maxLog int) *AuditingRouter {
	if maxLog <= 0 {
		maxLog = 1000
	}
	return &AuditingRouter{inner: inner, maxLog: maxLog}
}

func (a *AuditingRouter) RouteCall(ctx context.Context, command string, arg any) (string, error) {
	peerID, err := a.inner.RouteCall(ctx, command, arg)
	a.record(Decision{Timestamp: time.Now(), Kind: "call", Name: command, PeerID: peerID, Err: errString(err)})
	return peerID, err
}

func (a *AuditingRouter) RouteEvent(ctx context.Context, event string, arg any) (string, error) {
	peerID, err := a.inner.RouteEvent(ctx, event, arg)
	a.record(Decision{Timestamp: time.Now(), Kind: "event", Name: event, PeerID: peerID, Err: errString(err)})
	return peerID, err
}

func (a *AuditingRouter) record(d Decision) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.log) >= a.maxLog {
		a.log = a.log[1:]
	}
	a.log = append(a.log, d)
}

// GetAuditLog returns the most recent limit decisions (all of them if
// limit <= 0).
func (a *AuditingRouter) GetAuditLog(limit int) []Decision {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if limit <= 0 || limit > len(a.log) {
		limit = len(a.log)
	}
	start := len(a.log) - limit
	out := make([]Decision, limit)
	copy(out, a.log[start:])
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
