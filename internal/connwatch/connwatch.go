// Package connwatch monitors a peer connection's reachability with
// exponential backoff and reconnects it in the background.
//
// Each Watcher drives a single peer connection through two phases:
//  1. Startup: exponential backoff (2s, 4s, 8s, ... capped at 60s)
//  2. Background: periodic reconnect attempts with state-transition
//     callbacks once startup retries are exhausted or a connection
//     later drops.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DialFunc attempts to (re)establish a peer connection. Returning nil
// means the connection is up and serviced until it ends on its own
// (the returned error, if any, then drives the next reconnect cycle).
type DialFunc func(ctx context.Context) error

// BackoffConfig controls the exponential backoff behavior.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry (default: 2s).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth (default: 60s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry (default: 2.0).
	Multiplier float64

	// MaxRetries is the maximum number of startup dial attempts (default: 10).
	MaxRetries int

	// PollInterval is the background retry interval after startup
	// retries are exhausted or after a connection drops (default: 60s).
	PollInterval time.Duration

	// DialTimeout limits how long each individual dial attempt may take (default: 10s).
	DialTimeout time.Duration
}

// DefaultBackoffConfig returns 2s, 4s, 8s, 16s, 32s, 60s (capped), with
// 10 startup retries and a 60-second background retry interval.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		DialTimeout:  10 * time.Second,
	}
}

// WatcherConfig configures a single peer watcher.
type WatcherConfig struct {
	// Name identifies the peer for logging (e.g. a peer id).
	Name string

	// Dial connects (or reconnects) to the peer. Must be safe to call
	// repeatedly; each call owns the connection until it ends.
	Dial DialFunc

	// Backoff controls retry timing. Use DefaultBackoffConfig() as a starting point.
	Backoff BackoffConfig

	// OnReady is called when the peer transitions from disconnected to
	// connected. Called in a separate goroutine; must not block indefinitely. Optional.
	OnReady func()

	// OnDown is called when a previously-connected peer drops.
	// Called in a separate goroutine; must not block indefinitely. Optional.
	OnDown func(err error)

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// PeerStatus is the connection status of a watched peer, suitable for
// JSON serialization in health endpoints.
type PeerStatus struct {
	Name      string    `json:"name"`
	Connected bool      `json:"connected"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher drives one peer connection's dial/reconnect lifecycle.
type Watcher struct {
	config    WatcherConfig
	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsConnected reports whether the peer is currently connected.
func (w *Watcher) IsConnected() bool {
	return w.connected.Load()
}

// LastError returns the most recent dial error, or nil if connected.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns the current connection status.
func (w *Watcher) Status() PeerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := PeerStatus{
		Name:      w.config.Name,
		Connected: w.connected.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Wait blocks until the watcher goroutine exits (context cancelled or Stop called).
func (w *Watcher) Wait() {
	<-w.done
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

// run is the main goroutine. Phase 1: startup dial with exponential backoff.
// Phase 2: periodic background reconnect attempts with state-transition callbacks.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	cfg := w.config.Backoff
	logger := w.config.Logger

	// Phase 1: startup dial with exponential backoff.
	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := w.dial(ctx)
		w.recordResult(err)

		if err == nil {
			w.connected.Store(true)
			logger.Info("peer connected",
				"peer", w.config.Name,
				"after_attempts", attempt,
			)
			if w.config.OnReady != nil {
				go w.config.OnReady()
			}
			break
		}

		if attempt == cfg.MaxRetries {
			logger.Info("startup connect failed, entering background retry",
				"peer", w.config.Name,
				"attempts", attempt,
				"error", err,
			)
			break
		}

		logger.Debug("startup dial failed, retrying",
			"peer", w.config.Name,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"next_delay", delay.String(),
			"error", err,
		)

		if !sleepCtx(ctx, delay) {
			return // context cancelled
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	// Phase 2: background periodic reconnect attempts.
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.dial(ctx)
			w.recordResult(err)
			wasConnected := w.connected.Load()

			if wasConnected && err != nil {
				w.connected.Store(false)
				logger.Info("peer connection dropped",
					"peer", w.config.Name,
					"error", err,
				)
				if w.config.OnDown != nil {
					go w.config.OnDown(err)
				}
			} else if !wasConnected && err == nil {
				w.connected.Store(true)
				logger.Info("peer reconnected",
					"peer", w.config.Name,
				)
				if w.config.OnReady != nil {
					go w.config.OnReady()
				}
			} else if !wasConnected && err != nil {
				logger.Debug("peer still unreachable",
					"peer", w.config.Name,
					"error", err,
				)
			}
		}
	}
}

// dial calls the configured DialFunc with a timeout.
func (w *Watcher) dial(ctx context.Context) error {
	timeout := w.config.Backoff.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return w.config.Dial(dialCtx)
}

// recordResult stores the dial outcome under the mutex.
func (w *Watcher) recordResult(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager coordinates multiple peer watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates a connection watch manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch registers and starts a new peer watcher. The watcher runs in a
// background goroutine until ctx is cancelled or Stop is called.
//
// Panics if Name is empty or Dial is nil — these are programming errors
// that should be caught during development, not silently ignored at runtime.
// Zero-value BackoffConfig fields are replaced with defaults.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Dial == nil {
		panic("connwatch: WatcherConfig.Dial must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}

	// Apply defaults for zero-value backoff fields.
	defaults := DefaultBackoffConfig()
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff.InitialDelay = defaults.InitialDelay
	}
	if cfg.Backoff.MaxDelay <= 0 {
		cfg.Backoff.MaxDelay = defaults.MaxDelay
	}
	if cfg.Backoff.Multiplier <= 0 {
		cfg.Backoff.Multiplier = defaults.Multiplier
	}
	if cfg.Backoff.MaxRetries <= 0 {
		cfg.Backoff.MaxRetries = defaults.MaxRetries
	}
	if cfg.Backoff.PollInterval <= 0 {
		cfg.Backoff.PollInterval = defaults.PollInterval
	}
	if cfg.Backoff.DialTimeout <= 0 {
		cfg.Backoff.DialTimeout = defaults.DialTimeout
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[cfg.Name] = w
	m.mu.Unlock()

	return w
}

// Status returns the connection status of all watched peers.
func (m *Manager) Status() map[string]PeerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]PeerStatus, len(m.watchers))
	for name, w := range m.watchers {
		status[name] = w.Status()
	}
	return status
}

// Stop shuts down all watchers and waits for their goroutines to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
