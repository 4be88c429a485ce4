// Package netmon discovers the machine's usable IPv4 addresses, publishes
// snapshots when the active address set changes, and renders snapshots into
// the address bank file read by the sender.
package netmon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// PollInterval is how often the monitor re-enumerates interfaces.
const PollInterval = 5 * time.Second

// ChangeFunc is called with the newly published snapshot. It runs on the
// monitor goroutine and must return quickly.
type ChangeFunc func(Snapshot)

// Monitor polls the network interfaces and notifies subscribers when the
// active address set changes.
type Monitor struct {
	logger   *zap.Logger
	detect   func() Snapshot
	interval time.Duration

	running *atomic.Bool
	cancel  context.CancelFunc

	mu          sync.Mutex
	current     Snapshot
	subscribers []ChangeFunc
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDetector replaces system enumeration, mostly for tests.
func WithDetector(fn func() Snapshot) Option {
	return func(m *Monitor) {
		m.detect = fn
	}
}

// WithInterval overrides PollInterval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewMonitor creates a stopped monitor.
func NewMonitor(logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		logger:   logger.Named("netmon"),
		interval: PollInterval,
		running:  atomic.NewBool(false),
	}
	m.detect = func() Snapshot { return DetectSystem(m.logger) }
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the polling loop. Calling Start on a running monitor does
// nothing.
func (m *Monitor) Start() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.logger.Info("network monitor started", zap.Duration("interval", m.interval))
	go m.loop(ctx)
}

// Stop asks the polling loop to exit. It does not wait for it.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}

	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.logger.Info("network monitor stopped")
}

// IsRunning reports whether the polling loop is active.
func (m *Monitor) IsRunning() bool {
	return m.running.Load()
}

// Current returns a copy of the last published snapshot.
func (m *Monitor) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// Detect performs one synchronous enumeration without publishing it.
func (m *Monitor) Detect() Snapshot {
	return m.detect()
}

// OnChange registers fn. Subscribers are called in registration order.
func (m *Monitor) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.mu.Unlock()
}

// Poll runs a single detect-compare-publish cycle and reports whether
// subscribers were notified.
func (m *Monitor) Poll() bool {
	next := m.detect()

	m.mu.Lock()
	if !Changed(m.current, next) {
		m.mu.Unlock()
		return false
	}
	prev := m.current
	m.current = next.Clone()
	subscribers := make([]ChangeFunc, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	m.logger.Info("active addresses changed",
		zap.Strings("previous", prev.ActiveAddresses()),
		zap.Strings("current", next.ActiveAddresses()))

	for _, fn := range subscribers {
		fn(next.Clone())
	}
	return true
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			m.Poll()
		}
	}
}
