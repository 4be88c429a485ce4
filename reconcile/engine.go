// Package reconcile keeps the relay settings and the host application's
// connection URL consistent. Whichever direction runs last wins for the
// fields it touches.
package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CERALIVE/obs-srtla-sender-plugin/relay"
	"github.com/CERALIVE/obs-srtla-sender-plugin/settings"
	"github.com/CERALIVE/obs-srtla-sender-plugin/srturl"
)

// Host is the application that owns the outbound connection URL.
type Host interface {
	// ConnectionURL returns the configured URL; ok is false when none is
	// available.
	ConnectionURL() (url string, ok bool)
	// SetConnectionURL asks the host to adopt url and reports success.
	SetConnectionURL(url string) bool
}

// Relay is the part of relay.Controller the engine drives.
type Relay interface {
	Settings() settings.Relay
	IsRunning() bool
	AdoptLocalPort(port uint16) relay.Effects
	AdoptLatency(ms int) (relay.Effects, error)
	AdoptStreamID(id string) relay.Effects
	RestartWithPort(port uint16) error
}

// Engine reconciles a Relay against a Host.
type Engine struct {
	logger *zap.Logger
	relay  Relay
	host   Host

	mu sync.Mutex
}

func NewEngine(logger *zap.Logger, r Relay, h Host) *Engine {
	return &Engine{
		logger: logger.Named("sync"),
		relay:  r,
		host:   h,
	}
}

// Enabled reports whether bidirectional sync is on.
func (e *Engine) Enabled() bool {
	return e.relay.Settings().BidirectionalSync
}

// Publish pushes the URL for s to the host. It is installed as the
// controller's publisher.
func (e *Engine) Publish(s settings.Relay) bool {
	return e.push(s.URL())
}

// SyncToExternal makes the host adopt the URL built from the current
// settings. It returns false when the host already has that URL.
func (e *Engine) SyncToExternal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.push(e.relay.Settings().URL())
}

func (e *Engine) push(url string) bool {
	if current, ok := e.host.ConnectionURL(); ok && current == url {
		return false
	}
	if !e.host.SetConnectionURL(url) {
		e.logger.Warn("host rejected connection url", zap.String("url", url))
		return false
	}
	e.logger.Info("host connection url updated", zap.String("url", url))
	return true
}

// SyncFromExternal applies the host URL to the settings and reports whether
// anything changed. A host URL that is not srt:// is replaced with the one
// built from the settings, which also counts as a change.
func (e *Engine) SyncFromExternal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	url, ok := e.host.ConnectionURL()
	if !ok || url == "" {
		return false
	}

	cur := e.relay.Settings()
	if !srturl.HasScheme(url) {
		e.logger.Info("host url is not srt, replacing it", zap.String("url", url))
		e.host.SetConnectionURL(cur.URL())
		return true
	}

	p, ok := srturl.Parse(url, cur.LocalPort)
	if !ok {
		return false
	}

	changed := false
	if p.Port != 0 && p.Port != cur.LocalPort {
		e.logger.Info("adopting local port from host", zap.Uint16("from", cur.LocalPort), zap.Uint16("to", p.Port))
		e.relay.AdoptLocalPort(p.Port)
		changed = true
		if e.relay.IsRunning() {
			if err := e.relay.RestartWithPort(p.Port); err != nil {
				e.logger.Error("restart on port change", zap.Error(err))
			}
		}
	}

	if p.LatencyMs != cur.LatencyMs && p.LatencyMs != srturl.DefaultLatency {
		if _, err := e.relay.AdoptLatency(p.LatencyMs); err != nil {
			e.logger.Warn("ignoring host latency", zap.Int("latency_ms", p.LatencyMs), zap.Error(err))
		} else {
			e.logger.Info("adopting latency from host", zap.Int("from", cur.LatencyMs), zap.Int("to", p.LatencyMs))
			changed = true
		}
	}

	if p.StreamID != "" && p.StreamID != cur.StreamID {
		e.logger.Info("adopting stream id from host")
		e.relay.AdoptStreamID(p.StreamID)
		changed = true
	}

	return changed
}

// Reconcile runs host-to-settings and then settings-to-host.
func (e *Engine) Reconcile() bool {
	from := e.SyncFromExternal()
	to := e.SyncToExternal()
	return from || to
}

// WatchStartup reconciles up to checks times, once per interval, while sync
// is enabled and the host has a URL. It returns when done or when ctx ends.
func (e *Engine) WatchStartup(ctx context.Context, checks int, interval time.Duration) {
	if checks <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	done := 0
	for done < checks {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !e.Enabled() {
			continue
		}
		if url, ok := e.host.ConnectionURL(); !ok || url == "" {
			continue
		}
		done++
		changed := e.Reconcile()
		e.logger.Debug("startup sync check", zap.Int("check", done), zap.Bool("changed", changed))
	}
	e.logger.Info("startup synchronization complete")
}

// Watch polls the host URL and applies it when first seen and whenever it
// changes, as long as sync is enabled. It returns when ctx ends.
func (e *Engine) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		url, ok := e.host.ConnectionURL()
		if !ok || url == last {
			continue
		}
		last = url
		if !e.Enabled() {
			continue
		}

		e.logger.Info("host connection url changed", zap.String("url", url))
		if e.SyncFromExternal() {
			last, _ = e.host.ConnectionURL()
		}
	}
}
