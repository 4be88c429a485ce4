package relay

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/CERALIVE/obs-srtla-sender-plugin/settings"
)

// Effects reports what a setter did.
type Effects struct {
	// Changed is set when the stored value differs from before the call.
	Changed bool `json:"changed"`
	// Persisted is set when the new record reached the store.
	Persisted bool `json:"persisted"`
	// URLPushed is set when the host adopted a new connection URL.
	URLPushed bool `json:"url_pushed"`
}

// update applies fn to a copy of the settings and persists the result when
// it differs. With pushURL set and sync enabled, the publisher runs after
// the lock is released.
func (c *Controller) update(field string, pushURL bool, fn func(r *settings.Relay)) Effects {
	c.mu.Lock()
	next := c.settings
	fn(&next)
	if next.BidirectionalSync {
		next.UseFixedLocalPort = true
	}
	if next == c.settings {
		c.mu.Unlock()
		return Effects{}
	}

	c.settings = next
	eff := Effects{Changed: true, Persisted: c.persistLocked()}
	publish := c.publish
	c.mu.Unlock()

	c.logger.Debug("setting changed", zap.String("field", field))
	if pushURL && next.BidirectionalSync && publish != nil {
		eff.URLPushed = publish(next)
	}
	return eff
}

func (c *Controller) SetServerHost(host string) Effects {
	host = strings.TrimSpace(host)
	return c.update("server_host", false, func(r *settings.Relay) {
		r.ServerHost = host
	})
}

func (c *Controller) SetServerPort(port uint16) Effects {
	if port == 0 {
		return Effects{}
	}
	return c.update("server_port", false, func(r *settings.Relay) {
		r.ServerPort = port
	})
}

func (c *Controller) SetStreamID(id string) Effects {
	return c.setStreamID(id, true)
}

func (c *Controller) setStreamID(id string, push bool) Effects {
	return c.update("stream_id", push, func(r *settings.Relay) {
		r.StreamID = id
	})
}

// SetLocalPort changes the configured local port. A running sender keeps
// its bound port until the next start.
func (c *Controller) SetLocalPort(port uint16) Effects {
	if port == 0 {
		return Effects{}
	}
	return c.update("local_port", true, func(r *settings.Relay) {
		r.LocalPort = port
	})
}

// SetUseFixedLocalPort toggles fixed-port mode. Turning it off is refused
// while bidirectional sync is enabled.
func (c *Controller) SetUseFixedLocalPort(fixed bool) Effects {
	return c.update("use_fixed_local_port", fixed, func(r *settings.Relay) {
		r.UseFixedLocalPort = fixed
	})
}

// SetLatency changes the latency; values outside 1000–8000 ms are rejected.
func (c *Controller) SetLatency(ms int) (Effects, error) {
	return c.setLatency(ms, true)
}

func (c *Controller) setLatency(ms int, push bool) (Effects, error) {
	if !settings.ValidLatency(ms) {
		return Effects{}, fmt.Errorf("%w: %d ms", ErrLatencyOutOfRange, ms)
	}
	return c.update("latency_ms", push, func(r *settings.Relay) {
		r.LatencyMs = ms
	}), nil
}

func (c *Controller) SetAutoStart(enabled bool) Effects {
	return c.update("auto_start", false, func(r *settings.Relay) {
		r.AutoStart = enabled
	})
}

// SetBidirectionalSync toggles sync. Enabling it forces fixed-port mode and
// pushes the current URL to the host.
func (c *Controller) SetBidirectionalSync(enabled bool) Effects {
	return c.update("bidirectional_sync", enabled, func(r *settings.Relay) {
		r.BidirectionalSync = enabled
	})
}

// The Adopt setters store values taken from the host's connection URL. They
// never push a URL back, so the host is not asked to adopt what it just
// reported.

// AdoptLocalPort stores port as the fixed local port.
func (c *Controller) AdoptLocalPort(port uint16) Effects {
	if port == 0 {
		return Effects{}
	}
	return c.update("local_port", false, func(r *settings.Relay) {
		r.LocalPort = port
		r.UseFixedLocalPort = true
	})
}

func (c *Controller) AdoptLatency(ms int) (Effects, error) {
	return c.setLatency(ms, false)
}

func (c *Controller) AdoptStreamID(id string) Effects {
	return c.setStreamID(id, false)
}
