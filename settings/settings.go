// Package settings holds the relay configuration record and its durable
// store.
package settings

import "github.com/CERALIVE/obs-srtla-sender-plugin/srturl"

const (
	DefaultServerPort = 3000
	DefaultLocalPort  = 9000
)

// Relay is the structured relay configuration. When BidirectionalSync is
// set, UseFixedLocalPort is always set too.
type Relay struct {
	ServerHost        string `yaml:"srtla_server" json:"server_host"`
	ServerPort        uint16 `yaml:"srtla_port" json:"server_port"`
	StreamID          string `yaml:"srtla_stream_id" json:"stream_id"`
	LocalPort         uint16 `yaml:"srtla_local_port" json:"local_port"`
	UseFixedLocalPort bool   `yaml:"srtla_use_fixed_port" json:"use_fixed_local_port"`
	LatencyMs         int    `yaml:"srtla_latency" json:"latency_ms"`
	AutoStart         bool   `yaml:"srtla_auto_start" json:"auto_start"`
	BidirectionalSync bool   `yaml:"srtla_bidirectional_sync" json:"bidirectional_sync"`
}

// Defaults returns the record used on first run.
func Defaults() Relay {
	return Relay{
		ServerPort:        DefaultServerPort,
		LocalPort:         DefaultLocalPort,
		UseFixedLocalPort: true,
		LatencyMs:         srturl.DefaultLatency,
		BidirectionalSync: true,
	}
}

// ValidLatency reports whether ms is within the accepted latency range.
func ValidLatency(ms int) bool {
	return ms >= srturl.MinLatency && ms <= srturl.MaxLatency
}

// Normalize repairs a loaded record: it restores the default latency when
// the stored one is out of range, fills in zero ports and enforces the
// fixed-port invariant.
func (r Relay) Normalize() Relay {
	if !ValidLatency(r.LatencyMs) {
		r.LatencyMs = srturl.DefaultLatency
	}
	if r.ServerPort == 0 {
		r.ServerPort = DefaultServerPort
	}
	if r.LocalPort == 0 {
		r.LocalPort = DefaultLocalPort
	}
	if r.BidirectionalSync {
		r.UseFixedLocalPort = true
	}
	return r
}

// URL renders the canonical connection URL for the record.
func (r Relay) URL() string {
	return srturl.Build(r.LocalPort, r.LatencyMs, r.StreamID, srturl.DefaultLatency)
}
