// Package srturl converts between the sender connection URL
// (srt://localhost:<port>?streamid=<id>&latency=<ms>) and its fields.
package srturl

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	Scheme = "srt://"

	// DefaultLatency is assumed when a URL carries no usable latency.
	DefaultLatency = 2000
	MinLatency     = 1000
	MaxLatency     = 8000
)

// Params are the fields carried by a connection URL.
type Params struct {
	Port      uint16
	LatencyMs int
	StreamID  string
}

// streamIDEscaper percent-encodes the characters that would otherwise end or
// corrupt the streamid value inside the query.
var streamIDEscaper = strings.NewReplacer("%", "%25", "&", "%26")

// Build renders the canonical URL. The latency parameter is always present:
// latencyMs when it is at least MinLatency, fallback otherwise. '%' and '&'
// in streamID are percent-encoded; everything else is written as is.
func Build(port uint16, latencyMs int, streamID string, fallback int) string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString("localhost:")
	b.WriteString(strconv.Itoa(int(port)))

	sep := "?"
	if streamID != "" {
		b.WriteString("?streamid=")
		b.WriteString(streamIDEscaper.Replace(streamID))
		sep = "&"
	}

	latency := latencyMs
	if latency < MinLatency {
		latency = fallback
	}
	b.WriteString(sep)
	b.WriteString("latency=")
	b.WriteString(strconv.Itoa(latency))
	return b.String()
}

// HasScheme reports whether raw is an srt:// URL.
func HasScheme(raw string) bool {
	return strings.HasPrefix(raw, Scheme)
}

// Parse extracts the URL fields. ok is false when raw is empty, is not an
// srt:// URL or has no host:port segment; Port then echoes currentPort.
// A missing, zero or malformed port keeps currentPort. Malformed query
// parameters are skipped. The stream id is percent-decoded; an invalid
// escape leaves it as written.
func Parse(raw string, currentPort uint16) (p Params, ok bool) {
	p = Params{Port: currentPort, LatencyMs: DefaultLatency}
	if raw == "" || !HasScheme(raw) {
		return p, false
	}

	rest := strings.TrimPrefix(raw, Scheme)
	hostPort, query, _ := strings.Cut(rest, "?")
	hostPort = strings.TrimSuffix(hostPort, "/")
	if hostPort == "" {
		return p, false
	}

	if i := strings.LastIndexByte(hostPort, ':'); i >= 0 {
		if port, err := strconv.ParseUint(hostPort[i+1:], 10, 16); err == nil && port > 0 {
			p.Port = uint16(port)
		}
	}

	for _, param := range strings.Split(query, "&") {
		key, value, found := strings.Cut(param, "=")
		if !found || key == "" {
			continue
		}
		switch strings.ToLower(key) {
		case "latency", "delay":
			if ms, err := strconv.Atoi(value); err == nil {
				p.LatencyMs = ms
			}
		case "streamid":
			if id, err := url.PathUnescape(value); err == nil {
				p.StreamID = id
			} else {
				p.StreamID = value
			}
		}
	}
	return p, true
}
