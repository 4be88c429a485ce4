package views

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/CERALIVE/obs-srtla-sender-plugin/relay"
	"github.com/CERALIVE/obs-srtla-sender-plugin/settings"
)

// StatusView shows the relay state and its configuration
type StatusView struct {
	styles   *Styles
	frame    int
	handle   relay.Handle
	settings settings.Relay
	hostURL  string
}

// NewStatusView creates a new status view
func NewStatusView(styles *Styles) *StatusView {
	return &StatusView{
		styles: styles,
	}
}

// SetFrame updates the animation frame
func (v *StatusView) SetFrame(frame int) {
	v.frame = frame
}

// SetRelay updates the displayed relay state
func (v *StatusView) SetRelay(h relay.Handle, s settings.Relay) {
	v.handle = h
	v.settings = s
}

// SetHostURL updates the connection URL the host currently has
func (v *StatusView) SetHostURL(url string) {
	v.hostURL = url
}

// Render generates the view
func (v *StatusView) Render() string {
	state := v.styles.Stopped.Render("STOPPED")
	if v.handle.Running {
		state = v.styles.Running.Render("RUNNING")
	}

	server := v.settings.ServerHost
	if server == "" {
		server = v.styles.Warn.Render("not configured")
	} else {
		server += ":" + strconv.Itoa(int(v.settings.ServerPort))
	}

	port := strconv.Itoa(int(v.settings.LocalPort))
	if !v.settings.UseFixedLocalPort {
		port = "random"
	}
	if v.handle.Running {
		port = strconv.Itoa(int(v.handle.BoundLocalPort))
	}

	lines := []string{
		v.formatInfoLine("State", state),
		v.formatInfoLine("Server", server),
		v.formatInfoLine("Local port", port),
		v.formatInfoLine("Latency", fmt.Sprintf("%d ms", v.settings.LatencyMs)),
		v.formatInfoLine("Stream ID", orNone(v.settings.StreamID)),
		v.formatInfoLine("Auto start", yesNo(v.settings.AutoStart)),
		v.formatInfoLine("Sync", yesNo(v.settings.BidirectionalSync)),
		v.formatInfoLine("URL", v.settings.URL()),
	}
	if v.hostURL != "" && v.hostURL != v.settings.URL() {
		lines = append(lines, v.formatInfoLine("Host URL", v.styles.Warn.Render(v.hostURL)))
	}
	if v.handle.Running {
		lines = append(lines,
			v.formatInfoLine("PID", strconv.Itoa(v.handle.PID)),
			v.formatInfoLine("Uptime", time.Since(v.handle.StartedAt).Round(time.Second).String()),
		)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		v.styles.Info.Render("Relay"),
		strings.Join(lines, "\n"),
		v.renderPulse(),
	)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func (v *StatusView) formatInfoLine(label, value string) string {
	paddedLabel := v.styles.InfoLabel.Render(label + ":")
	return lipgloss.JoinHorizontal(lipgloss.Left, paddedLabel, " ", value)
}

// renderPulse draws a rolling bar while the relay runs and a flat one
// otherwise.
func (v *StatusView) renderPulse() string {
	barWidth := 24
	var parts []string
	if !v.handle.Running {
		style := lipgloss.NewStyle().Foreground(dimColor)
		return style.Render(strings.Repeat("█", barWidth))
	}

	peakPos := v.frame % barWidth
	for i := 0; i < barWidth; i++ {
		dist := abs(i - peakPos)
		if dist > barWidth/2 {
			dist = barWidth - dist
		}
		style := lipgloss.NewStyle().Foreground(pulseColors[dist%len(pulseColors)])
		parts = append(parts, style.Render("█"))
	}
	return strings.Join(parts, "")
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
