package views

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Core colors
var (
	primaryColor    = lipgloss.Color("#39ff14") // Bright digital green
	secondaryColor  = lipgloss.Color("#FFFFFF") // Pure white for labels
	accentColor     = lipgloss.Color("#39ff14")
	warnColor       = lipgloss.Color("#ffb000")
	errorColor      = lipgloss.Color("#ff3131")
	dimColor        = lipgloss.Color("#333333")
	backgroundColor = lipgloss.Color("#000000")

	// Activity bar gradient
	pulseColors = []lipgloss.Color{
		lipgloss.Color("#001100"),
		lipgloss.Color("#002200"),
		lipgloss.Color("#003300"),
		lipgloss.Color("#39ff14"),
		lipgloss.Color("#39ff14"),
		lipgloss.Color("#39ff14"),
		lipgloss.Color("#003300"),
		lipgloss.Color("#002200"),
	}
)

// Styles holds all the application styles
type Styles struct {
	Banner     lipgloss.Style
	Box        lipgloss.Style
	Info       lipgloss.Style
	InfoLabel  lipgloss.Style
	Help       lipgloss.Style
	DialogBox  lipgloss.Style
	PortInput  lipgloss.Style
	DialogText lipgloss.Style
	KeyStyle   lipgloss.Style
	DescStyle  lipgloss.Style
	Running    lipgloss.Style
	Stopped    lipgloss.Style
	Warn       lipgloss.Style
	Error      lipgloss.Style
}

// NewStyles creates a new Styles instance
func NewStyles() *Styles {
	s := &Styles{}

	s.Banner = lipgloss.NewStyle().
		Bold(true).
		Foreground(primaryColor).
		Background(backgroundColor)

	s.Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accentColor).
		Padding(0, 1).
		Width(50)

	s.Info = lipgloss.NewStyle().
		Foreground(primaryColor).
		Bold(true)

	s.InfoLabel = lipgloss.NewStyle().
		Foreground(secondaryColor).
		Width(15).
		Align(lipgloss.Right)

	s.Help = lipgloss.NewStyle().
		Foreground(secondaryColor).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accentColor).
		Padding(0, 1).
		Align(lipgloss.Center)

	s.DialogBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accentColor).
		Padding(1, 2).
		Width(60).
		Align(lipgloss.Center)

	s.PortInput = lipgloss.NewStyle().
		Foreground(primaryColor).
		Bold(true)

	s.DialogText = lipgloss.NewStyle().
		Foreground(secondaryColor)

	s.KeyStyle = lipgloss.NewStyle().
		Foreground(primaryColor)

	s.DescStyle = lipgloss.NewStyle().
		Foreground(secondaryColor)

	s.Running = lipgloss.NewStyle().
		Foreground(primaryColor).
		Bold(true)

	s.Stopped = lipgloss.NewStyle().
		Foreground(dimColor).
		Bold(true)

	s.Warn = lipgloss.NewStyle().
		Foreground(warnColor)

	s.Error = lipgloss.NewStyle().
		Foreground(errorColor).
		Bold(true)

	return s
}

// RenderBanner creates the standard banner
func (s *Styles) RenderBanner() string {
	banner := []string{
		"──────────────── SRTLA Sender ────────────────",
		lipgloss.NewStyle().Foreground(secondaryColor).Render("Bonded Uplink Relay"),
		"───────────────────────────────────────────────",
	}

	bannerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(primaryColor).
		Width(50).
		Align(lipgloss.Center)

	return lipgloss.JoinVertical(
		lipgloss.Center,
		bannerStyle.Render(banner[0]),
		bannerStyle.Render(banner[1]),
		bannerStyle.Render(banner[2]),
	)
}

// RenderKeys renders a key help line such as "s Start • q Quit".
func (s *Styles) RenderKeys(pairs ...string) string {
	var parts []string
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, s.KeyStyle.Render(pairs[i])+s.DescStyle.Render(" "+pairs[i+1]))
	}
	return strings.Join(parts, " • ")
}
