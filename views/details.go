package views

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/CERALIVE/obs-srtla-sender-plugin/netmon"
)

// DetailsView shows everything known about one interface
type DetailsView struct {
	styles *Styles
	width  int
	height int
	iface  netmon.InterfaceInfo
}

// NewDetailsView creates a new details view
func NewDetailsView(styles *Styles) *DetailsView {
	return &DetailsView{
		styles: styles,
	}
}

// SetDimensions updates the view dimensions
func (v *DetailsView) SetDimensions(width, height int) {
	v.width = width
	v.height = height
}

// SetInterface updates the interface being displayed
func (v *DetailsView) SetInterface(iface netmon.InterfaceInfo) {
	v.iface = iface
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Render generates the view
func (v *DetailsView) Render() string {
	var content strings.Builder

	headerStyle := v.styles.DialogText.Copy().
		Bold(true).
		Align(lipgloss.Center).
		Foreground(primaryColor)

	labelStyle := v.styles.DialogText.Copy().
		Width(14).
		Align(lipgloss.Right).
		Foreground(primaryColor)

	valueStyle := v.styles.DialogText.Copy().
		Width(30).
		Align(lipgloss.Left)

	row := func(label, value string) {
		content.WriteString(lipgloss.JoinHorizontal(
			lipgloss.Left,
			labelStyle.Render(label),
			"  ",
			valueStyle.Render(value),
		))
		content.WriteString("\n")
	}

	content.WriteString(headerStyle.Render(v.iface.Name))
	content.WriteString("\n\n")
	row("Type", v.iface.Class.String())
	row("IP Address", v.iface.IPv4)
	row("CIDR", orUnknown(v.iface.CIDR))
	row("Gateway", orUnknown(v.iface.Gateway))
	row("MAC Address", orUnknown(v.iface.MAC))

	content.WriteString("\n")
	content.WriteString(headerStyle.Render("Link State"))
	content.WriteString("\n\n")
	row("Up", yesNo(v.iface.IsUp))
	row("Running", yesNo(v.iface.IsRunning))
	row("Default route", yesNo(v.iface.IsDefaultRoute))
	row("Bonded", yesNo(v.iface.Active()))

	helpBox := v.styles.Help.Copy().
		Width(40).
		Margin(1, 0).
		Render(v.styles.RenderKeys("↵/esc", "Back"))

	finalContent := lipgloss.JoinVertical(
		lipgloss.Center,
		v.styles.DialogBox.Render(strings.TrimRight(content.String(), "\n")),
		helpBox,
	)

	return lipgloss.Place(
		v.width,
		v.height,
		lipgloss.Center,
		lipgloss.Center,
		finalContent,
	)
}
