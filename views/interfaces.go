package views

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/CERALIVE/obs-srtla-sender-plugin/netmon"
)

// InterfacesView renders the detected interfaces as a table
type InterfacesView struct {
	styles        *Styles
	width         int
	height        int
	interfaces    []netmon.InterfaceInfo
	selectedIndex int
}

// NewInterfacesView creates a new interfaces view
func NewInterfacesView(styles *Styles) *InterfacesView {
	return &InterfacesView{
		styles: styles,
	}
}

// SetDimensions updates the view dimensions
func (v *InterfacesView) SetDimensions(width, height int) {
	v.width = width
	v.height = height
}

// SetSnapshot updates the list of interfaces
func (v *InterfacesView) SetSnapshot(snap netmon.Snapshot) {
	v.interfaces = snap.Interfaces
}

// SetSelectedIndex updates the selected row
func (v *InterfacesView) SetSelectedIndex(index int) {
	v.selectedIndex = index
}

func interfaceState(iface netmon.InterfaceInfo) string {
	switch {
	case iface.Active():
		return "active"
	case iface.IsUp:
		return "no carrier"
	default:
		return "down"
	}
}

// Render generates the view
func (v *InterfacesView) Render() string {
	title := v.styles.Info.Render("Uplinks")
	if len(v.interfaces) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left,
			title,
			v.styles.Warn.Render("No IPv4 interfaces detected, the sender will use the placeholder address"),
		)
	}

	var rows []table.Row
	for _, iface := range v.interfaces {
		addr := iface.CIDR
		if addr == "" {
			addr = iface.IPv4
		}
		gw := iface.Gateway
		if iface.IsDefaultRoute {
			gw += " *"
		}
		rows = append(rows, table.Row{
			truncate(iface.Name, 12),
			iface.Class.String(),
			addr,
			gw,
			interfaceState(iface),
		})
	}

	columns := []table.Column{
		{Title: "Interface", Width: 12},
		{Title: "Type", Width: 9},
		{Title: "Address", Width: 19},
		{Title: "Gateway", Width: 17},
		{Title: "State", Width: 10},
	}

	tableStyle := table.Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Align(lipgloss.Left),
		Selected: lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(lipgloss.Color("#000000")).
			Bold(true).
			Align(lipgloss.Left),
		Cell: lipgloss.NewStyle().
			Foreground(secondaryColor).
			Align(lipgloss.Left),
	}

	visibleRows := len(rows)
	if v.height > 0 && visibleRows > v.height {
		visibleRows = v.height
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(visibleRows),
		table.WithStyles(tableStyle),
	)
	if v.selectedIndex >= 0 && v.selectedIndex < len(rows) {
		t.SetCursor(v.selectedIndex)
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, t.View())
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
