package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CERALIVE/obs-srtla-sender-plugin/netmon"
	"github.com/CERALIVE/obs-srtla-sender-plugin/reconcile"
	"github.com/CERALIVE/obs-srtla-sender-plugin/relay"
	"github.com/CERALIVE/obs-srtla-sender-plugin/views"
)

const (
	screenDashboard = "dashboard"
	screenDetails   = "details"
	screenPort      = "port"
)

// Model is the terminal interface state
type Model struct {
	currentScreen string
	width         int
	height        int
	frame         int
	selectedIndex int
	notice        string
	err           error
	busy          bool

	ctrl    *relay.Controller
	engine  *reconcile.Engine
	monitor *netmon.Monitor
	host    reconcile.Host
	logs    *views.LogBuffer

	styles         *views.Styles
	statusView     *views.StatusView
	interfacesView *views.InterfacesView
	detailsView    *views.DetailsView
	portView       *views.PortView
}

type tickMsg struct{}

// actionMsg reports the outcome of a relay or sync action run off the
// update loop.
type actionMsg struct {
	notice string
	err    error
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func newModel(ctrl *relay.Controller, engine *reconcile.Engine, monitor *netmon.Monitor, h reconcile.Host, logs *views.LogBuffer) *Model {
	styles := views.NewStyles()
	return &Model{
		currentScreen:  screenDashboard,
		ctrl:           ctrl,
		engine:         engine,
		monitor:        monitor,
		host:           h,
		logs:           logs,
		styles:         styles,
		statusView:     views.NewStatusView(styles),
		interfacesView: views.NewInterfacesView(styles),
		detailsView:    views.NewDetailsView(styles),
		portView:       views.NewPortView(styles),
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.frame++
		if n := len(m.monitor.Current().Interfaces); m.selectedIndex >= n && n > 0 {
			m.selectedIndex = n - 1
		}
		return m, tick()

	case actionMsg:
		m.busy = false
		m.notice = msg.notice
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch m.currentScreen {
		case screenPort:
			return m.updatePort(msg)
		case screenDetails:
			switch msg.String() {
			case "enter", "esc", "q":
				m.currentScreen = screenDashboard
			}
			return m, nil
		default:
			return m.updateDashboard(msg)
		}
	}
	return m, nil
}

func (m *Model) updateDashboard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ifaces := m.monitor.Current().Interfaces

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.selectedIndex > 0 {
			m.selectedIndex--
		}
	case "down", "j":
		if m.selectedIndex < len(ifaces)-1 {
			m.selectedIndex++
		}
	case "enter":
		if m.selectedIndex < len(ifaces) {
			m.detailsView.SetInterface(ifaces[m.selectedIndex])
			m.currentScreen = screenDetails
		}
	case "s":
		if m.busy {
			return m, nil
		}
		m.busy = true
		return m, m.toggleRelay()
	case "r":
		s := m.ctrl.Settings()
		port := s.LocalPort
		if h := m.ctrl.Handle(); h.Running {
			port = h.BoundLocalPort
		}
		m.portView.Reset(port, s.LatencyMs, s.StreamID)
		m.currentScreen = screenPort
	case "t":
		return m, func() tea.Msg {
			if m.engine.SyncToExternal() {
				return actionMsg{notice: "Host connection URL updated"}
			}
			return actionMsg{notice: "Host already has the current URL"}
		}
	case "f":
		return m, func() tea.Msg {
			if m.engine.SyncFromExternal() {
				return actionMsg{notice: "Settings updated from host"}
			}
			return actionMsg{notice: "Settings already match the host"}
		}
	}
	return m, nil
}

func (m *Model) toggleRelay() tea.Cmd {
	return func() tea.Msg {
		if m.ctrl.IsRunning() {
			m.ctrl.Stop()
			return actionMsg{notice: "Relay stopped"}
		}
		if err := m.ctrl.Start(); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{notice: fmt.Sprintf("Relay started on port %d", m.ctrl.Handle().BoundLocalPort)}
	}
}

func (m *Model) updatePort(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.currentScreen = screenDashboard
	case tea.KeyBackspace:
		m.portView.Backspace()
	case tea.KeyLeft:
		m.portView.MoveCursor(-1)
	case tea.KeyRight:
		m.portView.MoveCursor(1)
	case tea.KeyRunes:
		m.portView.Insert(string(msg.Runes))
	case tea.KeyEnter:
		port, err := m.portView.Port()
		if err != nil {
			m.err = err
			return m, nil
		}
		m.currentScreen = screenDashboard
		m.busy = true
		return m, func() tea.Msg {
			if err := m.ctrl.RestartWithPort(port); err != nil {
				return actionMsg{err: err}
			}
			if m.engine.Enabled() {
				m.engine.SyncToExternal()
			}
			return actionMsg{notice: fmt.Sprintf("Relay restarted on port %d", port)}
		}
	}
	return m, nil
}

// View implements tea.Model
func (m *Model) View() string {
	switch m.currentScreen {
	case screenDetails:
		m.detailsView.SetDimensions(m.width, m.height)
		return m.detailsView.Render()
	case screenPort:
		m.portView.SetDimensions(m.width, m.height)
		return m.portView.Render()
	default:
		return m.renderDashboard()
	}
}

func (m *Model) renderDashboard() string {
	url, _ := m.host.ConnectionURL()
	m.statusView.SetFrame(m.frame)
	m.statusView.SetRelay(m.ctrl.Handle(), m.ctrl.Settings())
	m.statusView.SetHostURL(url)

	m.interfacesView.SetSnapshot(m.monitor.Current())
	m.interfacesView.SetSelectedIndex(m.selectedIndex)
	m.interfacesView.SetDimensions(m.width, 8)

	var message string
	switch {
	case m.err != nil:
		message = m.styles.Error.Render(m.err.Error())
	case m.busy:
		message = m.styles.Warn.Render("Working...")
	case m.notice != "":
		message = m.styles.Info.Render(m.notice)
	}

	startKey := "Start"
	if m.ctrl.IsRunning() {
		startKey = "Stop"
	}
	help := m.styles.Help.Copy().
		Width(max(m.width-4, 20)).
		Render(m.styles.RenderKeys(
			"s", startKey,
			"r", "Restart on port",
			"t", "Sync to host",
			"f", "Sync from host",
			"↵", "Details",
			"q", "Quit",
		))

	top := lipgloss.JoinVertical(
		lipgloss.Left,
		m.styles.RenderBanner(),
		m.statusView.Render(),
		"",
		m.interfacesView.Render(),
		"",
		message,
	)

	used := lipgloss.Height(top) + lipgloss.Height(help)
	logs := m.styles.RenderLogs(m.logs, m.width, m.height-used-2)

	return lipgloss.JoinVertical(lipgloss.Left, top, logs, help)
}
