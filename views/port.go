package views

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/CERALIVE/obs-srtla-sender-plugin/srturl"
)

// PortView is the dialog used to restart the relay on another local port
type PortView struct {
	styles    *Styles
	width     int
	height    int
	input     string
	cursor    int
	latencyMs int
	streamID  string
}

// NewPortView creates a new port dialog
func NewPortView(styles *Styles) *PortView {
	return &PortView{
		styles: styles,
	}
}

// SetDimensions updates the view dimensions
func (v *PortView) SetDimensions(width, height int) {
	v.width = width
	v.height = height
}

// Reset loads the current port into the input and moves the cursor to its
// end. latencyMs and streamID are used for the URL preview.
func (v *PortView) Reset(port uint16, latencyMs int, streamID string) {
	v.input = strconv.Itoa(int(port))
	v.cursor = len(v.input)
	v.latencyMs = latencyMs
	v.streamID = streamID
}

// Input returns the text being edited.
func (v *PortView) Input() string {
	return v.input
}

// Insert adds digits at the cursor; anything else is ignored.
func (v *PortView) Insert(s string) {
	for _, r := range s {
		if r < '0' || r > '9' || len(v.input) >= 5 {
			continue
		}
		v.input = v.input[:v.cursor] + string(r) + v.input[v.cursor:]
		v.cursor++
	}
}

// Backspace deletes the character before the cursor.
func (v *PortView) Backspace() {
	if v.cursor == 0 {
		return
	}
	v.input = v.input[:v.cursor-1] + v.input[v.cursor:]
	v.cursor--
}

// MoveCursor moves the cursor by delta, clamped to the input.
func (v *PortView) MoveCursor(delta int) {
	v.cursor += delta
	if v.cursor < 0 {
		v.cursor = 0
	}
	if v.cursor > len(v.input) {
		v.cursor = len(v.input)
	}
}

// Port parses the input. Zero and values above 65535 are rejected.
func (v *PortView) Port() (uint16, error) {
	n, err := strconv.ParseUint(v.input, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid port %q", v.input)
	}
	return uint16(n), nil
}

// Render generates the view
func (v *PortView) Render() string {
	var content strings.Builder
	content.WriteString(v.styles.DialogText.Copy().Bold(true).Render("Restart on Local Port"))
	content.WriteString("\n\n")

	before := v.input[:v.cursor]
	after := v.input[v.cursor:]
	content.WriteString(v.styles.PortInput.Render(before + "│" + after))
	content.WriteString("\n\n")

	if port, err := v.Port(); err != nil {
		content.WriteString(v.styles.Error.Render(err.Error()))
	} else {
		content.WriteString(lipgloss.JoinHorizontal(
			lipgloss.Left,
			v.styles.DialogText.Copy().Foreground(primaryColor).Render("URL: "),
			v.styles.DialogText.Render(srturl.Build(port, v.latencyMs, v.streamID, srturl.DefaultLatency)),
		))
	}
	content.WriteString("\n\n")
	content.WriteString(v.styles.RenderKeys("↵", "Restart", "esc", "Cancel"))

	dialog := v.styles.DialogBox.Render(content.String())

	fullContent := lipgloss.JoinVertical(
		lipgloss.Center,
		v.styles.RenderBanner(),
		"\n",
		dialog,
	)

	return lipgloss.Place(
		v.width,
		v.height,
		lipgloss.Center,
		lipgloss.Center,
		fullContent,
	)
}
