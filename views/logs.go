package views

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

type logLine struct {
	at      time.Time
	level   string
	message string
}

// LogBuffer keeps the most recent log entries for the log pane. It is safe
// for concurrent use and satisfies logging.Sink.
type LogBuffer struct {
	mu    sync.Mutex
	lines []logLine
	limit int
}

// NewLogBuffer creates a buffer holding at most limit entries.
func NewLogBuffer(limit int) *LogBuffer {
	if limit <= 0 {
		limit = 100
	}
	return &LogBuffer{limit: limit}
}

func (b *LogBuffer) Log(level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, logLine{at: time.Now(), level: level, message: message})
	if over := len(b.lines) - b.limit; over > 0 {
		b.lines = append(b.lines[:0], b.lines[over:]...)
	}
}

// Tail returns up to n of the newest entries, oldest first.
func (b *LogBuffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := len(b.lines) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, len(b.lines)-start)
	for _, l := range b.lines[start:] {
		out = append(out, l.at.Format("15:04:05")+" "+l.level+" "+l.message)
	}
	return out
}

// RenderLogs renders the newest entries of b that fit in height lines.
func (s *Styles) RenderLogs(b *LogBuffer, width, height int) string {
	if height < 1 {
		height = 1
	}
	var rendered []string
	for _, line := range b.Tail(height) {
		style := s.DialogText
		switch {
		case strings.Contains(line, " error "), strings.Contains(line, " fatal "):
			style = s.Error
		case strings.Contains(line, " warn "):
			style = s.Warn
		}
		if width > 3 {
			line = truncate(line, width)
		}
		rendered = append(rendered, style.Render(line))
	}
	return lipgloss.JoinVertical(lipgloss.Left, s.Info.Render("Log"), strings.Join(rendered, "\n"))
}
