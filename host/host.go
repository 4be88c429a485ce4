// Package host provides implementations of the host application's
// connection URL: an in-memory one and one backed by an OBS-style
// service.json.
package host

import "sync"

// Memory keeps the connection URL in process. It is used when no service
// file is configured and in tests.
type Memory struct {
	mu     sync.Mutex
	url    string
	writes int
	reject bool
}

func NewMemory(url string) *Memory {
	return &Memory{url: url}
}

func (m *Memory) ConnectionURL() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url, m.url != ""
}

func (m *Memory) SetConnectionURL(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject {
		return false
	}
	m.url = url
	m.writes++
	return true
}

// Writes returns how many times the URL was set.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Reject makes subsequent SetConnectionURL calls fail.
func (m *Memory) Reject(reject bool) {
	m.mu.Lock()
	m.reject = reject
	m.mu.Unlock()
}
