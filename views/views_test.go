package views

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CERALIVE/obs-srtla-sender-plugin/netmon"
	"github.com/CERALIVE/obs-srtla-sender-plugin/relay"
	"github.com/CERALIVE/obs-srtla-sender-plugin/settings"
)

func TestLogBufferKeepsNewest(t *testing.T) {
	b := NewLogBuffer(3)
	for _, msg := range []string{"one", "two", "three", "four", "five"} {
		b.Log("info", msg)
	}

	tail := b.Tail(10)
	require.Len(t, tail, 3)
	assert.Contains(t, tail[0], "info three")
	assert.Contains(t, tail[2], "info five")

	tail = b.Tail(1)
	require.Len(t, tail, 1)
	assert.Contains(t, tail[0], "five")
}

func TestPortViewEditing(t *testing.T) {
	v := NewPortView(NewStyles())
	v.Reset(9000, 2000, "")
	assert.Equal(t, "9000", v.Input())

	v.Backspace()
	v.Backspace()
	v.Insert("5x1")
	assert.Equal(t, "9051", v.Input())

	v.MoveCursor(-10)
	v.Insert("1")
	assert.Equal(t, "19051", v.Input())

	v.Insert("7")
	assert.Equal(t, "19051", v.Input(), "input is capped at five digits")

	port, err := v.Port()
	require.NoError(t, err)
	assert.EqualValues(t, 19051, port)
}

func TestPortViewRejects(t *testing.T) {
	v := NewPortView(NewStyles())
	for _, input := range []string{"", "0", "70000"} {
		v.input = input
		v.cursor = len(input)
		_, err := v.Port()
		assert.Error(t, err, input)
	}
}

func TestPortViewPreview(t *testing.T) {
	v := NewPortView(NewStyles())
	v.SetDimensions(100, 30)
	v.Reset(9100, 3000, "cam")
	assert.Contains(t, v.Render(), "srt://localhost:9100?streamid=cam&latency=3000")
}

func TestStatusView(t *testing.T) {
	v := NewStatusView(NewStyles())
	s := settings.Defaults()
	s.ServerHost = "relay.example.com"
	v.SetRelay(relay.Handle{}, s)

	out := v.Render()
	assert.Contains(t, out, "STOPPED")
	assert.Contains(t, out, "relay.example.com:3000")
	assert.Contains(t, out, s.URL())

	v.SetRelay(relay.Handle{Running: true, PID: 77, BoundLocalPort: 9000, StartedAt: time.Now()}, s)
	v.SetHostURL("rtmp://ingest.example.com/live")
	out = v.Render()
	assert.Contains(t, out, "RUNNING")
	assert.Contains(t, out, "77")
	assert.Contains(t, out, "rtmp://ingest.example.com/live")
}

func TestInterfacesView(t *testing.T) {
	v := NewInterfacesView(NewStyles())
	assert.Contains(t, v.Render(), "placeholder")

	v.SetSnapshot(netmon.Snapshot{Interfaces: []netmon.InterfaceInfo{
		{Name: "eth0", IPv4: "192.168.1.20", CIDR: "192.168.1.20/24", Gateway: "192.168.1.1", IsUp: true, IsRunning: true, IsDefaultRoute: true, Class: netmon.Ethernet},
		{Name: "wwan0", IPv4: "10.64.0.2", IsUp: true, Class: netmon.Modem},
	}})
	out := v.Render()
	assert.Contains(t, out, "192.168.1.20/24")
	assert.Contains(t, out, "active")
	assert.Contains(t, out, "no carrier")
}

func TestDetailsView(t *testing.T) {
	v := NewDetailsView(NewStyles())
	v.SetDimensions(100, 40)
	v.SetInterface(netmon.InterfaceInfo{Name: "wlan0", IPv4: "172.20.10.3", Class: netmon.Wireless})
	out := v.Render()
	assert.Contains(t, out, "wlan0")
	assert.Contains(t, out, "172.20.10.3")
	assert.Contains(t, out, "Unknown")
}
