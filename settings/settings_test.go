package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Equal(t, uint16(3000), d.ServerPort)
	assert.Equal(t, uint16(9000), d.LocalPort)
	assert.Equal(t, 2000, d.LatencyMs)
	assert.True(t, d.BidirectionalSync)
	assert.True(t, d.UseFixedLocalPort)
	assert.False(t, d.AutoStart)
	assert.Empty(t, d.ServerHost)
}

func TestNormalize(t *testing.T) {
	r := Relay{LatencyMs: 500, BidirectionalSync: true}.Normalize()
	assert.Equal(t, 2000, r.LatencyMs)
	assert.True(t, r.UseFixedLocalPort)
	assert.Equal(t, uint16(9000), r.LocalPort)
	assert.Equal(t, uint16(3000), r.ServerPort)

	r = Relay{LatencyMs: 8000, LocalPort: 9100, ServerPort: 5000}.Normalize()
	assert.Equal(t, 8000, r.LatencyMs)
	assert.False(t, r.UseFixedLocalPort)
	assert.Equal(t, uint16(9100), r.LocalPort)
}

func TestURL(t *testing.T) {
	r := Defaults()
	r.StreamID = "cam"
	assert.Equal(t, "srt://localhost:9000?streamid=cam&latency=2000", r.URL())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "settings.yaml")
	store := NewFileStore(path)

	r, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), r)

	r.ServerHost = "relay.example.com"
	r.StreamID = "cam1"
	r.LatencyMs = 3500
	existed, err := store.Save(r)
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = store.Save(r)
	require.NoError(t, err)
	assert.True(t, existed)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, r, loaded)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "srtla_server: relay.example.com")
}

func TestFileStoreRepairsRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("srtla_server: a.b\nsrtla_latency: 99999\nsrtla_bidirectional_sync: true\nsrtla_use_fixed_port: false\n"), 0o600))

	r, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "a.b", r.ServerHost)
	assert.Equal(t, 2000, r.LatencyMs)
	assert.True(t, r.UseFixedLocalPort)
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("srtla_port: [not a port"), 0o600))

	r, err := NewFileStore(path).Load()
	require.Error(t, err)
	assert.Equal(t, Defaults(), r)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	existed, err := store.Save(Defaults())
	require.NoError(t, err)
	assert.False(t, existed)
	existed, err = store.Save(Defaults())
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, 2, store.Saves())
}
