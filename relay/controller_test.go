package relay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CERALIVE/obs-srtla-sender-plugin/netmon"
	"github.com/CERALIVE/obs-srtla-sender-plugin/settings"
)

type fakeSupervisor struct {
	mu sync.Mutex

	pid          int
	spawnErr     error
	terminateErr error

	spawns          [][]string
	logPaths        []string
	terminatedIDs   []int
	terminatedNames []string
	signals         []os.Signal
}

func (f *fakeSupervisor) Spawn(argv []string, logPath string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return -1, f.spawnErr
	}
	f.spawns = append(f.spawns, append([]string(nil), argv...))
	f.logPaths = append(f.logPaths, logPath)
	return f.pid, nil
}

func (f *fakeSupervisor) TerminateByID(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminatedIDs = append(f.terminatedIDs, pid)
	return f.terminateErr
}

func (f *fakeSupervisor) TerminateByName(pattern string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminatedNames = append(f.terminatedNames, pattern)
	return 1, f.terminateErr
}

func (f *fakeSupervisor) SignalByName(pattern string, sig os.Signal) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return 1, nil
}

type fakeResolver struct {
	addrs map[string]string
	calls []string
}

func (f *fakeResolver) Resolve(_ context.Context, host string) (string, error) {
	f.calls = append(f.calls, host)
	if addr, ok := f.addrs[host]; ok {
		return addr, nil
	}
	return "", errors.New("no such host")
}

type blockingResolver struct {
	entered chan struct{}
	release chan struct{}
	addr    string
}

func (r *blockingResolver) Resolve(ctx context.Context, _ string) (string, error) {
	close(r.entered)
	select {
	case <-r.release:
		return r.addr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type detectFunc func() netmon.Snapshot

func (f detectFunc) Detect() netmon.Snapshot { return f() }

func staticDetector(addrs ...string) detectFunc {
	return func() netmon.Snapshot {
		var snap netmon.Snapshot
		for i, a := range addrs {
			snap.Interfaces = append(snap.Interfaces, netmon.InterfaceInfo{
				Name:      "eth" + string(rune('0'+i)),
				IPv4:      a,
				IsUp:      true,
				IsRunning: true,
				Class:     netmon.Ethernet,
			})
		}
		return snap
	}
}

type fixture struct {
	ctrl     *Controller
	sup      *fakeSupervisor
	resolver *fakeResolver
	store    *settings.MemoryStore
	addrFile string
}

func newFixture(t *testing.T, detector Detector, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		sup:      &fakeSupervisor{pid: 4242},
		resolver: &fakeResolver{addrs: map[string]string{"relay.example.com": "203.0.113.5"}},
		store:    settings.NewMemoryStore(),
		addrFile: filepath.Join(t.TempDir(), "srtla_relay_temp", "ip_bank.txt"),
	}
	cfg := Config{
		Command:     []string{"/usr/bin/srtla_send"},
		ProcessName: "srtla_send",
		AddressFile: f.addrFile,
		LogFile:     "/tmp/srtla.log",
	}
	f.ctrl = NewController(zap.NewNop(), cfg, f.store, detector, f.sup, f.resolver, opts...)
	return f
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestStartRequiresServer(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))

	err := f.ctrl.Start()
	require.ErrorIs(t, err, ErrServerNotConfigured)
	assert.False(t, f.ctrl.IsRunning())
	assert.Empty(t, f.sup.spawns)
	assert.NoFileExists(t, f.addrFile)
	assert.Equal(t, -1, f.ctrl.Handle().PID)
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	f.ctrl.SetServerHost("relay.example.com")

	require.NoError(t, f.ctrl.Start())
	first := f.ctrl.Handle()
	require.NoError(t, f.ctrl.Start())

	assert.Len(t, f.sup.spawns, 1)
	assert.Equal(t, first, f.ctrl.Handle())
	assert.True(t, first.Running)
	assert.Equal(t, 4242, first.PID)
	assert.NotEmpty(t, first.LaunchID)
}

func TestStartCommandLine(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2", "192.168.1.5"))
	f.ctrl.SetServerHost("relay.example.com")
	f.ctrl.SetServerPort(5000)

	require.NoError(t, f.ctrl.Start())
	require.Len(t, f.sup.spawns, 1)
	assert.Equal(t, []string{"/usr/bin/srtla_send", "9000", "203.0.113.5", "5000", f.addrFile}, f.sup.spawns[0])
	assert.Equal(t, "/tmp/srtla.log", f.sup.logPaths[0])
	assert.Equal(t, "10.0.0.2\n192.168.1.5\n", readFile(t, f.addrFile))
	assert.Equal(t, uint16(9000), f.ctrl.Handle().BoundLocalPort)
}

func TestStartKeepsUnresolvableHost(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	f.ctrl.SetServerHost("unknown.example.com")

	require.NoError(t, f.ctrl.Start())
	assert.Equal(t, "unknown.example.com", f.sup.spawns[0][2])
}

func TestStartSkipsResolutionForLiterals(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	f.ctrl.SetServerHost("198.51.100.7")

	require.NoError(t, f.ctrl.Start())
	assert.Equal(t, "198.51.100.7", f.sup.spawns[0][2])
	assert.Empty(t, f.resolver.calls)
}

func TestStartRandomPortWhenNotFixed(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"), WithRandomPort(func() uint16 { return 23456 }))
	f.ctrl.SetServerHost("relay.example.com")
	f.ctrl.SetBidirectionalSync(false)
	f.ctrl.SetUseFixedLocalPort(false)

	require.NoError(t, f.ctrl.Start())
	assert.Equal(t, "23456", f.sup.spawns[0][1])
	assert.Equal(t, uint16(23456), f.ctrl.Handle().BoundLocalPort)
	assert.Equal(t, uint16(9000), f.ctrl.Settings().LocalPort)
}

func TestRandomLocalPortRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		p := randomLocalPort()
		assert.GreaterOrEqual(t, int(p), RandomPortMin)
		assert.LessOrEqual(t, int(p), RandomPortMax)
	}
}

func TestStartWritesPlaceholderWithoutInterfaces(t *testing.T) {
	f := newFixture(t, staticDetector())
	f.ctrl.SetServerHost("relay.example.com")

	require.NoError(t, f.ctrl.Start())
	assert.Equal(t, netmon.PlaceholderAddress+"\n", readFile(t, f.addrFile))
}

func TestStartAbortsOnAddressFileError(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	f.ctrl.cfg.AddressFile = filepath.Join(blocker, "ip_bank.txt")
	f.ctrl.SetServerHost("relay.example.com")

	require.Error(t, f.ctrl.Start())
	assert.False(t, f.ctrl.IsRunning())
	assert.Empty(t, f.sup.spawns)
}

func TestStartAbortsOnSpawnError(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	f.sup.spawnErr = errors.New("exec format error")
	f.ctrl.SetServerHost("relay.example.com")

	require.Error(t, f.ctrl.Start())
	assert.False(t, f.ctrl.IsRunning())
}

func TestStopByID(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	f.ctrl.SetServerHost("relay.example.com")
	require.NoError(t, f.ctrl.Start())

	f.ctrl.Stop()
	f.ctrl.Stop()
	assert.Equal(t, []int{4242}, f.sup.terminatedIDs)
	assert.Empty(t, f.sup.terminatedNames)
	assert.False(t, f.ctrl.IsRunning())
	assert.Equal(t, stoppedHandle(), f.ctrl.Handle())
}

func TestStopByNameWhenPIDUnknown(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	f.sup.pid = 0
	f.ctrl.SetServerHost("relay.example.com")
	require.NoError(t, f.ctrl.Start())
	assert.Equal(t, -1, f.ctrl.Handle().PID)
	assert.True(t, f.ctrl.IsRunning())

	f.ctrl.Stop()
	assert.Equal(t, []string{"srtla_send"}, f.sup.terminatedNames)
	assert.False(t, f.ctrl.IsRunning())
}

func TestStopResetsEvenWhenTerminationFails(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	f.sup.terminateErr = errors.New("no such process")
	f.ctrl.SetServerHost("relay.example.com")
	require.NoError(t, f.ctrl.Start())

	f.ctrl.Stop()
	assert.False(t, f.ctrl.IsRunning())
}

func TestRestartWithPort(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	f.ctrl.SetServerHost("relay.example.com")
	require.NoError(t, f.ctrl.Start())

	require.NoError(t, f.ctrl.RestartWithPort(9500))
	assert.Len(t, f.sup.spawns, 2)
	assert.Equal(t, []int{4242}, f.sup.terminatedIDs)
	assert.Equal(t, "9500", f.sup.spawns[1][1])
	assert.Equal(t, uint16(9500), f.ctrl.Settings().LocalPort)
	assert.True(t, f.ctrl.IsRunning())

	stored, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint16(9500), stored.LocalPort)
}

func TestOnNetworkChange(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))

	f.ctrl.OnNetworkChange(staticDetector("10.0.0.3")())
	assert.Equal(t, "10.0.0.3\n", readFile(t, f.addrFile))
	assert.Empty(t, f.sup.signals)

	f.ctrl.SetServerHost("relay.example.com")
	require.NoError(t, f.ctrl.Start())
	f.ctrl.OnNetworkChange(netmon.Snapshot{})
	assert.Empty(t, readFile(t, f.addrFile))
	assert.Equal(t, []os.Signal{syscall.SIGHUP}, f.sup.signals)
	assert.Empty(t, f.sup.terminatedIDs)
	assert.True(t, f.ctrl.IsRunning())
}

func TestNetworkChangeDuringStart(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	detect := detectFunc(func() netmon.Snapshot {
		close(entered)
		<-release
		return staticDetector("10.0.0.1")()
	})
	f := newFixture(t, detect)
	f.ctrl.SetServerHost("198.51.100.7")

	started := make(chan error, 1)
	go func() { started <- f.ctrl.Start() }()
	<-entered

	changed := make(chan struct{})
	go func() {
		f.ctrl.OnNetworkChange(staticDetector("10.0.0.2")())
		close(changed)
	}()

	select {
	case <-changed:
		t.Fatal("address file rewritten while start was preparing it")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-started)
	<-changed

	assert.Equal(t, "10.0.0.2\n", readFile(t, f.addrFile))
	assert.Equal(t, []os.Signal{syscall.SIGHUP}, f.sup.signals)
}

func TestResolutionDoesNotBlockController(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	r := &blockingResolver{entered: make(chan struct{}), release: make(chan struct{}), addr: "203.0.113.9"}
	f.ctrl.resolver = r
	f.ctrl.SetServerHost("slow.example.com")

	started := make(chan error, 1)
	go func() { started <- f.ctrl.Start() }()
	<-r.entered

	done := make(chan bool)
	go func() {
		f.ctrl.OnNetworkChange(staticDetector("10.0.0.3")())
		done <- f.ctrl.IsRunning()
	}()

	select {
	case running := <-done:
		assert.False(t, running)
	case <-time.After(time.Second):
		t.Fatal("controller blocked while resolving the server host")
	}

	close(r.release)
	require.NoError(t, <-started)
	assert.Equal(t, "203.0.113.9", f.sup.spawns[0][2])
	assert.Equal(t, "10.0.0.2\n", readFile(t, f.addrFile))
}

func TestStartUsesHostChangedDuringResolution(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	r := &blockingResolver{entered: make(chan struct{}), release: make(chan struct{}), addr: "203.0.113.9"}
	f.ctrl.resolver = r
	f.ctrl.SetServerHost("slow.example.com")

	started := make(chan error, 1)
	go func() { started <- f.ctrl.Start() }()
	<-r.entered
	f.ctrl.SetServerHost("198.51.100.7")
	close(r.release)

	require.NoError(t, <-started)
	assert.Equal(t, "198.51.100.7", f.sup.spawns[0][2])
}

func TestSetterEffects(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	var pushed []settings.Relay
	f.ctrl.SetPublisher(func(r settings.Relay) bool {
		pushed = append(pushed, r)
		return true
	})

	eff := f.ctrl.SetServerHost("relay.example.com")
	assert.Equal(t, Effects{Changed: true, Persisted: true}, eff)
	assert.Empty(t, pushed)

	eff = f.ctrl.SetServerHost("relay.example.com")
	assert.Equal(t, Effects{}, eff)

	eff = f.ctrl.SetStreamID("cam1")
	assert.Equal(t, Effects{Changed: true, Persisted: true, URLPushed: true}, eff)
	require.Len(t, pushed, 1)
	assert.Equal(t, "cam1", pushed[0].StreamID)

	eff, err := f.ctrl.SetLatency(3000)
	require.NoError(t, err)
	assert.True(t, eff.URLPushed)

	_, err = f.ctrl.SetLatency(500)
	require.ErrorIs(t, err, ErrLatencyOutOfRange)
	assert.Equal(t, 3000, f.ctrl.Settings().LatencyMs)

	eff = f.ctrl.SetLocalPort(9100)
	assert.True(t, eff.URLPushed)

	f.ctrl.SetBidirectionalSync(false)
	pushedBefore := len(pushed)
	eff = f.ctrl.SetStreamID("cam2")
	assert.Equal(t, Effects{Changed: true, Persisted: true}, eff)
	assert.Len(t, pushed, pushedBefore)

	eff = f.ctrl.SetBidirectionalSync(true)
	assert.True(t, eff.URLPushed)

	stored, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, f.ctrl.Settings(), stored)
}

func TestFixedPortInvariant(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	check := func() {
		s := f.ctrl.Settings()
		if s.BidirectionalSync {
			assert.True(t, s.UseFixedLocalPort)
		}
	}

	f.ctrl.SetBidirectionalSync(false)
	check()
	f.ctrl.SetUseFixedLocalPort(false)
	check()
	assert.False(t, f.ctrl.Settings().UseFixedLocalPort)

	eff := f.ctrl.SetBidirectionalSync(true)
	assert.True(t, eff.Changed)
	check()

	eff = f.ctrl.SetUseFixedLocalPort(false)
	assert.False(t, eff.Changed)
	check()

	f.ctrl.SetLocalPort(9200)
	check()
	_, _ = f.ctrl.SetLatency(4000)
	check()
	f.ctrl.SetUseFixedLocalPort(false)
	check()
}

func TestAutoStartHooks(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	f.ctrl.SetServerHost("relay.example.com")

	require.NoError(t, f.ctrl.OnStreamingStarting())
	assert.False(t, f.ctrl.IsRunning())

	f.ctrl.SetAutoStart(true)
	require.NoError(t, f.ctrl.OnStreamingStarting())
	assert.True(t, f.ctrl.IsRunning())
	require.NoError(t, f.ctrl.OnStreamingStarting())
	assert.Len(t, f.sup.spawns, 1)

	f.ctrl.OnStreamingStopping()
	assert.False(t, f.ctrl.IsRunning())
}

func TestCloseRemovesAddressFile(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	f.ctrl.SetServerHost("relay.example.com")
	require.NoError(t, f.ctrl.Start())
	require.FileExists(t, f.addrFile)

	f.ctrl.Close()
	assert.False(t, f.ctrl.IsRunning())
	assert.NoFileExists(t, f.addrFile)
	assert.NoDirExists(t, filepath.Dir(f.addrFile))
}

func TestCloseDropsLateNetworkChange(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	f.ctrl.SetServerHost("relay.example.com")
	require.NoError(t, f.ctrl.Start())

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	monitor := netmon.NewMonitor(zap.NewNop(), netmon.WithDetector(func() netmon.Snapshot {
		once.Do(func() { close(entered) })
		<-release
		return staticDetector("10.0.0.9")()
	}))
	delivered := make(chan struct{})
	monitor.OnChange(f.ctrl.OnNetworkChange)
	monitor.OnChange(func(netmon.Snapshot) { close(delivered) })

	monitor.Start()
	<-entered
	monitor.Stop()
	f.ctrl.Close()
	close(release)
	<-delivered

	assert.NoFileExists(t, f.addrFile)
	assert.NoDirExists(t, filepath.Dir(f.addrFile))
	assert.Empty(t, f.sup.signals)
	assert.ErrorIs(t, f.ctrl.Start(), ErrClosed)
	assert.Len(t, f.sup.spawns, 1)
}

func TestAdoptSettersDoNotPublish(t *testing.T) {
	f := newFixture(t, staticDetector("10.0.0.2"))
	pushed := 0
	f.ctrl.SetPublisher(func(settings.Relay) bool {
		pushed++
		return true
	})

	f.ctrl.SetBidirectionalSync(false)
	f.ctrl.SetUseFixedLocalPort(false)
	eff := f.ctrl.AdoptLocalPort(9300)
	assert.Equal(t, Effects{Changed: true, Persisted: true}, eff)
	assert.True(t, f.ctrl.Settings().UseFixedLocalPort)
	assert.Equal(t, Effects{}, f.ctrl.AdoptLocalPort(0))

	f.ctrl.SetBidirectionalSync(true)
	require.Equal(t, 1, pushed)

	eff, err := f.ctrl.AdoptLatency(2500)
	require.NoError(t, err)
	assert.Equal(t, Effects{Changed: true, Persisted: true}, eff)
	_, err = f.ctrl.AdoptLatency(9000)
	assert.ErrorIs(t, err, ErrLatencyOutOfRange)

	eff = f.ctrl.AdoptStreamID("cam")
	assert.Equal(t, Effects{Changed: true, Persisted: true}, eff)
	assert.Equal(t, 1, pushed)

	s := f.ctrl.Settings()
	assert.Equal(t, uint16(9300), s.LocalPort)
	assert.Equal(t, 2500, s.LatencyMs)
	assert.Equal(t, "cam", s.StreamID)
}

func TestEndToEnd(t *testing.T) {
	var mu sync.Mutex
	addrs := []string{"10.0.0.2"}
	detect := detectFunc(func() netmon.Snapshot {
		mu.Lock()
		defer mu.Unlock()
		return staticDetector(addrs...)()
	})

	f := newFixture(t, detect)
	monitor := netmon.NewMonitor(zap.NewNop(), netmon.WithDetector(detect), netmon.WithInterval(10*time.Millisecond))
	monitor.OnChange(f.ctrl.OnNetworkChange)

	require.ErrorIs(t, f.ctrl.Start(), ErrServerNotConfigured)
	assert.False(t, f.ctrl.IsRunning())

	f.ctrl.SetServerHost("relay.example.com")
	require.NoError(t, f.ctrl.Start())
	assert.True(t, f.ctrl.IsRunning())
	assert.Equal(t, "10.0.0.2\n", readFile(t, f.addrFile))

	// Publish the initial snapshot, then switch networks.
	monitor.Poll()
	mu.Lock()
	addrs = []string{"10.0.0.2", "172.20.10.3"}
	mu.Unlock()
	require.True(t, monitor.Poll())

	assert.Equal(t, "10.0.0.2\n172.20.10.3\n", readFile(t, f.addrFile))
	assert.NotEmpty(t, f.sup.signals)
	assert.Empty(t, f.sup.terminatedIDs)

	f.ctrl.Stop()
	assert.False(t, f.ctrl.IsRunning())
	assert.Equal(t, []int{4242}, f.sup.terminatedIDs)
}
