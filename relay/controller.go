// Package relay supervises the srtla_send process: it builds its command
// line from the relay settings, hands it the current address bank, and
// asks it to reload that bank when the network changes.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CERALIVE/obs-srtla-sender-plugin/netmon"
	"github.com/CERALIVE/obs-srtla-sender-plugin/settings"
)

var (
	ErrServerNotConfigured = errors.New("srtla server not configured")
	ErrLatencyOutOfRange   = errors.New("latency out of range")
	ErrClosed              = errors.New("relay controller closed")
)

// Random local ports are drawn from this range when fixed-port mode is off.
const (
	RandomPortMin = 10000
	RandomPortMax = 65000
)

// Detector produces a fresh interface snapshot on demand.
type Detector interface {
	Detect() netmon.Snapshot
}

// Config holds the process-level parameters that are not part of the
// persisted relay settings.
type Config struct {
	// Command is the sender executable followed by any wrapper arguments.
	// The positional relay arguments are appended to it.
	Command []string
	// ProcessName is matched against command lines for name-based
	// termination and reload.
	ProcessName string
	AddressFile string
	LogFile     string
}

// Handle is the bookkeeping for the launched sender.
type Handle struct {
	Running        bool      `json:"running"`
	PID            int       `json:"pid"`
	BoundLocalPort uint16    `json:"bound_local_port"`
	LaunchID       string    `json:"launch_id,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
}

func stoppedHandle() Handle {
	return Handle{PID: -1}
}

// Controller owns the sender lifecycle and the relay settings record.
type Controller struct {
	logger     *zap.Logger
	cfg        Config
	store      settings.Store
	detector   Detector
	supervisor Supervisor
	resolver   Resolver

	randomPort     func() uint16
	resolveTimeout time.Duration

	mu       sync.Mutex
	settings settings.Relay
	handle   Handle
	publish  func(settings.Relay) bool
	closed   bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithRandomPort replaces the random local port source.
func WithRandomPort(fn func() uint16) Option {
	return func(c *Controller) {
		c.randomPort = fn
	}
}

// WithResolveTimeout bounds server host resolution at start.
func WithResolveTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.resolveTimeout = d
	}
}

// NewController loads the settings from store and returns a stopped
// controller. A store that fails to load leaves the defaults in place.
func NewController(logger *zap.Logger, cfg Config, store settings.Store, detector Detector, sup Supervisor, resolver Resolver, opts ...Option) *Controller {
	c := &Controller{
		logger:         logger.Named("relay"),
		cfg:            cfg,
		store:          store,
		detector:       detector,
		supervisor:     sup,
		resolver:       resolver,
		randomPort:     randomLocalPort,
		resolveTimeout: 5 * time.Second,
		handle:         stoppedHandle(),
	}
	for _, opt := range opts {
		opt(c)
	}

	loaded, err := store.Load()
	if err != nil {
		c.logger.Warn("load settings, using defaults", zap.Error(err))
	}
	c.settings = loaded.Normalize()
	return c
}

func randomLocalPort() uint16 {
	return uint16(RandomPortMin + rand.Intn(RandomPortMax-RandomPortMin+1))
}

// SetPublisher installs the function used to push the connection URL to
// the host after a URL-relevant setter runs with bidirectional sync on.
func (c *Controller) SetPublisher(fn func(settings.Relay) bool) {
	c.mu.Lock()
	c.publish = fn
	c.mu.Unlock()
}

// Settings returns a copy of the current settings.
func (c *Controller) Settings() settings.Relay {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Handle returns a copy of the process bookkeeping.
func (c *Controller) Handle() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle.Running
}

// Start launches the sender. It returns ErrServerNotConfigured without side
// effects when no server host is set and does nothing when already running.
func (c *Controller) Start() error {
	srv := c.lookupServer()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(srv)
}

// resolvedServer pairs a configured server host with its resolved address.
type resolvedServer struct {
	host string
	addr string
}

// lookupServer resolves the configured server host without holding c.mu.
func (c *Controller) lookupServer() resolvedServer {
	c.mu.Lock()
	host := c.settings.ServerHost
	c.mu.Unlock()
	return resolvedServer{host: host, addr: c.resolveServer(host)}
}

func (c *Controller) startLocked(srv resolvedServer) error {
	if c.closed {
		return ErrClosed
	}
	if c.settings.ServerHost == "" {
		return ErrServerNotConfigured
	}
	if c.handle.Running {
		return nil
	}

	port := c.settings.LocalPort
	switch {
	case c.settings.BidirectionalSync:
		if !c.settings.UseFixedLocalPort || c.settings.LocalPort == 0 {
			c.settings.UseFixedLocalPort = true
			if c.settings.LocalPort == 0 {
				c.settings.LocalPort = settings.DefaultLocalPort
			}
			c.persistLocked()
		}
		port = c.settings.LocalPort
	case !c.settings.UseFixedLocalPort || port == 0:
		port = c.randomPort()
	}

	server := c.settings.ServerHost
	if srv.host == server && srv.addr != "" {
		server = srv.addr
	}

	snap := c.detector.Detect()
	n, err := netmon.WriteAddressFile(snap, c.cfg.AddressFile, netmon.PlaceholderAddress)
	if err != nil {
		return fmt.Errorf("prepare address file: %w", err)
	}

	argv := make([]string, 0, len(c.cfg.Command)+4)
	argv = append(argv, c.cfg.Command...)
	argv = append(argv,
		strconv.Itoa(int(port)),
		server,
		strconv.Itoa(int(c.settings.ServerPort)),
		c.cfg.AddressFile,
	)

	launchID := uuid.NewString()
	pid, err := c.supervisor.Spawn(argv, c.cfg.LogFile)
	if err != nil {
		return fmt.Errorf("spawn sender: %w", err)
	}
	if pid <= 0 {
		c.logger.Warn("sender pid unknown, stop will match by name", zap.String("launch_id", launchID))
		pid = -1
	}

	c.handle = Handle{
		Running:        true,
		PID:            pid,
		BoundLocalPort: port,
		LaunchID:       launchID,
		StartedAt:      time.Now(),
	}
	c.logger.Info("relay started",
		zap.String("launch_id", launchID),
		zap.Int("pid", pid),
		zap.Uint16("local_port", port),
		zap.String("server", server),
		zap.Uint16("server_port", c.settings.ServerPort),
		zap.Int("addresses", n))
	return nil
}

// resolveServer returns an IPv4 literal for host, or host itself when it is
// already numeric or cannot be resolved.
func (c *Controller) resolveServer(host string) string {
	if host == "" || net.ParseIP(host) != nil || c.resolver == nil {
		return host
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.resolveTimeout)
	defer cancel()

	addr, err := c.resolver.Resolve(ctx, host)
	if err != nil || addr == "" {
		c.logger.Warn("server resolution failed, using host as given", zap.String("host", host), zap.Error(err))
		return host
	}
	if addr != host {
		c.logger.Info("resolved server", zap.String("host", host), zap.String("addr", addr))
	}
	return addr
}

// Stop terminates the sender. The controller is always stopped afterwards,
// even when the termination request fails.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if !c.handle.Running {
		return
	}

	if c.handle.PID > 0 {
		if err := c.supervisor.TerminateByID(c.handle.PID); err != nil {
			c.logger.Warn("terminate sender", zap.Int("pid", c.handle.PID), zap.Error(err))
		}
	} else {
		n, err := c.supervisor.TerminateByName(c.cfg.ProcessName)
		if err != nil {
			c.logger.Warn("terminate sender by name", zap.String("pattern", c.cfg.ProcessName), zap.Error(err))
		} else {
			c.logger.Debug("terminated by name", zap.Int("count", n))
		}
	}

	c.logger.Info("relay stopped", zap.String("launch_id", c.handle.LaunchID))
	c.handle = stoppedHandle()
}

// RestartWithPort stops the sender if it runs, stores port as the local
// port and starts again.
func (c *Controller) RestartWithPort(port uint16) error {
	srv := c.lookupServer()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	if port != 0 && port != c.settings.LocalPort {
		c.settings.LocalPort = port
		c.persistLocked()
	}
	return c.startLocked(srv)
}

// OnNetworkChange rewrites the address bank and, when the sender runs,
// asks it to reload. It is meant to be registered with netmon.Monitor.
// Changes delivered after Close are dropped.
func (c *Controller) OnNetworkChange(snap netmon.Snapshot) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("network change after close ignored")
		return
	}
	n, err := netmon.WriteAddressFile(snap, c.cfg.AddressFile, "")
	running := c.handle.Running
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("update address file", zap.Error(err))
	} else {
		c.logger.Info("address file updated", zap.Int("addresses", n), zap.Strings("active", snap.ActiveAddresses()))
	}

	if !running {
		return
	}
	sent, err := c.supervisor.SignalByName(c.cfg.ProcessName, syscall.SIGHUP)
	if err != nil {
		c.logger.Warn("reload sender", zap.Error(err))
		return
	}
	c.logger.Info("sender reload requested", zap.Int("processes", sent))
}

// OnStreamingStarting starts the sender when auto start is enabled.
func (c *Controller) OnStreamingStarting() error {
	c.mu.Lock()
	wanted := c.settings.AutoStart && !c.handle.Running
	c.mu.Unlock()
	if !wanted {
		return nil
	}
	srv := c.lookupServer()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.settings.AutoStart || c.handle.Running {
		return nil
	}
	c.logger.Info("auto starting relay")
	return c.startLocked(srv)
}

// OnStreamingStopping stops a running sender when auto start is enabled.
func (c *Controller) OnStreamingStopping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle.Running && c.settings.AutoStart {
		c.logger.Info("auto stopping relay")
		c.stopLocked()
	}
}

// Close stops the sender and removes the address file together with its
// directory when that directory is left empty. Start fails with ErrClosed
// afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.closed = true
	if c.cfg.AddressFile == "" {
		return
	}
	if err := os.Remove(c.cfg.AddressFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("remove address file", zap.Error(err))
	}
	_ = os.Remove(filepath.Dir(c.cfg.AddressFile))
}

func (c *Controller) persistLocked() bool {
	existed, err := c.store.Save(c.settings)
	if err != nil {
		c.logger.Error("persist settings", zap.Error(err))
		return false
	}
	if !existed {
		c.logger.Debug("settings record created")
	}
	return true
}
