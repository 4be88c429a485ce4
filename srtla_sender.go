package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/CERALIVE/obs-srtla-sender-plugin/config"
	"github.com/CERALIVE/obs-srtla-sender-plugin/host"
	"github.com/CERALIVE/obs-srtla-sender-plugin/logging"
	"github.com/CERALIVE/obs-srtla-sender-plugin/netmon"
	"github.com/CERALIVE/obs-srtla-sender-plugin/reconcile"
	"github.com/CERALIVE/obs-srtla-sender-plugin/relay"
	"github.com/CERALIVE/obs-srtla-sender-plugin/settings"
	"github.com/CERALIVE/obs-srtla-sender-plugin/views"
	"github.com/CERALIVE/obs-srtla-sender-plugin/web"
)

const version = "0.1.0"

var (
	configPath  = flag.String("config", "", "Path to the configuration file (default: ./config.yaml or the user config directory)")
	headless    = flag.Bool("headless", false, "Run without the terminal interface and log to stderr")
	debugFlag   = flag.Bool("debug", false, "Enable debug logging")
	versionFlag = flag.Bool("version", false, "Display version information and exit")
)

// app wires the relay components together.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	monitor *netmon.Monitor
	ctrl    *relay.Controller
	engine  *reconcile.Engine
	host    reconcile.Host
	web     *web.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	argv, err := cfg.SenderArgv()
	if err != nil {
		return nil, err
	}
	maxLog, err := cfg.LogMaxBytes()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	a.monitor = netmon.NewMonitor(logger)
	a.ctrl = relay.NewController(logger,
		relay.Config{
			Command:     argv,
			ProcessName: cfg.Sender.ProcessName,
			AddressFile: cfg.AddressFile,
			LogFile:     cfg.Sender.LogFile,
		},
		settings.NewFileStore(cfg.SettingsFile),
		a.monitor,
		relay.NewOSSupervisor(logger, maxLog),
		relay.NewSystemResolver(logger),
	)

	if cfg.Host.ServiceFile != "" {
		a.host = host.NewServiceFile(logger, cfg.Host.ServiceFile)
	} else {
		a.host = host.NewMemory(cfg.Host.URL)
	}
	a.engine = reconcile.NewEngine(logger, a.ctrl, a.host)
	a.ctrl.SetPublisher(a.engine.Publish)

	a.monitor.OnChange(a.ctrl.OnNetworkChange)
	if cfg.Web.Listen != "" {
		a.web = web.NewServer(logger, cfg.Web.Listen, cfg.Web.Token, a.ctrl, a.engine, a.monitor)
		a.monitor.OnChange(a.web.OnNetworkChange)
	}
	return a, nil
}

// start begins monitoring and, with sync enabled, pushes the settings URL
// to the host before the startup and steady-state watchers take over.
func (a *app) start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.monitor.Start()

	if a.engine.Enabled() {
		a.engine.SyncToExternal()
	}
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.engine.WatchStartup(ctx, a.cfg.Sync.StartupChecks, a.cfg.Sync.CheckInterval)
	}()
	go func() {
		defer a.wg.Done()
		a.engine.Watch(ctx, a.cfg.Sync.WatchInterval)
	}()

	if a.web != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.web.Start(); err != nil {
				a.logger.Error("web interface stopped", zap.Error(err))
			}
		}()
	}
}

func (a *app) close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.web.Shutdown(ctx); err != nil {
			a.logger.Warn("web shutdown", zap.Error(err))
		}
		cancel()
	}
	a.monitor.Stop()
	a.ctrl.Close()
	a.wg.Wait()
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "srtla-sender %s - SRTLA bonded uplink relay\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		fmt.Printf("srtla-sender %s\n", version)
		os.Exit(0)
	}
	if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected argument '%s'\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Log.Level
	if *debugFlag {
		level = "debug"
	}
	logs := views.NewLogBuffer(200)
	opts := logging.Options{Level: level, File: cfg.Log.File}
	if *headless {
		opts.Console = true
	} else {
		opts.Sink = logs
	}
	logger, err := logging.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("setup failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.start(ctx)
	logger.Info("srtla sender ready", zap.String("version", version), zap.String("settings", cfg.SettingsFile))

	if *headless {
		<-ctx.Done()
	} else {
		p := tea.NewProgram(newModel(a.ctrl, a.engine, a.monitor, a.host, logs), tea.WithAltScreen())
		go func() {
			<-ctx.Done()
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			logger.Error("terminal interface", zap.Error(err))
		}
	}

	logger.Info("shutting down")
	a.close()
}
