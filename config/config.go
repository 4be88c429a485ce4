// Package config loads the process-level configuration of the relay
// daemon: where the sender lives, where its files go, and how the status
// surfaces are exposed. Relay settings proper live in package settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/google/shlex"
	"github.com/spf13/viper"
)

const EnvPrefix = "SRTLA"

type Config struct {
	Sender       SenderConfig `mapstructure:"sender"`
	AddressFile  string       `mapstructure:"address_file"`
	SettingsFile string       `mapstructure:"settings_file"`
	Host         HostConfig   `mapstructure:"host"`
	Web          WebConfig    `mapstructure:"web"`
	Log          LogConfig    `mapstructure:"log"`
	Sync         SyncConfig   `mapstructure:"sync"`
}

type SenderConfig struct {
	// Command is split like a shell would, so wrappers such as
	// "nice -n 5 /usr/bin/srtla_send" work.
	Command     string `mapstructure:"command"`
	ProcessName string `mapstructure:"process_name"`
	LogFile     string `mapstructure:"log_file"`
	LogMaxSize  string `mapstructure:"log_max_size"`
}

type HostConfig struct {
	// ServiceFile is an OBS profile service.json. When empty the
	// connection URL is kept in memory, seeded from URL.
	ServiceFile string `mapstructure:"service_file"`
	URL         string `mapstructure:"url"`
}

type WebConfig struct {
	Listen string `mapstructure:"listen"`
	Token  string `mapstructure:"token"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type SyncConfig struct {
	StartupChecks int           `mapstructure:"startup_checks"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	WatchInterval time.Duration `mapstructure:"watch_interval"`
}

// TempDir is where the address bank lives: $HOME/srtla_relay_temp, or
// /tmp/srtla_relay_temp without a home directory.
func TempDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, "srtla_relay_temp")
	}
	return filepath.Join(os.TempDir(), "srtla_relay_temp")
}

func defaultSettingsFile() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "srtla-sender", "settings.yaml")
	}
	return filepath.Join(TempDir(), "settings.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sender.command", "/usr/bin/srtla_send")
	v.SetDefault("sender.process_name", "srtla_send")
	v.SetDefault("sender.log_file", "/tmp/srtla.log")
	v.SetDefault("sender.log_max_size", "10MB")
	v.SetDefault("address_file", filepath.Join(TempDir(), "ip_bank.txt"))
	v.SetDefault("settings_file", defaultSettingsFile())
	v.SetDefault("host.service_file", "")
	v.SetDefault("host.url", "")
	v.SetDefault("web.listen", "")
	v.SetDefault("web.token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("sync.startup_checks", 3)
	v.SetDefault("sync.check_interval", "5s")
	v.SetDefault("sync.watch_interval", "5s")
}

// Load reads the configuration. An explicit path must exist; without one
// config.yaml is looked up in the working directory and the user config
// directory, and its absence is not an error. SRTLA_* environment
// variables override file values (SRTLA_SENDER_COMMAND, SRTLA_WEB_LISTEN...).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "srtla-sender"))
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise only fail at first use.
func (c *Config) Validate() error {
	if _, err := c.SenderArgv(); err != nil {
		return err
	}
	if _, err := c.LogMaxBytes(); err != nil {
		return err
	}
	if c.AddressFile == "" {
		return fmt.Errorf("address_file must not be empty")
	}
	if c.SettingsFile == "" {
		return fmt.Errorf("settings_file must not be empty")
	}
	if c.Sync.StartupChecks < 0 {
		return fmt.Errorf("sync.startup_checks must not be negative")
	}
	if c.Sync.CheckInterval <= 0 || c.Sync.WatchInterval <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	return nil
}

// SenderArgv splits the sender command into an argument vector.
func (c *Config) SenderArgv() ([]string, error) {
	argv, err := shlex.Split(c.Sender.Command)
	if err != nil {
		return nil, fmt.Errorf("parse sender.command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("sender.command must not be empty")
	}
	return argv, nil
}

// LogMaxBytes parses sender.log_max_size; empty or "0" disables the cap.
func (c *Config) LogMaxBytes() (int64, error) {
	if c.Sender.LogMaxSize == "" || c.Sender.LogMaxSize == "0" {
		return 0, nil
	}
	n, err := units.FromHumanSize(c.Sender.LogMaxSize)
	if err != nil {
		return 0, fmt.Errorf("parse sender.log_max_size: %w", err)
	}
	return n, nil
}
