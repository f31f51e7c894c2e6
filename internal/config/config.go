// Package config loads and writes the caldav-tasks configuration file.
//
// Values come from, in increasing precedence: built-in defaults, the TOML
// file, and CALDAV_TASKS_* environment variables (dots become underscores,
// so sync.interval is CALDAV_TASKS_SYNC_INTERVAL).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// AppName names the config and data directories.
const AppName = "caldav-tasks"

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "CALDAV_TASKS"

// Config is the full configuration.
type Config struct {
	DataDir      string             `mapstructure:"data_dir"`
	Database     string             `mapstructure:"database"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard"`
	Log          LogConfig          `mapstructure:"log"`
}

// SyncConfig controls automatic syncing.
type SyncConfig struct {
	AutoSync bool          `mapstructure:"auto_sync"`
	Interval time.Duration `mapstructure:"interval"`
	// ActiveCalendarPoll is how often the daemon checks for a newly selected
	// calendar.
	ActiveCalendarPoll time.Duration `mapstructure:"active_calendar_poll"`
}

// ConnectivityConfig controls the reachability probe.
type ConnectivityConfig struct {
	ProbeAddrs    []string      `mapstructure:"probe_addrs"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// DashboardConfig controls the local status server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig controls daemon log rotation. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  defaultDataDir(),
		Database: AppName + ".db",
		Sync: SyncConfig{
			AutoSync:           true,
			Interval:           15 * time.Minute,
			ActiveCalendarPoll: 2 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			ProbeAddrs:    []string{"1.1.1.1:443", "8.8.8.8:53"},
			ProbeInterval: 30 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Port:    8089,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + AppName
	}
	return filepath.Join(home, ".local", "share", AppName)
}

// DefaultPath returns $XDG_CONFIG_HOME/caldav-tasks/config.toml, falling back
// to the platform config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join("."+AppName, "config.toml")
	}
	return filepath.Join(dir, AppName, "config.toml")
}

// DatabasePath resolves Database against DataDir.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Database) {
		return c.Database
	}
	return filepath.Join(c.DataDir, c.Database)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database cannot be empty"))
	}
	if c.Sync.Interval < 0 {
		errs = append(errs, fmt.Errorf("sync.interval cannot be negative, got %v", c.Sync.Interval))
	}
	if c.Sync.AutoSync && c.Sync.Interval == 0 {
		errs = append(errs, errors.New("sync.interval must be set when sync.auto_sync is on"))
	}
	if c.Sync.ActiveCalendarPoll <= 0 {
		errs = append(errs, fmt.Errorf("sync.active_calendar_poll must be positive, got %v", c.Sync.ActiveCalendarPoll))
	}
	if c.Connectivity.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("connectivity.probe_interval must be positive, got %v", c.Connectivity.ProbeInterval))
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port))
	}
	return errors.Join(errs...)
}

// Load reads path on top of the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("toml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	for key, val := range d.flatten() {
		v.SetDefault(key, val)
	}
}

// flatten maps every dotted key to its value. Durations stay time.Duration.
func (c *Config) flatten() map[string]any {
	return map[string]any{
		"data_dir":                    c.DataDir,
		"database":                    c.Database,
		"sync.auto_sync":              c.Sync.AutoSync,
		"sync.interval":               c.Sync.Interval,
		"sync.active_calendar_poll":   c.Sync.ActiveCalendarPoll,
		"connectivity.probe_addrs":    c.Connectivity.ProbeAddrs,
		"connectivity.probe_interval": c.Connectivity.ProbeInterval,
		"connectivity.probe_timeout":  c.Connectivity.ProbeTimeout,
		"dashboard.enabled":           c.Dashboard.Enabled,
		"dashboard.port":              c.Dashboard.Port,
		"log.file":                    c.Log.File,
		"log.max_size_mb":             c.Log.MaxSizeMB,
		"log.max_backups":             c.Log.MaxBackups,
		"log.max_age_days":            c.Log.MaxAgeDays,
	}
}

// document is the nested TOML form with durations as strings like "15m0s".
func (c *Config) document() map[string]any {
	doc := map[string]any{}
	for key, val := range c.flatten() {
		if d, ok := val.(time.Duration); ok {
			val = d.String()
		}
		section, name, nested := strings.Cut(key, ".")
		if !nested {
			doc[key] = val
			continue
		}
		table, _ := doc[section].(map[string]any)
		if table == nil {
			table = map[string]any{}
			doc[section] = table
		}
		table[name] = val
	}
	return doc
}

// Encode renders c as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c.document()); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Write saves c to path, creating the parent directory.
func Write(path string, c *Config) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
