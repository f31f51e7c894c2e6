package config

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Sync.AutoSync {
		t.Error("auto-sync should be on by default")
	}
	if cfg.Sync.Interval != 15*time.Minute {
		t.Errorf("Interval = %v, want 15m", cfg.Sync.Interval)
	}
	if cfg.Dashboard.Enabled {
		t.Error("dashboard should be off by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := &Config{DataDir: "/data", Database: "tasks.db"}
	if got := cfg.DatabasePath(); got != filepath.Join("/data", "tasks.db") {
		t.Errorf("DatabasePath() = %q", got)
	}
	cfg.Database = "/elsewhere/x.db"
	if got := cfg.DatabasePath(); got != "/elsewhere/x.db" {
		t.Errorf("DatabasePath() = %q, absolute path must win", got)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
database = "custom.db"

[sync]
auto_sync = false
interval = "5m"

[connectivity]
probe_addrs = ["dav.example.com:443"]

[dashboard]
enabled = true
port = 9000
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Database != "custom.db" || cfg.Sync.AutoSync || cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if diff := cmp.Diff([]string{"dav.example.com:443"}, cfg.Connectivity.ProbeAddrs); diff != "" {
		t.Errorf("probe addrs mismatch (-want +got):\n%s", diff)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9000 {
		t.Errorf("dashboard = %+v", cfg.Dashboard)
	}
	// Untouched keys keep their defaults.
	if cfg.Sync.ActiveCalendarPoll != 2*time.Second {
		t.Errorf("ActiveCalendarPoll = %v, want default", cfg.Sync.ActiveCalendarPoll)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[sync]\ninterval = \"5m\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CALDAV_TASKS_SYNC_INTERVAL", "1h")
	t.Setenv("CALDAV_TASKS_DASHBOARD_PORT", "7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Sync.Interval != time.Hour {
		t.Errorf("Interval = %v, want env override 1h", cfg.Sync.Interval)
	}
	if cfg.Dashboard.Port != 7000 {
		t.Errorf("Port = %d, want 7000", cfg.Dashboard.Port)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad toml", "sync = [unterminated"},
		{"negative interval", "[sync]\ninterval = \"-1m\"\n"},
		{"port range", "[dashboard]\nport = 70000\n"},
		{"zero poll", "[sync]\nactive_calendar_poll = \"0s\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() should fail")
			}
		})
	}
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	want := DefaultConfig()
	want.Sync.Interval = 42 * time.Minute
	want.Log.File = "/var/log/caldav-tasks.log"

	if err := Write(path, want); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `interval = "42m0s"`) {
		t.Errorf("durations should be written as strings:\n%s", data)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Write(path, DefaultConfig()); err != nil {
		t.Fatal(err)
	}

	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { changes <- c }, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err == nil {
		t.Error("second Start() should fail")
	}

	// Broken file is ignored.
	if err := os.WriteFile(path, []byte("[sync\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		t.Fatalf("invalid file delivered: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}

	updated := DefaultConfig()
	updated.Sync.AutoSync = false
	if err := Write(path, updated); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if c.Sync.AutoSync {
			t.Error("reloaded config still has auto-sync on")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after config change")
	}
}

func TestNewWatcher_Validation(t *testing.T) {
	if _, err := NewWatcher("", func(*Config) {}, nil); err == nil {
		t.Error("NewWatcher(empty path) should fail")
	}
	if _, err := NewWatcher("/tmp/x.toml", nil, nil); err == nil {
		t.Error("NewWatcher(nil callback) should fail")
	}
}
