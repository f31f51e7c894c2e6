// Package daemon runs caldav-tasks in the background.
//
// The daemon:
// 1. Holds a lock file so only one instance runs per data directory
// 2. Probes connectivity and feeds transitions to the scheduler
// 3. Runs scheduled, reconnect and startup syncs
// 4. Polls the stored UI state and syncs a newly selected calendar
// 5. Reloads sync settings when the config file changes
// 6. Optionally serves the dashboard
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/mschirtzinger/caldav-tasks/internal/config"
	"github.com/mschirtzinger/caldav-tasks/internal/connectivity"
	"github.com/mschirtzinger/caldav-tasks/internal/dashboard"
	"github.com/mschirtzinger/caldav-tasks/internal/scheduler"
	"github.com/mschirtzinger/caldav-tasks/internal/store"
	tasksync "github.com/mschirtzinger/caldav-tasks/internal/sync"
)

// ErrAlreadyRunning is returned by Start when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("daemon already running")

// Config holds configuration for the daemon.
type Config struct {
	// LockPath is the lock file guarding a single instance.
	LockPath string

	// ActiveCalendarPoll is how often the stored UI state is checked.
	ActiveCalendarPoll time.Duration

	// ConfigPath is watched for changes when set.
	ConfigPath string

	// Dashboard serves status when set. The daemon starts and stops it.
	Dashboard *dashboard.Server

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for a data directory.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		LockPath:           filepath.Join(dataDir, "daemon.lock"),
		ActiveCalendarPoll: 2 * time.Second,
		Logger:             log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon wires the background components together.
type Daemon struct {
	store   store.Store
	engine  *tasksync.Engine
	monitor *connectivity.Monitor
	sched   *scheduler.Scheduler
	config  *Config

	lock    *flock.Flock
	watcher *config.Watcher

	mu             sync.Mutex
	activeCalendar string

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Daemon. Use Start to run it.
func New(st store.Store, engine *tasksync.Engine, monitor *connectivity.Monitor, sched *scheduler.Scheduler, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if sched == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if config == nil || config.LockPath == "" {
		return nil, fmt.Errorf("lock path cannot be empty")
	}
	if config.ActiveCalendarPoll <= 0 {
		return nil, fmt.Errorf("active calendar poll must be positive, got %v", config.ActiveCalendarPoll)
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		store:   st,
		engine:  engine,
		monitor: monitor,
		sched:   sched,
		config:  config,
		lock:    flock.New(config.LockPath),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start runs the daemon and blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := os.MkdirAll(filepath.Dir(d.config.LockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, d.config.LockPath)
	}

	if ui, err := d.store.GetUIState(d.ctx); err == nil {
		d.setActive(ui.ActiveCalendarID)
	}

	if d.config.ConfigPath != "" {
		w, err := config.NewWatcher(d.config.ConfigPath, d.applyConfig, d.config.Logger)
		if err != nil {
			d.unlock()
			return err
		}
		if err := w.Start(); err != nil {
			_ = w.Stop()
			d.unlock()
			return err
		}
		d.watcher = w
		d.config.Logger.Printf("Watching config: %s", d.config.ConfigPath)
	}

	if dash := d.config.Dashboard; dash != nil {
		d.engine.Subscribe(dash.OnEvent)
		if err := dash.Start(); err != nil {
			d.config.Logger.Printf("WARNING: Dashboard not started: %v", err)
			d.config.Dashboard = nil
		}
	}

	d.wg.Add(3)
	go func() {
		defer d.wg.Done()
		d.monitor.Run(d.ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.sched.Run(d.ctx)
	}()
	go d.pollActiveCalendar()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts everything down and releases the lock. It is safe to call more
// than once.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()

		if d.watcher != nil {
			if wErr := d.watcher.Stop(); wErr != nil {
				d.config.Logger.Printf("Error closing config watcher: %v", wErr)
			}
		}
		if d.config.Dashboard != nil {
			if dErr := d.config.Dashboard.Stop(); dErr != nil {
				d.config.Logger.Printf("Error stopping dashboard: %v", dErr)
			}
		}

		d.wg.Wait()
		err = d.unlock()
		d.config.Logger.Println("Daemon stopped")
	})
	return err
}

func (d *Daemon) unlock() error {
	if err := d.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// SelectCalendar persists calendarID as the active calendar and syncs it.
// The dashboard routes select_calendar requests here.
func (d *Daemon) SelectCalendar(calendarID string) {
	accounts, err := d.store.GetAllAccounts(d.ctx)
	if err != nil {
		d.config.Logger.Printf("WARNING: Failed to list accounts: %v", err)
		return
	}
	for _, a := range accounts {
		for _, c := range a.Calendars {
			if c.ID != calendarID {
				continue
			}
			if err := d.store.SetActiveCalendar(d.ctx, a.ID, c.ID); err != nil {
				d.config.Logger.Printf("WARNING: Failed to save active calendar: %v", err)
				return
			}
			d.setActive(calendarID)
			d.sched.SelectCalendar(calendarID)
			return
		}
	}
	d.config.Logger.Printf("WARNING: Unknown calendar selected: %s", calendarID)
}

func (d *Daemon) setActive(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.activeCalendar == id {
		return false
	}
	d.activeCalendar = id
	return true
}

// pollActiveCalendar picks up calendar selections made by other processes,
// such as the CLI's "calendar use".
func (d *Daemon) pollActiveCalendar() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ActiveCalendarPoll)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			ui, err := d.store.GetUIState(d.ctx)
			if err != nil {
				d.config.Logger.Printf("Error reading UI state: %v", err)
				continue
			}
			if ui.ActiveCalendarID != "" && d.setActive(ui.ActiveCalendarID) {
				d.config.Logger.Printf("Active calendar changed: %s", ui.ActiveCalendarID)
				d.sched.SelectCalendar(ui.ActiveCalendarID)
			}
		}
	}
}

func (d *Daemon) applyConfig(cfg *config.Config) {
	settings := scheduler.Settings{AutoSync: cfg.Sync.AutoSync, Interval: cfg.Sync.Interval}
	if settings == d.sched.Settings() {
		return
	}
	d.config.Logger.Printf("Sync settings changed: auto_sync=%v interval=%v", settings.AutoSync, settings.Interval)
	d.sched.UpdateSettings(settings)
}
