// Package scheduler decides when sync cycles run: on a recurring timer, when
// connectivity returns, at startup, and when the active calendar changes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	tasksync "github.com/mschirtzinger/caldav-tasks/internal/sync"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

// Syncer runs sync work. *sync.Engine satisfies it.
type Syncer interface {
	SyncAll(ctx context.Context) (*tasksync.CycleResult, error)
	SyncCalendar(ctx context.Context, calendarID string) (*tasksync.TaskStats, error)
	IsSyncing() bool
}

// Connectivity is the online flag plus its transition stream.
type Connectivity interface {
	Online() bool
	Subscribe() <-chan bool
}

// AccountLister lists configured accounts.
type AccountLister interface {
	GetAllAccounts(ctx context.Context) ([]*types.Account, error)
}

// Settings controls the recurring timer.
type Settings struct {
	AutoSync bool
	Interval time.Duration
}

func (s Settings) enabled() bool {
	return s.AutoSync && s.Interval > 0
}

// Config holds the scheduler's collaborators.
type Config struct {
	Syncer       Syncer
	Connectivity Connectivity
	Accounts     AccountLister
	Settings     Settings
	Logger       *log.Logger
}

// Scheduler triggers SyncAll and SyncCalendar. Run owns the timer; other
// methods only hand values to it.
type Scheduler struct {
	syncer   Syncer
	conn     Connectivity
	accounts AccountLister
	logger   *log.Logger

	mu        sync.Mutex
	settings  Settings
	calendar  string
	settingsC chan struct{}
	calendarC chan struct{}

	wg sync.WaitGroup
}

// New creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if cfg.Connectivity == nil {
		return nil, fmt.Errorf("connectivity cannot be nil")
	}
	if cfg.Accounts == nil {
		return nil, fmt.Errorf("account lister cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}
	return &Scheduler{
		syncer:    cfg.Syncer,
		conn:      cfg.Connectivity,
		accounts:  cfg.Accounts,
		logger:    cfg.Logger,
		settings:  cfg.Settings,
		settingsC: make(chan struct{}, 1),
		calendarC: make(chan struct{}, 1),
	}, nil
}

// Settings returns the current timer settings.
func (s *Scheduler) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings replaces the timer settings. The timer is rebuilt only if
// they differ from the current ones.
func (s *Scheduler) UpdateSettings(settings Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	signal(s.settingsC)
}

// SelectCalendar records a new active calendar. If several changes arrive
// before Run sees them only the last one is synced.
func (s *Scheduler) SelectCalendar(calendarID string) {
	s.mu.Lock()
	s.calendar = calendarID
	s.mu.Unlock()
	signal(s.calendarC)
}

func signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled. Syncs it started are waited for before
// it returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Println("Starting scheduler")
	defer s.wg.Wait()

	online := s.conn.Subscribe()

	if s.hasAccounts(ctx) {
		s.logger.Println("Accounts configured, running initial sync")
		s.triggerFull(ctx, "startup")
	}

	current := s.Settings()
	ticker, tick := newTicker(current)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("Scheduler stopped")
			return

		case <-s.settingsC:
			next := s.Settings()
			if next == current {
				continue
			}
			current = next
			if ticker != nil {
				ticker.Stop()
			}
			ticker, tick = newTicker(current)
			if current.enabled() {
				s.logger.Printf("Auto-sync every %v", current.Interval)
			} else {
				s.logger.Println("Auto-sync disabled")
			}

		case <-tick:
			if s.syncer.IsSyncing() {
				s.logger.Println("Skipping scheduled sync - already syncing")
				continue
			}
			if !s.conn.Online() {
				s.logger.Println("Skipping scheduled sync - offline")
				continue
			}
			s.triggerFull(ctx, "timer")

		case up := <-online:
			if up {
				s.triggerFull(ctx, "back online")
			}

		case <-s.calendarC:
			s.mu.Lock()
			id := s.calendar
			s.mu.Unlock()
			if id != "" {
				s.triggerCalendar(ctx, id)
			}
		}
	}
}

// newTicker returns a nil channel when auto-sync is off; receiving from it
// blocks forever.
func newTicker(settings Settings) (*time.Ticker, <-chan time.Time) {
	if !settings.enabled() {
		return nil, nil
	}
	t := time.NewTicker(settings.Interval)
	return t, t.C
}

func (s *Scheduler) hasAccounts(ctx context.Context) bool {
	accounts, err := s.accounts.GetAllAccounts(ctx)
	if err != nil {
		s.logger.Printf("WARNING: Failed to list accounts: %v", err)
		return false
	}
	return len(accounts) > 0
}

func (s *Scheduler) triggerFull(ctx context.Context, reason string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Sync triggered (%s)", reason)
		_, err := s.syncer.SyncAll(ctx)
		switch {
		case err == nil:
		case errors.Is(err, tasksync.ErrSyncInProgress), errors.Is(err, tasksync.ErrOffline):
			s.logger.Printf("Sync not started: %v", err)
		default:
			s.logger.Printf("WARNING: Sync failed: %v", err)
		}
	}()
}

func (s *Scheduler) triggerCalendar(ctx context.Context, calendarID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Active calendar changed, syncing %s", calendarID)
		if _, err := s.syncer.SyncCalendar(ctx, calendarID); err != nil {
			s.logger.Printf("WARNING: Failed to sync calendar %s: %v", calendarID, err)
		}
	}()
}
