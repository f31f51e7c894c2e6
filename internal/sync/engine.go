package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/mschirtzinger/caldav-tasks/internal/remote"
	"github.com/mschirtzinger/caldav-tasks/internal/store"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

// Connectivity reports whether the network is believed to be reachable.
type Connectivity interface {
	Online() bool
}

// alwaysOnline is used when no connectivity source is configured.
type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

// Config holds the collaborators of an Engine.
type Config struct {
	Store        store.Store
	Client       remote.Client
	Connectivity Connectivity // nil means always online
	Logger       *log.Logger
	Now          func() time.Time
}

// Engine drives sync cycles and exposes their status.
//
// Only one full cycle runs at a time; SyncAll returns ErrSyncInProgress
// instead of queueing. Single-calendar syncs and task pushes wait for any
// running unit so the store is never written by two units at once.
type Engine struct {
	store     store.Store
	client    remote.Client
	conn      Connectivity
	logger    *log.Logger
	now       func() time.Time
	calendars *CalendarReconciler
	tasks     *TaskReconciler

	inFlight atomic.Bool
	units    gosync.Mutex

	mu        gosync.RWMutex
	status    Status
	listeners []Listener
}

// New creates an Engine. Store and Client are required.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("remote client is required")
	}
	if cfg.Connectivity == nil {
		cfg.Connectivity = alwaysOnline{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{
		store:  cfg.Store,
		client: cfg.Client,
		conn:   cfg.Connectivity,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	e.calendars = &CalendarReconciler{store: cfg.Store, client: cfg.Client, logger: cfg.Logger}
	e.tasks = &TaskReconciler{
		store:     cfg.Store,
		client:    cfg.Client,
		tags:      NewTagResolver(cfg.Store, cfg.Logger),
		deletions: &DeletionQueue{store: cfg.Store, client: cfg.Client, logger: cfg.Logger},
		logger:    cfg.Logger,
		now:       cfg.Now,
		Notify: func(stats *TaskStats) {
			e.publish(Event{Kind: EventCalendarSynced, Tasks: stats})
		},
	}
	return e, nil
}

// Subscribe registers l for status changes and calendar completions.
// Listeners are called synchronously and must not block.
func (e *Engine) Subscribe(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Status returns a snapshot of the sync status.
func (e *Engine) Status() Status {
	e.mu.RLock()
	s := e.status
	e.mu.RUnlock()
	s.IsOffline = !e.conn.Online()
	return s
}

// IsSyncing reports whether a full cycle is running.
func (e *Engine) IsSyncing() bool {
	return e.inFlight.Load()
}

func (e *Engine) updateStatus(fn func(*Status)) {
	e.mu.Lock()
	fn(&e.status)
	e.mu.Unlock()
	e.publish(Event{Kind: EventStatus, Status: e.Status()})
}

func (e *Engine) publish(ev Event) {
	e.mu.RLock()
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

// CycleResult summarizes one full sync.
type CycleResult struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Accounts   int              `json:"accounts"`
	Calendars  []*CalendarStats `json:"calendars"`
	Tasks      []*TaskStats     `json:"tasks"`
	Errors     []*UnitError     `json:"errors,omitempty"`
}

// SyncAll runs a full cycle: reconnect, reconcile calendars per account,
// then reconcile tasks per calendar. A failing account or calendar is logged
// and skipped. Only a failure to list accounts is returned as an error and
// shown to the user.
//
// The cycle ignores cancellation of ctx once started.
func (e *Engine) SyncAll(ctx context.Context) (*CycleResult, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.logger.Printf("Sync already running, dropping trigger")
		return nil, ErrSyncInProgress
	}
	defer e.inFlight.Store(false)

	if !e.conn.Online() {
		e.logger.Printf("Skipping sync - offline")
		e.updateStatus(func(s *Status) { s.LastSyncError = OfflineMessage })
		return nil, ErrOffline
	}

	ctx = context.WithoutCancel(ctx)

	e.units.Lock()
	defer e.units.Unlock()

	result := &CycleResult{StartedAt: e.now()}
	e.updateStatus(func(s *Status) {
		s.IsSyncing = true
		s.LastSyncError = ""
	})

	err := e.runCycle(ctx, result)

	result.FinishedAt = e.now()
	e.updateStatus(func(s *Status) {
		s.IsSyncing = false
		finished := result.FinishedAt
		s.LastSyncTime = &finished
		if err != nil {
			s.LastSyncError = err.Error()
		}
	})

	e.logger.Printf("Sync complete: accounts=%d calendars=%d failed=%d",
		result.Accounts, len(result.Tasks), len(result.Errors))
	return result, err
}

func (e *Engine) runCycle(ctx context.Context, result *CycleResult) error {
	accounts, err := e.store.GetAllAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	result.Accounts = len(accounts)

	for _, a := range accounts {
		if e.client.IsConnected(a.ID) {
			continue
		}
		if err := e.client.Reconnect(ctx, a); err != nil {
			e.logger.Printf("WARNING: Failed to reconnect account %s: %v%s", a.Name, err, reconnectHint(err))
			result.Errors = append(result.Errors, &UnitError{Kind: KindConnection, AccountID: a.ID, Err: err})
			continue
		}
		e.logger.Printf("Reconnected to account: %s", a.Name)
	}

	if accounts, err = e.store.GetAllAccounts(ctx); err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	for _, a := range accounts {
		stats, err := e.calendars.Reconcile(ctx, a.ID)
		if err != nil {
			e.logger.Printf("WARNING: Failed to sync calendars for %s: %v", a.Name, err)
			result.Errors = append(result.Errors, &UnitError{Kind: KindCalendars, AccountID: a.ID, Err: err})
			continue
		}
		result.Calendars = append(result.Calendars, stats)
		if stats.Written {
			e.publish(Event{Kind: EventCalendarsChanged, Calendars: stats})
		}
	}

	if accounts, err = e.store.GetAllAccounts(ctx); err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	for _, a := range accounts {
		for _, c := range a.Calendars {
			stats, err := e.tasks.Reconcile(ctx, c.ID)
			if err != nil {
				e.logger.Printf("WARNING: Failed to sync calendar %s: %v", c.DisplayName, err)
				result.Errors = append(result.Errors, &UnitError{Kind: KindTasks, AccountID: a.ID, CalendarID: c.ID, Err: err})
				continue
			}
			result.Tasks = append(result.Tasks, stats)
		}
	}
	return nil
}

// SyncCalendar reconciles the tasks of one calendar. Like SyncAll it runs to
// completion once started, even if ctx is cancelled.
func (e *Engine) SyncCalendar(ctx context.Context, calendarID string) (*TaskStats, error) {
	if !e.conn.Online() {
		return nil, ErrOffline
	}
	ctx = context.WithoutCancel(ctx)

	e.units.Lock()
	defer e.units.Unlock()
	return e.tasks.Reconcile(ctx, calendarID)
}

// PushTask sends the stored version of task to the server right away.
func (e *Engine) PushTask(ctx context.Context, task *types.Task) error {
	e.units.Lock()
	defer e.units.Unlock()

	account, err := e.store.GetAccount(ctx, task.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, task.AccountID)
		}
		return err
	}
	var cal *types.Calendar
	for i := range account.Calendars {
		if account.Calendars[i].ID == task.CalendarID {
			cal = &account.Calendars[i]
			break
		}
	}
	if cal == nil {
		return fmt.Errorf("%w: %s", ErrCalendarNotFound, task.CalendarID)
	}

	if !e.client.IsConnected(account.ID) {
		if err := e.client.Reconnect(ctx, account); err != nil {
			return fmt.Errorf("failed to reconnect: %w", err)
		}
	}

	current, err := e.store.GetTask(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}
	names, err := e.tasks.tagNames(ctx)
	if err != nil {
		return err
	}
	if err := e.tasks.push(ctx, account.ID, *cal, current, names); err != nil {
		return fmt.Errorf("failed to push task %s: %w", current.UID, err)
	}

	e.publish(Event{Kind: EventTaskPushed, TaskID: task.ID})
	return nil
}

// RemoveTaskFromServer deletes the server copy of task. A task that was
// never pushed counts as removed. An unknown account yields false.
func (e *Engine) RemoveTaskFromServer(ctx context.Context, task *types.Task) (bool, error) {
	if task.Href == "" {
		return true, nil
	}

	e.units.Lock()
	defer e.units.Unlock()

	account, err := e.store.GetAccount(ctx, task.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !e.client.IsConnected(account.ID) {
		if err := e.client.Reconnect(ctx, account); err != nil {
			return false, fmt.Errorf("failed to reconnect: %w", err)
		}
	}
	return e.client.DeleteTask(ctx, account.ID, remote.TaskRef{Href: task.Href})
}

// reconnectHint tells the user what to do about a failed reconnect.
func reconnectHint(err error) string {
	switch {
	case remote.IsAuth(err):
		return " (check the account's username and password)"
	case remote.IsRetryable(err):
		return " (will retry next cycle)"
	}
	return ""
}
