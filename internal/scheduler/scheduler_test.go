package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tasksync "github.com/mschirtzinger/caldav-tasks/internal/sync"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

type fakeSyncer struct {
	syncing   atomic.Bool
	full      chan struct{}
	calendars chan string
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{full: make(chan struct{}, 16), calendars: make(chan string, 16)}
}

func (f *fakeSyncer) SyncAll(ctx context.Context) (*tasksync.CycleResult, error) {
	f.full <- struct{}{}
	return &tasksync.CycleResult{}, nil
}

func (f *fakeSyncer) SyncCalendar(ctx context.Context, id string) (*tasksync.TaskStats, error) {
	f.calendars <- id
	return &tasksync.TaskStats{CalendarID: id}, nil
}

func (f *fakeSyncer) IsSyncing() bool { return f.syncing.Load() }

type fakeConn struct {
	mu     sync.Mutex
	online bool
	ch     chan bool
}

func (c *fakeConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConn) Subscribe() <-chan bool { return c.ch }

func (c *fakeConn) set(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
	c.ch <- online
}

type fakeAccounts struct {
	n   int
	err error
}

func (f fakeAccounts) GetAllAccounts(ctx context.Context) ([]*types.Account, error) {
	out := make([]*types.Account, f.n)
	for i := range out {
		out[i] = &types.Account{}
	}
	return out, f.err
}

type fixture struct {
	syncer *fakeSyncer
	conn   *fakeConn
	sched  *Scheduler
	cancel context.CancelFunc
	done   chan struct{}
}

func start(t *testing.T, accounts fakeAccounts, settings Settings) *fixture {
	t.Helper()
	f := &fixture{
		syncer: newFakeSyncer(),
		conn:   &fakeConn{online: true, ch: make(chan bool, 1)},
		done:   make(chan struct{}),
	}
	s, err := New(Config{
		Syncer:       f.syncer,
		Connectivity: f.conn,
		Accounts:     accounts,
		Settings:     settings,
		Logger:       log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	f.sched = s

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() {
		s.Run(ctx)
		close(f.done)
	}()
	t.Cleanup(f.stop)
	return f
}

func (f *fixture) stop() {
	f.cancel()
	<-f.done
}

func expectFull(t *testing.T, f *fixture, why string) {
	t.Helper()
	select {
	case <-f.syncer.full:
	case <-time.After(2 * time.Second):
		t.Fatalf("no full sync: %s", why)
	}
}

func expectNoFull(t *testing.T, f *fixture, wait time.Duration, why string) {
	t.Helper()
	select {
	case <-f.syncer.full:
		t.Fatalf("unexpected full sync: %s", why)
	case <-time.After(wait):
	}
}

func TestNew_Validation(t *testing.T) {
	s, c, a := newFakeSyncer(), &fakeConn{}, fakeAccounts{}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no syncer", Config{Connectivity: c, Accounts: a}},
		{"no connectivity", Config{Syncer: s, Accounts: a}},
		{"no accounts", Config{Syncer: s, Connectivity: c}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestRun_InitialSyncOnlyWithAccounts(t *testing.T) {
	f := start(t, fakeAccounts{n: 1}, Settings{})
	expectFull(t, f, "startup with accounts")

	g := start(t, fakeAccounts{n: 0}, Settings{})
	expectNoFull(t, g, 50*time.Millisecond, "startup without accounts")

	h := start(t, fakeAccounts{err: errors.New("db closed")}, Settings{})
	expectNoFull(t, h, 50*time.Millisecond, "startup with unreadable accounts")
}

func TestRun_TimerTriggers(t *testing.T) {
	f := start(t, fakeAccounts{}, Settings{AutoSync: true, Interval: 10 * time.Millisecond})
	expectFull(t, f, "first tick")
	expectFull(t, f, "second tick")
}

func TestRun_TimerSkipsWhileSyncingOrOffline(t *testing.T) {
	f := start(t, fakeAccounts{}, Settings{AutoSync: true, Interval: 10 * time.Millisecond})

	f.syncer.syncing.Store(true)
	time.Sleep(20 * time.Millisecond)
	for len(f.syncer.full) > 0 {
		<-f.syncer.full
	}
	expectNoFull(t, f, 60*time.Millisecond, "tick while syncing")
	f.syncer.syncing.Store(false)
	expectFull(t, f, "tick after sync finished")

	f.conn.mu.Lock()
	f.conn.online = false
	f.conn.mu.Unlock()
	// Drain a tick that raced with the flip.
	time.Sleep(20 * time.Millisecond)
	for len(f.syncer.full) > 0 {
		<-f.syncer.full
	}
	expectNoFull(t, f, 60*time.Millisecond, "tick while offline")
}

func TestRun_DisabledTimer(t *testing.T) {
	f := start(t, fakeAccounts{}, Settings{AutoSync: false, Interval: 10 * time.Millisecond})
	expectNoFull(t, f, 60*time.Millisecond, "auto-sync disabled")
}

func TestRun_RebuildsTimerOnSettingsChange(t *testing.T) {
	f := start(t, fakeAccounts{}, Settings{AutoSync: false, Interval: time.Hour})
	expectNoFull(t, f, 30*time.Millisecond, "disabled")

	f.sched.UpdateSettings(Settings{AutoSync: true, Interval: 10 * time.Millisecond})
	expectFull(t, f, "after enabling")

	f.sched.UpdateSettings(Settings{AutoSync: false, Interval: 10 * time.Millisecond})
	time.Sleep(20 * time.Millisecond)
	for len(f.syncer.full) > 0 {
		<-f.syncer.full
	}
	expectNoFull(t, f, 60*time.Millisecond, "after disabling")

	if got := f.sched.Settings(); got.AutoSync {
		t.Errorf("Settings() = %+v, want auto-sync off", got)
	}
}

func TestRun_BackOnlineTriggers(t *testing.T) {
	f := start(t, fakeAccounts{}, Settings{})

	f.conn.set(false)
	expectNoFull(t, f, 30*time.Millisecond, "going offline")

	f.conn.set(true)
	expectFull(t, f, "back online")
}

func TestRun_SelectCalendar(t *testing.T) {
	f := start(t, fakeAccounts{}, Settings{})

	f.sched.SelectCalendar("work")
	select {
	case id := <-f.syncer.calendars:
		if id != "work" {
			t.Errorf("synced calendar %q, want work", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("active calendar change did not trigger a calendar sync")
	}
	expectNoFull(t, f, 30*time.Millisecond, "calendar switch must not run a full cycle")
}
