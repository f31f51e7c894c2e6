// Package storetest holds behaviour checks shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/caldav-tasks/internal/store"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

// Run executes the suite. newStore must return an empty store per call.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("CalendarsKeepTasks", func(t *testing.T) { testCalendarsKeepTasks(t, newStore(t)) })
	t.Run("Tasks", func(t *testing.T) { testTasks(t, newStore(t)) })
	t.Run("Tags", func(t *testing.T) { testTags(t, newStore(t)) })
	t.Run("PendingDeletions", func(t *testing.T) { testPendingDeletions(t, newStore(t)) })
	t.Run("UIState", func(t *testing.T) { testUIState(t, newStore(t)) })
}

// Account returns a fixture account with two calendars.
func Account(id string) *types.Account {
	return &types.Account{
		ID:         id,
		Name:       "Account " + id,
		ServerURL:  "https://dav.example.com/" + id,
		Username:   "me",
		ServerType: types.ServerGeneric,
		IsActive:   true,
		Calendars: []types.Calendar{
			{ID: id + "-inbox", AccountID: id, DisplayName: "Inbox", URL: "/cal/inbox/", Ctag: "1"},
			{ID: id + "-work", AccountID: id, DisplayName: "Work", URL: "/cal/work/", Color: "#ff0000", Ctag: "7"},
		},
	}
}

// Task returns a fixture task in the given calendar.
func Task(id, uid, accountID, calendarID string) *types.Task {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &types.Task{
		ID:         id,
		UID:        uid,
		AccountID:  accountID,
		CalendarID: calendarID,
		Title:      "Task " + uid,
		Priority:   types.PriorityNone,
		Tags:       []string{},
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := Account("a1")
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}
	if err := s.CreateAccount(ctx, Account("a2")); err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}

	got, err := s.GetAccount(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAccount() failed: %v", err)
	}
	if diff := cmp.Diff(a, got); diff != "" {
		t.Errorf("GetAccount() mismatch (-want +got):\n%s", diff)
	}

	all, err := s.GetAllAccounts(ctx)
	if err != nil {
		t.Fatalf("GetAllAccounts() failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "a1" || all[1].ID != "a2" {
		t.Fatalf("GetAllAccounts() = %v, want [a1 a2] in insertion order", accountIDs(all))
	}

	synced := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	err = s.UpdateAccount(ctx, "a1", func(a *types.Account) {
		a.Name = "Renamed"
		a.LastSync = &synced
		a.Calendars = []types.Calendar{a.Calendars[1], {ID: "a1-new", AccountID: "a1", DisplayName: "New"}}
	})
	if err != nil {
		t.Fatalf("UpdateAccount() failed: %v", err)
	}
	got, _ = s.GetAccount(ctx, "a1")
	if got.Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", got.Name)
	}
	if got.LastSync == nil || !got.LastSync.Equal(synced) {
		t.Errorf("LastSync = %v, want %v", got.LastSync, synced)
	}
	wantCals := []string{"a1-work", "a1-new"}
	if diff := cmp.Diff(wantCals, calendarIDs(got.Calendars)); diff != "" {
		t.Errorf("calendars mismatch (-want +got):\n%s", diff)
	}

	if err := s.UpdateAccount(ctx, "missing", func(*types.Account) {}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateAccount(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.DeleteAccount(ctx, "a2"); err != nil {
		t.Fatalf("DeleteAccount() failed: %v", err)
	}
	if _, err := s.GetAccount(ctx, "a2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetAccount(deleted) error = %v, want ErrNotFound", err)
	}
}

// Replacing an account's calendar list must not touch tasks of calendars
// that stay in the list.
func testCalendarsKeepTasks(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateAccount(ctx, Account("a1")); err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}
	if err := s.CreateTask(ctx, Task("t1", "u1", "a1", "a1-work")); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	err := s.UpdateAccount(ctx, "a1", func(a *types.Account) {
		a.Calendars[1].Ctag = "8"
	})
	if err != nil {
		t.Fatalf("UpdateAccount() failed: %v", err)
	}

	tasks, err := s.GetTasksByCalendar(ctx, "a1-work")
	if err != nil {
		t.Fatalf("GetTasksByCalendar() failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("got %d tasks after calendar update, want 1", len(tasks))
	}
}

func testTasks(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateAccount(ctx, Account("a1")); err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}

	due := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	t1 := Task("t1", "u1", "a1", "a1-inbox")
	t1.DueDate = &due
	t1.Tags = []string{"tag-a", "tag-b"}
	t1.Href = "/cal/inbox/u1.ics"
	t1.ETag = "e1"
	t1.Synced = true
	t1.URL = "https://example.com"
	t1.Priority = types.PriorityHigh

	t2 := Task("t2", "u2", "a1", "a1-inbox")
	t2.SortOrder = 1
	t3 := Task("t3", "u3", "a1", "a1-work")

	for _, task := range []*types.Task{t1, t2, t3} {
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask(%s) failed: %v", task.ID, err)
		}
	}

	if err := s.CreateTask(ctx, Task("t9", "u1", "a1", "a1-inbox")); err == nil {
		t.Error("CreateTask() with duplicate uid should fail")
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if diff := cmp.Diff(t1, got); diff != "" {
		t.Errorf("GetTask() mismatch (-want +got):\n%s", diff)
	}

	inbox, err := s.GetTasksByCalendar(ctx, "a1-inbox")
	if err != nil {
		t.Fatalf("GetTasksByCalendar() failed: %v", err)
	}
	if len(inbox) != 2 {
		t.Fatalf("got %d inbox tasks, want 2", len(inbox))
	}

	err = s.UpdateTask(ctx, "t2", func(task *types.Task) {
		task.Title = "Changed"
		task.Synced = true
		task.UID = "hijack"
	})
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	got, _ = s.GetTask(ctx, "t2")
	if got.Title != "Changed" || !got.Synced {
		t.Errorf("UpdateTask() not applied: %+v", got)
	}
	if got.UID != "u2" {
		t.Errorf("UID = %q, uid must not change", got.UID)
	}

	if err := s.DeleteTask(ctx, "t3"); err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}
	if _, err := s.GetTask(ctx, "t3"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetTask(deleted) error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteTask(ctx, "t3"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteTask(deleted) error = %v, want ErrNotFound", err)
	}
}

func testTags(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, tag := range []*types.Tag{
		{ID: "g1", Name: "Work", Color: "#111111"},
		{ID: "g2", Name: "home", Color: "#222222"},
	} {
		if err := s.CreateTag(ctx, tag); err != nil {
			t.Fatalf("CreateTag() failed: %v", err)
		}
	}
	tags, err := s.GetAllTags(ctx)
	if err != nil {
		t.Fatalf("GetAllTags() failed: %v", err)
	}
	want := []*types.Tag{
		{ID: "g1", Name: "Work", Color: "#111111"},
		{ID: "g2", Name: "home", Color: "#222222"},
	}
	if diff := cmp.Diff(want, tags); diff != "" {
		t.Errorf("GetAllTags() mismatch (-want +got):\n%s", diff)
	}
}

func testPendingDeletions(t *testing.T, s store.Store) {
	ctx := context.Background()
	queued := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, d := range []*types.PendingDeletion{
		{UID: "u1", AccountID: "a1", CalendarID: "c1", Href: "/c/1.ics", QueuedAt: queued},
		{UID: "u2", AccountID: "a1", CalendarID: "c2", Href: "/c/2.ics", QueuedAt: queued.Add(time.Second)},
	} {
		if err := s.AddPendingDeletion(ctx, d); err != nil {
			t.Fatalf("AddPendingDeletion() failed: %v", err)
		}
	}

	pending, err := s.GetPendingDeletions(ctx)
	if err != nil {
		t.Fatalf("GetPendingDeletions() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending deletions, want 2", len(pending))
	}

	if err := s.ClearPendingDeletion(ctx, "u1"); err != nil {
		t.Fatalf("ClearPendingDeletion() failed: %v", err)
	}
	if err := s.ClearPendingDeletion(ctx, "u1"); err != nil {
		t.Errorf("ClearPendingDeletion() should be idempotent: %v", err)
	}
	pending, _ = s.GetPendingDeletions(ctx)
	if len(pending) != 1 || pending[0].UID != "u2" {
		t.Errorf("pending after clear = %+v, want only u2", pending)
	}
}

func testUIState(t *testing.T, s store.Store) {
	ctx := context.Background()
	ui, err := s.GetUIState(ctx)
	if err != nil {
		t.Fatalf("GetUIState() failed: %v", err)
	}
	if ui.ActiveCalendarID != "" {
		t.Errorf("initial ActiveCalendarID = %q, want empty", ui.ActiveCalendarID)
	}

	if err := s.SetActiveCalendar(ctx, "a1", "c1"); err != nil {
		t.Fatalf("SetActiveCalendar() failed: %v", err)
	}
	ui, _ = s.GetUIState(ctx)
	if ui.ActiveAccountID != "a1" || ui.ActiveCalendarID != "c1" {
		t.Errorf("ui state = %+v, want a1/c1", ui)
	}
}

func accountIDs(accounts []*types.Account) []string {
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	return ids
}

func calendarIDs(cals []types.Calendar) []string {
	ids := make([]string, len(cals))
	for i, c := range cals {
		ids[i] = c.ID
	}
	return ids
}
