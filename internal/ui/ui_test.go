package ui

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	tasksync "github.com/mschirtzinger/caldav-tasks/internal/sync"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

func TestMain(m *testing.M) {
	DisableColor()
	os.Exit(m.Run())
}

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func TestTaskLine(t *testing.T) {
	due := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tags := map[string]*types.Tag{"g1": {ID: "g1", Name: "Work", Color: "#ff0000"}}

	tests := []struct {
		name string
		task *types.Task
		want []string
		not  []string
	}{
		{
			name: "open synced",
			task: &types.Task{ID: "0123456789", Title: "Write report", Priority: types.PriorityHigh, DueDate: &due, Tags: []string{"g1", "gone"}, Synced: true},
			want: []string{"01234567 [ ] Write report", "!high", "due 2026-05", "#Work"},
			not:  []string{"*", "0123456789"},
		},
		{
			name: "done pending push",
			task: &types.Task{ID: "t1", Title: "Done thing", Completed: true, Priority: types.PriorityNone},
			want: []string{"[x] Done thing", "*"},
			not:  []string{"!"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TaskLine(tt.task, tags, now)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("TaskLine() = %q, missing %q", got, w)
				}
			}
			for _, n := range tt.not {
				if strings.Contains(got, n) {
					t.Errorf("TaskLine() = %q, must not contain %q", got, n)
				}
			}
		})
	}
}

func TestTaskList_NestsSubtasks(t *testing.T) {
	list := []*types.Task{
		{ID: "c", UID: "uc", Title: "child", ParentUID: "ua", SortOrder: 2, Synced: true},
		{ID: "b", UID: "ub", Title: "second", SortOrder: 1, Synced: true},
		{ID: "a", UID: "ua", Title: "first", SortOrder: 0, Synced: true},
		{ID: "o", UID: "uo", Title: "orphan", ParentUID: "missing", SortOrder: 3, Synced: true},
	}
	lines := strings.Split(TaskList(list, nil, now), "\n")
	want := []string{"a [ ] first", "  c [ ] child", "b [ ] second", "o [ ] orphan"}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestStatusBlock(t *testing.T) {
	last := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	got := StatusBlock(tasksync.Status{IsOffline: true, LastSyncError: tasksync.OfflineMessage, LastSyncTime: &last})
	for _, w := range []string{"error", "offline", tasksync.OfflineMessage} {
		if !strings.Contains(got, w) {
			t.Errorf("StatusBlock() missing %q:\n%s", w, got)
		}
	}

	got = StatusBlock(tasksync.Status{})
	if !strings.Contains(got, "never") || !strings.Contains(got, "idle") {
		t.Errorf("StatusBlock(zero) = %q", got)
	}
}

func TestCycleSummary(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &tasksync.CycleResult{
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Accounts:   1,
		Tasks: []*tasksync.TaskStats{
			{Pushed: 2, Created: 1, Updated: 1, TagsUpdated: 1},
			{Deleted: 3, Skipped: 1, PushFailed: 1, PullFailed: 1},
		},
		Errors: []*tasksync.UnitError{{Kind: tasksync.KindTasks, AccountID: "a1", CalendarID: "c9", Err: errors.New("timeout")}},
	}
	got := CycleSummary(r)
	for _, w := range []string{"1 account(s), 2 calendar(s) in 1.5s", "Pushed: 2", "1 new, 2 updated", "Removed: 3", "Kept local: 1", "Failed: 2", "calendar c9: timeout"} {
		if !strings.Contains(got, w) {
			t.Errorf("CycleSummary() missing %q:\n%s", w, got)
		}
	}
}

func TestAccountBlock(t *testing.T) {
	a := &types.Account{Name: "Home", ServerType: types.ServerFile, ServerURL: "file:///srv/cal", Calendars: []types.Calendar{
		{ID: "inbox", DisplayName: "Inbox"},
		{ID: "work", DisplayName: "Work"},
	}}
	got := AccountBlock(a, "work")
	if !strings.Contains(got, "▸ ● Work work") {
		t.Errorf("active calendar not marked:\n%s", got)
	}
	if strings.Contains(got, "▸ ● Inbox") {
		t.Errorf("inactive calendar marked:\n%s", got)
	}

	empty := AccountBlock(&types.Account{Name: "New"}, "")
	if !strings.Contains(empty, "no calendars yet") {
		t.Errorf("AccountBlock(empty) = %q", empty)
	}
}
