package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/caldav-tasks/internal/remote"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

func reconcile(t *testing.T, h *harness, calID string) *TaskStats {
	t.Helper()
	stats, err := h.engine.tasks.Reconcile(context.Background(), calID)
	if err != nil {
		t.Fatalf("Reconcile(%s) failed: %v", calID, err)
	}
	return stats
}

func TestTaskReconciler_SyncedLosesToNewerETag(t *testing.T) {
	h := newHarness(t)
	h.addAccount(t, "a1", "c")
	h.addLocalTask(t, &types.Task{UID: "t1", AccountID: "a1", CalendarID: "c", Href: "/c/1.ics", ETag: "e1", Title: "Buy milk", Synced: true})
	h.client.addTask("c", remote.RemoteTask{UID: "t1", Href: "/c/1.ics", ETag: "e2", Title: "Buy oat milk"})

	stats := reconcile(t, h, "c")
	if stats.Updated != 1 {
		t.Errorf("Updated = %d, want 1", stats.Updated)
	}

	got := h.taskByUID(t, "c", "t1")
	if got.ETag != "e2" || got.Title != "Buy oat milk" || !got.Synced {
		t.Errorf("task = %+v, want etag e2, title Buy oat milk, synced", got)
	}
	if got.ID != "local-t1" {
		t.Errorf("local id changed to %s", got.ID)
	}
}

func TestTaskReconciler_UnsyncedWins(t *testing.T) {
	h := newHarness(t)
	h.addAccount(t, "a1", "c")
	// The push fails, so the local edit is still pending when the pull runs.
	h.client.updateErr["t1"] = errNetwork
	h.addLocalTask(t, &types.Task{UID: "t1", AccountID: "a1", CalendarID: "c", Href: "/c/1.ics", ETag: "e1", Title: "Local edit"})
	h.client.addTask("c", remote.RemoteTask{UID: "t1", Href: "/c/1.ics", ETag: "e2", Title: "Server edit"})

	stats := reconcile(t, h, "c")
	if stats.PushFailed != 1 || stats.Skipped != 1 || stats.Updated != 0 {
		t.Errorf("stats = %+v, want 1 push failure, 1 skipped, 0 updated", stats)
	}

	got := h.taskByUID(t, "c", "t1")
	if got.Title != "Local edit" || got.ETag != "e1" || got.Synced {
		t.Errorf("unsynced task overwritten: %+v", got)
	}
}

func TestTaskReconciler_PushCreatesNewTask(t *testing.T) {
	h := newHarness(t)
	h.addAccount(t, "a1", "c")
	h.addLocalTask(t, &types.Task{UID: "t2", AccountID: "a1", CalendarID: "c", Title: "New"})

	stats := reconcile(t, h, "c")
	if stats.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", stats.Pushed)
	}
	if diff := cmp.Diff([]string{"t2"}, h.client.creates); diff != "" {
		t.Errorf("creates mismatch (-want +got):\n%s", diff)
	}

	got := h.taskByUID(t, "c", "t2")
	srv, _ := h.client.serverTask("c", "t2")
	if got.Href != srv.Href || got.ETag != srv.ETag || !got.Synced {
		t.Errorf("task = %+v, want href %s etag %s synced", got, srv.Href, srv.ETag)
	}
	if stats.Created != 0 || stats.Deleted != 0 {
		t.Errorf("pushed task should match the server copy on pull: %+v", stats)
	}
}

func TestTaskReconciler_PushUpdateSendsCategories(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAccount(t, "a1", "c")
	if err := h.store.CreateTag(ctx, &types.Tag{ID: "tag-w", Name: "Work"}); err != nil {
		t.Fatal(err)
	}
	h.client.addTask("c", remote.RemoteTask{UID: "t1", Href: "/c/1.ics", ETag: "e1", Title: "Old"})
	h.addLocalTask(t, &types.Task{UID: "t1", AccountID: "a1", CalendarID: "c", Href: "/c/1.ics", ETag: "e1", Title: "Edited", Tags: []string{"tag-w", "dangling"}})

	reconcile(t, h, "c")

	srv, _ := h.client.serverTask("c", "t1")
	if srv.Title != "Edited" || srv.Categories != "Work" {
		t.Errorf("server task = %+v, want title Edited categories Work", srv)
	}
	got := h.taskByUID(t, "c", "t1")
	if !got.Synced || got.ETag != srv.ETag {
		t.Errorf("task after push = %+v", got)
	}
}

func TestTaskReconciler_PushFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t)
	h.addAccount(t, "a1", "c")
	h.client.createErr["bad"] = errNetwork
	h.addLocalTask(t, &types.Task{UID: "bad", AccountID: "a1", CalendarID: "c", Title: "Bad"})
	h.addLocalTask(t, &types.Task{UID: "good", AccountID: "a1", CalendarID: "c", Title: "Good"})

	stats := reconcile(t, h, "c")
	if stats.Pushed != 1 || stats.PushFailed != 1 {
		t.Errorf("stats = %+v, want 1 pushed 1 failed", stats)
	}
	if bad := h.taskByUID(t, "c", "bad"); bad == nil || bad.Synced || bad.Href != "" {
		t.Errorf("failed push must leave the task unsynced: %+v", bad)
	}
	if good := h.taskByUID(t, "c", "good"); good == nil || !good.Synced {
		t.Errorf("good task not pushed: %+v", good)
	}
}

func TestTaskReconciler_EditDuringPushStaysUnsynced(t *testing.T) {
	h := newHarness(t)
	h.addAccount(t, "a1", "c")
	h.client.addTask("c", remote.RemoteTask{UID: "t1", Href: "/c/1.ics", ETag: "e1", Title: "v1"})
	h.addLocalTask(t, &types.Task{UID: "t1", AccountID: "a1", CalendarID: "c", Href: "/c/1.ics", ETag: "e1", Title: "v2"})

	h.client.beforeUpdate = func(remote.RemoteTask) {
		_ = h.store.UpdateTask(context.Background(), "local-t1", func(t *types.Task) {
			t.Title = "v3"
			t.ModifiedAt = fixedNow.Add(time.Minute)
		})
	}

	reconcile(t, h, "c")

	got := h.taskByUID(t, "c", "t1")
	if got.Synced || got.Title != "v3" {
		t.Errorf("edit made during push was lost: %+v", got)
	}
}

func TestTaskReconciler_NewRemoteTaskResolvesTags(t *testing.T) {
	h := newHarness(t)
	h.addAccount(t, "a1", "c")
	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	h.client.addTask("c", remote.RemoteTask{
		UID: "r1", Title: "From server", Categories: "Work, home,,", DueDate: &due,
		Priority: types.PriorityHigh, SortOrder: 3,
	})
	h.client.addTask("c", remote.RemoteTask{UID: "r2", Title: "Also", Categories: "work"})

	stats := reconcile(t, h, "c")
	if stats.Created != 2 {
		t.Errorf("Created = %d, want 2", stats.Created)
	}

	if diff := cmp.Diff([]string{"Work", "home"}, h.tagNames(t)); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	r1 := h.taskByUID(t, "c", "r1")
	r2 := h.taskByUID(t, "c", "r2")
	if !r1.Synced || r1.AccountID != "a1" || r1.CalendarID != "c" || len(r1.Tags) != 2 {
		t.Errorf("r1 = %+v", r1)
	}
	if r1.DueDate == nil || !r1.DueDate.Equal(due) || r1.Priority != types.PriorityHigh || r1.SortOrder != 3 {
		t.Errorf("r1 fields not carried over: %+v", r1)
	}
	if len(r2.Tags) != 1 || r2.Tags[0] != r1.Tags[0] {
		t.Errorf("r2 tags = %v, want the Work tag %s", r2.Tags, r1.Tags[0])
	}
	if r1.ID == "" || r1.ID == r2.ID {
		t.Errorf("local ids not assigned: %q %q", r1.ID, r2.ID)
	}
}

func TestTaskReconciler_TagsOnlyUpdate(t *testing.T) {
	h := newHarness(t)
	h.addAccount(t, "a1", "c")
	h.client.addTask("c", remote.RemoteTask{UID: "t1", Href: "/c/1.ics", ETag: "e1", Title: "Same", Categories: "Errands"})
	h.addLocalTask(t, &types.Task{UID: "t1", AccountID: "a1", CalendarID: "c", Href: "/c/1.ics", ETag: "e1", Title: "Same", Synced: true})

	stats := reconcile(t, h, "c")
	if stats.TagsUpdated != 1 || stats.Updated != 0 {
		t.Errorf("stats = %+v, want tags-only update", stats)
	}
	got := h.taskByUID(t, "c", "t1")
	if len(got.Tags) != 1 || !got.Synced || got.ETag != "e1" {
		t.Errorf("task = %+v", got)
	}
}

func TestTaskReconciler_DeletionPropagation(t *testing.T) {
	h := newHarness(t)
	h.addAccount(t, "a1", "c")
	h.client.addTask("c", remote.RemoteTask{UID: "keep", Href: "/c/keep.ics", ETag: "e1", Title: "Keep"})
	h.addLocalTask(t, &types.Task{UID: "keep", AccountID: "a1", CalendarID: "c", Href: "/c/keep.ics", ETag: "e1", Title: "Keep", Synced: true})
	h.addLocalTask(t, &types.Task{UID: "gone", AccountID: "a1", CalendarID: "c", Href: "/c/gone.ics", ETag: "e1", Title: "Gone", Synced: true})

	// Fails to push, so it is still unsynced at diff time and must survive.
	h.client.createErr["draft"] = errNetwork
	h.addLocalTask(t, &types.Task{UID: "draft", AccountID: "a1", CalendarID: "c", Title: "Draft"})

	stats := reconcile(t, h, "c")
	if stats.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", stats.Deleted)
	}
	if h.taskByUID(t, "c", "gone") != nil {
		t.Error("synced task missing on server was not deleted")
	}
	if h.taskByUID(t, "c", "keep") == nil || h.taskByUID(t, "c", "draft") == nil {
		t.Error("wrong tasks deleted")
	}
}

func TestTaskReconciler_PullFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t)
	h.addAccount(t, "a1", "b", "a")
	// t1 was moved from a to b on the server; a still holds it locally, so
	// creating it in b collides on the uid.
	h.addLocalTask(t, &types.Task{UID: "t1", AccountID: "a1", CalendarID: "a", Href: "/a/t1.ics", ETag: "e1", Title: "Moved", Synced: true})
	h.addLocalTask(t, &types.Task{UID: "t9", AccountID: "a1", CalendarID: "b", Href: "/b/t9.ics", ETag: "e1", Title: "Gone", Synced: true})
	h.client.addTask("b", remote.RemoteTask{UID: "t1", Href: "/b/t1.ics", ETag: "e2", Title: "Moved"})
	h.client.addTask("b", remote.RemoteTask{UID: "t2", Href: "/b/t2.ics", ETag: "e1", Title: "New"})

	stats := reconcile(t, h, "b")
	if stats.PullFailed != 1 || stats.Created != 1 || stats.Deleted != 1 {
		t.Errorf("stats = %+v, want 1 pull failure, 1 created, 1 deleted", stats)
	}
	if h.taskByUID(t, "b", "t2") == nil {
		t.Error("task after the failing uid was not pulled")
	}
	if h.taskByUID(t, "b", "t9") != nil {
		t.Error("deletion pass skipped after a pull failure")
	}
	if h.taskByUID(t, "a", "t1") == nil {
		t.Error("colliding task removed from its old calendar")
	}
}

func TestTaskReconciler_DrainsDeletionsFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAccount(t, "a1", "c")
	h.client.addTask("c", remote.RemoteTask{UID: "t3", Href: "/c/3.ics", Title: "Deleted locally"})
	if err := h.store.AddPendingDeletion(ctx, &types.PendingDeletion{UID: "t3", AccountID: "a1", CalendarID: "c", Href: "/c/3.ics"}); err != nil {
		t.Fatal(err)
	}

	stats := reconcile(t, h, "c")
	if stats.Deletions.Deleted != 1 {
		t.Errorf("Deletions = %+v, want 1 deleted", stats.Deletions)
	}
	// Drained before the pull, so the task is not recreated locally.
	if stats.Created != 0 || h.taskByUID(t, "c", "t3") != nil {
		t.Error("queued deletion was resurrected by the pull")
	}
}

func TestTaskReconciler_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.addAccount(t, "a1", "c")
	h.client.addTask("c", remote.RemoteTask{UID: "r1", Title: "One", Categories: "A,B"})
	h.client.addTask("c", remote.RemoteTask{UID: "r2", Title: "Two", Categories: "b"})
	h.addLocalTask(t, &types.Task{UID: "l1", AccountID: "a1", CalendarID: "c", Title: "Local", Tags: []string{}})

	reconcile(t, h, "c")
	writes := h.store.Writes()
	tags := h.tagNames(t)

	stats := reconcile(t, h, "c")
	if stats.Changed() || stats.Pushed != 0 {
		t.Errorf("second pass changed data: %+v", stats)
	}
	if got := h.store.Writes(); got != writes {
		t.Errorf("second pass wrote %d times", got-writes)
	}
	if diff := cmp.Diff(tags, h.tagNames(t)); diff != "" {
		t.Errorf("tags changed on second pass (-want +got):\n%s", diff)
	}
	for _, uid := range []string{"r1", "r2", "l1"} {
		if task := h.taskByUID(t, "c", uid); task == nil || !task.Synced {
			t.Errorf("task %s = %+v, want synced", uid, task)
		}
	}
}

func TestTaskReconciler_Errors(t *testing.T) {
	t.Run("unknown calendar", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.tasks.Reconcile(context.Background(), "nope")
		if !errors.Is(err, ErrCalendarNotFound) {
			t.Errorf("error = %v, want ErrCalendarNotFound", err)
		}
	})

	t.Run("fetch failure keeps pushed state", func(t *testing.T) {
		h := newHarness(t)
		h.addAccount(t, "a1", "c")
		h.client.fetchTasksErr["c"] = errNetwork
		h.addLocalTask(t, &types.Task{UID: "t1", AccountID: "a1", CalendarID: "c", Title: "x"})

		_, err := h.engine.tasks.Reconcile(context.Background(), "c")
		if !errors.Is(err, errNetwork) {
			t.Fatalf("error = %v, want network error", err)
		}
		if got := h.taskByUID(t, "c", "t1"); !got.Synced {
			t.Error("push result lost after fetch failure")
		}
	})

	t.Run("reconnect failure", func(t *testing.T) {
		h := newHarness(t)
		h.addAccount(t, "a1", "c")
		h.client.connected["a1"] = false
		h.client.reconnectErr["a1"] = remote.ErrUnauthorized

		_, err := h.engine.tasks.Reconcile(context.Background(), "c")
		if !remote.IsAuth(err) {
			t.Errorf("error = %v, want auth error", err)
		}
	})
}

func TestTaskReconciler_Notify(t *testing.T) {
	h := newHarness(t)
	h.addAccount(t, "a1", "c")

	var events []Event
	h.engine.Subscribe(func(ev Event) { events = append(events, ev) })

	reconcile(t, h, "c")
	if len(events) != 1 || events[0].Kind != EventCalendarSynced || events[0].Tasks.CalendarID != "c" {
		t.Errorf("events = %+v, want one calendar_synced for c", events)
	}
}
