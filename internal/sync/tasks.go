package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/caldav-tasks/internal/remote"
	"github.com/mschirtzinger/caldav-tasks/internal/store"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

// TaskReconciler reconciles one calendar's tasks with the server.
type TaskReconciler struct {
	store     store.Store
	client    remote.Client
	tags      *TagResolver
	deletions *DeletionQueue
	logger    *log.Logger
	now       func() time.Time

	// Notify, if set, is called after a calendar has been reconciled.
	Notify func(*TaskStats)
}

// TaskStats describes what one task reconciliation did.
type TaskStats struct {
	AccountID   string     `json:"account_id"`
	CalendarID  string     `json:"calendar_id"`
	Deletions   DrainStats `json:"deletions"`
	Pushed      int        `json:"pushed"`
	PushFailed  int        `json:"push_failed"`
	PullFailed  int        `json:"pull_failed"`
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	TagsUpdated int        `json:"tags_updated"`
	Skipped     int        `json:"skipped"`
	Deleted     int        `json:"deleted"`
}

// Changed reports whether the local store was modified by pulled data.
func (s *TaskStats) Changed() bool {
	return s.Created+s.Updated+s.TagsUpdated+s.Deleted > 0
}

// findCalendar locates the account owning calendarID.
func findCalendar(ctx context.Context, s store.Store, calendarID string) (*types.Account, types.Calendar, error) {
	accounts, err := s.GetAllAccounts(ctx)
	if err != nil {
		return nil, types.Calendar{}, fmt.Errorf("failed to list accounts: %w", err)
	}
	for _, a := range accounts {
		for _, c := range a.Calendars {
			if c.ID == calendarID {
				return a, c, nil
			}
		}
	}
	return nil, types.Calendar{}, fmt.Errorf("%w: %s", ErrCalendarNotFound, calendarID)
}

// Reconcile runs the phases for one calendar in order: drain deletions,
// push unsynced tasks, fetch the server list, apply the diff by uid.
//
// Unsynced local tasks are never overwritten from the server. Synced tasks
// take the server version whenever its etag differs.
func (r *TaskReconciler) Reconcile(ctx context.Context, calendarID string) (*TaskStats, error) {
	stats := &TaskStats{CalendarID: calendarID}

	account, cal, err := findCalendar(ctx, r.store, calendarID)
	if err != nil {
		return stats, err
	}
	stats.AccountID = account.ID

	if !r.client.IsConnected(account.ID) {
		if err := r.client.Reconnect(ctx, account); err != nil {
			return stats, fmt.Errorf("failed to reconnect: %w", err)
		}
	}

	// Phase 1: deletions queued while offline.
	if stats.Deletions, err = r.deletions.Drain(ctx, account.ID, calendarID); err != nil {
		return stats, err
	}

	// Phase 2: push local changes.
	if err := r.pushUnsynced(ctx, account.ID, cal, stats); err != nil {
		return stats, err
	}

	// Phase 3: fresh local view, then the server's.
	localTasks, err := r.store.GetTasksByCalendar(ctx, calendarID)
	if err != nil {
		return stats, fmt.Errorf("failed to read local tasks: %w", err)
	}
	remoteTasks, err := r.client.FetchTasks(ctx, account.ID, cal)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch tasks: %w", err)
	}
	r.logger.Printf("Fetched %d tasks from %s", len(remoteTasks), cal.DisplayName)

	// Phase 4: diff by uid.
	r.applyDiff(ctx, account.ID, calendarID, localTasks, remoteTasks, stats)

	// Phase 5.
	if r.Notify != nil {
		r.Notify(stats)
	}
	return stats, nil
}

func (r *TaskReconciler) tagNames(ctx context.Context) (map[string]string, error) {
	tags, err := r.store.GetAllTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	names := make(map[string]string, len(tags))
	for _, t := range tags {
		names[t.ID] = t.Name
	}
	return names, nil
}

func (r *TaskReconciler) pushUnsynced(ctx context.Context, accountID string, cal types.Calendar, stats *TaskStats) error {
	tasks, err := r.store.GetTasksByCalendar(ctx, cal.ID)
	if err != nil {
		return fmt.Errorf("failed to read local tasks: %w", err)
	}
	names, err := r.tagNames(ctx)
	if err != nil {
		return err
	}

	for _, t := range tasks {
		if t.Synced {
			continue
		}
		if err := r.push(ctx, accountID, cal, t, names); err != nil {
			r.logger.Printf("WARNING: Failed to push task %s: %v", t.Title, err)
			stats.PushFailed++
			continue
		}
		stats.Pushed++
	}
	return nil
}

// push sends one task to the server and records the result. If the task was
// edited locally while the request was in flight it stays unsynced so the
// newer edit is pushed next time.
func (r *TaskReconciler) push(ctx context.Context, accountID string, cal types.Calendar, t *types.Task, names map[string]string) error {
	rt := toRemote(t, names)
	pushedAt := t.ModifiedAt

	if t.Href != "" {
		r.logger.Printf("Updating task on server: %s", t.Title)
		res, err := r.client.UpdateTask(ctx, accountID, rt)
		if err != nil {
			return err
		}
		return r.store.UpdateTask(ctx, t.ID, func(cur *types.Task) {
			cur.ETag = res.ETag
			cur.Synced = cur.ModifiedAt.Equal(pushedAt)
		})
	}

	r.logger.Printf("Creating task on server: %s", t.Title)
	res, err := r.client.CreateTask(ctx, accountID, cal, rt)
	if err != nil {
		return err
	}
	return r.store.UpdateTask(ctx, t.ID, func(cur *types.Task) {
		cur.Href = res.Href
		cur.ETag = res.ETag
		cur.Synced = cur.ModifiedAt.Equal(pushedAt)
	})
}

// applyDiff writes each remote task independently. A store error on one task
// is logged and counted in PullFailed; the rest of the diff still applies.
func (r *TaskReconciler) applyDiff(ctx context.Context, accountID, calendarID string, localTasks []*types.Task, remoteTasks []remote.RemoteTask, stats *TaskStats) {
	byUID := make(map[string]*types.Task, len(localTasks))
	for _, t := range localTasks {
		byUID[t.UID] = t
	}

	remoteUIDs := make(map[string]bool, len(remoteTasks))
	for _, rt := range remoteTasks {
		if rt.UID == "" || remoteUIDs[rt.UID] {
			continue
		}
		remoteUIDs[rt.UID] = true

		if err := r.pull(ctx, accountID, calendarID, byUID[rt.UID], rt, stats); err != nil {
			r.logger.Printf("WARNING: Failed to apply server task %s: %v", rt.UID, err)
			stats.PullFailed++
		}
	}

	for _, t := range localTasks {
		if !t.Synced || remoteUIDs[t.UID] {
			continue
		}
		r.logger.Printf("Task deleted on server: %s", t.Title)
		if err := r.store.DeleteTask(ctx, t.ID); err != nil {
			r.logger.Printf("WARNING: Failed to delete task %s: %v", t.UID, err)
			stats.PullFailed++
			continue
		}
		stats.Deleted++
	}
}

// pull applies one remote task. local is nil when the uid is new here.
func (r *TaskReconciler) pull(ctx context.Context, accountID, calendarID string, local *types.Task, rt remote.RemoteTask, stats *TaskStats) error {
	tagIDs, err := r.tags.ResolveAll(ctx, types.ParseCategories(rt.Categories))
	if err != nil {
		return err
	}

	switch {
	case local == nil:
		r.logger.Printf("Adding new task from server: %s", rt.Title)
		t := newLocalTask(uuid.NewString(), accountID, calendarID, rt, tagIDs, r.now())
		if err := r.store.CreateTask(ctx, t); err != nil {
			return fmt.Errorf("failed to create task %s: %w", rt.UID, err)
		}
		stats.Created++

	case rt.ETag != local.ETag:
		if !local.Synced {
			r.logger.Printf("Skipping server update for %s - local changes pending", rt.Title)
			stats.Skipped++
			return nil
		}
		r.logger.Printf("Updating task from server: %s", rt.Title)
		err := r.store.UpdateTask(ctx, local.ID, func(t *types.Task) {
			applyRemote(t, rt, tagIDs, r.now())
		})
		if err != nil {
			return fmt.Errorf("failed to update task %s: %w", rt.UID, err)
		}
		stats.Updated++

	case local.Synced && !types.SameTagSet(tagIDs, local.Tags):
		r.logger.Printf("Syncing tags for task: %s", rt.Title)
		err := r.store.UpdateTask(ctx, local.ID, func(t *types.Task) {
			t.Tags = tagIDs
		})
		if err != nil {
			return fmt.Errorf("failed to update tags of %s: %w", rt.UID, err)
		}
		stats.TagsUpdated++
	}
	return nil
}
