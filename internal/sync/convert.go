package sync

import (
	"time"

	"github.com/mschirtzinger/caldav-tasks/internal/remote"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

// toRemote builds the wire form of a local task. tagNames maps tag id to name;
// ids without a name are left out of the categories.
func toRemote(t *types.Task, tagNames map[string]string) remote.RemoteTask {
	names := make([]string, 0, len(t.Tags))
	for _, id := range t.Tags {
		if n, ok := tagNames[id]; ok {
			names = append(names, n)
		}
	}
	return remote.RemoteTask{
		UID:         t.UID,
		Href:        t.Href,
		ETag:        t.ETag,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		CompletedAt: t.CompletedAt,
		Priority:    t.Priority,
		StartDate:   t.StartDate,
		DueDate:     t.DueDate,
		URL:         t.URL,
		ParentUID:   t.ParentUID,
		SortOrder:   t.SortOrder,
		Categories:  types.FormatCategories(names),
		CreatedAt:   t.CreatedAt,
		ModifiedAt:  t.ModifiedAt,
	}
}

// newLocalTask creates the local copy of a task first seen on the server.
func newLocalTask(id, accountID, calendarID string, rt remote.RemoteTask, tagIDs []string, now time.Time) *types.Task {
	t := &types.Task{
		ID:         id,
		UID:        rt.UID,
		AccountID:  accountID,
		CalendarID: calendarID,
		CreatedAt:  rt.CreatedAt,
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	applyRemote(t, rt, tagIDs, now)
	return t
}

// applyRemote overwrites t with the server's version. The local id, uid,
// owner and creation time are kept.
func applyRemote(t *types.Task, rt remote.RemoteTask, tagIDs []string, now time.Time) {
	t.Href = rt.Href
	t.ETag = rt.ETag
	t.Title = rt.Title
	t.Description = rt.Description
	t.Completed = rt.Completed
	t.CompletedAt = rt.CompletedAt
	t.Priority = rt.Priority
	if t.Priority == "" {
		t.Priority = types.PriorityNone
	}
	t.StartDate = rt.StartDate
	t.DueDate = rt.DueDate
	t.URL = rt.URL
	t.ParentUID = rt.ParentUID
	t.SortOrder = rt.SortOrder
	t.Tags = tagIDs
	t.ModifiedAt = rt.ModifiedAt
	if t.ModifiedAt.IsZero() {
		t.ModifiedAt = now
	}
	t.Synced = true
}
