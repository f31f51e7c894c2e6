// Package tasks implements local task edits. Every edit marks the task
// unsynced so the next sync pushes it; deletes of tasks the server already
// knows are queued for the server.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/caldav-tasks/internal/store"
	tasksync "github.com/mschirtzinger/caldav-tasks/internal/sync"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

// ErrEmptyTitle is returned when a task would have no title.
var ErrEmptyTitle = errors.New("title cannot be empty")

// Draft holds the fields of a new task.
type Draft struct {
	AccountID   string
	CalendarID  string
	Title       string
	Description string
	Priority    types.Priority
	StartDate   *time.Time
	DueDate     *time.Time
	URL         string
	ParentUID   string
	// Tags are names; missing tags are created.
	Tags []string
}

// Editor applies local changes to the store.
type Editor struct {
	store store.Store
	tags  *tasksync.TagResolver
	now   func() time.Time
}

// NewEditor creates an Editor. now may be nil.
func NewEditor(s store.Store, now func() time.Time) *Editor {
	if now == nil {
		now = time.Now
	}
	return &Editor{store: s, tags: tasksync.NewTagResolver(s, nil), now: now}
}

// Create stores a new unsynced task at the end of its calendar.
func (e *Editor) Create(ctx context.Context, d Draft) (*types.Task, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if d.Priority == "" {
		d.Priority = types.PriorityNone
	}
	if !d.Priority.IsValid() {
		return nil, fmt.Errorf("invalid priority %q", d.Priority)
	}

	existing, err := e.store.GetTasksByCalendar(ctx, d.CalendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	order := 0
	for _, t := range existing {
		if t.SortOrder >= order {
			order = t.SortOrder + 1
		}
	}

	tagIDs, err := e.tags.ResolveAll(ctx, d.Tags)
	if err != nil {
		return nil, err
	}

	now := e.now()
	task := &types.Task{
		ID:          uuid.NewString(),
		UID:         uuid.NewString(),
		AccountID:   d.AccountID,
		CalendarID:  d.CalendarID,
		Title:       title,
		Description: d.Description,
		Priority:    d.Priority,
		StartDate:   d.StartDate,
		DueDate:     d.DueDate,
		URL:         d.URL,
		ParentUID:   d.ParentUID,
		SortOrder:   order,
		Tags:        tagIDs,
		CreatedAt:   now,
		ModifiedAt:  now,
		Synced:      false,
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// Edit applies mutate to the task and marks it unsynced.
func (e *Editor) Edit(ctx context.Context, id string, mutate func(*types.Task)) error {
	var invalid error
	err := e.store.UpdateTask(ctx, id, func(t *types.Task) {
		before := t.Clone()
		mutate(t)
		t.Title = strings.TrimSpace(t.Title)
		if t.Title == "" {
			invalid = ErrEmptyTitle
		} else if !t.Priority.IsValid() {
			invalid = fmt.Errorf("invalid priority %q", t.Priority)
		}
		if invalid != nil {
			*t = *before
			return
		}
		t.Synced = false
		t.ModifiedAt = e.now()
	})
	if err != nil {
		return err
	}
	return invalid
}

// SetTags replaces the task's tags by name.
func (e *Editor) SetTags(ctx context.Context, id string, names []string) error {
	ids, err := e.tags.ResolveAll(ctx, names)
	if err != nil {
		return err
	}
	return e.Edit(ctx, id, func(t *types.Task) { t.Tags = ids })
}

// Complete marks the task done or not done.
func (e *Editor) Complete(ctx context.Context, id string, done bool) error {
	at := e.now()
	return e.Edit(ctx, id, func(t *types.Task) {
		t.Completed = done
		if done {
			t.CompletedAt = &at
		} else {
			t.CompletedAt = nil
		}
	})
}

// Delete removes the task locally. If the server has a copy, a pending
// deletion is queued first so the next sync removes it there too.
func (e *Editor) Delete(ctx context.Context, id string) error {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.Href != "" {
		err := e.store.AddPendingDeletion(ctx, &types.PendingDeletion{
			UID:        t.UID,
			AccountID:  t.AccountID,
			CalendarID: t.CalendarID,
			Href:       t.Href,
			QueuedAt:   e.now(),
		})
		if err != nil {
			return fmt.Errorf("failed to queue server deletion: %w", err)
		}
	}
	if err := e.store.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// Find returns the one task in calendarID whose id or uid starts with
// prefix.
func Find(ctx context.Context, s store.Store, calendarID, prefix string) (*types.Task, error) {
	if prefix == "" {
		return nil, fmt.Errorf("task id cannot be empty")
	}
	list, err := s.GetTasksByCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	var match *types.Task
	for _, t := range list {
		if t.ID == prefix || t.UID == prefix {
			return t, nil
		}
		if strings.HasPrefix(t.ID, prefix) || strings.HasPrefix(t.UID, prefix) {
			if match != nil && match.ID != t.ID {
				return nil, fmt.Errorf("task id %q is ambiguous", prefix)
			}
			match = t
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: task %s", store.ErrNotFound, prefix)
	}
	return match, nil
}
