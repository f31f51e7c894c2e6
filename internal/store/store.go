// Package store defines the local repository the sync engine reads and writes.
//
// Implementations are synchronous and offer no transaction isolation across
// calls. Callers that need a consistent view re-read after each mutation.
package store

import (
	"context"
	"errors"

	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

// ErrNotFound is returned when a lookup by id matches nothing.
var ErrNotFound = errors.New("not found")

// Store is the local data repository.
//
// UpdateAccount and UpdateTask apply mutate to the current record and persist
// the result. The id fields of the record are not allowed to change.
type Store interface {
	GetAllAccounts(ctx context.Context) ([]*types.Account, error)
	GetAccount(ctx context.Context, id string) (*types.Account, error)
	CreateAccount(ctx context.Context, account *types.Account) error
	UpdateAccount(ctx context.Context, id string, mutate func(*types.Account)) error
	DeleteAccount(ctx context.Context, id string) error

	GetTasksByCalendar(ctx context.Context, calendarID string) ([]*types.Task, error)
	GetTask(ctx context.Context, id string) (*types.Task, error)
	CreateTask(ctx context.Context, task *types.Task) error
	UpdateTask(ctx context.Context, id string, mutate func(*types.Task)) error
	DeleteTask(ctx context.Context, id string) error

	GetAllTags(ctx context.Context) ([]*types.Tag, error)
	CreateTag(ctx context.Context, tag *types.Tag) error

	GetPendingDeletions(ctx context.Context) ([]*types.PendingDeletion, error)
	AddPendingDeletion(ctx context.Context, d *types.PendingDeletion) error
	ClearPendingDeletion(ctx context.Context, uid string) error

	GetUIState(ctx context.Context) (*types.UIState, error)
	SetActiveCalendar(ctx context.Context, accountID, calendarID string) error
}
