// Package remote defines the calendar server client the sync engine calls
// into, plus a Pool that routes calls to per-account sessions.
//
// Backends register a SessionConstructor for a server type from an init()
// function, the same way database drivers do:
//
//	import _ "github.com/mschirtzinger/caldav-tasks/internal/remote/filedav"
package remote

import (
	"context"
	"time"

	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

// RemoteCalendar is a calendar as reported by the server.
type RemoteCalendar struct {
	ID          string
	DisplayName string
	URL         string
	Color       string
	Ctag        string
	SyncToken   string
}

// RemoteTask is a VTODO resource as reported by the server.
// Categories holds the raw comma separated CATEGORIES value.
type RemoteTask struct {
	UID         string
	Href        string
	ETag        string
	Title       string
	Description string
	Completed   bool
	CompletedAt *time.Time
	Priority    types.Priority
	StartDate   *time.Time
	DueDate     *time.Time
	URL         string
	ParentUID   string
	SortOrder   int
	Categories  string
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// TaskRef addresses a resource for deletion.
type TaskRef struct {
	Href string
}

// CreateResult is returned by a successful create.
type CreateResult struct {
	Href string
	ETag string
}

// UpdateResult is returned by a successful update.
type UpdateResult struct {
	ETag string
}

// Client is the remote calendar client consumed by the sync engine.
// Every call except IsConnected may block on the network.
type Client interface {
	IsConnected(accountID string) bool
	Reconnect(ctx context.Context, account *types.Account) error
	FetchCalendars(ctx context.Context, accountID string) ([]RemoteCalendar, error)
	FetchTasks(ctx context.Context, accountID string, cal types.Calendar) ([]RemoteTask, error)
	CreateTask(ctx context.Context, accountID string, cal types.Calendar, task RemoteTask) (CreateResult, error)
	UpdateTask(ctx context.Context, accountID string, task RemoteTask) (UpdateResult, error)
	DeleteTask(ctx context.Context, accountID string, ref TaskRef) (bool, error)
}

// Session is an established connection to one account's server.
type Session interface {
	FetchCalendars(ctx context.Context) ([]RemoteCalendar, error)
	FetchTasks(ctx context.Context, cal types.Calendar) ([]RemoteTask, error)
	CreateTask(ctx context.Context, cal types.Calendar, task RemoteTask) (CreateResult, error)
	UpdateTask(ctx context.Context, task RemoteTask) (UpdateResult, error)
	DeleteTask(ctx context.Context, ref TaskRef) (bool, error)
	Close() error
}
