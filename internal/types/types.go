// Package types defines the local data model shared by the store, the sync
// engine and the CLI.
package types

import (
	"slices"
	"strings"
	"time"
)

// ServerType names the remote backend an account talks to.
type ServerType string

const (
	ServerGeneric   ServerType = "generic"
	ServerNextcloud ServerType = "nextcloud"
	ServerRadicale  ServerType = "radicale"
	ServerBaikal    ServerType = "baikal"
	ServerFile      ServerType = "file"
)

// Account is a configured remote server together with its calendars.
// Calendars are kept in server order.
type Account struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	ServerURL  string     `json:"server_url"`
	Username   string     `json:"username"`
	Password   string     `json:"password,omitempty"`
	ServerType ServerType `json:"server_type"`
	LastSync   *time.Time `json:"last_sync,omitempty"`
	IsActive   bool       `json:"is_active"`
	Calendars  []Calendar `json:"calendars"`
}

// Calendar is a task collection on a remote server.
// Ctag and SyncToken are opaque change markers assigned by the server.
type Calendar struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
	Color       string `json:"color,omitempty"`
	Ctag        string `json:"ctag,omitempty"`
	SyncToken   string `json:"sync_token,omitempty"`
}

// Equal reports whether c and o carry identical fields.
func (c Calendar) Equal(o Calendar) bool {
	return c.ID == o.ID &&
		c.AccountID == o.AccountID &&
		c.DisplayName == o.DisplayName &&
		c.URL == o.URL &&
		c.Color == o.Color &&
		c.Ctag == o.Ctag &&
		c.SyncToken == o.SyncToken
}

// CalendarsEqual compares two calendar lists element by element, order included.
func CalendarsEqual(a, b []Calendar) bool {
	return slices.EqualFunc(a, b, Calendar.Equal)
}

// Task is the local copy of a VTODO.
//
// UID is shared with the server and never changes. ID is local only.
// Href and ETag are set once the server has confirmed the resource.
// Synced is false while the local copy holds edits the server has not accepted.
type Task struct {
	ID          string     `json:"id"`
	UID         string     `json:"uid"`
	AccountID   string     `json:"account_id"`
	CalendarID  string     `json:"calendar_id"`
	Href        string     `json:"href,omitempty"`
	ETag        string     `json:"etag,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Priority    Priority   `json:"priority"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	URL         string     `json:"url,omitempty"`
	ParentUID   string     `json:"parent_uid,omitempty"`
	SortOrder   int        `json:"sort_order"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"created_at"`
	ModifiedAt  time.Time  `json:"modified_at"`
	Synced      bool       `json:"synced"`
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Tags = slices.Clone(t.Tags)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.StartDate = cloneTime(t.StartDate)
	c.DueDate = cloneTime(t.DueDate)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Priority follows the iCalendar PRIORITY buckets.
type Priority string

const (
	PriorityNone   Priority = "none"
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid checks if the priority value is valid.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityNone, PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Tag is a local label. Name is unique ignoring case.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// PendingDeletion records a local delete that has not reached the server yet.
type PendingDeletion struct {
	UID        string    `json:"uid"`
	AccountID  string    `json:"account_id"`
	CalendarID string    `json:"calendar_id"`
	Href       string    `json:"href"`
	QueuedAt   time.Time `json:"queued_at"`
}

// UIState is the persisted selection of the front end.
type UIState struct {
	ActiveAccountID  string `json:"active_account_id,omitempty"`
	ActiveCalendarID string `json:"active_calendar_id,omitempty"`
	ActiveTagID      string `json:"active_tag_id,omitempty"`
	SelectedTaskID   string `json:"selected_task_id,omitempty"`
}

// ParseCategories splits a CATEGORIES value into tag names.
// Segments are trimmed and empty ones dropped.
func ParseCategories(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

// FormatCategories is the inverse of ParseCategories.
func FormatCategories(names []string) string {
	return strings.Join(names, ",")
}

// SameTagSet reports whether a and b hold the same ids, ignoring order and duplicates.
func SameTagSet(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	other := make(map[string]bool, len(b))
	for _, id := range b {
		if !set[id] {
			return false
		}
		other[id] = true
	}
	return len(set) == len(other)
}
