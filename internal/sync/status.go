package sync

import "time"

// Status is the sync state shown to the user.
//
// IsSyncing is true while a full cycle runs. LastSyncError is empty when the
// last cycle finished without a top-level failure.
type Status struct {
	IsSyncing     bool       `json:"is_syncing"`
	IsOffline     bool       `json:"is_offline"`
	LastSyncError string     `json:"last_sync_error,omitempty"`
	LastSyncTime  *time.Time `json:"last_sync_time,omitempty"`
}

// EventKind identifies what an Event reports.
type EventKind string

const (
	EventStatus           EventKind = "status"
	EventCalendarSynced   EventKind = "calendar_synced"
	EventCalendarsChanged EventKind = "calendars_changed"
	EventTaskPushed       EventKind = "task_pushed"
)

// Event is delivered to listeners. Only the field matching Kind is set.
type Event struct {
	Kind      EventKind
	Status    Status
	Tasks     *TaskStats
	Calendars *CalendarStats
	TaskID    string
}

// Listener receives engine events.
type Listener func(Event)
