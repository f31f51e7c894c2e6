package sync

import (
	"errors"
	"fmt"
)

// OfflineMessage is the user-visible error set when a cycle is refused
// because the device is offline.
const OfflineMessage = "You are offline. Changes will sync when you reconnect."

var (
	// ErrOffline is returned when a sync is requested while offline.
	ErrOffline = errors.New("offline")

	// ErrSyncInProgress is returned when a full sync is triggered while
	// another one is running. The trigger is dropped.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrCalendarNotFound is returned when no account owns the calendar.
	ErrCalendarNotFound = errors.New("calendar not found")

	// ErrAccountNotFound is returned when a task names an unknown account.
	ErrAccountNotFound = errors.New("account not found")
)

// ErrorKind classifies a unit failure inside a cycle.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindCalendars  ErrorKind = "calendars"
	KindTasks      ErrorKind = "tasks"
)

// UnitError is a failure isolated to one account or calendar.
type UnitError struct {
	Kind       ErrorKind `json:"kind"`
	AccountID  string    `json:"account_id"`
	CalendarID string    `json:"calendar_id,omitempty"`
	Err        error     `json:"-"`
}

func (e *UnitError) Error() string {
	if e.CalendarID != "" {
		return fmt.Sprintf("%s: account %s calendar %s: %v", e.Kind, e.AccountID, e.CalendarID, e.Err)
	}
	return fmt.Sprintf("%s: account %s: %v", e.Kind, e.AccountID, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}
