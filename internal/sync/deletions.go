package sync

import (
	"context"
	"fmt"
	"log"

	"github.com/mschirtzinger/caldav-tasks/internal/remote"
	"github.com/mschirtzinger/caldav-tasks/internal/store"
)

// DeletionQueue drains queued local deletions to the server.
type DeletionQueue struct {
	store  store.Store
	client remote.Client
	logger *log.Logger
}

// DrainStats counts the outcome of one drain.
type DrainStats struct {
	Attempted int `json:"attempted"`
	Deleted   int `json:"deleted"`
	Failed    int `json:"failed"`
}

// Drain issues one delete per pending entry of the calendar and clears the
// entry afterwards whatever the outcome. Failed deletes are not retried.
//
// Only a failure to read or clear the queue is returned.
func (q *DeletionQueue) Drain(ctx context.Context, accountID, calendarID string) (DrainStats, error) {
	var stats DrainStats

	pending, err := q.store.GetPendingDeletions(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to read pending deletions: %w", err)
	}

	for _, d := range pending {
		if d.CalendarID != calendarID {
			continue
		}
		stats.Attempted++

		ok, err := q.client.DeleteTask(ctx, accountID, remote.TaskRef{Href: d.Href})
		switch {
		case err != nil:
			stats.Failed++
			q.logger.Printf("WARNING: Failed to delete %s from server, dropping: %v", d.Href, err)
		case ok:
			stats.Deleted++
		default:
			q.logger.Printf("Server had no resource at %s", d.Href)
		}

		if err := q.store.ClearPendingDeletion(ctx, d.UID); err != nil {
			return stats, fmt.Errorf("failed to clear pending deletion %s: %w", d.UID, err)
		}
	}
	return stats, nil
}
