package sync

import (
	"context"
	"fmt"
	"log"

	"github.com/mschirtzinger/caldav-tasks/internal/remote"
	"github.com/mschirtzinger/caldav-tasks/internal/store"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

// CalendarReconciler brings an account's calendar list in line with the server.
type CalendarReconciler struct {
	store  store.Store
	client remote.Client
	logger *log.Logger
}

// CalendarStats describes what one calendar reconciliation changed.
type CalendarStats struct {
	AccountID    string `json:"account_id"`
	Added        int    `json:"added"`
	Updated      int    `json:"updated"`
	Removed      int    `json:"removed"`
	TasksDeleted int    `json:"tasks_deleted"`
	Written      bool   `json:"written"`
}

// Reconcile fetches the account's calendars and applies the diff by id.
//
// Calendars gone from the server lose all their local tasks before they are
// dropped. The account is written only if the resulting list differs.
func (r *CalendarReconciler) Reconcile(ctx context.Context, accountID string) (*CalendarStats, error) {
	stats := &CalendarStats{AccountID: accountID}

	account, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return stats, fmt.Errorf("failed to load account: %w", err)
	}

	if !r.client.IsConnected(accountID) {
		if err := r.client.Reconnect(ctx, account); err != nil {
			return stats, fmt.Errorf("failed to reconnect: %w", err)
		}
	}

	remoteCals, err := r.client.FetchCalendars(ctx, accountID)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch calendars: %w", err)
	}
	r.logger.Printf("Found %d calendars on server for %s", len(remoteCals), account.Name)

	local := make(map[string]types.Calendar, len(account.Calendars))
	for _, c := range account.Calendars {
		local[c.ID] = c
	}

	seen := make(map[string]bool, len(remoteCals))
	updated := make([]types.Calendar, 0, len(remoteCals))
	for _, rc := range remoteCals {
		if seen[rc.ID] {
			continue
		}
		seen[rc.ID] = true

		lc, ok := local[rc.ID]
		if !ok {
			r.logger.Printf("New calendar from server: %s", rc.DisplayName)
			updated = append(updated, types.Calendar{
				ID:          rc.ID,
				AccountID:   accountID,
				DisplayName: rc.DisplayName,
				URL:         rc.URL,
				Color:       rc.Color,
				Ctag:        rc.Ctag,
				SyncToken:   rc.SyncToken,
			})
			stats.Added++
			continue
		}

		if lc.DisplayName != rc.DisplayName || lc.Color != rc.Color ||
			lc.Ctag != rc.Ctag || lc.SyncToken != rc.SyncToken {
			r.logger.Printf("Updating calendar properties: %s", rc.DisplayName)
			lc.DisplayName = rc.DisplayName
			lc.Color = rc.Color
			lc.Ctag = rc.Ctag
			lc.SyncToken = rc.SyncToken
			stats.Updated++
		}
		updated = append(updated, lc)
	}

	for _, lc := range account.Calendars {
		if seen[lc.ID] {
			continue
		}
		r.logger.Printf("Calendar deleted on server: %s", lc.DisplayName)
		stats.Removed++

		tasks, err := r.store.GetTasksByCalendar(ctx, lc.ID)
		if err != nil {
			return stats, fmt.Errorf("failed to list tasks of removed calendar %s: %w", lc.ID, err)
		}
		for _, t := range tasks {
			if err := r.store.DeleteTask(ctx, t.ID); err != nil {
				return stats, fmt.Errorf("failed to delete task %s of removed calendar: %w", t.ID, err)
			}
			stats.TasksDeleted++
		}
	}

	if types.CalendarsEqual(updated, account.Calendars) {
		return stats, nil
	}

	r.logger.Printf("Updating account calendars: %d calendars", len(updated))
	err = r.store.UpdateAccount(ctx, accountID, func(a *types.Account) {
		a.Calendars = updated
	})
	if err != nil {
		return stats, fmt.Errorf("failed to save calendars: %w", err)
	}
	stats.Written = true
	return stats, nil
}
