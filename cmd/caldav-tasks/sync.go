package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/caldav-tasks/internal/daemon"
	tasksync "github.com/mschirtzinger/caldav-tasks/internal/sync"
	"github.com/mschirtzinger/caldav-tasks/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run a sync cycle now",
	Long: `Sync every account with its server.

A full cycle:
  1. Reconnects accounts without a session
  2. Refreshes each account's calendar list
  3. Sends queued deletions, pushes local edits, pulls server changes

A failing account or calendar is reported and skipped; the rest still sync.
Use --calendar to sync a single calendar's tasks.`,
	Run: func(cmd *cobra.Command, args []string) {
		calendarID, _ := cmd.Flags().GetString("calendar")

		a := openApp()
		defer a.close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		mon := a.monitor(logger("[connectivity] "))
		mon.Check(ctx)
		engine := a.engine(mon, logger("[sync] "))

		if calendarID != "" {
			stats, err := engine.SyncCalendar(ctx, calendarID)
			if err != nil {
				fatal("%v", err)
			}
			fmt.Printf("%s Synced calendar %s\n", ui.RenderPass("✓"), calendarID)
			fmt.Printf("   Pushed: %d  Pulled: %d new, %d updated  Removed: %d\n",
				stats.Pushed, stats.Created, stats.Updated+stats.TagsUpdated, stats.Deleted)
			if n := stats.PushFailed + stats.PullFailed; n > 0 {
				fmt.Printf("   %s\n", ui.RenderWarn(fmt.Sprintf("Failed: %d task(s), see the log", n)))
			}
			return
		}

		fmt.Printf("%s Syncing...\n", ui.RenderAccent("🔄"))
		result, err := engine.SyncAll(ctx)
		if errors.Is(err, tasksync.ErrOffline) {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), tasksync.OfflineMessage)
			os.Exit(1)
		}
		if err != nil {
			fatal("%v", err)
		}
		fmt.Println(ui.CycleSummary(result))
		if len(result.Errors) > 0 {
			os.Exit(2)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status",
	Long: `Display the sync status.

Shows:
  - Whether the daemon is running, and its live status when the dashboard is on
  - Accounts with their calendars
  - Local edits waiting to be pushed and deletions waiting to be sent`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		ctx := context.Background()

		fmt.Printf("\n%s\n\n", ui.RenderBold("caldav-tasks status"))

		if daemonRunning(a) {
			fmt.Printf("%s Daemon running\n", ui.RenderPass("●"))
			if a.cfg.Dashboard.Enabled {
				st, err := fetchStatus(ctx, a.cfg.Dashboard.Port)
				if err != nil {
					fmt.Printf("   %s\n", ui.RenderWarn("status unavailable: "+err.Error()))
				} else {
					fmt.Println(ui.StatusBlock(*st))
				}
			}
		} else {
			fmt.Printf("%s Daemon not running\n", ui.RenderMuted("○"))
		}
		fmt.Println()

		accounts, err := a.db.GetAllAccounts(ctx)
		if err != nil {
			fatal("listing accounts: %v", err)
		}
		state, _ := a.db.GetUIState(ctx)
		active := ""
		if state != nil {
			active = state.ActiveCalendarID
		}

		unsynced := 0
		for _, acc := range accounts {
			fmt.Println(ui.AccountBlock(acc, active))
			for _, cal := range acc.Calendars {
				list, err := a.db.GetTasksByCalendar(ctx, cal.ID)
				if err != nil {
					fatal("listing tasks: %v", err)
				}
				for _, t := range list {
					if !t.Synced {
						unsynced++
					}
				}
			}
		}
		if len(accounts) == 0 {
			fmt.Printf("%s No accounts. Add one with 'caldav-tasks account add'\n", ui.RenderWarn("⚠"))
		}

		pending, err := a.db.GetPendingDeletions(ctx)
		if err != nil {
			fatal("listing pending deletions: %v", err)
		}
		fmt.Printf("\n   Unpushed edits: %d\n", unsynced)
		fmt.Printf("   Queued deletions: %d\n", len(pending))
		fmt.Printf("   Database: %s\n\n", a.db.Path())
	},
}

// daemonRunning reports whether another process holds the daemon lock.
func daemonRunning(a *app) bool {
	l := flock.New(daemon.DefaultConfig(a.cfg.DataDir).LockPath)
	ok, err := l.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = l.Unlock()
		return false
	}
	return true
}

func fetchStatus(ctx context.Context, port int) (*tasksync.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/status", port), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dashboard returned %s", resp.Status)
	}
	var st tasksync.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &st, nil
}

func init() {
	syncCmd.Flags().String("calendar", "", "Sync only this calendar")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
