package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/caldav-tasks/internal/daemon"
	"github.com/mschirtzinger/caldav-tasks/internal/dashboard"
	"github.com/mschirtzinger/caldav-tasks/internal/scheduler"
	"github.com/mschirtzinger/caldav-tasks/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run background sync",
	Long: `Run the background sync daemon in the foreground.

The daemon:
  - Syncs every account at startup and then on the configured interval
  - Syncs again as soon as the network comes back
  - Syncs a calendar right after it is selected with 'calendar use'
  - Picks up changes to the [sync] section of the config file
  - Serves the dashboard on 127.0.0.1 when dashboard.enabled is set

Only one daemon runs per data directory.

Example usage:
  caldav-tasks daemon                  # Use config settings
  caldav-tasks daemon --dashboard      # Also serve ws://127.0.0.1:8089/ws
  caldav-tasks daemon --log-file ~/.local/state/caldav-tasks/daemon.log`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()

		if cmd.Flags().Changed("dashboard") {
			a.cfg.Dashboard.Enabled, _ = cmd.Flags().GetBool("dashboard")
		}
		if cmd.Flags().Changed("port") {
			a.cfg.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("log-file") {
			a.cfg.Log.File, _ = cmd.Flags().GetString("log-file")
		}

		out, err := daemon.NewLogWriter(a.cfg.Log)
		if err != nil {
			fatal("opening log file: %v", err)
		}
		defer out.Close()
		newLogger := func(prefix string) *log.Logger {
			return log.New(out, prefix, log.LstdFlags)
		}

		mon := a.monitor(newLogger("[connectivity] "))
		engine := a.engine(mon, newLogger("[sync] "))

		sched, err := scheduler.New(scheduler.Config{
			Syncer:       engine,
			Connectivity: mon,
			Accounts:     a.db,
			Settings:     scheduler.Settings{AutoSync: a.cfg.Sync.AutoSync, Interval: a.cfg.Sync.Interval},
			Logger:       newLogger("[scheduler] "),
		})
		if err != nil {
			fatal("%v", err)
		}

		dcfg := daemon.DefaultConfig(a.cfg.DataDir)
		dcfg.ActiveCalendarPoll = a.cfg.Sync.ActiveCalendarPoll
		dcfg.ConfigPath = configPath
		dcfg.Logger = newLogger("[daemon] ")

		var d *daemon.Daemon
		if a.cfg.Dashboard.Enabled {
			dash, err := dashboard.NewServer(engine, &dashboard.Config{
				Port: a.cfg.Dashboard.Port,
				OnSelectCalendar: func(id string) {
					d.SelectCalendar(id)
				},
				Logger: newLogger("[dashboard] "),
			})
			if err != nil {
				fatal("%v", err)
			}
			dcfg.Dashboard = dash
		}

		d, err = daemon.New(a.db, engine, mon, sched, dcfg)
		if err != nil {
			fatal("%v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Daemon started (auto-sync %s)\n", ui.RenderPass("✓"), describeSchedule(sched.Settings()))
		if a.cfg.Dashboard.Enabled {
			fmt.Printf("   Dashboard: http://127.0.0.1:%d/status\n", a.cfg.Dashboard.Port)
			fmt.Printf("   WebSocket: ws://127.0.0.1:%d/ws\n", a.cfg.Dashboard.Port)
		}
		if a.cfg.Log.File != "" {
			fmt.Printf("   Log: %s\n", a.cfg.Log.File)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		if err := d.Start(ctx); err != nil {
			fatal("%v", err)
		}
		fmt.Println("\nDaemon stopped")
	},
}

func describeSchedule(s scheduler.Settings) string {
	if !s.AutoSync || s.Interval <= 0 {
		return "off"
	}
	return "every " + s.Interval.String()
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the dashboard (overrides dashboard.enabled)")
	daemonCmd.Flags().Int("port", 8089, "Dashboard port (overrides dashboard.port)")
	daemonCmd.Flags().String("log-file", "", "Write logs to a rotated file (overrides log.file)")

	rootCmd.AddCommand(daemonCmd)
}
