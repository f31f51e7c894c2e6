// Command caldav-tasks keeps a local task database in sync with CalDAV
// calendars.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/caldav-tasks/internal/config"
	"github.com/mschirtzinger/caldav-tasks/internal/connectivity"
	"github.com/mschirtzinger/caldav-tasks/internal/remote"
	_ "github.com/mschirtzinger/caldav-tasks/internal/remote/filedav"
	"github.com/mschirtzinger/caldav-tasks/internal/store/sqlite"
	tasksync "github.com/mschirtzinger/caldav-tasks/internal/sync"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
	"github.com/mschirtzinger/caldav-tasks/internal/ui"
)

// Set by the linker.
var (
	Version = "dev"
	Commit  = ""
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "caldav-tasks",
	Short: "Sync tasks with CalDAV calendars",
	Long: `caldav-tasks keeps a local task list in sync with the VTODO items of one
or more CalDAV accounts.

Edits are made locally and pushed on the next sync. Server changes win for
tasks without local edits; local edits win until they are pushed.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init(os.Stdout)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log sync activity to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "data", Title: "Accounts and tasks:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("%v", err)
	}
	return cfg
}

func logger(prefix string) *log.Logger {
	if !verbose {
		return log.New(io.Discard, prefix, 0)
	}
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

// app holds what most commands need. Call close when done.
type app struct {
	cfg  *config.Config
	db   *sqlite.DB
	pool *remote.Pool
}

func openApp() *app {
	cfg := loadConfig()
	db, err := sqlite.Open(cfg.DatabasePath())
	if err != nil {
		fatal("opening database: %v", err)
	}
	return &app{cfg: cfg, db: db, pool: remote.NewPool(logger("[remote] "))}
}

func (a *app) close() {
	if err := a.pool.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing sessions: %v\n", err)
	}
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing database: %v\n", err)
	}
}

// monitor builds a connectivity monitor from the config.
func (a *app) monitor(l *log.Logger) *connectivity.Monitor {
	c := a.cfg.Connectivity
	m, err := connectivity.New(
		connectivity.TCPProber{Addrs: c.ProbeAddrs, Timeout: c.ProbeTimeout},
		&connectivity.Config{Interval: c.ProbeInterval, Logger: l},
	)
	if err != nil {
		fatal("%v", err)
	}
	return m
}

func (a *app) engine(conn tasksync.Connectivity, l *log.Logger) *tasksync.Engine {
	e, err := tasksync.New(tasksync.Config{
		Store:        a.db,
		Client:       a.pool,
		Connectivity: conn,
		Logger:       l,
	})
	if err != nil {
		fatal("%v", err)
	}
	return e
}

// activeCalendar resolves the calendar commands operate on: the flag value
// when given, otherwise the stored selection, otherwise the only calendar.
func (a *app) activeCalendar(ctx context.Context, flag string) (*types.Account, *types.Calendar) {
	accounts, err := a.db.GetAllAccounts(ctx)
	if err != nil {
		fatal("listing accounts: %v", err)
	}

	want := flag
	if want == "" {
		if st, err := a.db.GetUIState(ctx); err == nil {
			want = st.ActiveCalendarID
		}
	}

	var only *types.Calendar
	var onlyAccount *types.Account
	count := 0
	for _, acc := range accounts {
		for i := range acc.Calendars {
			cal := &acc.Calendars[i]
			if want != "" && cal.ID == want {
				return acc, cal
			}
			only, onlyAccount = cal, acc
			count++
		}
	}

	switch {
	case want != "":
		fatal("calendar %q not found", want)
	case count == 0:
		fatal("no calendars yet, add an account and run 'caldav-tasks sync'")
	case count > 1:
		fatal("several calendars exist, pick one with 'caldav-tasks calendar use' or --calendar")
	}
	return onlyAccount, only
}

func tagIndex(ctx context.Context, a *app) map[string]*types.Tag {
	tags, err := a.db.GetAllTags(ctx)
	if err != nil {
		fatal("listing tags: %v", err)
	}
	idx := make(map[string]*types.Tag, len(tags))
	for _, t := range tags {
		idx[t.ID] = t
	}
	return idx
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
