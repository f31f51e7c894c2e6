package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/caldav-tasks/internal/ui"
)

var calendarCmd = &cobra.Command{
	Use:     "calendar",
	GroupID: "data",
	Short:   "List and select calendars",
}

var calendarListCmd = &cobra.Command{
	Use:   "list",
	Short: "List calendars of every account",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		ctx := context.Background()

		accounts, err := a.db.GetAllAccounts(ctx)
		if err != nil {
			fatal("listing accounts: %v", err)
		}
		active := ""
		if st, err := a.db.GetUIState(ctx); err == nil {
			active = st.ActiveCalendarID
		}
		for i, acc := range accounts {
			if i > 0 {
				fmt.Println()
			}
			fmt.Println(ui.AccountBlock(acc, active))
		}
	},
}

var calendarUseCmd = &cobra.Command{
	Use:   "use CALENDAR",
	Short: "Select the calendar task commands work on",
	Long: `Select a calendar by id or display name. A running daemon syncs it
right away.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		ctx := context.Background()

		accounts, err := a.db.GetAllAccounts(ctx)
		if err != nil {
			fatal("listing accounts: %v", err)
		}
		for _, acc := range accounts {
			for _, cal := range acc.Calendars {
				if cal.ID != args[0] && !strings.EqualFold(cal.DisplayName, args[0]) {
					continue
				}
				if err := a.db.SetActiveCalendar(ctx, acc.ID, cal.ID); err != nil {
					fatal("saving selection: %v", err)
				}
				fmt.Printf("%s Using %s %s\n", ui.RenderPass("✓"), ui.RenderSwatch(cal.Color, cal.DisplayName), ui.RenderMuted("("+acc.Name+")"))
				return
			}
		}
		fatal("calendar %q not found, run 'caldav-tasks calendar list'", args[0])
	},
}

func init() {
	calendarCmd.AddCommand(calendarListCmd, calendarUseCmd)
	rootCmd.AddCommand(calendarCmd)
}
