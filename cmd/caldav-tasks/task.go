package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/caldav-tasks/internal/tasks"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
	"github.com/mschirtzinger/caldav-tasks/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "data",
	Short:   "Edit tasks of the selected calendar",
	Long: `Edit tasks locally. Changes are marked with * until the next sync
pushes them. TASK arguments accept an id prefix or the task's UID.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Add a task",
	Long: `Add a task to the selected calendar.

--due and --start accept dates (2026-05-01) or phrases such as
"tomorrow", "next friday" or "in 3 days".`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		ctx := context.Background()

		calFlag, _ := cmd.Flags().GetString("calendar")
		acc, cal := a.activeCalendar(ctx, calFlag)

		d := tasks.Draft{
			AccountID:  acc.ID,
			CalendarID: cal.ID,
			Title:      strings.Join(args, " "),
		}
		d.Description, _ = cmd.Flags().GetString("description")
		d.URL, _ = cmd.Flags().GetString("url")
		d.Tags, _ = cmd.Flags().GetStringSlice("tag")
		prio, _ := cmd.Flags().GetString("priority")
		d.Priority = types.Priority(prio)

		now := time.Now()
		var err error
		if d.DueDate, err = dateFlag(cmd, "due", now); err != nil {
			fatal("%v", err)
		}
		if d.StartDate, err = dateFlag(cmd, "start", now); err != nil {
			fatal("%v", err)
		}
		if parent, _ := cmd.Flags().GetString("parent"); parent != "" {
			p, err := tasks.Find(ctx, a.db, cal.ID, parent)
			if err != nil {
				fatal("%v", err)
			}
			d.ParentUID = p.UID
		}

		t, err := tasks.NewEditor(a.db, nil).Create(ctx, d)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Added %s\n", ui.RenderPass("✓"), ui.TaskLine(t, tagIndex(ctx, a), now))
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		ctx := context.Background()

		calFlag, _ := cmd.Flags().GetString("calendar")
		all, _ := cmd.Flags().GetBool("all")
		_, cal := a.activeCalendar(ctx, calFlag)

		list, err := a.db.GetTasksByCalendar(ctx, cal.ID)
		if err != nil {
			fatal("listing tasks: %v", err)
		}
		if !all {
			open := list[:0]
			for _, t := range list {
				if !t.Completed {
					open = append(open, t)
				}
			}
			list = open
		}

		fmt.Printf("%s\n\n", ui.RenderSwatch(cal.Color, ui.RenderBold(cal.DisplayName)))
		if len(list) == 0 {
			fmt.Println(ui.RenderMuted("No tasks"))
			return
		}
		fmt.Println(ui.TaskList(list, tagIndex(ctx, a), time.Now()))
	},
}

var taskEditCmd = &cobra.Command{
	Use:   "edit TASK",
	Short: "Change a task",
	Long: `Change fields of a task. Only the flags given are applied.
Pass "none" to --due or --start to clear the date.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		ctx := context.Background()
		t := findTask(ctx, a, cmd, args[0])

		now := time.Now()
		due, err := dateFlag(cmd, "due", now)
		if err != nil {
			fatal("%v", err)
		}
		start, err := dateFlag(cmd, "start", now)
		if err != nil {
			fatal("%v", err)
		}
		flags := cmd.Flags()

		ed := tasks.NewEditor(a.db, nil)
		err = ed.Edit(ctx, t.ID, func(t *types.Task) {
			if flags.Changed("title") {
				t.Title, _ = flags.GetString("title")
			}
			if flags.Changed("description") {
				t.Description, _ = flags.GetString("description")
			}
			if flags.Changed("url") {
				t.URL, _ = flags.GetString("url")
			}
			if flags.Changed("priority") {
				p, _ := flags.GetString("priority")
				t.Priority = types.Priority(p)
			}
			if flags.Changed("due") {
				t.DueDate = due
			}
			if flags.Changed("start") {
				t.StartDate = start
			}
		})
		if err != nil {
			fatal("%v", err)
		}
		if flags.Changed("tag") {
			names, _ := flags.GetStringSlice("tag")
			if err := ed.SetTags(ctx, t.ID, names); err != nil {
				fatal("%v", err)
			}
		}

		updated, err := a.db.GetTask(ctx, t.ID)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), ui.TaskLine(updated, tagIndex(ctx, a), now))
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done TASK...",
	Short: "Mark tasks completed",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		undo, _ := cmd.Flags().GetBool("undo")

		a := openApp()
		defer a.close()
		ctx := context.Background()
		ed := tasks.NewEditor(a.db, nil)

		for _, arg := range args {
			t := findTask(ctx, a, cmd, arg)
			if err := ed.Complete(ctx, t.ID, !undo); err != nil {
				fatal("%v", err)
			}
			verb := "Completed"
			if undo {
				verb = "Reopened"
			}
			fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), verb, t.Title)
		}
	},
}

var taskRmCmd = &cobra.Command{
	Use:   "rm TASK...",
	Short: "Delete tasks",
	Long: `Delete tasks locally. Tasks the server knows about are removed there on
the next sync.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		ctx := context.Background()
		ed := tasks.NewEditor(a.db, nil)

		for _, arg := range args {
			t := findTask(ctx, a, cmd, arg)
			if err := ed.Delete(ctx, t.ID); err != nil {
				fatal("%v", err)
			}
			fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), t.Title)
		}
	},
}

var taskPushCmd = &cobra.Command{
	Use:   "push TASK...",
	Short: "Send tasks to the server now",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp()
		defer a.close()
		ctx := context.Background()
		engine := a.engine(nil, logger("[sync] "))

		failed := false
		for _, arg := range args {
			t := findTask(ctx, a, cmd, arg)
			if err := engine.PushTask(ctx, t); err != nil {
				fmt.Printf("%s %s: %v\n", ui.RenderFail("✗"), t.Title, err)
				failed = true
				continue
			}
			fmt.Printf("%s Pushed %s\n", ui.RenderPass("✓"), t.Title)
		}
		if failed {
			fatal("some tasks were not pushed")
		}
	},
}

func findTask(ctx context.Context, a *app, cmd *cobra.Command, key string) *types.Task {
	calFlag, _ := cmd.Flags().GetString("calendar")
	_, cal := a.activeCalendar(ctx, calFlag)
	t, err := tasks.Find(ctx, a.db, cal.ID, key)
	if err != nil {
		fatal("%v", err)
	}
	return t
}

func dateFlag(cmd *cobra.Command, name string, now time.Time) (*time.Time, error) {
	if !cmd.Flags().Changed(name) {
		return nil, nil
	}
	v, _ := cmd.Flags().GetString(name)
	t, err := parseDate(v, now)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate accepts "none", an ISO date, an RFC 3339 time or an English
// phrase relative to now. "none" yields nil.
func parseDate(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "none":
		return nil, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, now.Location()); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	r, err := dateParser.Parse(s, now)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("cannot understand date %q", s)
	}
	return &r.Time, nil
}

func init() {
	for _, c := range []*cobra.Command{taskAddCmd, taskEditCmd} {
		c.Flags().String("description", "", "Description")
		c.Flags().String("priority", "", "Priority: none, low, medium, high")
		c.Flags().String("due", "", "Due date")
		c.Flags().String("start", "", "Start date")
		c.Flags().String("url", "", "Related URL")
		c.Flags().StringSlice("tag", nil, "Tag names (repeatable)")
	}
	taskAddCmd.Flags().String("parent", "", "Parent task, making this a subtask")
	taskEditCmd.Flags().String("title", "", "New title")
	taskListCmd.Flags().BoolP("all", "a", false, "Include completed tasks")
	taskDoneCmd.Flags().Bool("undo", false, "Mark as not completed")

	taskCmd.PersistentFlags().String("calendar", "", "Calendar id (default: the selected calendar)")
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskEditCmd, taskDoneCmd, taskRmCmd, taskPushCmd)
	rootCmd.AddCommand(taskCmd)
}
