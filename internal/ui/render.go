package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	tasksync "github.com/mschirtzinger/caldav-tasks/internal/sync"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

const dateLayout = "2006-01-02"

// ShortID trims an id for display.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// TaskLine renders one task. tags maps tag id to tag.
func TaskLine(t *types.Task, tags map[string]*types.Tag, now time.Time) string {
	var b strings.Builder

	box := "[ ]"
	title := t.Title
	if t.Completed {
		box = RenderPass("[x]")
		title = RenderMuted(title)
	}
	fmt.Fprintf(&b, "%s %s %s", RenderMuted(ShortID(t.ID)), box, title)

	switch t.Priority {
	case types.PriorityHigh:
		b.WriteString(" " + RenderFail("!high"))
	case types.PriorityMedium:
		b.WriteString(" " + RenderWarn("!medium"))
	case types.PriorityLow:
		b.WriteString(" " + RenderMuted("!low"))
	}

	if t.DueDate != nil {
		due := "due " + t.DueDate.Local().Format(dateLayout)
		if !t.Completed && t.DueDate.Before(now) {
			due = RenderFail(due)
		} else {
			due = RenderAccent(due)
		}
		b.WriteString(" " + due)
	}

	for _, id := range t.Tags {
		if tag, ok := tags[id]; ok {
			b.WriteString(" " + RenderSwatch(tag.Color, "#"+tag.Name))
		}
	}

	if !t.Synced {
		b.WriteString(" " + RenderWarn("*"))
	}
	return b.String()
}

// TaskList renders tasks in sort order, subtasks indented under their
// parent.
func TaskList(list []*types.Task, tags map[string]*types.Tag, now time.Time) string {
	sorted := append([]*types.Task(nil), list...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SortOrder < sorted[j].SortOrder
	})

	byUID := make(map[string]bool, len(sorted))
	for _, t := range sorted {
		byUID[t.UID] = true
	}
	children := make(map[string][]*types.Task)
	var roots []*types.Task
	for _, t := range sorted {
		if t.ParentUID != "" && byUID[t.ParentUID] {
			children[t.ParentUID] = append(children[t.ParentUID], t)
			continue
		}
		roots = append(roots, t)
	}

	var lines []string
	var walk func(t *types.Task, depth int)
	walk = func(t *types.Task, depth int) {
		lines = append(lines, strings.Repeat("  ", depth)+TaskLine(t, tags, now))
		for _, c := range children[t.UID] {
			walk(c, depth+1)
		}
	}
	for _, t := range roots {
		walk(t, 0)
	}
	return strings.Join(lines, "\n")
}

// StatusBlock renders the sync status.
func StatusBlock(st tasksync.Status) string {
	state := RenderPass("idle")
	switch {
	case st.IsSyncing:
		state = RenderAccent("syncing")
	case st.LastSyncError != "":
		state = RenderFail("error")
	}

	network := RenderPass("online")
	if st.IsOffline {
		network = RenderWarn("offline")
	}

	last := RenderMuted("never")
	if st.LastSyncTime != nil {
		last = st.LastSyncTime.Local().Format(time.DateTime)
	}

	rows := [][2]string{
		{"State", state},
		{"Network", network},
		{"Last sync", last},
	}
	if st.LastSyncError != "" {
		rows = append(rows, [2]string{"Error", RenderFail(st.LastSyncError)})
	}
	return keyValues(rows)
}

// CycleSummary renders the outcome of a full sync.
func CycleSummary(r *tasksync.CycleResult) string {
	var pushed, created, updated, deleted, skipped, failed int
	for _, ts := range r.Tasks {
		pushed += ts.Pushed
		created += ts.Created
		updated += ts.Updated + ts.TagsUpdated
		deleted += ts.Deleted
		skipped += ts.Skipped
		failed += ts.PushFailed + ts.PullFailed
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Synced %d account(s), %d calendar(s) in %v\n",
		RenderPass("✓"), r.Accounts, len(r.Tasks), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "   Pushed: %d  Pulled: %d new, %d updated  Removed: %d", pushed, created, updated, deleted)
	if skipped > 0 {
		fmt.Fprintf(&b, "  Kept local: %d", skipped)
	}
	if failed > 0 {
		fmt.Fprintf(&b, "  %s", RenderWarn(fmt.Sprintf("Failed: %d", failed)))
	}
	for _, ue := range r.Errors {
		fmt.Fprintf(&b, "\n%s %s", RenderWarn("⚠"), ue.Error())
	}
	return b.String()
}

// AccountBlock renders an account with its calendars. active marks the
// selected calendar.
func AccountBlock(a *types.Account, active string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", RenderBold(a.Name), RenderMuted("("+string(a.ServerType)+")"), RenderMuted(a.ServerURL))
	if len(a.Calendars) == 0 {
		b.WriteString("   " + RenderMuted("no calendars yet, run sync"))
		return b.String()
	}
	for i, c := range a.Calendars {
		marker := " "
		if c.ID == active {
			marker = RenderAccent("▸")
		}
		fmt.Fprintf(&b, " %s %s %s", marker, RenderSwatch(c.Color, "●"), c.DisplayName)
		b.WriteString(" " + RenderMuted(c.ID))
		if i < len(a.Calendars)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func keyValues(rows [][2]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, lipgloss.Width(r[0]))
	}
	label := lipgloss.NewStyle().Width(width + 2).Foreground(ColorMuted)
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = label.Render(r[0]+":") + r[1]
	}
	return strings.Join(lines, "\n")
}
