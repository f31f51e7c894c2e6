package filedav

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mschirtzinger/caldav-tasks/internal/remote"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

const (
	calendarFile = "calendar.json"
	taskExt      = ".json"
)

// calendarMeta is stored as calendar.json in each calendar directory.
type calendarMeta struct {
	DisplayName string `json:"display_name"`
	Color       string `json:"color,omitempty"`
}

// taskFile is one task resource on disk.
type taskFile struct {
	UID         string         `json:"uid"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Completed   bool           `json:"completed"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Priority    types.Priority `json:"priority,omitempty"`
	StartDate   *time.Time     `json:"start_date,omitempty"`
	DueDate     *time.Time     `json:"due_date,omitempty"`
	URL         string         `json:"url,omitempty"`
	ParentUID   string         `json:"parent_uid,omitempty"`
	SortOrder   int            `json:"sort_order,omitempty"`
	Categories  string         `json:"categories,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ModifiedAt  time.Time      `json:"modified_at"`
}

// Validate checks if the taskFile has valid field values.
func (t *taskFile) Validate() error {
	if t.UID == "" {
		return fmt.Errorf("%w: uid is required", remote.ErrInvalidTask)
	}
	if strings.ContainsAny(t.UID, `/\`) || t.UID == "." || t.UID == ".." {
		return fmt.Errorf("%w: uid %q is not a valid resource name", remote.ErrInvalidTask, t.UID)
	}
	if t.Title == "" {
		return fmt.Errorf("%w: title is required", remote.ErrInvalidTask)
	}
	if t.Priority != "" && !t.Priority.IsValid() {
		return fmt.Errorf("%w: unknown priority %q", remote.ErrInvalidTask, t.Priority)
	}
	return nil
}

func fromRemote(rt remote.RemoteTask) *taskFile {
	return &taskFile{
		UID:         rt.UID,
		Title:       rt.Title,
		Description: rt.Description,
		Completed:   rt.Completed,
		CompletedAt: rt.CompletedAt,
		Priority:    rt.Priority,
		StartDate:   rt.StartDate,
		DueDate:     rt.DueDate,
		URL:         rt.URL,
		ParentUID:   rt.ParentUID,
		SortOrder:   rt.SortOrder,
		Categories:  rt.Categories,
		CreatedAt:   rt.CreatedAt,
		ModifiedAt:  rt.ModifiedAt,
	}
}

func (t *taskFile) toRemote(href, etag string) remote.RemoteTask {
	return remote.RemoteTask{
		UID:         t.UID,
		Href:        href,
		ETag:        etag,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		CompletedAt: t.CompletedAt,
		Priority:    t.Priority,
		StartDate:   t.StartDate,
		DueDate:     t.DueDate,
		URL:         t.URL,
		ParentUID:   t.ParentUID,
		SortOrder:   t.SortOrder,
		Categories:  t.Categories,
		CreatedAt:   t.CreatedAt,
		ModifiedAt:  t.ModifiedAt,
	}
}

// etagOf derives a strong etag from the stored bytes.
func etagOf(data []byte) string {
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}

func readTaskFile(path string) (*taskFile, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: %s", remote.ErrNotFound, filepath.Base(path))
		}
		return nil, "", fmt.Errorf("failed to read task file %s: %w", path, err)
	}

	var task taskFile
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, "", fmt.Errorf("failed to parse task file %s: %w", path, err)
	}
	if err := task.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid task file %s: %w", path, err)
	}
	return &task, etagOf(data), nil
}

// writeTaskFile writes the task atomically and returns its new etag.
func writeTaskFile(path string, task *taskFile) (string, error) {
	if err := task.Validate(); err != nil {
		return "", fmt.Errorf("cannot write invalid task: %w", err)
	}

	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal task %s: %w", task.UID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write task file %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to replace task file %s: %w", path, err)
	}
	return etagOf(data), nil
}

func readCalendarMeta(dir string) (*calendarMeta, error) {
	data, err := os.ReadFile(filepath.Join(dir, calendarFile))
	if err != nil {
		return nil, err
	}
	var meta calendarMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Join(dir, calendarFile), err)
	}
	return &meta, nil
}

// CreateCalendar creates or renames a calendar directory under root.
func CreateCalendar(root, id, displayName, color string) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid calendar id %q", id)
	}
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create calendar directory: %w", err)
	}
	data, err := json.MarshalIndent(calendarMeta{DisplayName: displayName, Color: color}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal calendar: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, calendarFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write calendar: %w", err)
	}
	return nil
}

// RemoveCalendar deletes a calendar directory and every task in it.
func RemoveCalendar(root, id string) error {
	if err := os.RemoveAll(filepath.Join(root, id)); err != nil {
		return fmt.Errorf("failed to remove calendar %s: %w", id, err)
	}
	return nil
}
