// Package filedav is a remote backend that serves calendars from a directory
// tree. Each calendar is a directory holding calendar.json and one JSON file
// per task:
//
//	root/
//	  inbox/
//	    calendar.json
//	    3f1c...json
//
// ETags are content hashes, so any edit to a task file is seen as a server
// side change. The calendar ctag changes whenever a member file changes.
package filedav

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/mschirtzinger/caldav-tasks/internal/remote"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

func init() {
	remote.Register(types.ServerFile, func(ctx context.Context, account *types.Account) (remote.Session, error) {
		return Dial(ctx, account)
	})
}

// Session serves one account from its root directory.
type Session struct {
	mu     sync.Mutex
	root   string
	logger *log.Logger
}

var _ remote.Session = (*Session)(nil)

// Dial opens the directory named by the account's server URL.
// Both "file:///path" and plain paths are accepted.
func Dial(ctx context.Context, account *types.Account) (*Session, error) {
	root := RootFromURL(account.ServerURL)
	if root == "" {
		return nil, fmt.Errorf("%w: empty server url", remote.ErrUnavailable)
	}
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", remote.ErrUnavailable, root)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", remote.ErrUnavailable, root)
	}
	return &Session{root: root, logger: log.New(os.Stderr, "[filedav] ", log.LstdFlags)}, nil
}

// RootFromURL strips a file:// scheme from u.
func RootFromURL(u string) string {
	return strings.TrimPrefix(u, "file://")
}

// Close implements remote.Session.Close.
func (s *Session) Close() error {
	return nil
}

// FetchCalendars implements remote.Session.FetchCalendars.
func (s *Session) FetchCalendars(ctx context.Context) ([]remote.RemoteCalendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", remote.ErrUnavailable, s.root, err)
	}

	var cals []remote.RemoteCalendar
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, entry.Name())
		meta, err := readCalendarMeta(dir)
		if err != nil {
			// Directories without calendar.json are not calendars.
			continue
		}
		ctag, err := s.ctag(dir)
		if err != nil {
			return nil, err
		}
		cals = append(cals, remote.RemoteCalendar{
			ID:          entry.Name(),
			DisplayName: meta.DisplayName,
			URL:         "/" + entry.Name() + "/",
			Color:       meta.Color,
			Ctag:        ctag,
			SyncToken:   "sync-" + strings.Trim(ctag, `"`),
		})
	}
	return cals, nil
}

// ctag hashes the sorted member etags of a calendar directory.
func (s *Session) ctag(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read calendar %s: %w", dir, err)
	}
	var lines []string
	for _, entry := range entries {
		if entry.IsDir() || !isTaskFile(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		lines = append(lines, entry.Name()+":"+etagOf(data))
	}
	slices.Sort(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return `"` + hex.EncodeToString(sum[:8]) + `"`, nil
}

func isTaskFile(name string) bool {
	return strings.HasSuffix(name, taskExt) && name != calendarFile
}

func (s *Session) calendarDir(cal types.Calendar) (string, error) {
	id := strings.Trim(cal.URL, "/")
	if id == "" {
		id = cal.ID
	}
	if id == "" || strings.ContainsAny(id, `/\`) || id == ".." {
		return "", fmt.Errorf("%w: calendar %q", remote.ErrNotFound, cal.URL)
	}
	dir := filepath.Join(s.root, id)
	if _, err := os.Stat(filepath.Join(dir, calendarFile)); err != nil {
		return "", fmt.Errorf("%w: calendar %s", remote.ErrNotFound, id)
	}
	return dir, nil
}

// hrefPath maps "/<calendar>/<uid>.json" to a file path under root.
func (s *Session) hrefPath(href string) (string, error) {
	clean := path.Clean("/" + href)
	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	if len(parts) != 2 || !isTaskFile(parts[1]) || parts[0] == ".." {
		return "", fmt.Errorf("%w: bad href %q", remote.ErrNotFound, href)
	}
	return filepath.Join(s.root, parts[0], parts[1]), nil
}

func href(calID, uid string) string {
	return "/" + calID + "/" + uid + taskExt
}

// FetchTasks implements remote.Session.FetchTasks.
// Unreadable task files are skipped.
func (s *Session) FetchTasks(ctx context.Context, cal types.Calendar) ([]remote.RemoteTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.calendarDir(cal)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar %s: %w", dir, err)
	}

	calID := filepath.Base(dir)
	var tasks []remote.RemoteTask
	for _, entry := range entries {
		if entry.IsDir() || !isTaskFile(entry.Name()) {
			continue
		}
		task, etag, err := readTaskFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			s.logger.Printf("WARNING: Skipping invalid task file %s: %v", entry.Name(), err)
			continue
		}
		tasks = append(tasks, task.toRemote(href(calID, strings.TrimSuffix(entry.Name(), taskExt)), etag))
	}
	return tasks, nil
}

// CreateTask implements remote.Session.CreateTask.
func (s *Session) CreateTask(ctx context.Context, cal types.Calendar, task remote.RemoteTask) (remote.CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.calendarDir(cal)
	if err != nil {
		return remote.CreateResult{}, err
	}
	tf := fromRemote(task)
	if err := tf.Validate(); err != nil {
		return remote.CreateResult{}, err
	}
	p := filepath.Join(dir, task.UID+taskExt)
	if _, err := os.Stat(p); err == nil {
		return remote.CreateResult{}, fmt.Errorf("%w: %s", remote.ErrConflict, task.UID)
	}
	etag, err := writeTaskFile(p, tf)
	if err != nil {
		return remote.CreateResult{}, err
	}
	return remote.CreateResult{Href: href(filepath.Base(dir), task.UID), ETag: etag}, nil
}

// UpdateTask implements remote.Session.UpdateTask. The resource must exist.
func (s *Session) UpdateTask(ctx context.Context, task remote.RemoteTask) (remote.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.hrefPath(task.Href)
	if err != nil {
		return remote.UpdateResult{}, err
	}
	if _, err := os.Stat(p); err != nil {
		return remote.UpdateResult{}, fmt.Errorf("%w: %s", remote.ErrNotFound, task.Href)
	}
	etag, err := writeTaskFile(p, fromRemote(task))
	if err != nil {
		return remote.UpdateResult{}, err
	}
	return remote.UpdateResult{ETag: etag}, nil
}

// DeleteTask implements remote.Session.DeleteTask.
// It reports false when the resource was already gone.
func (s *Session) DeleteTask(ctx context.Context, ref remote.TaskRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.hrefPath(ref.Href)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete %s: %w", ref.Href, err)
	}
	return true, nil
}
