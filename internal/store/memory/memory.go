// Package memory is an in-process Store used by tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mschirtzinger/caldav-tasks/internal/store"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

// Store keeps every record in maps guarded by one mutex.
// Values are copied on the way in and out.
type Store struct {
	mu        sync.Mutex
	accounts  []*types.Account
	tasks     map[string]*types.Task
	taskOrder []string
	tags      []*types.Tag
	pending   []*types.PendingDeletion
	ui        types.UIState

	// Writes counts successful mutations. Tests use it to check idempotence.
	writes int
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{tasks: make(map[string]*types.Task)}
}

// Writes returns the number of mutations applied so far.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func cloneAccount(a *types.Account) *types.Account {
	c := *a
	c.Calendars = slices.Clone(a.Calendars)
	return &c
}

func (s *Store) GetAllAccounts(ctx context.Context) ([]*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, cloneAccount(a))
	}
	return out, nil
}

func (s *Store) findAccount(id string) int {
	return slices.IndexFunc(s.accounts, func(a *types.Account) bool { return a.ID == id })
}

func (s *Store) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findAccount(id)
	if i < 0 {
		return nil, fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	return cloneAccount(s.accounts[i]), nil
}

func (s *Store) CreateAccount(ctx context.Context, account *types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findAccount(account.ID) >= 0 {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	s.accounts = append(s.accounts, cloneAccount(account))
	s.writes++
	return nil
}

func (s *Store) UpdateAccount(ctx context.Context, id string, mutate func(*types.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findAccount(id)
	if i < 0 {
		return fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	a := cloneAccount(s.accounts[i])
	mutate(a)
	a.ID = id
	s.accounts[i] = a
	s.writes++
	return nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findAccount(id)
	if i < 0 {
		return fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	s.accounts = slices.Delete(s.accounts, i, i+1)
	for _, tid := range slices.Clone(s.taskOrder) {
		if s.tasks[tid].AccountID == id {
			s.removeTask(tid)
		}
	}
	s.writes++
	return nil
}

func (s *Store) GetTasksByCalendar(ctx context.Context, calendarID string) ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Task
	for _, id := range s.taskOrder {
		if t := s.tasks[id]; t.CalendarID == calendarID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *Store) CreateTask(ctx context.Context, task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	for _, t := range s.tasks {
		if t.UID == task.UID {
			return fmt.Errorf("task with uid %s already exists", task.UID)
		}
	}
	s.tasks[task.ID] = task.Clone()
	s.taskOrder = append(s.taskOrder, task.ID)
	s.writes++
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, mutate func(*types.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	t := cur.Clone()
	mutate(t)
	t.ID = id
	t.UID = cur.UID
	s.tasks[id] = t
	s.writes++
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	s.removeTask(id)
	s.writes++
	return nil
}

func (s *Store) removeTask(id string) {
	delete(s.tasks, id)
	s.taskOrder = slices.DeleteFunc(s.taskOrder, func(v string) bool { return v == id })
}

func (s *Store) GetAllTags(ctx context.Context) ([]*types.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Tag, 0, len(s.tags))
	for _, t := range s.tags {
		c := *t
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) CreateTag(ctx context.Context, tag *types.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *tag
	s.tags = append(s.tags, &c)
	s.writes++
	return nil
}

func (s *Store) GetPendingDeletions(ctx context.Context) ([]*types.PendingDeletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.PendingDeletion, 0, len(s.pending))
	for _, d := range s.pending {
		c := *d
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) AddPendingDeletion(ctx context.Context, d *types.PendingDeletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = slices.DeleteFunc(s.pending, func(p *types.PendingDeletion) bool { return p.UID == d.UID })
	c := *d
	s.pending = append(s.pending, &c)
	s.writes++
	return nil
}

func (s *Store) ClearPendingDeletion(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = slices.DeleteFunc(s.pending, func(p *types.PendingDeletion) bool { return p.UID == uid })
	s.writes++
	return nil
}

func (s *Store) GetUIState(ctx context.Context) (*types.UIState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ui := s.ui
	return &ui, nil
}

func (s *Store) SetActiveCalendar(ctx context.Context, accountID, calendarID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ui.ActiveAccountID = accountID
	s.ui.ActiveCalendarID = calendarID
	s.writes++
	return nil
}
