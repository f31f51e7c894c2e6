package remote

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

// Pool implements Client by keeping one Session per account.
// It is safe for concurrent use.
type Pool struct {
	mu       sync.RWMutex
	sessions map[string]Session
	logger   *log.Logger
}

var _ Client = (*Pool)(nil)

// NewPool creates an empty pool. If logger is nil, a default logger writing
// to stderr is used.
func NewPool(logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Pool{
		sessions: make(map[string]Session),
		logger:   logger,
	}
}

// IsConnected implements Client.IsConnected.
func (p *Pool) IsConnected(accountID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.sessions[accountID]
	return ok
}

// Reconnect implements Client.Reconnect. Any existing session for the
// account is closed and replaced.
func (p *Pool) Reconnect(ctx context.Context, account *types.Account) error {
	constructor := getConstructor(account.ServerType)
	if constructor == nil {
		return fmt.Errorf("%w: %q", ErrUnknownServerType, account.ServerType)
	}

	session, err := constructor(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to connect account %s: %w", account.ID, err)
	}

	p.mu.Lock()
	old := p.sessions[account.ID]
	p.sessions[account.ID] = session
	p.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			p.logger.Printf("WARNING: Failed to close previous session for %s: %v", account.ID, err)
		}
	}
	p.logger.Printf("Connected account %s (%s)", account.ID, account.ServerType)
	return nil
}

// Disconnect closes and forgets the account's session.
func (p *Pool) Disconnect(accountID string) error {
	p.mu.Lock()
	session, ok := p.sessions[accountID]
	delete(p.sessions, accountID)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return session.Close()
}

// Close disconnects every account.
func (p *Pool) Close() error {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]Session)
	p.mu.Unlock()

	var firstErr error
	for id, s := range sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close session %s: %w", id, err)
		}
	}
	return firstErr
}

func (p *Pool) session(accountID string) (Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, accountID)
	}
	return s, nil
}

// FetchCalendars implements Client.FetchCalendars.
func (p *Pool) FetchCalendars(ctx context.Context, accountID string) ([]RemoteCalendar, error) {
	s, err := p.session(accountID)
	if err != nil {
		return nil, err
	}
	return s.FetchCalendars(ctx)
}

// FetchTasks implements Client.FetchTasks.
func (p *Pool) FetchTasks(ctx context.Context, accountID string, cal types.Calendar) ([]RemoteTask, error) {
	s, err := p.session(accountID)
	if err != nil {
		return nil, err
	}
	return s.FetchTasks(ctx, cal)
}

// CreateTask implements Client.CreateTask.
func (p *Pool) CreateTask(ctx context.Context, accountID string, cal types.Calendar, task RemoteTask) (CreateResult, error) {
	s, err := p.session(accountID)
	if err != nil {
		return CreateResult{}, err
	}
	return s.CreateTask(ctx, cal, task)
}

// UpdateTask implements Client.UpdateTask.
func (p *Pool) UpdateTask(ctx context.Context, accountID string, task RemoteTask) (UpdateResult, error) {
	s, err := p.session(accountID)
	if err != nil {
		return UpdateResult{}, err
	}
	return s.UpdateTask(ctx, task)
}

// DeleteTask implements Client.DeleteTask.
func (p *Pool) DeleteTask(ctx context.Context, accountID string, ref TaskRef) (bool, error) {
	s, err := p.session(accountID)
	if err != nil {
		return false, err
	}
	return s.DeleteTask(ctx, ref)
}
