// Package sqlite implements store.Store on an embedded SQLite database.
//
// The database uses the pure-Go ncruces driver in WAL mode. The schema is
// versioned with goose migrations embedded in the binary.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pressly/goose/v3"

	"github.com/mschirtzinger/caldav-tasks/internal/store"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB is a store.Store backed by SQLite.
type DB struct {
	conn *sql.DB
	path string
}

var _ store.Store = (*DB)(nil)

// Open opens or creates the database at path and runs pending migrations.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite has a single writer.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate() error {
	goose.SetLogger(log.New(io.Discard, "", 0))
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db.conn, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (db *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ===== Accounts =====

const accountColumns = `id, name, server_url, username, password, server_type, last_sync, is_active`

func (db *DB) GetAllAccounts(ctx context.Context) ([]*types.Account, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	var accounts []*types.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		accounts = append(accounts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	for _, a := range accounts {
		cals, err := loadCalendars(ctx, db.conn, a.ID)
		if err != nil {
			return nil, err
		}
		a.Calendars = cals
	}
	return accounts, nil
}

func (db *DB) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	return getAccount(ctx, db.conn, id)
}

func getAccount(ctx context.Context, q queryer, id string) (*types.Account, error) {
	row := q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if a.Calendars, err = loadCalendars(ctx, q, id); err != nil {
		return nil, err
	}
	return a, nil
}

func (db *DB) CreateAccount(ctx context.Context, a *types.Account) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (`+accountColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Name, a.ServerURL, a.Username, a.Password, string(a.ServerType),
			timeToNullString(a.LastSync), boolToInt(a.IsActive),
		)
		if err != nil {
			return fmt.Errorf("failed to insert account: %w", err)
		}
		return saveCalendars(ctx, tx, a.ID, a.Calendars)
	})
}

func (db *DB) UpdateAccount(ctx context.Context, id string, mutate func(*types.Account)) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getAccount(ctx, tx, id)
		if err != nil {
			return err
		}
		mutate(a)

		_, err = tx.ExecContext(ctx, `
			UPDATE accounts SET name = ?, server_url = ?, username = ?, password = ?,
				server_type = ?, last_sync = ?, is_active = ?
			WHERE id = ?`,
			a.Name, a.ServerURL, a.Username, a.Password, string(a.ServerType),
			timeToNullString(a.LastSync), boolToInt(a.IsActive), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		return saveCalendars(ctx, tx, id, a.Calendars)
	})
}

func (db *DB) DeleteAccount(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*types.Account, error) {
	var (
		a          types.Account
		serverType string
		lastSync   sql.NullString
		isActive   int
	)
	err := s.Scan(&a.ID, &a.Name, &a.ServerURL, &a.Username, &a.Password, &serverType, &lastSync, &isActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.ServerType = types.ServerType(serverType)
	a.LastSync = nullStringToTime(lastSync)
	a.IsActive = isActive != 0
	return &a, nil
}

func loadCalendars(ctx context.Context, q queryer, accountID string) ([]types.Calendar, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, account_id, display_name, url, color, ctag, sync_token
		FROM calendars WHERE account_id = ? ORDER BY position`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendars: %w", err)
	}
	defer rows.Close()

	var cals []types.Calendar
	for rows.Next() {
		var c types.Calendar
		if err := rows.Scan(&c.ID, &c.AccountID, &c.DisplayName, &c.URL, &c.Color, &c.Ctag, &c.SyncToken); err != nil {
			return nil, fmt.Errorf("failed to scan calendar: %w", err)
		}
		cals = append(cals, c)
	}
	return cals, rows.Err()
}

// saveCalendars makes the calendars table match cals for the account.
// Rows are upserted in place so task rows keyed on calendar id are untouched.
func saveCalendars(ctx context.Context, tx *sql.Tx, accountID string, cals []types.Calendar) error {
	keep := make(map[string]bool, len(cals))
	for i, c := range cals {
		keep[c.ID] = true
		_, err := tx.ExecContext(ctx, `
			INSERT INTO calendars (id, account_id, display_name, url, color, ctag, sync_token, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				account_id = excluded.account_id,
				display_name = excluded.display_name,
				url = excluded.url,
				color = excluded.color,
				ctag = excluded.ctag,
				sync_token = excluded.sync_token,
				position = excluded.position`,
			c.ID, accountID, c.DisplayName, c.URL, c.Color, c.Ctag, c.SyncToken, i,
		)
		if err != nil {
			return fmt.Errorf("failed to save calendar %s: %w", c.ID, err)
		}
	}

	existing, err := loadCalendars(ctx, tx, accountID)
	if err != nil {
		return err
	}
	for _, c := range existing {
		if keep[c.ID] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM calendars WHERE id = ?`, c.ID); err != nil {
			return fmt.Errorf("failed to remove calendar %s: %w", c.ID, err)
		}
	}
	return nil
}

// ===== Tasks =====

const taskColumns = `id, uid, account_id, calendar_id, href, etag, title, description,
	completed, completed_at, priority, start_date, due_date, url, parent_uid,
	sort_order, tags, created_at, modified_at, synced`

func (db *DB) GetTasksByCalendar(ctx context.Context, calendarID string) ([]*types.Task, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE calendar_id = ?
		ORDER BY sort_order, created_at`, calendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (db *DB) GetTask(ctx context.Context, id string) (*types.Task, error) {
	return getTask(ctx, db.conn, id)
}

func getTask(ctx context.Context, q queryer, id string) (*types.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	return t, err
}

func (db *DB) CreateTask(ctx context.Context, t *types.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{t.ID, t.UID}, args...)...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (db *DB) UpdateTask(ctx context.Context, id string, mutate func(*types.Task)) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		mutate(t)

		args, err := taskArgs(t)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET account_id = ?, calendar_id = ?, href = ?, etag = ?,
				title = ?, description = ?, completed = ?, completed_at = ?,
				priority = ?, start_date = ?, due_date = ?, url = ?, parent_uid = ?,
				sort_order = ?, tags = ?, created_at = ?, modified_at = ?, synced = ?
			WHERE id = ?`,
			append(args, id)...,
		)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		return nil
	})
}

func (db *DB) DeleteTask(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// taskArgs returns the column values after id and uid, in taskColumns order.
func taskArgs(t *types.Task) ([]any, error) {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	priority := t.Priority
	if priority == "" {
		priority = types.PriorityNone
	}
	return []any{
		emptyToNull(t.AccountID), emptyToNull(t.CalendarID), t.Href, t.ETag,
		t.Title, t.Description, boolToInt(t.Completed), timeToNullString(t.CompletedAt),
		string(priority), timeToNullString(t.StartDate), timeToNullString(t.DueDate),
		t.URL, t.ParentUID, t.SortOrder, string(tagsJSON),
		t.CreatedAt.UTC().Format(time.RFC3339Nano), t.ModifiedAt.UTC().Format(time.RFC3339Nano),
		boolToInt(t.Synced),
	}, nil
}

func scanTask(s scanner) (*types.Task, error) {
	var (
		t                               types.Task
		accountID, calendarID           sql.NullString
		completedAt, startDate, dueDate sql.NullString
		priority, tagsJSON              string
		createdAt, modifiedAt           string
		completed, synced               int
	)
	err := s.Scan(
		&t.ID, &t.UID, &accountID, &calendarID, &t.Href, &t.ETag, &t.Title, &t.Description,
		&completed, &completedAt, &priority, &startDate, &dueDate, &t.URL, &t.ParentUID,
		&t.SortOrder, &tagsJSON, &createdAt, &modifiedAt, &synced,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	t.AccountID = accountID.String
	t.CalendarID = calendarID.String
	t.Completed = completed != 0
	t.Synced = synced != 0
	t.Priority = types.Priority(priority)
	t.CompletedAt = nullStringToTime(completedAt)
	t.StartDate = nullStringToTime(startDate)
	t.DueDate = nullStringToTime(dueDate)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modifiedAt)
	if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags for task %s: %w", t.ID, err)
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*types.Task, error) {
	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// ===== Tags =====

func (db *DB) GetAllTags(ctx context.Context) ([]*types.Tag, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, color FROM tags ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []*types.Tag
	for rows.Next() {
		var t types.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}

func (db *DB) CreateTag(ctx context.Context, t *types.Tag) error {
	if _, err := db.conn.ExecContext(ctx, `INSERT INTO tags (id, name, color) VALUES (?, ?, ?)`, t.ID, t.Name, t.Color); err != nil {
		return fmt.Errorf("failed to insert tag: %w", err)
	}
	return nil
}

// ===== Pending deletions =====

func (db *DB) GetPendingDeletions(ctx context.Context) ([]*types.PendingDeletion, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT uid, account_id, calendar_id, href, queued_at
		FROM pending_deletions ORDER BY queued_at, uid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending deletions: %w", err)
	}
	defer rows.Close()

	var out []*types.PendingDeletion
	for rows.Next() {
		var (
			d        types.PendingDeletion
			queuedAt string
		)
		if err := rows.Scan(&d.UID, &d.AccountID, &d.CalendarID, &d.Href, &queuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending deletion: %w", err)
		}
		d.QueuedAt, _ = time.Parse(time.RFC3339Nano, queuedAt)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (db *DB) AddPendingDeletion(ctx context.Context, d *types.PendingDeletion) error {
	queuedAt := d.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO pending_deletions (uid, account_id, calendar_id, href, queued_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			account_id = excluded.account_id,
			calendar_id = excluded.calendar_id,
			href = excluded.href,
			queued_at = excluded.queued_at`,
		d.UID, d.AccountID, d.CalendarID, d.Href, queuedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to queue deletion: %w", err)
	}
	return nil
}

func (db *DB) ClearPendingDeletion(ctx context.Context, uid string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM pending_deletions WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("failed to clear pending deletion: %w", err)
	}
	return nil
}

// ===== UI state =====

func (db *DB) GetUIState(ctx context.Context) (*types.UIState, error) {
	var ui types.UIState
	err := db.conn.QueryRowContext(ctx, `
		SELECT active_account_id, active_calendar_id, active_tag_id, selected_task_id
		FROM ui_state WHERE id = 1`).Scan(&ui.ActiveAccountID, &ui.ActiveCalendarID, &ui.ActiveTagID, &ui.SelectedTaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ui state: %w", err)
	}
	return &ui, nil
}

func (db *DB) SetActiveCalendar(ctx context.Context, accountID, calendarID string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE ui_state SET active_account_id = ?, active_calendar_id = ? WHERE id = 1`,
		accountID, calendarID)
	if err != nil {
		return fmt.Errorf("failed to set active calendar: %w", err)
	}
	return nil
}

// ===== Helpers =====

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
