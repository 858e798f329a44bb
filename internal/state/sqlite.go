package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteProvider stores state in a single SQLite database. The
// expected-status guard is a conditional UPDATE checked via RowsAffected.
type SQLiteProvider struct {
	db   *sql.DB
	path string
}

// NewSQLiteProvider opens (creating if needed) the database at path and
// runs migrations.
func NewSQLiteProvider(path string) (*SQLiteProvider, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &ProviderError{Op: "init", Err: fmt.Errorf("create db directory: %w", err)}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &ProviderError{Op: "init", Err: fmt.Errorf("open db: %w", err)}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	p := &SQLiteProvider{db: db, path: path}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, &ProviderError{Op: "init", Err: fmt.Errorf("migrate: %w", err)}
	}
	return p, nil
}

// Name returns the provider name.
func (p *SQLiteProvider) Name() string { return "sqlite" }

// Close closes the database.
func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}

func (p *SQLiteProvider) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'todo',
		priority INTEGER NOT NULL DEFAULT 0,
		phase TEXT NOT NULL DEFAULT '',
		acceptance_criteria TEXT NOT NULL DEFAULT '[]',
		updated_at TEXT NOT NULL,
		session_id INTEGER NOT NULL DEFAULT 0,
		blocked_reason TEXT NOT NULL DEFAULT '',
		is_meta INTEGER NOT NULL DEFAULT 0,
		origin TEXT NOT NULL DEFAULT 'breakdown'
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		cost_usd REAL NOT NULL DEFAULT 0,
		turns INTEGER NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		exit_reason TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`
	_, err := p.db.Exec(schema)
	return err
}

const taskColumns = `id, title, description, status, priority, phase, acceptance_criteria,
	updated_at, session_id, blocked_reason, is_meta, origin`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t        Task
		status   string
		criteria string
		updated  string
		isMeta   int
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &t.Priority, &t.Phase,
		&criteria, &updated, &t.SessionID, &t.BlockedReason, &isMeta, &t.Origin); err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.Meta = isMeta != 0
	if err := json.Unmarshal([]byte(criteria), &t.AcceptanceCriteria); err != nil {
		return nil, fmt.Errorf("decode acceptance criteria: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	t.UpdatedAt = ts
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CreateTask inserts a new todo task.
func (p *SQLiteProvider) CreateTask(ctx context.Context, nt NewTask) (string, error) {
	t := newTaskRecord(uuid.NewString(), nt, nowFunc())
	criteria, err := json.Marshal(t.AcceptanceCriteria)
	if err != nil {
		return "", fmt.Errorf("encode acceptance criteria: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), t.Priority, t.Phase, string(criteria),
		formatTime(t.UpdatedAt), t.SessionID, t.BlockedReason, boolToInt(t.Meta), t.Origin,
	)
	if err != nil {
		return "", &ProviderError{Op: "create_task", Err: err}
	}
	return t.ID, nil
}

// GetTask returns the task with the given id.
func (p *SQLiteProvider) GetTask(ctx context.Context, id string) (*Task, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, &ProviderError{Op: "get_task", Err: err}
	}
	return t, nil
}

// UpdateTask applies patch. The write is conditional on the status and owner
// read at the start, so a concurrent writer that changed either wins and
// this call returns a ConflictError.
func (p *SQLiteProvider) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	t, err := p.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	observed, owner := t.Status, t.SessionID
	if err := applyPatch(t, patch, nowFunc()); err != nil {
		return nil, err
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, session_id = ?,
			blocked_reason = ?, updated_at = ? WHERE id = ? AND status = ? AND session_id = ?`,
		t.Title, t.Description, string(t.Status), t.Priority, t.SessionID,
		t.BlockedReason, formatTime(t.UpdatedAt), id, string(observed), owner,
	)
	if err != nil {
		return nil, &ProviderError{Op: "update_task", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, &ProviderError{Op: "update_task", Err: err}
	}
	if n == 0 {
		current, err := p.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == observed && current.SessionID != owner {
			return nil, &ConflictError{TaskID: id, Expected: observed, Actual: current.Status,
				Owner: true, ExpectedSession: owner, ActualSession: current.SessionID}
		}
		return nil, &ConflictError{TaskID: id, Expected: observed, Actual: current.Status}
	}
	return t, nil
}

// ListTasks returns tasks in creation order.
func (p *SQLiteProvider) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	var (
		where []string
		args  []interface{}
	)
	if !filter.IncludeMeta {
		where = append(where, "is_meta = 0")
	}
	if filter.SessionID != 0 {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ProviderError{Op: "list_tasks", Err: err}
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, &ProviderError{Op: "list_tasks", Err: err}
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, &ProviderError{Op: "list_tasks", Err: err}
	}
	return tasks, nil
}

// GetMeta returns the meta record.
func (p *SQLiteProvider) GetMeta(ctx context.Context) (*Meta, error) {
	return p.loadMeta(ctx, p.db)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (p *SQLiteProvider) loadMeta(ctx context.Context, q queryer) (*Meta, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM meta WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("meta: %w", ErrNotFound)
	}
	if err != nil {
		return nil, &ProviderError{Op: "get_meta", Err: err}
	}
	var m Meta
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, &ProviderError{Op: "get_meta", Err: err}
	}
	return &m, nil
}

// updateMetaTx applies fn to the meta record inside tx.
func (p *SQLiteProvider) updateMetaTx(ctx context.Context, tx *sql.Tx, fn func(*Meta)) (*Meta, error) {
	m, err := p.loadMeta(ctx, tx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if m == nil {
		m = &Meta{}
	}
	fn(m)
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (id, data) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		string(data)); err != nil {
		return nil, &ProviderError{Op: "update_meta", Err: err}
	}
	return m, nil
}

// UpdateMeta applies patch, creating the record if absent.
func (p *SQLiteProvider) UpdateMeta(ctx context.Context, patch MetaPatch) (*Meta, error) {
	var updated *Meta
	err := p.inTx(ctx, "update_meta", func(tx *sql.Tx) error {
		m, err := p.updateMetaTx(ctx, tx, patch.Apply)
		updated = m
		return err
	})
	return updated, err
}

// StartSession inserts a session; AUTOINCREMENT keeps ids monotonic.
func (p *SQLiteProvider) StartSession(ctx context.Context) (*Session, error) {
	s := &Session{StartedAt: nowFunc()}
	err := p.inTx(ctx, "start_session", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO sessions (started_at) VALUES (?)`, formatTime(s.StartedAt))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		s.ID = int(id)
		_, err = p.updateMetaTx(ctx, tx, func(m *Meta) {
			m.SessionCount++
			m.LastSessionID = s.ID
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// EndSession closes a session. Ending an already ended session fails.
func (p *SQLiteProvider) EndSession(ctx context.Context, id int, end SessionEnd) error {
	return p.inTx(ctx, "end_session", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET ended_at = ?, cost_usd = ?, turns = ?, summary = ?, exit_reason = ?
				WHERE id = ? AND ended_at IS NULL`,
			formatTime(nowFunc()), end.CostUSD, end.Turns, end.Summary, end.ExitReason, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return fmt.Errorf("session %d: %w", id, ErrNotFound)
			}
			return fmt.Errorf("session %d: %w", id, ErrSessionEnded)
		}
		_, err = p.updateMetaTx(ctx, tx, func(m *Meta) {
			m.LastSummary = end.Summary
		})
		return err
	})
}

// ListSessions returns sessions ordered by id.
func (p *SQLiteProvider) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, cost_usd, turns, summary, exit_reason FROM sessions ORDER BY id`)
	if err != nil {
		return nil, &ProviderError{Op: "list_sessions", Err: err}
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s       Session
			started string
			ended   sql.NullString
		)
		if err := rows.Scan(&s.ID, &started, &ended, &s.CostUSD, &s.Turns, &s.Summary, &s.ExitReason); err != nil {
			return nil, &ProviderError{Op: "list_sessions", Err: err}
		}
		if s.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, &ProviderError{Op: "list_sessions", Err: err}
		}
		if ended.Valid {
			t, err := time.Parse(time.RFC3339Nano, ended.String)
			if err != nil {
				return nil, &ProviderError{Op: "list_sessions", Err: err}
			}
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &ProviderError{Op: "list_sessions", Err: err}
	}
	return sessions, nil
}

// ProgressSummary counts non-meta tasks by status.
func (p *SQLiteProvider) ProgressSummary(ctx context.Context) (Counts, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE is_meta = 0 GROUP BY status`)
	if err != nil {
		return Counts{}, &ProviderError{Op: "progress_summary", Err: err}
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, &ProviderError{Op: "progress_summary", Err: err}
		}
		c.Total += n
		switch Status(status) {
		case StatusDone:
			c.Done += n
		case StatusInProgress:
			c.InProgress += n
		case StatusBlocked:
			c.Blocked += n
		default:
			c.Todo += n
		}
	}
	return c, rows.Err()
}

// inTx runs fn in a transaction, wrapping unexpected failures.
func (p *SQLiteProvider) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionEnded) || IsProviderError(err) {
			return err
		}
		return &ProviderError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
