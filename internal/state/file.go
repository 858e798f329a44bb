package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// File names inside the state directory.
const (
	tasksFile    = "tasks.json"
	sessionsFile = "sessions.json"
	metaFile     = "meta.json"
	lockFile     = "state.lock"
)

// staleLockAge is how old a lock file must be before it is broken.
const staleLockAge = 30 * time.Second

// FileProvider stores state as JSON files under a directory, normally
// .autocoder/state. Every write goes to a temp file that is renamed over the
// target, so a crash never leaves a half-written record. Read-modify-write
// cycles hold an in-process mutex and a lock file so that the expected-status
// guard also holds across processes sharing the directory.
type FileProvider struct {
	dir string
	mu  sync.Mutex
}

// NewFileProvider creates the state directory if needed.
func NewFileProvider(dir string) (*FileProvider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileProvider{dir: dir}, nil
}

// Name returns the provider name.
func (p *FileProvider) Name() string { return "file" }

// Dir returns the state directory.
func (p *FileProvider) Dir() string { return p.dir }

// Close is a no-op for the file provider.
func (p *FileProvider) Close() error { return nil }

// CreateTask appends a new todo task.
func (p *FileProvider) CreateTask(ctx context.Context, nt NewTask) (string, error) {
	var id string
	err := p.withLock(ctx, func() error {
		tasks, err := p.loadTasks()
		if err != nil {
			return err
		}
		id = uuid.NewString()
		tasks = append(tasks, newTaskRecord(id, nt, nowFunc()))
		return p.writeJSON(tasksFile, tasks)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetTask returns the task with the given id.
func (p *FileProvider) GetTask(ctx context.Context, id string) (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tasks, err := p.loadTasks()
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].ID == id {
			t := tasks[i]
			return &t, nil
		}
	}
	return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
}

// UpdateTask applies patch under the lock.
func (p *FileProvider) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	var updated Task
	err := p.withLock(ctx, func() error {
		tasks, err := p.loadTasks()
		if err != nil {
			return err
		}
		for i := range tasks {
			if tasks[i].ID != id {
				continue
			}
			if err := applyPatch(&tasks[i], patch, nowFunc()); err != nil {
				return err
			}
			updated = tasks[i]
			return p.writeJSON(tasksFile, tasks)
		}
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListTasks returns tasks in creation order.
func (p *FileProvider) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tasks, err := p.loadTasks()
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(tasks))
	for i := range tasks {
		if filter.Matches(&tasks[i]) {
			out = append(out, tasks[i])
		}
	}
	return out, nil
}

// GetMeta returns the meta record.
func (p *FileProvider) GetMeta(ctx context.Context) (*Meta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadMeta()
}

// UpdateMeta applies patch, creating the record if absent.
func (p *FileProvider) UpdateMeta(ctx context.Context, patch MetaPatch) (*Meta, error) {
	var updated Meta
	err := p.withLock(ctx, func() error {
		m, err := p.loadMeta()
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if m == nil {
			m = &Meta{}
		}
		patch.Apply(m)
		updated = *m
		return p.writeJSON(metaFile, m)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// StartSession appends a session whose id is one more than the highest so far.
func (p *FileProvider) StartSession(ctx context.Context) (*Session, error) {
	var started Session
	err := p.withLock(ctx, func() error {
		sessions, err := p.loadSessions()
		if err != nil {
			return err
		}
		next := 1
		for _, s := range sessions {
			if s.ID >= next {
				next = s.ID + 1
			}
		}
		started = Session{ID: next, StartedAt: nowFunc()}
		sessions = append(sessions, started)
		if err := p.writeJSON(sessionsFile, sessions); err != nil {
			return err
		}

		m, err := p.loadMeta()
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if m == nil {
			m = &Meta{}
		}
		m.SessionCount++
		m.LastSessionID = next
		return p.writeJSON(metaFile, m)
	})
	if err != nil {
		return nil, err
	}
	return &started, nil
}

// EndSession closes a session. Ending an already ended session fails.
func (p *FileProvider) EndSession(ctx context.Context, id int, end SessionEnd) error {
	return p.withLock(ctx, func() error {
		sessions, err := p.loadSessions()
		if err != nil {
			return err
		}
		idx := -1
		for i := range sessions {
			if sessions[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("session %d: %w", id, ErrNotFound)
		}
		if sessions[idx].Ended() {
			return fmt.Errorf("session %d: %w", id, ErrSessionEnded)
		}
		now := nowFunc()
		sessions[idx].EndedAt = &now
		sessions[idx].Summary = end.Summary
		sessions[idx].CostUSD = end.CostUSD
		sessions[idx].Turns = end.Turns
		sessions[idx].ExitReason = end.ExitReason
		if err := p.writeJSON(sessionsFile, sessions); err != nil {
			return err
		}

		m, err := p.loadMeta()
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if m == nil {
			m = &Meta{}
		}
		m.LastSummary = end.Summary
		return p.writeJSON(metaFile, m)
	})
}

// ListSessions returns sessions ordered by id.
func (p *FileProvider) ListSessions(ctx context.Context) ([]Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sessions, err := p.loadSessions()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

// ProgressSummary counts non-meta tasks by status.
func (p *FileProvider) ProgressSummary(ctx context.Context) (Counts, error) {
	tasks, err := p.ListTasks(ctx, TaskFilter{})
	if err != nil {
		return Counts{}, err
	}
	return CountTasks(tasks), nil
}

// withLock runs fn holding both the mutex and the directory lock file.
func (p *FileProvider) withLock(ctx context.Context, fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	release, err := p.acquireLockFile(ctx)
	if err != nil {
		return err
	}
	defer release()

	return fn()
}

// acquireLockFile creates the lock file exclusively, waiting for another
// holder to release it. Locks older than staleLockAge are broken.
func (p *FileProvider) acquireLockFile(ctx context.Context) (func(), error) {
	path := filepath.Join(p.dir, lockFile)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			os.Remove(path)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for state lock: %w", ctx.Err())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (p *FileProvider) loadTasks() ([]Task, error) {
	var tasks []Task
	if err := p.readJSON(tasksFile, &tasks); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return tasks, nil
}

func (p *FileProvider) loadSessions() ([]Session, error) {
	var sessions []Session
	if err := p.readJSON(sessionsFile, &sessions); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return sessions, nil
}

func (p *FileProvider) loadMeta() (*Meta, error) {
	var m Meta
	if err := p.readJSON(metaFile, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// readJSON reads name into v, returning ErrNotFound if the file is missing.
func (p *FileProvider) readJSON(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(p.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// writeJSON atomically replaces name with the JSON encoding of v.
func (p *FileProvider) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return WriteFileAtomic(filepath.Join(p.dir, name), data, 0o644)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
