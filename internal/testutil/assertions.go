package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/autocoder/internal/state"
)

// AssertTaskStatus checks the stored status of a task and returns it.
func AssertTaskStatus(t *testing.T, p state.Provider, id string, want state.Status) *state.Task {
	t.Helper()
	task, err := p.GetTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, want, task.Status, "task %s (%s)", id, task.Title)
	return task
}

// AssertCounts checks the provider's progress summary.
func AssertCounts(t *testing.T, p state.Provider, done, inProgress, blocked, todo int) {
	t.Helper()
	c, err := p.ProgressSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, done, c.Done, "done")
	assert.Equal(t, inProgress, c.InProgress, "in_progress")
	assert.Equal(t, blocked, c.Blocked, "blocked")
	assert.Equal(t, todo, c.Todo, "todo")
}

// AssertAudit returns the audit entries of a kind, failing if there are none.
func AssertAudit(t *testing.T, basePath, kind string) []state.AuditEntry {
	t.Helper()
	entries, err := state.ReadAudit(state.AuditPath(basePath))
	require.NoError(t, err)
	var matched []state.AuditEntry
	for _, e := range entries {
		if e.Kind == kind {
			matched = append(matched, e)
		}
	}
	require.NotEmpty(t, matched, "no %s audit entries", kind)
	return matched
}

// TaskByTitle finds a task by exact title.
func TaskByTitle(t *testing.T, p state.Provider, title string) *state.Task {
	t.Helper()
	tasks, err := p.ListTasks(context.Background(), state.TaskFilter{IncludeMeta: true})
	require.NoError(t, err)
	for i := range tasks {
		if tasks[i].Title == title {
			return &tasks[i]
		}
	}
	t.Fatalf("no task titled %q", title)
	return nil
}
