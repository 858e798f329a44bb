package runner

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/autocoder/internal/backend"
	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/progress"
	"github.com/thruflo/autocoder/internal/state"
	"github.com/thruflo/autocoder/internal/testutil"
)

// fakeExecutor records commands instead of running them.
type fakeExecutor struct {
	mu       sync.Mutex
	commands []string
	output   string
}

func (e *fakeExecutor) Run(_ context.Context, command string) (CommandResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, command)
	return CommandResult{Command: command, Output: e.output}, nil
}

func (e *fakeExecutor) ran() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

// conflictProvider rejects every claim on one task with a conflict.
type conflictProvider struct {
	state.Provider
	mu     sync.Mutex
	taskID string
	claims int
}

func (p *conflictProvider) UpdateTask(ctx context.Context, id string, patch state.TaskPatch) (*state.Task, error) {
	if id == p.taskID && patch.Status != nil && *patch.Status == state.StatusInProgress {
		p.mu.Lock()
		p.claims++
		p.mu.Unlock()
		return nil, &state.ConflictError{TaskID: id, Expected: state.StatusTodo, Actual: state.StatusInProgress}
	}
	return p.Provider.UpdateTask(ctx, id, patch)
}

type harness struct {
	basePath string
	cfg      *config.Config
	provider *state.FileProvider
	executor *fakeExecutor
	logs     *testutil.SyncBuffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	basePath, cfg, provider := testutil.SetupProject(t)
	return &harness{basePath: basePath, cfg: cfg, provider: provider, executor: &fakeExecutor{}}
}

func (h *harness) runner(t *testing.T, p state.Provider, b backend.Backend, mutate func(*Options)) *Runner {
	t.Helper()
	logger, buf := testutil.NewTestLogger(t)
	h.logs = buf
	opts := Options{
		BasePath: h.basePath,
		Config:   h.cfg,
		Provider: p,
		Backend:  b,
		Executor: h.executor,
		Logger:   logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	r, err := New(opts)
	require.NoError(t, err)
	return r
}

// taskTitles returns the task title of each backend call, in order.
func taskTitles(calls []backend.Request) []string {
	var titles []string
	for _, c := range calls {
		first := strings.SplitN(c.Prompt, "\n", 2)[0]
		titles = append(titles, strings.TrimPrefix(first, "Task: "))
	}
	return titles
}

func alwaysComplete(req backend.Request) backend.Reply {
	return backend.Reply{Text: testutil.CompleteReply("done"), CostUSD: 0.01}
}

func TestRun_PhaseOrderingBeatsPriority(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ids := testutil.SeedTasks(t, h.provider, testutil.AuthTasks())
	b := backend.NewScriptedFunc(alwaysComplete)

	res := h.runner(t, h.provider, b, nil).Run(context.Background())

	require.NoError(t, res.Error)
	assert.Equal(t, ExitDone, res.Reason)
	assert.Equal(t, 0, res.Reason.ExitCode())
	assert.Equal(t, []string{
		"[AUTH-1.1] Create user model",
		"[AUTH-1.2] Hash passwords",
		"[AUTH-2.1] Login endpoint",
	}, taskTitles(b.Calls()))

	for _, id := range ids {
		task := testutil.AssertTaskStatus(t, h.provider, id, state.StatusDone)
		assert.Equal(t, res.Session.SessionID, task.SessionID)
	}
	assert.Equal(t, 3, res.Session.TasksCompleted)
	assert.InDelta(t, 0.03, res.Session.CostUSD, 1e-9)
}

func TestRun_FreshContextPerTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	testutil.SeedTasks(t, h.provider, testutil.AuthTasks()[:2])
	b := backend.NewScriptedFunc(alwaysComplete)

	h.runner(t, h.provider, b, nil).Run(context.Background())

	calls := b.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, StandingInstructions, calls[1].System)
	assert.Contains(t, calls[0].Prompt, "users table exists")
	assert.NotContains(t, calls[1].Prompt, "Create user model")
	assert.NotContains(t, calls[1].Prompt, "Turn 1 reply")
}

func TestRun_MaxTasksPerSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.MaxTasksPerSession = 2
	ids := testutil.SeedTasks(t, h.provider, testutil.AuthTasks())
	b := backend.NewScriptedFunc(alwaysComplete)

	res := h.runner(t, h.provider, b, nil).Run(context.Background())

	require.NoError(t, res.Error)
	assert.Equal(t, ExitLimitTasks, res.Reason)
	assert.True(t, res.Reason.LimitExceeded())
	assert.Equal(t, 0, res.Reason.ExitCode())
	assert.Equal(t, 2, res.Session.TasksCompleted)
	testutil.AssertTaskStatus(t, h.provider, ids[2], state.StatusTodo)

	sessions, err := h.provider.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Ended())
	assert.Equal(t, "limit_tasks", sessions[0].ExitReason)
	assert.Equal(t, res.Summary, sessions[0].Summary)
	assert.Contains(t, sessions[0].Summary, "2 completed")
	assert.Equal(t, 2, sessions[0].Turns)
}

func TestRun_CostLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.CostLimitPerSession = 0.5
	testutil.SeedTasks(t, h.provider, testutil.AuthTasks())
	b := backend.NewScriptedFunc(func(backend.Request) backend.Reply {
		return backend.Reply{Text: testutil.CompleteReply("ok"), CostUSD: 0.3}
	})

	res := h.runner(t, h.provider, b, nil).Run(context.Background())

	assert.Equal(t, ExitLimitCost, res.Reason)
	assert.Equal(t, 2, res.Session.TasksCompleted)
	assert.Contains(t, h.logs.String(), "WARN: session limit reached")
}

func TestRun_TurnLimitBlocksTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.MaxTurnsPerTask = 2
	ids := testutil.SeedTasks(t, h.provider, testutil.AuthTasks())
	b := backend.NewScriptedFunc(func(backend.Request) backend.Reply {
		return backend.Reply{Text: "Still working on it."}
	})

	res := h.runner(t, h.provider, b, nil).Run(context.Background())

	assert.Equal(t, ExitNothingRunnable, res.Reason)
	assert.Len(t, b.Calls(), 2)
	task := testutil.AssertTaskStatus(t, h.provider, ids[0], state.StatusBlocked)
	assert.Equal(t, "turn limit exceeded", task.BlockedReason)
	assert.Contains(t, res.Blockers, ids[0])
	testutil.AssertTaskStatus(t, h.provider, ids[1], state.StatusTodo)
}

func TestRun_BlockedReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ids := testutil.SeedTasks(t, h.provider, testutil.AuthTasks()[:1])
	b := backend.NewScripted(backend.Reply{Text: testutil.BlockedReply("database credentials missing")})

	res := h.runner(t, h.provider, b, nil).Run(context.Background())

	assert.Equal(t, ExitNothingRunnable, res.Reason)
	task := testutil.AssertTaskStatus(t, h.provider, ids[0], state.StatusBlocked)
	assert.Equal(t, "database credentials missing", task.BlockedReason)
	assert.Equal(t, 1, res.Session.TasksBlocked)
}

func TestRun_CommandsFeedNextTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.executor.output = "ok  github.com/acme/auth 0.12s"
	testutil.SeedTasks(t, h.provider, testutil.AuthTasks()[:1])
	b := backend.NewScripted(
		backend.Reply{Text: testutil.ContinueReply("go test ./...")},
		backend.Reply{Text: testutil.CompleteReply("tests pass")},
	)

	res := h.runner(t, h.provider, b, nil).Run(context.Background())

	assert.Equal(t, ExitDone, res.Reason)
	assert.Equal(t, []string{"go test ./..."}, h.executor.ran())
	calls := b.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].Prompt, "$ go test ./...")
	assert.Contains(t, calls[1].Prompt, "ok  github.com/acme/auth 0.12s")
	assert.Contains(t, calls[1].Prompt, "turn 2 of at most")
}

func TestRun_SecurityDenialBlocksTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ids := testutil.SeedTasks(t, h.provider, testutil.AuthTasks()[:1])
	b := backend.NewScripted(backend.Reply{Text: testutil.ContinueReply("rm -rf /", "ls")})
	metrics := progress.NewMetrics()

	res := h.runner(t, h.provider, b, func(o *Options) { o.Metrics = metrics }).Run(context.Background())

	assert.Equal(t, ExitNothingRunnable, res.Reason)
	assert.Empty(t, h.executor.ran(), "no command runs after a denial")
	assert.Len(t, b.Calls(), 1, "denials are never retried")

	task := testutil.AssertTaskStatus(t, h.provider, ids[0], state.StatusBlocked)
	assert.Contains(t, task.BlockedReason, "destructive_pattern")

	entries := testutil.AssertAudit(t, h.basePath, state.AuditSecurityDenial)
	assert.Equal(t, "rm -rf /", entries[0].Command)
	assert.Equal(t, "destructive_pattern", entries[0].Reason)
	assert.NotEmpty(t, entries[0].Rule)
	assert.Equal(t, ids[0], entries[0].TaskID)
	assert.Contains(t, h.logs.String(), "WARN: command denied")

	n, err := promtestutil.GatherAndCount(metrics.Registry(), "autocoder_security_denials_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_NewTaskCheckpointTimeoutPauses(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.Checkpoints.BeforeNewTask = state.Ptr(true)
	h.cfg.Approval.TimeoutMinutes = 0.01
	h.cfg.Approval.DefaultAction = config.ActionPause
	ids := testutil.SeedTasks(t, h.provider, testutil.AuthTasks())
	b := backend.NewScripted(backend.Reply{Text: testutil.FollowupReply("model done", "[AUTH-1.3] Add logout")})

	res := h.runner(t, h.provider, b, nil).Run(context.Background())

	assert.Equal(t, ExitPaused, res.Reason)
	assert.Equal(t, 0, res.Reason.ExitCode())
	assert.Len(t, b.Calls(), 1, "nothing runs after the pause")
	testutil.AssertTaskStatus(t, h.provider, ids[0], state.StatusDone)
	testutil.AssertTaskStatus(t, h.provider, ids[1], state.StatusTodo)

	tasks, err := h.provider.ListTasks(context.Background(), state.TaskFilter{})
	require.NoError(t, err)
	for _, task := range tasks {
		assert.NotEqual(t, "[AUTH-1.3] Add logout", task.Title)
	}

	entries := testutil.AssertAudit(t, h.basePath, state.AuditCheckpoint)
	require.Len(t, entries, 1)
	assert.Equal(t, "new_task", entries[0].Trigger)
	assert.Equal(t, "auto-resolved: pause (timeout)", entries[0].Resolution)
	assert.True(t, entries[0].ByTimeout)
	assert.Contains(t, h.logs.String(), "auto-resolved: pause (timeout)")
}

func TestRun_FollowupCreatedWhenNotGated(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	testutil.SeedTasks(t, h.provider, testutil.AuthTasks()[:1])
	b := backend.NewScripted(
		backend.Reply{Text: testutil.FollowupReply("done", "[AUTH-1.2] Add logout")},
		backend.Reply{Text: testutil.CompleteReply("logout done")},
	)

	res := h.runner(t, h.provider, b, nil).Run(context.Background())

	assert.Equal(t, ExitDone, res.Reason)
	assert.Equal(t, 1, res.Session.TasksCreated)
	task := testutil.TaskByTitle(t, h.provider, "[AUTH-1.2] Add logout")
	assert.Equal(t, state.OriginFollowup, task.Origin)
	assert.Equal(t, state.StatusDone, task.Status)
}

func TestRun_BlockerCheckpointAbort(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.Checkpoints.OnBlocker = state.Ptr(true)
	h.cfg.Approval.TimeoutMinutes = 0
	h.cfg.Approval.DefaultAction = config.ActionAbort
	testutil.SeedTasks(t, h.provider, []state.NewTask{{Title: "Write docs", Priority: 1}, {Title: "Add CI", Priority: 2}})
	b := backend.NewScriptedFunc(func(backend.Request) backend.Reply {
		return backend.Reply{Text: "TASK BLOCKED: no access to the wiki"}
	})

	res := h.runner(t, h.provider, b, nil).Run(context.Background())

	assert.Equal(t, ExitAborted, res.Reason)
	assert.Len(t, b.Calls(), 1)
	entries := testutil.AssertAudit(t, h.basePath, state.AuditCheckpoint)
	assert.Equal(t, "blocker", entries[0].Trigger)
	assert.Equal(t, "auto-resolved: abort (timeout)", entries[0].Resolution)
}

func TestRun_TurnIntervalAcrossSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.Checkpoints.TurnInterval = 25
	h.cfg.Approval.TimeoutMinutes = 0
	h.cfg.Approval.DefaultAction = config.ActionContinue
	testutil.SeedTasks(t, h.provider, testutil.AuthTasks()[:2])
	_, err := h.provider.UpdateMeta(context.Background(), state.MetaPatch{AddTurns: 24})
	require.NoError(t, err)
	b := backend.NewScriptedFunc(alwaysComplete)

	res := h.runner(t, h.provider, b, nil).Run(context.Background())

	assert.Equal(t, ExitDone, res.Reason)
	entries := testutil.AssertAudit(t, h.basePath, state.AuditCheckpoint)
	require.Len(t, entries, 1, "fires on turn 25 only")
	assert.Equal(t, "turn_interval", entries[0].Trigger)
	assert.Contains(t, entries[0].Detail, "turn 25")

	m, err := h.provider.GetMeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 26, m.TotalTurns)
}

func TestRun_StopFile(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, RequestStop(h.basePath))
	ids := testutil.SeedTasks(t, h.provider, testutil.AuthTasks())
	b := backend.NewScriptedFunc(func(backend.Request) backend.Reply {
		_ = RequestStop(h.basePath)
		return backend.Reply{Text: testutil.CompleteReply("done")}
	})

	res := h.runner(t, h.provider, b, nil).Run(context.Background())

	assert.Equal(t, ExitStopped, res.Reason)
	assert.Len(t, b.Calls(), 1, "a stale stop file is cleared at session start")
	testutil.AssertTaskStatus(t, h.provider, ids[0], state.StatusDone)
	testutil.AssertTaskStatus(t, h.provider, ids[1], state.StatusTodo)
}

func TestRun_CancelLeavesTaskInProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ids := testutil.SeedTasks(t, h.provider, testutil.AuthTasks())
	ctx, cancel := context.WithCancel(context.Background())
	b := backend.NewScriptedFunc(func(backend.Request) backend.Reply {
		cancel()
		return backend.Reply{Err: context.Canceled}
	})

	res := h.runner(t, h.provider, b, nil).Run(ctx)

	assert.Equal(t, ExitStopped, res.Reason)
	testutil.AssertTaskStatus(t, h.provider, ids[0], state.StatusInProgress)

	sessions, err := h.provider.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Ended(), "session closed after cancellation")
	assert.Equal(t, "stopped", sessions[0].ExitReason)
}

func TestRun_ResumeAdoptsStaleTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ids := testutil.SeedTasks(t, h.provider, testutil.AuthTasks())
	_, err := h.provider.UpdateTask(context.Background(), ids[0], state.TaskPatch{
		Status:    state.Ptr(state.StatusInProgress),
		SessionID: state.Ptr(99),
	})
	require.NoError(t, err)

	t.Run("without resume the stale task gates", func(t *testing.T) {
		b := backend.NewScriptedFunc(alwaysComplete)
		res := h.runner(t, h.provider, b, nil).Run(context.Background())
		assert.Equal(t, ExitNothingRunnable, res.Reason)
		assert.Contains(t, res.Blockers, ids[0])
		assert.Empty(t, b.Calls())
	})

	t.Run("with resume it runs first", func(t *testing.T) {
		b := backend.NewScriptedFunc(alwaysComplete)
		res := h.runner(t, h.provider, b, func(o *Options) { o.Resume = true }).Run(context.Background())
		assert.Equal(t, ExitDone, res.Reason)
		assert.Equal(t, "[AUTH-1.1] Create user model", taskTitles(b.Calls())[0])
		testutil.AssertCounts(t, h.provider, 3, 0, 0, 0)
	})
}

func TestRun_ResumeLeavesOpenSessionTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ids := testutil.SeedTasks(t, h.provider, testutil.AuthTasks())
	other, err := h.provider.StartSession(context.Background())
	require.NoError(t, err)
	_, err = h.provider.UpdateTask(context.Background(), ids[0], state.TaskPatch{
		Status:    state.Ptr(state.StatusInProgress),
		SessionID: state.Ptr(other.ID),
	})
	require.NoError(t, err)

	t.Run("owner still running", func(t *testing.T) {
		b := backend.NewScriptedFunc(alwaysComplete)
		res := h.runner(t, h.provider, b, func(o *Options) { o.Resume = true }).Run(context.Background())
		assert.Equal(t, ExitNothingRunnable, res.Reason)
		assert.Contains(t, res.Blockers, ids[0])
		assert.Empty(t, b.Calls())
	})

	t.Run("take over", func(t *testing.T) {
		b := backend.NewScriptedFunc(alwaysComplete)
		res := h.runner(t, h.provider, b, func(o *Options) {
			o.Resume = true
			o.TakeOver = true
		}).Run(context.Background())
		assert.Equal(t, ExitDone, res.Reason)
		assert.Equal(t, "[AUTH-1.1] Create user model", taskTitles(b.Calls())[0])
	})
}

// racingProvider lets another session adopt taskID just before the runner's
// own adoption lands.
type racingProvider struct {
	state.Provider
	taskID   string
	rival    int
	expected []int
}

func (p *racingProvider) UpdateTask(ctx context.Context, id string, patch state.TaskPatch) (*state.Task, error) {
	if id == p.taskID && patch.ExpectedSessionID != nil {
		p.expected = append(p.expected, *patch.ExpectedSessionID)
		if _, err := p.Provider.UpdateTask(ctx, id, state.TaskPatch{
			Status:            state.Ptr(state.StatusInProgress),
			SessionID:         state.Ptr(p.rival),
			ExpectedStatus:    patch.ExpectedStatus,
			ExpectedSessionID: patch.ExpectedSessionID,
		}); err != nil {
			return nil, err
		}
	}
	return p.Provider.UpdateTask(ctx, id, patch)
}

func TestRun_ResumeAdoptionIsExclusive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ids := testutil.SeedTasks(t, h.provider, testutil.AuthTasks())
	_, err := h.provider.UpdateTask(context.Background(), ids[0], state.TaskPatch{
		Status:    state.Ptr(state.StatusInProgress),
		SessionID: state.Ptr(99),
	})
	require.NoError(t, err)

	p := &racingProvider{Provider: h.provider, taskID: ids[0], rival: 77}
	b := backend.NewScriptedFunc(alwaysComplete)
	res := h.runner(t, p, b, func(o *Options) { o.Resume = true }).Run(context.Background())

	assert.Equal(t, []int{99}, p.expected, "adoption expects the stale owner")
	assert.Equal(t, ExitNothingRunnable, res.Reason)
	assert.Empty(t, b.Calls())
	assert.Contains(t, h.logs.String(), "lost claim on task")

	got, err := h.provider.GetTask(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, 77, got.SessionID)
}

func TestRun_TurnTotalSurvivesSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.MaxTasksPerSession = 1
	testutil.SeedTasks(t, h.provider, testutil.AuthTasks())

	for i := 1; i <= 3; i++ {
		b := backend.NewScripted(
			backend.Reply{Text: "working"},
			backend.Reply{Text: testutil.CompleteReply("done")},
		)
		h.runner(t, h.provider, b, nil).Run(context.Background())

		m, err := h.provider.GetMeta(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2*i, m.TotalTurns)
	}
}

func TestRun_ConflictRetriedOnceThenSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ids := testutil.SeedTasks(t, h.provider, []state.NewTask{
		{Title: "Write docs", Priority: 1},
		{Title: "Add CI", Priority: 2},
	})
	p := &conflictProvider{Provider: h.provider, taskID: ids[0]}
	b := backend.NewScriptedFunc(alwaysComplete)

	res := h.runner(t, p, b, nil).Run(context.Background())

	assert.Equal(t, 2, p.claims, "one retry after the first conflict")
	assert.Equal(t, []string{"Add CI"}, taskTitles(b.Calls()))
	assert.Equal(t, ExitNothingRunnable, res.Reason)
	testutil.AssertTaskStatus(t, h.provider, ids[0], state.StatusTodo)
	assert.Contains(t, h.logs.String(), "lost claim on task")
}

func TestRun_BackendFailuresEndSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ids := testutil.SeedTasks(t, h.provider, []state.NewTask{
		{Title: "Write docs", Priority: 1},
		{Title: "Add CI", Priority: 2},
		{Title: "Ship it", Priority: 3},
		{Title: "Announce", Priority: 4},
	})
	b := backend.NewScriptedFunc(func(backend.Request) backend.Reply {
		return backend.Reply{Err: errors.New("503 overloaded")}
	})

	res := h.runner(t, h.provider, b, nil).Run(context.Background())

	assert.Equal(t, ExitProviderFailure, res.Reason)
	assert.Equal(t, 1, res.Reason.ExitCode())
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), "503 overloaded")
	for _, id := range ids[:3] {
		task := testutil.AssertTaskStatus(t, h.provider, id, state.StatusBlocked)
		assert.Contains(t, task.BlockedReason, "backend error")
	}
	testutil.AssertTaskStatus(t, h.provider, ids[3], state.StatusTodo)
}

func TestRun_ProgressTracked(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	testutil.SeedTasks(t, h.provider, testutil.AuthTasks())
	b := backend.NewScripted(
		backend.Reply{Text: testutil.CompleteReply("one")},
		backend.Reply{Text: testutil.BlockedReply("stuck")},
	)

	r := h.runner(t, h.provider, b, nil)
	var kinds []progress.EventKind
	r.Tracker().Subscribe(func(ev progress.Event, _ progress.Counters) { kinds = append(kinds, ev.Kind) })
	res := r.Run(context.Background())

	assert.Equal(t, ExitNothingRunnable, res.Reason)
	assert.Equal(t, []progress.EventKind{
		progress.TaskStarted, progress.TaskCompleted,
		progress.TaskStarted, progress.BlockerDetected,
		progress.SessionEnded,
	}, kinds)
	c := r.Tracker().Snapshot()
	assert.Equal(t, progress.Counters{Total: 3, Done: 1, Blocked: 1, NotStarted: 1}, c)
	assert.Equal(t, res.Summary, r.Tracker().LastSummary())
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	assert.Error(t, err)

	_, cfg, provider := testutil.SetupProject(t)
	cfg.Approval.DefaultAction = "explode"
	_, err = New(Options{Config: cfg, Provider: provider, Backend: backend.NewScripted()})
	assert.Error(t, err)
}

func TestStopFileHelpers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.False(t, StopRequested(dir))
	require.NoError(t, RequestStop(dir))
	assert.True(t, StopRequested(dir))
	require.NoError(t, ClearStop(dir))
	assert.False(t, StopRequested(dir))
	require.NoError(t, ClearStop(dir), "clearing a missing stop file is fine")

	_, err := os.Stat(StopPath(dir))
	assert.True(t, os.IsNotExist(err))
}
