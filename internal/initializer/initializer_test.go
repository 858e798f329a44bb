package initializer

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/autocoder/internal/backend"
	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/state"
	"github.com/thruflo/autocoder/internal/testutil"
)

// failingProvider fails CreateTask once failAfter tasks were created.
type failingProvider struct {
	state.Provider
	mu        sync.Mutex
	created   int
	failAfter int
}

func (p *failingProvider) CreateTask(ctx context.Context, nt state.NewTask) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.created >= p.failAfter {
		return "", &state.ProviderError{Op: "create", Err: errors.New("tracker rejected task")}
	}
	p.created++
	return p.Provider.CreateTask(ctx, nt)
}

func setup(t *testing.T) (string, *config.Config, *state.FileProvider, string) {
	t.Helper()
	basePath, cfg, provider := testutil.SetupProject(t)
	specPath := testutil.WriteTestFile(t, basePath, "spec.md", []byte(testutil.SampleSpec))
	return basePath, cfg, provider, specPath
}

func TestRun_CreatesBreakdown(t *testing.T) {
	t.Parallel()

	basePath, cfg, provider, specPath := setup(t)
	logger, _ := testutil.NewTestLogger(t)
	b := backend.NewScripted(backend.Reply{Text: testutil.SampleBreakdownFenced, CostUSD: 0.05})

	in := New(provider, b, cfg, logger)
	res, err := in.Run(context.Background(), Options{BasePath: basePath, SpecPath: specPath})
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, in.Phase())
	assert.Equal(t, "fenced_json", res.Strategy)
	assert.Equal(t, "file", res.Provider)
	require.Len(t, res.TaskIDs, 3)
	assert.NotEmpty(t, res.MetaID)

	// The prompt carries the spec and the project's title prefix.
	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "Users register with an email and password.")
	assert.Contains(t, calls[0].Prompt, "[AUTH-1.1]")
	assert.Equal(t, AnalysisSystemPrompt, calls[0].System)

	tasks, err := provider.ListTasks(context.Background(), state.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, state.StatusTodo, task.Status)
		assert.Equal(t, state.OriginBreakdown, task.Origin)
	}

	meta := testutil.TaskByTitle(t, provider, "[META] auth")
	assert.True(t, meta.Meta)

	m, err := provider.GetMeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "auth", m.ProjectName)
	assert.Equal(t, 3, m.TaskCount)
	assert.Equal(t, "file", m.Provider)
	assert.InDelta(t, 0.05, m.TotalCostUSD, 1e-9)

	marker, err := state.ReadMarker(basePath)
	require.NoError(t, err)
	assert.Equal(t, 3, marker.TaskCount)
	assert.Equal(t, "file", marker.Provider)
	assert.Equal(t, specPath, marker.SpecPath)
}

func TestRun_ProjectNameOverride(t *testing.T) {
	t.Parallel()

	basePath, cfg, provider, specPath := setup(t)
	b := backend.NewScripted(backend.Reply{Text: testutil.SampleBreakdownLines})

	res, err := New(provider, b, cfg, nil).Run(context.Background(), Options{
		BasePath:    basePath,
		SpecPath:    specPath,
		ProjectName: "Billing",
	})
	require.NoError(t, err)
	assert.Equal(t, "line_pattern", res.Strategy)
	assert.Equal(t, "Billing", res.Marker.ProjectName)
	assert.Contains(t, b.Calls()[0].Prompt, "[BILL-1.1]")
	testutil.TaskByTitle(t, provider, "[META] Billing")
}

func TestRun_MarkerGuard(t *testing.T) {
	t.Parallel()

	basePath, cfg, provider, specPath := setup(t)
	require.NoError(t, state.WriteMarker(basePath, &state.Marker{InitializedAt: time.Now(), TaskCount: 1}))

	b := backend.NewScripted(backend.Reply{Text: testutil.SampleBreakdownFenced})
	in := New(provider, b, cfg, nil)

	_, err := in.Run(context.Background(), Options{BasePath: basePath, SpecPath: specPath})
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Empty(t, b.Calls(), "backend must not be called")

	tasks, err := provider.ListTasks(context.Background(), state.TaskFilter{IncludeMeta: true})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRun_ForceOverridesMarker(t *testing.T) {
	t.Parallel()

	basePath, cfg, provider, specPath := setup(t)
	require.NoError(t, state.WriteMarker(basePath, &state.Marker{InitializedAt: time.Now(), TaskCount: 1}))
	logger, buf := testutil.NewTestLogger(t)

	b := backend.NewScripted(backend.Reply{Text: testutil.SampleBreakdownFenced})
	res, err := New(provider, b, cfg, logger).Run(context.Background(), Options{
		BasePath: basePath,
		SpecPath: specPath,
		Force:    true,
	})
	require.NoError(t, err)
	assert.Len(t, res.TaskIDs, 3)
	assert.Contains(t, buf.String(), "WARN: re-running init over an existing marker")

	marker, err := state.ReadMarker(basePath)
	require.NoError(t, err)
	assert.Equal(t, 3, marker.TaskCount)
}

func TestRun_AnalysisErrorWritesNothing(t *testing.T) {
	t.Parallel()

	basePath, cfg, provider, specPath := setup(t)
	b := backend.NewScripted(backend.Reply{Text: testutil.SampleProse})
	in := New(provider, b, cfg, nil)

	_, err := in.Run(context.Background(), Options{BasePath: basePath, SpecPath: specPath})
	require.Error(t, err)
	assert.True(t, IsAnalysisError(err))
	assert.Equal(t, PhaseAnalyze, in.Phase())

	assert.False(t, state.MarkerExists(basePath))
	tasks, err := provider.ListTasks(context.Background(), state.TaskFilter{IncludeMeta: true})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRun_BackendError(t *testing.T) {
	t.Parallel()

	basePath, cfg, provider, specPath := setup(t)
	b := backend.NewScripted(backend.Reply{Err: errors.New("model unavailable")})

	_, err := New(provider, b, cfg, nil).Run(context.Background(), Options{BasePath: basePath, SpecPath: specPath})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to analyze spec")
	assert.Contains(t, err.Error(), "model unavailable")
	assert.False(t, state.MarkerExists(basePath))
}

func TestRun_SpecErrors(t *testing.T) {
	t.Parallel()

	basePath, cfg, provider, _ := setup(t)
	b := backend.NewScripted()

	_, err := New(provider, b, cfg, nil).Run(context.Background(), Options{
		BasePath: basePath,
		SpecPath: filepath.Join(basePath, "missing.md"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read spec")

	empty := testutil.WriteTestFile(t, basePath, "empty.md", []byte("  \n\n"))
	_, err = New(provider, b, cfg, nil).Run(context.Background(), Options{BasePath: basePath, SpecPath: empty})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is empty")
	assert.Empty(t, b.Calls())
}

func TestRun_PartialCreate(t *testing.T) {
	t.Parallel()

	basePath, cfg, file, specPath := setup(t)
	// Meta task plus one breakdown task succeed; the second task fails.
	provider := &failingProvider{Provider: file, failAfter: 2}
	b := backend.NewScripted(backend.Reply{Text: testutil.SampleBreakdownFenced})

	in := New(provider, b, cfg, nil)
	res, err := in.Run(context.Background(), Options{BasePath: basePath, SpecPath: specPath})
	require.Error(t, err)

	var pe *PartialCreateError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Created)
	assert.Equal(t, 3, pe.Expected)
	assert.True(t, state.IsProviderError(err))
	assert.Equal(t, PhaseWriteMarker, in.Phase())

	require.NotNil(t, res)
	assert.Len(t, res.TaskIDs, 1)

	marker, err := state.ReadMarker(basePath)
	require.NoError(t, err)
	assert.Equal(t, 1, marker.TaskCount)

	m, err := file.GetMeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.TaskCount)
}

func TestRun_MetaCreateFailure(t *testing.T) {
	t.Parallel()

	basePath, cfg, file, specPath := setup(t)
	provider := &failingProvider{Provider: file, failAfter: 0}
	b := backend.NewScripted(backend.Reply{Text: testutil.SampleBreakdownFenced})

	_, err := New(provider, b, cfg, nil).Run(context.Background(), Options{BasePath: basePath, SpecPath: specPath})
	var pe *PartialCreateError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 0, pe.Created)
	assert.False(t, state.MarkerExists(basePath))
}

func TestRun_FallbackProvider(t *testing.T) {
	basePath, cfg, _, specPath := setup(t)

	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	cfg.State.Provider = config.ProviderRemote
	cfg.State.RemoteURL = url
	cfg.State.MaxAttempts = 1
	cfg.State.Fallback = true

	provider, err := state.Open(context.Background(), cfg, basePath)
	require.NoError(t, err)
	defer provider.Close()
	require.True(t, provider.Fallback())

	b := backend.NewScripted(backend.Reply{Text: testutil.SampleBreakdownFenced})
	res, err := New(provider, b, cfg, nil).Run(context.Background(), Options{BasePath: basePath, SpecPath: specPath})
	require.NoError(t, err)
	assert.Equal(t, "file (fallback from remote)", res.Provider)
	assert.Len(t, res.TaskIDs, 3)

	_, err = os.Stat(filepath.Join(state.FileDir(basePath), "tasks.json"))
	assert.NoError(t, err)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tasks := []state.NewTask{
		{Title: "a", Priority: 0, AcceptanceCriteria: []string{" x ", "", "  "}},
		{Title: "b", Priority: 7},
		{Title: "c", Priority: -1},
	}
	Normalize(tasks)

	assert.Equal(t, 1, tasks[0].Priority)
	assert.Equal(t, 7, tasks[1].Priority)
	assert.Equal(t, 3, tasks[2].Priority)
	assert.Equal(t, []string{"x"}, tasks[0].AcceptanceCriteria)
	for _, task := range tasks {
		assert.Equal(t, state.OriginBreakdown, task.Origin)
	}
}

func TestTitlePrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "AUTH", TitlePrefix("auth"))
	assert.Equal(t, "BILL", TitlePrefix("Billing Service"))
	assert.Equal(t, "MYAP", TitlePrefix("my-app 2"))
	assert.Equal(t, "TASK", TitlePrefix("123"))
	assert.Equal(t, "TASK", TitlePrefix(""))
}

func TestPhaseString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "create_tasks", PhaseCreateTasks.String())
	assert.Equal(t, "Phase(42)", Phase(42).String())
}
