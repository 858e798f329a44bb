// Package initializer turns a specification document into the initial task
// breakdown. It runs once per project; a marker file guards against
// creating the breakdown twice.
package initializer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/thruflo/autocoder/internal/backend"
	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/logging"
	"github.com/thruflo/autocoder/internal/state"
)

// Phase is a step of the initializer state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReadSpec
	PhaseAnalyze
	PhaseCreateTasks
	PhaseWriteMarker
	PhaseDone
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReadSpec:
		return "read_spec"
	case PhaseAnalyze:
		return "analyze"
	case PhaseCreateTasks:
		return "create_tasks"
	case PhaseWriteMarker:
		return "write_marker"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ErrAlreadyInitialized is returned when the marker exists and Force is not
// set.
var ErrAlreadyInitialized = errors.New("project already initialized (use --force to run init again)")

// AnalysisError reports that no strategy could extract a task breakdown.
type AnalysisError struct {
	Strategies []string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("could not extract a task breakdown from the model reply (tried %s)", strings.Join(e.Strategies, ", "))
}

// IsAnalysisError reports whether err is an *AnalysisError.
func IsAnalysisError(err error) bool {
	var ae *AnalysisError
	return errors.As(err, &ae)
}

// PartialCreateError reports that task creation stopped part way.
type PartialCreateError struct {
	Created  int
	Expected int
	Err      error
}

func (e *PartialCreateError) Error() string {
	return fmt.Sprintf("created %d of %d tasks: %v", e.Created, e.Expected, e.Err)
}

func (e *PartialCreateError) Unwrap() error {
	return e.Err
}

// Options are the inputs of one init run.
type Options struct {
	// BasePath is the project root holding .autocoder/.
	BasePath    string
	SpecPath    string
	ProjectName string
	Force       bool
}

// Result describes a completed init.
type Result struct {
	TaskIDs  []string
	MetaID   string
	Strategy string
	Provider string
	Marker   *state.Marker
}

// Initializer runs the init state machine against a provider and backend.
type Initializer struct {
	provider state.Provider
	backend  backend.Backend
	cfg      *config.Config
	logger   *logging.Logger
	now      func() time.Time

	phase Phase
}

// New creates an Initializer.
func New(provider state.Provider, b backend.Backend, cfg *config.Config, logger *logging.Logger) *Initializer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Initializer{
		provider: provider,
		backend:  b,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Phase returns the phase the last run reached.
func (in *Initializer) Phase() Phase {
	return in.phase
}

func (in *Initializer) enter(p Phase) {
	in.phase = p
	in.logger.Debug("initializer phase", "phase", p)
}

// Run executes Idle → ReadSpec → Analyze → CreateTasks → WriteMarker → Done.
// Nothing is written before extraction succeeds.
func (in *Initializer) Run(ctx context.Context, opts Options) (*Result, error) {
	in.enter(PhaseIdle)
	if state.MarkerExists(opts.BasePath) {
		if !opts.Force {
			return nil, ErrAlreadyInitialized
		}
		in.logger.Warn("re-running init over an existing marker", "marker", state.MarkerPath(opts.BasePath))
	}

	in.enter(PhaseReadSpec)
	data, err := os.ReadFile(opts.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec: %w", err)
	}
	spec := strings.TrimSpace(string(data))
	if spec == "" {
		return nil, fmt.Errorf("spec file %s is empty", opts.SpecPath)
	}

	projectName := opts.ProjectName
	if projectName == "" {
		projectName = in.cfg.ProjectName
	}

	in.enter(PhaseAnalyze)
	resp, err := in.backend.Complete(ctx, backend.Request{
		System:    AnalysisSystemPrompt,
		Prompt:    AnalysisPrompt(projectName, spec),
		Model:     in.cfg.Model,
		MaxTokens: in.cfg.MaxTokens,
		WorkDir:   opts.BasePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze spec: %w", err)
	}
	tasks, strategy, err := Extract(resp.Text)
	if err != nil {
		in.logger.Error("task breakdown extraction failed", "error", err, "reply_bytes", len(resp.Text))
		return nil, err
	}
	Normalize(tasks)
	in.logger.Info("extracted task breakdown", "tasks", len(tasks), "strategy", strategy, "cost_usd", resp.CostUSD)

	in.enter(PhaseCreateTasks)
	result := &Result{Strategy: strategy, Provider: in.provider.Name()}

	metaID, err := in.provider.CreateTask(ctx, state.NewTask{
		Title:       "[META] " + projectName,
		Description: fmt.Sprintf("Project marker for %s. Spec: %s", projectName, opts.SpecPath),
		Meta:        true,
	})
	if err != nil {
		return nil, &PartialCreateError{Created: 0, Expected: len(tasks), Err: err}
	}
	result.MetaID = metaID

	var createErr error
	for _, t := range tasks {
		id, err := in.provider.CreateTask(ctx, t)
		if err != nil {
			createErr = &PartialCreateError{Created: len(result.TaskIDs), Expected: len(tasks), Err: err}
			in.logger.Error("task creation stopped", "created", len(result.TaskIDs), "expected", len(tasks), "error", err)
			break
		}
		result.TaskIDs = append(result.TaskIDs, id)
	}

	// The marker records whatever was created so a retry needs --force
	// instead of silently duplicating tasks.
	in.enter(PhaseWriteMarker)
	now := in.now()
	_, err = in.provider.UpdateMeta(ctx, state.MetaPatch{
		ProjectName: &projectName,
		CreatedAt:   &now,
		TaskCount:   state.Ptr(len(result.TaskIDs)),
		Provider:    state.Ptr(in.provider.Name()),
		AddCost:     resp.CostUSD,
	})
	if err != nil && createErr == nil {
		return result, fmt.Errorf("failed to update meta record: %w", err)
	}

	result.Marker = &state.Marker{
		InitializedAt: now,
		TaskCount:     len(result.TaskIDs),
		Provider:      in.provider.Name(),
		ProjectName:   projectName,
		SpecPath:      opts.SpecPath,
	}
	if err := state.WriteMarker(opts.BasePath, result.Marker); err != nil && createErr == nil {
		return result, fmt.Errorf("failed to write marker: %w", err)
	}
	if createErr != nil {
		return result, createErr
	}

	in.enter(PhaseDone)
	return result, nil
}

// Normalize fills in priorities the model left out, keeping the breakdown
// order, and drops blank acceptance criteria.
func Normalize(tasks []state.NewTask) {
	for i := range tasks {
		t := &tasks[i]
		if t.Priority <= 0 {
			t.Priority = i + 1
		}
		t.Origin = state.OriginBreakdown
		criteria := t.AcceptanceCriteria[:0]
		for _, c := range t.AcceptanceCriteria {
			if c = strings.TrimSpace(c); c != "" {
				criteria = append(criteria, c)
			}
		}
		t.AcceptanceCriteria = criteria
	}
}

var nonAlpha = regexp.MustCompile(`[^A-Za-z]`)

// TitlePrefix derives the "[PREFIX-P.S]" tag prefix from a project name.
func TitlePrefix(projectName string) string {
	letters := strings.ToUpper(nonAlpha.ReplaceAllString(projectName, ""))
	if letters == "" {
		return "TASK"
	}
	if len(letters) > 4 {
		letters = letters[:4]
	}
	return letters
}
