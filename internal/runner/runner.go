package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/thruflo/autocoder/internal/approval"
	"github.com/thruflo/autocoder/internal/backend"
	"github.com/thruflo/autocoder/internal/checkpoint"
	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/logging"
	"github.com/thruflo/autocoder/internal/progress"
	"github.com/thruflo/autocoder/internal/queue"
	"github.com/thruflo/autocoder/internal/ratelimit"
	"github.com/thruflo/autocoder/internal/security"
	"github.com/thruflo/autocoder/internal/state"
)

// MaxConsecutiveFailures ends the session with ExitProviderFailure once the
// backend or the state provider fails this many times in a row.
const MaxConsecutiveFailures = 3

const invokeKey = "invoke"

// Options holds the dependencies of a Runner. Config, Provider and Backend
// are required; the rest default from Config.
type Options struct {
	BasePath  string
	Config    *config.Config
	Provider  state.Provider
	Backend   backend.Backend
	Validator *security.Validator
	Approval  *approval.Handler
	Executor  CommandExecutor
	Tracker   *progress.Tracker
	Metrics   *progress.Metrics
	Notifier  *progress.Notifier
	Limiter   *ratelimit.Limiter
	Audit     *state.AuditLog
	Logger    *logging.Logger

	// Resume adopts stale in_progress tasks from earlier sessions before
	// any todo task. Tasks owned by a session that has not ended are left
	// alone unless TakeOver is set.
	Resume bool
	// TakeOver treats sessions that never ended as gone, for recovering
	// from a crashed process.
	TakeOver bool
}

// Runner runs one session.
type Runner struct {
	basePath  string
	workDir   string
	cfg       *config.Config
	provider  state.Provider
	backend   backend.Backend
	validator *security.Validator
	approval  *approval.Handler
	executor  CommandExecutor
	tracker   *progress.Tracker
	metrics   *progress.Metrics
	limiter   *ratelimit.Limiter
	audit     *state.AuditLog
	log       *logging.Logger
	resume    bool
	takeOver  bool

	policy  checkpoint.Policy
	turns   *checkpoint.TurnCounter
	exclude map[string]bool

	backendFailures  int
	providerFailures int
	err              error
}

// New creates a Runner, filling unset dependencies from opts.Config.
func New(opts Options) (*Runner, error) {
	if opts.Config == nil || opts.Provider == nil || opts.Backend == nil {
		return nil, errors.New("runner requires config, provider and backend")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = "."
	}
	if !filepath.IsAbs(workDir) {
		workDir = filepath.Join(opts.BasePath, workDir)
	}

	r := &Runner{
		basePath:  opts.BasePath,
		workDir:   workDir,
		cfg:       cfg,
		provider:  opts.Provider,
		backend:   opts.Backend,
		validator: opts.Validator,
		approval:  opts.Approval,
		executor:  opts.Executor,
		tracker:   opts.Tracker,
		metrics:   opts.Metrics,
		limiter:   opts.Limiter,
		audit:     opts.Audit,
		log:       logger,
		resume:    opts.Resume,
		takeOver:  opts.TakeOver,
		policy:    checkpoint.FromConfig(cfg),
		exclude:   make(map[string]bool),
	}

	if r.validator == nil {
		v, err := security.New(cfg.Security, workDir)
		if err != nil {
			return nil, fmt.Errorf("failed to build security validator: %w", err)
		}
		r.validator = v
	}
	if r.approval == nil {
		action, err := approval.ParseAction(cfg.Approval.DefaultAction)
		if err != nil {
			return nil, err
		}
		timeout := time.Duration(cfg.Approval.TimeoutMinutes * float64(time.Minute))
		r.approval = approval.NewHandler(timeout, action, logger)
	}
	if r.executor == nil {
		r.executor = NewShellExecutor(workDir)
	}
	if r.tracker == nil {
		r.tracker = progress.NewTracker()
	}
	if r.limiter == nil && cfg.RateLimitRPM > 0 {
		r.limiter = ratelimit.New(ratelimit.PerMinute(cfg.RateLimitRPM))
	}
	if r.audit == nil {
		r.audit = state.NewAuditLog(state.AuditPath(opts.BasePath))
	}
	if r.metrics != nil {
		r.tracker.Subscribe(r.metrics.Observer())
	}
	if opts.Notifier != nil {
		r.tracker.Subscribe(opts.Notifier.Observer(context.Background()))
	}
	return r, nil
}

// Tracker returns the progress tracker fed by the session.
func (r *Runner) Tracker() *progress.Tracker {
	return r.tracker
}

// Run executes one session: Idle → FetchTask → Invoke → ParseResult →
// UpdateStatus → CheckLimits, until a stop condition. The session record is
// always closed, including after cancellation.
func (r *Runner) Run(ctx context.Context) Result {
	if err := ClearStop(r.basePath); err != nil {
		r.log.Warn("could not clear stop file", "error", err)
	}

	persisted := 0
	meta, err := r.provider.GetMeta(ctx)
	switch {
	case err == nil:
		persisted = meta.TotalTurns
	case errors.Is(err, state.ErrNotFound):
	default:
		return Result{Reason: ExitProviderFailure, Error: fmt.Errorf("failed to read meta record: %w", err)}
	}
	r.turns = checkpoint.NewTurnCounter(persisted)

	sess, err := r.provider.StartSession(ctx)
	if err != nil {
		return Result{Reason: ExitProviderFailure, Error: fmt.Errorf("failed to start session: %w", err)}
	}
	sc := &SessionContext{SessionID: sess.ID, StartedAt: sess.StartedAt}
	log := r.log.With("session", sess.ID)

	if counts, err := r.provider.ProgressSummary(ctx); err == nil {
		r.tracker.Seed(counts)
		if r.metrics != nil {
			r.metrics.SetCounters(progress.FromCounts(counts))
		}
	}
	log.Info("session started",
		"provider", r.provider.Name(),
		"backend", r.backend.Name(),
		"mode", r.cfg.Mode,
		"turn_total", persisted,
		"resume", r.resume)

	reason, blockers := r.loop(ctx, sc, log)
	return r.finish(ctx, sc, reason, blockers, log)
}

func (r *Runner) loop(ctx context.Context, sc *SessionContext, log *logging.Logger) (ExitReason, []string) {
	for {
		if ctx.Err() != nil {
			log.Info("stop requested", "source", "signal")
			return ExitStopped, nil
		}
		if StopRequested(r.basePath) {
			log.Info("stop requested", "source", "stop file")
			return ExitStopped, nil
		}
		if reason, ok := r.checkLimits(sc); ok {
			log.Warn("session limit reached", "limit", reason, "cost_usd", sc.CostUSD, "tasks", sc.TasksAttempted)
			return reason, nil
		}

		tasks, err := r.provider.ListTasks(ctx, state.TaskFilter{})
		if err != nil {
			if ctx.Err() != nil {
				return ExitStopped, nil
			}
			r.err = fmt.Errorf("failed to list tasks: %w", err)
			log.Error("state provider failed", "error", err)
			return ExitProviderFailure, nil
		}

		var live map[int]bool
		if r.resume {
			if live, err = r.liveSessions(ctx, sc); err != nil {
				if ctx.Err() != nil {
					return ExitStopped, nil
				}
				r.err = fmt.Errorf("failed to list sessions: %w", err)
				log.Error("state provider failed", "error", err)
				return ExitProviderFailure, nil
			}
		}

		sel := queue.Select(tasks, queue.Options{Exclude: r.exclude, AdoptInProgress: r.resume, Live: live})
		if sel.AllDone {
			log.Info("all tasks done")
			return ExitDone, nil
		}
		if sel.Next == nil {
			log.Info("nothing runnable", "blockers", strings.Join(sel.Blockers, ","))
			return ExitNothingRunnable, sel.Blockers
		}

		from := sel.Next.Status
		task, err := r.claim(ctx, sc, sel.Next)
		if err != nil {
			r.exclude[sel.Next.ID] = true
			if state.IsConflict(err) {
				log.Warn("lost claim on task, skipping", "task", sel.Next.ID, "error", err)
				continue
			}
			if ctx.Err() != nil {
				return ExitStopped, nil
			}
			log.Error("failed to claim task", "task", sel.Next.ID, "error", err)
			if r.providerFailed(err) {
				return ExitProviderFailure, nil
			}
			continue
		}
		r.providerFailures = 0

		if reason, stop := r.runTask(ctx, sc, task, from, log.With("task", task.ID)); stop {
			return reason, nil
		}
	}
}

// liveSessions returns the sessions whose in_progress tasks must not be
// adopted: this one, and every other session that has not ended unless
// taking over.
func (r *Runner) liveSessions(ctx context.Context, sc *SessionContext) (map[int]bool, error) {
	live := map[int]bool{sc.SessionID: true}
	if r.takeOver {
		return live, nil
	}
	sessions, err := r.provider.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if !s.Ended() {
			live[s.ID] = true
		}
	}
	return live, nil
}

// claim moves t to in_progress under an expected-status guard. Adopting an
// in_progress task also expects its current owner, so only one session can
// take it over. A conflict is retried once against a fresh read if the task
// is still todo.
func (r *Runner) claim(ctx context.Context, sc *SessionContext, t *state.Task) (*state.Task, error) {
	for attempt := 0; ; attempt++ {
		expected := t.Status
		patch := state.TaskPatch{
			Status:         state.Ptr(state.StatusInProgress),
			SessionID:      state.Ptr(sc.SessionID),
			ExpectedStatus: &expected,
		}
		if expected == state.StatusInProgress {
			patch.ExpectedSessionID = state.Ptr(t.SessionID)
		}
		claimed, err := r.provider.UpdateTask(ctx, t.ID, patch)
		if err == nil {
			return claimed, nil
		}
		if !state.IsConflict(err) || attempt > 0 {
			return nil, err
		}
		fresh, gerr := r.provider.GetTask(ctx, t.ID)
		if gerr != nil {
			return nil, gerr
		}
		if fresh.Status != state.StatusTodo {
			return nil, err
		}
		t = fresh
	}
}

func (r *Runner) providerFailed(err error) bool {
	r.providerFailures++
	r.err = err
	return r.providerFailures >= MaxConsecutiveFailures
}

// taskResult is what one task's turns produced.
type taskResult struct {
	outcome   Outcome
	summary   string
	reason    string
	newTasks  []state.NewTask
	uncertain bool
	regressed bool
	turns     int
	cost      float64

	// pending are checkpoints that fired on the final turn; they are
	// resolved after the outcome is written.
	pending []checkpoint.Event

	// interrupted leaves the task in_progress and ends the session with
	// halt.
	interrupted bool
	halt        ExitReason
}

func (r *Runner) runTask(ctx context.Context, sc *SessionContext, task *state.Task, from state.Status, log *logging.Logger) (ExitReason, bool) {
	r.exclude[task.ID] = true
	sc.TasksAttempted++
	r.tracker.Observe(progress.Event{Kind: progress.TaskStarted, TaskID: task.ID, Title: task.Title, From: from})
	log.Info("task started", "title", task.Title, "key", queue.ParseKey(task), "adopted", from == state.StatusInProgress)

	res := r.work(ctx, sc, task, log)

	// Writes below must land even if a stop signal arrived mid-task.
	wctx := context.WithoutCancel(ctx)
	if res.turns > 0 {
		if _, err := r.provider.UpdateMeta(wctx, state.MetaPatch{AddTurns: res.turns, AddCost: res.cost}); err != nil {
			log.Warn("failed to persist turn total", "error", err)
		}
	}
	if res.interrupted {
		log.Info("task interrupted", "halt", res.halt, "turns", res.turns)
		return res.halt, true
	}

	status := state.StatusDone
	reason := ""
	if res.outcome == OutcomeBlocked {
		status = state.StatusBlocked
		reason = res.reason
	}
	_, err := r.provider.UpdateTask(wctx, task.ID, state.TaskPatch{
		Status:         &status,
		BlockedReason:  &reason,
		ExpectedStatus: state.Ptr(state.StatusInProgress),
	})
	switch {
	case err == nil:
		r.providerFailures = 0
		if status == state.StatusDone {
			sc.TasksCompleted++
			r.tracker.Observe(progress.Event{Kind: progress.TaskCompleted, TaskID: task.ID, Title: task.Title, Detail: res.summary})
			log.Info("task completed", "turns", res.turns, "cost_usd", res.cost, "summary", res.summary)
		} else {
			sc.TasksBlocked++
			r.tracker.Observe(progress.Event{Kind: progress.BlockerDetected, TaskID: task.ID, Title: task.Title, Detail: reason})
			log.Warn("task blocked", "reason", reason, "turns", res.turns)
		}
	case state.IsConflict(err):
		log.Warn("task changed while running, outcome not recorded", "outcome", res.outcome, "error", err)
	default:
		log.Error("failed to record task outcome", "outcome", res.outcome, "error", err)
		if r.providerFailed(err) {
			return ExitProviderFailure, true
		}
	}

	if r.backendFailures >= MaxConsecutiveFailures {
		log.Error("backend kept failing", "failures", r.backendFailures)
		return ExitProviderFailure, true
	}

	var events []checkpoint.Event
	fire := func(t checkpoint.Trigger, detail string) {
		if ev, ok := r.policy.Fire(t, task.ID, detail); ok {
			events = append(events, ev)
		}
	}
	if res.regressed {
		fire(checkpoint.TriggerRegression, "regression tests failed during "+task.Title)
	}
	if status == state.StatusBlocked {
		fire(checkpoint.TriggerBlocker, fmt.Sprintf("%s blocked: %s", task.Title, reason))
	}
	if res.uncertain {
		fire(checkpoint.TriggerUncertainty, "model is uncertain about "+task.Title)
	}
	events = append(events, res.pending...)
	for _, ev := range events {
		if action := r.checkpoint(ctx, sc, ev, log); action != approval.Continue {
			return haltReason(ctx, action), true
		}
	}

	if reason, stop := r.createFollowups(ctx, sc, task, res.newTasks, log); stop {
		return reason, true
	}

	if status == state.StatusDone && r.policy.IsArmed(checkpoint.TriggerPhaseComplete) {
		if phase, done := r.phaseComplete(wctx, task); done {
			ev, _ := r.policy.Fire(checkpoint.TriggerPhaseComplete, task.ID, fmt.Sprintf("phase %d complete", phase))
			if action := r.checkpoint(ctx, sc, ev, log); action != approval.Continue {
				return haltReason(ctx, action), true
			}
		}
	}
	return 0, false
}

// work drives the backend until the task completes, blocks, or runs out of
// turns.
func (r *Runner) work(ctx context.Context, sc *SessionContext, task *state.Task, log *logging.Logger) taskResult {
	maxTurns := r.cfg.MaxTurnsPerTask
	if maxTurns <= 0 {
		maxTurns = config.DefaultMaxTurnsPerTask
	}

	var res taskResult
	var transcript []Exchange
	for turn := 1; turn <= maxTurns; turn++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, invokeKey); err != nil {
				if ctx.Err() != nil {
					return interrupted(res, ExitStopped)
				}
				log.Warn("rate limiter refused invocation", "error", err)
			}
		}

		resp, err := r.backend.Complete(ctx, backend.Request{
			System:    StandingInstructions,
			Prompt:    BuildPrompt(task, transcript, turn, maxTurns),
			Model:     r.cfg.Model,
			MaxTokens: r.cfg.MaxTokens,
			WorkDir:   r.workDir,
		})
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(res, ExitStopped)
			}
			r.backendFailures++
			r.err = err
			if r.limiter != nil {
				r.limiter.RecordFailure(invokeKey)
			}
			log.Error("backend call failed", "turn", turn, "error", err)
			res.outcome = OutcomeBlocked
			res.reason = fmt.Sprintf("backend error: %v", err)
			return res
		}
		r.backendFailures = 0
		if r.limiter != nil {
			r.limiter.RecordSuccess(invokeKey)
		}

		total := r.turns.Increment()
		sc.Turns++
		sc.CostUSD += resp.CostUSD
		res.turns++
		res.cost += resp.CostUSD
		if r.metrics != nil {
			r.metrics.AddTurns(1)
			r.metrics.SetSessionCost(sc.CostUSD)
		}

		reply := ParseReply(resp.Text)
		log.Debug("turn finished",
			"turn", turn,
			"turn_total", total,
			"outcome", reply.Outcome,
			"structured", reply.Structured,
			"commands", len(reply.Commands),
			"cost_usd", resp.CostUSD,
			"estimated", resp.Estimated)

		if reply.Summary != "" {
			res.summary = reply.Summary
		}
		res.uncertain = res.uncertain || reply.Uncertain
		res.regressed = res.regressed || reply.RegressionFailed
		res.newTasks = append(res.newTasks, reply.NewTasks...)

		ex := Exchange{Reply: resp.Text}
		denial := r.runCommands(ctx, sc, task, reply.Commands, &ex, log)
		transcript = append(transcript, ex)
		if ctx.Err() != nil {
			return interrupted(res, ExitStopped)
		}

		final := true
		switch {
		case denial != nil:
			res.outcome = OutcomeBlocked
			res.reason = denial.Error()
		case reply.Outcome == OutcomeComplete:
			res.outcome = OutcomeComplete
		case reply.Outcome == OutcomeBlocked:
			res.outcome = OutcomeBlocked
			res.reason = reply.Reason
		default:
			final = false
		}

		if r.policy.TurnCheckpoint(total) {
			ev, _ := r.policy.Fire(checkpoint.TriggerTurnInterval, task.ID, fmt.Sprintf("turn %d reached during %s", total, task.Title))
			if final {
				res.pending = append(res.pending, ev)
			} else if action := r.checkpoint(ctx, sc, ev, log); action != approval.Continue {
				return interrupted(res, haltReason(ctx, action))
			}
		}
		if final {
			return res
		}
	}

	res.outcome = OutcomeBlocked
	res.reason = "turn limit exceeded"
	return res
}

func interrupted(res taskResult, halt ExitReason) taskResult {
	res.interrupted = true
	res.halt = halt
	return res
}

// runCommands validates and runs proposed commands in order. The first
// denial stops the batch and is returned.
func (r *Runner) runCommands(ctx context.Context, sc *SessionContext, task *state.Task, commands []string, ex *Exchange, log *logging.Logger) *security.Violation {
	for _, command := range commands {
		if err := r.validator.Validate(command); err != nil {
			var v *security.Violation
			if !errors.As(err, &v) {
				v = &security.Violation{Command: command, Reason: security.ReasonNotAllowlisted, Rule: err.Error()}
			}
			log.Warn("command denied", "command", command, "reason", v.Reason, "rule", v.Rule)
			if r.metrics != nil {
				r.metrics.ObserveDenial(string(v.Reason))
			}
			r.record(state.AuditEntry{
				SessionID: sc.SessionID,
				Kind:      state.AuditSecurityDenial,
				TaskID:    task.ID,
				Command:   command,
				Reason:    string(v.Reason),
				Rule:      v.Rule,
			}, log)
			ex.Output = append(ex.Output, CommandResult{Command: command, Denied: string(v.Reason)})
			return v
		}

		out, err := r.executor.Run(ctx, command)
		if err != nil {
			log.Warn("command failed to run", "command", command, "error", err)
			out = CommandResult{Command: command, Output: err.Error(), ExitCode: -1}
		} else {
			log.Debug("command ran", "command", command, "exit_code", out.ExitCode)
		}
		ex.Output = append(ex.Output, out)
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// checkpoint resolves ev through the approval handler and audits the
// resolution.
func (r *Runner) checkpoint(ctx context.Context, sc *SessionContext, ev checkpoint.Event, log *logging.Logger) approval.Action {
	log.Info("checkpoint fired", "trigger", ev.Trigger, "detail", ev.Detail)
	res := r.approval.Resolve(ctx, approval.NewRequest(ev))
	r.record(state.AuditEntry{
		SessionID:  sc.SessionID,
		Kind:       state.AuditCheckpoint,
		TaskID:     ev.TaskID,
		Trigger:    ev.Trigger.String(),
		Resolution: res.String(),
		ByTimeout:  res.ByTimeout,
		Channel:    res.Channel,
		Detail:     ev.Detail,
	}, log)
	if r.metrics != nil {
		r.metrics.ObserveCheckpoint(ev.Trigger.String(), res.Action.String())
	}
	return res.Action
}

func haltReason(ctx context.Context, a approval.Action) ExitReason {
	if ctx.Err() != nil {
		return ExitStopped
	}
	if a == approval.Abort {
		return ExitAborted
	}
	return ExitPaused
}

func (r *Runner) record(e state.AuditEntry, log *logging.Logger) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if err := r.audit.Record(e); err != nil {
		log.Warn("failed to write audit entry", "kind", e.Kind, "error", err)
	}
}

// createFollowups creates tasks the model proposed, each gated by the
// new-task checkpoint when it is armed.
func (r *Runner) createFollowups(ctx context.Context, sc *SessionContext, parent *state.Task, proposed []state.NewTask, log *logging.Logger) (ExitReason, bool) {
	for _, nt := range proposed {
		nt.Title = strings.TrimSpace(nt.Title)
		if nt.Title == "" {
			continue
		}
		if ev, ok := r.policy.Fire(checkpoint.TriggerNewTask, parent.ID, "create follow-up task: "+nt.Title); ok {
			if action := r.checkpoint(ctx, sc, ev, log); action != approval.Continue {
				log.Warn("follow-up task not created", "title", nt.Title, "action", action)
				return haltReason(ctx, action), true
			}
		}

		nt.Meta = false
		nt.Origin = state.OriginFollowup
		id, err := r.provider.CreateTask(context.WithoutCancel(ctx), nt)
		if err != nil {
			log.Error("failed to create follow-up task", "title", nt.Title, "error", err)
			if r.providerFailed(err) {
				return ExitProviderFailure, true
			}
			continue
		}
		sc.TasksCreated++
		r.tracker.Observe(progress.Event{Kind: progress.TaskCreated, TaskID: id, Title: nt.Title})
		log.Info("follow-up task created", "id", id, "title", nt.Title)
	}
	return 0, false
}

// phaseComplete reports whether every task sharing task's numeric phase is
// done.
func (r *Runner) phaseComplete(ctx context.Context, task *state.Task) (int, bool) {
	key := queue.ParseKey(task)
	if key.Kind != queue.KindNumeric {
		return 0, false
	}
	tasks, err := r.provider.ListTasks(ctx, state.TaskFilter{})
	if err != nil {
		return 0, false
	}
	for i := range tasks {
		t := &tasks[i]
		if queue.SamePhase(queue.ParseKey(t), key) && t.Status != state.StatusDone {
			return 0, false
		}
	}
	return key.Phase, true
}

func (r *Runner) checkLimits(sc *SessionContext) (ExitReason, bool) {
	if limit := r.cfg.CostLimitPerSession; limit > 0 && sc.CostUSD >= limit {
		return ExitLimitCost, true
	}
	if limit := r.cfg.MaxTasksPerSession; limit > 0 && sc.TasksAttempted >= limit {
		return ExitLimitTasks, true
	}
	return 0, false
}

// finish closes the session record. It runs detached from ctx so a stop
// signal still produces a closed session.
func (r *Runner) finish(ctx context.Context, sc *SessionContext, reason ExitReason, blockers []string, log *logging.Logger) Result {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	summary := sc.Summary(reason)
	res := Result{Reason: reason, Session: *sc, Summary: summary, Blockers: blockers}
	if reason == ExitProviderFailure {
		res.Error = r.err
	}

	err := r.provider.EndSession(wctx, sc.SessionID, state.SessionEnd{
		Summary:    summary,
		CostUSD:    sc.CostUSD,
		Turns:      sc.Turns,
		ExitReason: reason.String(),
	})
	if err != nil {
		log.Error("failed to close session", "error", err)
		if res.Error == nil {
			res.Error = fmt.Errorf("failed to close session: %w", err)
		}
	}

	r.tracker.Observe(progress.Event{Kind: progress.SessionEnded, Detail: summary})
	if r.metrics != nil {
		r.metrics.SetSessionCost(sc.CostUSD)
	}
	log.Info("session ended", "reason", reason, "summary", summary, "turn_total", r.turns.Total())
	return res
}
