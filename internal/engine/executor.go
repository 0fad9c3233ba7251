package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/convoyci/convoy/internal/actions"
	"github.com/convoyci/convoy/internal/definition"
	"github.com/convoyci/convoy/internal/expressions"
	"github.com/convoyci/convoy/internal/logging"
	"github.com/convoyci/convoy/internal/secrets"
	"github.com/convoyci/convoy/internal/store"
	"github.com/convoyci/convoy/pkg/schema"
)

// Executor drives pipeline runs: stages strictly in order, one credential
// scope per stage, fail-fast, exactly one terminal hook per run.
type Executor interface {
	// Run validates the definition, persists a new run, and executes it to a
	// terminal state. The returned RunResult is non-nil whenever a run record
	// was created, including failed and cancelled runs.
	Run(ctx context.Context, def *schema.PipelineDefinition, inputs map[string]any) (*RunResult, error)

	// Status returns the current persisted state of a run.
	Status(ctx context.Context, runID string) (*RunStatusReport, error)
}

// RunResult is the outcome of a single pipeline run.
type RunResult struct {
	RunID     string           `json:"run_id"`
	Pipeline  string           `json:"pipeline"`
	Status    schema.RunStatus `json:"status"`
	Cancelled bool             `json:"cancelled,omitempty"`

	// FailedStage names the failing stage; FailedStageIndex is its zero-based
	// position in the definition, -1 when no stage failed.
	FailedStage      string `json:"failed_stage,omitempty"`
	FailedStageIndex int    `json:"failed_stage_index"`

	Stages      []*StageResult        `json:"stages,omitempty"`
	Error       *schema.PipelineError `json:"error,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// StageResult summarizes the outcome of a single stage. All captured output
// has already passed through the stage scope's redactor.
type StageResult struct {
	Name       string                `json:"name"`
	Status     schema.StageStatus    `json:"status"`
	Outputs    map[string]any        `json:"outputs,omitempty"`
	Steps      []*StepSummary        `json:"steps,omitempty"`
	Error      *schema.PipelineError `json:"error,omitempty"`
	DurationMs int64                 `json:"duration_ms,omitempty"`
}

// StepSummary is the redacted record of one step invocation within a stage.
type StepSummary struct {
	Action     string `json:"action"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// RunStatusReport is a snapshot of a run's persisted state for querying.
type RunStatusReport struct {
	Run    *store.Run          `json:"run"`
	Stages []*store.StageState `json:"stages,omitempty"`
	Events []*store.Event      `json:"events,omitempty"`
}

// EventLogger abstracts the event log operations needed by the executor.
// Satisfied by *store.EventLog and test mocks.
type EventLogger interface {
	EventAppender
	GetEvents(ctx context.Context, runID string, since int64) ([]*store.Event, error)
	Replay(ctx context.Context, runID string) (map[string]*store.StageState, error)
}

// ExecutorConfig holds configuration for the executor.
type ExecutorConfig struct {
	// WorkdirRoot is where per-run working directories are created.
	// Empty means the system temp directory.
	WorkdirRoot string

	// KeepWorkdir preserves run working directories after completion.
	KeepWorkdir bool
}

// executorImpl is the concrete Executor implementation.
type executorImpl struct {
	store     store.Store
	eventLog  EventLogger
	runFSM    *RunFSM
	stageFSM  *StageFSM
	actions   actions.ActionRegistry
	vault     secrets.Vault
	validator *definition.Validator
	cel       *expressions.CELEngine
	jq        *expressions.GoJQEngine
	interp    *expressions.Interpolator
	logger    *slog.Logger
	config    ExecutorConfig
}

// NewExecutor creates a new Executor with the given dependencies.
func NewExecutor(s store.Store, el EventLogger, registry actions.ActionRegistry, vault secrets.Vault, validator *definition.Validator, cel *expressions.CELEngine, logger *slog.Logger, cfg ExecutorConfig) Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &executorImpl{
		store:     s,
		eventLog:  el,
		runFSM:    NewRunFSM(el),
		stageFSM:  NewStageFSM(el),
		actions:   registry,
		vault:     vault,
		validator: validator,
		cel:       cel,
		jq:        expressions.NewGoJQEngine(),
		interp:    expressions.NewInterpolator(),
		logger:    logger,
		config:    cfg,
	}
}

// Run executes a pipeline definition to a terminal state.
func (e *executorImpl) Run(ctx context.Context, def *schema.PipelineDefinition, inputs map[string]any) (*RunResult, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeDefinition, "pipeline definition is nil")
	}
	if e.validator != nil {
		if err := e.validator.ValidateToError(def); err != nil {
			return nil, err
		}
	}

	run := &store.Run{
		ID:         uuid.NewString(),
		Pipeline:   def.Name,
		Definition: *def,
		Status:     schema.RunStatusPending,
		Inputs:     inputs,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
	}

	ctx = logging.WithRunID(ctx, run.ID)
	log := e.logger.With("run_id", run.ID, "pipeline", def.Name)
	log.Info("run created", "stages", len(def.Stages))

	if err := e.runFSM.Transition(ctx, run.ID, schema.RunStatusPending, schema.RunStatusRunning); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	running := schema.RunStatusRunning
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &running, StartedAt: &now}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
	}

	for i := range def.Stages {
		state := &store.StageState{
			RunID:  run.ID,
			Stage:  def.Stages[i].Name,
			Index:  i,
			Status: schema.StageStatusPending,
		}
		if err := e.store.UpsertStageState(ctx, state); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "init stage state %s: %s", state.Stage, err.Error()).WithCause(err)
		}
	}

	result := &RunResult{
		RunID:            run.ID,
		Pipeline:         def.Name,
		FailedStageIndex: -1,
		StartedAt:        now,
	}

	workdir, cleanup, err := e.makeWorkdir(run.ID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	e.executeStages(ctx, def, run.ID, inputs, workdir, result, log)

	completed := time.Now().UTC()
	result.CompletedAt = &completed
	e.finishRun(ctx, def, run.ID, result, log)

	return result, nil
}

// executeStages runs the stage loop and fills in result's status, stages, and
// error. It never returns an error: every failure mode is folded into the
// result so the caller performs exactly one terminal transition.
func (e *executorImpl) executeStages(ctx context.Context, def *schema.PipelineDefinition, runID string, inputs map[string]any, workdir string, result *RunResult, log *slog.Logger) {
	stageOutputs := make(map[string]any)
	pipelineMeta := map[string]any{"run_id": runID, "name": def.Name}

	for i := range def.Stages {
		stage := &def.Stages[i]

		// Cancellation is observed at stage boundaries only; a signal during a
		// stage takes effect once the current stage's scope has closed.
		if ctx.Err() != nil {
			e.cancelRun(ctx, def, runID, i, result, log)
			return
		}

		if stage.When != "" {
			proceed, err := e.cel.EvaluateBool(ctx, stage.When, map[string]any{
				"stages":   stageOutputs,
				"inputs":   inputs,
				"pipeline": pipelineMeta,
			})
			if err != nil {
				e.failStage(ctx, runID, stage.Name, i, schema.StageStatusPending, asPipelineError(err).WithStage(stage.Name), nil, result)
				return
			}
			if !proceed {
				log.Info("stage skipped", "stage", stage.Name, "when", stage.When)
				e.skipStage(ctx, runID, stage.Name, result)
				continue
			}
		}

		stageResult, err := e.executeStage(ctx, def, runID, stage, inputs, stageOutputs, pipelineMeta, workdir, log)
		if err != nil {
			// A cancellation signal during the stage kills the running step;
			// the resulting failure is the signal's doing, so the run reports
			// cancelled rather than failed on its own merits.
			if ctx.Err() != nil {
				e.cancelDuringStage(ctx, def, runID, i, asPipelineError(err).WithStage(stage.Name), stageResult, result, log)
				return
			}
			e.failStage(ctx, runID, stage.Name, i, schema.StageStatusRunning, asPipelineError(err).WithStage(stage.Name), stageResult, result)
			return
		}

		result.Stages = append(result.Stages, stageResult)
		stageOutputs[stage.Name] = anyMap(stageResult.Outputs)
	}

	result.Status = schema.RunStatusSucceeded
}

// executeStage runs one stage inside its own credential scope. The scope is
// closed before this function returns, on every path. The returned
// StageResult carries redacted output even when err is non-nil.
func (e *executorImpl) executeStage(ctx context.Context, def *schema.PipelineDefinition, runID string, stage *schema.StageDefinition, inputs, stageOutputs map[string]any, pipelineMeta map[string]any, workdir string, log *slog.Logger) (*StageResult, error) {
	ctx = logging.WithStage(ctx, stage.Name)
	stageLog := log.With("stage", stage.Name)
	stageLog.Info("stage started", "steps", len(stage.Steps))

	if err := e.stageFSM.Transition(ctx, runID, stage.Name, schema.StageStatusPending, schema.StageStatusRunning); err != nil {
		return nil, err
	}
	startedAt := time.Now().UTC()
	e.upsertStage(ctx, runID, stage.Name, &store.StageState{
		RunID:     runID,
		Stage:     stage.Name,
		Status:    schema.StageStatusRunning,
		StartedAt: &startedAt,
	})

	stageResult := &StageResult{
		Name:    stage.Name,
		Outputs: make(map[string]any),
	}

	bindings := make([]secrets.Binding, 0, len(stage.Credentials))
	for _, id := range stage.Credentials {
		bindings = append(bindings, secrets.Binding{ID: id, Kind: def.Credentials[id].Kind})
	}

	scope, err := secrets.OpenScope(ctx, e.vault, bindings)
	if err != nil {
		stageResult.Status = schema.StageStatusFailed
		return stageResult, err
	}
	e.appendStageEvent(ctx, runID, stage.Name, schema.EventScopeOpened, map[string]any{"credentials": stage.Credentials})

	defer func() {
		if cerr := scope.Close(); cerr != nil {
			stageLog.Warn("scope close reported error", "error", cerr)
		}
		e.appendStageEvent(ctx, runID, stage.Name, schema.EventScopeClosed, nil)
	}()

	redactor := scope.Redactor()
	interpScope := &expressions.InterpolationScope{
		Stages:   stageOutputs,
		Inputs:   inputs,
		Pipeline: pipelineMeta,
	}

	for j := range stage.Steps {
		step := &stage.Steps[j]
		summary, err := e.executeStep(ctx, runID, stage.Name, j, step, scope, redactor, interpScope, workdir, stageResult.Outputs, stageLog)
		if summary != nil {
			stageResult.Steps = append(stageResult.Steps, summary)
		}
		if err != nil {
			stageResult.Status = schema.StageStatusFailed
			return stageResult, err
		}
	}

	stageResult.Status = schema.StageStatusSucceeded
	stageResult.DurationMs = time.Since(startedAt).Milliseconds()

	if err := e.stageFSM.Transition(ctx, runID, stage.Name, schema.StageStatusRunning, schema.StageStatusSucceeded); err != nil {
		return stageResult, err
	}
	completedAt := time.Now().UTC()
	e.upsertStage(ctx, runID, stage.Name, &store.StageState{
		RunID:       runID,
		Stage:       stage.Name,
		Status:      schema.StageStatusSucceeded,
		Output:      marshalOrNil(stageResult),
		StartedAt:   &startedAt,
		CompletedAt: &completedAt,
		DurationMs:  stageResult.DurationMs,
	})

	stageLog.Info("stage succeeded", "duration_ms", stageResult.DurationMs)
	return stageResult, nil
}

// executeStep interpolates params, invokes the action, redacts its output,
// and extracts declared outputs into stageOuts.
func (e *executorImpl) executeStep(ctx context.Context, runID, stageName string, index int, step *schema.StepDefinition, scope *secrets.CredentialScope, redactor *secrets.Redactor, interpScope *expressions.InterpolationScope, workdir string, stageOuts map[string]any, stageLog *slog.Logger) (*StepSummary, error) {
	// Later steps in a stage can reference earlier steps' declared outputs.
	localScope := &expressions.InterpolationScope{
		Stages:   withLocalOutputs(interpScope.Stages, stageName, stageOuts),
		Inputs:   interpScope.Inputs,
		Pipeline: interpScope.Pipeline,
	}

	params, err := e.interp.Resolve(step.Params, localScope)
	if err != nil {
		return nil, err
	}

	action, err := e.actions.Get(step.Action)
	if err != nil {
		return nil, err
	}

	var timeout time.Duration
	if step.Timeout != "" {
		// Validation guarantees the format; a parse failure here means the
		// definition was mutated after validation.
		d, perr := time.ParseDuration(step.Timeout)
		if perr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeDefinition, "invalid step timeout %q", step.Timeout)
		}
		timeout = d
	}

	e.appendStageEvent(ctx, runID, stageName, schema.EventStepStarted, map[string]any{
		"action": step.Action,
		"index":  index,
	})
	stageLog.Info("step started", "action", step.Action, "index", index)

	res, err := action.Execute(ctx, actions.Invocation{
		Params:  params,
		Env:     scope.Env(),
		Workdir: workdir,
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	// Redact before anything is logged, stored, or evaluated.
	res.Stdout = redactor.Redact(res.Stdout)
	res.Stderr = redactor.Redact(res.Stderr)

	summary := &StepSummary{
		Action:     step.Action,
		ExitCode:   res.ExitCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		DurationMs: res.DurationMs,
		TimedOut:   res.TimedOut,
	}

	e.appendStageEvent(ctx, runID, stageName, schema.EventStepFinished, map[string]any{
		"action":      step.Action,
		"index":       index,
		"exit_code":   res.ExitCode,
		"duration_ms": res.DurationMs,
		"timed_out":   res.TimedOut,
	})

	if !res.Success() {
		msg := "step exited with status %d"
		if res.TimedOut {
			msg = "step timed out (exit status %d)"
		}
		return summary, schema.NewErrorf(schema.ErrCodeStepFailed, msg, res.ExitCode).
			WithDetails(map[string]any{
				"action":    step.Action,
				"index":     index,
				"exit_code": res.ExitCode,
				"timed_out": res.TimedOut,
				"stderr":    res.Stderr,
			})
	}

	doc := res.Document()
	for name, expr := range step.Outputs {
		val, err := e.jq.Evaluate(ctx, expr, doc)
		if err != nil {
			return summary, err
		}
		stageOuts[name] = val
	}

	stageLog.Info("step finished", "action", step.Action, "index", index, "exit_code", res.ExitCode, "duration_ms", res.DurationMs)
	return summary, nil
}

// --- Terminal handling ---

// failStage records a stage failure and folds it into the run result.
func (e *executorImpl) failStage(ctx context.Context, runID, stageName string, index int, from schema.StageStatus, perr *schema.PipelineError, stageResult *StageResult, result *RunResult) {
	if stageResult == nil {
		stageResult = &StageResult{Name: stageName}
	}
	stageResult.Status = schema.StageStatusFailed
	stageResult.Error = perr
	result.Stages = append(result.Stages, stageResult)

	if from == schema.StageStatusPending {
		// Condition evaluation failed before the stage started.
		if err := e.stageFSM.Transition(ctx, runID, stageName, schema.StageStatusPending, schema.StageStatusRunning); err != nil {
			e.logger.Warn("stage transition failed", "run_id", runID, "stage", stageName, "error", err)
		}
	}
	if err := e.stageFSM.Transition(ctx, runID, stageName, schema.StageStatusRunning, schema.StageStatusFailed); err != nil {
		e.logger.Warn("stage transition failed", "run_id", runID, "stage", stageName, "error", err)
	}

	completedAt := time.Now().UTC()
	e.upsertStage(ctx, runID, stageName, &store.StageState{
		RunID:       runID,
		Stage:       stageName,
		Index:       index,
		Status:      schema.StageStatusFailed,
		Output:      marshalOrNil(stageResult),
		Error:       marshalOrNil(perr),
		CompletedAt: &completedAt,
	})

	result.Status = schema.RunStatusFailed
	result.FailedStage = stageName
	result.FailedStageIndex = index
	result.Error = perr
}

// skipStage records a stage whose when-condition evaluated false.
func (e *executorImpl) skipStage(ctx context.Context, runID, stageName string, result *RunResult) {
	if err := e.stageFSM.Transition(ctx, runID, stageName, schema.StageStatusPending, schema.StageStatusSkipped); err != nil {
		e.logger.Warn("stage transition failed", "run_id", runID, "stage", stageName, "error", err)
	}
	e.upsertStage(ctx, runID, stageName, &store.StageState{
		RunID:  runID,
		Stage:  stageName,
		Status: schema.StageStatusSkipped,
	})
	result.Stages = append(result.Stages, &StageResult{
		Name:   stageName,
		Status: schema.StageStatusSkipped,
	})
}

// cancelRun handles a cancellation signal observed before stage index started.
// All remaining stages are marked skipped; the run terminates failed with a
// distinguished cancelled error.
func (e *executorImpl) cancelRun(ctx context.Context, def *schema.PipelineDefinition, runID string, index int, result *RunResult, log *slog.Logger) {
	// The run context is already cancelled; persistence must still happen.
	ctx = context.WithoutCancel(ctx)

	log.Info("run cancelled", "next_stage", def.Stages[index].Name)

	for i := index; i < len(def.Stages); i++ {
		e.skipStage(ctx, runID, def.Stages[i].Name, result)
	}

	result.Status = schema.RunStatusFailed
	result.Cancelled = true
	result.Error = schema.NewError(schema.ErrCodeCancelled, "run cancelled before stage "+def.Stages[index].Name).
		WithDetails(map[string]any{"next_stage": def.Stages[index].Name})
}

// cancelDuringStage handles a cancellation signal that interrupted a running
// stage: the signal propagated into the step's process, so the stage failure
// is an artifact of the cancellation, not of the pipeline content. The
// interrupted stage is recorded failed, remaining stages are skipped, and the
// run terminates with the distinguished cancelled error.
func (e *executorImpl) cancelDuringStage(ctx context.Context, def *schema.PipelineDefinition, runID string, index int, perr *schema.PipelineError, stageResult *StageResult, result *RunResult, log *slog.Logger) {
	// The run context is already cancelled; persistence must still happen.
	ctx = context.WithoutCancel(ctx)

	stageName := def.Stages[index].Name
	log.Info("run cancelled during stage", "stage", stageName)

	e.failStage(ctx, runID, stageName, index, schema.StageStatusRunning, perr, stageResult, result)
	for i := index + 1; i < len(def.Stages); i++ {
		e.skipStage(ctx, runID, def.Stages[i].Name, result)
	}

	result.Cancelled = true
	result.Error = schema.NewError(schema.ErrCodeCancelled, "run cancelled during stage "+stageName).
		WithDetails(map[string]any{"stage": stageName}).
		WithCause(perr)
}

// finishRun performs the terminal run transition, persists the outcome, and
// invokes exactly one terminal hook.
func (e *executorImpl) finishRun(ctx context.Context, def *schema.PipelineDefinition, runID string, result *RunResult, log *slog.Logger) {
	// Terminal bookkeeping survives a cancelled run context.
	ctx = context.WithoutCancel(ctx)

	var transitionErr error
	if result.Cancelled {
		transitionErr = e.runFSM.Cancel(ctx, runID, schema.RunStatusRunning)
	} else {
		transitionErr = e.runFSM.Transition(ctx, runID, schema.RunStatusRunning, result.Status)
	}
	if transitionErr != nil {
		log.Error("terminal run transition failed", "error", transitionErr)
	}

	update := store.RunUpdate{
		Status:      &result.Status,
		CompletedAt: result.CompletedAt,
	}
	if result.FailedStage != "" {
		update.FailedStage = &result.FailedStage
	}
	if result.Error != nil {
		update.Error = marshalOrNil(result.Error)
	}
	if err := e.store.UpdateRun(ctx, runID, update); err != nil {
		log.Error("persist run outcome failed", "error", err)
	}

	// Exactly one of the two hooks fires, exactly once, per run.
	var hook *schema.HookDefinition
	var hookName string
	if result.Status == schema.RunStatusSucceeded {
		hook, hookName = def.OnSuccess, "on_success"
	} else {
		hook, hookName = def.OnFailure, "on_failure"
	}

	switch result.Status {
	case schema.RunStatusSucceeded:
		log.Info("run succeeded", "stages", len(result.Stages))
	default:
		log.Error("run failed", "failed_stage", result.FailedStage, "cancelled", result.Cancelled, "error", result.Error)
	}

	if hook != nil {
		e.invokeHook(ctx, runID, hookName, hook, result, log)
	}
}

// invokeHook runs a terminal hook without a credential scope. Hook failures
// are logged and recorded but never change the run outcome.
func (e *executorImpl) invokeHook(ctx context.Context, runID, hookName string, hook *schema.HookDefinition, result *RunResult, log *slog.Logger) {
	e.appendStageEvent(ctx, runID, "", schema.EventHookInvoked, map[string]any{
		"hook":   hookName,
		"action": hook.Action,
	})

	params := make(map[string]any, len(hook.Params)+1)
	for k, v := range hook.Params {
		params[k] = v
	}
	params["report"] = hookReport(result)

	action, err := e.actions.Get(hook.Action)
	if err != nil {
		log.Error("terminal hook action unavailable", "hook", hookName, "action", hook.Action, "error", err)
		return
	}

	res, err := action.Execute(ctx, actions.Invocation{Params: params})
	if err != nil {
		log.Error("terminal hook invocation failed", "hook", hookName, "action", hook.Action, "error", err)
		return
	}
	if !res.Success() {
		log.Warn("terminal hook exited non-zero", "hook", hookName, "action", hook.Action, "exit_code", res.ExitCode)
		return
	}
	log.Info("terminal hook completed", "hook", hookName, "action", hook.Action)
}

// hookReport builds the structured payload handed to terminal hooks. All
// stage output inside result is already redacted.
func hookReport(result *RunResult) map[string]any {
	report := map[string]any{
		"run_id":   result.RunID,
		"pipeline": result.Pipeline,
		"status":   string(result.Status),
	}
	if result.Cancelled {
		report["cancelled"] = true
	}
	if result.FailedStage != "" {
		report["failed_stage"] = result.FailedStage
		report["failed_stage_index"] = result.FailedStageIndex
	}
	if result.Error != nil {
		report["error"] = map[string]any{
			"code":    result.Error.Code,
			"message": result.Error.Message,
		}
	}

	stages := make([]map[string]any, 0, len(result.Stages))
	for _, sr := range result.Stages {
		entry := map[string]any{
			"name":   sr.Name,
			"status": string(sr.Status),
		}
		if len(sr.Outputs) > 0 {
			entry["outputs"] = sr.Outputs
		}
		if sr.Error != nil {
			entry["error"] = sr.Error.Message
		}
		stages = append(stages, entry)
	}
	report["stages"] = stages
	return report
}

// Status returns the persisted state of a run. Stage states are reconstructed
// by replaying the run's event log; the materialized view serves as fallback.
func (e *executorImpl) Status(ctx context.Context, runID string) (*RunStatusReport, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, "run not found: "+runID)
	}

	stages, err := e.stageStatesFromLog(ctx, runID)
	if err != nil {
		return nil, err
	}
	events, err := e.eventLog.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, err
	}

	return &RunStatusReport{Run: run, Stages: stages, Events: events}, nil
}

// stageStatesFromLog rebuilds stage states from the event log. A replay
// failure (for instance a sequence gap) or an empty log falls back to the
// materialized stage-state view, so status stays answerable even when the log
// is unusable.
func (e *executorImpl) stageStatesFromLog(ctx context.Context, runID string) ([]*store.StageState, error) {
	replayed, err := e.eventLog.Replay(ctx, runID)
	if err != nil {
		e.logger.Warn("event replay failed, using materialized stage states", "run_id", runID, "error", err)
		return e.store.ListStageStates(ctx, runID)
	}
	if len(replayed) == 0 {
		return e.store.ListStageStates(ctx, runID)
	}

	states := make([]*store.StageState, 0, len(replayed))
	for _, ss := range replayed {
		states = append(states, ss)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Index < states[j].Index })
	return states, nil
}

// --- Helpers ---

func (e *executorImpl) makeWorkdir(runID string) (string, func(), error) {
	dir, err := os.MkdirTemp(e.config.WorkdirRoot, "convoy-run-")
	if err != nil {
		return "", nil, schema.NewErrorf(schema.ErrCodeExecution, "create run workdir: %s", err.Error()).WithCause(err)
	}
	cleanup := func() {
		if e.config.KeepWorkdir {
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("remove run workdir failed", "run_id", runID, "dir", dir, "error", err)
		}
	}
	return dir, cleanup, nil
}

func (e *executorImpl) upsertStage(ctx context.Context, runID, stageName string, state *store.StageState) {
	if err := e.store.UpsertStageState(ctx, state); err != nil {
		e.logger.Warn("persist stage state failed", "run_id", runID, "stage", stageName, "error", err)
	}
}

func (e *executorImpl) appendStageEvent(ctx context.Context, runID, stageName, eventType string, payload map[string]any) {
	event := &store.Event{
		RunID: runID,
		Stage: stageName,
		Type:  eventType,
	}
	if payload != nil {
		event.Payload = marshalOrNil(payload)
	}
	if err := e.eventLog.AppendEvent(ctx, event); err != nil {
		e.logger.Warn("append event failed", "run_id", runID, "stage", stageName, "event", eventType, "error", err)
	}
}

// withLocalOutputs exposes the current stage's accumulated outputs alongside
// completed stages, so steps can reference earlier steps in the same stage.
func withLocalOutputs(stages map[string]any, stageName string, local map[string]any) map[string]any {
	if len(local) == 0 {
		return stages
	}
	merged := make(map[string]any, len(stages)+1)
	for k, v := range stages {
		merged[k] = v
	}
	merged[stageName] = anyMap(local)
	return merged
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func marshalOrNil(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func asPipelineError(err error) *schema.PipelineError {
	var perr *schema.PipelineError
	if errors.As(err, &perr) {
		return perr
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
}
