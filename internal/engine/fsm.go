package engine

import (
	"context"
	"sync"

	"github.com/convoyci/convoy/internal/store"
	"github.com/convoyci/convoy/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the Store and EventLog; used by FSMs to emit
// events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// --- Run FSM ---

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM manages run lifecycle state transitions.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[runHookKey][]TransitionHook
	after    map[runHookKey][]TransitionHook
}

// NewRunFSM creates a new RunFSM that emits events via the given appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{
		appender: appender,
		before:   make(map[runHookKey][]TransitionHook),
		after:    make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a run transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a run transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a run state transition, emitting the
// corresponding event via the appender. The caller (Executor) is responsible
// for persisting the new state to the store.
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to schema.RunStatus) error {
	return f.transition(ctx, runID, from, to, runEventType(to))
}

// Cancel transitions a run to failed but records run_cancelled in the event
// log. Cancellation shares the failed terminal state; the run's error code
// distinguishes it.
func (f *RunFSM) Cancel(ctx context.Context, runID string, from schema.RunStatus) error {
	return f.transition(ctx, runID, from, schema.RunStatusFailed, schema.EventRunCancelled)
}

func (f *RunFSM) transition(ctx context.Context, runID string, from, to schema.RunStatus, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	if eventType != "" {
		event := &store.Event{
			RunID: runID,
			Type:  eventType,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		return schema.EventRunStarted
	case schema.RunStatusSucceeded:
		return schema.EventRunSucceeded
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	default:
		return ""
	}
}

// --- Stage FSM ---

type stageHookKey struct {
	from, to schema.StageStatus
}

// StageFSM manages stage lifecycle state transitions.
type StageFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[stageHookKey][]TransitionHook
	after    map[stageHookKey][]TransitionHook
}

// NewStageFSM creates a new StageFSM that emits events via the given appender.
func NewStageFSM(appender EventAppender) *StageFSM {
	return &StageFSM{
		appender: appender,
		before:   make(map[stageHookKey][]TransitionHook),
		after:    make(map[stageHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a stage transition.
func (f *StageFSM) OnBefore(from, to schema.StageStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stageHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a stage transition.
func (f *StageFSM) OnAfter(from, to schema.StageStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stageHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a stage state transition, emitting the
// corresponding event via the appender.
func (f *StageFSM) Transition(ctx context.Context, runID, stage string, from, to schema.StageStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidStageTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid stage transition: %s -> %s", from, to).
			WithStage(stage).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	key := stageHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	eventType := stageEventType(to)
	if eventType != "" {
		event := &store.Event{
			RunID: runID,
			Stage: stage,
			Type:  eventType,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit stage event: %s", err.Error()).
				WithStage(stage).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidStageTransition(from, to schema.StageStatus) bool {
	allowed, ok := ValidStageTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func stageEventType(to schema.StageStatus) string {
	switch to {
	case schema.StageStatusRunning:
		return schema.EventStageStarted
	case schema.StageStatusSucceeded:
		return schema.EventStageSucceeded
	case schema.StageStatusFailed:
		return schema.EventStageFailed
	case schema.StageStatusSkipped:
		return schema.EventStageSkipped
	default:
		return ""
	}
}

// --- Transition tables ---

// ValidRunTransitions defines the allowed state transitions for runs.
// Failed doubles as the cancelled terminal state.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:   {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusRunning:   {schema.RunStatusSucceeded, schema.RunStatusFailed},
	schema.RunStatusSucceeded: {},
	schema.RunStatusFailed:    {},
}

// ValidStageTransitions defines the allowed state transitions for stages.
// Stages run strictly in order, so there is no scheduled state.
var ValidStageTransitions = map[schema.StageStatus][]schema.StageStatus{
	schema.StageStatusPending:   {schema.StageStatusRunning, schema.StageStatusSkipped},
	schema.StageStatusRunning:   {schema.StageStatusSucceeded, schema.StageStatusFailed},
	schema.StageStatusSucceeded: {},
	schema.StageStatusFailed:    {},
	schema.StageStatusSkipped:   {},
}
