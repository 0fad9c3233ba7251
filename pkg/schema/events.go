package schema

// Event type constants for the run event log.
const (
	EventRunStarted   = "run_started"
	EventRunSucceeded = "run_succeeded"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"

	EventStageStarted   = "stage_started"
	EventStageSucceeded = "stage_succeeded"
	EventStageFailed    = "stage_failed"
	EventStageSkipped   = "stage_skipped"

	EventStepStarted  = "step_started"
	EventStepFinished = "step_finished"

	EventScopeOpened = "scope_opened"
	EventScopeClosed = "scope_closed"

	EventHookInvoked = "hook_invoked"
)

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a terminal run state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// StageStatus represents the lifecycle state of a stage within a run.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusSucceeded StageStatus = "succeeded"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)
