package actions

import (
	"context"
	"time"
)

// Action is one executable external operation within a stage.
// Implementations wrap opaque external tools (git, docker, kubectl, sh);
// convoy never interprets what the tool does, only its exit status and output.
type Action interface {
	Name() string
	Describe() string
	Validate(params map[string]any) error
	Execute(ctx context.Context, inv Invocation) (*StepResult, error)
}

// ActionRegistry manages the lifecycle and lookup of available actions.
type ActionRegistry interface {
	Register(action Action) error
	Get(name string) (Action, error)
	List() []ActionInfo
	Has(name string) bool
}

// Invocation is the data provided to an action at execution time.
// Env carries the credential scope's bound values; it is appended to the
// process environment and never persisted.
type Invocation struct {
	Params  map[string]any
	Env     []string
	Workdir string
	Timeout time.Duration // 0 means the runner default applies
}

// StepResult is the captured outcome of one external invocation.
// A non-zero ExitCode is a normal result, not an error; Execute returns an
// error only when the action could not be invoked at all.
type StepResult struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out"`
}

// Success reports whether the invocation exited zero without timing out.
func (r *StepResult) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Document returns the result as a jq-friendly map for declared output
// extraction. Stdout that parses as JSON is exposed both parsed ("stdout")
// and raw ("stdout_raw").
func (r *StepResult) Document() map[string]any {
	return map[string]any{
		"stdout":      autoParse(r.Stdout),
		"stdout_raw":  r.Stdout,
		"stderr":      r.Stderr,
		"exit_code":   r.ExitCode,
		"duration_ms": r.DurationMs,
		"timed_out":   r.TimedOut,
	}
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
