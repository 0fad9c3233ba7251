package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoyci/convoy/internal/store"
)

// triggerStore is a minimal Store for scheduler tests; only the trigger
// methods are implemented.
type triggerStore struct {
	store.Store
	mu       sync.Mutex
	triggers map[string]*store.Trigger
	updates  []store.TriggerUpdate
}

func newTriggerStore(triggers ...*store.Trigger) *triggerStore {
	s := &triggerStore{triggers: make(map[string]*store.Trigger)}
	for _, t := range triggers {
		s.triggers[t.ID] = t
	}
	return s
}

func (s *triggerStore) ListTriggers(_ context.Context, filter store.TriggerFilter) ([]*store.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*store.Trigger
	for _, t := range s.triggers {
		if filter.Enabled != nil && t.Enabled != *filter.Enabled {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

func (s *triggerStore) UpdateTrigger(_ context.Context, id string, update store.TriggerUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return fmt.Errorf("trigger not found: %s", id)
	}
	if update.LastRunAt != nil {
		t.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		t.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		t.LastRunStatus = update.LastRunStatus
	}
	s.updates = append(s.updates, update)
	return nil
}

// recordingRunner records RunPipeline calls.
type recordingRunner struct {
	mu     sync.Mutex
	calls  []string
	inputs []map[string]any
	err    error
}

func (r *recordingRunner) RunPipeline(_ context.Context, pipelinePath string, inputs map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, pipelinePath)
	r.inputs = append(r.inputs, inputs)
	return r.err
}

func (r *recordingRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pastTrigger(id string) *store.Trigger {
	past := time.Now().UTC().Add(-time.Hour)
	return &store.Trigger{
		ID:             id,
		PipelinePath:   "pipelines/" + id + ".yaml",
		CronExpression: "*/5 * * * *",
		Enabled:        true,
		NextRunAt:      &past,
	}
}

func TestCalculateNextRun(t *testing.T) {
	s := NewScheduler(newTriggerStore(), nil, discardLogger())

	from := time.Date(2026, 8, 24, 10, 2, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 10, 15, 0, 0, time.UTC), next)

	next, err = s.CalculateNextRun("0 3 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC), next)
}

func TestCalculateNextRunInvalidExpression(t *testing.T) {
	s := NewScheduler(newTriggerStore(), nil, discardLogger())

	_, err := s.CalculateNextRun("not a cron", time.Now())
	require.Error(t, err)
}

func TestTickFiresDueTriggers(t *testing.T) {
	due := pastTrigger("due")

	future := time.Now().UTC().Add(time.Hour)
	notDue := &store.Trigger{
		ID:             "later",
		PipelinePath:   "pipelines/later.yaml",
		CronExpression: "0 * * * *",
		Enabled:        true,
		NextRunAt:      &future,
	}
	disabled := pastTrigger("disabled")
	disabled.Enabled = false

	ts := newTriggerStore(due, notDue, disabled)
	runner := &recordingRunner{}
	s := NewScheduler(ts, runner, discardLogger())

	s.tick(context.Background())

	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, "pipelines/due.yaml", runner.calls[0])

	// The fired trigger got a fresh next_run_at in the future.
	fired := ts.triggers["due"]
	assert.Equal(t, "success", fired.LastRunStatus)
	require.NotNil(t, fired.NextRunAt)
	assert.True(t, fired.NextRunAt.After(time.Now().UTC()))
	assert.NotNil(t, fired.LastRunAt)
}

func TestTickPassesTriggerInputs(t *testing.T) {
	trigger := pastTrigger("with-inputs")
	trigger.Inputs = []byte(`{"environment":"production"}`)

	runner := &recordingRunner{}
	s := NewScheduler(newTriggerStore(trigger), runner, discardLogger())

	s.tick(context.Background())

	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, map[string]any{"environment": "production"}, runner.inputs[0])
}

func TestTickRecordsRunFailure(t *testing.T) {
	trigger := pastTrigger("failing")

	ts := newTriggerStore(trigger)
	runner := &recordingRunner{err: fmt.Errorf("run failed")}
	s := NewScheduler(ts, runner, discardLogger())

	s.tick(context.Background())

	assert.Equal(t, "error", ts.triggers["failing"].LastRunStatus)
	// Failed triggers still advance next_run_at so they retry on schedule.
	assert.True(t, ts.triggers["failing"].NextRunAt.After(time.Now().UTC()))
}

func TestInflightDeduplication(t *testing.T) {
	s := NewScheduler(newTriggerStore(), nil, discardLogger())

	assert.True(t, s.tryAcquire("t-1"))
	assert.False(t, s.tryAcquire("t-1"))
	s.release("t-1")
	assert.True(t, s.tryAcquire("t-1"))
}

func TestRecoverMissed(t *testing.T) {
	missed := pastTrigger("missed")

	onTime := pastTrigger("on-time")
	future := time.Now().UTC().Add(30 * time.Minute)
	onTime.NextRunAt = &future

	ts := newTriggerStore(missed, onTime)
	runner := &recordingRunner{}
	s := NewScheduler(ts, runner, discardLogger())

	require.NoError(t, s.RecoverMissed(context.Background()))

	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, "pipelines/missed.yaml", runner.calls[0])
}

func TestStartAndStop(t *testing.T) {
	ts := newTriggerStore(pastTrigger("due"))
	runner := &recordingRunner{}
	s := NewScheduler(ts, runner, discardLogger())

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.Error(t, s.Start(ctx), "second start must fail")

	// The initial tick fires immediately.
	require.Eventually(t, func() bool {
		return runner.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	// Stop after stop is a no-op.
	require.NoError(t, s.Stop())

	// Restart works after a clean stop.
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop())
}
