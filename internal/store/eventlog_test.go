package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoyci/convoy/pkg/schema"
)

// eventStore is a minimal Store for event log tests; only the event methods
// are implemented.
type eventStore struct {
	Store
	events []*Event
}

func (s *eventStore) AppendEvent(_ context.Context, event *Event) error {
	seq := int64(1)
	for _, e := range s.events {
		if e.RunID == event.RunID {
			seq++
		}
	}
	event.Sequence = seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, event)
	return nil
}

func (s *eventStore) GetEvents(_ context.Context, runID string, since int64) ([]*Event, error) {
	var result []*Event
	for _, e := range s.events {
		if e.RunID == runID && e.Sequence > since {
			result = append(result, e)
		}
	}
	return result, nil
}

func TestEventLogAppendAssignsSequence(t *testing.T) {
	el := NewEventLog(&eventStore{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, el.AppendEvent(ctx, &Event{RunID: "r-1", Type: schema.EventRunStarted}))
	}
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: "r-2", Type: schema.EventRunStarted}))

	events, err := el.GetEvents(ctx, "r-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}

	// Sequences are per run, not global.
	other, err := el.GetEvents(ctx, "r-2", 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, int64(1), other[0].Sequence)
}

func TestEventLogGetEventsSince(t *testing.T) {
	el := NewEventLog(&eventStore{})
	ctx := context.Background()

	for _, typ := range []string{schema.EventRunStarted, schema.EventStageStarted, schema.EventStageSucceeded} {
		require.NoError(t, el.AppendEvent(ctx, &Event{RunID: "r-1", Type: typ}))
	}

	events, err := el.GetEvents(ctx, "r-1", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventStageStarted, events[0].Type)
}

func TestReplayRebuildsStageStates(t *testing.T) {
	el := NewEventLog(&eventStore{})
	ctx := context.Background()

	output, err := json.Marshal(map[string]any{"image_tag": "v1"})
	require.NoError(t, err)

	record := func(stage, typ string, payload json.RawMessage) {
		require.NoError(t, el.AppendEvent(ctx, &Event{RunID: "r-1", Stage: stage, Type: typ, Payload: payload}))
	}

	record("", schema.EventRunStarted, nil)
	record("build", schema.EventStageStarted, nil)
	record("build", schema.EventStageSucceeded, output)
	record("test", schema.EventStageStarted, nil)
	record("test", schema.EventStageFailed, json.RawMessage(`{"code":"STEP_FAILED"}`))
	record("deploy", schema.EventStageSkipped, nil)
	record("", schema.EventRunFailed, nil)

	states, err := el.Replay(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, states, 3)

	build := states["build"]
	require.NotNil(t, build)
	assert.Equal(t, schema.StageStatusSucceeded, build.Status)
	assert.JSONEq(t, string(output), string(build.Output))
	assert.NotNil(t, build.StartedAt)
	assert.NotNil(t, build.CompletedAt)

	failed := states["test"]
	require.NotNil(t, failed)
	assert.Equal(t, schema.StageStatusFailed, failed.Status)
	assert.JSONEq(t, `{"code":"STEP_FAILED"}`, string(failed.Error))

	assert.Equal(t, schema.StageStatusSkipped, states["deploy"].Status)
}

func TestReplayEmptyRun(t *testing.T) {
	el := NewEventLog(&eventStore{})

	states, err := el.Replay(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestReplayDetectsSequenceGap(t *testing.T) {
	s := &eventStore{}
	el := NewEventLog(s)
	ctx := context.Background()

	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: "r-1", Type: schema.EventRunStarted}))
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: "r-1", Type: schema.EventRunSucceeded}))

	// Corrupt the log: drop the first event.
	s.events = s.events[1:]

	_, err := el.Replay(ctx, "r-1")
	require.Error(t, err)

	var perr *schema.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, schema.ErrCodeStore, perr.Code)
}
