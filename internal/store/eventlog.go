package store

import (
	"context"
	"fmt"

	"github.com/convoyci/convoy/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a Store.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide event-sourcing operations.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-run sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// Replay replays all events for a run and returns the reconstructed stage states.
// Returns an error if sequence gaps are detected.
func (el *EventLog) Replay(ctx context.Context, runID string) (map[string]*StageState, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	if len(events) == 0 {
		return make(map[string]*StageState), nil
	}

	// Validate sequence contiguity.
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	states := make(map[string]*StageState)

	for _, e := range events {
		if e.Stage == "" {
			continue
		}

		ss, ok := states[e.Stage]
		if !ok {
			ss = &StageState{
				RunID:  runID,
				Stage:  e.Stage,
				Index:  len(states),
				Status: schema.StageStatusPending,
			}
			states[e.Stage] = ss
		}

		switch e.Type {
		case schema.EventStageStarted:
			ss.Status = schema.StageStatusRunning
			ts := e.Timestamp
			ss.StartedAt = &ts

		case schema.EventStageSucceeded:
			ss.Status = schema.StageStatusSucceeded
			ts := e.Timestamp
			ss.CompletedAt = &ts
			ss.Output = e.Payload
			if ss.StartedAt != nil {
				ss.DurationMs = ts.Sub(*ss.StartedAt).Milliseconds()
			}

		case schema.EventStageFailed:
			ss.Status = schema.StageStatusFailed
			ts := e.Timestamp
			ss.CompletedAt = &ts
			ss.Error = e.Payload

		case schema.EventStageSkipped:
			ss.Status = schema.StageStatusSkipped
		}
	}

	return states, nil
}
