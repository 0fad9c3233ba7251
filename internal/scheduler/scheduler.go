package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/convoyci/convoy/internal/store"
)

// PipelineRunner is the interface the scheduler uses to launch pipeline runs.
// Satisfied by the CLI's run wiring (avoids an import cycle with the engine).
type PipelineRunner interface {
	RunPipeline(ctx context.Context, pipelinePath string, inputs map[string]any) error
}

// Scheduler polls the store for due cron triggers and launches their pipelines.
type Scheduler struct {
	store  store.Store
	runner PipelineRunner
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // trigger IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, runner PipelineRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled triggers and fires those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	triggers, err := s.store.ListTriggers(ctx, store.TriggerFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list triggers", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, trigger := range triggers {
		if trigger.NextRunAt == nil || !trigger.NextRunAt.After(now) {
			if !s.tryAcquire(trigger.ID) {
				continue // already running (dedup)
			}
			if err := s.fire(ctx, trigger, now); err != nil {
				s.logger.Error("failed to fire trigger",
					slog.String("trigger_id", trigger.ID),
					slog.String("error", err.Error()),
				)
			}
			s.release(trigger.ID)
		}
	}
}

// fire launches a trigger's pipeline and updates its timestamps.
func (s *Scheduler) fire(ctx context.Context, trigger *store.Trigger, now time.Time) error {
	s.logger.Info("firing trigger",
		slog.String("trigger_id", trigger.ID),
		slog.String("pipeline", trigger.PipelinePath),
	)

	var inputs map[string]any
	if len(trigger.Inputs) > 0 {
		if err := json.Unmarshal(trigger.Inputs, &inputs); err != nil {
			return s.updateTriggerStatus(ctx, trigger, now, "error")
		}
	}

	err := s.runner.RunPipeline(ctx, trigger.PipelinePath, inputs)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("triggered run failed",
			slog.String("trigger_id", trigger.ID),
			slog.String("error", err.Error()),
		)
	}

	return s.updateTriggerStatus(ctx, trigger, now, status)
}

func (s *Scheduler) updateTriggerStatus(ctx context.Context, trigger *store.Trigger, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(trigger.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for trigger %q: %w", trigger.ID, err)
	}

	return s.store.UpdateTrigger(ctx, trigger.ID, store.TriggerUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the trigger as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(triggerID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[triggerID]; ok {
		return false
	}
	s.inflight[triggerID] = struct{}{}
	return true
}

// release removes the trigger from the in-flight set.
func (s *Scheduler) release(triggerID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, triggerID)
}

// CalculateNextRun computes the next fire time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed checks for triggers that missed their next_run_at and fires them once.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	triggers, err := s.store.ListTriggers(ctx, store.TriggerFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed triggers: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, trigger := range triggers {
		if trigger.NextRunAt != nil && trigger.NextRunAt.Before(now) {
			if !s.tryAcquire(trigger.ID) {
				continue
			}
			if err := s.fire(ctx, trigger, now); err != nil {
				s.logger.Error("failed to recover missed trigger",
					slog.String("trigger_id", trigger.ID),
					slog.String("error", err.Error()),
				)
				s.release(trigger.ID)
				continue
			}
			s.release(trigger.ID)
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovered missed triggers", slog.Int("count", recovered))
	}
	return nil
}
