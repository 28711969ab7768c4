package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// DefaultSyncInterval is how often the scheduler reloads SCHEDULED definitions.
const DefaultSyncInterval = time.Minute

type scheduled struct {
	entryID  cron.EntryID
	schedule string
	version  int
}

// Scheduler fires SCHEDULED definitions on their cron expression.
type Scheduler struct {
	logger    *slog.Logger
	workflows persistence.WorkflowRepository
	listener  *Listener
	starter   Starter
	cron      *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]scheduled
}

func NewScheduler(
	logger *slog.Logger,
	workflows persistence.WorkflowRepository,
	listener *Listener,
	starter Starter,
) *Scheduler {
	logger = logger.With("module", "scheduler")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))

	return &Scheduler{
		logger:    logger,
		workflows: workflows,
		listener:  listener,
		starter:   starter,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		)),
		ctx:     context.Background(),
		entries: make(map[string]scheduled),
	}
}

// Run syncs the schedules, starts the cron and resyncs every interval until
// ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	err := s.Sync(ctx)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "workflows", s.Len())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.Info("Scheduler stopped")

			return nil
		case <-ticker.C:
			err := s.Sync(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to sync schedules", "error", err)
			}
		}
	}
}

// Sync adds, replaces and removes cron entries to match the active
// SCHEDULED definitions.
func (s *Scheduler) Sync(ctx context.Context) error {
	definitions, err := s.workflows.List(ctx, persistence.WorkflowFilter{ActiveOnly: true, TriggerType: models.TriggerScheduled})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(definitions))

	for _, definition := range definitions {
		seen[definition.ID] = true

		current, ok := s.entries[definition.ID]
		if ok && current.schedule == definition.Schedule && current.version == definition.Version {
			continue
		}

		if ok {
			s.cron.Remove(current.entryID)
			delete(s.entries, definition.ID)
		}

		entryID, err := s.cron.AddFunc(definition.Schedule, s.fire(definition.ID))
		if err != nil {
			s.logger.ErrorContext(ctx, "Invalid schedule, workflow not scheduled",
				"workflow_id", definition.ID,
				"schedule", definition.Schedule,
				"error", err,
			)

			continue
		}

		s.entries[definition.ID] = scheduled{entryID: entryID, schedule: definition.Schedule, version: definition.Version}
		s.logger.InfoContext(ctx, "Workflow scheduled", "workflow_id", definition.ID, "schedule", definition.Schedule)
	}

	for workflowID, entry := range s.entries {
		if seen[workflowID] {
			continue
		}

		s.cron.Remove(entry.entryID)
		delete(s.entries, workflowID)
		s.logger.InfoContext(ctx, "Workflow unscheduled", "workflow_id", workflowID)
	}

	return nil
}

// Len returns the number of scheduled workflows.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *Scheduler) fire(workflowID string) func() {
	return func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		s.Fire(ctx, workflowID, time.Now())
	}
}

// Fire starts one scheduled instance of a workflow. The definition is
// re-read so that a tick racing a deactivation does nothing.
func (s *Scheduler) Fire(ctx context.Context, workflowID string, at time.Time) {
	logger := s.logger.With("workflow_id", workflowID)

	definition, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load scheduled workflow", "error", err)

		return
	}

	if !definition.IsActive || definition.TriggerType != models.TriggerScheduled {
		logger.InfoContext(ctx, "Scheduled workflow no longer active, tick ignored")

		return
	}

	instance, err := s.starter.CreateInstance(ctx, s.listener.Scheduled(definition, at))

	switch {
	case errors.Is(err, persistence.ErrDuplicateInstance):
		logger.InfoContext(ctx, "Duplicate scheduled trigger ignored")
	case err != nil:
		logger.ErrorContext(ctx, "Failed to start scheduled instance", "error", err)
	default:
		logger.InfoContext(ctx, "Scheduled instance started", "instance_id", instance.ID)
	}
}
