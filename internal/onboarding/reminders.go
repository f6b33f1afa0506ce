package onboarding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ReminderConfig configures the stalled onboarding scan
type ReminderConfig struct {
	// Schedule is a cron expression with a seconds field
	Schedule string
	// InactiveFor is how long a record must sit idle to count as stalled
	InactiveFor time.Duration
	BatchSize   int
	// RemindEvery suppresses repeated events for the same stalled record
	RemindEvery time.Duration
	Clock       func() time.Time
}

// DefaultReminderConfig returns default configuration
func DefaultReminderConfig() ReminderConfig {
	return ReminderConfig{
		Schedule:    "0 0 * * * *",
		InactiveFor: 72 * time.Hour,
		BatchSize:   100,
		RemindEvery: 24 * time.Hour,
	}
}

// ReminderScheduler periodically emits onboarding_stalled events for records that
// have not moved for a while, so tip and reminder campaigns can pick them up.
// Reminder times are stored on the record, so several workers share one schedule.
type ReminderScheduler struct {
	cron    *cron.Cron
	repo    Repository
	emitter Emitter
	logger  *zap.Logger
	config  ReminderConfig
	mu      sync.Mutex
	running bool
}

// NewReminderScheduler creates a new reminder scheduler
func NewReminderScheduler(repo Repository, emitter Emitter, logger *zap.Logger, config ReminderConfig) *ReminderScheduler {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &ReminderScheduler{
		cron:    cron.New(cron.WithSeconds()),
		repo:    repo,
		emitter: emitter,
		logger:  logger,
		config:  config,
	}
}

// Start schedules the scan and starts the cron runner
func (s *ReminderScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("reminder scheduler already running")
	}
	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Stalled onboarding scan failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid reminder schedule %q: %w", s.config.Schedule, err)
	}

	s.logger.Info("Starting onboarding reminder scheduler",
		zap.String("schedule", s.config.Schedule),
		zap.Duration("inactive_for", s.config.InactiveFor))
	s.cron.Start()
	s.running = true
	return nil
}

// Stop stops the scheduler and waits for a running scan to finish
func (s *ReminderScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Onboarding reminder scheduler stopped")
}

// RunOnce scans for stalled records not reminded within RemindEvery and emits one
// event per record. It returns the number of events emitted.
func (s *ReminderScheduler) RunOnce(ctx context.Context) (int, error) {
	now := s.config.Clock().UTC()
	records, err := s.repo.ListStalled(ctx, now.Add(-s.config.InactiveFor), now.Add(-s.config.RemindEvery), s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	emitted := 0
	for _, rec := range records {
		inactive := now.Sub(rec.LastActivityAt)
		event := Event{
			CompanyID: rec.CompanyID,
			UserID:    rec.UserID,
			Name:      EventOnboardingStalled,
			Step:      rec.CurrentStep,
			Data: map[string]any{
				"inactive_hours": int(inactive.Hours()),
				"steps_done":     len(rec.StepsCompleted),
			},
			OccurredAt: now,
		}
		// An unmarked record is picked up again on the next run.
		if err := s.emitter.Track(ctx, event); err != nil {
			observeSideEffectFailure("analytics")
			s.logger.Warn("Failed to track stalled onboarding",
				zap.String("company_id", rec.CompanyID.String()),
				zap.Error(err))
			continue
		}
		if err := s.repo.MarkReminded(ctx, rec.ID, now); err != nil {
			s.logger.Warn("Failed to mark onboarding reminded",
				zap.String("company_id", rec.CompanyID.String()),
				zap.Error(err))
		}
		emitted++
	}

	if emitted > 0 {
		s.logger.Info("Stalled onboarding reminders emitted", zap.Int("count", emitted))
	}
	return emitted, nil
}
