package onboarding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompanyCompleter flags a company as onboarded once its onboarding reaches the terminal step
type CompanyCompleter interface {
	MarkOnboardingComplete(ctx context.Context, companyID uuid.UUID) error
}

// PreferencesInitializer seeds per-user defaults when an onboarding record is created
type PreferencesInitializer interface {
	InitializeDefaults(ctx context.Context, companyID, userID uuid.UUID) error
}

// PlanRecorder keeps a company's subscription history
type PlanRecorder interface {
	RecordPlanChange(ctx context.Context, companyID uuid.UUID, planID, reason string, createdBy uuid.UUID, metadata map[string]any) error
}

const (
	// PlanChangeInitialSelection is the history reason for a plan picked during onboarding
	PlanChangeInitialSelection = "initial_selection"
	// DefaultWelcomeTemplate is used when SendWelcomeEmail is given no template
	DefaultWelcomeTemplate = "welcome_user"
)

// Service performs onboarding transitions against the Repository
type Service struct {
	repo        Repository
	registry    Registry
	emitter     Emitter
	completer   CompanyCompleter
	preferences PreferencesInitializer
	plans       PlanRecorder
	logger      *zap.Logger
	now         func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

func WithRegistry(r Registry) ServiceOption {
	return func(s *Service) { s.registry = r }
}

func WithEmitter(e Emitter) ServiceOption {
	return func(s *Service) { s.emitter = e }
}

func WithCompanyCompleter(c CompanyCompleter) ServiceOption {
	return func(s *Service) { s.completer = c }
}

func WithPreferencesInitializer(p PreferencesInitializer) ServiceOption {
	return func(s *Service) { s.preferences = p }
}

func WithPlanRecorder(p PlanRecorder) ServiceOption {
	return func(s *Service) { s.plans = p }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a new onboarding service. Without WithEmitter, events go to the log.
func NewService(repo Repository, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		registry: DefaultRegistry,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.emitter == nil {
		s.emitter = NewLogEmitter(logger)
	}
	return s
}

// Registry returns the step registry the service enforces
func (s *Service) Registry() Registry {
	return s.registry
}

// GetOrCreate returns the record for the pair, creating it at the first step if absent
func (s *Service) GetOrCreate(ctx context.Context, companyID, userID uuid.UUID) (*Record, error) {
	rec, err := s.repo.Fetch(ctx, companyID, userID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get onboarding status: %w", err)
	}

	started := time.Now()
	now := s.timestamp()
	first := s.registry.First()
	rec = &Record{
		ID:             uuid.New(),
		CompanyID:      companyID,
		UserID:         userID,
		CurrentStep:    first,
		StepsCompleted: StepList{first},
		StepData:       StepData{string(first): {CompletedAt: &now}},
		LastActivityAt: now,
		CreatedAt:      now,
	}

	stored, created, err := s.repo.Create(ctx, rec)
	observeTransition("create", started, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create onboarding record: %w", err)
	}
	if !created {
		return stored, nil
	}

	s.logger.Info("Onboarding record created",
		zap.String("company_id", companyID.String()),
		zap.String("user_id", userID.String()))

	s.seedPreferences(ctx, companyID, userID)
	s.track(ctx, stored, EventOnboardingStarted, first, nil)

	return stored, nil
}

// Status returns the caller-facing status, creating the record if needed
func (s *Service) Status(ctx context.Context, companyID, userID uuid.UUID) (*Status, error) {
	rec, err := s.GetOrCreate(ctx, companyID, userID)
	if err != nil {
		return nil, err
	}
	return NewStatus(s.registry, rec), nil
}

// Advance marks step completed, stores payload under it and makes it the current step.
// Advancing to the terminal step stamps completed_at and notifies the company completer
// once per company.
func (s *Service) Advance(ctx context.Context, companyID, userID uuid.UUID, step Step, payload Payload) (*Record, error) {
	if err := s.checkStep(step); err != nil {
		return nil, err
	}
	if err := ValidatePayload(step, payload); err != nil {
		return nil, err
	}

	now := s.timestamp()
	entry := StepEntry{
		Data:        payload.clone(),
		CompletedAt: &now,
	}
	return s.apply(ctx, companyID, userID, "advance", step, entry, now, EventStepCompleted)
}

// Skip is Advance with the entry flagged as skipped. The skipped step still counts
// as completed for progress. Callers move on with Advance(NextStep(...)).
func (s *Service) Skip(ctx context.Context, companyID, userID uuid.UUID, step Step, reason string) (*Record, error) {
	if err := s.checkStep(step); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = DefaultSkipReason
	}

	now := s.timestamp()
	entry := StepEntry{
		CompletedAt: &now,
		Skipped:     true,
		SkipReason:  reason,
		SkippedAt:   &now,
	}
	return s.apply(ctx, companyID, userID, "skip", step, entry, now, EventStepSkipped)
}

// Reset returns the record to the first step with no completed steps. Existing step
// data is kept and a reset marker is added under a synthetic key.
func (s *Service) Reset(ctx context.Context, companyID, userID uuid.UUID) (*Record, error) {
	if _, err := s.GetOrCreate(ctx, companyID, userID); err != nil {
		return nil, err
	}

	started := time.Now()
	now := s.timestamp()
	first := s.registry.First()
	update := RecordUpdate{
		CurrentStep: first,
		ClearSteps:  true,
		StepData: StepData{
			ResetKey(now): {Reset: true, ResetAt: &now},
		},
		LastActivityAt:   now,
		ClearCompletedAt: true,
	}

	rec, err := s.repo.Update(ctx, companyID, userID, update)
	observeTransition("reset", started, err)
	if err != nil {
		return nil, fmt.Errorf("failed to reset onboarding: %w", err)
	}

	s.logger.Info("Onboarding reset",
		zap.String("company_id", companyID.String()),
		zap.String("user_id", userID.String()))
	s.track(ctx, rec, EventOnboardingReset, first, nil)

	return rec, nil
}

func (s *Service) apply(ctx context.Context, companyID, userID uuid.UUID, operation string, step Step, entry StepEntry, now time.Time, event string) (*Record, error) {
	prior, err := s.GetOrCreate(ctx, companyID, userID)
	if err != nil {
		return nil, err
	}
	terminal := s.registry.IsTerminal(step)
	if prior.CompletedAt != nil && !terminal {
		return nil, fmt.Errorf("%w: cannot move to %s", ErrAlreadyCompleted, step)
	}

	update := RecordUpdate{
		CurrentStep:    step,
		AddSteps:       []Step{step},
		StepData:       StepData{string(step): entry},
		LastActivityAt: now,
	}
	if terminal {
		update.CompletedAt = &now
	}

	started := time.Now()
	rec, err := s.repo.Update(ctx, companyID, userID, update)
	observeTransition(operation, started, err)
	if err != nil {
		return nil, fmt.Errorf("failed to %s onboarding step %s: %w", operation, step, err)
	}

	// Only the call whose timestamp was persisted owns the completion side effect.
	if terminal && prior.CompletedAt == nil && rec.CompletedAt != nil && rec.CompletedAt.Equal(now) {
		completionsTotal.Inc()
		s.markCompanyComplete(ctx, companyID)
	}

	data := map[string]any{}
	if len(entry.Data) > 0 {
		data["step_data"] = map[string]any(entry.Data)
	}
	if entry.Skipped {
		data["skip_reason"] = entry.SkipReason
	}
	s.track(ctx, rec, event, step, data)

	if step == StepPlanSelection && !entry.Skipped {
		s.recordPlanChange(ctx, rec, entry)
	}

	s.logger.Debug("Onboarding step updated",
		zap.String("company_id", companyID.String()),
		zap.String("user_id", userID.String()),
		zap.String("operation", operation),
		zap.String("step", string(step)))

	return rec, nil
}

// SendWelcomeEmail records that the welcome email for template went out to the user.
// Delivery itself belongs to the mail provider; only the email_sent event is kept.
func (s *Service) SendWelcomeEmail(ctx context.Context, companyID, userID uuid.UUID, template string, variables map[string]any) error {
	if template == "" {
		template = DefaultWelcomeTemplate
	}
	info := ClientInfoFrom(ctx)
	event := Event{
		CompanyID: companyID,
		UserID:    userID,
		Name:      EventEmailSent,
		Data: map[string]any{
			"template":  template,
			"variables": variables,
		},
		SessionID:  info.SessionID,
		UserAgent:  info.UserAgent,
		IPAddress:  info.IPAddress,
		OccurredAt: s.timestamp(),
	}
	if err := s.emitter.Track(ctx, event); err != nil {
		observeSideEffectFailure("analytics")
		return fmt.Errorf("failed to record welcome email: %w", err)
	}
	s.logger.Info("Welcome email sent",
		zap.String("user_id", userID.String()),
		zap.String("template", template))
	return nil
}

func (s *Service) checkStep(step Step) error {
	if !s.registry.Contains(step) {
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
	return nil
}

// timestamp returns the current time at the precision postgres stores
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) markCompanyComplete(ctx context.Context, companyID uuid.UUID) {
	if s.completer == nil {
		return
	}
	if err := s.completer.MarkOnboardingComplete(ctx, companyID); err != nil {
		observeSideEffectFailure("company_completion")
		s.logger.Error("Failed to mark company onboarding complete",
			zap.String("company_id", companyID.String()),
			zap.Error(err))
		return
	}
	s.logger.Info("Company onboarding completed", zap.String("company_id", companyID.String()))
}

func (s *Service) recordPlanChange(ctx context.Context, rec *Record, entry StepEntry) {
	if s.plans == nil {
		return
	}
	var plan PlanSelectionData
	if err := entry.Decode(&plan); err != nil || plan.PlanID == "" {
		return
	}
	metadata := map[string]any{"selection_method": "onboarding"}
	if plan.PlanName != "" {
		metadata["plan_name"] = plan.PlanName
	}
	if plan.BillingCycle != "" {
		metadata["billing_cycle"] = plan.BillingCycle
	}
	err := s.plans.RecordPlanChange(ctx, rec.CompanyID, plan.PlanID, PlanChangeInitialSelection, rec.UserID, metadata)
	if err != nil {
		observeSideEffectFailure("plan_history")
		s.logger.Warn("Failed to record plan change",
			zap.String("company_id", rec.CompanyID.String()),
			zap.String("plan_id", plan.PlanID),
			zap.Error(err))
	}
}

func (s *Service) seedPreferences(ctx context.Context, companyID, userID uuid.UUID) {
	if s.preferences == nil {
		return
	}
	if err := s.preferences.InitializeDefaults(ctx, companyID, userID); err != nil {
		observeSideEffectFailure("default_preferences")
		s.logger.Warn("Failed to create default notification preferences",
			zap.String("company_id", companyID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

func (s *Service) track(ctx context.Context, rec *Record, name string, step Step, data map[string]any) {
	info := ClientInfoFrom(ctx)
	event := Event{
		CompanyID:  rec.CompanyID,
		UserID:     rec.UserID,
		Name:       name,
		Step:       step,
		Data:       data,
		SessionID:  info.SessionID,
		UserAgent:  info.UserAgent,
		IPAddress:  info.IPAddress,
		OccurredAt: s.timestamp(),
	}
	if err := s.emitter.Track(ctx, event); err != nil {
		observeSideEffectFailure("analytics")
		s.logger.Warn("Failed to track onboarding event",
			zap.String("event", name),
			zap.String("company_id", rec.CompanyID.String()),
			zap.Error(err))
	}
}
