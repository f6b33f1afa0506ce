package onboarding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inventory-portal/portal-backend/pkg/cache"
	"inventory-portal/portal-backend/pkg/workflows"
)

// Guard states of an Orchestrator
const (
	GuardIdle          workflows.State = "idle"
	GuardTransitioning workflows.State = "transitioning"
)

// Transitioner is the subset of Service the orchestrator drives
type Transitioner interface {
	Registry() Registry
	GetOrCreate(ctx context.Context, companyID, userID uuid.UUID) (*Record, error)
	Advance(ctx context.Context, companyID, userID uuid.UUID, step Step, payload Payload) (*Record, error)
	Skip(ctx context.Context, companyID, userID uuid.UUID, step Step, reason string) (*Record, error)
	Reset(ctx context.Context, companyID, userID uuid.UUID) (*Record, error)
	SendWelcomeEmail(ctx context.Context, companyID, userID uuid.UUID, template string, variables map[string]any) error
}

// OrchestratorConfig tunes an Orchestrator
type OrchestratorConfig struct {
	// StaleAfter is how long a loaded status is served from cache
	StaleAfter time.Duration
	// DedupWindow is how long a trigger id is remembered
	DedupWindow time.Duration
	// DedupCapacity bounds the number of remembered trigger ids
	DedupCapacity int
	// Routes overrides StepRoutes
	Routes map[Step]string
	Clock  func() time.Time
}

// DefaultOrchestratorConfig returns the client defaults
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		StaleAfter:    5 * time.Minute,
		DedupWindow:   30 * time.Second,
		DedupCapacity: 256,
	}
}

// trigger is a remembered trigger id. Pending ids are still running their action.
type trigger struct {
	done   bool
	status *Status
}

// Orchestrator is the client-facing façade for one (company, user) pair. It caches the
// last status, runs at most one transition at a time and maps steps to routes.
type Orchestrator struct {
	companyID uuid.UUID
	userID    uuid.UUID
	service   Transitioner
	registry  Registry
	navigator Navigator
	routes    map[Step]string
	guard     *workflows.StateMachine
	dedup     *cache.TTLCache[string, trigger]
	cfg       OrchestratorConfig
	now       func() time.Time
	logger    *zap.Logger

	mu        sync.RWMutex
	status    *Status
	fetchedAt time.Time
}

// NewOrchestrator creates an orchestrator for the pair
func NewOrchestrator(service Transitioner, navigator Navigator, companyID, userID uuid.UUID, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	routes := cfg.Routes
	if routes == nil {
		routes = StepRoutes
	}
	if navigator == nil {
		navigator = NavigatorFunc(func(context.Context, string) error { return nil })
	}
	return &Orchestrator{
		companyID: companyID,
		userID:    userID,
		service:   service,
		registry:  service.Registry(),
		navigator: navigator,
		routes:    routes,
		guard: workflows.NewStateMachine(GuardIdle, map[workflows.State][]workflows.State{
			GuardIdle:          {GuardTransitioning},
			GuardTransitioning: {GuardIdle},
		}),
		dedup: cache.New[string, trigger](cfg.DedupWindow,
			cache.WithCapacity(cfg.DedupCapacity),
			cache.WithClock(cfg.Clock)),
		cfg:    cfg,
		now:    cfg.Clock,
		logger: logger.With(zap.String("company_id", companyID.String()), zap.String("user_id", userID.String())),
	}
}

// GuardState returns the current guard state
func (o *Orchestrator) GuardState() workflows.State {
	return o.guard.Current()
}

// IsTransitioning reports whether a transition is in flight
func (o *Orchestrator) IsTransitioning() bool {
	return o.guard.Current() == GuardTransitioning
}

// Status returns the cached status, loading it when missing or stale
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	o.mu.RLock()
	status, fetchedAt := o.status, o.fetchedAt
	o.mu.RUnlock()

	if status != nil && o.now().Sub(fetchedAt) < o.cfg.StaleAfter {
		return status, nil
	}
	return o.Refresh(ctx)
}

// Refresh reloads the status from the service
func (o *Orchestrator) Refresh(ctx context.Context) (*Status, error) {
	rec, err := o.service.GetOrCreate(ctx, o.companyID, o.userID)
	if err != nil {
		o.logger.Error("Failed to load onboarding status", zap.Error(err))
		return nil, err
	}
	return o.replace(rec), nil
}

// NeedsOnboarding reports whether the pair has not reached the terminal step
func (o *Orchestrator) NeedsOnboarding(ctx context.Context) (bool, error) {
	status, err := o.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.NeedsOnboarding, nil
}

// Snapshot returns the cached status without loading, or nil
func (o *Orchestrator) Snapshot() *Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// CompleteCurrentStep completes the current step with data
func (o *Orchestrator) CompleteCurrentStep(ctx context.Context, data Payload) (*Status, error) {
	return o.transition(ctx, "complete_current_step", func(ctx context.Context, current *Status) error {
		_, err := o.advance(ctx, current.CurrentStep, data)
		return err
	})
}

// MoveToNextStep completes the current step when it is not yet completed or data is
// given, then advances to the next uncompleted step. The two writes run in order.
func (o *Orchestrator) MoveToNextStep(ctx context.Context, data Payload) (*Status, error) {
	return o.transition(ctx, "move_to_next_step", func(ctx context.Context, current *Status) error {
		if len(data) > 0 || !current.StepsCompleted.Contains(current.CurrentStep) {
			updated, err := o.advance(ctx, current.CurrentStep, data)
			if err != nil {
				return err
			}
			current = updated
		}
		return o.advanceToNext(ctx, current)
	})
}

// GoToStep jumps directly to step without checking that it is reachable
func (o *Orchestrator) GoToStep(ctx context.Context, step Step, data Payload) (*Status, error) {
	return o.transition(ctx, "go_to_step", func(ctx context.Context, _ *Status) error {
		_, err := o.advance(ctx, step, data)
		return err
	})
}

// SkipStep skips the current step then advances to the next uncompleted step.
// It does nothing on the terminal step.
func (o *Orchestrator) SkipStep(ctx context.Context, reason string) (*Status, error) {
	return o.transition(ctx, "skip_step", func(ctx context.Context, current *Status) error {
		if o.registry.IsTerminal(current.CurrentStep) {
			return nil
		}
		rec, err := o.service.Skip(ctx, o.companyID, o.userID, current.CurrentStep, reason)
		if err != nil {
			return err
		}
		return o.advanceToNext(ctx, o.replace(rec))
	})
}

// ResetOnboarding resets progress and navigates to the first step
func (o *Orchestrator) ResetOnboarding(ctx context.Context) (*Status, error) {
	return o.transition(ctx, "reset", func(ctx context.Context, _ *Status) error {
		rec, err := o.service.Reset(ctx, o.companyID, o.userID)
		if err != nil {
			return err
		}
		o.replace(rec)
		o.navigate(ctx, o.registry.First())
		return nil
	})
}

// SendWelcomeEmail records the welcome email for the pair. It does not take the guard.
func (o *Orchestrator) SendWelcomeEmail(ctx context.Context, template string, variables map[string]any) error {
	return o.service.SendWelcomeEmail(ctx, o.companyID, o.userID, template, variables)
}

// Once runs action unless triggerID was already seen within the dedup window. A
// trigger whose action completed returns the status that action produced along with
// ErrDuplicateTrigger. A trigger still running returns ErrTransitionInProgress. A
// failed action releases the trigger id so it can be retried.
func (o *Orchestrator) Once(ctx context.Context, triggerID string, action func(context.Context) (*Status, error)) (*Status, error) {
	if triggerID == "" {
		return action(ctx)
	}
	if !o.dedup.SetIfAbsent(triggerID, trigger{}) {
		prev, ok := o.dedup.Get(triggerID)
		if !ok || !prev.done {
			o.logger.Debug("Onboarding trigger still running", zap.String("trigger_id", triggerID))
			return nil, ErrTransitionInProgress
		}
		o.logger.Debug("Duplicate onboarding trigger ignored", zap.String("trigger_id", triggerID))
		return prev.status, ErrDuplicateTrigger
	}

	status, err := action(ctx)
	if err != nil {
		o.dedup.Delete(triggerID)
		return status, err
	}
	o.dedup.Set(triggerID, trigger{done: true, status: status})
	return status, nil
}

// NavigateToCurrentStep sends the client to the current step's route
func (o *Orchestrator) NavigateToCurrentStep(ctx context.Context) error {
	status, err := o.Status(ctx)
	if err != nil {
		return err
	}
	return o.navigator.NavigateTo(o.navContext(ctx), o.Route(status.CurrentStep))
}

// NavigateToNextStep sends the client to the next step's route
func (o *Orchestrator) NavigateToNextStep(ctx context.Context) error {
	status, err := o.Status(ctx)
	if err != nil {
		return err
	}
	return o.navigator.NavigateTo(o.navContext(ctx), o.Route(status.NextStep))
}

// Route returns the application route for step
func (o *Orchestrator) Route(step Step) string {
	if route, ok := o.routes[step]; ok {
		return route
	}
	return DefaultRoute
}

// StepInfo describes step relative to the cached status. Before the first load the
// record is treated as sitting on the first step with nothing completed.
func (o *Orchestrator) StepInfo(step Step) StepInfo {
	status := o.Snapshot()
	current := o.registry.First()
	var completed StepList
	var data StepData
	if status != nil {
		current, completed, data = status.CurrentStep, status.StepsCompleted, status.StepData
	}

	index := o.registry.IndexOf(step)
	return StepInfo{
		Step:       step,
		Index:      index,
		Route:      o.Route(step),
		IsActive:   step == current,
		IsComplete: completed.Contains(step),
		IsPending:  index > o.registry.IndexOf(current),
		Data:       data.Entry(step),
	}
}

// AllStepsInfo describes every registry step in order
func (o *Orchestrator) AllStepsInfo() []StepInfo {
	steps := o.registry.Steps()
	out := make([]StepInfo, 0, len(steps))
	for _, step := range steps {
		out = append(out, o.StepInfo(step))
	}
	return out
}

// transition runs fn under the guard. The guard is released on every path.
func (o *Orchestrator) transition(ctx context.Context, op string, fn func(ctx context.Context, current *Status) error) (*Status, error) {
	if !o.guard.TryTransition(GuardIdle, GuardTransitioning) {
		guardRejections.Inc()
		return nil, ErrTransitionInProgress
	}
	defer o.guard.TryTransition(GuardTransitioning, GuardIdle)

	current, err := o.Status(ctx)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, current); err != nil {
		if errors.Is(err, ErrAlreadyCompleted) {
			// Completed elsewhere; the cached status is behind the store.
			o.invalidate()
		}
		o.logger.Warn("Onboarding transition failed", zap.String("operation", op), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	status := o.Snapshot()
	o.logger.Debug("Onboarding transition applied",
		zap.String("operation", op),
		zap.String("from", string(current.CurrentStep)),
		zap.String("to", string(status.CurrentStep)))
	return status, nil
}

func (o *Orchestrator) advance(ctx context.Context, step Step, data Payload) (*Status, error) {
	rec, err := o.service.Advance(ctx, o.companyID, o.userID, step, data)
	if err != nil {
		return nil, err
	}
	return o.replace(rec), nil
}

func (o *Orchestrator) advanceToNext(ctx context.Context, current *Status) error {
	next := o.registry.NextStep(current.CurrentStep, current.StepsCompleted)
	if next == current.CurrentStep {
		return nil
	}
	_, err := o.advance(ctx, next, nil)
	return err
}

func (o *Orchestrator) navigate(ctx context.Context, step Step) {
	if err := o.navigator.NavigateTo(o.navContext(ctx), o.Route(step)); err != nil {
		o.logger.Warn("Navigation failed", zap.String("step", string(step)), zap.Error(err))
	}
}

func (o *Orchestrator) navContext(ctx context.Context) context.Context {
	return withTarget(ctx, Target{CompanyID: o.companyID, UserID: o.userID})
}

// invalidate marks the cached status stale so the next Status reloads it
func (o *Orchestrator) invalidate() {
	o.mu.Lock()
	o.fetchedAt = time.Time{}
	o.mu.Unlock()
}

// replace swaps the cached status for the service's authoritative record
func (o *Orchestrator) replace(rec *Record) *Status {
	status := NewStatus(o.registry, rec)
	o.mu.Lock()
	o.status = status
	o.fetchedAt = o.now()
	o.mu.Unlock()
	return status
}
