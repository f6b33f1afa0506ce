package onboarding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock returns t and then moves it forward by step
type testClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newTestClock(step time.Duration) *testClock {
	return &testClock{t: testNow, step: step}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Fetch(ctx context.Context, companyID, userID uuid.UUID) (*Record, error) {
	args := m.Called(ctx, companyID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Record), args.Error(1)
}

func (m *MockRepository) Create(ctx context.Context, rec *Record) (*Record, bool, error) {
	args := m.Called(ctx, rec)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*Record), args.Bool(1), args.Error(2)
}

func (m *MockRepository) Update(ctx context.Context, companyID, userID uuid.UUID, update RecordUpdate) (*Record, error) {
	args := m.Called(ctx, companyID, userID, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Record), args.Error(1)
}

func (m *MockRepository) ListStalled(ctx context.Context, inactiveSince, remindedBefore time.Time, limit int) ([]*Record, error) {
	args := m.Called(ctx, inactiveSince, remindedBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Record), args.Error(1)
}

func (m *MockRepository) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// MockCompanyCompleter is a mock implementation of CompanyCompleter
type MockCompanyCompleter struct {
	mock.Mock
}

func (m *MockCompanyCompleter) MarkOnboardingComplete(ctx context.Context, companyID uuid.UUID) error {
	return m.Called(ctx, companyID).Error(0)
}

// MockPreferences is a mock implementation of PreferencesInitializer
type MockPreferences struct {
	mock.Mock
}

func (m *MockPreferences) InitializeDefaults(ctx context.Context, companyID, userID uuid.UUID) error {
	return m.Called(ctx, companyID, userID).Error(0)
}

// MockPlanRecorder is a mock implementation of PlanRecorder
type MockPlanRecorder struct {
	mock.Mock
}

func (m *MockPlanRecorder) RecordPlanChange(ctx context.Context, companyID uuid.UUID, planID, reason string, createdBy uuid.UUID, metadata map[string]any) error {
	return m.Called(ctx, companyID, planID, reason, createdBy, metadata).Error(0)
}

// recordingEmitter keeps every tracked event
type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (e *recordingEmitter) Track(_ context.Context, event Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return e.err
}

func (e *recordingEmitter) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Name)
	}
	return out
}

func (e *recordingEmitter) count(name string) int {
	n := 0
	for _, got := range e.names() {
		if got == name {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T, repo Repository, opts ...ServiceOption) *Service {
	t.Helper()
	clock := newTestClock(time.Millisecond)
	base := []ServiceOption{WithRegistry(testRegistry), WithClock(clock.Now)}
	return NewService(repo, zaptest.NewLogger(t), append(base, opts...)...)
}

func TestService_Scenarios(t *testing.T) {
	ctx := context.Background()
	companyID, userID := uuid.New(), uuid.New()

	completer := new(MockCompanyCompleter)
	completer.On("MarkOnboardingComplete", mock.Anything, companyID).Return(nil).Once()
	emitter := &recordingEmitter{}
	svc := newTestService(t, NewMemoryRepository(), WithCompanyCompleter(completer), WithEmitter(emitter))

	// New pair starts on the first step
	rec, err := svc.GetOrCreate(ctx, companyID, userID)
	require.NoError(t, err)
	status := NewStatus(testRegistry, rec)
	assert.Equal(t, stepA, status.CurrentStep)
	assert.Equal(t, StepList{stepA}, status.StepsCompleted)
	assert.Equal(t, 33, status.Progress)
	assert.Equal(t, stepB, status.NextStep)
	assert.Nil(t, status.CompletedAt)
	assert.True(t, status.NeedsOnboarding)

	// Advance with data
	rec, err = svc.Advance(ctx, companyID, userID, stepB, Payload{"x": 1})
	require.NoError(t, err)
	status = NewStatus(testRegistry, rec)
	assert.Equal(t, stepB, status.CurrentStep)
	assert.Equal(t, StepList{stepA, stepB}, status.StepsCompleted)
	assert.Equal(t, 67, status.Progress)
	assert.Equal(t, 1, status.StepData.Entry(stepB).Data["x"])
	assert.NotNil(t, status.StepData.Entry(stepB).CompletedAt)

	// Skip then move on to the terminal step
	rec, err = svc.Skip(ctx, companyID, userID, stepC, "not applicable")
	require.NoError(t, err)
	next := testRegistry.NextStep(rec.CurrentStep, rec.StepsCompleted)
	require.Equal(t, stepD, next)
	rec, err = svc.Advance(ctx, companyID, userID, next, nil)
	require.NoError(t, err)
	status = NewStatus(testRegistry, rec)
	assert.Equal(t, stepD, status.CurrentStep)
	assert.Equal(t, StepList{stepA, stepB, stepC, stepD}, status.StepsCompleted)
	assert.Equal(t, 100, status.Progress)
	assert.True(t, status.IsCompleted)
	assert.False(t, status.NeedsOnboarding)
	require.NotNil(t, status.CompletedAt)
	skipped := status.StepData.Entry(stepC)
	assert.True(t, skipped.Skipped)
	assert.Equal(t, "not applicable", skipped.SkipReason)
	completer.AssertNumberOfCalls(t, "MarkOnboardingComplete", 1)
	completedAt := *status.CompletedAt

	// Completing again does not notify twice
	rec, err = svc.Advance(ctx, companyID, userID, stepD, Payload{})
	require.NoError(t, err)
	assert.True(t, completedAt.Equal(*rec.CompletedAt))
	completer.AssertNumberOfCalls(t, "MarkOnboardingComplete", 1)

	// Reset clears progress but keeps step data
	rec, err = svc.Reset(ctx, companyID, userID)
	require.NoError(t, err)
	status = NewStatus(testRegistry, rec)
	assert.Equal(t, stepA, status.CurrentStep)
	assert.Empty(t, status.StepsCompleted)
	assert.Equal(t, 0, status.Progress)
	assert.Nil(t, status.CompletedAt)
	assert.Contains(t, status.StepData, string(stepB))

	resetKeys := 0
	for key, entry := range status.StepData {
		if IsResetKey(key) {
			resetKeys++
			assert.True(t, entry.Reset)
			assert.NotNil(t, entry.ResetAt)
		}
	}
	assert.Equal(t, 1, resetKeys)

	assert.Equal(t, []string{
		EventOnboardingStarted,
		EventStepCompleted,
		EventStepSkipped,
		EventStepCompleted,
		EventStepCompleted,
		EventOnboardingReset,
	}, emitter.names())
	completer.AssertExpectations(t)
}

func TestService_GetOrCreate_Idempotent(t *testing.T) {
	ctx := context.Background()
	companyID, userID := uuid.New(), uuid.New()

	prefs := new(MockPreferences)
	prefs.On("InitializeDefaults", mock.Anything, companyID, userID).Return(nil).Once()
	emitter := &recordingEmitter{}
	svc := newTestService(t, NewMemoryRepository(), WithPreferencesInitializer(prefs), WithEmitter(emitter))

	first, err := svc.GetOrCreate(ctx, companyID, userID)
	require.NoError(t, err)
	second, err := svc.GetOrCreate(ctx, companyID, userID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, emitter.count(EventOnboardingStarted))
	prefs.AssertExpectations(t)
}

func TestService_GetOrCreate_ConcurrentCreatesOnce(t *testing.T) {
	ctx := context.Background()
	companyID, userID := uuid.New(), uuid.New()
	emitter := &recordingEmitter{}
	svc := newTestService(t, NewMemoryRepository(), WithEmitter(emitter))

	const workers = 16
	ids := make([]uuid.UUID, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := svc.GetOrCreate(ctx, companyID, userID)
			if assert.NoError(t, err) {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, emitter.count(EventOnboardingStarted))
}

func TestService_PreferencesFailureNotPropagated(t *testing.T) {
	companyID, userID := uuid.New(), uuid.New()
	prefs := new(MockPreferences)
	prefs.On("InitializeDefaults", mock.Anything, companyID, userID).Return(errors.New("settings down"))
	svc := newTestService(t, NewMemoryRepository(), WithPreferencesInitializer(prefs))

	rec, err := svc.GetOrCreate(context.Background(), companyID, userID)
	require.NoError(t, err)
	assert.Equal(t, stepA, rec.CurrentStep)
}

func TestService_UnknownStep(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(t, repo)

	_, err := svc.Advance(context.Background(), uuid.New(), uuid.New(), "nope", nil)
	assert.True(t, errors.Is(err, ErrUnknownStep))

	_, err = svc.Skip(context.Background(), uuid.New(), uuid.New(), "nope", "")
	assert.True(t, errors.Is(err, ErrUnknownStep))

	repo.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_InvalidPayload(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, zaptest.NewLogger(t))

	_, err := svc.Advance(context.Background(), uuid.New(), uuid.New(), StepCompanySetup, Payload{"country": "USA"})
	assert.True(t, errors.Is(err, ErrInvalidPayload))
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_AnalyticsFailureNotPropagated(t *testing.T) {
	emitter := &recordingEmitter{err: errors.New("analytics down")}
	svc := newTestService(t, NewMemoryRepository(), WithEmitter(emitter))
	companyID, userID := uuid.New(), uuid.New()

	rec, err := svc.Advance(context.Background(), companyID, userID, stepB, nil)
	require.NoError(t, err)
	assert.Equal(t, stepB, rec.CurrentStep)
	assert.Equal(t, 2, len(emitter.names()))
}

func TestService_CompleterFailureNotPropagated(t *testing.T) {
	companyID, userID := uuid.New(), uuid.New()
	completer := new(MockCompanyCompleter)
	completer.On("MarkOnboardingComplete", mock.Anything, companyID).Return(errors.New("company db down"))
	svc := newTestService(t, NewMemoryRepository(), WithCompanyCompleter(completer))

	rec, err := svc.Advance(context.Background(), companyID, userID, stepD, nil)
	require.NoError(t, err)
	assert.NotNil(t, rec.CompletedAt)
	completer.AssertNumberOfCalls(t, "MarkOnboardingComplete", 1)
}

func TestService_StoreErrorPropagated(t *testing.T) {
	ctx := context.Background()
	companyID, userID := uuid.New(), uuid.New()
	storeErr := errors.New("connection refused")

	t.Run("fetch", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Fetch", mock.Anything, companyID, userID).Return(nil, storeErr)
		svc := newTestService(t, repo)

		_, err := svc.GetOrCreate(ctx, companyID, userID)
		assert.True(t, errors.Is(err, storeErr))
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("create", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Fetch", mock.Anything, companyID, userID).Return(nil, ErrNotFound)
		repo.On("Create", mock.Anything, mock.Anything).Return(nil, false, storeErr)
		svc := newTestService(t, repo)

		_, err := svc.GetOrCreate(ctx, companyID, userID)
		assert.True(t, errors.Is(err, storeErr))
	})

	t.Run("update", func(t *testing.T) {
		existing := &Record{
			ID:             uuid.New(),
			CompanyID:      companyID,
			UserID:         userID,
			CurrentStep:    stepA,
			StepsCompleted: StepList{stepA},
			StepData:       StepData{},
		}
		repo := new(MockRepository)
		repo.On("Fetch", mock.Anything, companyID, userID).Return(existing, nil)
		repo.On("Update", mock.Anything, companyID, userID, mock.Anything).Return(nil, storeErr)
		completer := new(MockCompanyCompleter)
		svc := newTestService(t, repo, WithCompanyCompleter(completer))

		_, err := svc.Advance(ctx, companyID, userID, stepD, nil)
		assert.True(t, errors.Is(err, storeErr))
		completer.AssertNotCalled(t, "MarkOnboardingComplete", mock.Anything, mock.Anything)
	})
}

func TestService_AdvanceSendsMergeUpdate(t *testing.T) {
	ctx := context.Background()
	companyID, userID := uuid.New(), uuid.New()
	existing := &Record{
		ID:             uuid.New(),
		CompanyID:      companyID,
		UserID:         userID,
		CurrentStep:    stepA,
		StepsCompleted: StepList{stepA},
		StepData:       StepData{},
	}

	repo := new(MockRepository)
	repo.On("Fetch", mock.Anything, companyID, userID).Return(existing, nil)
	repo.On("Update", mock.Anything, companyID, userID, mock.MatchedBy(func(u RecordUpdate) bool {
		entry, ok := u.StepData[string(stepB)]
		return u.CurrentStep == stepB &&
			len(u.AddSteps) == 1 && u.AddSteps[0] == stepB &&
			!u.ClearSteps && u.CompletedAt == nil &&
			ok && entry.Data["plan"] == "pro"
	})).Return(existing, nil)
	svc := newTestService(t, repo)

	_, err := svc.Advance(ctx, companyID, userID, stepB, Payload{"plan": "pro"})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestService_AlreadyCompleted(t *testing.T) {
	ctx := context.Background()
	companyID, userID := uuid.New(), uuid.New()
	svc := newTestService(t, NewMemoryRepository())

	_, err := svc.Advance(ctx, companyID, userID, stepD, nil)
	require.NoError(t, err)

	_, err = svc.Advance(ctx, companyID, userID, stepB, nil)
	assert.True(t, errors.Is(err, ErrAlreadyCompleted))
	_, err = svc.Skip(ctx, companyID, userID, stepB, "")
	assert.True(t, errors.Is(err, ErrAlreadyCompleted))

	rec, err := svc.GetOrCreate(ctx, companyID, userID)
	require.NoError(t, err)
	assert.Equal(t, stepD, rec.CurrentStep)
}

func TestService_SkipDefaultReason(t *testing.T) {
	svc := newTestService(t, NewMemoryRepository())
	rec, err := svc.Skip(context.Background(), uuid.New(), uuid.New(), stepB, "")
	require.NoError(t, err)

	entry := rec.StepData.Entry(stepB)
	assert.True(t, entry.Skipped)
	assert.Equal(t, DefaultSkipReason, entry.SkipReason)
	assert.NotNil(t, entry.SkippedAt)
	assert.True(t, rec.StepsCompleted.Contains(stepB))
}

func TestService_ProgressNeverDecreasesWithoutReset(t *testing.T) {
	ctx := context.Background()
	companyID, userID := uuid.New(), uuid.New()
	svc := newTestService(t, NewMemoryRepository())

	last := 0
	for _, step := range []Step{stepC, stepA, stepC, stepB, stepB, stepD} {
		rec, err := svc.Advance(ctx, companyID, userID, step, nil)
		require.NoError(t, err)
		progress := testRegistry.ProgressPercent(rec.StepsCompleted)
		assert.GreaterOrEqual(t, progress, last)
		last = progress
	}
	assert.Equal(t, 100, last)
}

func TestService_ConcurrentCompletionNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	companyID, userID := uuid.New(), uuid.New()
	completer := new(MockCompanyCompleter)
	completer.On("MarkOnboardingComplete", mock.Anything, companyID).Return(nil)
	svc := newTestService(t, NewMemoryRepository(), WithCompanyCompleter(completer))

	_, err := svc.GetOrCreate(ctx, companyID, userID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Advance(ctx, companyID, userID, stepD, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	completer.AssertNumberOfCalls(t, "MarkOnboardingComplete", 1)
}

func TestService_ResetCreatesMissingRecord(t *testing.T) {
	emitter := &recordingEmitter{}
	svc := newTestService(t, NewMemoryRepository(), WithEmitter(emitter))

	rec, err := svc.Reset(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, stepA, rec.CurrentStep)
	assert.Empty(t, rec.StepsCompleted)
	assert.Equal(t, []string{EventOnboardingStarted, EventOnboardingReset}, emitter.names())
}

func TestService_TracksClientInfo(t *testing.T) {
	emitter := &recordingEmitter{}
	svc := newTestService(t, NewMemoryRepository(), WithEmitter(emitter))
	ctx := WithClientInfo(context.Background(), ClientInfo{SessionID: "s-1", UserAgent: "test", IPAddress: "10.0.0.1"})

	_, err := svc.Skip(ctx, uuid.New(), uuid.New(), stepB, "later")
	require.NoError(t, err)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	last := emitter.events[len(emitter.events)-1]
	assert.Equal(t, EventStepSkipped, last.Name)
	assert.Equal(t, "s-1", last.SessionID)
	assert.Equal(t, "10.0.0.1", last.IPAddress)
	assert.Equal(t, "later", last.Data["skip_reason"])
}

func TestService_PlanSelectionRecordsHistory(t *testing.T) {
	ctx := context.Background()
	companyID, userID := uuid.New(), uuid.New()

	plans := new(MockPlanRecorder)
	plans.On("RecordPlanChange", mock.Anything, companyID, "pro", PlanChangeInitialSelection, userID, map[string]any{
		"selection_method": "onboarding",
		"plan_name":        "Pro",
		"billing_cycle":    "yearly",
	}).Return(nil).Once()
	svc := newTestService(t, NewMemoryRepository(), WithRegistry(DefaultRegistry), WithPlanRecorder(plans))

	_, err := svc.Advance(ctx, companyID, userID, StepPlanSelection, Payload{
		"plan_id":       "pro",
		"plan_name":     "Pro",
		"billing_cycle": "yearly",
	})
	require.NoError(t, err)

	// no plan id, a skip and other steps leave the history alone
	_, err = svc.Advance(ctx, companyID, userID, StepPlanSelection, Payload{"billing_cycle": "monthly"})
	require.NoError(t, err)
	_, err = svc.Skip(ctx, companyID, userID, StepPlanSelection, "")
	require.NoError(t, err)
	_, err = svc.Advance(ctx, companyID, userID, StepCompanySetup, Payload{"company_name": "Acme"})
	require.NoError(t, err)

	plans.AssertExpectations(t)
}

func TestService_PlanHistoryFailureNotPropagated(t *testing.T) {
	ctx := context.Background()
	companyID, userID := uuid.New(), uuid.New()

	plans := new(MockPlanRecorder)
	plans.On("RecordPlanChange", mock.Anything, companyID, "basic", PlanChangeInitialSelection, userID, mock.Anything).
		Return(errors.New("history table missing"))
	svc := newTestService(t, NewMemoryRepository(), WithRegistry(DefaultRegistry), WithPlanRecorder(plans))

	rec, err := svc.Advance(ctx, companyID, userID, StepPlanSelection, Payload{"plan_id": "basic"})
	require.NoError(t, err)
	assert.Equal(t, StepPlanSelection, rec.CurrentStep)
	plans.AssertExpectations(t)
}

func TestService_SendWelcomeEmail(t *testing.T) {
	ctx := WithClientInfo(context.Background(), ClientInfo{SessionID: "sess-1"})
	companyID, userID := uuid.New(), uuid.New()
	emitter := &recordingEmitter{}
	svc := newTestService(t, NewMemoryRepository(), WithEmitter(emitter))

	vars := map[string]any{"first_name": "Ana"}
	require.NoError(t, svc.SendWelcomeEmail(ctx, companyID, userID, "", vars))

	require.Equal(t, []string{EventEmailSent}, emitter.names())
	event := emitter.events[0]
	assert.Equal(t, userID, event.UserID)
	assert.Equal(t, DefaultWelcomeTemplate, event.Data["template"])
	assert.Equal(t, vars, event.Data["variables"])
	assert.Equal(t, "sess-1", event.SessionID)

	emitter.err = errors.New("analytics down")
	err := svc.SendWelcomeEmail(ctx, companyID, userID, "welcome_admin", nil)
	assert.True(t, errors.Is(err, emitter.err))
}
