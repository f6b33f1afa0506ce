package onboarding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func newTestReminders(t *testing.T, repo Repository, emitter Emitter, clock *testClock) *ReminderScheduler {
	t.Helper()
	cfg := DefaultReminderConfig()
	cfg.Clock = clock.Now
	return NewReminderScheduler(repo, emitter, zaptest.NewLogger(t), cfg)
}

func seedStalled(t *testing.T, repo *MemoryRepository) (stalled []*Record) {
	t.Helper()
	ctx := context.Background()
	for _, age := range []time.Duration{100 * time.Hour, 80 * time.Hour, time.Hour} {
		rec := newRecord(uuid.New(), uuid.New(), testNow.Add(-age))
		_, _, err := repo.Create(ctx, rec)
		require.NoError(t, err)
		if age > 72*time.Hour {
			stalled = append(stalled, rec)
		}
	}
	return stalled
}

func TestReminders_RunOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	stalled := seedStalled(t, repo)
	emitter := &recordingEmitter{}
	clock := newTestClock(0)
	s := newTestReminders(t, repo, emitter, clock)

	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, emitter.count(EventOnboardingStalled))
	assert.Equal(t, stalled[0].CompanyID, emitter.events[0].CompanyID)
	assert.Equal(t, 100, emitter.events[0].Data["inactive_hours"])

	// the same records are not reminded again inside the window
	n, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// once the window has passed the still stalled records are reminded again
	clock.Advance(25 * time.Hour)
	n, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReminders_BatchesDoNotStarveLaterRecords(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	var stalled []*Record
	for _, age := range []time.Duration{100 * time.Hour, 90 * time.Hour, 80 * time.Hour} {
		rec := newRecord(uuid.New(), uuid.New(), testNow.Add(-age))
		_, _, err := repo.Create(ctx, rec)
		require.NoError(t, err)
		stalled = append(stalled, rec)
	}
	emitter := &recordingEmitter{}
	clock := newTestClock(0)
	s := newTestReminders(t, repo, emitter, clock)
	s.config.BatchSize = 2

	var counts []int
	for i := 0; i < 5; i++ {
		n, err := s.RunOnce(ctx)
		require.NoError(t, err)
		counts = append(counts, n)
		clock.Advance(time.Hour)
	}

	assert.Equal(t, []int{2, 1, 0, 0, 0}, counts)
	require.Equal(t, 3, emitter.count(EventOnboardingStalled))
	assert.Equal(t, stalled[2].CompanyID, emitter.events[2].CompanyID)
}

func TestReminders_MarkFailureStillCounts(t *testing.T) {
	rec := newRecord(uuid.New(), uuid.New(), testNow.Add(-100*time.Hour))
	repo := new(MockRepository)
	repo.On("ListStalled", mock.Anything, mock.Anything, mock.Anything, 100).Return([]*Record{rec}, nil)
	repo.On("MarkReminded", mock.Anything, rec.ID, mock.Anything).Return(errors.New("db down"))
	emitter := &recordingEmitter{}
	s := newTestReminders(t, repo, emitter, newTestClock(0))

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, emitter.count(EventOnboardingStalled))
	repo.AssertExpectations(t)
}

func TestReminders_FailedEmitRetries(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedStalled(t, repo)
	emitter := &recordingEmitter{err: errors.New("analytics down")}
	s := newTestReminders(t, repo, emitter, newTestClock(0))

	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	emitter.err = nil
	n, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReminders_StoreError(t *testing.T) {
	repo := new(MockRepository)
	storeErr := errors.New("db down")
	repo.On("ListStalled", mock.Anything, mock.Anything, mock.Anything, 100).Return(nil, storeErr)
	s := newTestReminders(t, repo, &recordingEmitter{}, newTestClock(0))

	_, err := s.RunOnce(context.Background())
	assert.True(t, errors.Is(err, storeErr))
	repo.AssertExpectations(t)
}

func TestReminders_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newTestReminders(t, NewMemoryRepository(), &recordingEmitter{}, newTestClock(0))
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}

func TestReminders_InvalidSchedule(t *testing.T) {
	cfg := DefaultReminderConfig()
	cfg.Schedule = "not a schedule"
	s := NewReminderScheduler(NewMemoryRepository(), &recordingEmitter{}, zaptest.NewLogger(t), cfg)
	assert.Error(t, s.Start(context.Background()))
}
