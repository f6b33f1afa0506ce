package onboarding

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pairKey struct {
	companyID uuid.UUID
	userID    uuid.UUID
}

// MemoryRepository is an in-process Repository with the same merge semantics as
// PostgresRepository. It backs local development and tests.
type MemoryRepository struct {
	mu       sync.Mutex
	records  map[pairKey]*Record
	reminded map[uuid.UUID]time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:  make(map[pairKey]*Record),
		reminded: make(map[uuid.UUID]time.Time),
	}
}

func (r *MemoryRepository) Fetch(ctx context.Context, companyID, userID uuid.UUID) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[pairKey{companyID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *MemoryRepository) Create(ctx context.Context, rec *Record) (*Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey{rec.CompanyID, rec.UserID}
	if existing, ok := r.records[key]; ok {
		return existing.Clone(), false, nil
	}
	stored := rec.Clone()
	if stored.StepData == nil {
		stored.StepData = StepData{}
	}
	r.records[key] = stored
	return stored.Clone(), true, nil
}

func (r *MemoryRepository) Update(ctx context.Context, companyID, userID uuid.UUID, update RecordUpdate) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[pairKey{companyID, userID}]
	if !ok {
		return nil, ErrNotFound
	}

	if rec.CompletedAt == nil || update.ClearCompletedAt {
		rec.CurrentStep = update.CurrentStep
	}
	if update.ClearSteps {
		rec.StepsCompleted = StepList{}
	}
	rec.StepsCompleted = rec.StepsCompleted.Union(update.AddSteps...)
	if rec.StepData == nil {
		rec.StepData = StepData{}
	}
	for key, entry := range update.StepData {
		entry.Data = entry.Data.clone()
		rec.StepData[key] = entry
	}
	rec.LastActivityAt = update.LastActivityAt
	switch {
	case update.ClearCompletedAt:
		rec.CompletedAt = nil
	case rec.CompletedAt == nil && update.CompletedAt != nil:
		t := *update.CompletedAt
		rec.CompletedAt = &t
	}
	return rec.Clone(), nil
}

func (r *MemoryRepository) ListStalled(ctx context.Context, inactiveSince, remindedBefore time.Time, limit int) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Record
	for _, rec := range r.records {
		if rec.CompletedAt != nil || !rec.LastActivityAt.Before(inactiveSince) {
			continue
		}
		if at, ok := r.reminded[rec.ID]; ok && !at.Before(remindedBefore) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.Before(out[j].LastActivityAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.ID == id {
			r.reminded[id] = at
			return nil
		}
	}
	return ErrNotFound
}
