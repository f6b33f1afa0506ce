package settings

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type prefsKey struct {
	companyID uuid.UUID
	userID    uuid.UUID
}

// MemoryRepository keeps preferences in process memory
type MemoryRepository struct {
	mu    sync.RWMutex
	prefs map[prefsKey]NotificationPreferences
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{prefs: make(map[prefsKey]NotificationPreferences)}
}

func (r *MemoryRepository) GetNotifications(ctx context.Context, companyID, userID uuid.UUID) (*NotificationPreferences, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prefs[prefsKey{companyID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) UpsertNotifications(ctx context.Context, prefs *NotificationPreferences) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := prefsKey{prefs.CompanyID, prefs.UserID}
	stored := *prefs
	if existing, ok := r.prefs[key]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	r.prefs[key] = stored
	return nil
}
