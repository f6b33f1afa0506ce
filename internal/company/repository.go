package company

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNotFound is returned when the company does not exist
var ErrNotFound = errors.New("company not found")

// Repository handles company persistence
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository creates a new company repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// AutoMigrate creates or updates the company tables
func (r *Repository) AutoMigrate() error {
	if err := r.db.AutoMigrate(&Company{}, &CompanyActivity{}, &SubscriptionHistory{}); err != nil {
		return fmt.Errorf("failed to migrate company tables: %w", err)
	}
	return nil
}

// first loads a company inside tx
func first(tx *gorm.DB, id uuid.UUID) (*Company, error) {
	var c Company
	err := tx.First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &c, nil
}

// MarkOnboardingComplete flags the company as onboarded and logs the activity.
// Companies already flagged keep their original completion time.
func (r *Repository) MarkOnboardingComplete(ctx context.Context, id uuid.UUID) error {
	now := r.now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Company{}).
			Where("id = ? AND onboarding_completed = ?", id, false).
			Updates(map[string]interface{}{
				"onboarding_completed":    true,
				"onboarding_completed_at": now,
				"setup_wizard_completed":  true,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark company onboarding complete: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Either already onboarded or missing.
			_, err := first(tx, id)
			return err
		}

		activity := &CompanyActivity{
			ID:           uuid.New(),
			CompanyID:    id,
			ActivityType: ActivityOnboardingCompleted,
			Description:  "Company finished onboarding",
			CreatedAt:    now,
		}
		if err := tx.Create(activity).Error; err != nil {
			return fmt.Errorf("failed to log company activity: %w", err)
		}
		return nil
	})
}

// RecordPlanChange moves the company to planID and appends the change to its
// subscription history.
func (r *Repository) RecordPlanChange(ctx context.Context, id uuid.UUID, planID, reason string, createdBy uuid.UUID, metadata map[string]any) error {
	now := r.now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := first(tx, id)
		if err != nil {
			return err
		}

		var previous *string
		if c.PlanID != "" {
			p := c.PlanID
			previous = &p
		}
		meta := datatypes.JSONMap{}
		for k, v := range metadata {
			meta[k] = v
		}
		meta["changed_at"] = now.Format(time.RFC3339)

		history := &SubscriptionHistory{
			ID:             uuid.New(),
			CompanyID:      id,
			PlanID:         planID,
			PreviousPlanID: previous,
			ChangeReason:   reason,
			CreatedBy:      createdBy,
			Metadata:       meta,
			CreatedAt:      now,
		}
		if err := tx.Create(history).Error; err != nil {
			return fmt.Errorf("failed to record plan change: %w", err)
		}
		if err := tx.Model(&Company{}).Where("id = ?", id).Update("plan_id", planID).Error; err != nil {
			return fmt.Errorf("failed to update company plan: %w", err)
		}

		activity := &CompanyActivity{
			ID:           uuid.New(),
			CompanyID:    id,
			ActivityType: ActivityPlanChanged,
			Description:  "Plan changed to " + planID,
			CreatedAt:    now,
		}
		if err := tx.Create(activity).Error; err != nil {
			return fmt.Errorf("failed to log company activity: %w", err)
		}
		return nil
	})
}
