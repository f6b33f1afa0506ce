package company

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Company is a tenant of the portal
type Company struct {
	ID                    uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name                  string         `gorm:"not null" json:"name"`
	OnboardingCompleted   bool           `gorm:"not null;default:false" json:"onboarding_completed"`
	OnboardingCompletedAt *time.Time     `json:"onboarding_completed_at,omitempty"`
	SetupWizardCompleted  bool           `gorm:"not null;default:false" json:"setup_wizard_completed"`
	PlanID                string         `json:"plan_id,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             gorm.DeletedAt `gorm:"index" json:"-"`
}

// CompanyActivity logs lifecycle events on the company
type CompanyActivity struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CompanyID    uuid.UUID `gorm:"type:uuid;not null;index" json:"company_id"`
	ActivityType string    `gorm:"not null" json:"activity_type"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubscriptionHistory records every plan a company moved to
type SubscriptionHistory struct {
	ID             uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CompanyID      uuid.UUID         `gorm:"type:uuid;not null;index" json:"company_id"`
	PlanID         string            `gorm:"not null" json:"plan_id"`
	PreviousPlanID *string           `json:"previous_plan_id,omitempty"`
	ChangeReason   string            `json:"change_reason"`
	CreatedBy      uuid.UUID         `gorm:"type:uuid" json:"created_by"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (SubscriptionHistory) TableName() string {
	return "subscription_history"
}

const (
	ActivityOnboardingCompleted = "ONBOARDING_COMPLETED"
	ActivityPlanChanged         = "PLAN_CHANGED"
)
