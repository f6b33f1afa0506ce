package onboarding

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Step data schemas. Every field is optional so that entering a step with no data
// is always valid; when a field is present it must satisfy its constraints.

type RegistrationData struct {
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	FullName string `json:"full_name,omitempty" validate:"omitempty,max=200"`
}

type EmailVerificationData struct {
	Email      string     `json:"email,omitempty" validate:"omitempty,email"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

type CompanySetupData struct {
	CompanyName string `json:"company_name,omitempty" validate:"omitempty,max=200"`
	TaxID       string `json:"tax_id,omitempty" validate:"omitempty,max=50"`
	Country     string `json:"country,omitempty" validate:"omitempty,iso3166_1_alpha2"`
	Currency    string `json:"currency,omitempty" validate:"omitempty,iso4217"`
	Timezone    string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

type IndustrySelectionData struct {
	Industry    string `json:"industry,omitempty" validate:"omitempty,max=100"`
	SubIndustry string `json:"sub_industry,omitempty" validate:"omitempty,max=100"`
}

type PlanSelectionData struct {
	PlanID       string `json:"plan_id,omitempty" validate:"omitempty,max=64"`
	PlanName     string `json:"plan_name,omitempty" validate:"omitempty,max=100"`
	BillingCycle string `json:"billing_cycle,omitempty" validate:"omitempty,oneof=monthly yearly"`
	TrialDays    int    `json:"trial_days,omitempty" validate:"gte=0,lte=365"`
}

type TeamInvitationData struct {
	Invitees []string `json:"invitees,omitempty" validate:"omitempty,max=100,dive,email"`
}

type FirstProductsData struct {
	ProductIDs   []string `json:"product_ids,omitempty" validate:"omitempty,dive,required"`
	ProductCount int      `json:"product_count,omitempty" validate:"gte=0"`
	Imported     bool     `json:"imported,omitempty"`
}

type WelcomeTourData struct {
	SlidesViewed  int  `json:"slides_viewed,omitempty" validate:"gte=0"`
	TourCompleted bool `json:"tour_completed,omitempty"`
}

type CompletedData struct{}

var payloadSchemas = map[Step]func() any{
	StepRegistration:      func() any { return &RegistrationData{} },
	StepEmailVerification: func() any { return &EmailVerificationData{} },
	StepCompanySetup:      func() any { return &CompanySetupData{} },
	StepIndustrySelection: func() any { return &IndustrySelectionData{} },
	StepPlanSelection:     func() any { return &PlanSelectionData{} },
	StepTeamInvitation:    func() any { return &TeamInvitationData{} },
	StepFirstProducts:     func() any { return &FirstProductsData{} },
	StepWelcomeTour:       func() any { return &WelcomeTourData{} },
	StepCompleted:         func() any { return &CompletedData{} },
}

var validate = validator.New()

// ValidatePayload checks payload against the schema registered for step. Steps with no
// schema accept any payload. Fields outside the schema are allowed and kept as-is.
func ValidatePayload(step Step, payload Payload) error {
	newSchema, ok := payloadSchemas[step]
	if !ok || len(payload) == 0 {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	target := newSchema()
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w for %s: %v", ErrInvalidPayload, step, err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("%w for %s: %v", ErrInvalidPayload, step, err)
	}
	return nil
}
