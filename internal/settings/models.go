package settings

import (
	"time"

	"github.com/google/uuid"
)

// NotificationPreferences holds a user's notification choices within a company
type NotificationPreferences struct {
	UserID              uuid.UUID `json:"user_id" db:"user_id"`
	CompanyID           uuid.UUID `json:"company_id" db:"company_id"`
	EmailWelcome        bool      `json:"email_welcome" db:"email_welcome"`
	EmailOnboardingTips bool      `json:"email_onboarding_tips" db:"email_onboarding_tips"`
	EmailTrialReminders bool      `json:"email_trial_reminders" db:"email_trial_reminders"`
	EmailFeatureUpdates bool      `json:"email_feature_updates" db:"email_feature_updates"`
	EmailBilling        bool      `json:"email_billing" db:"email_billing"`
	InAppNotifications  bool      `json:"in_app_notifications" db:"in_app_notifications"`
	InAppTips           bool      `json:"in_app_tips" db:"in_app_tips"`
	SMSNotifications    bool      `json:"sms_notifications" db:"sms_notifications"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultNotificationPreferences returns the preferences seeded for a new user
func DefaultNotificationPreferences(companyID, userID uuid.UUID) *NotificationPreferences {
	return &NotificationPreferences{
		UserID:              userID,
		CompanyID:           companyID,
		EmailWelcome:        true,
		EmailOnboardingTips: true,
		EmailTrialReminders: true,
		EmailFeatureUpdates: true,
		EmailBilling:        true,
		InAppNotifications:  true,
		InAppTips:           true,
		SMSNotifications:    false,
	}
}
