package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a user has no stored preferences
var ErrNotFound = errors.New("notification preferences not found")

type Repository interface {
	GetNotifications(ctx context.Context, companyID, userID uuid.UUID) (*NotificationPreferences, error)
	UpsertNotifications(ctx context.Context, prefs *NotificationPreferences) error
}

// Schema creates the notification_preferences table
const Schema = `
CREATE TABLE IF NOT EXISTS notification_preferences (
	user_id               UUID NOT NULL,
	company_id            UUID NOT NULL,
	email_welcome         BOOLEAN NOT NULL DEFAULT TRUE,
	email_onboarding_tips BOOLEAN NOT NULL DEFAULT TRUE,
	email_trial_reminders BOOLEAN NOT NULL DEFAULT TRUE,
	email_feature_updates BOOLEAN NOT NULL DEFAULT TRUE,
	email_billing         BOOLEAN NOT NULL DEFAULT TRUE,
	in_app_notifications  BOOLEAN NOT NULL DEFAULT TRUE,
	in_app_tips           BOOLEAN NOT NULL DEFAULT TRUE,
	sms_notifications     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, company_id)
);
`

// PostgresRepository handles all database operations for settings
type PostgresRepository struct {
	db *sqlx.DB
}

// NewRepository creates a new settings repository
func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the settings tables if missing
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create settings schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetNotifications(ctx context.Context, companyID, userID uuid.UUID) (*NotificationPreferences, error) {
	var prefs NotificationPreferences
	err := r.db.GetContext(ctx, &prefs,
		"SELECT * FROM notification_preferences WHERE company_id = $1 AND user_id = $2",
		companyID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification preferences: %w", err)
	}
	return &prefs, nil
}

func (r *PostgresRepository) UpsertNotifications(ctx context.Context, prefs *NotificationPreferences) error {
	query := `
		INSERT INTO notification_preferences (
			user_id, company_id, email_welcome, email_onboarding_tips, email_trial_reminders,
			email_feature_updates, email_billing, in_app_notifications, in_app_tips,
			sms_notifications, created_at, updated_at
		) VALUES (
			:user_id, :company_id, :email_welcome, :email_onboarding_tips, :email_trial_reminders,
			:email_feature_updates, :email_billing, :in_app_notifications, :in_app_tips,
			:sms_notifications, :created_at, :updated_at
		)
		ON CONFLICT (user_id, company_id) DO UPDATE SET
			email_welcome = EXCLUDED.email_welcome,
			email_onboarding_tips = EXCLUDED.email_onboarding_tips,
			email_trial_reminders = EXCLUDED.email_trial_reminders,
			email_feature_updates = EXCLUDED.email_feature_updates,
			email_billing = EXCLUDED.email_billing,
			in_app_notifications = EXCLUDED.in_app_notifications,
			in_app_tips = EXCLUDED.in_app_tips,
			sms_notifications = EXCLUDED.sms_notifications,
			updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, prefs); err != nil {
		return fmt.Errorf("failed to upsert notification preferences: %w", err)
	}
	return nil
}
