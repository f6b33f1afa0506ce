package settings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// InitializeDefaults seeds the default notification preferences for a new user
func (s *Service) InitializeDefaults(ctx context.Context, companyID, userID uuid.UUID) error {
	prefs := DefaultNotificationPreferences(companyID, userID)
	prefs.CreatedAt = s.now().UTC()
	prefs.UpdatedAt = prefs.CreatedAt
	if err := s.repo.UpsertNotifications(ctx, prefs); err != nil {
		return err
	}
	s.logger.Debug("Default notification preferences created",
		zap.String("company_id", companyID.String()),
		zap.String("user_id", userID.String()))
	return nil
}

// GetNotifications returns stored preferences, or the defaults when none are stored
func (s *Service) GetNotifications(ctx context.Context, companyID, userID uuid.UUID) (*NotificationPreferences, error) {
	prefs, err := s.repo.GetNotifications(ctx, companyID, userID)
	if errors.Is(err, ErrNotFound) {
		return DefaultNotificationPreferences(companyID, userID), nil
	}
	return prefs, err
}

func (s *Service) UpdateNotifications(ctx context.Context, prefs *NotificationPreferences) error {
	now := s.now().UTC()
	if prefs.CreatedAt.IsZero() {
		prefs.CreatedAt = now
	}
	prefs.UpdatedAt = now
	return s.repo.UpsertNotifications(ctx, prefs)
}
