package v1

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inventory-portal/portal-backend/internal/notifications"
	"inventory-portal/portal-backend/internal/onboarding"
	"inventory-portal/portal-backend/internal/settings"
)

// OnboardingAPI holds the onboarding API dependencies
type OnboardingAPI struct {
	Handler         *onboarding.Handler
	SettingsHandler *settings.Handler
	Service         *onboarding.Service
	Sessions        *onboarding.Sessions
	Hub             *notifications.Hub
	Repository      onboarding.Repository
}

// Dependencies are the stores the onboarding API is built on
type Dependencies struct {
	Repository onboarding.Repository
	Settings   settings.Repository
	// Emitter defaults to the log emitter when nil
	Emitter onboarding.Emitter
	// Completer is optional
	Completer onboarding.CompanyCompleter
	// Plans is optional
	Plans onboarding.PlanRecorder
}

// OnboardingConfig holds the tuning knobs for the onboarding API
type OnboardingConfig struct {
	Orchestrator onboarding.OrchestratorConfig
	SessionTTL   time.Duration
}

// SetupOnboardingAPI sets up the onboarding API with all dependencies
func SetupOnboardingAPI(deps Dependencies, cfg OnboardingConfig, logger *zap.Logger) *OnboardingAPI {
	settingsService := settings.NewService(deps.Settings, logger)

	opts := []onboarding.ServiceOption{
		onboarding.WithPreferencesInitializer(settingsService),
	}
	if deps.Emitter != nil {
		opts = append(opts, onboarding.WithEmitter(deps.Emitter))
	}
	if deps.Completer != nil {
		opts = append(opts, onboarding.WithCompanyCompleter(deps.Completer))
	}
	if deps.Plans != nil {
		opts = append(opts, onboarding.WithPlanRecorder(deps.Plans))
	}

	// Create service
	service := onboarding.NewService(deps.Repository, logger, opts...)

	// Navigation goes back in the HTTP response and out to connected websocket clients
	hub := notifications.NewHub(logger)
	navigator := onboarding.Navigators{onboarding.RedirectNavigator{}, hub}

	// Create per-user orchestrators
	sessions := onboarding.NewSessions(service, navigator, cfg.Orchestrator, cfg.SessionTTL, logger)

	return &OnboardingAPI{
		Handler:         onboarding.NewHandler(sessions, logger),
		SettingsHandler: settings.NewHandler(settingsService, logger),
		Service:         service,
		Sessions:        sessions,
		Hub:             hub,
		Repository:      deps.Repository,
	}
}

// RegisterOnboardingRoutes registers the onboarding and settings routes on the router group
func RegisterOnboardingRoutes(router *gin.RouterGroup, api *OnboardingAPI) {
	api.Handler.RegisterRoutes(router)
	api.SettingsHandler.RegisterRoutes(router)
	router.GET("/ws/onboarding", api.Hub.ServeWS)
}

// Close releases background resources and disconnects websocket clients
func (a *OnboardingAPI) Close() {
	a.Sessions.Close()
	a.Hub.Close()
}
