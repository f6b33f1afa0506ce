package onboarding

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	headerCompanyID      = "X-Company-ID"
	headerUserID         = "X-User-ID"
	headerSessionID      = "X-Session-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplay         = "Idempotent-Replay"

	ctxCompanyID = "onboarding_company_id"
	ctxUserID    = "onboarding_user_id"
)

// Handler handles HTTP requests for onboarding operations
type Handler struct {
	sessions *Sessions
	logger   *zap.Logger
}

// NewHandler creates a new onboarding handler
func NewHandler(sessions *Sessions, logger *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		logger:   logger,
	}
}

// RegisterRoutes registers onboarding routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	onboarding := router.Group("/onboarding", h.identify)
	{
		onboarding.GET("/status", h.getStatus)
		onboarding.GET("/steps", h.listSteps)
		onboarding.GET("/steps/:step", h.getStep)

		onboarding.POST("/complete", h.completeCurrentStep)
		onboarding.POST("/next", h.moveToNextStep)
		onboarding.POST("/goto", h.goToStep)
		onboarding.POST("/skip", h.skipStep)
		onboarding.POST("/reset", h.resetOnboarding)
		onboarding.POST("/welcome-email", h.sendWelcomeEmail)
	}
}

// StepDataRequest carries step data for complete/next
type StepDataRequest struct {
	Data Payload `json:"data"`
}

// GoToStepRequest is the body of POST /onboarding/goto
type GoToStepRequest struct {
	Step Step    `json:"step" binding:"required"`
	Data Payload `json:"data"`
}

// SkipStepRequest is the body of POST /onboarding/skip
type SkipStepRequest struct {
	Reason string `json:"reason" binding:"max=200"`
}

// WelcomeEmailRequest is the body of POST /onboarding/welcome-email
type WelcomeEmailRequest struct {
	Template  string         `json:"template" binding:"max=100"`
	Variables map[string]any `json:"variables"`
}

// TransitionResponse is returned by every command endpoint
type TransitionResponse struct {
	Status     *Status `json:"status"`
	RedirectTo string  `json:"redirect_to"`
	Replayed   bool    `json:"replayed,omitempty"`
}

// identify resolves the company/user pair and client info for the request
func (h *Handler) identify(c *gin.Context) {
	companyID, err := uuid.Parse(c.GetHeader(headerCompanyID))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid or missing " + headerCompanyID})
		return
	}
	userID, err := uuid.Parse(c.GetHeader(headerUserID))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid or missing " + headerUserID})
		return
	}

	c.Set(ctxCompanyID, companyID)
	c.Set(ctxUserID, userID)
	c.Request = c.Request.WithContext(WithClientInfo(c.Request.Context(), ClientInfo{
		SessionID: c.GetHeader(headerSessionID),
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	}))
	c.Next()
}

func (h *Handler) orchestrator(c *gin.Context) *Orchestrator {
	return h.sessions.Get(c.MustGet(ctxCompanyID).(uuid.UUID), c.MustGet(ctxUserID).(uuid.UUID))
}

// getStatus handles GET /api/v1/onboarding/status
func (h *Handler) getStatus(c *gin.Context) {
	o := h.orchestrator(c)

	var (
		status *Status
		err    error
	)
	if c.Query("refresh") == "true" {
		status, err = o.Refresh(c.Request.Context())
	} else {
		status, err = o.Status(c.Request.Context())
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// listSteps handles GET /api/v1/onboarding/steps
func (h *Handler) listSteps(c *gin.Context) {
	o := h.orchestrator(c)
	if _, err := o.Status(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"steps": o.AllStepsInfo()})
}

// getStep handles GET /api/v1/onboarding/steps/:step
func (h *Handler) getStep(c *gin.Context) {
	o := h.orchestrator(c)
	step := Step(c.Param("step"))
	if o.registry.IndexOf(step) < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown step"})
		return
	}
	if _, err := o.Status(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o.StepInfo(step))
}

// completeCurrentStep handles POST /api/v1/onboarding/complete
func (h *Handler) completeCurrentStep(c *gin.Context) {
	var req StepDataRequest
	if !h.bindOptional(c, &req) {
		return
	}
	h.runTransition(c, func(ctx context.Context, o *Orchestrator) (*Status, error) {
		return o.CompleteCurrentStep(ctx, req.Data)
	})
}

// moveToNextStep handles POST /api/v1/onboarding/next
func (h *Handler) moveToNextStep(c *gin.Context) {
	var req StepDataRequest
	if !h.bindOptional(c, &req) {
		return
	}
	h.runTransition(c, func(ctx context.Context, o *Orchestrator) (*Status, error) {
		return o.MoveToNextStep(ctx, req.Data)
	})
}

// goToStep handles POST /api/v1/onboarding/goto
func (h *Handler) goToStep(c *gin.Context) {
	var req GoToStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.runTransition(c, func(ctx context.Context, o *Orchestrator) (*Status, error) {
		return o.GoToStep(ctx, req.Step, req.Data)
	})
}

// skipStep handles POST /api/v1/onboarding/skip
func (h *Handler) skipStep(c *gin.Context) {
	var req SkipStepRequest
	if !h.bindOptional(c, &req) {
		return
	}
	h.runTransition(c, func(ctx context.Context, o *Orchestrator) (*Status, error) {
		return o.SkipStep(ctx, req.Reason)
	})
}

// resetOnboarding handles POST /api/v1/onboarding/reset
func (h *Handler) resetOnboarding(c *gin.Context) {
	h.runTransition(c, func(ctx context.Context, o *Orchestrator) (*Status, error) {
		return o.ResetOnboarding(ctx)
	})
}

// sendWelcomeEmail handles POST /api/v1/onboarding/welcome-email
func (h *Handler) sendWelcomeEmail(c *gin.Context) {
	var req WelcomeEmailRequest
	if !h.bindOptional(c, &req) {
		return
	}
	if err := h.orchestrator(c).SendWelcomeEmail(c.Request.Context(), req.Template, req.Variables); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "welcome email queued"})
}

// runTransition applies dedup, runs the action and reports where the client should go next
func (h *Handler) runTransition(c *gin.Context, action func(context.Context, *Orchestrator) (*Status, error)) {
	o := h.orchestrator(c)
	ctx, redirect := WithRedirect(c.Request.Context())

	status, err := o.Once(ctx, c.GetHeader(headerIdempotencyKey), func(ctx context.Context) (*Status, error) {
		return action(ctx, o)
	})
	if errors.Is(err, ErrDuplicateTrigger) && status != nil {
		c.Header(headerReplay, "true")
		c.JSON(http.StatusOK, TransitionResponse{
			Status:     status,
			RedirectTo: o.Route(status.CurrentStep),
			Replayed:   true,
		})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	// Reset navigates on its own; everything else lands on the current step.
	if redirect.Route() == "" {
		if navErr := o.NavigateToCurrentStep(ctx); navErr != nil {
			h.logger.Warn("Failed to resolve onboarding route", zap.Error(navErr))
		}
	}

	c.JSON(http.StatusOK, TransitionResponse{
		Status:     status,
		RedirectTo: redirect.Route(),
	})
}

// bindOptional binds a JSON body when present
func (h *Handler) bindOptional(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnknownStep), errors.Is(err, ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrTransitionInProgress), errors.Is(err, ErrAlreadyCompleted), errors.Is(err, ErrDuplicateTrigger):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Onboarding request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "onboarding operation failed"})
	}
}
