package settings

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	settings := r.Group("/settings")
	{
		settings.GET("/notifications", h.GetNotifications)
		settings.PUT("/notifications", h.UpdateNotifications)
	}
}

func (h *Handler) GetNotifications(c *gin.Context) {
	companyID, userID, ok := identity(c)
	if !ok {
		return
	}
	prefs, err := h.service.GetNotifications(c.Request.Context(), companyID, userID)
	if err != nil {
		h.logger.Error("Failed to get notification preferences", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load preferences"})
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (h *Handler) UpdateNotifications(c *gin.Context) {
	companyID, userID, ok := identity(c)
	if !ok {
		return
	}
	var payload NotificationPreferences
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload.CompanyID = companyID
	payload.UserID = userID
	if err := h.service.UpdateNotifications(c.Request.Context(), &payload); err != nil {
		h.logger.Error("Failed to update notification preferences", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update preferences"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func identity(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	companyID, err := uuid.Parse(c.GetHeader("X-Company-ID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or missing X-Company-ID"})
		return uuid.Nil, uuid.Nil, false
	}
	userID, err := uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or missing X-User-ID"})
		return uuid.Nil, uuid.Nil, false
	}
	return companyID, userID, true
}
