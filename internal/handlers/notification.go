package handlers

import (
	"net/http"

	"kast/internal/middleware"
	"kast/internal/repository"
	"kast/internal/utils"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	notifications repository.NotificationRepository
}

func NewNotificationHandler(notifications repository.NotificationRepository) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List GET /api/users/:id/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	userID := utils.ParseUintPtr(c.Param("id"))
	if userID == nil {
		RespondError(c, http.StatusBadRequest, "Invalid user ID")
		return
	}

	limit := utils.IntOrDefault(c.Query("limit"), 50, 1, 200)
	notifications, err := h.notifications.ListByUser(c.Request.Context(), *userID, limit)
	if err != nil {
		fail(c, err, "Failed to fetch notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "notifications": notifications})
}

// Mine GET /api/me/notifications
func (h *NotificationHandler) Mine(c *gin.Context) {
	user := middleware.CurrentUser(c)
	limit := utils.IntOrDefault(c.Query("limit"), 50, 1, 200)
	notifications, err := h.notifications.ListByUser(c.Request.Context(), user.ID, limit)
	if err != nil {
		fail(c, err, "Failed to fetch notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "notifications": notifications})
}
