package handlers

import (
	"net/http"
	"time"

	"kast/internal/middleware"
	"kast/internal/models"
	"kast/internal/moderation"
	"kast/internal/repository"
	"kast/internal/utils"

	"github.com/gin-gonic/gin"
)

const (
	defaultActionsLimit = 50
	maxActionsLimit     = 500
)

type ModerationHandler struct {
	engine *moderation.Engine
	users  repository.UserRepository
}

func NewModerationHandler(engine *moderation.Engine, users repository.UserRepository) *ModerationHandler {
	return &ModerationHandler{engine: engine, users: users}
}

// Get GET /api/moderation?action=stats|rules|actions
func (h *ModerationHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	switch c.Query("action") {
	case "stats":
		timeframe := c.DefaultQuery("timeframe", "day")
		stats, err := h.engine.Stats(ctx, timeframe)
		if err != nil {
			fail(c, err, "Failed to fetch moderation data")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats, "timeframe": timeframe})

	case "rules":
		c.JSON(http.StatusOK, gin.H{"success": true, "rules": h.engine.Rules()})

	case "actions":
		limit := utils.IntOrDefault(c.Query("limit"), defaultActionsLimit, 1, maxActionsLimit)
		offset := utils.IntOrDefault(c.Query("offset"), 0, 0, 0)
		actions, total, err := h.engine.ListActions(ctx, limit, offset)
		if err != nil {
			fail(c, err, "Failed to fetch moderation data")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"actions": actions,
			"pagination": gin.H{
				"total":   total,
				"limit":   limit,
				"offset":  offset,
				"hasMore": int64(offset+limit) < total,
			},
		})

	default:
		RespondError(c, http.StatusBadRequest, "Invalid action. Use: stats, rules, or actions")
	}
}

type castData struct {
	CastHash  string    `json:"castHash"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type moderationRequest struct {
	Action   string                 `json:"action"`
	TargetID string                 `json:"targetId"`
	UserID   string                 `json:"userId"`
	CastData *castData              `json:"castData"`
	RuleID   string                 `json:"ruleId"`
	Updates  *moderation.RuleUpdate `json:"updates"`
}

// Post POST /api/moderation {action: moderate_cast|moderate_user|update_rule}
func (h *ModerationHandler) Post(c *gin.Context) {
	var req moderationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	ctx := c.Request.Context()

	switch req.Action {
	case "moderate_cast":
		userID := utils.ParseUintPtr(req.UserID)
		if req.CastData == nil || userID == nil {
			RespondError(c, http.StatusBadRequest, "Cast data and user ID are required")
			return
		}
		user, err := h.users.GetByID(ctx, *userID)
		if err != nil {
			fail(c, err, "Moderation action failed")
			return
		}
		cast := &models.Cast{
			CastHash:    req.CastData.CastHash,
			AuthorFID:   user.FarcasterFID,
			UserID:      &user.ID,
			Text:        utils.SanitizeCastText(req.CastData.Text),
			PublishedAt: req.CastData.Timestamp,
		}
		if cast.PublishedAt.IsZero() {
			cast.PublishedAt = time.Now()
		}
		res, err := h.engine.ModerateCast(ctx, cast, user)
		if err != nil {
			fail(c, err, "Moderation action failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "result": res})

	case "moderate_user":
		userID := utils.ParseUintPtr(req.TargetID)
		if userID == nil {
			RespondError(c, http.StatusBadRequest, "User ID is required")
			return
		}
		res, err := h.engine.ModerateUser(ctx, *userID)
		if err != nil {
			fail(c, err, "Moderation action failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "result": res})

	case "update_rule":
		if req.RuleID == "" || req.Updates == nil {
			RespondError(c, http.StatusBadRequest, "Rule ID and updates are required")
			return
		}
		rule, err := h.engine.UpdateRule(ctx, req.RuleID, *req.Updates, changedBy(c))
		if err != nil {
			fail(c, err, "Moderation action failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"result":  gin.H{"success": true, "message": "Rule updated successfully", "rule": rule},
		})

	default:
		RespondError(c, http.StatusBadRequest, "Invalid action. Must be: moderate_cast, moderate_user, or update_rule")
	}
}

type manualActionRequest struct {
	ActionType string     `json:"actionType"`
	TargetType string     `json:"targetType"`
	TargetID   string     `json:"targetId"`
	Reason     string     `json:"reason"`
	Severity   string     `json:"severity"`
	ExpiresAt  *time.Time `json:"expiresAt"`
}

// Put PUT /api/moderation 执行人工处理
func (h *ModerationHandler) Put(c *gin.Context) {
	var req manualActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.ActionType == "" || req.TargetType == "" || req.TargetID == "" {
		RespondError(c, http.StatusBadRequest, "Action type, target type, and target ID are required")
		return
	}

	action, err := h.engine.RecordManualAction(c.Request.Context(), moderation.ManualAction{
		Action:     moderation.Action(req.ActionType),
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Reason:     req.Reason,
		Severity:   moderation.Severity(req.Severity),
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		fail(c, err, "Failed to execute moderation action")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"action":  action,
		"message": "Moderation action " + action.Action + " executed successfully",
	})
}

// Delete DELETE /api/moderation?actionId= removes a log entry; its effect stays.
func (h *ModerationHandler) Delete(c *gin.Context) {
	id := utils.ParseUintPtr(c.Query("actionId"))
	if id == nil {
		RespondError(c, http.StatusBadRequest, "Action ID is required")
		return
	}
	if err := h.engine.ReverseAction(c.Request.Context(), *id); err != nil {
		fail(c, err, "Failed to reverse moderation action")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Moderation action reversed successfully"})
}

func changedBy(c *gin.Context) string {
	if id, ok := c.Get(middleware.RequestIDKey); ok {
		return "admin:" + id.(string)
	}
	return "admin"
}

