package handlers

import (
	"errors"
	"net/http"
	"time"

	"kast/internal/middleware"
	"kast/internal/repository"
	"kast/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const callbackPath = "/api/auth/neynar/callback"

type AuthHandler struct {
	hub     services.HubClient
	pending services.SessionStore
	users   repository.UserRepository
	baseURL string
	logger  *zap.Logger
}

func NewAuthHandler(hub services.HubClient, pending services.SessionStore, users repository.UserRepository, baseURL string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{hub: hub, pending: pending, users: users, baseURL: baseURL, logger: logger.Named("auth")}
}

// Callback GET /api/auth/neynar/callback?code=&state=
func (h *AuthHandler) Callback(c *gin.Context) {
	if c.Query("error") != "" {
		RespondError(c, http.StatusBadRequest, "Authentication failed")
		return
	}
	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		RespondError(c, http.StatusBadRequest, "Missing required parameters")
		return
	}

	ctx := c.Request.Context()
	profile, err := h.hub.ExchangeAuthCode(ctx, code, h.baseURL+callbackPath)
	if err != nil {
		h.logger.Warn("auth code exchange failed", zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "Authentication failed")
		return
	}

	if err := h.pending.Put(ctx, state, services.AuthSession{User: *profile, CreatedAt: time.Now()}); err != nil {
		h.logger.Error("failed to store auth session", zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "Authentication failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "nonce": state})
}

// Status GET /api/auth/neynar/status?nonce= 取回登录结果，只能取一次
func (h *AuthHandler) Status(c *gin.Context) {
	nonce := c.Query("nonce")
	if nonce == "" {
		RespondError(c, http.StatusBadRequest, "Missing nonce parameter")
		return
	}

	ctx := c.Request.Context()
	pending, err := h.pending.Take(ctx, nonce)
	if errors.Is(err, services.ErrSessionNotFound) {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Authentication pending"})
		return
	}
	if err != nil {
		fail(c, err, "Failed to check authentication status")
		return
	}

	// 登录成功：同步本地用户并写入会话
	user := services.UserFromProfile(&pending.User)
	if err := h.users.UpsertByFID(ctx, user); err != nil {
		h.logger.Error("failed to upsert signed-in user", zap.String("fid", pending.User.FID), zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "Failed to check authentication status")
		return
	}
	session := sessions.Default(c)
	session.Set(middleware.SessionUserID, user.ID)
	if err := session.Save(); err != nil {
		h.logger.Error("failed to save session", zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "Failed to check authentication status")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": pending.User, "account": user})
}

// Session GET /api/auth/session
func (h *AuthHandler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": middleware.CurrentUser(c)})
}

// Refresh POST /api/auth/session 重新签发 cookie，延长有效期
func (h *AuthHandler) Refresh(c *gin.Context) {
	session := sessions.Default(c)
	session.Set("refreshed_at", time.Now().Unix())
	if err := session.Save(); err != nil {
		h.logger.Error("failed to refresh session", zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "Session refresh failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": middleware.CurrentUser(c), "message": "Session refreshed"})
}

// Logout DELETE /api/auth/session
func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		h.logger.Error("failed to clear session", zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "Logout failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out successfully"})
}
