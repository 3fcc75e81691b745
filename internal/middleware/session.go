package middleware

import (
	"errors"
	"net/http"
	"time"

	"kast/internal/models"
	"kast/internal/repository"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const (
	SessionName    = "kast_session"
	SessionUserID  = "user_id"
	CurrentUserKey = "user"
)

// Sessions installs the signed cookie session store.
func Sessions(secret string, maxAge time.Duration, secure bool) gin.HandlerFunc {
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sessions.Sessions(SessionName, store)
}

// LoadUser retrieves the signed-in user from the session and sets it on the context.
func LoadUser(users repository.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if id, ok := session.Get(SessionUserID).(uint); ok {
			user, err := users.GetByID(c.Request.Context(), id)
			switch {
			case err == nil:
				c.Set(CurrentUserKey, user)
			case errors.Is(err, repository.ErrUserNotFound):
				// 用户已删除，清掉失效会话
				session.Delete(SessionUserID)
				_ = session.Save()
			}
		}
		c.Next()
	}
}

// AuthRequired rejects requests without a signed-in user. LoadUser must run first.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(CurrentUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}
