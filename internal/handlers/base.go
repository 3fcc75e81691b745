package handlers

import (
	"errors"
	"net/http"

	"kast/internal/moderation"
	"kast/internal/repository"
	"kast/internal/services"

	"github.com/gin-gonic/gin"
)

// RespondError writes {"error": message} with the given status.
func RespondError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, moderation.ErrRuleNotFound),
		errors.Is(err, repository.ErrActionNotFound),
		errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrCastNotFound),
		errors.Is(err, services.ErrHubNotFound):
		return http.StatusNotFound
	case errors.Is(err, moderation.ErrInvalidRuleUpdate),
		errors.Is(err, moderation.ErrInvalidTimeframe),
		errors.Is(err, moderation.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrWorkerNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail maps err to a status. Server errors get the generic message so internals don't leak.
func fail(c *gin.Context, err error, message string) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		RespondError(c, code, message)
		return
	}
	RespondError(c, code, msg(err))
}

func msg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
