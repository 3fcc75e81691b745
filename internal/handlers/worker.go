package handlers

import (
	"context"
	"net/http"

	"kast/internal/services"

	"github.com/gin-gonic/gin"
)

type WorkerHandler struct {
	worker *services.EngagementWorker
	// appCtx bounds the scheduler started through the API; request contexts end too early.
	appCtx context.Context
}

func NewWorkerHandler(appCtx context.Context, worker *services.EngagementWorker) *WorkerHandler {
	return &WorkerHandler{worker: worker, appCtx: appCtx}
}

// Status GET /api/workers/engagement
func (h *WorkerHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  h.worker.Status(),
	})
}

type workerControlRequest struct {
	Action string `json:"action"`
}

// Control POST /api/workers/engagement {action: start|stop|trigger}
func (h *WorkerHandler) Control(c *gin.Context) {
	var req workerControlRequest
	_ = c.ShouldBindJSON(&req)

	var message string
	switch req.Action {
	case "start":
		h.worker.Start(h.appCtx)
		message = "Engagement worker started"
	case "stop":
		h.worker.Stop()
		message = "Engagement worker stopped"
	case "trigger":
		// 请求断开时周期仍需跑完
		report, err := h.worker.Trigger(context.WithoutCancel(c.Request.Context()))
		if err != nil {
			fail(c, err, "Failed to control worker")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Manual engagement processing triggered",
			"report":  report,
			"status":  h.worker.Status(),
		})
		return
	default:
		RespondError(c, http.StatusBadRequest, "Invalid action. Must be: start, stop, or trigger")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"status":  h.worker.Status(),
	})
}
