package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell-backend/internal/dispatch"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
	"github.com/inkwell-ai/inkwell-backend/internal/queue"
	"github.com/inkwell-ai/inkwell-backend/internal/store"
)

// QueueStepHandler is the internal endpoint the queue deliverer pushes step
// tasks at. The response status is the queue protocol: 2xx acknowledges, 404
// and 410 drop the task, anything else redelivers.
type QueueStepHandler struct {
	dispatcher *dispatch.Dispatcher
	log        *logger.Logger
}

func NewQueueStepHandler(d *dispatch.Dispatcher, baseLog *logger.Logger) *QueueStepHandler {
	return &QueueStepHandler{dispatcher: d, log: baseLog.With("handler", "QueueStep")}
}

type stepRequest struct {
	JobID     uuid.UUID `json:"job_id" binding:"required"`
	StepIndex *int      `json:"step_index" binding:"required"`
}

// POST /internal/queue/step
func (h *QueueStepHandler) RunStep(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Malformed messages can never succeed; tell the queue to drop.
		RespondError(c, http.StatusGone, "invalid_step_message", err)
		return
	}

	err := h.dispatcher.RunStep(c.Request.Context(), req.JobID, *req.StepIndex)
	switch {
	case err == nil:
		RespondOK(c, gin.H{"ok": true})
	case errors.Is(err, store.ErrNotFound):
		RespondError(c, http.StatusNotFound, "job_not_found", err)
	case errors.Is(err, dispatch.ErrInvalidState):
		RespondError(c, http.StatusGone, "invalid_state", err)
	case errors.Is(err, dispatch.ErrLockConflict):
		RespondError(c, http.StatusConflict, "lock_conflict", err)
	default:
		// The step failed and the job is already marked failed; the 500 is for
		// queue-side visibility. Redelivery bounces off the terminal check.
		h.log.Error("step execution failed", "job_id", req.JobID, "step_index", *req.StepIndex, "error", err)
		RespondError(c, http.StatusInternalServerError, "step_failed", err)
	}
}

// QueueAuth verifies the bearer token the queue deliverer signs. Only the
// internal step endpoint sits behind it.
func QueueAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			RespondError(c, http.StatusUnauthorized, "missing_token", errors.New("missing bearer token"))
			c.Abort()
			return
		}
		if err := queue.VerifyToken(secret, token); err != nil {
			RespondError(c, http.StatusUnauthorized, "invalid_token", err)
			c.Abort()
			return
		}
		c.Next()
	}
}
