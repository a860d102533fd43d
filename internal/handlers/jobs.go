package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vitalloop/metabolic-backend/internal/services"
)

type JobsHandler struct {
	recompute services.RecomputeService
}

func NewJobsHandler(recompute services.RecomputeService) *JobsHandler {
	return &JobsHandler{recompute: recompute}
}

// POST /api/jobs/recompute-all
func (h *JobsHandler) TriggerRecompute(c *gin.Context) {
	run, err := h.recompute.Trigger(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrJobAlreadyRunning) {
			// Idempotent no-op: the caller gets the live run.
			c.JSON(http.StatusConflict, gin.H{
				"run":   run,
				"error": gin.H{"code": "job_already_running", "message": err.Error()},
			})
			return
		}
		RespondError(c, http.StatusInternalServerError, "job_trigger_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

// GET /api/jobs/recompute-all/status
func (h *JobsHandler) RecomputeStatus(c *gin.Context) {
	run, err := h.recompute.Status(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_status_failed", err)
		return
	}
	if run == nil {
		RespondError(c, http.StatusNotFound, "no_runs", errors.New("no recompute run has executed"))
		return
	}
	RespondOK(c, gin.H{"run": run})
}
