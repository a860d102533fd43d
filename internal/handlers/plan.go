package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vitalloop/metabolic-backend/internal/cache"
	"github.com/vitalloop/metabolic-backend/internal/engine"
	"github.com/vitalloop/metabolic-backend/internal/requestdata"
	"github.com/vitalloop/metabolic-backend/internal/services"
)

type PlanHandler struct {
	plans    services.PlanService
	fallback services.OnDemandFallback
}

func NewPlanHandler(plans services.PlanService, fallback services.OnDemandFallback) *PlanHandler {
	return &PlanHandler{plans: plans, fallback: fallback}
}

// POST /api/plans/generate
func (h *PlanHandler) Generate(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing identity"))
		return
	}

	var req struct {
		ForceRecompute bool `json:"force_recompute"`
	}
	// An empty body means a plain non-forced generate.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	record, err := h.plans.GetPlan(c.Request.Context(), rd.UserID, req.ForceRecompute)
	if err != nil {
		var invalid *engine.InvalidInputError
		switch {
		case errors.Is(err, services.ErrProfileIncomplete):
			RespondError(c, http.StatusBadRequest, "profile_incomplete", err)
		case errors.As(err, &invalid):
			RespondError(c, http.StatusBadRequest, "invalid_input", err)
		case errors.Is(err, cache.ErrComputeTimeout):
			RespondError(c, http.StatusServiceUnavailable, "compute_timeout", err)
		default:
			RespondError(c, http.StatusInternalServerError, "plan_compute_failed", err)
		}
		return
	}

	RespondOK(c, gin.H{"plan": record})
}

// GET /api/plans/today
//
// 404 is the "not yet" signal: the mobile client retries a small fixed
// number of times before surfacing an error.
func (h *PlanHandler) Today(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing identity"))
		return
	}

	record, err := h.fallback.GetOrComputeNow(c.Request.Context(), rd.UserID)
	if err != nil {
		if errors.Is(err, services.ErrNotReady) {
			RespondError(c, http.StatusNotFound, "plan_not_ready", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "plan_fetch_failed", err)
		return
	}

	RespondOK(c, gin.H{"plan": record})
}
