package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vitalloop/metabolic-backend/internal/requestdata"
	"github.com/vitalloop/metabolic-backend/internal/services"
	"github.com/vitalloop/metabolic-backend/internal/types"
)

type ProfileHandler struct {
	profiles services.ProfileService
}

func NewProfileHandler(profiles services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// GET /api/profile
func (h *ProfileHandler) Get(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing identity"))
		return
	}
	profile, err := h.profiles.Get(c.Request.Context(), rd.UserID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "profile_fetch_failed", err)
		return
	}
	if profile == nil {
		RespondError(c, http.StatusNotFound, "profile_not_found", errors.New("no profile for user"))
		return
	}
	RespondOK(c, gin.H{"profile": profile})
}

type upsertProfileRequest struct {
	Age            int        `json:"age" binding:"required,min=1"`
	Sex            string     `json:"sex" binding:"required,oneof=male female other"`
	WeightKg       float64    `json:"weight_kg" binding:"required,gt=0"`
	HeightCm       float64    `json:"height_cm" binding:"required,gt=0"`
	ActivityLevel  string     `json:"activity_level" binding:"required,oneof=sedentary light moderate active very_active"`
	Goal           string     `json:"goal" binding:"required,oneof=lose_weight gain_muscle maintain"`
	TargetWeightKg *float64   `json:"target_weight_kg" binding:"omitempty,gt=0"`
	TargetDate     *time.Time `json:"target_date"`
}

// PUT /api/profile
func (h *ProfileHandler) Upsert(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing identity"))
		return
	}

	var req upsertProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	profile, err := h.profiles.Upsert(c.Request.Context(), rd.UserID, services.UpsertProfileInput{
		Age:            req.Age,
		Sex:            types.Sex(req.Sex),
		WeightKg:       req.WeightKg,
		HeightCm:       req.HeightCm,
		ActivityLevel:  types.ActivityLevel(req.ActivityLevel),
		Goal:           types.Goal(req.Goal),
		TargetWeightKg: req.TargetWeightKg,
		TargetDate:     req.TargetDate,
	})
	if err != nil {
		if errors.Is(err, services.ErrProfileIncomplete) {
			RespondError(c, http.StatusBadRequest, "profile_incomplete", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "profile_save_failed", err)
		return
	}

	RespondOK(c, gin.H{"profile": profile})
}
