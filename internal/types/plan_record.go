package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ComputedTargets is the immutable output of one metrics-engine run. A new
// value is produced on every computation; records never mutate one in place.
type ComputedTargets struct {
	BMR                 int        `json:"bmr"`
	TDEE                int        `json:"tdee"`
	CalorieTarget       int        `json:"calorie_target"`
	ProteinTargetG      int        `json:"protein_target_g"`
	WaterTargetMl       int        `json:"water_target_ml"`
	WeeklyRateKg        float64    `json:"weekly_rate_kg"`
	EstimatedWeeks      *int       `json:"estimated_weeks,omitempty"`
	ProjectedDate       *time.Time `json:"projected_date,omitempty"`
	CalorieFloorApplied bool       `json:"calorie_floor_applied,omitempty"`
}

// PlanRecord is the persisted result of the latest computation for a user.
// PlanService is the only writer.
type PlanRecord struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID          uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	ComputedAt      time.Time      `gorm:"column:computed_at;not null" json:"computed_at"`
	Targets         datatypes.JSON `gorm:"type:jsonb;column:targets;not null" json:"targets"`
	PreviousTargets datatypes.JSON `gorm:"type:jsonb;column:previous_targets" json:"previous_targets,omitempty"`
	Recomputed      bool           `gorm:"column:recomputed;not null;default:false" json:"recomputed"`
	Version         int            `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (PlanRecord) TableName() string { return "plan_record" }

func (r *PlanRecord) SetTargets(t ComputedTargets) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	r.Targets = datatypes.JSON(raw)
	return nil
}

func (r *PlanRecord) DecodeTargets() (ComputedTargets, error) {
	var t ComputedTargets
	if len(r.Targets) == 0 {
		return t, nil
	}
	err := json.Unmarshal(r.Targets, &t)
	return t, err
}

func (r *PlanRecord) SetPreviousTargets(t ComputedTargets) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	r.PreviousTargets = datatypes.JSON(raw)
	return nil
}

func (r *PlanRecord) DecodePreviousTargets() (*ComputedTargets, error) {
	if len(r.PreviousTargets) == 0 {
		return nil, nil
	}
	var t ComputedTargets
	if err := json.Unmarshal(r.PreviousTargets, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
