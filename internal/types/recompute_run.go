package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// SignificantUpdate records one user whose recomputed targets differed
// materially from the prior record.
type SignificantUpdate struct {
	UserID          uuid.UUID `json:"user_id"`
	PrevCalorie     int       `json:"prev_calorie_target"`
	NewCalorie      int       `json:"new_calorie_target"`
	PrevProteinG    int       `json:"prev_protein_target_g"`
	NewProteinG     int       `json:"new_protein_target_g"`
	Reason          string    `json:"reason"`
}

// RecomputeRun is the audit row for one population-wide batch execution.
type RecomputeRun struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Status       RunStatus      `gorm:"column:status;not null;index" json:"status"`
	StartedAt    time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt   *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	TotalUsers   int64          `gorm:"column:total_users;not null;default:0" json:"total_users"`
	SuccessCount int64          `gorm:"column:success_count;not null;default:0" json:"success_count"`
	ErrorCount   int64          `gorm:"column:error_count;not null;default:0" json:"error_count"`
	Updates      datatypes.JSON `gorm:"type:jsonb;column:updates" json:"updates,omitempty"`
	LastError    string         `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (RecomputeRun) TableName() string { return "recompute_run" }

func (r *RecomputeRun) SetUpdates(updates []SignificantUpdate) error {
	if len(updates) == 0 {
		r.Updates = nil
		return nil
	}
	raw, err := json.Marshal(updates)
	if err != nil {
		return err
	}
	r.Updates = datatypes.JSON(raw)
	return nil
}

func (r *RecomputeRun) DecodeUpdates() ([]SignificantUpdate, error) {
	if len(r.Updates) == 0 {
		return nil, nil
	}
	var out []SignificantUpdate
	err := json.Unmarshal(r.Updates, &out)
	return out, err
}
