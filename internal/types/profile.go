package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Profile is owned by the user-settings collaborator; the plan core only
// reads it. Weight/height are metric (kg/cm).
type Profile struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	User           *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	Age            int            `gorm:"column:age;not null" json:"age"`
	Sex            Sex            `gorm:"column:sex;not null" json:"sex"`
	WeightKg       float64        `gorm:"column:weight_kg;not null" json:"weight_kg"`
	HeightCm       float64        `gorm:"column:height_cm;not null" json:"height_cm"`
	ActivityLevel  ActivityLevel  `gorm:"column:activity_level;not null" json:"activity_level"`
	Goal           Goal           `gorm:"column:goal;not null" json:"goal"`
	TargetWeightKg *float64       `gorm:"column:target_weight_kg" json:"target_weight_kg,omitempty"`
	TargetDate     *time.Time     `gorm:"column:target_date" json:"target_date,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Profile) TableName() string { return "profile" }

// Complete reports whether every field the metrics engine requires is set.
func (p *Profile) Complete() bool {
	if p == nil {
		return false
	}
	return p.Age >= 1 && p.Sex.Valid() && p.WeightKg > 0 && p.HeightCm > 0 &&
		p.ActivityLevel.Valid() && p.Goal.Valid()
}
