package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/vitalloop/metabolic-backend/internal/types"
)

// InvalidInputError marks out-of-domain numeric input. It is never retried;
// callers surface it directly.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
}

// activityMultipliers is the single source of truth for valid activity
// levels and their TDEE scaling.
var activityMultipliers = map[types.ActivityLevel]float64{
	types.ActivitySedentary:  1.2,
	types.ActivityLight:      1.375,
	types.ActivityModerate:   1.55,
	types.ActivityActive:     1.725,
	types.ActivityVeryActive: 1.9,
}

const (
	sexOffsetMale   = 5.0
	sexOffsetFemale = -161.0
	// Arithmetic mean of the male and female offsets.
	sexOffsetOther = (sexOffsetMale + sexOffsetFemale) / 2
)

type Config struct {
	CalorieFloor     int
	WeeklyRateLoseKg float64
	WeeklyRateGainKg float64
}

func DefaultConfig() Config {
	return Config{
		CalorieFloor:     1200,
		WeeklyRateLoseKg: -0.5,
		WeeklyRateGainKg: 0.4,
	}
}

// BMR computes basal metabolic rate via Mifflin-St Jeor, rounded to the
// nearest kcal.
func BMR(weightKg, heightCm float64, age int, sex types.Sex) (int, error) {
	if weightKg <= 0 {
		return 0, &InvalidInputError{Field: "weight_kg", Reason: "must be positive"}
	}
	if heightCm <= 0 {
		return 0, &InvalidInputError{Field: "height_cm", Reason: "must be positive"}
	}
	if age < 1 {
		return 0, &InvalidInputError{Field: "age", Reason: "must be at least 1"}
	}
	var offset float64
	switch sex {
	case types.SexMale:
		offset = sexOffsetMale
	case types.SexFemale:
		offset = sexOffsetFemale
	case types.SexOther:
		offset = sexOffsetOther
	default:
		return 0, &InvalidInputError{Field: "sex", Reason: "unknown value"}
	}
	bmr := 10*weightKg + 6.25*heightCm - 5*float64(age) + offset
	return int(math.Round(bmr)), nil
}

// TDEE scales BMR by the activity multiplier, rounded to the nearest kcal.
func TDEE(bmr int, level types.ActivityLevel) (int, error) {
	mult, ok := activityMultipliers[level]
	if !ok {
		return 0, &InvalidInputError{Field: "activity_level", Reason: "unknown value"}
	}
	return int(math.Round(float64(bmr) * mult)), nil
}

// CalorieTarget applies the goal adjustment and clamps to the safety floor.
// Clamping is reported, not an error.
func CalorieTarget(tdee int, goal types.Goal, floor int) (target int, clamped bool, err error) {
	switch goal {
	case types.GoalLoseWeight:
		target = tdee - 500
	case types.GoalGainMuscle:
		target = tdee + 400
	case types.GoalMaintain:
		target = tdee
	default:
		return 0, false, &InvalidInputError{Field: "goal", Reason: "unknown value"}
	}
	if target < floor {
		return floor, true, nil
	}
	return target, false, nil
}

// ProteinTarget returns grams/day, rounded to the nearest gram.
func ProteinTarget(weightKg float64, goal types.Goal) (int, error) {
	if weightKg <= 0 {
		return 0, &InvalidInputError{Field: "weight_kg", Reason: "must be positive"}
	}
	var factor float64
	switch goal {
	case types.GoalLoseWeight:
		factor = 2.2
	case types.GoalGainMuscle:
		factor = 2.4
	case types.GoalMaintain:
		factor = 2.0
	default:
		return 0, &InvalidInputError{Field: "goal", Reason: "unknown value"}
	}
	return int(math.Round(weightKg * factor)), nil
}

// WaterTarget returns ml/day at 35 ml per kg, rounded to the nearest 100 ml
// with ties rounding up.
func WaterTarget(weightKg float64) (int, error) {
	if weightKg <= 0 {
		return 0, &InvalidInputError{Field: "weight_kg", Reason: "must be positive"}
	}
	raw := weightKg * 35
	return int(math.Round(raw/100)) * 100, nil
}

// Projection estimates weeks and completion date for reaching targetKg at
// weeklyRateKg. The maintenance case (zero rate or already at target)
// returns absent values, not an error.
func Projection(currentKg, targetKg, weeklyRateKg float64, now time.Time) (estimatedWeeks *int, projectedDate *time.Time) {
	if weeklyRateKg == 0 || currentKg == targetKg {
		return nil, nil
	}
	weeks := int(math.Ceil(math.Abs(currentKg-targetKg) / math.Abs(weeklyRateKg)))
	date := now.AddDate(0, 0, weeks*7)
	return &weeks, &date
}

// Compute assembles ComputedTargets for a full profile. Deterministic for a
// fixed profile, config and clock.
func Compute(p *types.Profile, cfg Config, now time.Time) (types.ComputedTargets, error) {
	var out types.ComputedTargets

	bmr, err := BMR(p.WeightKg, p.HeightCm, p.Age, p.Sex)
	if err != nil {
		return out, err
	}
	tdee, err := TDEE(bmr, p.ActivityLevel)
	if err != nil {
		return out, err
	}
	calories, clamped, err := CalorieTarget(tdee, p.Goal, cfg.CalorieFloor)
	if err != nil {
		return out, err
	}
	protein, err := ProteinTarget(p.WeightKg, p.Goal)
	if err != nil {
		return out, err
	}
	water, err := WaterTarget(p.WeightKg)
	if err != nil {
		return out, err
	}

	var rate float64
	switch p.Goal {
	case types.GoalLoseWeight:
		rate = cfg.WeeklyRateLoseKg
	case types.GoalGainMuscle:
		rate = cfg.WeeklyRateGainKg
	case types.GoalMaintain:
		rate = 0
	}

	out = types.ComputedTargets{
		BMR:                 bmr,
		TDEE:                tdee,
		CalorieTarget:       calories,
		ProteinTargetG:      protein,
		WaterTargetMl:       water,
		WeeklyRateKg:        rate,
		CalorieFloorApplied: clamped,
	}
	if p.TargetWeightKg != nil {
		out.EstimatedWeeks, out.ProjectedDate = Projection(p.WeightKg, *p.TargetWeightKg, rate, now)
	}
	return out, nil
}
