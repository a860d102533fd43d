package services

import (
	"fmt"
	"math"
	"time"

	"github.com/vitalloop/metabolic-backend/internal/engine"
	"github.com/vitalloop/metabolic-backend/internal/logger"
	"github.com/vitalloop/metabolic-backend/internal/types"
	"github.com/vitalloop/metabolic-backend/internal/utils"
)

// PlanConfig carries the tunables the source behavior did not pin down:
// staleness window, significance thresholds, safety floor and weekly rates.
type PlanConfig struct {
	StalenessWindow         time.Duration
	ComputeWait             time.Duration
	CalorieFloor            int
	SignificantCalorieDelta int
	SignificantPercentDelta float64
	WeeklyRateLoseKg        float64
	WeeklyRateGainKg        float64
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		StalenessWindow:         24 * time.Hour,
		ComputeWait:             10 * time.Second,
		CalorieFloor:            1200,
		SignificantCalorieDelta: 50,
		SignificantPercentDelta: 0.10,
		WeeklyRateLoseKg:        -0.5,
		WeeklyRateGainKg:        0.4,
	}
}

func PlanConfigFromEnv(log *logger.Logger) PlanConfig {
	def := DefaultPlanConfig()
	return PlanConfig{
		StalenessWindow:         utils.GetEnvAsDuration("PLAN_STALENESS_TTL", def.StalenessWindow, log),
		ComputeWait:             utils.GetEnvAsDuration("PLAN_COMPUTE_WAIT", def.ComputeWait, log),
		CalorieFloor:            utils.GetEnvAsInt("PLAN_CALORIE_FLOOR", def.CalorieFloor, log),
		SignificantCalorieDelta: utils.GetEnvAsInt("PLAN_SIGNIFICANT_KCAL", def.SignificantCalorieDelta, log),
		SignificantPercentDelta: utils.GetEnvAsFloat("PLAN_SIGNIFICANT_PCT", def.SignificantPercentDelta, log),
		WeeklyRateLoseKg:        utils.GetEnvAsFloat("PLAN_WEEKLY_RATE_LOSE", def.WeeklyRateLoseKg, log),
		WeeklyRateGainKg:        utils.GetEnvAsFloat("PLAN_WEEKLY_RATE_GAIN", def.WeeklyRateGainKg, log),
	}
}

func (c PlanConfig) EngineConfig() engine.Config {
	return engine.Config{
		CalorieFloor:     c.CalorieFloor,
		WeeklyRateLoseKg: c.WeeklyRateLoseKg,
		WeeklyRateGainKg: c.WeeklyRateGainKg,
	}
}

// SignificanceReason reports why next differs materially from prev, or ""
// when the change is below every threshold.
func (c PlanConfig) SignificanceReason(prev, next types.ComputedTargets) string {
	if delta := next.CalorieTarget - prev.CalorieTarget; abs(delta) >= c.SignificantCalorieDelta {
		return fmt.Sprintf("calorie target changed by %d kcal", delta)
	}
	if pctDiff(prev.ProteinTargetG, next.ProteinTargetG) >= c.SignificantPercentDelta {
		return fmt.Sprintf("protein target changed from %d g to %d g", prev.ProteinTargetG, next.ProteinTargetG)
	}
	if pctDiff(prev.WaterTargetMl, next.WaterTargetMl) >= c.SignificantPercentDelta {
		return fmt.Sprintf("water target changed from %d ml to %d ml", prev.WaterTargetMl, next.WaterTargetMl)
	}
	return ""
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func pctDiff(prev, next int) float64 {
	if prev == 0 {
		if next == 0 {
			return 0
		}
		return 1
	}
	return math.Abs(float64(next-prev)) / math.Abs(float64(prev))
}

// BatchConfig sizes the population walk.
type BatchConfig struct {
	PageSize int
	Workers  int
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{PageSize: 1000, Workers: 10}
}

func BatchConfigFromEnv(log *logger.Logger) BatchConfig {
	def := DefaultBatchConfig()
	cfg := BatchConfig{
		PageSize: utils.GetEnvAsInt("RECOMPUTE_PAGE_SIZE", def.PageSize, log),
		Workers:  utils.GetEnvAsInt("RECOMPUTE_WORKERS", def.Workers, log),
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = def.PageSize
	}
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	return cfg
}
