package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vitalloop/metabolic-backend/internal/cache"
	"github.com/vitalloop/metabolic-backend/internal/engine"
	"github.com/vitalloop/metabolic-backend/internal/logger"
	"github.com/vitalloop/metabolic-backend/internal/repos"
	"github.com/vitalloop/metabolic-backend/internal/types"
)

// PlanService orchestrates plan computation: cache-hit vs stale vs forced
// recompute, engine invocation, change detection and persistence. It is the
// only writer of PlanRecord.
type PlanService interface {
	GetPlan(ctx context.Context, userID uuid.UUID, forceRecompute bool) (*types.PlanRecord, error)
	Invalidate(userID uuid.UUID)
}

type planService struct {
	log         *logger.Logger
	cache       *cache.PlanCache
	profileRepo repos.ProfileRepo
	planRepo    repos.PlanRecordRepo
	cfg         PlanConfig
	now         func() time.Time
}

func NewPlanService(baseLog *logger.Logger, planCache *cache.PlanCache, profileRepo repos.ProfileRepo, planRepo repos.PlanRecordRepo, cfg PlanConfig) PlanService {
	return &planService{
		log:         baseLog.With("service", "PlanService"),
		cache:       planCache,
		profileRepo: profileRepo,
		planRepo:    planRepo,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (ps *planService) GetPlan(ctx context.Context, userID uuid.UUID, forceRecompute bool) (*types.PlanRecord, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id required")
	}
	if !forceRecompute {
		if rec := ps.cache.Get(userID); rec != nil {
			return rec, nil
		}
	}
	return ps.cache.ComputeIfAbsentOrStale(ctx, userID, forceRecompute, func(ctx context.Context, prev *types.PlanRecord) (*types.PlanRecord, error) {
		return ps.compute(ctx, userID, prev, forceRecompute)
	})
}

func (ps *planService) Invalidate(userID uuid.UUID) {
	ps.cache.Invalidate(userID)
}

func (ps *planService) compute(ctx context.Context, userID uuid.UUID, prev *types.PlanRecord, forced bool) (*types.PlanRecord, error) {
	profile, err := ps.profileRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		// Transient storage errors get one immediate retry, then propagate.
		profile, err = ps.profileRepo.GetByUserID(ctx, nil, userID)
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
	}
	if !profile.Complete() {
		return nil, ErrProfileIncomplete
	}

	now := ps.now().UTC()
	targets, err := engine.Compute(profile, ps.cfg.EngineConfig(), now)
	if err != nil {
		return nil, err
	}
	if targets.CalorieFloorApplied {
		ps.log.Warn("Calorie target clamped to safety floor",
			"user_id", userID,
			"floor", ps.cfg.CalorieFloor,
		)
	}

	if prev == nil {
		// Cold start: the durable store may hold a record from an earlier
		// process lifetime; change detection is best-effort if it is
		// unreachable.
		stored, loadErr := ps.planRepo.GetByUserID(ctx, nil, userID)
		if loadErr != nil {
			ps.log.Warn("Could not load prior record for change detection", "user_id", userID, "error", loadErr)
		} else {
			prev = stored
		}
	}

	record := &types.PlanRecord{
		ID:         uuid.New(),
		UserID:     userID,
		ComputedAt: now,
		Recomputed: forced,
		Version:    1,
	}
	if err := record.SetTargets(targets); err != nil {
		return nil, err
	}
	if prev != nil {
		record.ID = prev.ID
		record.Version = prev.Version + 1
		prevTargets, decErr := prev.DecodeTargets()
		if decErr != nil {
			ps.log.Warn("Could not decode prior targets", "user_id", userID, "error", decErr)
		} else if reason := ps.cfg.SignificanceReason(prevTargets, targets); reason != "" {
			ps.log.Info("Plan changed significantly", "user_id", userID, "reason", reason)
			if err := record.SetPreviousTargets(prevTargets); err != nil {
				return nil, err
			}
		}
	}
	return record, nil
}

// retryingRecordStore gives durable writes the same single-immediate-retry
// budget as reads before the failure propagates to the caller.
type retryingRecordStore struct {
	repo repos.PlanRecordRepo
	log  *logger.Logger
}

func NewRecordStore(repo repos.PlanRecordRepo, baseLog *logger.Logger) cache.RecordStore {
	return &retryingRecordStore{repo: repo, log: baseLog.With("component", "RecordStore")}
}

func (s *retryingRecordStore) Save(ctx context.Context, record *types.PlanRecord) error {
	err := s.repo.Save(ctx, nil, record)
	if err == nil {
		return nil
	}
	s.log.Warn("Plan record save failed, retrying once", "user_id", record.UserID, "error", err)
	if err := s.repo.Save(ctx, nil, record); err != nil {
		return fmt.Errorf("save plan record: %w", err)
	}
	return nil
}
