package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vitalloop/metabolic-backend/internal/cache"
	"github.com/vitalloop/metabolic-backend/internal/logger"
	"github.com/vitalloop/metabolic-backend/internal/repos"
	"github.com/vitalloop/metabolic-backend/internal/types"
)

// OnDemandFallback closes the window between an asynchronous post-write
// computation and an immediate read: a read that finds nothing computes
// synchronously, still collapsing into any in-flight computation.
type OnDemandFallback interface {
	GetOrComputeNow(ctx context.Context, userID uuid.UUID) (*types.PlanRecord, error)
}

type onDemandFallback struct {
	log       *logger.Logger
	cache     *cache.PlanCache
	planRepo  repos.PlanRecordRepo
	plans     PlanService
	staleness time.Duration
	now       func() time.Time
}

func NewOnDemandFallback(baseLog *logger.Logger, planCache *cache.PlanCache, planRepo repos.PlanRecordRepo, plans PlanService, cfg PlanConfig) OnDemandFallback {
	return &onDemandFallback{
		log:       baseLog.With("service", "OnDemandFallback"),
		cache:     planCache,
		planRepo:  planRepo,
		plans:     plans,
		staleness: cfg.StalenessWindow,
		now:       time.Now,
	}
}

func (f *onDemandFallback) GetOrComputeNow(ctx context.Context, userID uuid.UUID) (*types.PlanRecord, error) {
	if rec := f.cache.Get(userID); rec != nil {
		return rec, nil
	}

	// Cold start: the durable store is the system of record; a fresh stored
	// record seeds the cache without touching the engine.
	stored, err := f.planRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		f.log.Warn("Stored plan lookup failed, computing instead", "user_id", userID, "error", err)
	} else if stored != nil && f.now().UTC().Sub(stored.ComputedAt) < f.staleness {
		f.cache.Seed(stored)
		return stored, nil
	}

	rec, err := f.plans.GetPlan(ctx, userID, false)
	if err != nil {
		// "never computed because profile incomplete" and "computing now,
		// wait bound exceeded" both surface as not-ready so the client
		// retry loop can tell them apart from real failures.
		if errors.Is(err, ErrProfileIncomplete) || errors.Is(err, cache.ErrComputeTimeout) {
			return nil, ErrNotReady
		}
		return nil, err
	}
	return rec, nil
}
