package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	redisclient "github.com/vitalloop/metabolic-backend/internal/clients/redis"
	"github.com/vitalloop/metabolic-backend/internal/logger"
	"github.com/vitalloop/metabolic-backend/internal/repos"
	"github.com/vitalloop/metabolic-backend/internal/types"
)

// ProfileService is the mutation path for the fields that feed the metrics
// engine. Every accepted change invalidates the local plan cache and is
// published so sibling replicas invalidate theirs.
type ProfileService interface {
	Get(ctx context.Context, userID uuid.UUID) (*types.Profile, error)
	Upsert(ctx context.Context, userID uuid.UUID, input UpsertProfileInput) (*types.Profile, error)
}

type UpsertProfileInput struct {
	Age            int
	Sex            types.Sex
	WeightKg       float64
	HeightCm       float64
	ActivityLevel  types.ActivityLevel
	Goal           types.Goal
	TargetWeightKg *float64
	TargetDate     *time.Time
}

type profileService struct {
	db          *gorm.DB
	log         *logger.Logger
	profileRepo repos.ProfileRepo
	userRepo    repos.UserRepo
	plans       PlanService
	bus         redisclient.InvalidationBus
}

func NewProfileService(db *gorm.DB, baseLog *logger.Logger, profileRepo repos.ProfileRepo, userRepo repos.UserRepo, plans PlanService, bus redisclient.InvalidationBus) ProfileService {
	return &profileService{
		db:          db,
		log:         baseLog.With("service", "ProfileService"),
		profileRepo: profileRepo,
		userRepo:    userRepo,
		plans:       plans,
		bus:         bus,
	}
}

func (s *profileService) Get(ctx context.Context, userID uuid.UUID) (*types.Profile, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id required")
	}
	return s.profileRepo.GetByUserID(ctx, nil, userID)
}

func (s *profileService) Upsert(ctx context.Context, userID uuid.UUID, input UpsertProfileInput) (*types.Profile, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id required")
	}
	profile := &types.Profile{
		UserID:         userID,
		Age:            input.Age,
		Sex:            input.Sex,
		WeightKg:       input.WeightKg,
		HeightCm:       input.HeightCm,
		ActivityLevel:  input.ActivityLevel,
		Goal:           input.Goal,
		TargetWeightKg: input.TargetWeightKg,
		TargetDate:     input.TargetDate,
	}
	if !profile.Complete() {
		return nil, fmt.Errorf("%w: all of age, sex, weight, height, activity level and goal are required", ErrProfileIncomplete)
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.profileRepo.Upsert(ctx, tx, profile); err != nil {
			return err
		}
		return s.userRepo.SetProfileComplete(ctx, tx, userID, true)
	}); err != nil {
		s.log.Warn("Profile upsert failed", "user_id", userID, "error", err)
		return nil, err
	}

	// The stored plan is now stale: drop this replica's entry and tell the
	// others. The next read recomputes.
	s.plans.Invalidate(userID)
	if s.bus != nil {
		if err := s.bus.Publish(ctx, userID); err != nil {
			s.log.Warn("Could not publish invalidation", "user_id", userID, "error", err)
		}
	}

	return profile, nil
}
