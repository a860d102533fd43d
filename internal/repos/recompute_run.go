package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/vitalloop/metabolic-backend/internal/logger"
	"github.com/vitalloop/metabolic-backend/internal/types"
)

type RecomputeRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *types.RecomputeRun) error
	Update(ctx context.Context, tx *gorm.DB, run *types.RecomputeRun) error
	GetLatest(ctx context.Context, tx *gorm.DB) (*types.RecomputeRun, error)
}

type recomputeRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRecomputeRunRepo(db *gorm.DB, baseLog *logger.Logger) RecomputeRunRepo {
	return &recomputeRunRepo{db: db, log: baseLog.With("repo", "RecomputeRunRepo")}
}

func (r *recomputeRunRepo) Create(ctx context.Context, tx *gorm.DB, run *types.RecomputeRun) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if run == nil {
		return nil
	}
	return transaction.WithContext(ctx).Create(run).Error
}

func (r *recomputeRunRepo) Update(ctx context.Context, tx *gorm.DB, run *types.RecomputeRun) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if run == nil {
		return nil
	}
	run.UpdatedAt = time.Now().UTC()
	return transaction.WithContext(ctx).Save(run).Error
}

func (r *recomputeRunRepo) GetLatest(ctx context.Context, tx *gorm.DB) (*types.RecomputeRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var run types.RecomputeRun
	err := transaction.WithContext(ctx).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
