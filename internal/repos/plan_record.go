package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vitalloop/metabolic-backend/internal/logger"
	"github.com/vitalloop/metabolic-backend/internal/types"
)

type PlanRecordRepo interface {
	GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.PlanRecord, error)
	Save(ctx context.Context, tx *gorm.DB, record *types.PlanRecord) error
}

type planRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlanRecordRepo(db *gorm.DB, baseLog *logger.Logger) PlanRecordRepo {
	return &planRecordRepo{db: db, log: baseLog.With("repo", "PlanRecordRepo")}
}

func (r *planRecordRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.PlanRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var record types.PlanRecord
	err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Save upserts on user_id: one plan record per user is an invariant.
func (r *planRecordRepo) Save(ctx context.Context, tx *gorm.DB, record *types.PlanRecord) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if record == nil {
		return nil
	}
	record.UpdatedAt = time.Now().UTC()
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"computed_at", "targets", "previous_targets", "recomputed",
				"version", "updated_at",
			}),
		}).
		Create(record).Error
}
