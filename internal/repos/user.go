package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vitalloop/metabolic-backend/internal/logger"
	"github.com/vitalloop/metabolic-backend/internal/types"
)

type UserRepo interface {
	GetByIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.User, error)
	SetProfileComplete(ctx context.Context, tx *gorm.DB, userID uuid.UUID, complete bool) error
	// ListEligibleIDs pages through profile-complete users in stable id
	// order. Pass uuid.Nil to start from the beginning; the whole
	// population is never loaded at once.
	ListEligibleIDs(ctx context.Context, tx *gorm.DB, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
	CountEligible(ctx context.Context, tx *gorm.DB) (int64, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{db: db, log: baseLog.With("repo", "UserRepo")}
}

func (ur *userRepo) GetByIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	var results []*types.User
	if len(userIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", userIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (ur *userRepo) SetProfileComplete(ctx context.Context, tx *gorm.DB, userID uuid.UUID, complete bool) error {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	return transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("id = ?", userID).
		Update("profile_complete", complete).Error
}

func (ur *userRepo) ListEligibleIDs(ctx context.Context, tx *gorm.DB, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	if limit <= 0 {
		limit = 1000
	}
	q := transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("profile_complete = ?", true)
	if afterID != uuid.Nil {
		q = q.Where("id > ?", afterID)
	}
	var ids []uuid.UUID
	if err := q.Order("id ASC").Limit(limit).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (ur *userRepo) CountEligible(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("profile_complete = ?", true).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
