package repos

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"lcrd-backend/internal/platform/apierr"
	"lcrd-backend/internal/platform/logger"
	"lcrd-backend/internal/types"
)

type PredictionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rec *types.PredictionRecord) (*types.PredictionRecord, error)
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.PredictionRecord, error)
	DeleteBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error
}

type predictionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPredictionRepo(db *gorm.DB, baseLog *logger.Logger) PredictionRepo {
	repoLog := baseLog.With("repo", "PredictionRepo")
	return &predictionRepo{db: db, log: repoLog}
}

func (r *predictionRepo) Create(ctx context.Context, tx *gorm.DB, rec *types.PredictionRecord) (*types.PredictionRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if rec == nil {
		return nil, apierr.InvalidArgument(fmt.Errorf("prediction record required"))
	}
	if rec.SessionID == uuid.Nil {
		return nil, apierr.InvalidArgument(fmt.Errorf("prediction record has no session id"))
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	if err := transaction.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apierr.Conflict(fmt.Errorf("prediction already exists for session %s", rec.SessionID))
		}
		return nil, err
	}
	return rec, nil
}

func (r *predictionRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.PredictionRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rec types.PredictionRecord
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound(fmt.Errorf("no prediction for session %s", sessionID))
		}
		return nil, err
	}
	return &rec, nil
}

func (r *predictionRepo) DeleteBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&types.PredictionRecord{}).Error; err != nil {
		return err
	}
	return nil
}
