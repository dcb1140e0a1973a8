package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"lcrd-backend/internal/platform/apierr"
	"lcrd-backend/internal/platform/logger"
	"lcrd-backend/internal/types"
)

type PatientRepo interface {
	Create(ctx context.Context, tx *gorm.DB, p *types.PatientRecord) (*types.PatientRecord, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PatientRecord, error)
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.PatientRecord, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.PatientRecord, error)
	Update(ctx context.Context, tx *gorm.DB, p *types.PatientRecord) (*types.PatientRecord, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type patientRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPatientRepo(db *gorm.DB, baseLog *logger.Logger) PatientRepo {
	repoLog := baseLog.With("repo", "PatientRepo")
	return &patientRepo{db: db, log: repoLog}
}

func (r *patientRepo) Create(ctx context.Context, tx *gorm.DB, p *types.PatientRecord) (*types.PatientRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if p == nil {
		return nil, apierr.InvalidArgument(fmt.Errorf("patient record required"))
	}
	if p.SessionID == uuid.Nil {
		return nil, apierr.InvalidArgument(fmt.Errorf("patient record has no session id"))
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := transaction.WithContext(ctx).Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apierr.Conflict(fmt.Errorf("session %s is already attached to a patient", p.SessionID))
		}
		return nil, err
	}
	return p, nil
}

func (r *patientRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PatientRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var p types.PatientRecord
	if err := transaction.WithContext(ctx).
		Preload("Prediction").
		Where("id = ?", id).
		First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound(fmt.Errorf("patient %s not found", id))
		}
		return nil, err
	}
	return &p, nil
}

func (r *patientRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.PatientRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var p types.PatientRecord
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound(fmt.Errorf("no patient for session %s", sessionID))
		}
		return nil, err
	}
	return &p, nil
}

func (r *patientRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.PatientRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.PatientRecord
	if err := transaction.WithContext(ctx).
		Preload("Prediction").
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *patientRepo) Update(ctx context.Context, tx *gorm.DB, p *types.PatientRecord) (*types.PatientRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if p == nil || p.ID == uuid.Nil {
		return nil, apierr.InvalidArgument(fmt.Errorf("patient record with id required"))
	}
	p.UpdatedAt = time.Now()

	res := transaction.WithContext(ctx).
		Model(&types.PatientRecord{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"external_id": p.ExternalID,
			"full_name":   p.FullName,
			"age":         p.Age,
			"sex":         p.Sex,
			"address":     p.Address,
			"diagnosis":   p.Diagnosis,
			"conclusion":  p.Conclusion,
			"updated_at":  p.UpdatedAt,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apierr.NotFound(fmt.Errorf("patient %s not found", p.ID))
	}
	return r.GetByID(ctx, transaction, p.ID)
}

func (r *patientRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.PatientRecord{}).Error; err != nil {
		return err
	}
	return nil
}
