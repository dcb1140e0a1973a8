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

type SessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Session, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Session, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.Session, error)
	FindExpired(ctx context.Context, tx *gorm.DB, ttl time.Duration) ([]*types.Session, error)
	MarkSaved(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Session, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	DeleteIfUnsaved(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	repoLog := baseLog.With("repo", "SessionRepo")
	return &sessionRepo{db: db, log: repoLog}
}

func (r *sessionRepo) Create(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Session, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if id == uuid.Nil {
		return nil, apierr.InvalidArgument(fmt.Errorf("session id required"))
	}

	session := &types.Session{ID: id, CreatedAt: time.Now(), Saved: false}
	if err := transaction.WithContext(ctx).Create(session).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apierr.Conflict(fmt.Errorf("session %s already exists", id))
		}
		return nil, err
	}
	return session, nil
}

func (r *sessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Session, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var session types.Session
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound(fmt.Errorf("session %s not found", id))
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Session, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Session
	if err := transaction.WithContext(ctx).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// FindExpired returns unsaved sessions at least ttl old. The age comparison
// is inclusive at the boundary: created_at == now-ttl counts as expired.
func (r *sessionRepo) FindExpired(ctx context.Context, tx *gorm.DB, ttl time.Duration) ([]*types.Session, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	cutoff := time.Now().Add(-ttl)
	var results []*types.Session
	if err := transaction.WithContext(ctx).
		Where("saved = ? AND created_at <= ?", false, cutoff).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// MarkSaved is idempotent: marking an already-saved session succeeds.
func (r *sessionRepo) MarkSaved(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Session, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.Session{}).
		Where("id = ?", id).
		Update("saved", true)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apierr.NotFound(fmt.Errorf("session %s not found", id))
	}
	return r.GetByID(ctx, transaction, id)
}

func (r *sessionRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Session{}).Error; err != nil {
		return err
	}
	return nil
}

// DeleteIfUnsaved removes the row only while saved is still false, so a
// promotion that committed in the meantime wins over the caller. It reports
// whether a row was removed; a missing or already-saved row is not an error.
func (r *sessionRepo) DeleteIfUnsaved(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	res := transaction.WithContext(ctx).
		Where("id = ? AND saved = ?", id, false).
		Delete(&types.Session{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
