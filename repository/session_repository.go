package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mktdigital/marketplace-backend/models"

	"gorm.io/gorm"
)

// ErrDuplicateReference is returned when a session insert collides on the
// transaction reference. Callers must regenerate the reference and retry,
// never treat the collision as success.
var ErrDuplicateReference = errors.New("duplicate transaction reference")

// SessionRepository is the only mutation path for payment sessions. Lookups
// take an explicit now so expiry is applied consistently and tests control
// the clock.
type SessionRepository interface {
	Create(ctx context.Context, session *models.PaymentSession) error
	// FindByReference returns (nil, nil) when no live session matches;
	// expired sessions are logically absent even before a sweep runs.
	FindByReference(ctx context.Context, reference string, now time.Time) (*models.PaymentSession, error)
	// FindByPrefix returns the most recent live session whose reference
	// starts with prefix, or (nil, nil).
	FindByPrefix(ctx context.Context, prefix string, now time.Time) (*models.PaymentSession, error)
	// MostRecentSince returns the most recently created live session created
	// after cutoff, or (nil, nil).
	MostRecentSince(ctx context.Context, cutoff, now time.Time) (*models.PaymentSession, error)
	// SweepExpired physically deletes expired sessions and returns the count.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

type gormSessionRepo struct {
	db *gorm.DB
}

func NewGormSessionRepo(db *gorm.DB) SessionRepository {
	return &gormSessionRepo{db: db}
}

func (r *gormSessionRepo) Create(ctx context.Context, session *models.PaymentSession) error {
	err := r.db.WithContext(ctx).Create(session).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateReference
	}
	return err
}

func (r *gormSessionRepo) FindByReference(ctx context.Context, reference string, now time.Time) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := r.db.WithContext(ctx).
		Where("reference = ? AND expires_at > ?", reference, now).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *gormSessionRepo) FindByPrefix(ctx context.Context, prefix string, now time.Time) (*models.PaymentSession, error) {
	if prefix == "" {
		return nil, nil
	}
	var session models.PaymentSession
	err := r.db.WithContext(ctx).
		Where("reference LIKE ? AND expires_at > ?", prefix+"%", now).
		Order("created_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *gormSessionRepo) MostRecentSince(ctx context.Context, cutoff, now time.Time) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND expires_at > ?", cutoff, now).
		Order("created_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *gormSessionRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.PaymentSession{})
	return res.RowsAffected, res.Error
}
