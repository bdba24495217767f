package repository

import (
	"context"
	"errors"

	"github.com/mktdigital/marketplace-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentResponseRepository owns the callback audit trail and the order
// idempotency gate. All order-linkage mutation goes through AttachOrder; the
// conditional update there is the sole concurrency-safety mechanism.
type PaymentResponseRepository interface {
	// Record persists a callback. When a byte-identical payload (same
	// digest) was already recorded it returns created=false along with the
	// existing row instead of inserting a duplicate.
	Record(ctx context.Context, response *models.PaymentResponse) (created bool, existing *models.PaymentResponse, err error)
	// AttachOrder stamps order_id on a response only if it has none yet.
	// The partial unique index on actioned references makes the stamp fail
	// when any other response for the same reference already carries an
	// order. Returns false when another reconciliation won either race.
	AttachOrder(ctx context.Context, responseID, orderID uuid.UUID) (bool, error)
	// DetachOrder clears the stamp after a failed order insert so the
	// reference can be actioned again.
	DetachOrder(ctx context.Context, responseID uuid.UUID) error
	// HasOrderForReference reports whether any response for the reference
	// was already actioned into an order.
	HasOrderForReference(ctx context.Context, reference string) (bool, error)
	FindByReference(ctx context.Context, reference string) ([]models.PaymentResponse, error)
	// LatestByReference returns the newest response for a reference, or
	// (nil, nil).
	LatestByReference(ctx context.Context, reference string) (*models.PaymentResponse, error)
}

type gormPaymentResponseRepo struct {
	db *gorm.DB
}

func NewGormPaymentResponseRepo(db *gorm.DB) PaymentResponseRepository {
	return &gormPaymentResponseRepo{db: db}
}

func (r *gormPaymentResponseRepo) Record(ctx context.Context, response *models.PaymentResponse) (bool, *models.PaymentResponse, error) {
	err := r.db.WithContext(ctx).Create(response).Error
	if err == nil {
		return true, response, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil, err
	}

	var existing models.PaymentResponse
	if err := r.db.WithContext(ctx).
		Where("payload_digest = ?", response.PayloadDigest).
		First(&existing).Error; err != nil {
		return false, nil, err
	}
	return false, &existing, nil
}

func (r *gormPaymentResponseRepo) AttachOrder(ctx context.Context, responseID, orderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentResponse{}).
		Where("id = ? AND order_id IS NULL", responseID).
		Update("order_id", orderID)
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		// Another response for this reference is already actioned.
		return false, nil
	}
	return res.RowsAffected > 0, res.Error
}

func (r *gormPaymentResponseRepo) DetachOrder(ctx context.Context, responseID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentResponse{}).
		Where("id = ?", responseID).
		Update("order_id", nil).Error
}

func (r *gormPaymentResponseRepo) HasOrderForReference(ctx context.Context, reference string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentResponse{}).
		Where("reference = ? AND order_id IS NOT NULL", reference).
		Count(&count).Error
	return count > 0, err
}

func (r *gormPaymentResponseRepo) FindByReference(ctx context.Context, reference string) ([]models.PaymentResponse, error) {
	var responses []models.PaymentResponse
	err := r.db.WithContext(ctx).
		Where("reference = ?", reference).
		Order("created_at DESC").
		Find(&responses).Error
	return responses, err
}

func (r *gormPaymentResponseRepo) LatestByReference(ctx context.Context, reference string) (*models.PaymentResponse, error) {
	var response models.PaymentResponse
	err := r.db.WithContext(ctx).
		Where("reference = ?", reference).
		Order("created_at DESC").
		First(&response).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &response, nil
}
