package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mktdigital/marketplace-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CartRepository interface {
	Create(ctx context.Context, cart *models.Cart) error
	// FindByID returns the cart with its items, or (nil, nil).
	FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	AddItem(ctx context.Context, item *models.CartItem) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	// Reactivate flips a completed cart back to active and extends its
	// expiry so the buyer can retry checkout after a failed payment. A cart
	// that is not completed is left untouched.
	Reactivate(ctx context.Context, id uuid.UUID, newExpiry time.Time) (bool, error)
}

type gormCartRepo struct {
	db *gorm.DB
}

func NewGormCartRepo(db *gorm.DB) CartRepository {
	return &gormCartRepo{db: db}
}

func (r *gormCartRepo) Create(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).Create(cart).Error
}

func (r *gormCartRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *gormCartRepo) AddItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *gormCartRepo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", id).
		Update("status", models.CartStatusCompleted).Error
}

func (r *gormCartRepo) Reactivate(ctx context.Context, id uuid.UUID, newExpiry time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND status = ?", id, models.CartStatusCompleted).
		Updates(map[string]interface{}{
			"status":     models.CartStatusActive,
			"expires_at": newExpiry,
		})
	return res.RowsAffected > 0, res.Error
}
