package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	CartStatusActive    = "active"
	CartStatusCompleted = "completed"
	CartStatusAbandoned = "abandoned"
)

type Cart struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    *uuid.UUID `gorm:"type:uuid;index"`
	Status    string     `gorm:"type:varchar(20);not null;default:'active'"`
	Currency  string     `gorm:"type:varchar(10);not null;default:'MXN'"`
	ExpiresAt time.Time  `gorm:"index"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
	Items     []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
}

type CartItem struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CartID    uuid.UUID `gorm:"type:uuid;not null;index"`
	ProductID uuid.UUID `gorm:"type:uuid;not null"`
	Name      string    `gorm:"type:varchar(255);not null"`
	UnitPrice int64     `gorm:"not null"` // tax-inclusive, smallest currency unit
	Quantity  int       `gorm:"not null"`
	Active    bool      `gorm:"not null;default:true"`
}

// ActiveItems returns the items still counted toward checkout.
func (c *Cart) ActiveItems() []CartItem {
	out := make([]CartItem, 0, len(c.Items))
	for _, it := range c.Items {
		if it.Active && it.Quantity > 0 {
			out = append(out, it)
		}
	}
	return out
}

// Total is the tax-inclusive sum of the active items.
func (c *Cart) Total() int64 {
	var total int64
	for _, it := range c.ActiveItems() {
		total += it.UnitPrice * int64(it.Quantity)
	}
	return total
}
