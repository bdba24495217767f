package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	OrderStatusPaid     = "paid"
	OrderStatusCanceled = "canceled"
)

// Order is created exactly once per approved payment response. The unique
// index on PaymentResponseID is the database-level guarantee that two
// concurrent reconciliations of the same response cannot both insert.
type Order struct {
	ID                uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber       string     `gorm:"uniqueIndex;not null"`
	UserID            *uuid.UUID `gorm:"type:uuid;index"`
	CartID            uuid.UUID  `gorm:"type:uuid;index;not null"`
	PaymentResponseID uuid.UUID  `gorm:"type:uuid;uniqueIndex;not null"`
	Subtotal          int64      `gorm:"not null"`
	Tax               int64      `gorm:"not null"`
	Total             int64      `gorm:"not null"`
	Currency          string     `gorm:"type:varchar(10);not null"`
	AuthCode          string     `gorm:"type:varchar(32)"`
	Status            string     `gorm:"type:varchar(20);not null;default:'paid'"`
	CancelReason      string     `gorm:"type:varchar(255)"`
	CanceledAt        *time.Time
	CreatedAt         time.Time      `gorm:"autoCreateTime"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime"`
	DeletedAt         gorm.DeletedAt `gorm:"index"`
	OrderItems        []OrderItem    `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

type OrderItem struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;index"`
	ProductID uuid.UUID `gorm:"type:uuid;not null"`
	Name      string    `gorm:"type:varchar(255);not null"`
	UnitPrice int64     `gorm:"not null"`
	Quantity  int       `gorm:"not null"`
	Subtotal  int64     `gorm:"not null"`
	Tax       int64     `gorm:"not null"`
	Total     int64     `gorm:"not null"`
}
