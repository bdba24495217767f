package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Payment response statuses derived from the gateway callback.
const (
	PaymentStatusApproved = "approved"
	PaymentStatusError    = "error"
	PaymentStatusPending  = "pending"
)

// PaymentSession is the expected-outcome record written at payment initiation.
// Exactly one non-expired session may exist per transaction reference; the
// stored form HTML is served back verbatim while the session is alive.
type PaymentSession struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Reference string     `gorm:"type:varchar(64);uniqueIndex;not null"`
	CartID    uuid.UUID  `gorm:"type:uuid;index;not null"`
	UserID    *uuid.UUID `gorm:"type:uuid;index"` // nil on guest checkout
	FormHTML  string     `gorm:"type:text;not null"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	ExpiresAt time.Time  `gorm:"index;not null"`
}

// Expired reports whether the session is past its TTL. Lookups must treat an
// expired session as absent even before the physical sweep removes it.
func (s *PaymentSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// PaymentResponse is the immutable record of one gateway callback. The raw
// payload is kept for audit and replay. PayloadDigest (SHA-256 of the raw
// document) is unique so a byte-identical redelivery cannot create a second
// row. OrderID is stamped before the order row is inserted; the partial
// unique index on reference (actioned rows only) lets exactly one response
// per reference carry an order, even when concurrent reconciliations hold
// distinct response rows for the same reference.
type PaymentResponse struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Reference     string     `gorm:"type:varchar(64);not null;index;index:idx_payment_responses_actioned_reference,unique,where:order_id IS NOT NULL"`
	PayloadDigest string     `gorm:"type:char(64);uniqueIndex;not null"`
	RawPayload    string     `gorm:"type:text"`
	Status        string     `gorm:"type:varchar(16);not null"`
	ResponseCode  string     `gorm:"type:varchar(16)"`
	AuthCode      string     `gorm:"type:varchar(32)"`
	ErrorCode     string     `gorm:"type:varchar(32)"`
	ErrorMessage  string     `gorm:"type:varchar(255)"`
	Folio         string     `gorm:"type:varchar(64);index"`
	CardType      string     `gorm:"type:varchar(32)"`
	MaskedPAN     string     `gorm:"type:varchar(32)"`
	Amount        string     `gorm:"type:varchar(16)"`
	Voucher       string     `gorm:"type:text"`
	SessionID     *uuid.UUID `gorm:"type:uuid;index"`
	CartID        *uuid.UUID `gorm:"type:uuid;index"`
	OrderID       *uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	CreatedAt     time.Time  `gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime"`
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}
