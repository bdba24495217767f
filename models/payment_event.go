package models

import "time"

// PaymentEvent is the message fanned out to Kafka and SNS after a terminal
// reconciliation outcome. Downstream consumers (provisioning, notification)
// key off Type and Reference.
type PaymentEvent struct {
	Type      string    `json:"type"` // payment_approved | payment_failed | order_created
	Reference string    `json:"reference"`
	OrderID   string    `json:"order_id,omitempty"`
	CartID    string    `json:"cart_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	AuthCode  string    `json:"auth_code,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
