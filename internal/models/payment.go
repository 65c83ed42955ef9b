package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentTransaction is one checkout attempt for a registration.
type PaymentTransaction struct {
	ID                   uuid.UUID       `json:"id"`
	TransactionID        string          `json:"transaction_id"`
	RegistrationID       uuid.UUID       `json:"registration_id"`
	UserID               uuid.UUID       `json:"user_id"`
	EventID              uuid.UUID       `json:"event_id"`
	InvoiceID            string          `json:"invoice_id,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Gateway              PaymentGateway  `json:"gateway"`
	Status               PaymentStatus   `json:"status"`
	PaymentURL           string          `json:"payment_url,omitempty"`
	PaymentMethod        string          `json:"payment_method,omitempty"`
	SenderNumber         string          `json:"sender_number,omitempty"`
	GatewayTransactionID string          `json:"gateway_transaction_id,omitempty"`
	GatewayResponse      json.RawMessage `json:"-"`
	IPAddress            string          `json:"-"`
	UserAgent            string          `json:"-"`
	VerificationAttempts int             `json:"verification_attempts"`
	LastVerifiedAt       *time.Time      `json:"last_verified_at,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
	ExpiresAt            time.Time       `json:"expires_at"`
	RefundedAt           *time.Time      `json:"refunded_at,omitempty"`
	RefundReason         string          `json:"refund_reason,omitempty"`
	RefundedBy           *uuid.UUID      `json:"refunded_by,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}
