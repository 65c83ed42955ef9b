package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Registration links a user to an event. There is at most one row per
// (event, user); a cancelled or refunded row is reactivated on re-registration.
type Registration struct {
	ID                 uuid.UUID          `json:"id"`
	EventID            uuid.UUID          `json:"event_id"`
	UserID             uuid.UUID          `json:"user_id"`
	RegistrationNumber string             `json:"registration_number"`
	Status             RegistrationStatus `json:"status"`
	PaymentStatus      PaymentStatus      `json:"payment_status"`
	PaymentAmount      decimal.Decimal    `json:"payment_amount"`
	ConfirmedAt        *time.Time         `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	CancelReason       string             `json:"cancel_reason,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Confirm marks the registration as holding a seat.
func (r *Registration) Confirm(payment PaymentStatus, now time.Time) {
	r.Status = RegistrationConfirmed
	r.PaymentStatus = payment
	r.ConfirmedAt = &now
	r.CancelledAt = nil
	r.CancelReason = ""
}

// Cancel marks the registration cancelled with a reason.
func (r *Registration) Cancel(payment PaymentStatus, reason string, now time.Time) {
	r.Status = RegistrationCancelled
	r.PaymentStatus = payment
	r.CancelledAt = &now
	r.CancelReason = reason
}
