package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailType identifies a notification template.
const (
	EmailTypeRegistrationConfirmation = "registration_confirmation"
	EmailTypeEventAccessLink          = "event_access_link"
	EmailTypePaymentSuccess           = "payment_success"
	EmailTypePaymentRefunded          = "payment_refunded"
	EmailTypeCertificateIssued        = "certificate_issued"
)

// EmailLogStatus for delivery.
const (
	EmailLogStatusPending = "pending"
	EmailLogStatusSent    = "sent"
	EmailLogStatusFailed  = "failed"
)

// EmailLog records queued and sent notification emails.
type EmailLog struct {
	ID             uuid.UUID  `json:"id"`
	EventID        *uuid.UUID `json:"event_id,omitempty"`
	RegistrationID *uuid.UUID `json:"registration_id,omitempty"`
	EmailType      string     `json:"email_type"`
	RecipientEmail string     `json:"recipient_email"`
	Subject        string     `json:"subject,omitempty"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
