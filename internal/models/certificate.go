package models

import (
	"time"

	"github.com/google/uuid"
)

// Certificate is issued once per eligible registration.
type Certificate struct {
	ID                uuid.UUID  `json:"-"`
	CertificateID     string     `json:"certificate_id"`
	RegistrationID    uuid.UUID  `json:"registration_id"`
	UserID            uuid.UUID  `json:"user_id"`
	EventID           uuid.UUID  `json:"event_id"`
	IssuedAt          time.Time  `json:"issued_at"`
	VerificationCount int        `json:"verification_count"`
	LastVerifiedAt    *time.Time `json:"last_verified_at,omitempty"`
	DocumentKey       string     `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// MatchKind records how a verification request found its certificate.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchVariant MatchKind = "variant"
	MatchFuzzy   MatchKind = "fuzzy"
)

// CertificateVerification is one successful public verification.
type CertificateVerification struct {
	ID            uuid.UUID `json:"id"`
	CertificateID uuid.UUID `json:"certificate_id"`
	IPAddress     string    `json:"ip_address,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	MatchKind     MatchKind `json:"match_kind"`
	VerifiedAt    time.Time `json:"verified_at"`
}

// CertificateRepair records one canonicalization of a stored certificate id.
type CertificateRepair struct {
	ID            uuid.UUID `json:"id"`
	CertificateID uuid.UUID `json:"certificate_id"`
	PreviousValue string    `json:"previous_value"`
	RepairedValue string    `json:"repaired_value"`
	Similarity    float64   `json:"similarity"`
	RepairedAt    time.Time `json:"repaired_at"`
}
