// Package store defines the persistence contracts of the registration,
// payment and certificate services, with a PostgreSQL implementation and an
// in-memory one for tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/pkg/apperr"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("store: conflict")
)

// Translate turns repository sentinels into application errors. Errors that
// already carry a kind pass through unchanged.
func Translate(err error, notFound string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.From(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, notFound, err)
	case errors.Is(err, ErrConflict):
		return apperr.Wrap(apperr.KindConflict, "Resource already exists", err)
	}
	return apperr.Internal("storage failure", err)
}

// Repositories exposes the repositories. Inside Atomic they share one transaction.
type Repositories interface {
	Users() UserRepository
	Events() EventRepository
	Registrations() RegistrationRepository
	Payments() PaymentRepository
	Certificates() CertificateRepository
}

// AtomicFunc is the body of a transaction.
type AtomicFunc func(repos Repositories) error

// Store is the entry point used by services.
type Store interface {
	Repositories
	// Atomic runs fn in a transaction: committed when fn returns nil, rolled back otherwise.
	Atomic(ctx context.Context, fn AtomicFunc) error
}

// UserRepository persists platform users.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// EventRepository persists events and their participant counters.
type EventRepository interface {
	Create(ctx context.Context, e *models.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	// GetByIDForUpdate locks the event row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Event, error)
	// UpdateCapacity writes the participant counter and registration window.
	UpdateCapacity(ctx context.Context, e *models.Event) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.EventStatus, window models.RegistrationWindow) error
	ListByStatus(ctx context.Context, statuses ...models.EventStatus) ([]models.Event, error)
}

// RegistrationRepository persists event registrations.
type RegistrationRepository interface {
	Create(ctx context.Context, r *models.Registration) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	GetByEventAndUser(ctx context.Context, eventID, userID uuid.UUID) (*models.Registration, error)
	Update(ctx context.Context, r *models.Registration) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Registration, error)
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	UserID *uuid.UUID
	Status *models.PaymentStatus
	Limit  int
	Offset int
}

// PaymentRepository persists payment transactions.
type PaymentRepository interface {
	Create(ctx context.Context, p *models.PaymentTransaction) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.PaymentTransaction, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*models.PaymentTransaction, error)
	// AttachInvoice stores the gateway checkout reference of a pending transaction.
	AttachInvoice(ctx context.Context, id uuid.UUID, invoiceID, paymentURL string) error
	// Transition writes p (including p.Status) only if the stored status is
	// still from. It reports false when another writer got there first.
	Transition(ctx context.Context, p *models.PaymentTransaction, from models.PaymentStatus) (bool, error)
	ListPendingByRegistration(ctx context.Context, registrationID uuid.UUID) ([]models.PaymentTransaction, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.PaymentTransaction, error)
	List(ctx context.Context, f PaymentFilter) ([]models.PaymentTransaction, int, error)
}

// CertificateRepository persists certificates and their verification trail.
type CertificateRepository interface {
	Create(ctx context.Context, c *models.Certificate) error
	GetByRegistrationID(ctx context.Context, registrationID uuid.UUID) (*models.Certificate, error)
	GetByCertificateID(ctx context.Context, certificateID string) (*models.Certificate, error)
	// FindCandidates returns up to limit certificates whose id contains any fragment, case-insensitively.
	FindCandidates(ctx context.Context, fragments []string, limit int) ([]models.Certificate, error)
	RecordVerification(ctx context.Context, v *models.CertificateVerification) error
	// Rename rewrites the stored id only if it still equals from.
	Rename(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	RecordRepair(ctx context.Context, r *models.CertificateRepair) error
	SetDocumentKey(ctx context.Context, id uuid.UUID, key string) error
	DeleteByRegistrationID(ctx context.Context, registrationID uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Certificate, error)
}
