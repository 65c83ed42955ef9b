package registrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/metrics"
	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/pkg/apperr"
	"github.com/oriyet/backend/pkg/utils"
)

// Notifier sends registration emails. Errors are logged, never returned to callers.
type Notifier interface {
	RegistrationConfirmed(ctx context.Context, user *models.User, event *models.Event, reg *models.Registration) error
	EventAccessLink(ctx context.Context, user *models.User, event *models.Event, reg *models.Registration) error
}

// Status is the registration state of one user for one event.
type Status struct {
	Registered         bool                      `json:"registered"`
	RegistrationID     *uuid.UUID                `json:"registration_id,omitempty"`
	RegistrationNumber string                    `json:"registration_number,omitempty"`
	Status             models.RegistrationStatus `json:"status,omitempty"`
	PaymentStatus      models.PaymentStatus      `json:"payment_status,omitempty"`
	CertificateID      string                    `json:"certificate_id,omitempty"`
	OnlineLink         string                    `json:"online_link,omitempty"`
}

// Service writes event registrations.
type Service struct {
	store    store.Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a registration service.
func NewService(s store.Store, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, notifier: notifier, logger: logger, now: time.Now}
}

// CheckOpen applies the rules shared by free and paid registration: the event
// must not be finished, the window must be open with seats left, and the
// deadline must not have passed.
func CheckOpen(e *models.Event, now time.Time, fullMessage string) error {
	if e.Finished() {
		return apperr.BusinessRule(fmt.Sprintf("This event has been %s", e.Status))
	}
	switch {
	case e.RegistrationStatus == models.RegistrationClosed:
		return apperr.BusinessRule("Registration is closed for this event")
	case e.RegistrationStatus == models.RegistrationFull || e.AtCapacity():
		return apperr.BusinessRule(fullMessage)
	}
	if e.DeadlinePassed(now) {
		return apperr.BusinessRule("Registration deadline has passed")
	}
	return nil
}

// RegisterFree confirms a seat on a free event. The event row is locked for the
// whole write so concurrent registrants cannot overshoot capacity.
func (s *Service) RegisterFree(ctx context.Context, eventID, userID uuid.UUID) (*models.Registration, error) {
	now := s.now()
	var (
		reg   *models.Registration
		event *models.Event
	)
	err := s.store.Atomic(ctx, func(repos store.Repositories) error {
		e, err := repos.Events().GetByIDForUpdate(ctx, eventID)
		if err != nil {
			return store.Translate(err, "Event not found")
		}
		if !e.IsFree() {
			return apperr.BusinessRule("This is a paid event. Please use the payment endpoint to register.")
		}
		if err := CheckOpen(e, now, "This event is full"); err != nil {
			return err
		}

		existing, err := repos.Registrations().GetByEventAndUser(ctx, eventID, userID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			number, err := utils.RegistrationNumber(now)
			if err != nil {
				return apperr.Internal("generate registration number", err)
			}
			r := &models.Registration{EventID: eventID, UserID: userID, RegistrationNumber: number}
			r.Confirm(models.PaymentNotRequired, now)
			r.PaymentAmount = decimal.Zero
			if err := repos.Registrations().Create(ctx, r); err != nil {
				return store.Translate(err, "Registration not found")
			}
			reg = r
		case err != nil:
			return store.Translate(err, "Registration not found")
		case existing.Status.Active():
			return apperr.BusinessRule("You are already registered for this event")
		default:
			existing.Confirm(models.PaymentNotRequired, now)
			existing.PaymentAmount = decimal.Zero
			if err := repos.Registrations().Update(ctx, existing); err != nil {
				return store.Translate(err, "Registration not found")
			}
			reg = existing
		}

		e.AddParticipant()
		if err := repos.Events().UpdateCapacity(ctx, e); err != nil {
			return store.Translate(err, "Event not found")
		}
		event = e
		return nil
	})
	if err != nil {
		metrics.Registrations.WithLabelValues("register", apperr.KindOf(err).String()).Inc()
		return nil, store.Translate(err, "Event not found")
	}
	metrics.Registrations.WithLabelValues("register", "ok").Inc()
	s.logger.Info("Free registration confirmed",
		zap.String("event_id", eventID.String()),
		zap.String("user_id", userID.String()),
		zap.String("registration_number", reg.RegistrationNumber),
	)
	s.notifyConfirmed(ctx, event, reg)
	return reg, nil
}

func (s *Service) notifyConfirmed(ctx context.Context, event *models.Event, reg *models.Registration) {
	if s.notifier == nil {
		return
	}
	user, err := s.store.Users().GetByID(ctx, reg.UserID)
	if err != nil {
		s.logger.Warn("Skipping registration emails, user lookup failed", zap.Error(err))
		return
	}
	if err := s.notifier.RegistrationConfirmed(ctx, user, event, reg); err != nil {
		s.logger.Warn("Registration confirmation email failed", zap.Error(err), zap.String("registration_id", reg.ID.String()))
	}
	if event.HasAccessLink() {
		if err := s.notifier.EventAccessLink(ctx, user, event, reg); err != nil {
			s.logger.Warn("Access link email failed", zap.Error(err), zap.String("registration_id", reg.ID.String()))
		}
	}
}

// Cancel cancels the caller's registration. A counted seat is released and any
// pending checkout of the registration is cancelled with it.
func (s *Service) Cancel(ctx context.Context, eventID, userID uuid.UUID) (*models.Registration, error) {
	now := s.now()
	var reg *models.Registration
	err := s.store.Atomic(ctx, func(repos store.Repositories) error {
		e, err := repos.Events().GetByIDForUpdate(ctx, eventID)
		if err != nil {
			return store.Translate(err, "Event not found")
		}
		r, err := repos.Registrations().GetByEventAndUser(ctx, eventID, userID)
		if err != nil {
			return store.Translate(err, "Registration not found")
		}
		if r.Status == models.RegistrationCancelled || r.Status == models.RegistrationRefunded {
			return apperr.BusinessRule("Registration already cancelled")
		}

		counted := r.Status.Counted()
		payment := r.PaymentStatus
		if payment == models.PaymentPending {
			payment = models.PaymentCancelled
		}
		r.Cancel(payment, "Cancelled by user", now)
		if err := repos.Registrations().Update(ctx, r); err != nil {
			return store.Translate(err, "Registration not found")
		}

		pending, err := repos.Payments().ListPendingByRegistration(ctx, r.ID)
		if err != nil {
			return store.Translate(err, "Payment not found")
		}
		for i := range pending {
			p := &pending[i]
			p.Status = models.PaymentCancelled
			if _, err := repos.Payments().Transition(ctx, p, models.PaymentPending); err != nil {
				return store.Translate(err, "Payment not found")
			}
			metrics.RecordPaymentTransition(string(models.PaymentPending), string(models.PaymentCancelled))
		}

		if counted {
			e.RemoveParticipant()
			if err := repos.Events().UpdateCapacity(ctx, e); err != nil {
				return store.Translate(err, "Event not found")
			}
		}
		reg = r
		return nil
	})
	if err != nil {
		metrics.Registrations.WithLabelValues("cancel", apperr.KindOf(err).String()).Inc()
		return nil, store.Translate(err, "Registration not found")
	}
	metrics.Registrations.WithLabelValues("cancel", "ok").Inc()
	s.logger.Info("Registration cancelled",
		zap.String("event_id", eventID.String()),
		zap.String("user_id", userID.String()),
	)
	return reg, nil
}

// CheckStatus reports whether the user holds a registration for the event.
// The online link is only disclosed to confirmed registrants.
func (s *Service) CheckStatus(ctx context.Context, eventID, userID uuid.UUID) (*Status, error) {
	event, err := s.store.Events().GetByID(ctx, eventID)
	if err != nil {
		return nil, store.Translate(err, "Event not found")
	}
	reg, err := s.store.Registrations().GetByEventAndUser(ctx, eventID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &Status{Registered: false}, nil
	}
	if err != nil {
		return nil, store.Translate(err, "Registration not found")
	}

	st := &Status{
		Registered:         reg.Status.Active(),
		RegistrationID:     &reg.ID,
		RegistrationNumber: reg.RegistrationNumber,
		Status:             reg.Status,
		PaymentStatus:      reg.PaymentStatus,
	}
	cert, err := s.store.Certificates().GetByRegistrationID(ctx, reg.ID)
	switch {
	case err == nil:
		st.CertificateID = cert.CertificateID
	case !errors.Is(err, store.ErrNotFound):
		return nil, store.Translate(err, "Certificate not found")
	}
	if reg.Status == models.RegistrationConfirmed {
		st.OnlineLink = event.OnlineLink
	}
	return st, nil
}

// ListMine returns the user's registrations, newest first.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID) ([]models.Registration, error) {
	list, err := s.store.Registrations().ListByUser(ctx, userID)
	if err != nil {
		return nil, store.Translate(err, "Registration not found")
	}
	if list == nil {
		list = []models.Registration{}
	}
	return list, nil
}
