// Package emails renders notification emails and queues them for the worker.
package emails

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/emaillogs"
	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/pkg/apperr"
	"github.com/oriyet/backend/pkg/queue"
)

const dateLayout = "02 Jan 2006, 03:04 PM MST"

// Queue accepts email jobs.
type Queue interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// Notifier renders an email, records it in the email log and queues it.
// It satisfies the notifier interfaces of the registration, payment and
// certificate services.
type Notifier struct {
	store       store.Store
	logs        emaillogs.Store
	queue       Queue
	templates   *Templates
	frontendURL string
	logger      *zap.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(s store.Store, logs emaillogs.Store, q Queue, templates *Templates, frontendURL string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		store:       s,
		logs:        logs,
		queue:       q,
		templates:   templates,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

func (n *Notifier) base(user *models.User, event *models.Event) Data {
	return Data{
		Name:       user.Name,
		EventTitle: event.Title,
		EventURL:   n.frontendURL + "/events/" + url.PathEscape(event.Slug),
		StartsAt:   event.StartsAt.Format(dateLayout),
		Venue:      event.Venue,
		Platform:   event.OnlinePlatform,
	}
}

func (n *Notifier) send(ctx context.Context, emailType string, user *models.User, eventID, registrationID *uuid.UUID, data Data) (*models.EmailLog, error) {
	msg, err := n.templates.Render(emailType, data)
	if err != nil {
		return nil, err
	}
	el := &models.EmailLog{
		EventID:        eventID,
		RegistrationID: registrationID,
		EmailType:      emailType,
		RecipientEmail: user.Email,
		Subject:        msg.Subject,
		Status:         models.EmailLogStatusPending,
	}
	if err := n.logs.Create(ctx, el); err != nil {
		return nil, fmt.Errorf("create email log: %w", err)
	}
	err = n.queue.EnqueueEmail(ctx, queue.EmailPayload{
		EmailLogID:     el.ID,
		EmailType:      emailType,
		EventID:        eventID,
		RegistrationID: registrationID,
		RecipientEmail: user.Email,
		Subject:        msg.Subject,
		BodyHTML:       msg.HTML,
	})
	if err != nil {
		if mErr := n.logs.MarkFailed(ctx, el.ID, err.Error()); mErr != nil {
			n.logger.Warn("mark email log failed", zap.Error(mErr), zap.String("email_log_id", el.ID.String()))
		}
		return nil, fmt.Errorf("enqueue email: %w", err)
	}
	n.logger.Debug("email queued", zap.String("type", emailType), zap.String("email_log_id", el.ID.String()))
	return el, nil
}

// RegistrationConfirmed queues the registration confirmation.
func (n *Notifier) RegistrationConfirmed(ctx context.Context, user *models.User, event *models.Event, reg *models.Registration) error {
	_, err := n.registrationConfirmed(ctx, user, event, reg)
	return err
}

func (n *Notifier) registrationConfirmed(ctx context.Context, user *models.User, event *models.Event, reg *models.Registration) (*models.EmailLog, error) {
	data := n.base(user, event)
	data.RegistrationNumber = reg.RegistrationNumber
	return n.send(ctx, models.EmailTypeRegistrationConfirmation, user, &event.ID, &reg.ID, data)
}

// EventAccessLink queues the online access link.
func (n *Notifier) EventAccessLink(ctx context.Context, user *models.User, event *models.Event, reg *models.Registration) error {
	_, err := n.eventAccessLink(ctx, user, event, reg)
	return err
}

func (n *Notifier) eventAccessLink(ctx context.Context, user *models.User, event *models.Event, reg *models.Registration) (*models.EmailLog, error) {
	data := n.base(user, event)
	data.OnlineLink = event.OnlineLink
	return n.send(ctx, models.EmailTypeEventAccessLink, user, &event.ID, &reg.ID, data)
}

// PaymentSucceeded queues the payment receipt.
func (n *Notifier) PaymentSucceeded(ctx context.Context, user *models.User, event *models.Event, reg *models.Registration, txn *models.PaymentTransaction) error {
	_, err := n.paymentSucceeded(ctx, user, event, reg, txn)
	return err
}

func (n *Notifier) paymentSucceeded(ctx context.Context, user *models.User, event *models.Event, reg *models.Registration, txn *models.PaymentTransaction) (*models.EmailLog, error) {
	data := n.base(user, event)
	data.RegistrationNumber = reg.RegistrationNumber
	data.Amount = txn.Amount.StringFixed(2)
	data.Currency = txn.Currency
	data.TransactionID = txn.TransactionID
	return n.send(ctx, models.EmailTypePaymentSuccess, user, &event.ID, &reg.ID, data)
}

// PaymentRefunded queues the refund notice.
func (n *Notifier) PaymentRefunded(ctx context.Context, user *models.User, event *models.Event, txn *models.PaymentTransaction) error {
	data := n.base(user, event)
	data.Amount = txn.Amount.StringFixed(2)
	data.Currency = txn.Currency
	data.TransactionID = txn.TransactionID
	data.Reason = txn.RefundReason
	_, err := n.send(ctx, models.EmailTypePaymentRefunded, user, &event.ID, &txn.RegistrationID, data)
	return err
}

// CertificateIssued queues the certificate notice.
func (n *Notifier) CertificateIssued(ctx context.Context, user *models.User, event *models.Event, cert *models.Certificate, verificationURL string) error {
	_, err := n.certificateIssued(ctx, user, event, cert, verificationURL)
	return err
}

func (n *Notifier) certificateIssued(ctx context.Context, user *models.User, event *models.Event, cert *models.Certificate, verificationURL string) (*models.EmailLog, error) {
	data := n.base(user, event)
	data.CertificateID = cert.CertificateID
	data.VerificationURL = verificationURL
	return n.send(ctx, models.EmailTypeCertificateIssued, user, &event.ID, &cert.RegistrationID, data)
}

// Resend rebuilds an email for a registration of the event from current data and queues it again.
func (n *Notifier) Resend(ctx context.Context, eventID, registrationID uuid.UUID, emailType string) (*models.EmailLog, error) {
	reg, err := n.store.Registrations().GetByID(ctx, registrationID)
	if err != nil {
		return nil, store.Translate(err, "Registration not found")
	}
	if reg.EventID != eventID {
		return nil, apperr.NotFound("Registration not found")
	}
	user, err := n.store.Users().GetByID(ctx, reg.UserID)
	if err != nil {
		return nil, store.Translate(err, "User not found")
	}
	event, err := n.store.Events().GetByID(ctx, eventID)
	if err != nil {
		return nil, store.Translate(err, "Event not found")
	}

	var el *models.EmailLog
	switch emailType {
	case models.EmailTypeRegistrationConfirmation:
		if reg.Status != models.RegistrationConfirmed {
			return nil, apperr.BusinessRule("Registration is not confirmed")
		}
		el, err = n.registrationConfirmed(ctx, user, event, reg)
	case models.EmailTypeEventAccessLink:
		if reg.Status != models.RegistrationConfirmed {
			return nil, apperr.BusinessRule("Registration is not confirmed")
		}
		if !event.HasAccessLink() {
			return nil, apperr.BusinessRule("This event has no online access link")
		}
		el, err = n.eventAccessLink(ctx, user, event, reg)
	case models.EmailTypePaymentSuccess:
		txn, findErr := n.completedPayment(ctx, reg)
		if findErr != nil {
			return nil, findErr
		}
		el, err = n.paymentSucceeded(ctx, user, event, reg, txn)
	case models.EmailTypeCertificateIssued:
		cert, findErr := n.store.Certificates().GetByRegistrationID(ctx, reg.ID)
		if findErr != nil {
			return nil, store.Translate(findErr, "Certificate not found")
		}
		verifyURL := n.frontendURL + "/verify-certificate?id=" + url.QueryEscape(cert.CertificateID)
		el, err = n.certificateIssued(ctx, user, event, cert, verifyURL)
	default:
		return nil, apperr.Validation("Unsupported email type: " + emailType)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "Failed to queue email", err)
	}
	return el, nil
}

func (n *Notifier) completedPayment(ctx context.Context, reg *models.Registration) (*models.PaymentTransaction, error) {
	completed := models.PaymentCompleted
	list, _, err := n.store.Payments().List(ctx, store.PaymentFilter{UserID: &reg.UserID, Status: &completed, Limit: 100})
	if err != nil {
		return nil, store.Translate(err, "Payment not found")
	}
	for i := range list {
		if list[i].RegistrationID == reg.ID {
			return &list[i], nil
		}
	}
	return nil, apperr.NotFound("No completed payment for this registration")
}
