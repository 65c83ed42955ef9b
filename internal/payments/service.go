// Package payments runs paid registrations through the UddoktaPay checkout:
// initiation, verification, webhooks, cancellation, expiry and refunds.
package payments

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/gateway"
	"github.com/oriyet/backend/internal/metrics"
	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/registrations"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/pkg/apperr"
	"github.com/oriyet/backend/pkg/utils"
)

const (
	// DefaultTTL is how long a checkout stays payable.
	DefaultTTL = 30 * time.Minute

	msgGatewayUnavailable = "Payment gateway is currently unavailable. Please try again later."
	msgCapacityRefund     = "Event is full. Your payment will be refunded within 7 business days."
	reasonCapacity        = "Event capacity reached after payment"
	reasonUserCancelled   = "User cancelled payment"
	reasonTimeout         = "Payment timeout"
	minRefundReason       = 10
	expireBatch           = 100
)

var amountTolerance = decimal.NewFromFloat(0.01)

// Gateway opens and verifies checkouts.
type Gateway interface {
	CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error)
	Verify(ctx context.Context, invoiceID string) (*gateway.Outcome, error)
}

// Notifier sends payment emails. Errors are logged, never returned to callers.
type Notifier interface {
	PaymentSucceeded(ctx context.Context, user *models.User, event *models.Event, reg *models.Registration, txn *models.PaymentTransaction) error
	EventAccessLink(ctx context.Context, user *models.User, event *models.Event, reg *models.Registration) error
	PaymentRefunded(ctx context.Context, user *models.User, event *models.Event, txn *models.PaymentTransaction) error
}

// Config holds checkout settings.
type Config struct {
	WebhookAPIKey string
	TTL           time.Duration
	RedirectURL   string
	CancelURL     string
	WebhookURL    string
}

// InitiateInput starts a checkout.
type InitiateInput struct {
	EventID   uuid.UUID
	UserID    uuid.UUID
	Amount    *decimal.Decimal
	IPAddress string
	UserAgent string
}

// Checkout is an opened checkout for the client to redirect to.
type Checkout struct {
	PaymentURL     string    `json:"payment_url"`
	InvoiceID      string    `json:"invoice_id"`
	TransactionID  string    `json:"transaction_id"`
	RegistrationID uuid.UUID `json:"registration_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// VerifyResult is the outcome of a verification. Success false with a nil
// error means the payment is pending or failed at the gateway.
type VerifyResult struct {
	Success            bool                 `json:"success"`
	Message            string               `json:"message"`
	AlreadyProcessed   bool                 `json:"already_processed"`
	TransactionID      string               `json:"transaction_id,omitempty"`
	InvoiceID          string               `json:"invoice_id,omitempty"`
	Status             models.PaymentStatus `json:"status,omitempty"`
	Amount             *decimal.Decimal     `json:"amount,omitempty"`
	RegistrationID     *uuid.UUID           `json:"registration_id,omitempty"`
	RegistrationNumber string               `json:"registration_number,omitempty"`
	EventID            *uuid.UUID           `json:"event_id,omitempty"`
}

// WebhookResult reports what a notification changed.
type WebhookResult struct {
	Processed     bool   `json:"processed"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// RefundInput refunds a completed payment.
type RefundInput struct {
	TransactionID string
	AdminID       uuid.UUID
	Reason        string
}

// Page is one page of transactions.
type Page struct {
	Items []models.PaymentTransaction `json:"items"`
	Total int                         `json:"total"`
	Page  int                         `json:"page"`
	Limit int                         `json:"limit"`
}

// Service manages payment transactions.
type Service struct {
	store    store.Store
	gateway  Gateway
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a payment service.
func NewService(s store.Store, gw Gateway, notifier Notifier, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Service{store: s, gateway: gw, notifier: notifier, cfg: cfg, logger: logger, now: time.Now}
}

// transition moves p to next if the state machine allows it and the stored
// row is still in p's current state.
func transition(ctx context.Context, repos store.Repositories, p *models.PaymentTransaction, next models.PaymentStatus) (bool, error) {
	from := p.Status
	if !from.CanTransition(next) {
		return false, apperr.BusinessRule(fmt.Sprintf("Payment is already %s", from))
	}
	p.Status = next
	ok, err := repos.Payments().Transition(ctx, p, from)
	if err != nil {
		return false, store.Translate(err, "Transaction not found")
	}
	if !ok {
		p.Status = from
		return false, nil
	}
	metrics.RecordPaymentTransition(string(from), string(next))
	return true, nil
}

// Initiate creates a pending registration and transaction and opens a gateway
// checkout. The participant counter is left untouched until payment completes.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*Checkout, error) {
	user, err := s.store.Users().GetByID(ctx, in.UserID)
	if err != nil {
		return nil, store.Translate(err, "User not found")
	}

	now := s.now()
	var txn *models.PaymentTransaction
	err = s.store.Atomic(ctx, func(repos store.Repositories) error {
		e, err := repos.Events().GetByIDForUpdate(ctx, in.EventID)
		if err != nil {
			return store.Translate(err, "Event not found")
		}
		if e.IsFree() {
			return apperr.BusinessRule("This is a free event. Please use the free registration endpoint.")
		}
		if err := registrations.CheckOpen(e, now, "Event is full. Registration capacity reached."); err != nil {
			return err
		}
		if in.Amount != nil && in.Amount.Sub(e.Price).Abs().GreaterThan(amountTolerance) {
			return apperr.Validation("Invalid payment amount")
		}

		reg, err := s.pendingRegistration(ctx, repos, e, in.UserID, now)
		if err != nil {
			return err
		}

		pending, err := repos.Payments().ListPendingByRegistration(ctx, reg.ID)
		if err != nil {
			return store.Translate(err, "Transaction not found")
		}
		for i := range pending {
			if _, err := transition(ctx, repos, &pending[i], models.PaymentExpired); err != nil {
				return err
			}
		}

		id, err := utils.TransactionID(now)
		if err != nil {
			return apperr.Internal("generate transaction id", err)
		}
		t := &models.PaymentTransaction{
			TransactionID:  id,
			RegistrationID: reg.ID,
			UserID:         in.UserID,
			EventID:        e.ID,
			Amount:         e.Price,
			Currency:       e.Currency,
			Gateway:        models.GatewayUddoktaPay,
			Status:         models.PaymentPending,
			IPAddress:      in.IPAddress,
			UserAgent:      in.UserAgent,
			ExpiresAt:      now.Add(s.cfg.TTL),
		}
		if err := repos.Payments().Create(ctx, t); err != nil {
			return store.Translate(err, "Transaction not found")
		}
		txn = t
		return nil
	})
	if err != nil {
		return nil, store.Translate(err, "Event not found")
	}

	start := time.Now()
	charge, err := s.gateway.CreateCharge(ctx, gateway.ChargeRequest{
		FullName: user.Name,
		Email:    user.Email,
		Amount:   txn.Amount,
		Metadata: gateway.Metadata{
			UserID:         in.UserID.String(),
			EventID:        in.EventID.String(),
			RegistrationID: txn.RegistrationID.String(),
			TransactionID:  txn.TransactionID,
		},
		RedirectURL: s.cfg.RedirectURL,
		CancelURL:   s.cfg.CancelURL,
		WebhookURL:  s.cfg.WebhookURL,
	})
	metrics.ObserveGateway("create_charge", start, err)
	if err != nil {
		return nil, s.failCheckout(ctx, txn, err)
	}

	if err := s.store.Payments().AttachInvoice(ctx, txn.ID, charge.InvoiceID, charge.PaymentURL); err != nil {
		return nil, store.Translate(err, "Transaction not found")
	}
	s.logger.Info("Payment initiated",
		zap.String("transaction_id", txn.TransactionID),
		zap.String("invoice_id", charge.InvoiceID),
		zap.String("event_id", in.EventID.String()),
		zap.String("user_id", in.UserID.String()),
	)
	return &Checkout{
		PaymentURL:     charge.PaymentURL,
		InvoiceID:      charge.InvoiceID,
		TransactionID:  txn.TransactionID,
		RegistrationID: txn.RegistrationID,
		ExpiresAt:      txn.ExpiresAt,
	}, nil
}

// pendingRegistration returns the user's registration for e in the
// pending/pending state, creating or reactivating it as needed.
func (s *Service) pendingRegistration(ctx context.Context, repos store.Repositories, e *models.Event, userID uuid.UUID, now time.Time) (*models.Registration, error) {
	reg, err := repos.Registrations().GetByEventAndUser(ctx, e.ID, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		number, err := utils.RegistrationNumber(now)
		if err != nil {
			return nil, apperr.Internal("generate registration number", err)
		}
		reg = &models.Registration{
			EventID:            e.ID,
			UserID:             userID,
			RegistrationNumber: number,
			Status:             models.RegistrationPending,
			PaymentStatus:      models.PaymentPending,
			PaymentAmount:      e.Price,
		}
		if err := repos.Registrations().Create(ctx, reg); err != nil {
			return nil, store.Translate(err, "Registration not found")
		}
		return reg, nil
	case err != nil:
		return nil, store.Translate(err, "Registration not found")
	case reg.Status.Counted():
		return nil, apperr.BusinessRule("You are already registered for this event")
	}

	reg.Status = models.RegistrationPending
	reg.PaymentStatus = models.PaymentPending
	reg.PaymentAmount = e.Price
	reg.CancelledAt = nil
	reg.CancelReason = ""
	if err := repos.Registrations().Update(ctx, reg); err != nil {
		return nil, store.Translate(err, "Registration not found")
	}
	return reg, nil
}

func (s *Service) failCheckout(ctx context.Context, txn *models.PaymentTransaction, cause error) error {
	s.logger.Error("Gateway charge failed", zap.Error(cause), zap.String("transaction_id", txn.TransactionID))
	err := s.store.Atomic(ctx, func(repos store.Repositories) error {
		_, err := transition(ctx, repos, txn, models.PaymentFailed)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to mark checkout failed", zap.Error(err), zap.String("transaction_id", txn.TransactionID))
	}
	msg := msgGatewayUnavailable
	var gwErr *gateway.Error
	if errors.As(cause, &gwErr) && gwErr.Message != "" {
		msg = gwErr.Message
	}
	return apperr.Wrap(apperr.KindUnavailable, msg, cause)
}

// Verify settles a checkout from the client redirect. userID, when set, must
// own the transaction.
func (s *Service) Verify(ctx context.Context, invoiceID string, userID *uuid.UUID) (*VerifyResult, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, apperr.Validation("Invoice ID is required for payment verification")
	}

	local, err := s.store.Payments().GetByInvoiceID(ctx, invoiceID)
	switch {
	case err == nil:
		if userID != nil && local.UserID != *userID {
			return nil, apperr.Forbidden("You are not authorized to verify this payment")
		}
		if local.Status == models.PaymentCompleted {
			return s.completedResult(ctx, local, true)
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, store.Translate(err, "Transaction not found")
	}

	start := time.Now()
	out, err := s.gateway.Verify(ctx, invoiceID)
	metrics.ObserveGateway("verify", start, err)
	if err != nil {
		s.logger.Error("Gateway verification failed", zap.Error(err), zap.String("invoice_id", invoiceID))
		return nil, apperr.Upstream("Failed to verify payment with gateway", err)
	}
	if out.InvoiceID == "" {
		out.InvoiceID = invoiceID
	}

	switch out.Status {
	case gateway.StatusPending:
		return &VerifyResult{
			Success: false,
			Message: "Payment is still being processed. Please wait a few moments and try again.",
			Status:  models.PaymentPending,
		}, nil
	case gateway.StatusFailed:
		txn, err := s.fail(ctx, out)
		if err != nil {
			return nil, err
		}
		res := &VerifyResult{Success: false, Message: "Payment failed or was cancelled. Please try again.", Status: models.PaymentFailed}
		if txn != nil {
			res.TransactionID = txn.TransactionID
			res.InvoiceID = txn.InvoiceID
		}
		return res, nil
	}

	txn, already, err := s.complete(ctx, out, userID)
	if err != nil {
		return nil, err
	}
	return s.completedResult(ctx, txn, already)
}

func (s *Service) completedResult(ctx context.Context, txn *models.PaymentTransaction, already bool) (*VerifyResult, error) {
	res := &VerifyResult{
		Success:          true,
		Message:          "Payment verified successfully",
		AlreadyProcessed: already,
		TransactionID:    txn.TransactionID,
		InvoiceID:        txn.InvoiceID,
		Status:           txn.Status,
		Amount:           &txn.Amount,
		RegistrationID:   &txn.RegistrationID,
		EventID:          &txn.EventID,
	}
	if already {
		res.Message = "Payment already verified"
	}
	reg, err := s.store.Registrations().GetByID(ctx, txn.RegistrationID)
	if err != nil {
		return nil, store.Translate(err, "Registration not found")
	}
	res.RegistrationNumber = reg.RegistrationNumber
	return res, nil
}

// lookup finds the transaction an outcome refers to, by local transaction id
// first and gateway invoice second.
func lookup(ctx context.Context, repos store.Repositories, out *gateway.Outcome) (*models.PaymentTransaction, error) {
	if id := strings.TrimSpace(out.Metadata.TransactionID); id != "" {
		txn, err := repos.Payments().GetByTransactionID(ctx, id)
		if err == nil || !errors.Is(err, store.ErrNotFound) {
			return txn, err
		}
	}
	if out.InvoiceID == "" {
		return nil, store.ErrNotFound
	}
	return repos.Payments().GetByInvoiceID(ctx, out.InvoiceID)
}

// fail marks a pending transaction failed. The registration stays pending so
// the user can retry. It returns nil when the transaction is unknown.
func (s *Service) fail(ctx context.Context, out *gateway.Outcome) (*models.PaymentTransaction, error) {
	var txn *models.PaymentTransaction
	err := s.store.Atomic(ctx, func(repos store.Repositories) error {
		t, err := lookup(ctx, repos, out)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return store.Translate(err, "Transaction not found")
		}
		txn = t
		if t.Status != models.PaymentPending {
			return nil
		}
		now := s.now()
		t.GatewayResponse = out.Raw
		t.VerificationAttempts++
		t.LastVerifiedAt = &now
		if t.InvoiceID == "" {
			t.InvoiceID = out.InvoiceID
		}
		_, err = transition(ctx, repos, t, models.PaymentFailed)
		return err
	})
	if err != nil {
		return nil, store.Translate(err, "Transaction not found")
	}
	if txn != nil {
		s.logger.Info("Payment failed at gateway", zap.String("transaction_id", txn.TransactionID))
	}
	return txn, nil
}

// complete settles a gateway-completed payment with the event row locked. It
// reports already=true when the transaction was completed before, in which
// case nothing is written and no email is sent.
func (s *Service) complete(ctx context.Context, out *gateway.Outcome, userID *uuid.UUID) (txn *models.PaymentTransaction, already bool, err error) {
	now := s.now()
	var (
		event        *models.Event
		reg          *models.Registration
		overCapacity bool
	)
	err = s.store.Atomic(ctx, func(repos store.Repositories) error {
		t, err := lookup(ctx, repos, out)
		if err != nil {
			return store.Translate(err, "Transaction not found")
		}
		if userID != nil && t.UserID != *userID {
			return apperr.Forbidden("You are not authorized to verify this payment")
		}
		e, err := repos.Events().GetByIDForUpdate(ctx, t.EventID)
		if err != nil {
			return store.Translate(err, "Event not found")
		}
		// Re-read under the event lock so a concurrent settlement is observed.
		t, err = repos.Payments().GetByTransactionID(ctx, t.TransactionID)
		if err != nil {
			return store.Translate(err, "Transaction not found")
		}
		switch t.Status {
		case models.PaymentCompleted:
			txn, already = t, true
			return nil
		case models.PaymentPending:
		default:
			s.logger.Warn("Gateway completed a payment that is no longer pending, manual reconciliation required",
				zap.String("transaction_id", t.TransactionID),
				zap.String("status", string(t.Status)),
				zap.String("invoice_id", out.InvoiceID),
			)
			return apperr.BusinessRule(fmt.Sprintf("Payment is already %s", t.Status))
		}
		if out.Amount.Sub(t.Amount).Abs().GreaterThan(amountTolerance) {
			s.logger.Warn("Gateway amount mismatch",
				zap.String("transaction_id", t.TransactionID),
				zap.String("expected", t.Amount.String()),
				zap.String("received", out.Amount.String()),
			)
			return apperr.Validation("Payment amount mismatch")
		}

		r, err := repos.Registrations().GetByID(ctx, t.RegistrationID)
		if err != nil {
			return store.Translate(err, "Registration not found")
		}

		if t.InvoiceID == "" {
			t.InvoiceID = out.InvoiceID
		}
		t.PaidAt = &now
		t.LastVerifiedAt = &now
		t.VerificationAttempts++
		t.PaymentMethod = out.PaymentMethod
		t.SenderNumber = out.SenderNumber
		t.GatewayTransactionID = out.GatewayTransactionID
		t.GatewayResponse = out.Raw
		ok, err := transition(ctx, repos, t, models.PaymentCompleted)
		if err != nil {
			return err
		}
		if !ok {
			txn, already = t, true
			return nil
		}

		if !r.Status.Counted() && e.AtCapacity() {
			t.RefundedAt = &now
			t.RefundReason = reasonCapacity
			if _, err := transition(ctx, repos, t, models.PaymentRefunded); err != nil {
				return err
			}
			r.Status = models.RegistrationRefunded
			r.PaymentStatus = models.PaymentRefunded
			r.CancelledAt = &now
			r.CancelReason = reasonCapacity
			if err := repos.Registrations().Update(ctx, r); err != nil {
				return store.Translate(err, "Registration not found")
			}
			overCapacity = true
			txn = t
			return nil
		}

		counted := r.Status.Counted()
		r.Confirm(models.PaymentCompleted, now)
		r.PaymentAmount = t.Amount
		if err := repos.Registrations().Update(ctx, r); err != nil {
			return store.Translate(err, "Registration not found")
		}
		if !counted {
			e.AddParticipant()
			if err := repos.Events().UpdateCapacity(ctx, e); err != nil {
				return store.Translate(err, "Event not found")
			}
		}
		txn, event, reg = t, e, r
		return nil
	})
	if err != nil {
		return nil, false, store.Translate(err, "Transaction not found")
	}
	if overCapacity {
		s.logger.Warn("Payment completed for a full event, refund required",
			zap.String("transaction_id", txn.TransactionID),
			zap.String("event_id", txn.EventID.String()),
		)
		return nil, false, apperr.Conflict(msgCapacityRefund)
	}
	if already {
		return txn, true, nil
	}

	s.logger.Info("Payment completed",
		zap.String("transaction_id", txn.TransactionID),
		zap.String("registration_id", reg.ID.String()),
		zap.String("amount", txn.Amount.String()),
	)
	s.notifyCompleted(ctx, event, reg, txn)
	return txn, false, nil
}

func (s *Service) notifyCompleted(ctx context.Context, event *models.Event, reg *models.Registration, txn *models.PaymentTransaction) {
	if s.notifier == nil {
		return
	}
	user, err := s.store.Users().GetByID(ctx, reg.UserID)
	if err != nil {
		s.logger.Warn("Skipping payment emails, user lookup failed", zap.Error(err))
		return
	}
	if err := s.notifier.PaymentSucceeded(ctx, user, event, reg, txn); err != nil {
		s.logger.Warn("Payment success email failed", zap.Error(err), zap.String("transaction_id", txn.TransactionID))
	}
	if event.HasAccessLink() {
		if err := s.notifier.EventAccessLink(ctx, user, event, reg); err != nil {
			s.logger.Warn("Access link email failed", zap.Error(err), zap.String("transaction_id", txn.TransactionID))
		}
	}
}

// HandleWebhook applies a gateway notification. The API key is checked before
// the body is looked at.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, apiKey, ip string) (*WebhookResult, error) {
	if s.cfg.WebhookAPIKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.cfg.WebhookAPIKey)) != 1 {
		s.logger.Warn("Rejected webhook with invalid API key", zap.String("ip", ip))
		return nil, apperr.Unauthorized("Unauthorized webhook request")
	}
	out, err := gateway.ParseNotification(body)
	if err != nil {
		s.logger.Warn("Rejected malformed webhook", zap.String("ip", ip), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindValidation, "Invalid webhook payload", err)
	}

	txnID := out.Metadata.TransactionID
	existing, err := s.store.Payments().GetByTransactionID(ctx, txnID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Webhook for unknown transaction", zap.String("transaction_id", txnID), zap.String("ip", ip))
		return &WebhookResult{Processed: false, Message: "Transaction not found", TransactionID: txnID}, nil
	}
	if err != nil {
		return nil, store.Translate(err, "Transaction not found")
	}
	if existing.Status == models.PaymentCompleted {
		return &WebhookResult{Processed: false, Message: "Already processed", TransactionID: txnID}, nil
	}

	s.logger.Info("Webhook received",
		zap.String("transaction_id", txnID),
		zap.String("status", out.Status.String()),
		zap.String("ip", ip),
	)
	switch out.Status {
	case gateway.StatusPending:
		return &WebhookResult{Processed: false, Message: "Payment still pending", TransactionID: txnID}, nil
	case gateway.StatusFailed:
		if _, err := s.fail(ctx, out); err != nil {
			return nil, err
		}
		return &WebhookResult{Processed: true, Message: "Payment marked as failed", TransactionID: txnID}, nil
	}

	_, already, err := s.complete(ctx, out, nil)
	if err != nil {
		return nil, err
	}
	if already {
		return &WebhookResult{Processed: false, Message: "Already processed", TransactionID: txnID}, nil
	}
	return &WebhookResult{Processed: true, Message: "Payment processed successfully", TransactionID: txnID}, nil
}

// releaseRegistration cancels a registration still waiting on payment.
func releaseRegistration(ctx context.Context, repos store.Repositories, registrationID uuid.UUID, reason string, now time.Time) error {
	reg, err := repos.Registrations().GetByID(ctx, registrationID)
	if err != nil {
		return store.Translate(err, "Registration not found")
	}
	if reg.Status != models.RegistrationPending {
		return nil
	}
	reg.Cancel(models.PaymentFailed, reason, now)
	if err := repos.Registrations().Update(ctx, reg); err != nil {
		return store.Translate(err, "Registration not found")
	}
	return nil
}

// Cancel abandons a pending checkout. Only its owner or an admin may cancel it.
func (s *Service) Cancel(ctx context.Context, transactionID string, userID uuid.UUID, isAdmin bool) (*models.PaymentTransaction, error) {
	now := s.now()
	var txn *models.PaymentTransaction
	err := s.store.Atomic(ctx, func(repos store.Repositories) error {
		t, err := repos.Payments().GetByTransactionID(ctx, transactionID)
		if err != nil {
			return store.Translate(err, "Transaction not found")
		}
		if t.UserID != userID && !isAdmin {
			return apperr.Forbidden("You are not authorized to cancel this payment")
		}
		if t.Status != models.PaymentPending {
			return apperr.BusinessRule(fmt.Sprintf("Cannot cancel payment with status: %s", t.Status))
		}
		ok, err := transition(ctx, repos, t, models.PaymentCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.BusinessRule("Payment was already processed")
		}
		if err := releaseRegistration(ctx, repos, t.RegistrationID, reasonUserCancelled, now); err != nil {
			return err
		}
		txn = t
		return nil
	})
	if err != nil {
		return nil, store.Translate(err, "Transaction not found")
	}
	s.logger.Info("Payment cancelled", zap.String("transaction_id", transactionID), zap.String("by", userID.String()))
	return txn, nil
}

// ExpirePending expires every pending transaction past its deadline and
// returns how many were expired.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	now := s.now()
	expired := 0
	for {
		batch, err := s.store.Payments().ListExpired(ctx, now, expireBatch)
		if err != nil {
			return expired, store.Translate(err, "Transaction not found")
		}
		progressed := 0
		for i := range batch {
			t := &batch[i]
			var ok bool
			err := s.store.Atomic(ctx, func(repos store.Repositories) error {
				var err error
				ok, err = transition(ctx, repos, t, models.PaymentExpired)
				if err != nil || !ok {
					return err
				}
				return releaseRegistration(ctx, repos, t.RegistrationID, reasonTimeout, now)
			})
			if err != nil {
				s.logger.Error("Failed to expire payment", zap.Error(err), zap.String("transaction_id", t.TransactionID))
				continue
			}
			if ok {
				progressed++
			}
		}
		expired += progressed
		if len(batch) < expireBatch || progressed == 0 {
			break
		}
	}
	if expired > 0 {
		s.logger.Info("Expired pending payments", zap.Int("count", expired))
	}
	return expired, nil
}

// Refund marks a completed payment refunded, releases its seat and revokes any
// certificate of the registration.
func (s *Service) Refund(ctx context.Context, in RefundInput) (*models.PaymentTransaction, error) {
	reason := strings.TrimSpace(in.Reason)
	if len([]rune(reason)) < minRefundReason {
		return nil, apperr.Validation(fmt.Sprintf("Refund reason must be at least %d characters", minRefundReason))
	}

	now := s.now()
	var (
		txn   *models.PaymentTransaction
		event *models.Event
	)
	err := s.store.Atomic(ctx, func(repos store.Repositories) error {
		t, err := repos.Payments().GetByTransactionID(ctx, in.TransactionID)
		if err != nil {
			return store.Translate(err, "Transaction not found")
		}
		if t.Status != models.PaymentCompleted {
			return apperr.BusinessRule("Only completed payments can be refunded")
		}
		e, err := repos.Events().GetByIDForUpdate(ctx, t.EventID)
		if err != nil {
			return store.Translate(err, "Event not found")
		}

		adminID := in.AdminID
		t.RefundedAt = &now
		t.RefundReason = reason
		t.RefundedBy = &adminID
		ok, err := transition(ctx, repos, t, models.PaymentRefunded)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.BusinessRule("Only completed payments can be refunded")
		}

		r, err := repos.Registrations().GetByID(ctx, t.RegistrationID)
		if err != nil {
			return store.Translate(err, "Registration not found")
		}
		counted := r.Status.Counted()
		r.Status = models.RegistrationRefunded
		r.PaymentStatus = models.PaymentRefunded
		r.CancelledAt = &now
		r.CancelReason = reason
		if err := repos.Registrations().Update(ctx, r); err != nil {
			return store.Translate(err, "Registration not found")
		}
		if counted {
			e.RemoveParticipant()
			if err := repos.Events().UpdateCapacity(ctx, e); err != nil {
				return store.Translate(err, "Event not found")
			}
		}
		if err := repos.Certificates().DeleteByRegistrationID(ctx, r.ID); err != nil {
			return store.Translate(err, "Certificate not found")
		}
		txn, event = t, e
		return nil
	})
	if err != nil {
		return nil, store.Translate(err, "Transaction not found")
	}
	s.logger.Info("Payment refunded",
		zap.String("transaction_id", txn.TransactionID),
		zap.String("admin_id", in.AdminID.String()),
		zap.String("amount", txn.Amount.String()),
	)

	if s.notifier != nil {
		user, err := s.store.Users().GetByID(ctx, txn.UserID)
		if err != nil {
			s.logger.Warn("Skipping refund email, user lookup failed", zap.Error(err))
		} else if err := s.notifier.PaymentRefunded(ctx, user, event, txn); err != nil {
			s.logger.Warn("Refund email failed", zap.Error(err), zap.String("transaction_id", txn.TransactionID))
		}
	}
	return txn, nil
}

// GetTransaction returns a transaction to its owner or an admin.
func (s *Service) GetTransaction(ctx context.Context, transactionID string, userID uuid.UUID, isAdmin bool) (*models.PaymentTransaction, error) {
	txn, err := s.store.Payments().GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, store.Translate(err, "Transaction not found")
	}
	if txn.UserID != userID && !isAdmin {
		return nil, apperr.Forbidden("Access denied")
	}
	return txn, nil
}

func clampPage(page, limit, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = def
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func (s *Service) list(ctx context.Context, f store.PaymentFilter, page, limit int) (*Page, error) {
	f.Limit = limit
	f.Offset = (page - 1) * limit
	items, total, err := s.store.Payments().List(ctx, f)
	if err != nil {
		return nil, store.Translate(err, "Transaction not found")
	}
	if items == nil {
		items = []models.PaymentTransaction{}
	}
	return &Page{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// ListMine returns the user's transactions, newest first.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID, page, limit int) (*Page, error) {
	page, limit = clampPage(page, limit, 10)
	return s.list(ctx, store.PaymentFilter{UserID: &userID}, page, limit)
}

// ListAll returns all transactions, optionally filtered by status.
func (s *Service) ListAll(ctx context.Context, status *models.PaymentStatus, page, limit int) (*Page, error) {
	page, limit = clampPage(page, limit, 50)
	return s.list(ctx, store.PaymentFilter{Status: status}, page, limit)
}
