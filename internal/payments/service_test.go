package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/oriyet/backend/internal/gateway"
	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/internal/store/storetest"
	"github.com/oriyet/backend/pkg/apperr"
)

type fakeGateway struct {
	mu          sync.Mutex
	chargeErr   error
	verifyErr   error
	outcomes    map[string]*gateway.Outcome
	charges     []gateway.ChargeRequest
	verifyCalls int
}

func (g *fakeGateway) CreateCharge(_ context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	g.charges = append(g.charges, req)
	invoice := fmt.Sprintf("INV%d", len(g.charges))
	return &gateway.Charge{PaymentURL: "https://pay.example.com/checkout/" + invoice, InvoiceID: invoice}, nil
}

func (g *fakeGateway) Verify(_ context.Context, invoiceID string) (*gateway.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	if out, ok := g.outcomes[invoiceID]; ok {
		return out, nil
	}
	return &gateway.Outcome{Status: gateway.StatusPending, InvoiceID: invoiceID}, nil
}

func (g *fakeGateway) set(out *gateway.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes[out.InvoiceID] = out
}

type fakeNotifier struct {
	mu        sync.Mutex
	succeeded int
	access    int
	refunded  int
}

func (n *fakeNotifier) PaymentSucceeded(context.Context, *models.User, *models.Event, *models.Registration, *models.PaymentTransaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.succeeded++
	return nil
}

func (n *fakeNotifier) EventAccessLink(context.Context, *models.User, *models.Event, *models.Registration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.access++
	return nil
}

func (n *fakeNotifier) PaymentRefunded(context.Context, *models.User, *models.Event, *models.PaymentTransaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refunded++
	return errors.New("smtp down")
}

const webhookKey = "whk_test_key"

type PaymentServiceSuite struct {
	suite.Suite
	ctx      context.Context
	store    *store.Memory
	gateway  *fakeGateway
	notifier *fakeNotifier
	svc      *Service
	user     *models.User
	admin    *models.User
	event    *models.Event
}

func TestPaymentService(t *testing.T) {
	suite.Run(t, new(PaymentServiceSuite))
}

func (s *PaymentServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewMemory()
	s.gateway = &fakeGateway{outcomes: make(map[string]*gateway.Outcome)}
	s.notifier = &fakeNotifier{}
	s.svc = NewService(s.store, s.gateway, s.notifier, Config{WebhookAPIKey: webhookKey}, nil)
	s.user = storetest.User(s.T(), s.store, models.RoleUser)
	s.admin = storetest.User(s.T(), s.store, models.RoleAdmin)
	s.event = storetest.Event(s.T(), s.store, storetest.Price("500"), storetest.Capacity(10))
}

func (s *PaymentServiceSuite) initiate(user *models.User) *Checkout {
	out, err := s.svc.Initiate(s.ctx, InitiateInput{EventID: s.event.ID, UserID: user.ID, IPAddress: "10.0.0.1", UserAgent: "test"})
	s.Require().NoError(err)
	return out
}

func (s *PaymentServiceSuite) completed(checkout *Checkout, amount string) *gateway.Outcome {
	return &gateway.Outcome{
		Status:               gateway.StatusCompleted,
		InvoiceID:            checkout.InvoiceID,
		Amount:               decimal.RequireFromString(amount),
		Metadata:             gateway.Metadata{TransactionID: checkout.TransactionID},
		PaymentMethod:        "bkash",
		SenderNumber:         "01711111111",
		GatewayTransactionID: "GW-1",
		Raw:                  json.RawMessage(`{"status":"COMPLETED"}`),
	}
}

func (s *PaymentServiceSuite) requireKind(err error, kind apperr.Kind, msg string) {
	s.Require().Error(err)
	ae, ok := apperr.From(err)
	s.Require().True(ok, "unclassified error: %v", err)
	s.Equal(kind, ae.Kind)
	if msg != "" {
		s.Equal(msg, ae.Message)
	}
}

func (s *PaymentServiceSuite) participants() int {
	e, err := s.store.Events().GetByID(s.ctx, s.event.ID)
	s.Require().NoError(err)
	return e.CurrentParticipants
}

func (s *PaymentServiceSuite) txn(id string) *models.PaymentTransaction {
	t, err := s.store.Payments().GetByTransactionID(s.ctx, id)
	s.Require().NoError(err)
	return t
}

func (s *PaymentServiceSuite) registration() *models.Registration {
	r, err := s.store.Registrations().GetByEventAndUser(s.ctx, s.event.ID, s.user.ID)
	s.Require().NoError(err)
	return r
}

func (s *PaymentServiceSuite) TestInitiateRejectsFreeEvent() {
	free := storetest.Event(s.T(), s.store)
	_, err := s.svc.Initiate(s.ctx, InitiateInput{EventID: free.ID, UserID: s.user.ID})
	s.requireKind(err, apperr.KindBusinessRule, "This is a free event. Please use the free registration endpoint.")
}

func (s *PaymentServiceSuite) TestInitiateRejectsTamperedAmount() {
	amount := decimal.RequireFromString("1.00")
	_, err := s.svc.Initiate(s.ctx, InitiateInput{EventID: s.event.ID, UserID: s.user.ID, Amount: &amount})
	s.requireKind(err, apperr.KindValidation, "Invalid payment amount")

	near := decimal.RequireFromString("500.005")
	_, err = s.svc.Initiate(s.ctx, InitiateInput{EventID: s.event.ID, UserID: s.user.ID, Amount: &near})
	s.NoError(err)
}

func (s *PaymentServiceSuite) TestInitiateCreatesPendingState() {
	out := s.initiate(s.user)

	s.Equal("INV1", out.InvoiceID)
	s.Equal("https://pay.example.com/checkout/INV1", out.PaymentURL)
	s.WithinDuration(time.Now().Add(DefaultTTL), out.ExpiresAt, 5*time.Second)

	t := s.txn(out.TransactionID)
	s.Equal(models.PaymentPending, t.Status)
	s.Equal("INV1", t.InvoiceID)
	s.Equal("10.0.0.1", t.IPAddress)
	s.True(t.Amount.Equal(decimal.NewFromInt(500)))

	reg := s.registration()
	s.Equal(models.RegistrationPending, reg.Status)
	s.Equal(models.PaymentPending, reg.PaymentStatus)
	s.Equal(0, s.participants())

	s.Require().Len(s.gateway.charges, 1)
	s.Equal("500", s.gateway.charges[0].Amount.String())
	s.Equal(out.TransactionID, s.gateway.charges[0].Metadata.TransactionID)
}

func (s *PaymentServiceSuite) TestInitiateAgainSupersedesPendingCheckout() {
	first := s.initiate(s.user)
	second := s.initiate(s.user)

	s.Equal(first.RegistrationID, second.RegistrationID)
	s.Equal(models.PaymentExpired, s.txn(first.TransactionID).Status)
	s.Equal(models.PaymentPending, s.txn(second.TransactionID).Status)
}

func (s *PaymentServiceSuite) TestInitiateGatewayFailureMarksTransactionFailed() {
	s.gateway.chargeErr = &gateway.Error{StatusCode: 400, Message: "Invalid API key"}
	_, err := s.svc.Initiate(s.ctx, InitiateInput{EventID: s.event.ID, UserID: s.user.ID})
	s.requireKind(err, apperr.KindUnavailable, "Invalid API key")

	page, err := s.svc.ListMine(s.ctx, s.user.ID, 1, 10)
	s.Require().NoError(err)
	s.Require().Len(page.Items, 1)
	s.Equal(models.PaymentFailed, page.Items[0].Status)

	s.gateway.chargeErr = errors.New("dial tcp: timeout")
	_, err = s.svc.Initiate(s.ctx, InitiateInput{EventID: s.event.ID, UserID: s.user.ID})
	s.requireKind(err, apperr.KindUnavailable, msgGatewayUnavailable)
}

func (s *PaymentServiceSuite) TestVerifyCompletesOnceAndCachesResult() {
	out := s.initiate(s.user)
	s.gateway.set(s.completed(out, "500.00"))

	res, err := s.svc.Verify(s.ctx, out.InvoiceID, &s.user.ID)
	s.Require().NoError(err)
	s.True(res.Success)
	s.False(res.AlreadyProcessed)
	s.Equal(models.PaymentCompleted, res.Status)

	reg := s.registration()
	s.Equal(models.RegistrationConfirmed, reg.Status)
	s.Equal(models.PaymentCompleted, reg.PaymentStatus)
	s.NotNil(reg.ConfirmedAt)
	s.Equal(1, s.participants())

	t := s.txn(out.TransactionID)
	s.NotNil(t.PaidAt)
	s.Equal("bkash", t.PaymentMethod)
	s.Equal(1, t.VerificationAttempts)

	again, err := s.svc.Verify(s.ctx, out.InvoiceID, &s.user.ID)
	s.Require().NoError(err)
	s.True(again.Success)
	s.True(again.AlreadyProcessed)
	s.Equal(res.TransactionID, again.TransactionID)
	s.Equal(res.RegistrationNumber, again.RegistrationNumber)

	s.Equal(1, s.gateway.verifyCalls)
	s.Equal(1, s.notifier.succeeded)
	s.Equal(1, s.notifier.access)
	s.Equal(1, s.participants())
}

func (s *PaymentServiceSuite) TestVerifyRequiresInvoice() {
	_, err := s.svc.Verify(s.ctx, "  ", nil)
	s.requireKind(err, apperr.KindValidation, "Invoice ID is required for payment verification")
}

func (s *PaymentServiceSuite) TestVerifyPending() {
	out := s.initiate(s.user)
	res, err := s.svc.Verify(s.ctx, out.InvoiceID, &s.user.ID)
	s.Require().NoError(err)
	s.False(res.Success)
	s.Equal("Payment is still being processed. Please wait a few moments and try again.", res.Message)
	s.Equal(models.PaymentPending, s.txn(out.TransactionID).Status)
}

func (s *PaymentServiceSuite) TestVerifyFailedKeepsRegistrationPending() {
	out := s.initiate(s.user)
	s.gateway.set(&gateway.Outcome{
		Status:    gateway.StatusFailed,
		InvoiceID: out.InvoiceID,
		Metadata:  gateway.Metadata{TransactionID: out.TransactionID},
	})

	res, err := s.svc.Verify(s.ctx, out.InvoiceID, &s.user.ID)
	s.Require().NoError(err)
	s.False(res.Success)
	s.Equal(models.PaymentFailed, s.txn(out.TransactionID).Status)
	s.Equal(models.RegistrationPending, s.registration().Status)
}

func (s *PaymentServiceSuite) TestVerifyGatewayError() {
	out := s.initiate(s.user)
	s.gateway.verifyErr = errors.New("connection reset")
	_, err := s.svc.Verify(s.ctx, out.InvoiceID, &s.user.ID)
	s.requireKind(err, apperr.KindUpstream, "Failed to verify payment with gateway")
}

func (s *PaymentServiceSuite) TestVerifyRejectsOtherUserAndAmountMismatch() {
	out := s.initiate(s.user)
	s.gateway.set(s.completed(out, "499.00"))

	_, err := s.svc.Verify(s.ctx, out.InvoiceID, &s.admin.ID)
	s.requireKind(err, apperr.KindAuthorization, "")

	_, err = s.svc.Verify(s.ctx, out.InvoiceID, &s.user.ID)
	s.requireKind(err, apperr.KindValidation, "Payment amount mismatch")
	s.Equal(models.PaymentPending, s.txn(out.TransactionID).Status)
}

func (s *PaymentServiceSuite) TestCompletionOnFullEventRefunds() {
	s.event = storetest.Event(s.T(), s.store, storetest.Price("500"), storetest.Capacity(1))
	out := s.initiate(s.user)

	other := storetest.User(s.T(), s.store, models.RoleUser)
	storetest.Registration(s.T(), s.store, s.event, other, models.RegistrationConfirmed, models.PaymentCompleted)
	e, err := s.store.Events().GetByID(s.ctx, s.event.ID)
	s.Require().NoError(err)
	e.AddParticipant()
	s.Require().NoError(s.store.Events().UpdateCapacity(s.ctx, e))

	s.gateway.set(s.completed(out, "500"))
	_, err = s.svc.Verify(s.ctx, out.InvoiceID, &s.user.ID)
	s.requireKind(err, apperr.KindConflict, msgCapacityRefund)

	t := s.txn(out.TransactionID)
	s.Equal(models.PaymentRefunded, t.Status)
	s.Equal(reasonCapacity, t.RefundReason)
	reg := s.registration()
	s.Equal(models.RegistrationRefunded, reg.Status)
	s.Equal(models.PaymentRefunded, reg.PaymentStatus)
	s.Equal(1, s.participants())
	s.Equal(0, s.notifier.succeeded)
}

func (s *PaymentServiceSuite) webhookBody(out *Checkout, status string) []byte {
	return []byte(fmt.Sprintf(`{
		"status": %q,
		"invoice_id": %q,
		"amount": "500.00",
		"payment_method": "nagad",
		"sender_number": "01800000000",
		"transaction_id": "GW-77",
		"metadata": {"user_id": %q, "event_id": %q, "transaction_id": %q}
	}`, status, out.InvoiceID, s.user.ID, s.event.ID, out.TransactionID))
}

func (s *PaymentServiceSuite) TestWebhookCompletesPayment() {
	out := s.initiate(s.user)

	res, err := s.svc.HandleWebhook(s.ctx, s.webhookBody(out, "COMPLETED"), webhookKey, "203.0.113.9")
	s.Require().NoError(err)
	s.True(res.Processed)

	reg := s.registration()
	s.Equal(models.RegistrationConfirmed, reg.Status)
	s.Equal(models.PaymentCompleted, reg.PaymentStatus)
	s.True(reg.PaymentAmount.Equal(decimal.NewFromInt(500)))
	s.Equal("GW-77", s.txn(out.TransactionID).GatewayTransactionID)

	again, err := s.svc.HandleWebhook(s.ctx, s.webhookBody(out, "COMPLETED"), webhookKey, "203.0.113.9")
	s.Require().NoError(err)
	s.False(again.Processed)
	s.Equal("Already processed", again.Message)
	s.Equal(1, s.notifier.succeeded)
	s.Equal(1, s.participants())
}

func (s *PaymentServiceSuite) TestVerifyAndWebhookSettleOnce() {
	out := s.initiate(s.user)
	s.gateway.set(s.completed(out, "500"))
	userID := s.user.ID

	const rounds = 8
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := s.svc.Verify(s.ctx, out.InvoiceID, &userID)
			if err == nil && !res.Success {
				err = fmt.Errorf("verify not successful: %s", res.Message)
			}
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := s.svc.HandleWebhook(s.ctx, s.webhookBody(out, "COMPLETED"), webhookKey, "203.0.113.9")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	s.Equal(models.PaymentCompleted, s.txn(out.TransactionID).Status)
	s.Equal(models.RegistrationConfirmed, s.registration().Status)
	s.Equal(1, s.participants())
	s.notifier.mu.Lock()
	defer s.notifier.mu.Unlock()
	s.Equal(1, s.notifier.succeeded)
}

func (s *PaymentServiceSuite) TestWebhookRejectsBadKeyAndPayload() {
	out := s.initiate(s.user)

	_, err := s.svc.HandleWebhook(s.ctx, s.webhookBody(out, "COMPLETED"), "wrong", "")
	s.requireKind(err, apperr.KindUnauthenticated, "Unauthorized webhook request")

	_, err = s.svc.HandleWebhook(s.ctx, []byte(`{"status":"COMPLETED"}`), webhookKey, "")
	s.requireKind(err, apperr.KindValidation, "Invalid webhook payload")

	_, err = s.svc.HandleWebhook(s.ctx, []byte(`{"status":"REVERSED","metadata":{"transaction_id":"x"}}`), webhookKey, "")
	s.requireKind(err, apperr.KindValidation, "Invalid webhook payload")
}

func (s *PaymentServiceSuite) TestWebhookUnknownTransaction() {
	body := []byte(`{"status":"COMPLETED","amount":10,"metadata":{"transaction_id":"TXN-NOPE"}}`)
	res, err := s.svc.HandleWebhook(s.ctx, body, webhookKey, "")
	s.Require().NoError(err)
	s.False(res.Processed)
	s.Equal("Transaction not found", res.Message)
}

func (s *PaymentServiceSuite) TestWebhookFailure() {
	out := s.initiate(s.user)
	res, err := s.svc.HandleWebhook(s.ctx, s.webhookBody(out, "ERROR"), webhookKey, "")
	s.Require().NoError(err)
	s.True(res.Processed)
	s.Equal(models.PaymentFailed, s.txn(out.TransactionID).Status)
}

func (s *PaymentServiceSuite) TestCancelPendingOnlyOnce() {
	out := s.initiate(s.user)

	_, err := s.svc.Cancel(s.ctx, out.TransactionID, s.admin.ID, false)
	s.requireKind(err, apperr.KindAuthorization, "")

	t, err := s.svc.Cancel(s.ctx, out.TransactionID, s.user.ID, false)
	s.Require().NoError(err)
	s.Equal(models.PaymentCancelled, t.Status)

	reg := s.registration()
	s.Equal(models.RegistrationCancelled, reg.Status)
	s.Equal(models.PaymentFailed, reg.PaymentStatus)
	s.Equal(reasonUserCancelled, reg.CancelReason)

	_, err = s.svc.Cancel(s.ctx, out.TransactionID, s.user.ID, false)
	s.requireKind(err, apperr.KindBusinessRule, "Cannot cancel payment with status: cancelled")
}

func (s *PaymentServiceSuite) TestCompletedNeverGoesBack() {
	out := s.initiate(s.user)
	s.gateway.set(s.completed(out, "500"))
	_, err := s.svc.Verify(s.ctx, out.InvoiceID, &s.user.ID)
	s.Require().NoError(err)

	_, err = s.svc.Cancel(s.ctx, out.TransactionID, s.user.ID, false)
	s.requireKind(err, apperr.KindBusinessRule, "Cannot cancel payment with status: completed")

	s.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err := s.svc.ExpirePending(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	_, err = s.svc.HandleWebhook(s.ctx, s.webhookBody(out, "ERROR"), webhookKey, "")
	s.Require().NoError(err)
	s.Equal(models.PaymentCompleted, s.txn(out.TransactionID).Status)
}

func (s *PaymentServiceSuite) TestExpirePending() {
	out := s.initiate(s.user)

	n, err := s.svc.ExpirePending(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	s.svc.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	n, err = s.svc.ExpirePending(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	s.Equal(models.PaymentExpired, s.txn(out.TransactionID).Status)
	reg := s.registration()
	s.Equal(models.RegistrationCancelled, reg.Status)
	s.Equal(reasonTimeout, reg.CancelReason)
}

func (s *PaymentServiceSuite) TestRefundRequiresCompletedPayment() {
	out := s.initiate(s.user)
	_, err := s.svc.Refund(s.ctx, RefundInput{TransactionID: out.TransactionID, AdminID: s.admin.ID, Reason: "customer asked for it"})
	s.requireKind(err, apperr.KindBusinessRule, "Only completed payments can be refunded")

	_, err = s.svc.Refund(s.ctx, RefundInput{TransactionID: out.TransactionID, AdminID: s.admin.ID, Reason: "  too short  "})
	s.requireKind(err, apperr.KindValidation, "")
}

func (s *PaymentServiceSuite) TestRefundReleasesSeatAndCertificate() {
	out := s.initiate(s.user)
	s.gateway.set(s.completed(out, "500"))
	_, err := s.svc.Verify(s.ctx, out.InvoiceID, &s.user.ID)
	s.Require().NoError(err)
	s.Equal(1, s.participants())

	reg := s.registration()
	s.Require().NoError(s.store.Certificates().Create(s.ctx, &models.Certificate{
		CertificateID:  "CERT-AAAAAAAA-BBBB",
		RegistrationID: reg.ID,
		UserID:         s.user.ID,
		EventID:        s.event.ID,
		IssuedAt:       time.Now(),
	}))

	t, err := s.svc.Refund(s.ctx, RefundInput{TransactionID: out.TransactionID, AdminID: s.admin.ID, Reason: "  duplicate charge on card  "})
	s.Require().NoError(err)
	s.Equal(models.PaymentRefunded, t.Status)
	s.Equal("duplicate charge on card", t.RefundReason)
	s.Require().NotNil(t.RefundedBy)
	s.Equal(s.admin.ID, *t.RefundedBy)

	reg = s.registration()
	s.Equal(models.RegistrationRefunded, reg.Status)
	s.Equal(models.PaymentRefunded, reg.PaymentStatus)
	s.Equal(0, s.participants())

	_, err = s.store.Certificates().GetByRegistrationID(s.ctx, reg.ID)
	s.ErrorIs(err, store.ErrNotFound)
	s.Equal(1, s.notifier.refunded)
}

func (s *PaymentServiceSuite) TestGetTransactionAccess() {
	out := s.initiate(s.user)
	other := storetest.User(s.T(), s.store, models.RoleUser)

	_, err := s.svc.GetTransaction(s.ctx, out.TransactionID, other.ID, false)
	s.requireKind(err, apperr.KindAuthorization, "Access denied")

	t, err := s.svc.GetTransaction(s.ctx, out.TransactionID, other.ID, true)
	s.Require().NoError(err)
	s.Equal(out.TransactionID, t.TransactionID)

	_, err = s.svc.GetTransaction(s.ctx, "TXN-MISSING", s.user.ID, false)
	s.requireKind(err, apperr.KindNotFound, "Transaction not found")
}

func (s *PaymentServiceSuite) TestListAllClampsLimit() {
	s.initiate(s.user)
	page, err := s.svc.ListAll(s.ctx, nil, 0, 1000)
	s.Require().NoError(err)
	s.Equal(1, page.Page)
	s.Equal(100, page.Limit)
	s.Equal(1, page.Total)
}
