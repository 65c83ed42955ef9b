package emails

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriyet/backend/internal/emaillogs"
	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/internal/store/storetest"
	"github.com/oriyet/backend/pkg/apperr"
	"github.com/oriyet/backend/pkg/queue"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.EmailPayload
	err  error
}

func (f *fakeQueue) EnqueueEmail(_ context.Context, p queue.EmailPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, p)
	return nil
}

func newNotifier(t *testing.T) (*Notifier, *store.Memory, *emaillogs.Memory, *fakeQueue) {
	t.Helper()
	tpl, err := LoadTemplates()
	require.NoError(t, err)
	s := store.NewMemory()
	logs := emaillogs.NewMemory()
	q := &fakeQueue{}
	return NewNotifier(s, logs, q, tpl, "https://oriyet.test/", nil), s, logs, q
}

func TestTemplatesRenderEveryType(t *testing.T) {
	tpl, err := LoadTemplates()
	require.NoError(t, err)

	for emailType := range subjects {
		msg, err := tpl.Render(emailType, Data{Name: "Nadia", EventTitle: "Go Meetup"})
		require.NoError(t, err, emailType)
		assert.Contains(t, msg.Subject, "Go Meetup")
		assert.Contains(t, msg.HTML, "Hi Nadia")
	}

	_, err = tpl.Render("nope", Data{})
	assert.Error(t, err)
}

func TestTemplatesEscapeHTML(t *testing.T) {
	tpl, err := LoadTemplates()
	require.NoError(t, err)

	msg, err := tpl.Render(models.EmailTypeRegistrationConfirmation, Data{Name: "<script>x</script>", EventTitle: "Talk"})
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestNotifierQueuesAndLogs(t *testing.T) {
	n, s, logs, q := newNotifier(t)
	ctx := context.Background()
	u := storetest.User(t, s, models.RoleUser)
	e := storetest.Event(t, s)
	reg := storetest.Registration(t, s, e, u, models.RegistrationConfirmed, models.PaymentNotRequired)

	require.NoError(t, n.RegistrationConfirmed(ctx, u, e, reg))
	require.NoError(t, n.EventAccessLink(ctx, u, e, reg))

	require.Len(t, q.jobs, 2)
	assert.Equal(t, models.EmailTypeRegistrationConfirmation, q.jobs[0].EmailType)
	assert.Contains(t, q.jobs[0].BodyHTML, reg.RegistrationNumber)
	assert.Contains(t, q.jobs[1].BodyHTML, e.OnlineLink)
	assert.Equal(t, u.Email, q.jobs[1].RecipientEmail)

	list, err := logs.ListByEvent(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, el := range list {
		assert.Equal(t, models.EmailLogStatusPending, el.Status)
	}
}

func TestNotifierMarksLogFailedWhenQueueDown(t *testing.T) {
	n, s, logs, q := newNotifier(t)
	q.err = errors.New("redis down")
	ctx := context.Background()
	u := storetest.User(t, s, models.RoleUser)
	e := storetest.Event(t, s)
	txn := &models.PaymentTransaction{
		TransactionID:  "TXN-1",
		RegistrationID: uuid.New(),
		Amount:         decimal.RequireFromString("500"),
		Currency:       "BDT",
		RefundReason:   "Event was cancelled",
	}

	err := n.PaymentRefunded(ctx, u, e, txn)
	require.Error(t, err)

	list, err := logs.ListByEvent(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.EmailLogStatusFailed, list[0].Status)
	assert.Contains(t, list[0].ErrorMessage, "redis down")
}

func TestResend(t *testing.T) {
	n, s, _, q := newNotifier(t)
	ctx := context.Background()
	u := storetest.User(t, s, models.RoleUser)
	e := storetest.Event(t, s)
	reg := storetest.Registration(t, s, e, u, models.RegistrationConfirmed, models.PaymentNotRequired)

	el, err := n.Resend(ctx, e.ID, reg.ID, models.EmailTypeRegistrationConfirmation)
	require.NoError(t, err)
	assert.Equal(t, models.EmailTypeRegistrationConfirmation, el.EmailType)
	require.Len(t, q.jobs, 1)

	_, err = n.Resend(ctx, uuid.New(), reg.ID, models.EmailTypeRegistrationConfirmation)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = n.Resend(ctx, e.ID, reg.ID, models.EmailTypeCertificateIssued)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = n.Resend(ctx, e.ID, reg.ID, models.EmailTypePaymentSuccess)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestResendRequiresConfirmedRegistration(t *testing.T) {
	n, s, _, _ := newNotifier(t)
	u := storetest.User(t, s, models.RoleUser)
	e := storetest.Event(t, s)
	reg := storetest.Registration(t, s, e, u, models.RegistrationCancelled, models.PaymentNotRequired)

	_, err := n.Resend(context.Background(), e.ID, reg.ID, models.EmailTypeEventAccessLink)
	assert.True(t, apperr.Is(err, apperr.KindBusinessRule))
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.test", Port: 587, Username: "u", Password: "p", From: "no-reply@oriyet.test", FromName: "ORIYET"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	s.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	require.NoError(t, s.Send(context.Background(), "a@example.com", "Hello", "<p>hi</p>"))
	assert.Equal(t, "smtp.test:587", gotAddr)
	assert.Equal(t, []string{"a@example.com"}, gotTo)
	assert.True(t, strings.HasSuffix(gotMsg, "\r\n\r\n<p>hi</p>"))
	assert.Contains(t, gotMsg, "Content-Type: text/html")
}

func TestSMTPSenderHonoursCancelledContext(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.test", Port: 25})
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, "a@example.com", "x", "y"), context.Canceled)
}
