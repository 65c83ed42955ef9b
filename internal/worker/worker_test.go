package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriyet/backend/internal/emaillogs"
	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/internal/store/storetest"
	"github.com/oriyet/backend/pkg/queue"
)

func job(t *testing.T, jobType queue.JobType, queueName string, payload interface{}) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: uuid.NewString(), Type: jobType, Queue: queueName, Payload: raw, CreatedAt: time.Now()}
}

type fakeSource struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
	cancel  context.CancelFunc
}

func (f *fakeSource) Dequeue(context.Context, time.Duration, ...string) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		f.cancel()
		return nil, nil
	}
	j := f.jobs[0]
	f.jobs = f.jobs[1:]
	return j, nil
}

func (f *fakeSource) Retry(_ context.Context, j *queue.Job, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, j)
	return nil
}

type processorFunc func(ctx context.Context, job *queue.Job) error

func (f processorFunc) Process(ctx context.Context, job *queue.Job) error { return f(ctx, job) }

func TestRunnerDispatchesAndRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	okJob := job(t, queue.JobTypeEmail, queue.QueueEmails, queue.EmailPayload{})
	badJob := job(t, queue.JobTypeCertificateRender, queue.QueueCertificates, queue.CertificateRenderPayload{})
	unknown := job(t, queue.JobType("mystery"), queue.QueueEmails, struct{}{})
	src := &fakeSource{jobs: []*queue.Job{okJob, badJob, unknown}, cancel: cancel}

	var handled []string
	r := NewRunner(src, nil, queue.QueueEmails, queue.QueueCertificates)
	r.backoff = 0
	r.Handle(queue.JobTypeEmail, processorFunc(func(_ context.Context, j *queue.Job) error {
		handled = append(handled, j.ID)
		return nil
	}))
	r.Handle(queue.JobTypeCertificateRender, processorFunc(func(context.Context, *queue.Job) error {
		return errors.New("s3 down")
	}))

	require.NoError(t, r.Run(ctx))
	assert.Equal(t, []string{okJob.ID}, handled)
	require.Len(t, src.retried, 2)
	assert.Equal(t, badJob.ID, src.retried[0].ID)
	assert.Equal(t, unknown.ID, src.retried[1].ID)
}

func TestRunnerUnknownJobType(t *testing.T) {
	r := NewRunner(&fakeSource{}, nil)
	err := r.Process(context.Background(), &queue.Job{Type: "mystery"})
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

type fakeSender struct {
	err  error
	sent []string
}

func (f *fakeSender) Send(_ context.Context, to, _, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

func TestEmailProcessorMarksLog(t *testing.T) {
	ctx := context.Background()
	logs := emaillogs.NewMemory()
	el := &models.EmailLog{EmailType: models.EmailTypePaymentSuccess, RecipientEmail: "a@example.com"}
	require.NoError(t, logs.Create(ctx, el))
	payload := queue.EmailPayload{EmailLogID: el.ID, EmailType: el.EmailType, RecipientEmail: el.RecipientEmail, Subject: "s", BodyHTML: "<p>b</p>"}

	sender := &fakeSender{err: errors.New("smtp timeout")}
	p := NewEmailProcessor(logs, sender, nil)
	err := p.Process(ctx, job(t, queue.JobTypeEmail, queue.QueueEmails, payload))
	require.Error(t, err)
	got, err := logs.GetByID(ctx, el.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmailLogStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)

	sender.err = nil
	require.NoError(t, p.Process(ctx, job(t, queue.JobTypeEmail, queue.QueueEmails, payload)))
	got, err = logs.GetByID(ctx, el.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmailLogStatusSent, got.Status)
	assert.NotNil(t, got.SentAt)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, []string{"a@example.com"}, sender.sent)
}

type fakeDocs struct {
	puts map[string][]byte
	err  error
}

func (f *fakeDocs) PutCertificate(_ context.Context, key string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.puts[key] = body
	return nil
}

func TestCertificateRendererUploadsOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	u := storetest.User(t, s, models.RoleUser)
	e := storetest.Event(t, s, storetest.Completed())
	reg := storetest.Registration(t, s, e, u, models.RegistrationAttended, models.PaymentNotRequired)
	cert := &models.Certificate{CertificateID: "CERT-ABCD1234-EF56", RegistrationID: reg.ID, UserID: u.ID, EventID: e.ID, IssuedAt: time.Now()}
	require.NoError(t, s.Certificates().Create(ctx, cert))

	docs := &fakeDocs{puts: map[string][]byte{}}
	r := NewCertificateRenderer(s, docs, "https://oriyet.test", nil)
	j := job(t, queue.JobTypeCertificateRender, queue.QueueCertificates, queue.CertificateRenderPayload{RegistrationID: reg.ID})

	require.NoError(t, r.Process(ctx, j))
	require.Len(t, docs.puts, 1)
	for key, body := range docs.puts {
		assert.Contains(t, key, cert.ID.String())
		assert.Contains(t, string(body), "CERT-ABCD1234-EF56")
		assert.Contains(t, string(body), u.Name)
	}
	stored, err := s.Certificates().GetByRegistrationID(ctx, reg.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.DocumentKey)

	docs.err = errors.New("must not upload again")
	require.NoError(t, r.Process(ctx, j))
}

func TestCertificateRendererSkipsDeletedCertificate(t *testing.T) {
	r := NewCertificateRenderer(store.NewMemory(), &fakeDocs{puts: map[string][]byte{}}, "", nil)
	j := job(t, queue.JobTypeCertificateRender, queue.QueueCertificates, queue.CertificateRenderPayload{RegistrationID: uuid.New()})
	assert.NoError(t, r.Process(context.Background(), j))
}

func TestSchedulerRunsTasksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	s := NewScheduler(nil,
		Task{Name: "sweep", Interval: 10 * time.Millisecond, Run: func(context.Context) (int, error) {
			if atomic.AddInt32(&calls, 1) == 3 {
				cancel()
			}
			return 1, nil
		}},
		Task{Name: "disabled", Interval: 0, Run: func(context.Context) (int, error) {
			t.Error("disabled task must not run")
			return 0, nil
		}},
	)

	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}
