package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/emaillogs"
	"github.com/oriyet/backend/internal/emails"
	"github.com/oriyet/backend/internal/metrics"
	"github.com/oriyet/backend/pkg/queue"
)

// EmailProcessor delivers queued emails and records the outcome in the email log.
type EmailProcessor struct {
	logs   emaillogs.Store
	sender emails.Sender
	logger *zap.Logger
	now    func() time.Time
}

// NewEmailProcessor creates an email processor.
func NewEmailProcessor(logs emaillogs.Store, sender emails.Sender, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{logs: logs, sender: sender, logger: logger, now: time.Now}
}

// Process sends one email job. A failed send is logged on the email log and
// returned so the job is retried.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.EmailPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("decode email payload: %w", err)
	}

	if err := p.sender.Send(ctx, payload.RecipientEmail, payload.Subject, payload.BodyHTML); err != nil {
		metrics.EmailsSent.WithLabelValues(payload.EmailType, "failed").Inc()
		if mErr := p.logs.MarkFailed(ctx, payload.EmailLogID, err.Error()); mErr != nil {
			p.logger.Warn("mark email failed", zap.Error(mErr), zap.String("email_log_id", payload.EmailLogID.String()))
		}
		return fmt.Errorf("send %s email: %w", payload.EmailType, err)
	}

	metrics.EmailsSent.WithLabelValues(payload.EmailType, "sent").Inc()
	if err := p.logs.MarkSent(ctx, payload.EmailLogID, p.now()); err != nil {
		p.logger.Warn("mark email sent", zap.Error(err), zap.String("email_log_id", payload.EmailLogID.String()))
	}
	p.logger.Info("email sent",
		zap.String("type", payload.EmailType),
		zap.String("email_log_id", payload.EmailLogID.String()),
	)
	return nil
}
