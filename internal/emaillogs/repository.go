// Package emaillogs keeps the audit trail of notification emails.
package emaillogs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
)

// Store persists email logs.
type Store interface {
	Create(ctx context.Context, el *models.EmailLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EmailLog, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed records a failed attempt and its error.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.EmailLog, error)
}

// Repository handles email_logs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an email logs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const emailLogColumns = `id, event_id, registration_id, email_type, recipient_email, subject, status, attempts, sent_at, error_message, created_at`

func scanEmailLog(row pgx.Row) (*models.EmailLog, error) {
	var el models.EmailLog
	if err := row.Scan(&el.ID, &el.EventID, &el.RegistrationID, &el.EmailType, &el.RecipientEmail, &el.Subject,
		&el.Status, &el.Attempts, &el.SentAt, &el.ErrorMessage, &el.CreatedAt); err != nil {
		return nil, err
	}
	return &el, nil
}

// Create inserts a pending log entry.
func (r *Repository) Create(ctx context.Context, el *models.EmailLog) error {
	if el.Status == "" {
		el.Status = models.EmailLogStatusPending
	}
	const q = `INSERT INTO email_logs (event_id, registration_id, email_type, recipient_email, subject, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, el.EventID, el.RegistrationID, el.EmailType, el.RecipientEmail, el.Subject, el.Status).
		Scan(&el.ID, &el.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

// GetByID returns one log entry.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.EmailLog, error) {
	el, err := scanEmailLog(r.pool.QueryRow(ctx, `SELECT `+emailLogColumns+` FROM email_logs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return el, err
}

// MarkSent records a successful delivery.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE email_logs SET status = 'sent', sent_at = $2, attempts = attempts + 1, error_message = '' WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MarkFailed records a failed delivery attempt.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE email_logs SET status = 'failed', attempts = attempts + 1, error_message = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("mark email failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListByEvent returns email logs for an event, newest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.EmailLog, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+emailLogColumns+` FROM email_logs WHERE event_id = $1 ORDER BY created_at DESC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list email logs: %w", err)
	}
	defer rows.Close()
	list := []models.EmailLog{}
	for rows.Next() {
		el, err := scanEmailLog(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *el)
	}
	return list, rows.Err()
}
