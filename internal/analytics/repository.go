// Package analytics reports per-event registration, revenue and certificate figures.
package analytics

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Summary is the statistics of one event.
type Summary struct {
	TotalRegistrations int             `json:"total_registrations"`
	Pending            int             `json:"pending"`
	Confirmed          int             `json:"confirmed"`
	Attended           int             `json:"attended"`
	Cancelled          int             `json:"cancelled"`
	Refunded           int             `json:"refunded"`
	Paid               int             `json:"paid"`
	Revenue            decimal.Decimal `json:"revenue"`
	CertificatesIssued int             `json:"certificates_issued"`
	EmailsFailed       int             `json:"emails_failed"`
}

// Repository runs the report queries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an analytics repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EventSummary aggregates the figures of one event.
func (r *Repository) EventSummary(ctx context.Context, eventID uuid.UUID) (*Summary, error) {
	var s Summary
	const regQ = `SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE s.code = 'pending'),
			COUNT(*) FILTER (WHERE s.code = 'confirmed'),
			COUNT(*) FILTER (WHERE s.code = 'attended'),
			COUNT(*) FILTER (WHERE s.code = 'cancelled'),
			COUNT(*) FILTER (WHERE s.code = 'refunded'),
			COUNT(*) FILTER (WHERE ps.code = 'completed')
		FROM event_registrations r
		JOIN event_registration_statuses s ON s.id = r.status_id
		JOIN payment_statuses ps ON ps.id = r.payment_status_id
		WHERE r.event_id = $1`
	err := r.pool.QueryRow(ctx, regQ, eventID).Scan(
		&s.TotalRegistrations, &s.Pending, &s.Confirmed, &s.Attended, &s.Cancelled, &s.Refunded, &s.Paid)
	if err != nil {
		return nil, fmt.Errorf("count registrations: %w", err)
	}

	const revenueQ = `SELECT COALESCE(SUM(t.amount), 0)
		FROM payment_transactions t
		JOIN payment_statuses ps ON ps.id = t.status_id
		WHERE t.event_id = $1 AND ps.code = 'completed'`
	if err := r.pool.QueryRow(ctx, revenueQ, eventID).Scan(&s.Revenue); err != nil {
		return nil, fmt.Errorf("sum revenue: %w", err)
	}

	const certQ = `SELECT COUNT(*) FROM certificates WHERE event_id = $1`
	if err := r.pool.QueryRow(ctx, certQ, eventID).Scan(&s.CertificatesIssued); err != nil {
		return nil, fmt.Errorf("count certificates: %w", err)
	}

	const emailQ = `SELECT COUNT(*) FROM email_logs WHERE event_id = $1 AND status = 'failed'`
	if err := r.pool.QueryRow(ctx, emailQ, eventID).Scan(&s.EmailsFailed); err != nil {
		return nil, fmt.Errorf("count failed emails: %w", err)
	}
	return &s, nil
}
