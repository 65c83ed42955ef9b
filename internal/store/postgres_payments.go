package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oriyet/backend/internal/lookup"
	"github.com/oriyet/backend/internal/models"
)

type pgPayments struct{ *pgRepos }

const paymentColumns = `p.id, p.transaction_id, p.registration_id, p.user_id, p.event_id, COALESCE(p.invoice_id, ''),
	p.amount, p.currency, g.code, s.code, p.payment_url, p.payment_method, p.sender_number, p.gateway_transaction_id,
	p.gateway_response, p.ip_address, p.user_agent, p.verification_attempts, p.last_verified_at, p.paid_at,
	p.expires_at, p.refunded_at, p.refund_reason, p.refunded_by, p.created_at, p.updated_at
	FROM payment_transactions p
	JOIN payment_gateways g ON g.id = p.gateway_id
	JOIN payment_statuses s ON s.id = p.status_id`

func scanPayment(row pgx.Row) (*models.PaymentTransaction, error) {
	var p models.PaymentTransaction
	var gateway, status string
	var raw []byte
	err := row.Scan(&p.ID, &p.TransactionID, &p.RegistrationID, &p.UserID, &p.EventID, &p.InvoiceID,
		&p.Amount, &p.Currency, &gateway, &status, &p.PaymentURL, &p.PaymentMethod, &p.SenderNumber, &p.GatewayTransactionID,
		&raw, &p.IPAddress, &p.UserAgent, &p.VerificationAttempts, &p.LastVerifiedAt, &p.PaidAt,
		&p.ExpiresAt, &p.RefundedAt, &p.RefundReason, &p.RefundedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	p.Gateway = models.PaymentGateway(gateway)
	p.Status = models.PaymentStatus(status)
	p.GatewayResponse = raw
	return &p, nil
}

func collectPayments(rows pgx.Rows) ([]models.PaymentTransaction, error) {
	defer rows.Close()
	var list []models.PaymentTransaction
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

func (r *pgPayments) Create(ctx context.Context, p *models.PaymentTransaction) error {
	gatewayID, err := r.ids.Resolve(ctx, lookup.PaymentGateways, string(p.Gateway))
	if err != nil {
		return err
	}
	statusID, err := r.ids.Resolve(ctx, lookup.PaymentStatuses, string(p.Status))
	if err != nil {
		return err
	}
	const q = `INSERT INTO payment_transactions (transaction_id, registration_id, user_id, event_id, invoice_id,
			amount, currency, gateway_id, status_id, payment_url, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`
	err = r.db.QueryRow(ctx, q, p.TransactionID, p.RegistrationID, p.UserID, p.EventID, nullString(p.InvoiceID),
		p.Amount, p.Currency, gatewayID, statusID, p.PaymentURL, p.IPAddress, p.UserAgent, p.ExpiresAt).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return uniqueViolation(err)
}

func (r *pgPayments) GetByTransactionID(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` WHERE p.transaction_id = $1`, transactionID))
}

func (r *pgPayments) GetByInvoiceID(ctx context.Context, invoiceID string) (*models.PaymentTransaction, error) {
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` WHERE p.invoice_id = $1`, invoiceID))
}

func (r *pgPayments) AttachInvoice(ctx context.Context, id uuid.UUID, invoiceID, paymentURL string) error {
	tag, err := r.db.Exec(ctx, `UPDATE payment_transactions SET invoice_id = $2, payment_url = $3, updated_at = NOW() WHERE id = $1`,
		id, nullString(invoiceID), paymentURL)
	if err != nil {
		return uniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgPayments) Transition(ctx context.Context, p *models.PaymentTransaction, from models.PaymentStatus) (bool, error) {
	ids, err := r.ids.ResolveAll(ctx, lookup.PaymentStatuses, string(p.Status), string(from))
	if err != nil {
		return false, err
	}
	const q = `UPDATE payment_transactions
		SET status_id = $2, invoice_id = COALESCE($3, invoice_id), payment_method = $4, sender_number = $5,
			gateway_transaction_id = $6, gateway_response = COALESCE($7, gateway_response),
			verification_attempts = $8, last_verified_at = $9, paid_at = $10,
			refunded_at = $11, refund_reason = $12, refunded_by = $13, updated_at = NOW()
		WHERE id = $1 AND status_id = $14`
	tag, err := r.db.Exec(ctx, q, p.ID, ids[0], nullString(p.InvoiceID), p.PaymentMethod, p.SenderNumber,
		p.GatewayTransactionID, nullJSON(p.GatewayResponse),
		p.VerificationAttempts, p.LastVerifiedAt, p.PaidAt,
		p.RefundedAt, p.RefundReason, p.RefundedBy, ids[1])
	if err != nil {
		return false, uniqueViolation(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgPayments) ListPendingByRegistration(ctx context.Context, registrationID uuid.UUID) ([]models.PaymentTransaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` WHERE p.registration_id = $1 AND s.code = $2 ORDER BY p.created_at`,
		registrationID, string(models.PaymentPending))
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func (r *pgPayments) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.PaymentTransaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` WHERE s.code = $1 AND p.expires_at <= $2 ORDER BY p.expires_at LIMIT $3`,
		string(models.PaymentPending), now, limit)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func (r *pgPayments) List(ctx context.Context, f PaymentFilter) ([]models.PaymentTransaction, int, error) {
	var where []string
	var args []any
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, fmt.Sprintf("p.user_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("s.code = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQ := `SELECT COUNT(*) FROM payment_transactions p JOIN payment_statuses s ON s.id = p.status_id` + clause
	if err := r.db.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	q := `SELECT ` + paymentColumns + clause +
		fmt.Sprintf(" ORDER BY p.created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	list, err := collectPayments(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
