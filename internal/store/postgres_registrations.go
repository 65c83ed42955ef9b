package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oriyet/backend/internal/lookup"
	"github.com/oriyet/backend/internal/models"
)

type pgRegistrations struct{ *pgRepos }

const registrationColumns = `r.id, r.event_id, r.user_id, r.registration_number, s.code, ps.code,
	r.payment_amount, r.confirmed_at, r.cancelled_at, r.cancel_reason, r.created_at, r.updated_at
	FROM event_registrations r
	JOIN event_registration_statuses s ON s.id = r.status_id
	JOIN payment_statuses ps ON ps.id = r.payment_status_id`

func scanRegistration(row pgx.Row) (*models.Registration, error) {
	var r models.Registration
	var status, payment string
	err := row.Scan(&r.ID, &r.EventID, &r.UserID, &r.RegistrationNumber, &status, &payment,
		&r.PaymentAmount, &r.ConfirmedAt, &r.CancelledAt, &r.CancelReason, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	r.Status = models.RegistrationStatus(status)
	r.PaymentStatus = models.PaymentStatus(payment)
	return &r, nil
}

func (r *pgRegistrations) statusIDs(ctx context.Context, reg *models.Registration) (int16, int16, error) {
	statusID, err := r.ids.Resolve(ctx, lookup.EventRegistrationStatuses, string(reg.Status))
	if err != nil {
		return 0, 0, err
	}
	paymentID, err := r.ids.Resolve(ctx, lookup.PaymentStatuses, string(reg.PaymentStatus))
	if err != nil {
		return 0, 0, err
	}
	return statusID, paymentID, nil
}

func (r *pgRegistrations) Create(ctx context.Context, reg *models.Registration) error {
	statusID, paymentID, err := r.statusIDs(ctx, reg)
	if err != nil {
		return err
	}
	const q = `INSERT INTO event_registrations (event_id, user_id, registration_number, status_id, payment_status_id,
			payment_amount, confirmed_at, cancelled_at, cancel_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	err = r.db.QueryRow(ctx, q, reg.EventID, reg.UserID, reg.RegistrationNumber, statusID, paymentID,
		reg.PaymentAmount, reg.ConfirmedAt, reg.CancelledAt, reg.CancelReason).
		Scan(&reg.ID, &reg.CreatedAt, &reg.UpdatedAt)
	return uniqueViolation(err)
}

func (r *pgRegistrations) GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	return scanRegistration(r.db.QueryRow(ctx, `SELECT `+registrationColumns+` WHERE r.id = $1`, id))
}

func (r *pgRegistrations) GetByEventAndUser(ctx context.Context, eventID, userID uuid.UUID) (*models.Registration, error) {
	return scanRegistration(r.db.QueryRow(ctx, `SELECT `+registrationColumns+` WHERE r.event_id = $1 AND r.user_id = $2`, eventID, userID))
}

func (r *pgRegistrations) Update(ctx context.Context, reg *models.Registration) error {
	statusID, paymentID, err := r.statusIDs(ctx, reg)
	if err != nil {
		return err
	}
	const q = `UPDATE event_registrations
		SET registration_number = $2, status_id = $3, payment_status_id = $4, payment_amount = $5,
			confirmed_at = $6, cancelled_at = $7, cancel_reason = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	err = r.db.QueryRow(ctx, q, reg.ID, reg.RegistrationNumber, statusID, paymentID, reg.PaymentAmount,
		reg.ConfirmedAt, reg.CancelledAt, reg.CancelReason).Scan(&reg.UpdatedAt)
	return uniqueViolation(notFound(err))
}

func (r *pgRegistrations) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Registration, error) {
	rows, err := r.db.Query(ctx, `SELECT `+registrationColumns+` WHERE r.user_id = $1 ORDER BY r.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *reg)
	}
	return list, rows.Err()
}
