package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oriyet/backend/internal/models"
)

type pgCertificates struct{ *pgRepos }

const certificateColumns = `c.id, c.certificate_id, c.registration_id, c.user_id, c.event_id, c.issued_at,
	c.verification_count, c.last_verified_at, c.document_key, c.created_at, c.updated_at
	FROM certificates c`

func scanCertificate(row pgx.Row) (*models.Certificate, error) {
	var c models.Certificate
	err := row.Scan(&c.ID, &c.CertificateID, &c.RegistrationID, &c.UserID, &c.EventID, &c.IssuedAt,
		&c.VerificationCount, &c.LastVerifiedAt, &c.DocumentKey, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func collectCertificates(rows pgx.Rows) ([]models.Certificate, error) {
	defer rows.Close()
	var list []models.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

func (r *pgCertificates) Create(ctx context.Context, c *models.Certificate) error {
	const q = `INSERT INTO certificates (certificate_id, registration_id, user_id, event_id, issued_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, q, c.CertificateID, c.RegistrationID, c.UserID, c.EventID, c.IssuedAt).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return uniqueViolation(err)
}

func (r *pgCertificates) GetByRegistrationID(ctx context.Context, registrationID uuid.UUID) (*models.Certificate, error) {
	return scanCertificate(r.db.QueryRow(ctx, `SELECT `+certificateColumns+` WHERE c.registration_id = $1`, registrationID))
}

func (r *pgCertificates) GetByCertificateID(ctx context.Context, certificateID string) (*models.Certificate, error) {
	return scanCertificate(r.db.QueryRow(ctx, `SELECT `+certificateColumns+` WHERE c.certificate_id = $1`, certificateID))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *pgCertificates) FindCandidates(ctx context.Context, fragments []string, limit int) ([]models.Certificate, error) {
	if len(fragments) == 0 {
		return nil, nil
	}
	patterns := make([]string, len(fragments))
	for i, f := range fragments {
		patterns[i] = "%" + likeEscaper.Replace(f) + "%"
	}
	rows, err := r.db.Query(ctx, `SELECT `+certificateColumns+` WHERE c.certificate_id ILIKE ANY($1::text[]) ORDER BY c.issued_at DESC LIMIT $2`,
		patterns, limit)
	if err != nil {
		return nil, err
	}
	return collectCertificates(rows)
}

func (r *pgCertificates) RecordVerification(ctx context.Context, v *models.CertificateVerification) error {
	const insertQ = `INSERT INTO certificate_verifications (certificate_id, ip_address, user_agent, match_kind, verified_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := r.db.QueryRow(ctx, insertQ, v.CertificateID, v.IPAddress, v.UserAgent, string(v.MatchKind), v.VerifiedAt).Scan(&v.ID); err != nil {
		return err
	}
	const updateQ = `UPDATE certificates
		SET verification_count = verification_count + 1, last_verified_at = $2, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, updateQ, v.CertificateID, v.VerifiedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgCertificates) Rename(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE certificates SET certificate_id = $3, updated_at = NOW() WHERE id = $1 AND certificate_id = $2`,
		id, from, to)
	if err != nil {
		return false, uniqueViolation(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgCertificates) RecordRepair(ctx context.Context, rep *models.CertificateRepair) error {
	const q = `INSERT INTO certificate_id_repairs (certificate_id, previous_value, repaired_value, similarity, repaired_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	return r.db.QueryRow(ctx, q, rep.CertificateID, rep.PreviousValue, rep.RepairedValue, rep.Similarity, rep.RepairedAt).Scan(&rep.ID)
}

func (r *pgCertificates) SetDocumentKey(ctx context.Context, id uuid.UUID, key string) error {
	tag, err := r.db.Exec(ctx, `UPDATE certificates SET document_key = $2, updated_at = NOW() WHERE id = $1`, id, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgCertificates) DeleteByRegistrationID(ctx context.Context, registrationID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM certificates WHERE registration_id = $1`, registrationID)
	return err
}

func (r *pgCertificates) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Certificate, error) {
	rows, err := r.db.Query(ctx, `SELECT `+certificateColumns+` WHERE c.user_id = $1 ORDER BY c.issued_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectCertificates(rows)
}
