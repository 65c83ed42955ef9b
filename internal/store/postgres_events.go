package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oriyet/backend/internal/lookup"
	"github.com/oriyet/backend/internal/models"
)

type pgUsers struct{ *pgRepos }

const userColumns = `u.id, u.name, u.email, u.password_hash, u.phone, ur.code, u.created_at, u.updated_at
	FROM users u JOIN user_roles ur ON ur.id = u.role_id`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.Phone, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (r *pgUsers) Create(ctx context.Context, u *models.User) error {
	roleID, err := r.ids.Resolve(ctx, lookup.UserRoles, string(u.Role))
	if err != nil {
		return err
	}
	const q = `INSERT INTO users (name, email, password_hash, phone, role_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	err = r.db.QueryRow(ctx, q, u.Name, u.Email, u.Password, u.Phone, roleID).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return uniqueViolation(err)
}

func (r *pgUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` WHERE u.id = $1`, id))
}

func (r *pgUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` WHERE lower(u.email) = lower($1)`, email))
}

type pgEvents struct{ *pgRepos }

const eventColumns = `e.id, e.title, e.slug, e.description, m.code, s.code, w.code,
	e.starts_at, e.ends_at, e.registration_deadline, e.max_participants, e.current_participants,
	e.price, e.currency, e.online_link, e.online_platform, e.venue, e.has_certificate, e.created_at, e.updated_at
	FROM events e
	JOIN event_modes m ON m.id = e.mode_id
	JOIN event_statuses s ON s.id = e.event_status_id
	JOIN registration_statuses w ON w.id = e.registration_status_id`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	var mode, status, window string
	err := row.Scan(&e.ID, &e.Title, &e.Slug, &e.Description, &mode, &status, &window,
		&e.StartsAt, &e.EndsAt, &e.RegistrationDeadline, &e.MaxParticipants, &e.CurrentParticipants,
		&e.Price, &e.Currency, &e.OnlineLink, &e.OnlinePlatform, &e.Venue, &e.HasCertificate, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	e.Mode = models.EventMode(mode)
	e.Status = models.EventStatus(status)
	e.RegistrationStatus = models.RegistrationWindow(window)
	return &e, nil
}

func (r *pgEvents) Create(ctx context.Context, e *models.Event) error {
	modeID, err := r.ids.Resolve(ctx, lookup.EventModes, string(e.Mode))
	if err != nil {
		return err
	}
	statusID, err := r.ids.Resolve(ctx, lookup.EventStatuses, string(e.Status))
	if err != nil {
		return err
	}
	windowID, err := r.ids.Resolve(ctx, lookup.RegistrationWindows, string(e.RegistrationStatus))
	if err != nil {
		return err
	}
	const q = `INSERT INTO events (title, slug, description, mode_id, event_status_id, registration_status_id,
			starts_at, ends_at, registration_deadline, max_participants, current_participants,
			price, currency, online_link, online_platform, venue, has_certificate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`
	err = r.db.QueryRow(ctx, q, e.Title, e.Slug, e.Description, modeID, statusID, windowID,
		e.StartsAt, e.EndsAt, e.RegistrationDeadline, e.MaxParticipants, e.CurrentParticipants,
		e.Price, e.Currency, e.OnlineLink, e.OnlinePlatform, e.Venue, e.HasCertificate).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	return uniqueViolation(err)
}

func (r *pgEvents) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` WHERE e.id = $1`, id))
}

func (r *pgEvents) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` WHERE e.id = $1 FOR UPDATE OF e`, id))
}

func (r *pgEvents) UpdateCapacity(ctx context.Context, e *models.Event) error {
	windowID, err := r.ids.Resolve(ctx, lookup.RegistrationWindows, string(e.RegistrationStatus))
	if err != nil {
		return err
	}
	const q = `UPDATE events SET current_participants = $2, registration_status_id = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	return notFound(r.db.QueryRow(ctx, q, e.ID, e.CurrentParticipants, windowID).Scan(&e.UpdatedAt))
}

func (r *pgEvents) UpdateStatus(ctx context.Context, id uuid.UUID, status models.EventStatus, window models.RegistrationWindow) error {
	statusID, err := r.ids.Resolve(ctx, lookup.EventStatuses, string(status))
	if err != nil {
		return err
	}
	windowID, err := r.ids.Resolve(ctx, lookup.RegistrationWindows, string(window))
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `UPDATE events SET event_status_id = $2, registration_status_id = $3, updated_at = NOW() WHERE id = $1`,
		id, statusID, windowID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgEvents) ListByStatus(ctx context.Context, statuses ...models.EventStatus) ([]models.Event, error) {
	codes := make([]string, len(statuses))
	for i, s := range statuses {
		codes[i] = string(s)
	}
	rows, err := r.db.Query(ctx, `SELECT `+eventColumns+` WHERE s.code = ANY($1) ORDER BY e.starts_at`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}
