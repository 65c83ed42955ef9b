package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriyet/backend/internal/lookup"
)

// executor is satisfied by both *pgxpool.Pool and pgx.Tx.
type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the PostgreSQL-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
	*pgRepos
}

// NewPostgres creates a Store over pool. Status codes are translated to lookup ids through ids.
func NewPostgres(pool *pgxpool.Pool, ids *lookup.Resolver) *Postgres {
	return &Postgres{pool: pool, pgRepos: &pgRepos{db: pool, ids: ids}}
}

// Atomic runs fn inside a transaction. It commits when fn returns nil and
// rolls back on error or panic.
func (p *Postgres) Atomic(ctx context.Context, fn AtomicFunc) (err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
			return
		}
		if cErr := tx.Commit(ctx); cErr != nil {
			err = fmt.Errorf("commit transaction: %w", cErr)
		}
	}()
	return fn(&pgRepos{db: tx, ids: p.ids})
}

// pgRepos binds every repository to one executor.
type pgRepos struct {
	db  executor
	ids *lookup.Resolver
}

func (r *pgRepos) Users() UserRepository                 { return &pgUsers{r} }
func (r *pgRepos) Events() EventRepository               { return &pgEvents{r} }
func (r *pgRepos) Registrations() RegistrationRepository { return &pgRegistrations{r} }
func (r *pgRepos) Payments() PaymentRepository           { return &pgPayments{r} }
func (r *pgRepos) Certificates() CertificateRepository   { return &pgCertificates{r} }

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ Store        = (*Postgres)(nil)
	_ Repositories = (*pgRepos)(nil)
)
