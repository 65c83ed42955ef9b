package lookup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads lookup tables from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a lookup repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadCodes returns code -> id for one lookup table. The table name comes from
// the closed Categories set, never from input.
func (r *Repository) LoadCodes(ctx context.Context, category Category) (map[string]int16, error) {
	if _, ok := Categories[category]; !ok {
		return nil, fmt.Errorf("unknown lookup category %q", category)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, code FROM `+string(category))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	codes := make(map[string]int16)
	for rows.Next() {
		var id int16
		var code string
		if err := rows.Scan(&id, &code); err != nil {
			return nil, err
		}
		codes[code] = id
	}
	return codes, rows.Err()
}
