package persist

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// VariableRepo is the Postgres-backed per-player key/value store.
// Values are stored as BIGINT; booleans map to 0/1.
type VariableRepo struct {
	db *DB
}

func NewVariableRepo(db *DB) *VariableRepo {
	return &VariableRepo{db: db}
}

func (r *VariableRepo) GetLong(ctx context.Context, playerID int64, key string, def int64) (int64, error) {
	var v int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT value FROM player_variables WHERE player_id = $1 AND key = $2`,
		playerID, key,
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	return v, nil
}

func (r *VariableRepo) GetBool(ctx context.Context, playerID int64, key string, def bool) (bool, error) {
	d := int64(0)
	if def {
		d = 1
	}
	v, err := r.GetLong(ctx, playerID, key, d)
	if err != nil {
		return def, err
	}
	return v != 0, nil
}

func (r *VariableRepo) SetLong(ctx context.Context, playerID int64, key string, val int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO player_variables (player_id, key, value, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (player_id, key) DO UPDATE SET value = $3, updated_at = NOW()`,
		playerID, key, val,
	)
	return err
}

func (r *VariableRepo) SetBool(ctx context.Context, playerID int64, key string, val bool) error {
	v := int64(0)
	if val {
		v = 1
	}
	return r.SetLong(ctx, playerID, key, v)
}
