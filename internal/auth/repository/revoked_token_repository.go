package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/AlibekovAA/class-schedule/internal/auth/domain"
	"github.com/AlibekovAA/class-schedule/internal/common/clock"
	"github.com/AlibekovAA/class-schedule/internal/common/constants"
	commoncrypto "github.com/AlibekovAA/class-schedule/internal/common/crypto"
	"github.com/AlibekovAA/class-schedule/internal/common/db"
)

type PgRevokedTokenRepository struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

func NewPgRevokedTokenRepository(pool *pgxpool.Pool, c clock.Clock) *PgRevokedTokenRepository {
	return &PgRevokedTokenRepository{pool: pool, clock: c}
}

func (r *PgRevokedTokenRepository) Revoke(ctx context.Context, token string, userID domain.UserID, expiresAt time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	var uid interface{}
	if userID != "" {
		uid = string(userID)
	}

	start := time.Now()
	res, err := r.pool.Exec(
		ctx,
		`INSERT INTO access_token_denylist (token_hash, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token_hash) DO UPDATE
		 SET expires_at = GREATEST(access_token_denylist.expires_at, EXCLUDED.expires_at)`,
		commoncrypto.HashToken(token),
		uid,
		expiresAt,
		r.clock.Now(),
	)
	if err := db.HandleExecError(err, "insert denylist entry", start); err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (r *PgRevokedTokenRepository) IsRevoked(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`SELECT EXISTS(
			SELECT 1 FROM access_token_denylist
			WHERE token_hash = $1 AND expires_at > $2
		)`,
		commoncrypto.HashToken(token),
		r.clock.Now(),
	)

	var exists bool
	if err := db.HandleQueryError(row.Scan(&exists), nil, "check denylist entry", start); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PgRevokedTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	res, err := r.pool.Exec(
		ctx,
		`DELETE FROM access_token_denylist WHERE expires_at < $1`,
		r.clock.Now(),
	)
	if err := db.HandleExecError(err, "delete expired denylist entries", start); err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

var _ RevokedTokenRepository = (*PgRevokedTokenRepository)(nil)
