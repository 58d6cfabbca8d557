package repository

import (
	"context"
	"time"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/AlibekovAA/class-schedule/internal/auth/domain"
	"github.com/AlibekovAA/class-schedule/internal/common/clock"
	"github.com/AlibekovAA/class-schedule/internal/common/constants"
	commoncrypto "github.com/AlibekovAA/class-schedule/internal/common/crypto"
	"github.com/AlibekovAA/class-schedule/internal/common/db"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const refreshTokenColumns = `id, token_hash, user_id, expires_at, is_revoked, created_at, updated_at`

type PgRefreshTokenRepository struct {
	pool        *pgxpool.Pool
	clock       clock.Clock
	idGenerator commoncrypto.IDGenerator
}

func NewPgRefreshTokenRepository(pool *pgxpool.Pool, c clock.Clock, idGenerator commoncrypto.IDGenerator) *PgRefreshTokenRepository {
	return &PgRefreshTokenRepository{
		pool:        pool,
		clock:       c,
		idGenerator: idGenerator,
	}
}

func (r *PgRefreshTokenRepository) Create(ctx context.Context, userID domain.UserID, token string, expiresAt time.Time) (domain.RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	id, err := r.idGenerator.NewID()
	if err != nil {
		return domain.RefreshToken{}, err
	}

	now := r.clock.Now()
	rec := domain.RefreshToken{
		ID:        id,
		TokenHash: commoncrypto.HashToken(token),
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	start := time.Now()
	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO refresh_tokens (id, token_hash, user_id, expires_at, is_revoked, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, false, $5, $5)`,
		rec.ID,
		rec.TokenHash,
		string(rec.UserID),
		rec.ExpiresAt,
		now,
	)
	if db.IsUniqueViolation(err) {
		db.MeasureQueryDuration("create refresh token", start)
		return domain.RefreshToken{}, ErrRefreshTokenConflict
	}
	if err := db.HandleExecError(err, "create refresh token", start); err != nil {
		return domain.RefreshToken{}, err
	}
	return rec, nil
}

func (r *PgRefreshTokenRepository) FindActive(ctx context.Context, token string) (domain.RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	return findActive(ctx, r.pool, commoncrypto.HashToken(token), r.clock.Now(), false)
}

func (r *PgRefreshTokenRepository) Consume(ctx context.Context, token string) (domain.RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	hash := commoncrypto.HashToken(token)
	now := r.clock.Now()

	var rec domain.RefreshToken
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		found, err := findActive(ctx, tx, hash, now, true)
		if err != nil {
			return err
		}

		revoked, err := revokeByHash(ctx, tx, hash, now)
		if err != nil {
			return err
		}
		if !revoked {
			return ErrRefreshTokenNotFound
		}

		found.IsRevoked = true
		found.UpdatedAt = now
		rec = found
		return nil
	})
	if err != nil {
		return domain.RefreshToken{}, err
	}
	return rec, nil
}

func (r *PgRefreshTokenRepository) Revoke(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	return revokeByHash(ctx, r.pool, commoncrypto.HashToken(token), r.clock.Now())
}

func (r *PgRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID domain.UserID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	res, err := r.pool.Exec(
		ctx,
		`UPDATE refresh_tokens
		 SET is_revoked = true, updated_at = $2
		 WHERE user_id = $1 AND is_revoked = false`,
		string(userID),
		r.clock.Now(),
	)
	if err := db.HandleExecError(err, "revoke refresh tokens for user", start); err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (r *PgRefreshTokenRepository) RevokeExcessForUser(ctx context.Context, userID domain.UserID, keep int) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	now := r.clock.Now()
	start := time.Now()
	res, err := r.pool.Exec(
		ctx,
		`UPDATE refresh_tokens
		 SET is_revoked = true, updated_at = $3
		 WHERE id IN (
		 	SELECT id
		 	FROM refresh_tokens
		 	WHERE user_id = $1 AND is_revoked = false AND expires_at > $3
		 	ORDER BY created_at DESC, id DESC
		 	OFFSET $2
		 )
		 AND is_revoked = false`,
		string(userID),
		keep,
		now,
	)
	if err := db.HandleExecError(err, "revoke excess refresh tokens", start); err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (r *PgRefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	res, err := r.pool.Exec(
		ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`,
		r.clock.Now(),
	)
	if err := db.HandleExecError(err, "delete expired refresh tokens", start); err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func findActive(ctx context.Context, q querier, hash string, now time.Time, forUpdate bool) (domain.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + `
		 FROM refresh_tokens
		 WHERE token_hash = $1 AND is_revoked = false AND expires_at > $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	start := time.Now()
	row := q.QueryRow(ctx, query, hash, now)

	var (
		rec    domain.RefreshToken
		userID string
	)
	err := row.Scan(&rec.ID, &rec.TokenHash, &userID, &rec.ExpiresAt, &rec.IsRevoked, &rec.CreatedAt, &rec.UpdatedAt)
	if err := db.HandleQueryError(err, ErrRefreshTokenNotFound, "find active refresh token", start); err != nil {
		return domain.RefreshToken{}, err
	}
	rec.UserID = domain.UserID(userID)
	return rec, nil
}

func revokeByHash(ctx context.Context, q querier, hash string, now time.Time) (bool, error) {
	start := time.Now()
	res, err := q.Exec(
		ctx,
		`UPDATE refresh_tokens
		 SET is_revoked = true, updated_at = $2
		 WHERE token_hash = $1 AND is_revoked = false`,
		hash,
		now,
	)
	if err := db.HandleExecError(err, "revoke refresh token", start); err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

var _ RefreshTokenRepository = (*PgRefreshTokenRepository)(nil)
