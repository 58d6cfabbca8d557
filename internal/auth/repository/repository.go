package repository

import (
	"context"
	"errors"
	"time"

	"github.com/AlibekovAA/class-schedule/internal/auth/domain"
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenConflict = errors.New("refresh token already exists")
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailAlreadyExists   = errors.New("email already exists")
)

// RefreshTokenRepository persists issued refresh tokens. Every state change is
// predicated on the row still being active, so concurrent callers never both
// win a revoke.
type RefreshTokenRepository interface {
	// Create returns ErrRefreshTokenConflict when the token is already stored.
	Create(ctx context.Context, userID domain.UserID, token string, expiresAt time.Time) (domain.RefreshToken, error)
	// FindActive returns ErrRefreshTokenNotFound unless the token exists, is not
	// revoked and has not expired.
	FindActive(ctx context.Context, token string) (domain.RefreshToken, error)
	// Consume atomically finds and revokes an active token. Of several
	// concurrent callers presenting the same token exactly one succeeds; the
	// rest get ErrRefreshTokenNotFound.
	Consume(ctx context.Context, token string) (domain.RefreshToken, error)
	// Revoke reports whether this call flipped the token from active to revoked.
	Revoke(ctx context.Context, token string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID domain.UserID) (bool, error)
	// RevokeExcessForUser keeps the newest keep active tokens of a user and
	// revokes the rest.
	RevokeExcessForUser(ctx context.Context, userID domain.UserID, keep int) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// RevokedTokenRepository is the access-token denylist.
type RevokedTokenRepository interface {
	// Revoke records the token until expiresAt. Recording the same token twice
	// is not an error.
	Revoke(ctx context.Context, token string, userID domain.UserID, expiresAt time.Time) (bool, error)
	IsRevoked(ctx context.Context, token string) (bool, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type UserRepository interface {
	// Create returns ErrEmailAlreadyExists for a duplicate email.
	Create(ctx context.Context, user domain.User) error
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	FindByID(ctx context.Context, id domain.UserID) (domain.User, error)
}

// IsOutcome reports errors that describe data rather than a failing store.
// They must not count as store failures.
func IsOutcome(err error) bool {
	return errors.Is(err, ErrRefreshTokenNotFound) ||
		errors.Is(err, ErrRefreshTokenConflict) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrEmailAlreadyExists)
}
