package domain

import "time"

// RefreshToken is the persisted record of an issued refresh credential. The
// token itself is never stored, only its hash.
type RefreshToken struct {
	ID        string
	TokenHash string
	UserID    UserID
	ExpiresAt time.Time
	IsRevoked bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the record can still be exchanged at now.
func (t RefreshToken) Active(now time.Time) bool {
	return !t.IsRevoked && t.ExpiresAt.After(now)
}

// DenylistEntry marks an access token as revoked until it would have expired
// on its own.
type DenylistEntry struct {
	TokenHash string
	UserID    UserID
	ExpiresAt time.Time
	CreatedAt time.Time
}

type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
