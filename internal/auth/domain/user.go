package domain

import "time"

type UserID string

// Identity is what a token asserts about its bearer. The user record is the
// source of truth; tokens only carry a snapshot of it.
type Identity struct {
	ID      UserID
	Email   string
	IsAdmin bool
}

type User struct {
	ID           UserID
	Email        string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

func (u User) Identity() Identity {
	return Identity{ID: u.ID, Email: u.Email, IsAdmin: u.IsAdmin}
}
