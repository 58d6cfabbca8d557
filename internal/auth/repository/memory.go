package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AlibekovAA/class-schedule/internal/auth/domain"
	"github.com/AlibekovAA/class-schedule/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/class-schedule/internal/common/crypto"
)

// MemoryRefreshTokenRepository keeps refresh tokens in process. It backs
// STORE_BACKEND=memory and tests; state is lost on restart.
type MemoryRefreshTokenRepository struct {
	mu          sync.Mutex
	byHash      map[string]domain.RefreshToken
	order       map[string]int64
	seq         int64
	clock       clock.Clock
	idGenerator commoncrypto.IDGenerator
}

func NewMemoryRefreshTokenRepository(c clock.Clock, idGenerator commoncrypto.IDGenerator) *MemoryRefreshTokenRepository {
	return &MemoryRefreshTokenRepository{
		byHash:      make(map[string]domain.RefreshToken),
		order:       make(map[string]int64),
		clock:       c,
		idGenerator: idGenerator,
	}
}

func (r *MemoryRefreshTokenRepository) Create(_ context.Context, userID domain.UserID, token string, expiresAt time.Time) (domain.RefreshToken, error) {
	id, err := r.idGenerator.NewID()
	if err != nil {
		return domain.RefreshToken{}, err
	}

	hash := commoncrypto.HashToken(token)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byHash[hash]; exists {
		return domain.RefreshToken{}, ErrRefreshTokenConflict
	}

	now := r.clock.Now()
	r.seq++
	rec := domain.RefreshToken{
		ID:        id,
		TokenHash: hash,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.byHash[hash] = rec
	r.order[hash] = r.seq
	return rec, nil
}

func (r *MemoryRefreshTokenRepository) FindActive(_ context.Context, token string) (domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byHash[commoncrypto.HashToken(token)]
	if !ok || !rec.Active(r.clock.Now()) {
		return domain.RefreshToken{}, ErrRefreshTokenNotFound
	}
	return rec, nil
}

func (r *MemoryRefreshTokenRepository) Consume(_ context.Context, token string) (domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := commoncrypto.HashToken(token)
	now := r.clock.Now()

	rec, ok := r.byHash[hash]
	if !ok || !rec.Active(now) {
		return domain.RefreshToken{}, ErrRefreshTokenNotFound
	}
	rec.IsRevoked = true
	rec.UpdatedAt = now
	r.byHash[hash] = rec
	return rec, nil
}

func (r *MemoryRefreshTokenRepository) Revoke(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := commoncrypto.HashToken(token)
	rec, ok := r.byHash[hash]
	if !ok || rec.IsRevoked {
		return false, nil
	}
	rec.IsRevoked = true
	rec.UpdatedAt = r.clock.Now()
	r.byHash[hash] = rec
	return true, nil
}

func (r *MemoryRefreshTokenRepository) RevokeAllForUser(_ context.Context, userID domain.UserID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	revoked := false
	for hash, rec := range r.byHash {
		if rec.UserID != userID || rec.IsRevoked {
			continue
		}
		rec.IsRevoked = true
		rec.UpdatedAt = now
		r.byHash[hash] = rec
		revoked = true
	}
	return revoked, nil
}

func (r *MemoryRefreshTokenRepository) RevokeExcessForUser(_ context.Context, userID domain.UserID, keep int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var active []domain.RefreshToken
	for _, rec := range r.byHash {
		if rec.UserID == userID && rec.Active(now) {
			active = append(active, rec)
		}
	}
	if len(active) <= keep {
		return 0, nil
	}

	// Newest first.
	sort.Slice(active, func(i, j int) bool {
		return r.order[active[i].TokenHash] > r.order[active[j].TokenHash]
	})

	var n int64
	for _, rec := range active[keep:] {
		rec.IsRevoked = true
		rec.UpdatedAt = now
		r.byHash[rec.TokenHash] = rec
		n++
	}
	return n, nil
}

func (r *MemoryRefreshTokenRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var n int64
	for hash, rec := range r.byHash {
		if rec.ExpiresAt.Before(now) {
			delete(r.byHash, hash)
			delete(r.order, hash)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records, revoked ones included.
func (r *MemoryRefreshTokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHash)
}

type MemoryRevokedTokenRepository struct {
	mu      sync.Mutex
	entries map[string]domain.DenylistEntry
	clock   clock.Clock
}

func NewMemoryRevokedTokenRepository(c clock.Clock) *MemoryRevokedTokenRepository {
	return &MemoryRevokedTokenRepository{
		entries: make(map[string]domain.DenylistEntry),
		clock:   c,
	}
}

func (r *MemoryRevokedTokenRepository) Revoke(_ context.Context, token string, userID domain.UserID, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := commoncrypto.HashToken(token)
	entry, ok := r.entries[hash]
	if !ok {
		entry = domain.DenylistEntry{TokenHash: hash, UserID: userID, CreatedAt: r.clock.Now()}
	}
	if expiresAt.After(entry.ExpiresAt) {
		entry.ExpiresAt = expiresAt
	}
	r.entries[hash] = entry
	return true, nil
}

func (r *MemoryRevokedTokenRepository) IsRevoked(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[commoncrypto.HashToken(token)]
	return ok && entry.ExpiresAt.After(r.clock.Now()), nil
}

func (r *MemoryRevokedTokenRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var n int64
	for hash, entry := range r.entries {
		if entry.ExpiresAt.Before(now) {
			delete(r.entries, hash)
			n++
		}
	}
	return n, nil
}

type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[domain.UserID]domain.User
	byEmail map[string]domain.UserID
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[domain.UserID]domain.User),
		byEmail: make(map[string]domain.UserID),
	}
}

func (r *MemoryUserRepository) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, exists := r.byEmail[key]; exists {
		return ErrEmailAlreadyExists
	}
	r.byID[user.ID] = user
	r.byEmail[key] = user.ID
	return nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id domain.UserID) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

var (
	_ RefreshTokenRepository = (*MemoryRefreshTokenRepository)(nil)
	_ RevokedTokenRepository = (*MemoryRevokedTokenRepository)(nil)
	_ UserRepository         = (*MemoryUserRepository)(nil)
)
