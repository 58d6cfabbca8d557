package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/AlibekovAA/class-schedule/internal/auth/domain"
	authrepo "github.com/AlibekovAA/class-schedule/internal/auth/repository"
	"github.com/AlibekovAA/class-schedule/internal/auth/token"
	"github.com/AlibekovAA/class-schedule/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/class-schedule/internal/common/crypto"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
	"github.com/AlibekovAA/class-schedule/internal/common/resilience"
)

var testStart = time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)

const (
	testAccessTTL  = 15 * time.Minute
	testRefreshTTL = 24 * time.Hour
)

type mockUserRepo struct {
	authrepo.UserRepository
	findByEmailFunc func(ctx context.Context, email string) (domain.User, error)
	findByIDFunc    func(ctx context.Context, id domain.UserID) (domain.User, error)
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if m.findByEmailFunc != nil {
		return m.findByEmailFunc(ctx, email)
	}
	return m.UserRepository.FindByEmail(ctx, email)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id domain.UserID) (domain.User, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return m.UserRepository.FindByID(ctx, id)
}

type mockRefreshTokenRepo struct {
	authrepo.RefreshTokenRepository
	createFunc func(ctx context.Context, userID domain.UserID, token string, expiresAt time.Time) (domain.RefreshToken, error)
	revokeFunc func(ctx context.Context, token string) (bool, error)
}

func (m *mockRefreshTokenRepo) Create(ctx context.Context, userID domain.UserID, token string, expiresAt time.Time) (domain.RefreshToken, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, userID, token, expiresAt)
	}
	return m.RefreshTokenRepository.Create(ctx, userID, token, expiresAt)
}

func (m *mockRefreshTokenRepo) Revoke(ctx context.Context, token string) (bool, error) {
	if m.revokeFunc != nil {
		return m.revokeFunc(ctx, token)
	}
	return m.RefreshTokenRepository.Revoke(ctx, token)
}

type mockRevokedTokenRepo struct {
	authrepo.RevokedTokenRepository
	revokeFunc func(ctx context.Context, token string, userID domain.UserID, expiresAt time.Time) (bool, error)
}

func (m *mockRevokedTokenRepo) Revoke(ctx context.Context, token string, userID domain.UserID, expiresAt time.Time) (bool, error) {
	if m.revokeFunc != nil {
		return m.revokeFunc(ctx, token, userID, expiresAt)
	}
	return m.RevokedTokenRepository.Revoke(ctx, token, userID, expiresAt)
}

type testEnv struct {
	svc     *AuthService
	clock   *clock.MockClock
	codec   *token.Codec
	users   *mockUserRepo
	refresh *mockRefreshTokenRepo
	revoked *mockRevokedTokenRepo
	store   *authrepo.MemoryRefreshTokenRepository
	denied  *authrepo.MemoryRevokedTokenRepository
}

type envOption func(*Deps)

func withMaxRefreshTokens(n int) envOption {
	return func(d *Deps) { d.MaxRefreshTokensPerUser = n }
}

func withMinPasswordLength(n int) envOption {
	return func(d *Deps) { d.MinPasswordLength = n }
}

func withBreaker(threshold int32) envOption {
	return func(d *Deps) {
		d.Breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Threshold:  threshold,
			ResetAfter: time.Minute,
			Name:       "auth_store_test",
			IsFailure:  func(err error) bool { return !authrepo.IsOutcome(err) },
			Clock:      d.Clock,
		})
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	clk := clock.NewMockClock(testStart)
	idGen := commoncrypto.NewUUIDGenerator()

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  strings.Repeat("a", 32),
		RefreshSecret: strings.Repeat("r", 32),
		AccessTTL:     testAccessTTL,
		RefreshTTL:    testRefreshTTL,
		Issuer:        "class-schedule",
	}, clk, idGen)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	store := authrepo.NewMemoryRefreshTokenRepository(clk, idGen)
	denied := authrepo.NewMemoryRevokedTokenRepository(clk)
	env := &testEnv{
		clock:   clk,
		codec:   codec,
		users:   &mockUserRepo{UserRepository: authrepo.NewMemoryUserRepository()},
		refresh: &mockRefreshTokenRepo{RefreshTokenRepository: store},
		revoked: &mockRevokedTokenRepo{RevokedTokenRepository: denied},
		store:   store,
		denied:  denied,
	}

	deps := Deps{
		Users:         env.users,
		RefreshTokens: env.refresh,
		RevokedTokens: env.revoked,
		Codec:         codec,
		Hasher:        &commoncrypto.BcryptHasher{Cost: 4},
		IDGenerator:   idGen,
		Clock:         clk,
		Log:           logger.NewWithWriter(io.Discard, "auth-test", "critical"),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.svc = NewAuthService(deps)
	return env
}

func (e *testEnv) register(t *testing.T, email string, isAdmin bool) domain.TokenPair {
	t.Helper()
	pair, err := e.svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Password: "secret123",
		IsAdmin:  isAdmin,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return pair
}
