package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlibekovAA/class-schedule/internal/auth/domain"
	authrepo "github.com/AlibekovAA/class-schedule/internal/auth/repository"
	"github.com/AlibekovAA/class-schedule/internal/auth/token"
	commonerrors "github.com/AlibekovAA/class-schedule/internal/common/errors"
	"github.com/AlibekovAA/class-schedule/internal/common/validation"
)

func TestAuthService_Register_IssuesPairForNewUser(t *testing.T) {
	env := newTestEnv(t)

	pair := env.register(t, "  Ana@School.io ", true)

	claims, err := env.codec.VerifyKind(pair.AccessToken, token.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "ana@school.io", claims.Email)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, testStart.Add(testAccessTTL), pair.AccessExpiresAt)

	refreshClaims, err := env.codec.VerifyKind(pair.RefreshToken, token.KindRefresh)
	require.NoError(t, err)
	assert.Equal(t, claims.Subject, refreshClaims.Subject)
	assert.Equal(t, testStart.Add(testRefreshTTL), pair.RefreshExpiresAt)

	stored, err := env.store.FindActive(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID(claims.Subject), stored.UserID)
	assert.Equal(t, pair.RefreshExpiresAt, stored.ExpiresAt)
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ana@school.io", false)

	_, err := env.svc.Register(context.Background(), RegisterInput{
		Email:    "ANA@school.io",
		Password: "another123",
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	de, ok := commonerrors.AsDomainError(err)
	if !ok || de.HTTPStatus() != 400 {
		t.Errorf("expected a 400 domain error, got %v", err)
	}
}

func TestAuthService_Register_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		input RegisterInput
		field string
	}{
		{"missing email", RegisterInput{Password: "secret123"}, "email"},
		{"bad email", RegisterInput{Email: "not-an-email", Password: "secret123"}, "email"},
		{"missing password", RegisterInput{Email: "a@b.io"}, "password"},
		{"password over bcrypt limit", RegisterInput{Email: "a@b.io", Password: strings.Repeat("x", 73)}, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Register(context.Background(), tt.input)
			if !errors.Is(err, commonerrors.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if _, ok := validation.Details(err)[tt.field]; !ok {
				t.Errorf("expected details for %q, got %v", tt.field, validation.Details(err))
			}
		})
	}
	assert.Equal(t, 0, env.store.Len())
}

func TestAuthService_Register_ShortPasswordAllowedByDefault(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "p"})
	require.NoError(t, err)

	pair, err := env.svc.Login(context.Background(), LoginInput{Email: "a@x.com", Password: "p"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
}

func TestAuthService_Register_MinPasswordLength(t *testing.T) {
	env := newTestEnv(t, withMinPasswordLength(8))

	_, err := env.svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "short"})
	require.ErrorIs(t, err, commonerrors.ErrValidation)
	assert.Equal(t, "must be at least 8 characters", validation.Details(err)["password"])
	assert.Equal(t, 0, env.store.Len())

	_, err = env.svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "long enough"})
	assert.NoError(t, err)
}

func TestAuthService_Login(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ana@school.io", false)

	pair, err := env.svc.Login(context.Background(), LoginInput{Email: "Ana@School.io", Password: "secret123"})
	require.NoError(t, err)
	_, err = env.codec.VerifyKind(pair.AccessToken, token.KindAccess)
	require.NoError(t, err)

	_, err = env.svc.Login(context.Background(), LoginInput{Email: "ana@school.io", Password: "wrong1234"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.svc.Login(context.Background(), LoginInput{Email: "bob@school.io", Password: "secret123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_Login_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.users.findByEmailFunc = func(ctx context.Context, email string) (domain.User, error) {
		return domain.User{}, errors.New("connection refused")
	}

	_, err := env.svc.Login(context.Background(), LoginInput{Email: "ana@school.io", Password: "secret123"})
	if !errors.Is(err, commonerrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestAuthService_Refresh_RotatesAndRejectsReuse(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t, "ana@school.io", false)

	env.clock.Advance(time.Minute)
	second, err := env.svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	_, err = env.svc.Refresh(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredRefresh)

	_, err = env.svc.Refresh(context.Background(), second.RefreshToken)
	assert.NoError(t, err)
}

func TestAuthService_Refresh_ReloadsIdentity(t *testing.T) {
	env := newTestEnv(t)
	pair := env.register(t, "ana@school.io", false)

	env.users.findByIDFunc = func(ctx context.Context, id domain.UserID) (domain.User, error) {
		user, err := env.users.UserRepository.FindByID(ctx, id)
		user.IsAdmin = true
		return user, err
	}

	next, err := env.svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)

	claims, err := env.codec.VerifyKind(next.AccessToken, token.KindAccess)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
}

func TestAuthService_Refresh_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		present func(env *testEnv, pair domain.TokenPair) string
	}{
		{"empty", func(*testEnv, domain.TokenPair) string { return "" }},
		{"garbage", func(*testEnv, domain.TokenPair) string { return "not.a.token" }},
		{"access token", func(_ *testEnv, pair domain.TokenPair) string { return pair.AccessToken }},
		{"expired", func(env *testEnv, pair domain.TokenPair) string {
			env.clock.Advance(testRefreshTTL + time.Second)
			return pair.RefreshToken
		}},
		{"revoked", func(env *testEnv, pair domain.TokenPair) string {
			_, _ = env.store.Revoke(context.Background(), pair.RefreshToken)
			return pair.RefreshToken
		}},
		{"unknown user", func(env *testEnv, pair domain.TokenPair) string {
			env.users.findByIDFunc = func(context.Context, domain.UserID) (domain.User, error) {
				return domain.User{}, authrepo.ErrUserNotFound
			}
			return pair.RefreshToken
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			pair := env.register(t, "ana@school.io", false)

			_, err := env.svc.Refresh(context.Background(), tt.present(env, pair))
			if !errors.Is(err, ErrInvalidOrExpiredRefresh) {
				t.Fatalf("expected ErrInvalidOrExpiredRefresh, got %v", err)
			}
		})
	}
}

func TestAuthService_Refresh_ConcurrentUseHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	pair := env.register(t, "ana@school.io", false)

	const workers = 16
	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		rejected atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.svc.Refresh(context.Background(), pair.RefreshToken)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrInvalidOrExpiredRefresh):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), rejected.Load())
}

func TestAuthService_Logout(t *testing.T) {
	env := newTestEnv(t)
	pair := env.register(t, "ana@school.io", false)

	revoked, err := env.svc.Logout(context.Background(), pair.AccessToken, pair.RefreshToken)
	require.NoError(t, err)
	assert.True(t, revoked)

	denied, err := env.denied.IsRevoked(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.True(t, denied)

	_, err = env.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredRefresh)

	revoked, err = env.svc.Logout(context.Background(), pair.AccessToken, pair.RefreshToken)
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestAuthService_Logout_DenylistLivesUntilAccessExpiry(t *testing.T) {
	env := newTestEnv(t)
	pair := env.register(t, "ana@school.io", false)

	var until time.Time
	env.revoked.revokeFunc = func(ctx context.Context, tok string, userID domain.UserID, expiresAt time.Time) (bool, error) {
		until = expiresAt
		return env.denied.Revoke(ctx, tok, userID, expiresAt)
	}

	env.clock.Advance(5 * time.Minute)
	_, err := env.svc.Logout(context.Background(), pair.AccessToken, pair.RefreshToken)
	require.NoError(t, err)
	assert.True(t, pair.AccessExpiresAt.Equal(until), "denylisted until %v, want %v", until, pair.AccessExpiresAt)

	env.clock.Advance(testAccessTTL)
	denied, err := env.denied.IsRevoked(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestAuthService_Logout_DenylistFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	pair := env.register(t, "ana@school.io", false)
	env.revoked.revokeFunc = func(context.Context, string, domain.UserID, time.Time) (bool, error) {
		return false, errors.New("denylist unavailable")
	}

	revoked, err := env.svc.Logout(context.Background(), pair.AccessToken, pair.RefreshToken)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !revoked {
		t.Error("expected refresh token to be revoked")
	}
}

func TestAuthService_Logout_UnreadableAccessToken(t *testing.T) {
	env := newTestEnv(t)
	pair := env.register(t, "ana@school.io", false)

	revoked, err := env.svc.Logout(context.Background(), "garbage", pair.RefreshToken)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestAuthService_Logout_RefreshStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	pair := env.register(t, "ana@school.io", false)
	env.refresh.revokeFunc = func(context.Context, string) (bool, error) {
		return false, errors.New("connection reset")
	}

	_, err := env.svc.Logout(context.Background(), pair.AccessToken, pair.RefreshToken)
	assert.ErrorIs(t, err, commonerrors.ErrStoreUnavailable)
}

func TestAuthService_Login_SessionsAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ana@school.io", false)

	login := func() domain.TokenPair {
		pair, err := env.svc.Login(context.Background(), LoginInput{Email: "ana@school.io", Password: "secret123"})
		require.NoError(t, err)
		return pair
	}
	first, second := login(), login()
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	revoked, err := env.svc.Logout(context.Background(), first.AccessToken, first.RefreshToken)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = env.svc.Refresh(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredRefresh)

	rotated, err := env.svc.Refresh(context.Background(), second.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.RefreshToken)
}

func TestAuthService_LogoutEverywhere(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t, "ana@school.io", false)
	second, err := env.svc.Login(context.Background(), LoginInput{Email: "ana@school.io", Password: "secret123"})
	require.NoError(t, err)

	claims, err := env.codec.Peek(first.AccessToken)
	require.NoError(t, err)

	revoked, err := env.svc.LogoutEverywhere(context.Background(), domain.UserID(claims.Subject))
	require.NoError(t, err)
	assert.True(t, revoked)

	for _, refresh := range []string{first.RefreshToken, second.RefreshToken} {
		_, err := env.svc.Refresh(context.Background(), refresh)
		assert.ErrorIs(t, err, ErrInvalidOrExpiredRefresh)
	}
}

func TestAuthService_SessionCap(t *testing.T) {
	env := newTestEnv(t, withMaxRefreshTokens(2))
	oldest := env.register(t, "ana@school.io", false)

	for i := 0; i < 2; i++ {
		env.clock.Advance(time.Second)
		_, err := env.svc.Login(context.Background(), LoginInput{Email: "ana@school.io", Password: "secret123"})
		require.NoError(t, err)
	}

	_, err := env.svc.Refresh(context.Background(), oldest.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredRefresh)
}

func TestAuthService_IssuePair_RetriesOnConflict(t *testing.T) {
	env := newTestEnv(t)

	var calls int
	env.refresh.createFunc = func(ctx context.Context, userID domain.UserID, tok string, expiresAt time.Time) (domain.RefreshToken, error) {
		calls++
		if calls == 1 {
			return domain.RefreshToken{}, authrepo.ErrRefreshTokenConflict
		}
		return env.store.Create(ctx, userID, tok, expiresAt)
	}

	pair := env.register(t, "ana@school.io", false)
	if calls != 2 {
		t.Fatalf("expected 2 create calls, got %d", calls)
	}
	if _, err := env.store.FindActive(context.Background(), pair.RefreshToken); err != nil {
		t.Errorf("expected returned refresh token to be stored: %v", err)
	}
}

func TestAuthService_IssuePair_GivesUpAfterSecondConflict(t *testing.T) {
	env := newTestEnv(t)

	var calls int
	env.refresh.createFunc = func(context.Context, domain.UserID, string, time.Time) (domain.RefreshToken, error) {
		calls++
		return domain.RefreshToken{}, authrepo.ErrRefreshTokenConflict
	}

	_, err := env.svc.Register(context.Background(), RegisterInput{Email: "ana@school.io", Password: "secret123"})
	assert.ErrorIs(t, err, commonerrors.ErrInternalError)
	assert.Equal(t, 2, calls)
}

func TestAuthService_BreakerOpensOnStoreFailures(t *testing.T) {
	env := newTestEnv(t, withBreaker(2))

	var calls int
	env.users.findByEmailFunc = func(context.Context, string) (domain.User, error) {
		calls++
		return domain.User{}, errors.New("connection refused")
	}

	for i := 0; i < 3; i++ {
		_, err := env.svc.Login(context.Background(), LoginInput{Email: "ana@school.io", Password: "secret123"})
		assert.ErrorIs(t, err, commonerrors.ErrStoreUnavailable)
	}
	assert.Equal(t, 2, calls)

	_, err := env.svc.Login(context.Background(), LoginInput{Email: "ana@school.io", Password: "secret123"})
	assert.ErrorIs(t, err, commonerrors.ErrCircuitOpen)
}

func TestAuthService_BreakerIgnoresOutcomes(t *testing.T) {
	env := newTestEnv(t, withBreaker(1))

	for i := 0; i < 3; i++ {
		_, err := env.svc.Login(context.Background(), LoginInput{Email: "ghost@school.io", Password: "secret123"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
}
