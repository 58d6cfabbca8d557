package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authrepo "github.com/AlibekovAA/class-schedule/internal/auth/repository"
	"github.com/AlibekovAA/class-schedule/internal/auth/service"
	"github.com/AlibekovAA/class-schedule/internal/auth/token"
	"github.com/AlibekovAA/class-schedule/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/class-schedule/internal/common/crypto"
	commonhttp "github.com/AlibekovAA/class-schedule/internal/common/http"
	"github.com/AlibekovAA/class-schedule/internal/common/jwtverify"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
)

type testServer struct {
	mux   *http.ServeMux
	clock *clock.MockClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	clk := clock.NewMockClock(time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC))
	idGen := commoncrypto.NewUUIDGenerator()
	log := logger.NewWithWriter(io.Discard, "auth-http-test", "critical")

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  strings.Repeat("a", 32),
		RefreshSecret: strings.Repeat("r", 32),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	}, clk, idGen)
	require.NoError(t, err)

	denylist := authrepo.NewMemoryRevokedTokenRepository(clk)
	svc := service.NewAuthService(service.Deps{
		Users:         authrepo.NewMemoryUserRepository(),
		RefreshTokens: authrepo.NewMemoryRefreshTokenRepository(clk, idGen),
		RevokedTokens: denylist,
		Codec:         codec,
		Hasher:        &commoncrypto.BcryptHasher{Cost: 4},
		IDGenerator:   idGen,
		Clock:         clk,
		Log:           log,
	})

	mux := http.NewServeMux()
	Register(mux, svc, jwtverify.NewGuard(codec, denylist, log), 5*time.Second, log)
	return &testServer{mux: mux, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, email string) tokenPairResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":    email,
		"password": "secret123",
		"isAdmin":  false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodePair(t, rec)
}

func decodePair(t *testing.T, rec *httptest.ResponseRecorder) tokenPairResponse {
	t.Helper()
	var pair tokenPairResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	return pair
}

func decodeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env commonhttp.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Code
}

func TestRegisterAndLogin(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "ana@school.io")

	rec := srv.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "ana@school.io",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	decodePair(t, rec)

	rec = srv.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "ana@school.io",
		"password": "wrong1234",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeCode(t, rec))
}

func TestRegisterAndLoginWithOneCharacterPassword(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":    "a@x.com",
		"password": "p",
		"isAdmin":  false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "a@x.com",
		"password": "p",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pair := decodePair(t, rec)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
}

func TestRegisterDuplicateIsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "ana@school.io")

	rec := srv.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":    "ana@school.io",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ALREADY_EXISTS", decodeCode(t, rec))
}

func TestRegisterRejectsUnknownFieldsAndBadInput(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":    "ana@school.io",
		"password": "secret123",
		"role":     "admin",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, commonhttp.CodeInvalidJSON, decodeCode(t, rec))

	rec = srv.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":    "ana",
		"password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", decodeCode(t, rec))
}

func TestRefreshToken(t *testing.T) {
	srv := newTestServer(t)
	pair := srv.register(t, "ana@school.io")

	rec := srv.do(t, http.MethodPost, "/auth/refresh-token", "", map[string]string{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)
	next := decodePair(t, rec)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	rec = srv.do(t, http.MethodPost, "/auth/refresh-token", "", map[string]string{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_REFRESH_TOKEN", decodeCode(t, rec))

	rec = srv.do(t, http.MethodPost, "/auth/refresh-token", "", map[string]string{"refreshToken": next.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	srv := newTestServer(t)
	pair := srv.register(t, "ana@school.io")

	rec := srv.do(t, http.MethodPost, "/auth/logout", pair.AccessToken, map[string]string{"refreshToken": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var msg commonhttp.MessageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.NotEmpty(t, msg.Message)

	rec = srv.do(t, http.MethodPost, "/auth/logout-all", pair.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "access token must be denylisted after logout")

	rec = srv.do(t, http.MethodPost, "/auth/logout", pair.AccessToken, map[string]string{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutMissingTokens(t *testing.T) {
	srv := newTestServer(t)
	pair := srv.register(t, "ana@school.io")

	rec := srv.do(t, http.MethodPost, "/auth/logout", "", map[string]string{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, commonhttp.CodeMissingAuthorization, decodeCode(t, rec))

	rec = srv.do(t, http.MethodPost, "/auth/logout", pair.AccessToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, commonhttp.CodeMissingRefreshToken, decodeCode(t, rec))
}

func TestLogoutAll(t *testing.T) {
	srv := newTestServer(t)
	pair := srv.register(t, "ana@school.io")

	rec := srv.do(t, http.MethodPost, "/auth/logout-all", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodPost, "/auth/logout-all", pair.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, "/auth/refresh-token", "", map[string]string{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
