package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AlibekovAA/class-schedule/internal/auth/domain"
	"github.com/AlibekovAA/class-schedule/internal/common/clock"
	commonerrors "github.com/AlibekovAA/class-schedule/internal/common/errors"
)

var (
	testStart    = time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)
	testIdentity = domain.Identity{ID: "user-1", Email: "ana@school.io", IsAdmin: true}
)

func testConfig() Config {
	return Config{
		AccessSecret:  strings.Repeat("a", 32),
		RefreshSecret: strings.Repeat("r", 32),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "class-schedule",
	}
}

func newTestCodec(t *testing.T) (*Codec, *clock.MockClock) {
	t.Helper()
	c := clock.NewMockClock(testStart)
	codec, err := NewCodec(testConfig(), c, nil)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec, c
}

func TestNewCodecRequiresBothSecrets(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshSecret = ""

	_, err := NewCodec(cfg, nil, nil)
	if !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if !errors.Is(err, commonerrors.ErrServerConfiguration) {
		t.Errorf("expected server configuration error, got %v", err)
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	codec, _ := newTestCodec(t)

	for _, kind := range []Kind{KindAccess, KindRefresh} {
		signed, exp, err := codec.Issue(testIdentity, kind)
		if err != nil {
			t.Fatalf("Issue(%s): %v", kind, err)
		}
		if want := testStart.Add(codec.TTL(kind)); !exp.Equal(want) {
			t.Errorf("%s expiry = %v, want %v", kind, exp, want)
		}

		claims, err := codec.Verify(signed)
		if err != nil {
			t.Fatalf("Verify(%s): %v", kind, err)
		}
		if claims.Kind != kind {
			t.Errorf("kind = %q, want %q", claims.Kind, kind)
		}
		if claims.Identity() != testIdentity {
			t.Errorf("identity = %+v, want %+v", claims.Identity(), testIdentity)
		}
		if claims.ID == "" {
			t.Error("expected jti to be set")
		}
	}
}

func TestIssueProducesDistinctTokensWithinOneSecond(t *testing.T) {
	codec, _ := newTestCodec(t)

	first, _, err := codec.Issue(testIdentity, KindRefresh)
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := codec.Issue(testIdentity, KindRefresh)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("expected distinct refresh tokens for back-to-back issuance")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	codec, c := newTestCodec(t)

	signed, _, err := codec.Issue(testIdentity, KindAccess)
	if err != nil {
		t.Fatal(err)
	}

	c.Advance(15*time.Minute + time.Second)

	if _, err := codec.Verify(signed); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	codec, c := newTestCodec(t)

	cfg := testConfig()
	cfg.AccessSecret = strings.Repeat("x", 32)
	other, err := NewCodec(cfg, c, nil)
	if err != nil {
		t.Fatal(err)
	}

	signed, _, err := other.Issue(testIdentity, KindAccess)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := codec.Verify(signed); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsKindForgedUnderOtherSecret(t *testing.T) {
	codec, _ := newTestCodec(t)

	// Refresh claims signed with the access secret must not verify.
	claims := Claims{
		Kind: KindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "class-schedule",
			ExpiresAt: jwt.NewNumericDate(testStart.Add(time.Hour)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testConfig().AccessSecret))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := codec.Verify(forged); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	codec, _ := newTestCodec(t)

	for _, input := range []string{"", "garbage", "a.b.c"} {
		if _, err := codec.Verify(input); !errors.Is(err, ErrMalformed) {
			t.Errorf("Verify(%q): expected ErrMalformed, got %v", input, err)
		}
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	codec, _ := newTestCodec(t)

	claims := Claims{
		Kind: KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "class-schedule",
			ExpiresAt: jwt.NewNumericDate(testStart.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testConfig().AccessSecret))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := codec.Verify(signed); err == nil {
		t.Fatal("expected HS512 token to be rejected")
	}
}

func TestVerifyKind(t *testing.T) {
	codec, _ := newTestCodec(t)

	refresh, _, err := codec.Issue(testIdentity, KindRefresh)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := codec.VerifyKind(refresh, KindAccess); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
	if _, err := codec.VerifyKind(refresh, KindRefresh); err != nil {
		t.Fatalf("expected refresh token to verify, got %v", err)
	}
}

func TestPeekIgnoresExpiry(t *testing.T) {
	codec, c := newTestCodec(t)

	signed, exp, err := codec.Issue(testIdentity, KindAccess)
	if err != nil {
		t.Fatal(err)
	}
	c.Advance(time.Hour)

	claims, err := codec.Peek(signed)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if !claims.ExpiresAtTime().Equal(exp) {
		t.Errorf("peeked expiry = %v, want %v", claims.ExpiresAtTime(), exp)
	}
	if claims.Subject != "user-1" {
		t.Errorf("subject = %q", claims.Subject)
	}

	if _, err := codec.Peek("not-a-token"); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}
