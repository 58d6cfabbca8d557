package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AlibekovAA/class-schedule/internal/auth/domain"
	"github.com/AlibekovAA/class-schedule/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/class-schedule/internal/common/crypto"
	commonerrors "github.com/AlibekovAA/class-schedule/internal/common/errors"
	"github.com/AlibekovAA/class-schedule/internal/observability/metrics"
)

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	ErrMissingSecret    = errors.New("token secret is empty")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token is expired")
	ErrMalformed        = errors.New("token is malformed")
	ErrWrongKind        = errors.New("token kind mismatch")
)

type Claims struct {
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
	Kind    Kind   `json:"typ"`
	jwt.RegisteredClaims
}

func (c Claims) Identity() domain.Identity {
	return domain.Identity{
		ID:      domain.UserID(c.Subject),
		Email:   c.Email,
		IsAdmin: c.IsAdmin,
	}
}

// ExpiresAtTime returns the exp claim or the zero time when absent.
func (c Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Codec signs and verifies access and refresh tokens. Each kind has its own
// secret, so a token of one kind never verifies under the other's key.
type Codec struct {
	secrets     map[Kind][]byte
	ttls        map[Kind]time.Duration
	issuer      string
	clock       clock.Clock
	idGenerator commoncrypto.IDGenerator
}

func NewCodec(cfg Config, c clock.Clock, idGenerator commoncrypto.IDGenerator) (*Codec, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, commonerrors.ErrServerConfiguration.WithCause(ErrMissingSecret)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, commonerrors.ErrServerConfiguration.WithCause(fmt.Errorf("token lifetimes must be positive"))
	}
	if c == nil {
		c = clock.NewRealClock()
	}
	if idGenerator == nil {
		idGenerator = commoncrypto.NewUUIDGenerator()
	}

	return &Codec{
		secrets: map[Kind][]byte{
			KindAccess:  []byte(cfg.AccessSecret),
			KindRefresh: []byte(cfg.RefreshSecret),
		},
		ttls: map[Kind]time.Duration{
			KindAccess:  cfg.AccessTTL,
			KindRefresh: cfg.RefreshTTL,
		},
		issuer:      cfg.Issuer,
		clock:       c,
		idGenerator: idGenerator,
	}, nil
}

func (c *Codec) TTL(kind Kind) time.Duration {
	return c.ttls[kind]
}

// Issue signs a token of the given kind for identity and returns it together
// with its expiry.
func (c *Codec) Issue(identity domain.Identity, kind Kind) (string, time.Time, error) {
	secret, ok := c.secrets[kind]
	if !ok {
		return "", time.Time{}, fmt.Errorf("unknown token kind %q", kind)
	}

	jti, err := c.idGenerator.NewID()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token id: %w", err)
	}

	now := c.clock.Now()
	expiresAt := now.Add(c.ttls[kind])
	claims := Claims{
		Email:   identity.Email,
		IsAdmin: identity.IsAdmin,
		Kind:    kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity.ID),
			Issuer:    c.issuer,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}

	if kind == KindAccess {
		metrics.AccessTokensIssued.Inc()
	}

	// NumericDate drops sub-second precision; report what the token says.
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks the signature with the secret of the kind the token claims to
// be and checks expiry against the codec clock.
func (c *Codec) Verify(tokenString string) (Claims, error) {
	metrics.JWTValidationsTotal.Inc()

	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		secret, ok := c.secrets[claims.Kind]
		if !ok {
			return nil, ErrMalformed
		}
		return secret, nil
	}, opts...)
	if err != nil {
		mapped := mapParseError(err)
		metrics.JWTValidationsFailed.WithLabelValues(reasonLabel(mapped)).Inc()
		return Claims{}, mapped
	}

	if claims.Subject == "" {
		metrics.JWTValidationsFailed.WithLabelValues("malformed").Inc()
		return Claims{}, ErrMalformed
	}

	return *claims, nil
}

// VerifyKind is Verify plus a check that the token is of the expected kind.
func (c *Codec) VerifyKind(tokenString string, kind Kind) (Claims, error) {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if claims.Kind != kind {
		return claims, ErrWrongKind
	}
	return claims, nil
}

// Peek decodes the claims without checking signature or expiry. Only use the
// result for bookkeeping on tokens the caller already holds.
func (c *Codec) Peek(tokenString string) (Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return Claims{}, ErrMalformed
	}
	return *claims, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	default:
		return ErrMalformed
	}
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "malformed"
	}
}
