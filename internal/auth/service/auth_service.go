package service

import (
	"context"
	"errors"
	"time"

	"github.com/AlibekovAA/class-schedule/internal/auth/domain"
	authrepo "github.com/AlibekovAA/class-schedule/internal/auth/repository"
	"github.com/AlibekovAA/class-schedule/internal/auth/token"
	"github.com/AlibekovAA/class-schedule/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/class-schedule/internal/common/crypto"
	commonerrors "github.com/AlibekovAA/class-schedule/internal/common/errors"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
	"github.com/AlibekovAA/class-schedule/internal/common/resilience"
	"github.com/AlibekovAA/class-schedule/internal/common/validation"
)

// AuthService issues, rotates and revokes sessions. It is the only writer of
// refresh token rows.
type AuthService struct {
	users            authrepo.UserRepository
	refreshTokens    authrepo.RefreshTokenRepository
	revokedTokens    authrepo.RevokedTokenRepository
	codec            *token.Codec
	hasher           commoncrypto.PasswordHasher
	idGenerator      commoncrypto.IDGenerator
	breaker          *resilience.CircuitBreaker
	clock            clock.Clock
	maxRefreshTokens int
	minPasswordLen   int
	log              *logger.Logger
}

type Deps struct {
	Users         authrepo.UserRepository
	RefreshTokens authrepo.RefreshTokenRepository
	RevokedTokens authrepo.RevokedTokenRepository
	Codec         *token.Codec
	Hasher        commoncrypto.PasswordHasher
	IDGenerator   commoncrypto.IDGenerator
	// Breaker guards every store call. Nil disables it.
	Breaker *resilience.CircuitBreaker
	Clock   clock.Clock
	// MaxRefreshTokensPerUser caps live sessions per user. Zero means no cap.
	MaxRefreshTokensPerUser int
	// MinPasswordLength applies to Register only. Zero means no minimum.
	MinPasswordLength int
	Log               *logger.Logger
}

func NewAuthService(deps Deps) *AuthService {
	c := deps.Clock
	if c == nil {
		c = clock.NewRealClock()
	}
	idGenerator := deps.IDGenerator
	if idGenerator == nil {
		idGenerator = commoncrypto.NewUUIDGenerator()
	}

	return &AuthService{
		users:            deps.Users,
		refreshTokens:    deps.RefreshTokens,
		revokedTokens:    deps.RevokedTokens,
		codec:            deps.Codec,
		hasher:           deps.Hasher,
		idGenerator:      idGenerator,
		breaker:          deps.Breaker,
		clock:            c,
		maxRefreshTokens: deps.MaxRefreshTokensPerUser,
		minPasswordLen:   deps.MinPasswordLength,
		log:              deps.Log,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (domain.TokenPair, error) {
	input = input.normalized()
	s.log.WithFields(ctx, logger.Fields{
		"email":  input.Email,
		"action": "register_attempt",
	}).Info("register attempt")

	err := validation.Struct(input)
	if err == nil {
		err = checkPasswordLength(input.Password, s.minPasswordLen)
	}
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"email":  input.Email,
			"action": "register_validation_failed",
		}).Warnf("register validation failed: %v", err)
		return domain.TokenPair{}, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"email":  input.Email,
			"action": "register_hash_failed",
		}).Errorf("register failed: password hash error: %v", err)
		return domain.TokenPair{}, commonerrors.ErrInternalError.WithCause(err)
	}

	id, err := s.idGenerator.NewID()
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"email":  input.Email,
			"action": "register_id_generation_failed",
		}).Errorf("register failed: id generation error: %v", err)
		return domain.TokenPair{}, commonerrors.ErrInternalError.WithCause(err)
	}

	user := domain.User{
		ID:           domain.UserID(id),
		Email:        input.Email,
		PasswordHash: hash,
		IsAdmin:      input.IsAdmin,
		CreatedAt:    s.clock.Now(),
	}

	err = s.call(ctx, func(ctx context.Context) error {
		return s.users.Create(ctx, user)
	})
	if err != nil {
		if errors.Is(err, authrepo.ErrEmailAlreadyExists) {
			s.log.WithFields(ctx, logger.Fields{
				"email":  input.Email,
				"action": "register_email_taken",
			}).Warn("register failed: email taken")
			return domain.TokenPair{}, ErrAlreadyExists
		}
		s.log.WithFields(ctx, logger.Fields{
			"email":  input.Email,
			"action": "register_create_failed",
		}).Errorf("register failed: %v", err)
		return domain.TokenPair{}, storeError(err)
	}

	pair, err := s.issuePair(ctx, user.Identity())
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(user.ID),
			"action":  "register_token_issue_failed",
		}).Errorf("register failed: token issue error: %v", err)
		return domain.TokenPair{}, err
	}

	s.log.WithFields(ctx, logger.Fields{
		"email":    user.Email,
		"user_id":  string(user.ID),
		"is_admin": user.IsAdmin,
		"action":   "register_success",
	}).Info("register success")

	return pair, nil
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (domain.TokenPair, error) {
	input = input.normalized()
	s.log.WithFields(ctx, logger.Fields{
		"email":  input.Email,
		"action": "login_attempt",
	}).Info("login attempt")

	if err := validation.Struct(input); err != nil {
		recordLogin("invalid_input")
		return domain.TokenPair{}, err
	}

	var user domain.User
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.users.FindByEmail(ctx, input.Email)
		return err
	})
	if err != nil {
		if errors.Is(err, authrepo.ErrUserNotFound) {
			s.log.WithFields(ctx, logger.Fields{
				"email":  input.Email,
				"action": "login_user_not_found",
			}).Warn("login failed: not found")
			recordLogin("invalid_credentials")
			return domain.TokenPair{}, ErrInvalidCredentials
		}
		s.log.WithFields(ctx, logger.Fields{
			"email":  input.Email,
			"action": "login_fetch_failed",
		}).Errorf("login failed: %v", err)
		recordLogin("error")
		return domain.TokenPair{}, storeError(err)
	}

	if err := s.hasher.Compare(user.PasswordHash, input.Password); err != nil {
		entry := s.log.WithFields(ctx, logger.Fields{
			"email":  input.Email,
			"action": "login_invalid_password",
		})
		if errors.Is(err, commoncrypto.ErrPasswordMismatch) {
			entry.Warn("login failed: invalid password")
		} else {
			entry.Errorf("login failed: stored hash unusable: %v", err)
		}
		recordLogin("invalid_credentials")
		return domain.TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, user.Identity())
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(user.ID),
			"action":  "login_token_issue_failed",
		}).Errorf("login failed: token issue error: %v", err)
		recordLogin("error")
		return domain.TokenPair{}, err
	}

	s.log.WithFields(ctx, logger.Fields{
		"email":   user.Email,
		"user_id": string(user.ID),
		"action":  "login_success",
	}).Info("login success")
	recordLogin("success")

	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked before anything is issued, so it is good for exactly one exchange
// even under concurrent use.
func (s *AuthService) Refresh(ctx context.Context, presented string) (domain.TokenPair, error) {
	s.log.WithFields(ctx, logger.Fields{
		"action": "refresh_token_attempt",
	}).Info("refresh token attempt")

	if presented == "" {
		return domain.TokenPair{}, s.rejectRefresh(ctx, "missing", nil)
	}

	claims, err := s.codec.VerifyKind(presented, token.KindRefresh)
	if err != nil {
		return domain.TokenPair{}, s.rejectRefresh(ctx, refreshRejectReason(err), err)
	}

	var stored domain.RefreshToken
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		stored, err = s.refreshTokens.Consume(ctx, presented)
		return err
	})
	if err != nil {
		if errors.Is(err, authrepo.ErrRefreshTokenNotFound) {
			return domain.TokenPair{}, s.rejectRefresh(ctx, "not_found", err)
		}
		s.log.WithFields(ctx, logger.Fields{
			"user_id": claims.Subject,
			"action":  "refresh_token_consume_failed",
		}).Errorf("refresh token consume failed: %v", err)
		return domain.TokenPair{}, storeError(err)
	}

	if string(stored.UserID) != claims.Subject {
		return domain.TokenPair{}, s.rejectRefresh(ctx, "subject_mismatch", nil)
	}

	var user domain.User
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.users.FindByID(ctx, stored.UserID)
		return err
	})
	if err != nil {
		if errors.Is(err, authrepo.ErrUserNotFound) {
			return domain.TokenPair{}, s.rejectRefresh(ctx, "user_not_found", err)
		}
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(stored.UserID),
			"action":  "refresh_token_user_lookup_failed",
		}).Errorf("refresh token failed: user lookup error: %v", err)
		return domain.TokenPair{}, storeError(err)
	}

	pair, err := s.issuePair(ctx, user.Identity())
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(user.ID),
			"action":  "refresh_token_issue_failed",
		}).Errorf("refresh token failed to issue new tokens: %v", err)
		return domain.TokenPair{}, err
	}

	s.log.WithFields(ctx, logger.Fields{
		"user_id": string(user.ID),
		"action":  "refresh_token_success",
	}).Info("refresh token success")
	incrementRefreshTokensRotated()

	return pair, nil
}

// Logout revokes the refresh token and denylists the access token. It reports
// whether the refresh token was active. Only the refresh revoke can fail the
// call; denylisting is best effort.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) (bool, error) {
	var revoked bool
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		revoked, err = s.refreshTokens.Revoke(ctx, refreshToken)
		return err
	})
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"action": "logout_revoke_failed",
		}).Errorf("logout failed to revoke refresh token: %v", err)
		return false, storeError(err)
	}
	if revoked {
		addRefreshTokensRevoked(1)
	}

	s.denylistAccessToken(ctx, accessToken)

	s.log.WithFields(ctx, logger.Fields{
		"revoked": revoked,
		"action":  "logout",
	}).Info("logout")

	return revoked, nil
}

// LogoutEverywhere revokes every active refresh token of the user. Access
// tokens already handed out stay valid until they expire.
func (s *AuthService) LogoutEverywhere(ctx context.Context, userID domain.UserID) (bool, error) {
	var revoked bool
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		revoked, err = s.refreshTokens.RevokeAllForUser(ctx, userID)
		return err
	})
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(userID),
			"action":  "logout_all_failed",
		}).Errorf("logout everywhere failed: %v", err)
		return false, storeError(err)
	}

	s.log.WithFields(ctx, logger.Fields{
		"user_id": string(userID),
		"revoked": revoked,
		"action":  "logout_all",
	}).Info("logout everywhere")

	return revoked, nil
}

// issuePair signs a fresh access/refresh pair for identity and persists the
// refresh side.
func (s *AuthService) issuePair(ctx context.Context, identity domain.Identity) (domain.TokenPair, error) {
	accessToken, accessExpiresAt, err := s.codec.Issue(identity, token.KindAccess)
	if err != nil {
		return domain.TokenPair{}, commonerrors.ErrInternalError.WithCause(err)
	}

	var (
		refreshToken     string
		refreshExpiresAt time.Time
	)
	for attempt := 0; attempt < 2; attempt++ {
		refreshToken, refreshExpiresAt, err = s.codec.Issue(identity, token.KindRefresh)
		if err != nil {
			return domain.TokenPair{}, commonerrors.ErrInternalError.WithCause(err)
		}

		err = s.call(ctx, func(ctx context.Context) error {
			_, err := s.refreshTokens.Create(ctx, identity.ID, refreshToken, refreshExpiresAt)
			return err
		})
		if !errors.Is(err, authrepo.ErrRefreshTokenConflict) {
			break
		}
		incrementRefreshTokenConflicts()
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(identity.ID),
			"attempt": attempt + 1,
			"action":  "refresh_token_conflict",
		}).Warn("refresh token collided with a stored one")
	}
	if err != nil {
		if errors.Is(err, authrepo.ErrRefreshTokenConflict) {
			return domain.TokenPair{}, commonerrors.ErrInternalError.WithCause(err)
		}
		return domain.TokenPair{}, storeError(err)
	}
	incrementRefreshTokensIssued()

	s.trimSessions(ctx, identity.ID)

	return domain.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

func (s *AuthService) trimSessions(ctx context.Context, userID domain.UserID) {
	if s.maxRefreshTokens <= 0 {
		return
	}

	var revoked int64
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		revoked, err = s.refreshTokens.RevokeExcessForUser(ctx, userID, s.maxRefreshTokens)
		return err
	})
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(userID),
			"action":  "revoke_excess_refresh_tokens_failed",
		}).Warnf("failed to revoke excess refresh tokens: %v", err)
		return
	}
	if revoked > 0 {
		addRefreshTokensRevoked(int(revoked))
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(userID),
			"revoked": revoked,
			"action":  "revoke_excess_refresh_tokens",
		}).Info("revoked excess refresh tokens")
	}
}

func (s *AuthService) denylistAccessToken(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}

	claims, err := s.codec.Peek(accessToken)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"action": "logout_access_token_unreadable",
		}).Warnf("logout could not read access token: %v", err)
		return
	}

	now := s.clock.Now()
	until := claims.ExpiresAtTime()
	latest := now.Add(s.codec.TTL(token.KindAccess))
	if until.IsZero() || until.After(latest) {
		until = latest
	}
	if !until.After(now) {
		return
	}

	err = s.call(ctx, func(ctx context.Context) error {
		_, err := s.revokedTokens.Revoke(ctx, accessToken, domain.UserID(claims.Subject), until)
		return err
	})
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": claims.Subject,
			"action":  "logout_denylist_failed",
		}).Errorf("logout failed to denylist access token: %v", err)
		return
	}
	incrementAccessTokensDenylisted()
}

func (s *AuthService) rejectRefresh(ctx context.Context, reason string, cause error) error {
	fields := logger.Fields{
		"reason": reason,
		"action": "refresh_token_rejected",
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	s.log.WithFields(ctx, fields).Warn("refresh token rejected")
	incrementRefreshTokensRejected(reason)
	return ErrInvalidOrExpiredRefresh
}

func (s *AuthService) call(ctx context.Context, fn func(context.Context) error) error {
	if s.breaker == nil {
		return fn(ctx)
	}
	return s.breaker.Call(ctx, fn)
}

func refreshRejectReason(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, token.ErrWrongKind):
		return "wrong_kind"
	default:
		return "malformed"
	}
}

func storeError(err error) error {
	if errors.Is(err, commonerrors.ErrStoreUnavailable) {
		return err
	}
	return commonerrors.ErrStoreUnavailable.WithCause(err)
}
