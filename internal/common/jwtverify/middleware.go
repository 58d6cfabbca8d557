package jwtverify

import (
	"context"
	"errors"
	"net/http"

	"github.com/AlibekovAA/class-schedule/internal/auth/domain"
	"github.com/AlibekovAA/class-schedule/internal/auth/token"
	commonerrors "github.com/AlibekovAA/class-schedule/internal/common/errors"
	commonhttp "github.com/AlibekovAA/class-schedule/internal/common/http"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
	"github.com/AlibekovAA/class-schedule/internal/observability/metrics"
)

type TokenVerifier interface {
	Verify(tokenString string) (token.Claims, error)
}

type Denylist interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

type contextKey string

const identityKey contextKey = "auth_identity"

// Guard admits requests carrying a valid, non-revoked access token and puts
// the token's identity on the request context.
type Guard struct {
	verifier     TokenVerifier
	denylist     Denylist
	errorHandler *commonhttp.ErrorHandler
	log          *logger.Logger
}

func NewGuard(verifier TokenVerifier, denylist Denylist, log *logger.Logger) *Guard {
	return &Guard{
		verifier:     verifier,
		denylist:     denylist,
		errorHandler: commonhttp.NewErrorHandler(log),
		log:          log,
	}
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw, ok := commonhttp.BearerToken(r)
		if !ok {
			g.reject(w, r, "missing", nil)
			return
		}

		metrics.JWTRevokedChecksTotal.Inc()
		revoked, err := g.denylist.IsRevoked(ctx, raw)
		if err != nil {
			g.log.WithFields(ctx, logger.Fields{
				"path":   r.URL.Path,
				"action": "jwt_denylist_check_failed",
			}).Errorf("denylist lookup failed: %v", err)
			g.errorHandler.HandleError(w, r, commonerrors.ErrStoreUnavailable.WithCause(err))
			return
		}
		if revoked {
			g.reject(w, r, "revoked", nil)
			return
		}

		claims, err := g.verifier.Verify(raw)
		if err != nil {
			g.reject(w, r, reasonFor(err), err)
			return
		}

		if claims.Kind != token.KindAccess {
			metrics.JWTValidationsFailed.WithLabelValues("wrong_kind").Inc()
			g.log.WithFields(ctx, logger.Fields{
				"path":    r.URL.Path,
				"user_id": claims.Subject,
				"kind":    string(claims.Kind),
				"action":  "jwt_auth_wrong_kind",
			}).Warn("jwt auth failed: wrong token kind")
			g.errorHandler.HandleError(w, r, commonerrors.ErrInvalidTokenKind)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, claims.Identity())))
	})
}

// RequireAdmin must run behind Middleware. It answers 401 when no identity is
// present and 403 when the identity is not an administrator.
func (g *Guard) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := FromContext(r.Context())
		if !ok {
			g.reject(w, r, "missing", nil)
			return
		}
		if !identity.IsAdmin {
			g.log.WithFields(r.Context(), logger.Fields{
				"path":    r.URL.Path,
				"user_id": string(identity.ID),
				"action":  "admin_required",
			}).Warn("admin role required")
			g.errorHandler.HandleError(w, r, commonerrors.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, reason string, cause error) {
	if reason == "missing" || reason == "revoked" {
		metrics.JWTValidationsFailed.WithLabelValues(reason).Inc()
	}

	fields := logger.Fields{
		"path":   r.URL.Path,
		"reason": reason,
		"action": "jwt_auth_failed",
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	g.log.WithFields(r.Context(), fields).Warn("jwt auth failed")

	g.errorHandler.HandleError(w, r, commonerrors.ErrUnauthenticated)
}

func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func FromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	return identity, ok
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "malformed"
	}
}
