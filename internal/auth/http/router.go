package http

import (
	"net/http"
	"time"

	"github.com/AlibekovAA/class-schedule/internal/auth/domain"
	"github.com/AlibekovAA/class-schedule/internal/auth/service"
	commonerrors "github.com/AlibekovAA/class-schedule/internal/common/errors"
	commonhttp "github.com/AlibekovAA/class-schedule/internal/common/http"
	"github.com/AlibekovAA/class-schedule/internal/common/jwtverify"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"isAdmin"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type Handler struct {
	auth         *service.AuthService
	errorHandler *commonhttp.ErrorHandler
	log          *logger.Logger
}

// Register mounts the /auth routes on mux. logout-all sits behind guard.
func Register(mux *http.ServeMux, auth *service.AuthService, guard *jwtverify.Guard, requestTimeout time.Duration, log *logger.Logger) {
	h := &Handler{
		auth:         auth,
		errorHandler: commonhttp.NewErrorHandler(log),
		log:          log,
	}

	post := commonhttp.RequireMethod(http.MethodPost)
	timeout := commonhttp.WithTimeout(requestTimeout)

	mux.HandleFunc("/auth/register", post(timeout(h.register)))
	mux.HandleFunc("/auth/login", post(timeout(h.login)))
	mux.HandleFunc("/auth/refresh-token", post(timeout(h.refresh)))
	mux.HandleFunc("/auth/logout", post(timeout(h.logout)))
	mux.Handle("/auth/logout-all", guard.Middleware(post(timeout(h.logoutAll))))
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		h.invalidJSON(w, r, "register", err)
		return
	}

	pair, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		IsAdmin:  req.IsAdmin,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	commonhttp.WriteJSON(w, http.StatusOK, toResponse(pair))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		h.invalidJSON(w, r, "login", err)
		return
	}

	pair, err := h.auth.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	commonhttp.WriteJSON(w, http.StatusOK, toResponse(pair))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		h.invalidJSON(w, r, "refresh", err)
		return
	}

	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	commonhttp.WriteJSON(w, http.StatusOK, toResponse(pair))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := commonhttp.BearerToken(r)
	if !ok {
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeMissingAuthorization, "missing access token", nil, commonhttp.TraceIDFromContext(r.Context()))
		return
	}

	var req refreshTokenRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		h.invalidJSON(w, r, "logout", err)
		return
	}
	if req.RefreshToken == "" {
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeMissingRefreshToken, "missing refresh token", nil, commonhttp.TraceIDFromContext(r.Context()))
		return
	}

	revoked, err := h.auth.Logout(r.Context(), accessToken, req.RefreshToken)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if !revoked {
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeBadRequest, "refresh token not found or already revoked", nil, commonhttp.TraceIDFromContext(r.Context()))
		return
	}

	commonhttp.WriteMessage(w, http.StatusOK, "logged out")
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	identity, ok := jwtverify.FromContext(r.Context())
	if !ok {
		h.errorHandler.HandleError(w, r, commonerrors.ErrUnauthenticated)
		return
	}

	if _, err := h.auth.LogoutEverywhere(r.Context(), identity.ID); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	commonhttp.WriteMessage(w, http.StatusOK, "logged out from all sessions")
}

func (h *Handler) invalidJSON(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.log.WithFields(r.Context(), logger.Fields{
		"action": op + "_invalid_json",
	}).Warnf("%s failed: invalid json: %v", op, err)
	commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeInvalidJSON, "invalid json", nil, commonhttp.TraceIDFromContext(r.Context()))
}

func toResponse(pair domain.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
}
