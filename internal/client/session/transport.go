package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/AlibekovAA/class-schedule/internal/common/logger"
)

var ErrSessionExpired = errors.New("session expired, log in again")

const refreshKey = "refresh"

// RefreshFunc exchanges a refresh token for a new pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (Tokens, error)

type TransportConfig struct {
	Base    http.RoundTripper
	Store   TokenStore
	Refresh RefreshFunc
	// OnSessionExpired runs once for every refresh flight that fails.
	OnSessionExpired func()
	Log              *logger.Logger
}

// Transport attaches the stored access token to outgoing requests. A 401
// answer triggers one shared refresh, after which the request is replayed
// exactly once with the new token.
type Transport struct {
	base             http.RoundTripper
	store            TokenStore
	refresh          RefreshFunc
	onSessionExpired func()
	log              *logger.Logger
	group            singleflight.Group
}

func NewTransport(cfg TransportConfig) *Transport {
	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewWithWriter(io.Discard, "session", "critical")
	}
	return &Transport{
		base:             base,
		store:            cfg.Store,
		refresh:          cfg.Refresh,
		onSessionExpired: cfg.OnSessionExpired,
		log:              log,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}

	tokens, ok := t.store.Load()
	resp, err := t.send(req, body, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || !ok {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	fresh, err := t.Refresh(req.Context(), tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	return t.send(req, body, fresh.AccessToken)
}

// Refresh obtains a pair newer than the one carrying usedAccess. Concurrent
// callers share a single flight; if the store already holds a different
// access token the flight returns it without contacting the server.
func (t *Transport) Refresh(ctx context.Context, usedAccess string) (Tokens, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := t.group.DoChan(refreshKey, func() (any, error) {
		return t.runFlight(flightCtx, usedAccess)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Tokens{}, res.Err
		}
		return res.Val.(Tokens), nil
	case <-ctx.Done():
		return Tokens{}, ctx.Err()
	}
}

func (t *Transport) runFlight(ctx context.Context, usedAccess string) (Tokens, error) {
	current, ok := t.store.Load()
	if !ok {
		return Tokens{}, ErrSessionExpired
	}
	if current.AccessToken != usedAccess {
		return current, nil
	}

	fresh, err := t.refresh(ctx, current.RefreshToken)
	if err != nil {
		t.expire(ctx, err)
		return Tokens{}, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	if err := t.store.Save(fresh); err != nil {
		t.log.WithFields(ctx, logger.Fields{
			"action": "token_store_save_failed",
		}).Warnf("failed to persist refreshed tokens: %v", err)
	}
	return fresh, nil
}

func (t *Transport) expire(ctx context.Context, cause error) {
	t.log.WithFields(ctx, logger.Fields{
		"action": "session_refresh_failed",
	}).Warnf("token refresh failed: %v", cause)

	if err := t.store.Clear(); err != nil {
		t.log.WithFields(ctx, logger.Fields{
			"action": "token_store_clear_failed",
		}).Warnf("failed to clear tokens: %v", err)
	}
	if t.onSessionExpired != nil {
		t.onSessionExpired()
	}
}

func (t *Transport) send(req *http.Request, body []byte, accessToken string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.ContentLength = int64(len(body))
	}
	if accessToken != "" {
		out.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return t.base.RoundTrip(out)
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return body, nil
}
