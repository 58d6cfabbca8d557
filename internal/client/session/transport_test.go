package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenServer answers 200 only for the access token it currently accepts.
type tokenServer struct {
	*httptest.Server
	valid atomic.Value
	hits  atomic.Int32
}

func newTokenServer(t *testing.T, valid string) *tokenServer {
	t.Helper()
	s := &tokenServer{}
	s.valid.Store(valid)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if r.URL.Path == "/forbidden" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.valid.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

type refreshRecorder struct {
	calls atomic.Int32
	delay time.Duration
	pair  Tokens
	err   error
}

func (r *refreshRecorder) refresh(_ context.Context, _ string) (Tokens, error) {
	r.calls.Add(1)
	time.Sleep(r.delay)
	if r.err != nil {
		return Tokens{}, r.err
	}
	return r.pair, nil
}

func newTestTransport(store TokenStore, rec *refreshRecorder, expired *atomic.Int32) *http.Client {
	tr := NewTransport(TransportConfig{
		Store:   store,
		Refresh: rec.refresh,
		OnSessionExpired: func() {
			if expired != nil {
				expired.Add(1)
			}
		},
	})
	return &http.Client{Transport: tr}
}

func staleStore(t *testing.T) *MemoryTokenStore {
	t.Helper()
	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(Tokens{AccessToken: "stale", RefreshToken: "r1"}))
	return store
}

func TestTransport_AttachesBearer(t *testing.T) {
	srv := newTokenServer(t, "stale")
	rec := &refreshRecorder{}
	client := newTestTransport(staleStore(t), rec, nil)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, rec.calls.Load())
}

func TestTransport_RefreshesOnceAndReplaysBody(t *testing.T) {
	srv := newTokenServer(t, "fresh")
	store := staleStore(t)
	rec := &refreshRecorder{pair: Tokens{AccessToken: "fresh", RefreshToken: "r2"}}
	client := newTestTransport(store, rec, nil)

	resp, err := client.Post(srv.URL, "application/json", strings.NewReader(`{"room":"A-1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"room":"A-1"}`, string(body))
	assert.EqualValues(t, 1, rec.calls.Load())
	assert.EqualValues(t, 2, srv.hits.Load())

	saved, _ := store.Load()
	assert.Equal(t, "r2", saved.RefreshToken)
}

func TestTransport_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	srv := newTokenServer(t, "fresh")
	rec := &refreshRecorder{
		delay: 50 * time.Millisecond,
		pair:  Tokens{AccessToken: "fresh", RefreshToken: "r2"},
	}
	client := newTestTransport(staleStore(t), rec, nil)

	const n = 10
	var wg sync.WaitGroup
	start := make(chan struct{})
	statuses := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			resp, err := client.Get(srv.URL)
			if err != nil {
				errs[i] = err
				return
			}
			statuses[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, statuses[i])
	}
	assert.EqualValues(t, 1, rec.calls.Load())
}

func TestTransport_FailedRefreshFailsEveryWaiter(t *testing.T) {
	srv := newTokenServer(t, "fresh")
	store := staleStore(t)
	rec := &refreshRecorder{delay: 200 * time.Millisecond, err: errors.New("refresh rejected")}
	var expired atomic.Int32
	client := newTestTransport(store, rec, &expired)

	const n = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			resp, err := client.Get(srv.URL)
			if err == nil {
				resp.Body.Close()
			}
			errs[i] = err
		}(i)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrSessionExpired)
	}
	assert.EqualValues(t, 1, rec.calls.Load())
	assert.EqualValues(t, 1, expired.Load())

	_, ok := store.Load()
	assert.False(t, ok)
}

func TestTransport_ReplayRejectedAgainIsReturned(t *testing.T) {
	srv := newTokenServer(t, "never-issued")
	rec := &refreshRecorder{pair: Tokens{AccessToken: "fresh", RefreshToken: "r2"}}
	client := newTestTransport(staleStore(t), rec, nil)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.EqualValues(t, 1, rec.calls.Load())
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestTransport_ForbiddenDoesNotRefresh(t *testing.T) {
	srv := newTokenServer(t, "stale")
	rec := &refreshRecorder{}
	client := newTestTransport(staleStore(t), rec, nil)

	resp, err := client.Get(srv.URL + "/forbidden")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, rec.calls.Load())
}

func TestTransport_NoCredentialsPassesUnauthorizedThrough(t *testing.T) {
	srv := newTokenServer(t, "fresh")
	rec := &refreshRecorder{}
	client := newTestTransport(NewMemoryTokenStore(), rec, nil)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, rec.calls.Load())
}

func TestTransport_RefreshSurvivesCallerCancellation(t *testing.T) {
	store := staleStore(t)
	rec := &refreshRecorder{
		delay: 100 * time.Millisecond,
		pair:  Tokens{AccessToken: "fresh", RefreshToken: "r2"},
	}
	tr := NewTransport(TransportConfig{Store: store, Refresh: rec.refresh})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := tr.Refresh(ctx, "stale")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		saved, _ := store.Load()
		return saved.AccessToken == "fresh"
	}, time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, rec.calls.Load())
}
