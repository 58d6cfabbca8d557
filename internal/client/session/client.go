package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/AlibekovAA/class-schedule/internal/common/constants"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
	"github.com/AlibekovAA/class-schedule/internal/schedule/domain"
)

var ErrNotLoggedIn = errors.New("not logged in")

// APIError is a non-success answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

type Options struct {
	BaseURL string
	Store   TokenStore
	Timeout time.Duration
	// Transport carries every HTTP call. Defaults to http.DefaultTransport.
	Transport        http.RoundTripper
	OnSessionExpired func()
	Log              *logger.Logger
}

// Client talks to the schedule API on behalf of one session. Schedule calls
// go through a refreshing Transport; auth calls do not.
type Client struct {
	baseURL   *url.URL
	store     TokenStore
	plain     *http.Client
	authed    *http.Client
	transport *Transport
	dialer    *gorillaWS.Dialer
	log       *logger.Logger
}

func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}
	if opts.Store == nil {
		opts.Store = NewMemoryTokenStore()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = constants.DefaultClientTimeout
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Log == nil {
		opts.Log = logger.NewWithWriter(io.Discard, "schedule-client", "critical")
	}

	c := &Client{
		baseURL: base,
		store:   opts.Store,
		plain:   &http.Client{Transport: opts.Transport, Timeout: opts.Timeout},
		dialer: &gorillaWS.Dialer{
			HandshakeTimeout: opts.Timeout,
			ReadBufferSize:   constants.WebSocketReadBufferSize,
			WriteBufferSize:  constants.WebSocketWriteBufferSize,
		},
		log: opts.Log,
	}
	c.transport = NewTransport(TransportConfig{
		Base:             opts.Transport,
		Store:            opts.Store,
		Refresh:          c.rotate,
		OnSessionExpired: opts.OnSessionExpired,
		Log:              opts.Log,
	})
	c.authed = &http.Client{Transport: c.transport, Timeout: opts.Timeout}
	return c, nil
}

func (c *Client) Store() TokenStore {
	return c.store
}

func (c *Client) Login(ctx context.Context, email, password string) error {
	var pair Tokens
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, c.plain, http.MethodPost, "/auth/login", body, &pair, http.StatusOK); err != nil {
		return err
	}
	return c.store.Save(pair)
}

func (c *Client) Register(ctx context.Context, email, password string, isAdmin bool) error {
	var pair Tokens
	body := map[string]any{"email": email, "password": password, "isAdmin": isAdmin}
	if err := c.do(ctx, c.plain, http.MethodPost, "/auth/register", body, &pair, http.StatusOK); err != nil {
		return err
	}
	return c.store.Save(pair)
}

// Logout revokes the stored session on the server. Local credentials are
// dropped on success and on 400, where the server already considers the
// refresh token gone. Any other failure keeps them so the call can be retried.
func (c *Client) Logout(ctx context.Context) error {
	tokens, ok := c.store.Load()
	if !ok {
		return ErrNotLoggedIn
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/auth/logout", map[string]string{"refreshToken": tokens.RefreshToken})
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

	err = c.send(c.plain, req, nil, http.StatusOK)
	var apiErr *APIError
	if err == nil || (errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest) {
		if clearErr := c.store.Clear(); clearErr != nil {
			return clearErr
		}
	}
	return err
}

// LogoutEverywhere revokes every refresh token of the current user.
func (c *Client) LogoutEverywhere(ctx context.Context) error {
	if _, ok := c.store.Load(); !ok {
		return ErrNotLoggedIn
	}
	if err := c.do(ctx, c.authed, http.MethodPost, "/auth/logout-all", nil, nil, http.StatusOK); err != nil {
		return err
	}
	return c.store.Clear()
}

// rotate is the RefreshFunc behind the transport. It must not itself go
// through the transport.
func (c *Client) rotate(ctx context.Context, refreshToken string) (Tokens, error) {
	var pair Tokens
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, c.plain, http.MethodPost, "/auth/refresh-token", body, &pair, http.StatusOK); err != nil {
		return Tokens{}, err
	}
	return pair, nil
}

// ScheduleQuery narrows ListSchedules. Date (YYYY-MM-DD) excludes From and To.
type ScheduleQuery struct {
	Group   string
	Teacher string
	Date    string
	From    time.Time
	To      time.Time
}

func (q ScheduleQuery) values() url.Values {
	v := url.Values{}
	if q.Group != "" {
		v.Set("group", q.Group)
	}
	if q.Teacher != "" {
		v.Set("teacher", q.Teacher)
	}
	if q.Date != "" {
		v.Set("date", q.Date)
	}
	if !q.From.IsZero() {
		v.Set("from", q.From.UTC().Format(time.RFC3339))
	}
	if !q.To.IsZero() {
		v.Set("to", q.To.UTC().Format(time.RFC3339))
	}
	return v
}

type ScheduleFields struct {
	GroupName   string    `json:"groupName"`
	TeacherName string    `json:"teacherName"`
	Subject     string    `json:"subject"`
	Room        string    `json:"room"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
}

// ScheduleChanges lists the fields to overwrite; nil fields stay as they are.
type ScheduleChanges struct {
	GroupName   *string    `json:"groupName,omitempty"`
	TeacherName *string    `json:"teacherName,omitempty"`
	Subject     *string    `json:"subject,omitempty"`
	Room        *string    `json:"room,omitempty"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
}

func (c *Client) ListSchedules(ctx context.Context, q ScheduleQuery) ([]domain.Schedule, error) {
	path := "/api/schedules"
	if encoded := q.values().Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out []domain.Schedule
	if err := c.do(ctx, c.authed, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GroupedSchedules(ctx context.Context) ([]domain.TimeSlot, error) {
	var out []domain.TimeSlot
	if err := c.do(ctx, c.authed, http.MethodGet, "/api/schedules/grouped", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSchedule(ctx context.Context, id int64) (domain.Schedule, error) {
	var out domain.Schedule
	err := c.do(ctx, c.authed, http.MethodGet, schedulePath(id), nil, &out, http.StatusOK)
	return out, err
}

func (c *Client) CreateSchedule(ctx context.Context, fields ScheduleFields) (domain.Schedule, error) {
	var out domain.Schedule
	err := c.do(ctx, c.authed, http.MethodPost, "/api/schedules", fields, &out, http.StatusCreated)
	return out, err
}

func (c *Client) UpdateSchedule(ctx context.Context, id int64, changes ScheduleChanges) (domain.Schedule, error) {
	var out domain.Schedule
	err := c.do(ctx, c.authed, http.MethodPut, schedulePath(id), changes, &out, http.StatusOK)
	return out, err
}

func (c *Client) DeleteSchedule(ctx context.Context, id int64) error {
	return c.do(ctx, c.authed, http.MethodDelete, schedulePath(id), nil, nil, http.StatusOK)
}

// WatchSchedules streams change events to fn until ctx is done or the
// connection drops. A handshake rejected with 401 is retried once after a
// refresh.
func (c *Client) WatchSchedules(ctx context.Context, fn func(domain.Event)) error {
	tokens, ok := c.store.Load()
	if !ok {
		return ErrNotLoggedIn
	}

	conn, err := c.dial(ctx, tokens.AccessToken)
	if errors.Is(err, errHandshakeUnauthorized) {
		fresh, refreshErr := c.transport.Refresh(ctx, tokens.AccessToken)
		if refreshErr != nil {
			return refreshErr
		}
		conn, err = c.dial(ctx, fresh.AccessToken)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(gorillaWS.CloseMessage,
			gorillaWS.FormatCloseMessage(gorillaWS.CloseNormalClosure, ""),
			time.Now().Add(constants.DefaultWebSocketWriteWait))
		_ = conn.Close()
	})
	defer stop()

	for {
		var event domain.Event
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if gorillaWS.IsCloseError(err, gorillaWS.CloseNormalClosure, gorillaWS.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("schedule feed: %w", err)
		}
		fn(event)
	}
}

var errHandshakeUnauthorized = errors.New("websocket handshake unauthorized")

func (c *Client) dial(ctx context.Context, accessToken string) (*gorillaWS.Conn, error) {
	wsURL := *c.baseURL
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path += "/api/schedules/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errHandshakeUnauthorized
		}
		if resp != nil {
			return nil, decodeAPIError(resp)
		}
		return nil, fmt.Errorf("failed to dial schedule feed: %w", err)
	}
	return conn, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, in, out any, want int) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	return c.send(hc, req, out, want)
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) send(hc *http.Client, req *http.Request, out any, want int) error {
	resp, err := hc.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && errors.Is(urlErr.Err, ErrSessionExpired) {
			return urlErr.Err
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		apiErr := decodeAPIError(resp)
		c.log.WithFields(req.Context(), logger.Fields{
			"method": req.Method,
			"path":   req.URL.Path,
			"status": resp.StatusCode,
			"action": "api_call_failed",
		}).Debugf("api call failed: %v", apiErr)
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &envelope); err == nil {
		apiErr.Code = envelope.Code
		apiErr.Message = envelope.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func schedulePath(id int64) string {
	return "/api/schedules/" + strconv.FormatInt(id, 10)
}
