package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/session"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage"
)

// SessionStorageKey is the device storage key holding the persisted
// session, shared by every tab.
const SessionStorageKey = "nexus_shared_auth"

const maxErrorBody = 4 << 10

var (
	ErrEmptyBaseURL = errors.New("platform: base url is required")
	ErrEmptyAPIKey  = errors.New("platform: api key is required")
	ErrNilStore     = errors.New("platform: session store is nil")
)

type Config struct {
	BaseURL string
	APIKey  string
	// Transport carries every request; wrap it in a RetryTransport to get
	// retries and per-attempt deadlines.
	Transport http.RoundTripper
	// Device persists the session across restarts.
	Device storage.Store
	Logger logr.Logger
	Now    func() time.Time
}

// Client talks to the hosted backend's auth and data endpoints.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	device  storage.Store
	logger  logr.Logger
	now     func() time.Time
}

var _ session.Auth = (*Client)(nil)

func New(config Config) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, ErrEmptyBaseURL
	}
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.Device == nil {
		return nil, ErrNilStore
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("platform: parse base url: %w", err)
	}

	transport := config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		baseURL: base,
		apiKey:  config.APIKey,
		http:    &http.Client{Transport: otelhttp.NewTransport(transport)},
		device:  config.Device,
		logger:  logger,
		now:     now,
	}, nil
}

// HTTPClient returns the instrumented client used for every request.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	User         session.User `json:"user"`
}

func (t tokenResponse) session(now time.Time) session.Session {
	expiresAt := time.Time{}
	switch {
	case t.ExpiresAt > 0:
		expiresAt = time.Unix(t.ExpiresAt, 0).UTC()
	case t.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	}
	return session.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresAt:    expiresAt,
		User:         t.User,
	}
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (session.Session, error) {
	return c.grant(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// GetSession reads the persisted session. It never touches the network.
func (c *Client) GetSession(ctx context.Context) (session.Session, bool, error) {
	raw, ok, err := c.device.Get(ctx, SessionStorageKey)
	if err != nil {
		return session.Session{}, false, nerrors.Wrap(nerrors.CodeStorageUnavailable, "read session", err)
	}
	if !ok || raw == "" {
		return session.Session{}, false, nil
	}

	var current session.Session
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		c.logger.Error(err, "discarding unreadable persisted session")
		_ = c.device.Delete(ctx, SessionStorageKey)
		return session.Session{}, false, nil
	}
	return current, true, nil
}

// RefreshSession exchanges the stored refresh token. It takes no lock of
// its own; callers reach it through session.Guard, which holds "auth".
func (c *Client) RefreshSession(ctx context.Context) (session.Session, error) {
	current, ok, err := c.GetSession(ctx)
	if err != nil {
		return session.Session{}, err
	}
	if !ok || current.RefreshToken == "" {
		return session.Session{}, nerrors.ErrSessionRequired
	}

	return c.grant(ctx, "refresh_token", map[string]string{
		"refresh_token": current.RefreshToken,
	})
}

// SignOut revokes the session server side and always forgets it locally.
func (c *Client) SignOut(ctx context.Context) error {
	current, ok, err := c.GetSession(ctx)
	if err != nil {
		return err
	}

	var remoteErr error
	if ok && current.AccessToken != "" {
		result := do[struct{}](ctx, c, http.MethodPost, "/auth/v1/logout", nil, nil, current.AccessToken)
		if result.Err != nil && result.Err.Code != nerrors.CodeAuthInvalid {
			remoteErr = result.Err
		}
	}

	if err := c.device.Delete(ctx, SessionStorageKey); err != nil {
		return errors.Join(remoteErr, nerrors.Wrap(nerrors.CodeStorageUnavailable, "forget session", err))
	}
	return remoteErr
}

func (c *Client) grant(ctx context.Context, grantType string, body any) (session.Session, error) {
	query := url.Values{"grant_type": {grantType}}
	result := do[tokenResponse](ctx, c, http.MethodPost, "/auth/v1/token", query, body, "")
	token, err := result.Unwrap()
	if err != nil {
		return session.Session{}, err
	}

	current := token.session(c.now())
	encoded, err := json.Marshal(current)
	if err != nil {
		return session.Session{}, err
	}
	if err := c.device.Set(ctx, SessionStorageKey, string(encoded)); err != nil {
		return session.Session{}, nerrors.Wrap(nerrors.CodeStorageUnavailable, "persist session", err)
	}
	return current, nil
}

// Select reads rows from table. query carries PostgREST filters such as
// "select" and "limit".
func Select[T any](ctx context.Context, c *Client, table string, query url.Values) Result[[]T] {
	return do[[]T](ctx, c, http.MethodGet, "/rest/v1/"+url.PathEscape(table), query, nil, c.accessToken(ctx))
}

// RPC calls a stored procedure.
func RPC[T any](ctx context.Context, c *Client, function string, args any) Result[T] {
	if args == nil {
		args = map[string]any{}
	}
	return do[T](ctx, c, http.MethodPost, "/rest/v1/rpc/"+url.PathEscape(function), nil, args, c.accessToken(ctx))
}

// Ping measures one round trip to the data API.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	started := c.now()
	result := Select[map[string]any](ctx, c, "users", url.Values{"select": {"id"}, "limit": {"1"}})
	_, err := result.Unwrap()
	return c.now().Sub(started), err
}

func (c *Client) accessToken(ctx context.Context) string {
	current, ok, err := c.GetSession(ctx)
	if err != nil || !ok {
		return ""
	}
	return current.AccessToken
}

func do[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any, bearer string) Result[T] {
	endpoint := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return Fail[T](nerrors.Wrap(nerrors.CodeRejected, "encode request", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return Fail[T](nerrors.Wrap(nerrors.CodeRejected, "build request", err))
	}
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Fail[T](asError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return Fail[T](statusError(resp))
	}

	var data T
	if resp.StatusCode == http.StatusNoContent {
		return Ok(data)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Fail[T](nerrors.Wrap(nerrors.Classify(err), "read response", err))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return Ok(data)
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return Fail[T](nerrors.Wrap(nerrors.CodeUnknown, "decode response", err))
	}
	return Ok(data)
}

type errorBody struct {
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (b errorBody) text() string {
	for _, candidate := range []string{b.ErrorDescription, b.Message, b.Msg, b.Error} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func statusError(resp *http.Response) *nerrors.Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	message := ""
	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		message = body.text()
	}
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}

	cause := &nerrors.StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: message}
	return nerrors.Wrap(nerrors.Classify(cause), "platform request failed", cause)
}

func asError(err error) *nerrors.Error {
	var typed *nerrors.Error
	if errors.As(err, &typed) {
		return typed
	}
	return nerrors.Wrap(nerrors.Classify(err), "request failed", err)
}
