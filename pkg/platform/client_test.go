package platform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage/memory"
	httptransport "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/transport/http"
)

const testAPIKey = "anon-key"

type fakePlatform struct {
	t        *testing.T
	mux      *http.ServeMux
	logouts  atomic.Int32
	refreshs atomic.Int32
}

func newFakePlatform(t *testing.T) (*fakePlatform, *httptest.Server) {
	f := &fakePlatform{t: t, mux: http.NewServeMux()}
	f.mux.HandleFunc("POST /auth/v1/token", f.token)
	f.mux.HandleFunc("POST /auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logouts.Add(1)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	f.mux.HandleFunc("GET /rest/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"JWT expired"}`)
			return
		}
		assert.Equal(t, "eq.tenant-A", r.URL.Query().Get("tenant_id"))
		_, _ = io.WriteString(w, `[{"id":"os-1"},{"id":"os-2"}]`)
	})
	f.mux.HandleFunc("GET /rest/v1/users", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"u-1"}]`)
	})
	f.mux.HandleFunc("POST /rest/v1/rpc/next_order_number", func(w http.ResponseWriter, r *http.Request) {
		var args map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		assert.Equal(t, "tenant-A", args["p_tenant_id"])
		_, _ = io.WriteString(w, `42`)
	})
	f.mux.HandleFunc("POST /rest/v1/rpc/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"function does not exist","code":"42883"}`)
	})
	server := httptest.NewServer(f.mux)
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakePlatform) token(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, testAPIKey, r.Header.Get("apikey"))
	var body map[string]string
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	switch r.URL.Query().Get("grant_type") {
	case "password":
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)
			return
		}
	case "refresh_token":
		f.refreshs.Add(1)
		if body["refresh_token"] != "refresh-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	_, _ = io.WriteString(w, `{"access_token":"access-1","refresh_token":"refresh-1","token_type":"bearer","expires_in":3600,"user":{"id":"u-1","email":"tech@nexus.test"}}`)
}

func newTestClient(t *testing.T, baseURL string) (*Client, *memory.Adapter) {
	t.Helper()
	device := memory.NewAdapter()
	client, err := New(Config{
		BaseURL: baseURL,
		APIKey:  testAPIKey,
		Device:  device,
		Logger:  testr.New(t),
	})
	require.NoError(t, err)
	return client, device
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{APIKey: "k", Device: memory.NewAdapter()})
	assert.ErrorIs(t, err, ErrEmptyBaseURL)
	_, err = New(Config{BaseURL: "http://x", Device: memory.NewAdapter()})
	assert.ErrorIs(t, err, ErrEmptyAPIKey)
	_, err = New(Config{BaseURL: "http://x", APIKey: "k"})
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestSignInPersistsSession(t *testing.T) {
	_, server := newFakePlatform(t)
	client, device := newTestClient(t, server.URL)
	ctx := context.Background()

	_, ok, err := client.GetSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	signedIn, err := client.SignInWithPassword(ctx, "tech@nexus.test", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u-1", signedIn.User.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), signedIn.ExpiresAt, time.Minute)

	_, ok, err = device.Get(ctx, SessionStorageKey)
	require.NoError(t, err)
	assert.True(t, ok)

	current, ok, err := client.GetSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "access-1", current.AccessToken)
}

func TestSignInRejectedCredentials(t *testing.T) {
	_, server := newFakePlatform(t)
	client, _ := newTestClient(t, server.URL)

	_, err := client.SignInWithPassword(context.Background(), "tech@nexus.test", "wrong")
	require.Error(t, err)
	assert.True(t, nerrors.IsCode(err, nerrors.CodeRejected))
	assert.Contains(t, err.Error(), "Invalid login credentials")
}

func TestRefreshSession(t *testing.T) {
	f, server := newFakePlatform(t)
	client, _ := newTestClient(t, server.URL)
	ctx := context.Background()

	_, err := client.RefreshSession(ctx)
	assert.True(t, nerrors.IsCode(err, nerrors.CodeAuthInvalid))

	_, err = client.SignInWithPassword(ctx, "tech@nexus.test", "secret")
	require.NoError(t, err)
	refreshed, err := client.RefreshSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", refreshed.AccessToken)
	assert.Equal(t, int32(1), f.refreshs.Load())
}

func TestSignOutForgetsSession(t *testing.T) {
	f, server := newFakePlatform(t)
	client, _ := newTestClient(t, server.URL)
	ctx := context.Background()

	_, err := client.SignInWithPassword(ctx, "tech@nexus.test", "secret")
	require.NoError(t, err)
	require.NoError(t, client.SignOut(ctx))

	_, ok, err := client.GetSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), f.logouts.Load())
}

func TestCorruptPersistedSessionIsAbsent(t *testing.T) {
	_, server := newFakePlatform(t)
	client, device := newTestClient(t, server.URL)
	ctx := context.Background()
	require.NoError(t, device.Set(ctx, SessionStorageKey, "{corrupt"))

	_, ok, err := client.GetSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, _ = device.Get(ctx, SessionStorageKey)
	assert.False(t, ok)
}

type order struct {
	ID string `json:"id"`
}

func TestSelectUsesSessionToken(t *testing.T) {
	_, server := newFakePlatform(t)
	client, _ := newTestClient(t, server.URL)
	ctx := context.Background()
	query := map[string][]string{"tenant_id": {"eq.tenant-A"}}

	result := Select[order](ctx, client, "orders", query)
	require.False(t, result.OK())
	assert.Equal(t, nerrors.CodeAuthInvalid, result.Err.Code)

	_, err := client.SignInWithPassword(ctx, "tech@nexus.test", "secret")
	require.NoError(t, err)

	orders, err := Select[order](ctx, client, "orders", query).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, []order{{ID: "os-1"}, {ID: "os-2"}}, orders)
}

func TestRPC(t *testing.T) {
	_, server := newFakePlatform(t)
	client, _ := newTestClient(t, server.URL)
	ctx := context.Background()

	next, err := RPC[int](ctx, client, "next_order_number", map[string]string{"p_tenant_id": "tenant-A"}).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 42, next)

	result := RPC[int](ctx, client, "broken", nil)
	require.NotNil(t, result.Err)
	assert.Equal(t, nerrors.CodeRejected, result.Err.Code)
	assert.Contains(t, result.Err.Error(), "function does not exist")
}

func TestPing(t *testing.T) {
	_, server := newFakePlatform(t)
	client, _ := newTestClient(t, server.URL)

	latency, err := client.Ping(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latency, time.Duration(0))
}

func TestServerErrorsRetriedThroughTransport(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `[{"id":"u-1"}]`)
	}))
	defer server.Close()

	retryConfig := httptransport.DefaultRetryConfig()
	retryConfig.RetryDelay = time.Millisecond
	client, err := New(Config{
		BaseURL:   server.URL,
		APIKey:    testAPIKey,
		Device:    memory.NewAdapter(),
		Transport: httptransport.NewRetryTransport(nil, retryConfig),
	})
	require.NoError(t, err)

	_, err = client.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestServerErrorMapsToTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	client, _ := newTestClient(t, server.URL)

	_, err := client.Ping(context.Background())
	assert.True(t, nerrors.IsCode(err, nerrors.CodeTransient))
	assert.True(t, nerrors.IsRetryable(err))
}
