package nexus

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/lock"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/metrics"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/platform"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/recovery"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/retry"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/session"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/tenant"
	httptransport "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/transport/http"
)

const signOutTimeout = 10 * time.Second

type Config struct {
	// Auth replaces the platform client as the session authority.
	Auth session.Auth
	// Device and Tab replace the stores built from Runtime.
	Device  storage.Store
	Tab     storage.Store
	Logger  logr.Logger
	Metrics *metrics.Metrics
	// Transport is the base transport wrapped by the retrying transport.
	Transport http.RoundTripper
	// Online and Reconnect are recovery hooks supplied by the host.
	Online    func() bool
	Reconnect func(ctx context.Context) error
	Runtime   RuntimeConfig
}

// Client is the per-process context object: one lock queue, one session
// guard and one tenant resolver shared by every caller.
type Client struct {
	logger        logr.Logger
	metrics       *metrics.Metrics
	auth          session.Auth
	platform      *platform.Client
	http          *http.Client
	locks         *lock.Queue
	retrier       *retry.Retrier
	guard         *session.Guard
	tenants       *tenant.Resolver
	recovery      *recovery.Coordinator
	idle          *session.IdleMonitor
	refresher     *session.Refresher
	closeResource func() error
}

func New(config Config) (*Client, error) {
	closeResource, resolved, err := config.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	client, err := newClient(resolved, closeResource)
	if err != nil {
		_ = closeResource()
		return nil, err
	}
	return client, nil
}

func newClient(config Config, closeResource func() error) (*Client, error) {
	runtime := config.Runtime
	logger := config.Logger

	fetch := httptransport.RetryConfig{
		MaxRetries:     runtime.Fetch.MaxRetries,
		AttemptTimeout: runtime.Fetch.AttemptTimeout,
		RetryDelay:     runtime.Fetch.RetryDelay,
		Logger:         componentLogger(logger, "fetch"),
		Metrics:        config.Metrics,
	}
	if runtime.Fetch.RateLimit > 0 {
		burst := runtime.Fetch.Burst
		if burst <= 0 {
			burst = 1
		}
		fetch.Limiter = rate.NewLimiter(rate.Limit(runtime.Fetch.RateLimit), burst)
	}
	transport := httptransport.NewRetryTransport(config.Transport, fetch)

	c := &Client{
		logger:        logger,
		metrics:       config.Metrics,
		auth:          config.Auth,
		http:          &http.Client{Transport: transport},
		closeResource: closeResource,
		locks: lock.NewQueue(
			lock.WithLogger(componentLogger(logger, "lock")),
			lock.WithMetrics(config.Metrics),
		),
	}

	if runtime.Platform.URL != "" {
		platformClient, err := platform.New(platform.Config{
			BaseURL:   runtime.Platform.URL,
			APIKey:    runtime.Platform.APIKey,
			Transport: transport,
			Device:    config.Device,
			Logger:    componentLogger(logger, "platform"),
		})
		if err != nil {
			return nil, err
		}
		c.platform = platformClient
		c.http = platformClient.HTTPClient()
		if c.auth == nil {
			c.auth = platformClient
		}
	}
	if c.auth == nil {
		return nil, nerrors.ErrMissingAuth
	}

	policy := retry.DefaultPolicy()
	if runtime.Retry.MaxAttempts > 0 {
		policy = retry.Policy{
			MaxAttempts: runtime.Retry.MaxAttempts,
			BaseDelay:   runtime.Retry.BaseDelay,
			Backoff:     runtime.Retry.Backoff,
		}
	}
	c.retrier = retry.NewRetrier(policy,
		retry.WithLogger(componentLogger(logger, "retry")),
		retry.WithMetrics(config.Metrics),
	)

	guard, err := session.NewGuard(c.auth, c.locks, session.GuardOptions{
		Cooldown:    runtime.Session.Cooldown,
		LockTimeout: runtime.Session.LockTimeout,
		Logger:      componentLogger(logger, "session"),
		Metrics:     config.Metrics,
	})
	if err != nil {
		return nil, err
	}
	c.guard = guard

	tenants, err := tenant.NewResolver(tenant.ResolverConfig{
		Device:  config.Device,
		Tab:     config.Tab,
		Logger:  componentLogger(logger, "tenant"),
		Metrics: config.Metrics,
	})
	if err != nil {
		return nil, err
	}
	c.tenants = tenants

	coordinator, err := recovery.NewCoordinator(recovery.Config{
		Sessions:  guard,
		Tenants:   tenants,
		Online:    config.Online,
		Reconnect: config.Reconnect,
		Logger:    componentLogger(logger, "recovery"),
	})
	if err != nil {
		return nil, err
	}
	c.recovery = coordinator

	if runtime.Session.RefreshInterval >= 0 {
		c.refresher = session.StartRefresher(guard, session.RefresherOptions{
			Interval:  runtime.Session.RefreshInterval,
			Margin:    runtime.Session.RefreshMargin,
			OnRefresh: tenants.InvalidateCache,
			Logger:    componentLogger(logger, "refresh"),
		})
	}

	if runtime.Session.IdleTimeout > 0 {
		c.idle = session.NewIdleMonitor(runtime.Session.IdleTimeout, c.signOutIdle)
	}

	logger.V(1).Info("initialized nexus client", "platform", runtime.Platform.URL != "", "idle_timeout", runtime.Session.IdleTimeout)
	return c, nil
}

// EnsureValidSession reports whether a usable session exists. A network
// failure reads as false; use CheckSession to tell it apart from a
// rejected session.
func (c *Client) EnsureValidSession(ctx context.Context) bool {
	if c == nil || c.guard == nil {
		return false
	}
	return c.guard.EnsureValidSession(ctx)
}

func (c *Client) CheckSession(ctx context.Context) (session.Status, error) {
	if c == nil || c.guard == nil {
		return session.StatusUnknown, nerrors.ErrMissingAuth
	}
	return c.guard.CheckSession(ctx)
}

func (c *Client) RefreshSession(ctx context.Context) (session.Session, error) {
	if c == nil || c.guard == nil {
		return session.Session{}, nerrors.ErrMissingAuth
	}
	return c.guard.Refresh(ctx)
}

// SignInWithPassword authenticates against the platform, adopts the
// signed-in user's tenant and records activity for the idle monitor.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (session.Session, error) {
	if c == nil || c.platform == nil {
		return session.Session{}, nerrors.New(nerrors.CodeNotImplemented, "sign in requires a platform url", nil)
	}
	signedIn, err := c.platform.SignInWithPassword(ctx, email, password)
	if err != nil {
		return session.Session{}, err
	}
	c.guard.Reset()
	c.Touch()
	if err := c.tenants.Adopt(ctx, identityOf(signedIn.User)); err != nil {
		return signedIn, err
	}
	return signedIn, nil
}

// identityOf reads the tenant from the user metadata the platform signs
// into the session.
func identityOf(user session.User) tenant.Identity {
	identity := tenant.Identity{UserID: user.ID, Email: user.Email}
	for _, key := range []string{"tenantId", "tenant_id"} {
		if tid, ok := user.Metadata[key].(string); ok && strings.TrimSpace(tid) != "" {
			identity.TenantID = strings.TrimSpace(tid)
			break
		}
	}
	return identity
}

// SignOut ends the session and forgets every identity record the tenant
// resolver reads, so the next user of the device starts clean.
func (c *Client) SignOut(ctx context.Context) error {
	if c == nil || c.guard == nil {
		return nerrors.ErrMissingAuth
	}
	err := c.guard.SignOut(ctx)
	if forgetErr := c.tenants.Forget(ctx); forgetErr != nil && err == nil {
		err = forgetErr
	}
	return err
}

func (c *Client) signOutIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), signOutTimeout)
	defer cancel()

	c.logger.Info("signing out after inactivity")
	if err := c.SignOut(ctx); err != nil {
		c.logger.Error(err, "idle sign out failed")
	}
}

// Touch records user activity for the idle monitor.
func (c *Client) Touch() {
	if c == nil || c.idle == nil {
		return
	}
	c.idle.Touch()
}

func (c *Client) CurrentTenantID(ctx context.Context) (string, bool) {
	return c.tenants.CurrentTenantID(ctx)
}

func (c *Client) SetTenantID(ctx context.Context, tenantID string) error {
	return c.tenants.SetTenantID(ctx, tenantID)
}

func (c *Client) RequireTenantID(ctx context.Context) (string, error) {
	return c.tenants.RequireTenantID(ctx)
}

func (c *Client) HasValidTenant(ctx context.Context) bool {
	return c.tenants.HasValidTenant(ctx)
}

func (c *Client) OnTenantChange(listener func(tenantID string)) func() {
	return c.tenants.OnChange(listener)
}

func (c *Client) InvalidateTenantCache() {
	c.tenants.InvalidateCache()
}

// FetchWithRetry sends req through the retrying transport.
func (c *Client) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.http.Do(req.WithContext(ctx))
}

// HTTPClient returns the client every platform request goes through.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// HasPlatform reports whether a platform url is configured.
func (c *Client) HasPlatform() bool {
	return c != nil && c.platform != nil
}

// Recover schedules a connection recovery. Hosts call it when the app
// returns to the foreground or the network comes back.
func (c *Client) Recover(source string) {
	c.recovery.Trigger(source)
}

func (c *Client) OnRecovery(fn func(recovery.Event)) func() {
	return c.recovery.Subscribe(fn)
}

func (c *Client) Close() error {
	if c == nil || c.closeResource == nil {
		return nil
	}

	if c.idle != nil {
		c.idle.Stop()
	}
	if c.refresher != nil {
		c.refresher.Stop()
	}
	_ = c.recovery.Close()

	err := c.closeResource()
	if err != nil {
		return nerrors.Wrap(nerrors.CodeUnknown, "failed to close client resources", err)
	}
	c.closeResource = nil
	return nil
}

// WithRetry runs op under policy, or the client's default policy when
// policy is the zero value.
func WithRetry[T any](ctx context.Context, c *Client, policy retry.Policy, op func(ctx context.Context) (T, error)) (T, error) {
	retrier := c.retrier
	if policy != (retry.Policy{}) {
		retrier = retry.NewRetrier(policy,
			retry.WithLogger(componentLogger(c.logger, "retry")),
			retry.WithMetrics(c.metrics),
		)
	}
	return retry.Run(ctx, retrier, op)
}

// WithNamedLock runs op once every earlier holder of name has settled.
func WithNamedLock[T any](ctx context.Context, c *Client, name string, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	return lock.Run(ctx, c.locks, name, timeout, op)
}

// Select reads rows from a platform table with the caller's session.
func Select[T any](ctx context.Context, c *Client, table string, query url.Values) platform.Result[[]T] {
	if !c.HasPlatform() {
		return platform.Fail[[]T](nerrors.New(nerrors.CodeNotImplemented, "select requires a platform url", nil))
	}
	return platform.Select[T](ctx, c.platform, table, query)
}

// RPC calls a platform stored procedure with the caller's session.
func RPC[T any](ctx context.Context, c *Client, function string, args any) platform.Result[T] {
	if !c.HasPlatform() {
		return platform.Fail[T](nerrors.New(nerrors.CodeNotImplemented, "rpc requires a platform url", nil))
	}
	return platform.RPC[T](ctx, c.platform, function, args)
}
