package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/lock"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/metrics"
)

const (
	DefaultCooldown    = 10 * time.Second
	DefaultLockTimeout = 10 * time.Second
)

type GuardOptions struct {
	Cooldown    time.Duration
	LockTimeout time.Duration
	Logger      logr.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Guard answers "is there a usable session right now" without hammering
// the platform. Read paths never refresh; Refresh and SignOut are
// serialized through the "auth" named lock.
type Guard struct {
	auth    Auth
	locks   *lock.Queue
	options GuardOptions

	mu          sync.Mutex
	lastChecked time.Time
	reads       singleflight.Group
}

func NewGuard(auth Auth, locks *lock.Queue, options GuardOptions) (*Guard, error) {
	if auth == nil {
		return nil, nerrors.ErrMissingAuth
	}
	if locks == nil {
		locks = lock.NewQueue()
	}
	if options.Cooldown <= 0 {
		options.Cooldown = DefaultCooldown
	}
	if options.LockTimeout <= 0 {
		options.LockTimeout = DefaultLockTimeout
	}
	if options.Logger.GetSink() == nil {
		options.Logger = logr.Discard()
	}
	if options.Now == nil {
		options.Now = time.Now
	}

	return &Guard{
		auth:    auth,
		locks:   locks,
		options: options,
	}, nil
}

// EnsureValidSession reports whether a usable session exists. Within the
// cooldown after a successful check it returns true without reading.
func (g *Guard) EnsureValidSession(ctx context.Context) bool {
	status, _ := g.CheckSession(ctx)
	return status == StatusValid
}

// CheckSession is EnsureValidSession with the failure kind preserved.
func (g *Guard) CheckSession(ctx context.Context) (Status, error) {
	if g.recentlyChecked() {
		g.options.Metrics.ObserveSessionCheck("cached")
		return StatusValid, nil
	}

	result, err, _ := g.reads.Do("session", func() (any, error) {
		return g.readSession(ctx)
	})
	status, _ := result.(Status)
	g.options.Metrics.ObserveSessionCheck(status.String())
	return status, err
}

func (g *Guard) readSession(ctx context.Context) (Status, error) {
	current, ok, err := g.auth.GetSession(ctx)
	if err != nil {
		code := nerrors.Classify(err)
		if code == nerrors.CodeAuthInvalid {
			g.options.Logger.Info("session rejected by platform", "error", err.Error())
			return StatusAbsent, nerrors.Wrap(nerrors.CodeAuthInvalid, "session rejected", err)
		}
		g.options.Logger.Info("session read failed, keeping local state", "code", code, "error", err.Error())
		return StatusUnknown, nerrors.Wrap(code, "session read failed", err)
	}

	if !ok || !current.Usable(g.options.Now()) {
		return StatusAbsent, nerrors.ErrSessionRequired
	}

	g.markChecked()
	return StatusValid, nil
}

func (g *Guard) recentlyChecked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastChecked.IsZero() {
		return false
	}
	return g.options.Now().Sub(g.lastChecked) < g.options.Cooldown
}

// Refresh forces a token refresh. At most one refresh is in flight.
func (g *Guard) Refresh(ctx context.Context) (Session, error) {
	refreshed, err := lock.Run(ctx, g.locks, lock.NameAuth, g.options.LockTimeout, g.auth.RefreshSession)
	if err != nil {
		g.refreshFailed(err)
		return Session{}, err
	}
	g.markChecked()
	return refreshed, nil
}

// RefreshIfExpiring refreshes when the session expires within margin and
// carries a refresh token. The decision is taken again under the "auth"
// lock, so callers queued behind a refresh do not repeat it.
func (g *Guard) RefreshIfExpiring(ctx context.Context, margin time.Duration) (bool, error) {
	due, err := g.refreshDue(ctx, margin)
	if err != nil || !due {
		return false, err
	}

	refreshed, err := lock.Run(ctx, g.locks, lock.NameAuth, g.options.LockTimeout, func(ctx context.Context) (bool, error) {
		due, err := g.refreshDue(ctx, margin)
		if err != nil || !due {
			return false, err
		}
		if _, err := g.auth.RefreshSession(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		g.refreshFailed(err)
		return false, err
	}
	if refreshed {
		g.markChecked()
	}
	return refreshed, nil
}

func (g *Guard) refreshDue(ctx context.Context, margin time.Duration) (bool, error) {
	current, ok, err := g.auth.GetSession(ctx)
	if err != nil {
		return false, err
	}
	if !ok || current.RefreshToken == "" || current.ExpiresAt.IsZero() {
		return false, nil
	}
	return !g.options.Now().Add(margin).Before(current.ExpiresAt), nil
}

func (g *Guard) refreshFailed(err error) {
	if nerrors.Classify(err) == nerrors.CodeAuthInvalid {
		g.Reset()
	}
}

func (g *Guard) markChecked() {
	g.mu.Lock()
	g.lastChecked = g.options.Now()
	g.mu.Unlock()
}

// SignOut revokes the session and clears the cached resolution.
func (g *Guard) SignOut(ctx context.Context) error {
	err := g.locks.Do(ctx, lock.NameAuth, g.options.LockTimeout, func(ctx context.Context) error {
		return g.auth.SignOut(ctx)
	})
	g.Reset()
	return err
}

// Reset forgets the last successful check.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.lastChecked = time.Time{}
	g.mu.Unlock()
}
