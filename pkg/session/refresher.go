package session

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultRefreshMargin   = 90 * time.Second
)

type RefresherOptions struct {
	// Interval between expiry checks.
	Interval time.Duration
	// Margin is how close to expiry a session must be to get refreshed.
	Margin time.Duration
	// OnRefresh runs after every successful refresh.
	OnRefresh func()
	Logger    logr.Logger
}

// Refresher keeps a signed-in session alive by renewing it shortly before
// it expires. Every renewal goes through Guard.RefreshIfExpiring and so
// holds the "auth" lock.
type Refresher struct {
	guard   *Guard
	options RefresherOptions
	cancel  context.CancelFunc
	done    chan struct{}
}

// StartRefresher checks the session immediately and then every interval
// until Stop is called.
func StartRefresher(guard *Guard, options RefresherOptions) *Refresher {
	if options.Interval <= 0 {
		options.Interval = DefaultRefreshInterval
	}
	if options.Margin <= 0 {
		options.Margin = DefaultRefreshMargin
	}
	if options.Logger.GetSink() == nil {
		options.Logger = logr.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Refresher{
		guard:   guard,
		options: options,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.loop(ctx)
	return r
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.options.Interval)
	defer ticker.Stop()

	for {
		r.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Refresher) tick(ctx context.Context) {
	refreshed, err := r.guard.RefreshIfExpiring(ctx, r.options.Margin)
	if err != nil {
		if ctx.Err() == nil {
			r.options.Logger.Error(err, "background session refresh failed")
		}
		return
	}
	if !refreshed {
		return
	}

	r.options.Logger.V(1).Info("session refreshed before expiry")
	if r.options.OnRefresh != nil {
		r.options.OnRefresh()
	}
}

// Stop ends the loop and waits for an in-flight check to return.
func (r *Refresher) Stop() {
	r.cancel()
	<-r.done
}
