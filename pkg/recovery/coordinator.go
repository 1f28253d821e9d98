package recovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/session"
)

// Triggers raised by the host when connectivity may have been lost.
const (
	SourceVisibility = "visibilitychange"
	SourceFocus      = "window.focus"
	SourceOnline     = "network.online"
)

const (
	DefaultDebounce = 300 * time.Millisecond
	DefaultTimeout  = 30 * time.Second
)

var ErrNilSessions = errors.New("recovery: session checker is required")

type SessionChecker interface {
	Reset()
	CheckSession(ctx context.Context) (session.Status, error)
}

type CacheInvalidator interface {
	InvalidateCache()
}

// Event is published after every completed recovery.
type Event struct {
	Source     string
	HasSession bool
	At         time.Time
}

type Config struct {
	Sessions SessionChecker
	Tenants  CacheInvalidator
	// Online reports connectivity; recovery is skipped while offline.
	Online func() bool
	// Reconnect re-establishes realtime channels suspended by the host.
	Reconnect func(ctx context.Context) error
	Debounce  time.Duration
	Timeout   time.Duration
	Logger    logr.Logger
	Now       func() time.Time
}

// Coordinator collapses bursts of wake-up signals into one recovery run
// and never runs two recoveries at once.
type Coordinator struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	inFlight atomic.Bool
	runs     sync.WaitGroup

	mu          sync.Mutex
	timer       *time.Timer
	closed      bool
	nextID      uint64
	subscribers map[uint64]func(Event)
}

func NewCoordinator(config Config) (*Coordinator, error) {
	if config.Sessions == nil {
		return nil, ErrNilSessions
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Online == nil {
		config.Online = func() bool { return true }
	}
	if config.Logger.GetSink() == nil {
		config.Logger = logr.Discard()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		config:      config,
		ctx:         ctx,
		cancel:      cancel,
		subscribers: map[uint64]func(Event){},
	}, nil
}

// Trigger schedules a recovery after the debounce window. Triggers that
// arrive inside the window replace the pending one.
func (c *Coordinator) Trigger(source string) {
	if c.inFlight.Load() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.config.Debounce, func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.runs.Add(1)
		c.mu.Unlock()

		defer c.runs.Done()
		c.run(source)
	})
}

// Subscribe registers fn for completion events and returns the
// unsubscribe func.
func (c *Coordinator) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// Close cancels any pending or running recovery and waits for it.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	c.cancel()
	c.runs.Wait()
	return nil
}

func (c *Coordinator) run(source string) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer c.inFlight.Store(false)

	logger := c.config.Logger.WithValues("source", source)
	logger.V(1).Info("recovery started")

	if !c.config.Online() {
		logger.Info("offline, recovery postponed")
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.config.Timeout)
	defer cancel()

	if c.config.Reconnect != nil {
		if err := c.config.Reconnect(ctx); err != nil {
			logger.Error(err, "realtime reconnect failed")
		}
	}

	c.config.Sessions.Reset()
	status, err := c.config.Sessions.CheckSession(ctx)
	if status == session.StatusUnknown {
		logger.Error(err, "session check failed during recovery")
		return
	}
	if status == session.StatusAbsent {
		logger.Info("no active session after recovery")
	}

	if c.config.Tenants != nil {
		c.config.Tenants.InvalidateCache()
	}

	c.publish(Event{
		Source:     source,
		HasSession: status == session.StatusValid,
		At:         c.config.Now(),
	})
	logger.V(1).Info("recovery complete")
}

func (c *Coordinator) publish(event Event) {
	c.mu.Lock()
	subscribers := make([]func(Event), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subscribers = append(subscribers, fn)
	}
	c.mu.Unlock()

	for _, fn := range subscribers {
		fn(event)
	}
}
