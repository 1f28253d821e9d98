package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/metrics"
)

// DefaultTimeout applies when a caller passes a non-positive timeout.
const DefaultTimeout = 10 * time.Second

// NameAuth guards session refresh and sign-out.
const NameAuth = "auth"

// Queue serializes operations per name. Each name holds a chain of one:
// a caller waits for the previous caller on the same name to settle
// before it runs, and callers on different names never wait for each other.
type Queue struct {
	mu      sync.Mutex
	tails   map[string]*link
	depth   map[string]int
	logger  logr.Logger
	metrics *metrics.Metrics
}

type link struct {
	done chan struct{}
}

type Option func(*Queue)

func WithLogger(logger logr.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		tails:  map[string]*link{},
		depth:  map[string]int{},
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Do runs fn once every earlier caller on name has settled. If the wait
// exceeds timeout, fn is not run and a CodeLockTimeout error is returned.
// The predecessor's error is never returned to this caller.
func (q *Queue) Do(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := Run(ctx, q, name, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Run is Do for operations that produce a value.
func Run[T any](ctx context.Context, q *Queue, name string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	self := &link{done: make(chan struct{})}
	prev := q.enqueue(name, self)
	defer q.settle(name, self)

	if prev != nil {
		start := time.Now()
		timer := time.NewTimer(timeout)
		select {
		case <-prev.done:
			timer.Stop()
			q.metrics.ObserveLockWait(name, time.Since(start))
		case <-timer.C:
			q.metrics.ObserveLockTimeout(name)
			q.logger.Info("named lock wait timed out", "name", name, "timeout", timeout)
			return zero, nerrors.Wrap(nerrors.CodeLockTimeout, fmt.Sprintf("lock %q: timed out after %s", name, timeout), nil)
		case <-ctx.Done():
			timer.Stop()
			return zero, nerrors.Wrap(nerrors.CodeCancelled, fmt.Sprintf("lock %q: wait cancelled", name), ctx.Err())
		}
	}

	return fn(ctx)
}

// Pending reports whether any caller currently holds or waits on name.
func (q *Queue) Pending(name string) bool {
	return q.Len(name) > 0
}

// Len returns the number of callers holding or waiting on name.
func (q *Queue) Len(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth[name]
}

func (q *Queue) enqueue(name string, self *link) *link {
	q.mu.Lock()
	defer q.mu.Unlock()
	prev := q.tails[name]
	q.tails[name] = self
	q.depth[name]++
	return prev
}

func (q *Queue) settle(name string, self *link) {
	close(self.done)

	q.mu.Lock()
	if q.tails[name] == self {
		delete(q.tails, name)
	}
	if q.depth[name] > 1 {
		q.depth[name]--
	} else {
		delete(q.depth, name)
	}
	q.mu.Unlock()
}
