package session

import (
	"sync"
	"time"
)

// DefaultIdleTimeout is how long a field device may sit untouched before
// the session is ended.
const DefaultIdleTimeout = 12 * time.Hour

// IdleMonitor calls onIdle once no activity has been recorded for the
// configured timeout. Touch restarts the countdown.
type IdleMonitor struct {
	mu      sync.Mutex
	timeout time.Duration
	onIdle  func()
	timer   *time.Timer
	stopped bool
}

func NewIdleMonitor(timeout time.Duration, onIdle func()) *IdleMonitor {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	m := &IdleMonitor{
		timeout: timeout,
		onIdle:  onIdle,
	}
	m.timer = time.AfterFunc(timeout, m.fire)
	return m
}

func (m *IdleMonitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.timer.Reset(m.timeout)
}

func (m *IdleMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.timer.Stop()
}

func (m *IdleMonitor) fire() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	if m.onIdle != nil {
		m.onIdle()
	}
}
