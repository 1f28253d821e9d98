package tenant

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

type Listener func(tenantID string)

// Emitter delivers tenant changes to listeners synchronously, in
// subscription order. A panicking listener is logged and skipped.
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []subscription
	logger    logr.Logger
}

type subscription struct {
	id       uint64
	listener Listener
}

func NewEmitter(logger logr.Logger) *Emitter {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &Emitter{logger: logger}
}

// Subscribe registers listener and returns a func that removes it.
func (e *Emitter) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, subscription{id: id, listener: listener})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *Emitter) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.listeners {
		if sub.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

func (e *Emitter) Emit(tenantID string) {
	e.mu.Lock()
	snapshot := make([]subscription, len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.Unlock()

	for _, sub := range snapshot {
		e.deliver(sub.listener, tenantID)
	}
}

func (e *Emitter) deliver(listener Listener, tenantID string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(fmt.Errorf("%v", r), "tenant listener panicked")
		}
	}()
	listener(tenantID)
}
