package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage"
)

var (
	ErrEmptyKey = errors.New("memory storage: key is required")
)

// Adapter keeps values in process memory. It is the default backend for
// tab storage, whose lifetime matches the client instance.
type Adapter struct {
	mu      sync.RWMutex
	entries map[string]string
}

var _ storage.Store = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		entries: map[string]string{},
	}
}

func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	a.mu.RLock()
	value, ok := a.entries[key]
	a.mu.RUnlock()
	return value, ok, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value string) error {
	if key == "" {
		return ErrEmptyKey
	}

	a.mu.Lock()
	a.entries[key] = value
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	a.mu.Lock()
	delete(a.entries, key)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) DeletePrefix(ctx context.Context, prefix string) error {
	a.mu.Lock()
	for key := range a.entries {
		if strings.HasPrefix(key, prefix) {
			delete(a.entries, key)
		}
	}
	a.mu.Unlock()
	return nil
}

// Len returns the number of stored keys.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
