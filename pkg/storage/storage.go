package storage

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Store is a string key/value store. Device storage (shared by every tab
// of a device and surviving restarts) and tab storage (private to one tab
// or client instance) are both Stores; they differ only in where the
// data lives and how keys are namespaced.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Prefixed namespaces every key of an underlying Store.
type Prefixed struct {
	store  Store
	prefix string
}

var _ Store = (*Prefixed)(nil)

func WithPrefix(store Store, prefix string) *Prefixed {
	return &Prefixed{store: store, prefix: prefix}
}

func (p *Prefixed) Prefix() string {
	return p.prefix
}

func (p *Prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.store.Get(ctx, p.prefix+key)
}

func (p *Prefixed) Set(ctx context.Context, key string, value string) error {
	return p.store.Set(ctx, p.prefix+key, value)
}

func (p *Prefixed) Delete(ctx context.Context, key string) error {
	return p.store.Delete(ctx, p.prefix+key)
}

func (p *Prefixed) DeletePrefix(ctx context.Context, prefix string) error {
	return p.store.DeletePrefix(ctx, p.prefix+prefix)
}

// Clear removes every key in the namespace.
func (p *Prefixed) Clear(ctx context.Context) error {
	return p.store.DeletePrefix(ctx, p.prefix)
}

const (
	tabIDPrefix     = "session-"
	globalKeyPrefix = "nexus_global_"
	tabIDStorageKey = "nexus_session_id"
)

// NewTabID returns a fresh per-tab session identifier.
func NewTabID() string {
	return tabIDPrefix + uuid.NewString()
}

// Tab scopes a Store to one tab. Keys are stored as "<tabID>_<key>".
func Tab(store Store, tabID string) *Prefixed {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		tabID = NewTabID()
	}
	return WithPrefix(store, tabID+"_")
}

// Global scopes a Store to values shared by all tabs of a device.
func Global(store Store) *Prefixed {
	return WithPrefix(store, globalKeyPrefix)
}

// ResolveTabID returns the tab identifier persisted in store, creating and
// persisting one when absent. Pass the store that lives exactly as long as
// the tab.
func ResolveTabID(ctx context.Context, store Store) (string, error) {
	id, ok, err := store.Get(ctx, tabIDStorageKey)
	if err != nil {
		return "", err
	}
	if ok && strings.TrimSpace(id) != "" {
		return id, nil
	}

	id = NewTabID()
	if err := store.Set(ctx, tabIDStorageKey, id); err != nil {
		return "", err
	}
	return id, nil
}
