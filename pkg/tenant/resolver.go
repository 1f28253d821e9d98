package tenant

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/metrics"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage"
)

var ErrNilTabStore = errors.New("tenant: tab store is nil")

type ResolverConfig struct {
	// Device is shared by every tab and survives restarts.
	Device storage.Store
	// Tab is private to this client instance.
	Tab storage.Store
	// Sources overrides the built-in identity sources.
	Sources *Registry
	Logger  logr.Logger
	Metrics *metrics.Metrics
}

// Resolver answers "which tenant is this caller acting for". Identity
// sources win over the request URL, and a URL tenant is only honoured on
// public routes.
type Resolver struct {
	device  storage.Store
	tab     storage.Store
	sources *Registry
	emitter *Emitter
	logger  logr.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	cached string
}

func NewResolver(config ResolverConfig) (*Resolver, error) {
	if config.Tab == nil {
		return nil, ErrNilTabStore
	}

	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	sources := config.Sources
	if sources == nil {
		var err error
		sources, err = NewRegistry(
			FieldWorkerSource(config.Device),
			BackOfficeSource(config.Tab, config.Device),
			ImpersonationSource(config.Device),
		)
		if err != nil {
			return nil, err
		}
	}

	return &Resolver{
		device:  config.Device,
		tab:     config.Tab,
		sources: sources,
		emitter: NewEmitter(logger),
		logger:  logger,
		metrics: config.Metrics,
	}, nil
}

// CurrentTenantID returns the tenant for ctx, or ("", false) when none can
// be determined.
func (r *Resolver) CurrentTenantID(ctx context.Context) (string, bool) {
	return r.resolve(ctx, true)
}

// Peek resolves like CurrentTenantID but leaves the cache as it found it.
func (r *Resolver) Peek(ctx context.Context) (string, bool) {
	return r.resolve(ctx, false)
}

func (r *Resolver) resolve(ctx context.Context, remember bool) (string, bool) {
	observe := func(source string) {
		if remember {
			r.metrics.ObserveTenantResolve(source)
		}
	}

	r.mu.Lock()
	cached := r.cached
	r.mu.Unlock()
	if cached != "" {
		observe("cache")
		return cached, true
	}

	for _, source := range r.sources.Sources() {
		tid, ok, err := source.TenantID(ctx)
		if err != nil {
			r.logger.Error(err, "tenant source read failed", "source", source.Name())
		}
		if !ok {
			continue
		}

		if remember {
			r.mu.Lock()
			r.cached = tid
			r.mu.Unlock()
		}
		observe(source.Name())
		return tid, true
	}

	if tid, ok := publicTenant(ctx); ok {
		observe("public_url")
		return tid, true
	}

	observe("none")
	return "", false
}

// SetTenantID records the active tenant. The empty string clears it.
// Listeners run synchronously and only when the value changed.
func (r *Resolver) SetTenantID(ctx context.Context, tenantID string) error {
	tenantID = strings.TrimSpace(tenantID)

	r.mu.Lock()
	previous := r.cached
	r.cached = tenantID
	r.mu.Unlock()

	var err error
	if tenantID != "" {
		err = r.tab.Set(ctx, KeyCurrentTenant, tenantID)
	} else {
		err = r.tab.Delete(ctx, KeyCurrentTenant)
	}
	if err != nil {
		r.logger.Error(err, "persist current tenant failed")
		err = nerrors.Wrap(nerrors.CodeStorageUnavailable, "persist current tenant", err)
	}

	if previous != tenantID {
		r.emitter.Emit(tenantID)
	}
	return err
}

func (r *Resolver) Clear(ctx context.Context) error {
	return r.SetTenantID(ctx, "")
}

func (r *Resolver) RequireTenantID(ctx context.Context) (string, error) {
	tid, ok := r.CurrentTenantID(ctx)
	if !ok {
		return "", nerrors.ErrTenantRequired
	}
	return tid, nil
}

func (r *Resolver) HasValidTenant(ctx context.Context) bool {
	_, ok := r.CurrentTenantID(ctx)
	return ok
}

// OnChange subscribes to tenant changes and returns the unsubscribe func.
func (r *Resolver) OnChange(listener Listener) func() {
	return r.emitter.Subscribe(listener)
}

// InvalidateCache drops the memoized tenant so the next read consults
// storage again. Persisted values and listeners are untouched.
func (r *Resolver) InvalidateCache() {
	r.mu.Lock()
	r.cached = ""
	r.mu.Unlock()
}
