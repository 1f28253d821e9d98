package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage"
)

// Storage keys read by the built-in identity sources.
const (
	KeyFieldWorkerSession       = "nexus_tech_session_v2"
	KeyLegacyFieldWorkerSession = "nexus_tech_session"
	KeyUser                     = "user"
	KeyCurrentTenant            = "current_tenant"
	KeyPersistentUser           = "persistent_user"
	KeyImpersonatedTenant       = "impersonated_tenant"
	KeyFieldWorkerCache         = "nexus_tech_cache_v2"
)

// Source is one session-bound place a tenant id can come from. A miss is
// ("", false, nil).
type Source interface {
	Name() string
	TenantID(ctx context.Context) (string, bool, error)
}

// Registry keeps sources in the order they were registered, which is the
// order the resolver consults them.
type Registry struct {
	sources []Source
	byName  map[string]Source
}

var (
	ErrNilSource     = errors.New("tenant: source is nil")
	ErrEmptyName     = errors.New("tenant: source name is empty")
	ErrDuplicateName = errors.New("tenant: source already exists")
)

func NewRegistry(sources ...Source) (*Registry, error) {
	r := &Registry{
		byName: map[string]Source{},
	}

	for _, source := range sources {
		if err := r.Register(source); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) Register(source Source) error {
	if source == nil {
		return ErrNilSource
	}

	name := source.Name()
	if name == "" {
		return ErrEmptyName
	}

	if _, exists := r.byName[name]; exists {
		return ErrDuplicateName
	}

	r.byName[name] = source
	r.sources = append(r.sources, source)
	return nil
}

func (r *Registry) Source(name string) (Source, bool) {
	source, ok := r.byName[name]
	return source, ok
}

func (r *Registry) Sources() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

type lookup struct {
	store storage.Store
	key   string
	// raw values are stored as-is; otherwise the value is a JSON identity record.
	raw bool
}

// chainSource returns the first tenant id found across its lookups.
type chainSource struct {
	name    string
	lookups []lookup
}

func (s *chainSource) Name() string {
	return s.name
}

func (s *chainSource) TenantID(ctx context.Context) (string, bool, error) {
	var errs []error
	for _, l := range s.lookups {
		if l.store == nil {
			continue
		}
		value, ok, err := l.store.Get(ctx, l.key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}

		if l.raw {
			value = strings.TrimSpace(value)
			if value != "" {
				return value, true, nil
			}
			continue
		}

		tid, err := tenantFromRecord(value)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if tid != "" {
			return tid, true, nil
		}
	}
	return "", false, errors.Join(errs...)
}

// FieldWorkerSource reads the device-persistent field worker record,
// falling back to the legacy key.
func FieldWorkerSource(device storage.Store) Source {
	return &chainSource{
		name: "field_worker",
		lookups: []lookup{
			{store: device, key: KeyFieldWorkerSession},
			{store: device, key: KeyLegacyFieldWorkerSession},
		},
	}
}

// BackOfficeSource reads the tab's user record, then the tab's last
// selected tenant, then the device-wide persistent user record.
func BackOfficeSource(tab storage.Store, device storage.Store) Source {
	var global storage.Store
	if device != nil {
		global = storage.Global(device)
	}
	return &chainSource{
		name: "back_office",
		lookups: []lookup{
			{store: tab, key: KeyUser},
			{store: tab, key: KeyCurrentTenant, raw: true},
			{store: global, key: KeyPersistentUser},
		},
	}
}

// ImpersonationSource reads the operator override shared by every tab of
// the device.
func ImpersonationSource(device storage.Store) Source {
	var global storage.Store
	if device != nil {
		global = storage.Global(device)
	}
	return &chainSource{
		name: "impersonation",
		lookups: []lookup{
			{store: global, key: KeyImpersonatedTenant, raw: true},
		},
	}
}

type identityRecord struct {
	TenantID      string `json:"tenantId"`
	TenantIDSnake string `json:"tenant_id"`
}

func tenantFromRecord(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}

	var record identityRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return "", err
	}
	if tid := strings.TrimSpace(record.TenantID); tid != "" {
		return tid, nil
	}
	return strings.TrimSpace(record.TenantIDSnake), nil
}
