package tenant

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage/memory"
)

type fixture struct {
	device   *memory.Adapter
	tab      storage.Store
	resolver *Resolver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	device := memory.NewAdapter()
	tab := storage.Tab(memory.NewAdapter(), "session-test")
	resolver, err := NewResolver(ResolverConfig{
		Device: device,
		Tab:    tab,
		Logger: testr.New(t),
	})
	require.NoError(t, err)
	return fixture{device: device, tab: tab, resolver: resolver}
}

func (f fixture) set(t *testing.T, store storage.Store, key, value string) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), key, value))
}

func publicRequest(t *testing.T, raw string) context.Context {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return WithRequest(context.Background(), Request{URL: u, Public: true})
}

func TestNewResolverRequiresTab(t *testing.T) {
	_, err := NewResolver(ResolverConfig{})
	assert.ErrorIs(t, err, ErrNilTabStore)
}

func TestFieldWorkerRecordWinsOverTabRecord(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.device, KeyFieldWorkerSession, `{"tenantId":"tenant-X"}`)
	f.set(t, f.tab, KeyUser, `{"tenantId":"tenant-Y"}`)

	tid, ok := f.resolver.CurrentTenantID(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "tenant-X", tid)
}

func TestLegacyFieldWorkerKeyAndSnakeCase(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.device, KeyLegacyFieldWorkerSession, `{"tenant_id":"tenant-legacy"}`)

	tid, ok := f.resolver.CurrentTenantID(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "tenant-legacy", tid)
}

func TestPublicURLIgnoredWhenIdentityResolves(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.tab, KeyUser, `{"tenantId":"tenant-A"}`)

	tid, ok := f.resolver.CurrentTenantID(publicRequest(t, "https://app.example/view/os/1?tid=tenant-B"))
	assert.True(t, ok)
	assert.Equal(t, "tenant-A", tid)
}

func TestURLTenantOnlyOnPublicRoutes(t *testing.T) {
	f := newFixture(t)

	u, err := url.Parse("https://app.example/admin?tid=tenant-B")
	require.NoError(t, err)
	_, ok := f.resolver.CurrentTenantID(WithRequest(context.Background(), Request{URL: u}))
	assert.False(t, ok)

	tid, ok := f.resolver.CurrentTenantID(publicRequest(t, "https://app.example/view?tid=tenant-B"))
	assert.True(t, ok)
	assert.Equal(t, "tenant-B", tid)

	// never cached
	_, ok = f.resolver.CurrentTenantID(context.Background())
	assert.False(t, ok)
}

func TestBackOfficeFallbacks(t *testing.T) {
	f := newFixture(t)
	f.set(t, storage.Global(f.device), KeyPersistentUser, `{"tenantId":"tenant-persistent"}`)

	tid, _ := f.resolver.CurrentTenantID(context.Background())
	assert.Equal(t, "tenant-persistent", tid)

	f.resolver.InvalidateCache()
	f.set(t, f.tab, KeyCurrentTenant, "tenant-selected")
	tid, _ = f.resolver.CurrentTenantID(context.Background())
	assert.Equal(t, "tenant-selected", tid)
}

func TestImpersonationIsLastIdentitySource(t *testing.T) {
	f := newFixture(t)
	f.set(t, storage.Global(f.device), KeyImpersonatedTenant, "tenant-imp")

	tid, ok := f.resolver.CurrentTenantID(publicRequest(t, "https://app.example/view?tid=tenant-B"))
	assert.True(t, ok)
	assert.Equal(t, "tenant-imp", tid)
}

func TestCorruptRecordIsAMiss(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.device, KeyFieldWorkerSession, `{not json`)
	f.set(t, f.tab, KeyUser, `{"tenantId":"tenant-A"}`)

	tid, ok := f.resolver.CurrentTenantID(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "tenant-A", tid)
}

func TestCacheShortCircuitsUntilInvalidated(t *testing.T) {
	f := newFixture(t)
	f.set(t, f.tab, KeyUser, `{"tenantId":"tenant-A"}`)

	tid, _ := f.resolver.CurrentTenantID(context.Background())
	require.Equal(t, "tenant-A", tid)

	f.set(t, f.tab, KeyUser, `{"tenantId":"tenant-B"}`)
	tid, _ = f.resolver.CurrentTenantID(context.Background())
	assert.Equal(t, "tenant-A", tid)

	f.resolver.InvalidateCache()
	tid, _ = f.resolver.CurrentTenantID(context.Background())
	assert.Equal(t, "tenant-B", tid)
}

func TestSetTenantIDNotifiesOnlyOnChange(t *testing.T) {
	f := newFixture(t)
	var seen []string
	unsubscribe := f.resolver.OnChange(func(tid string) { seen = append(seen, tid) })

	ctx := context.Background()
	require.NoError(t, f.resolver.SetTenantID(ctx, "tenant-A"))
	require.NoError(t, f.resolver.SetTenantID(ctx, "tenant-A"))
	assert.Equal(t, []string{"tenant-A"}, seen)

	value, ok, err := f.tab.Get(ctx, KeyCurrentTenant)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tenant-A", value)

	require.NoError(t, f.resolver.Clear(ctx))
	assert.Equal(t, []string{"tenant-A", ""}, seen)
	_, ok, err = f.tab.Get(ctx, KeyCurrentTenant)
	require.NoError(t, err)
	assert.False(t, ok)

	unsubscribe()
	require.NoError(t, f.resolver.SetTenantID(ctx, "tenant-B"))
	assert.Len(t, seen, 2)
}

func TestListenerPanicDoesNotStopDelivery(t *testing.T) {
	f := newFixture(t)
	var got string
	f.resolver.OnChange(func(string) { panic("boom") })
	f.resolver.OnChange(func(tid string) { got = tid })

	require.NoError(t, f.resolver.SetTenantID(context.Background(), "tenant-A"))
	assert.Equal(t, "tenant-A", got)
}

func TestRequireTenantID(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.RequireTenantID(context.Background())
	assert.ErrorIs(t, err, nerrors.ErrTenantRequired)
	assert.True(t, nerrors.IsCode(err, nerrors.CodeTenantRequired))
	assert.False(t, f.resolver.HasValidTenant(context.Background()))

	require.NoError(t, f.resolver.SetTenantID(context.Background(), "tenant-A"))
	tid, err := f.resolver.RequireTenantID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tenant-A", tid)
	assert.True(t, f.resolver.HasValidTenant(context.Background()))
}

type failingStore struct{ storage.Store }

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("storage offline")
}

func TestStorageErrorsAreMisses(t *testing.T) {
	tab := storage.Tab(memory.NewAdapter(), "session-test")
	require.NoError(t, tab.Set(context.Background(), KeyUser, `{"tenantId":"tenant-A"}`))

	resolver, err := NewResolver(ResolverConfig{
		Device: failingStore{},
		Tab:    tab,
		Logger: testr.New(t),
	})
	require.NoError(t, err)

	tid, ok := resolver.CurrentTenantID(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "tenant-A", tid)
}

type staticSource struct {
	name string
	tid  string
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) TenantID(context.Context) (string, bool, error) {
	return s.tid, s.tid != "", nil
}

func TestRegistry(t *testing.T) {
	_, err := NewRegistry(nil)
	assert.ErrorIs(t, err, ErrNilSource)

	_, err = NewRegistry(staticSource{})
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = NewRegistry(staticSource{name: "a"}, staticSource{name: "a"})
	assert.ErrorIs(t, err, ErrDuplicateName)

	registry, err := NewRegistry(staticSource{name: "first"}, staticSource{name: "second", tid: "tenant-2"})
	require.NoError(t, err)
	_, ok := registry.Source("second")
	assert.True(t, ok)

	resolver, err := NewResolver(ResolverConfig{Tab: memory.NewAdapter(), Sources: registry})
	require.NoError(t, err)
	tid, _ := resolver.CurrentTenantID(context.Background())
	assert.Equal(t, "tenant-2", tid)
}

func TestPeekDoesNotFillCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.set(t, f.tab, KeyUser, `{"tenantId":"tenant-A"}`)

	tid, ok := f.resolver.Peek(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tenant-A", tid)

	require.NoError(t, f.tab.Delete(ctx, KeyUser))
	_, ok = f.resolver.CurrentTenantID(ctx)
	assert.False(t, ok)
}
