package tenant

import (
	"context"
	"net/url"
	"strings"
)

// TenantParam is the query parameter public links carry the tenant in.
const TenantParam = "tid"

// Request locates the caller's current route. Public marks routes that
// may be opened without a session, such as a shared read-only view.
type Request struct {
	URL    *url.URL
	Public bool
}

type requestKey struct{}

func WithRequest(ctx context.Context, request Request) context.Context {
	return context.WithValue(ctx, requestKey{}, request)
}

func RequestFrom(ctx context.Context) (Request, bool) {
	if ctx == nil {
		return Request{}, false
	}
	request, ok := ctx.Value(requestKey{}).(Request)
	return request, ok
}

// publicTenant returns the tid parameter of a public request.
func publicTenant(ctx context.Context) (string, bool) {
	request, ok := RequestFrom(ctx)
	if !ok || !request.Public || request.URL == nil {
		return "", false
	}
	tid := strings.TrimSpace(request.URL.Query().Get(TenantParam))
	return tid, tid != ""
}
