package httptransport

import (
	"net/http"
	"strings"

	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/tenant"
)

type MiddlewareConfig struct {
	// PublicPrefixes are path prefixes reachable without a session.
	PublicPrefixes []string
}

func DefaultConfig() MiddlewareConfig {
	return MiddlewareConfig{
		PublicPrefixes: []string{"/view/", "/view-quote/"},
	}
}

// Middleware attaches the request locator the tenant resolver consults
// for public routes.
func Middleware(config MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			request := tenant.Request{
				URL:    r.URL,
				Public: config.isPublic(r.URL.Path),
			}
			next.ServeHTTP(w, r.WithContext(tenant.WithRequest(r.Context(), request)))
		})
	}
}

func (c MiddlewareConfig) isPublic(path string) bool {
	for _, prefix := range c.PublicPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
