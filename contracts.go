package nexus

import (
	"time"

	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/retry"
)

// Call describes how Execute should guard one business operation.
type Call struct {
	// Lock serializes the call with every other call on the same name.
	// Empty means no lock.
	Lock        string
	LockTimeout time.Duration
	// RequireSession fails the call with CodeAuthInvalid, or the read
	// failure's own code, when no usable session exists.
	RequireSession bool
	// RequireTenant fails the call with CodeTenantRequired when no tenant
	// resolves.
	RequireTenant bool
	// Policy overrides the client's default retry policy.
	Policy *retry.Policy
}

// SessionInfo is a side-effect free snapshot of the session.
type SessionInfo struct {
	HasSession bool
	UserID     string
	Email      string
	ExpiresAt  time.Time
	ExpiresIn  time.Duration
	TenantID   string
}
