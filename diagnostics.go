package nexus

import (
	"context"
	"time"

	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
)

// Ping measures one round trip to the platform's data API.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	if c == nil || c.platform == nil {
		return 0, nerrors.New(nerrors.CodeNotImplemented, "ping requires a platform url", nil)
	}
	return c.platform.Ping(ctx)
}

// SessionInfo reads the session and tenant without refreshing, touching
// the cooldown or filling the tenant cache.
func (c *Client) SessionInfo(ctx context.Context) (SessionInfo, error) {
	if c == nil || c.auth == nil {
		return SessionInfo{}, nerrors.ErrMissingAuth
	}

	current, ok, err := c.auth.GetSession(ctx)
	if err != nil {
		return SessionInfo{}, err
	}

	info := SessionInfo{HasSession: ok}
	if tid, found := c.tenants.Peek(ctx); found {
		info.TenantID = tid
	}
	if !ok {
		return info, nil
	}

	info.UserID = current.User.ID
	info.Email = current.User.Email
	info.ExpiresAt = current.ExpiresAt
	if !current.ExpiresAt.IsZero() {
		info.ExpiresIn = time.Until(current.ExpiresAt)
	}
	return info, nil
}
