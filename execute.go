package nexus

import (
	"context"

	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/lock"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/retry"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/session"
)

// Execute runs a business operation the way every data access should:
// under the call's named lock, after the session and tenant checks, with
// retries. op receives the resolved tenant id, which is empty when the
// call does not require one and none resolves.
func Execute[T any](ctx context.Context, c *Client, call Call, op func(ctx context.Context, tenantID string) (T, error)) (T, error) {
	if call.Lock == "" {
		return execute(ctx, c, call, op)
	}
	return lock.Run(ctx, c.locks, call.Lock, call.LockTimeout, func(ctx context.Context) (T, error) {
		return execute(ctx, c, call, op)
	})
}

func execute[T any](ctx context.Context, c *Client, call Call, op func(ctx context.Context, tenantID string) (T, error)) (T, error) {
	var zero T

	if call.RequireSession {
		status, err := c.guard.CheckSession(ctx)
		if status != session.StatusValid {
			if err == nil {
				err = nerrors.ErrSessionRequired
			}
			return zero, err
		}
	}

	var tenantID string
	if call.RequireTenant {
		tid, err := c.tenants.RequireTenantID(ctx)
		if err != nil {
			return zero, err
		}
		tenantID = tid
	} else {
		tenantID, _ = c.tenants.CurrentTenantID(ctx)
	}

	retrier := c.retrier
	if call.Policy != nil {
		retrier = retry.NewRetrier(*call.Policy,
			retry.WithLogger(componentLogger(c.logger, "retry")),
			retry.WithMetrics(c.metrics),
		)
	}
	return retry.Run(ctx, retrier, func(ctx context.Context) (T, error) {
		return op(ctx, tenantID)
	})
}
