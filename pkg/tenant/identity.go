package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	nerrors "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/errors"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage"
)

// Identity is the signed-in user record the back-office source reads. It
// must come from the authenticated session, never from request input.
type Identity struct {
	UserID   string `json:"id"`
	Email    string `json:"email,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
}

// deviceIdentityKeys are wiped from device storage, both bare and in the
// global namespace, when the user signs out.
var deviceIdentityKeys = []string{
	KeyFieldWorkerSession,
	KeyLegacyFieldWorkerSession,
	KeyFieldWorkerCache,
	KeyPersistentUser,
	KeyImpersonatedTenant,
}

// Adopt records identity as the tab's user and the device's persistent
// user, and makes its tenant the active one.
func (r *Resolver) Adopt(ctx context.Context, identity Identity) error {
	identity.TenantID = strings.TrimSpace(identity.TenantID)
	encoded, err := json.Marshal(identity)
	if err != nil {
		return err
	}

	var errs []error
	errs = append(errs, r.tab.Set(ctx, KeyUser, string(encoded)))
	if r.device != nil {
		errs = append(errs, storage.Global(r.device).Set(ctx, KeyPersistentUser, string(encoded)))
	}
	err = errors.Join(errs...)
	if err != nil {
		r.logger.Error(err, "persist identity failed", "user", identity.UserID)
		err = nerrors.Wrap(nerrors.CodeStorageUnavailable, "persist identity", err)
	}
	return errors.Join(err, r.SetTenantID(ctx, identity.TenantID))
}

// Forget removes every session-bound identity record this resolver can
// read, so a signed-out client resolves no tenant until the next sign-in.
func (r *Resolver) Forget(ctx context.Context) error {
	var errs []error

	if clearer, ok := r.tab.(interface{ Clear(context.Context) error }); ok {
		errs = append(errs, clearer.Clear(ctx))
	} else {
		errs = append(errs, r.tab.Delete(ctx, KeyUser))
	}

	if r.device != nil {
		global := storage.Global(r.device)
		for _, key := range deviceIdentityKeys {
			errs = append(errs, r.device.Delete(ctx, key), global.Delete(ctx, key))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		r.logger.Error(err, "forget identity failed")
		err = nerrors.Wrap(nerrors.CodeStorageUnavailable, "forget identity", err)
	}
	return errors.Join(err, r.SetTenantID(ctx, ""))
}
