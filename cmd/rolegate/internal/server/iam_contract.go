package server

import (
	"context"
	"net/http"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	gatemw "github.com/terraconstructs/rolegate/cmd/rolegate/internal/middleware"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/services/iam"
)

// iamHandlerService defines the exact IAM methods used by server handlers.
// The gate itself depends on the full iam.Service.
type iamHandlerService interface {
	Authorize(res *iam.Resolution, path, method string, bypassRequested bool) iam.Decision
	AdminStatus(res *iam.Resolution) iam.AdminStatus

	StartEmulation(ctx context.Context, res *iam.Resolution, req iam.StartEmulationRequest) (*auth.EmulationState, error)
	StopEmulation(ctx context.Context, res *iam.Resolution) error
	EmulationStatus(res *iam.Resolution) iam.EmulationStatus
	EmulatableRoles() []auth.Role

	PermissionCacheStats(ctx context.Context) (iam.CacheStats, error)
	InvalidatePermissions(ctx context.Context, userID string, roles []string) (int, error)
	CleanupPermissionCache(ctx context.Context) (int, error)
}

// Compile-time verification that iam.Service satisfies the handler contract.
var _ iamHandlerService = (iam.Service)(nil)

// resolutionOrFail returns the gate's resolution, writing 401 when missing.
func resolutionOrFail(w http.ResponseWriter, r *http.Request) (*iam.Resolution, bool) {
	res, ok := gatemw.ResolutionFromContext(r.Context())
	if !ok {
		writeFailure(w, auth.ErrUnauthenticated)
		return nil, false
	}
	return res, true
}
