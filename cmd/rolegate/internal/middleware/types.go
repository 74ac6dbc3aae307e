package middleware

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/services/iam"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/telemetry"
)

// DefaultPublicPaths skip the gate entirely.
var DefaultPublicPaths = []string{"/", "/auth", "/health", "/metrics"}

// BypassParam is the query parameter a super admin adds to pass a soft deny.
const BypassParam = "superadmin_bypass"

// GateDependencies bundles collaborators required by the access gate.
type GateDependencies struct {
	Service iam.Service

	// SignInPath receives unauthenticated page requests with ?returnTo=.
	SignInPath string

	// PublicPaths are matched exactly, or as a prefix followed by "/".
	// "/" only ever matches the root. Defaults to DefaultPublicPaths.
	PublicPaths []string

	Logger  logrus.FieldLogger
	Metrics *telemetry.Metrics
}

type resolutionContextKey struct{}

// SetResolution stores the request's resolution on ctx.
func SetResolution(ctx context.Context, res *iam.Resolution) context.Context {
	return context.WithValue(ctx, resolutionContextKey{}, res)
}

// ResolutionFromContext returns the resolution stored by the gate.
func ResolutionFromContext(ctx context.Context) (*iam.Resolution, bool) {
	res, ok := ctx.Value(resolutionContextKey{}).(*iam.Resolution)
	return res, ok && res != nil
}
