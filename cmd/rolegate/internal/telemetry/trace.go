package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names, one per instrumented layer.
const (
	TracerIAM  = "rolegate/services/iam"
	TracerGate = "rolegate/middleware"
)

// StartSpan starts spanName on the named tracer. Callers end the span.
//
//	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.ResolvePermissions",
//	    attribute.String(telemetry.AttrPermissionRoles, key),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError marks the span failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddEvent records a point-in-time identity event such as
// "emulation.expired" or "session.refreshed" on the span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Span attribute keys.
const (
	AttrUserID        = "identity.user_id"
	AttrProfileRole   = "identity.profile_role"
	AttrEffectiveRole = "identity.effective_role"
	AttrEffectiveOrg  = "identity.effective_org"

	AttrEmulating    = "emulation.active"
	AttrEmulatedRole = "emulation.role"
	AttrOriginalRole = "emulation.original_role"

	AttrPermissionRoles = "permissions.roles"
	AttrPermissionCount = "permissions.count"
	AttrCacheHit        = "permissions.cache_hit"

	AttrRoutePath    = "gate.path"
	AttrRouteTier    = "gate.tier"
	AttrGateDecision = "gate.decision"
)
