package iam

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/telemetry"
)

// PermissionStore is the backing permission relation:
// SELECT permission FROM role_permissions WHERE role IN (:roles).
// Both the bun repository and the casbin policy store satisfy it.
type PermissionStore interface {
	PermissionsForRoles(ctx context.Context, roles []string) ([]string, error)
}

// PermissionResolver maps a role set to the union of its permissions.
//
// Lookups go through the cache; misses query the store once per key even
// under concurrent callers. A store failure resolves to the empty set and is
// never cached, so the next request queries again.
type PermissionResolver struct {
	store   PermissionStore
	cache   PermissionCache
	group   singleflight.Group
	logger  logrus.FieldLogger
	metrics *telemetry.Metrics
}

// NewPermissionResolver wires a store and cache. logger and metrics may be nil.
func NewPermissionResolver(store PermissionStore, cache PermissionCache, logger logrus.FieldLogger, metrics *telemetry.Metrics) *PermissionResolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PermissionResolver{
		store:   store,
		cache:   cache,
		logger:  logger.WithField("component", "permission_resolver"),
		metrics: metrics,
	}
}

// Cache exposes the underlying cache for administration.
func (r *PermissionResolver) Cache() PermissionCache {
	return r.cache
}

// Resolve returns the permissions granted by roles.
func (r *PermissionResolver) Resolve(ctx context.Context, roles []auth.Role) auth.PermissionSet {
	return r.ResolveFor(ctx, "", roles)
}

// ResolveFor is Resolve with the requesting user recorded in the cache index
// so InvalidateUser can find the entry later. Every caller is recorded, whether
// it hit the cache, ran the lookup or joined another caller's lookup.
func (r *PermissionResolver) ResolveFor(ctx context.Context, userID string, roles []auth.Role) auth.PermissionSet {
	key := CacheKey(roles)
	if key == "" {
		return auth.PermissionSet{}
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.ResolvePermissions",
		attribute.String(telemetry.AttrPermissionRoles, key),
	)
	defer span.End()

	log := r.logger.WithField("cache_key", key)

	perms, result, err := r.cache.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warn("permission cache read failed")
	}
	r.metrics.RecordCacheLookup(string(result))
	if result == CacheHit {
		if err := r.cache.Track(ctx, key, userID); err != nil {
			log.WithError(err).Warn("permission cache index write failed")
		}
		span.SetAttributes(
			attribute.Bool(telemetry.AttrCacheHit, true),
			attribute.Int(telemetry.AttrPermissionCount, len(perms)),
		)
		return perms
	}
	span.SetAttributes(attribute.Bool(telemetry.AttrCacheHit, false))

	// The shared lookup outlives any single caller's cancellation.
	lookupCtx := context.WithoutCancel(ctx)
	v, err, shared := r.group.Do(key, func() (any, error) {
		rows, err := r.store.PermissionsForRoles(lookupCtx, keyRoles(key))
		if err != nil {
			telemetry.RecordError(span, err)
			r.metrics.RecordStoreFailure()
			log.WithError(err).WithField("roles", key).Error("permission lookup failed, resolving to empty set")
			return auth.PermissionSet{}, err
		}

		resolved := auth.NewPermissionSet(rows...)
		if err := r.cache.Set(lookupCtx, key, userID, resolved); err != nil {
			log.WithError(err).Warn("permission cache write failed")
		}
		return resolved, nil
	})

	// Callers that joined another's lookup still land in their own user index.
	if shared && err == nil {
		if err := r.cache.Track(ctx, key, userID); err != nil {
			log.WithError(err).Warn("permission cache index write failed")
		}
	}

	resolved := clonePermissions(v.(auth.PermissionSet))
	span.SetAttributes(attribute.Int(telemetry.AttrPermissionCount, len(resolved)))
	return resolved
}

// keyRoles splits a cache key back into its role names.
func keyRoles(key string) []string {
	return strings.Split(key, ",")
}
