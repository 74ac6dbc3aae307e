package server

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	gatemw "github.com/terraconstructs/rolegate/cmd/rolegate/internal/middleware"
)

// CacheInvalidationResponse reports removed entries; -1 means a full clear.
type CacheInvalidationResponse struct {
	Removed int `json:"removed"`
}

// HandlePermissionCacheStats handles GET /api/admin/permissions/cache
//
// Authorization: super admin (RequireSuperAdmin)
func HandlePermissionCacheStats(iamService iamHandlerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := iamService.PermissionCacheStats(r.Context())
		if err != nil {
			logrus.WithError(err).Error("permission cache stats failed")
			writeFailure(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, stats)
	}
}

// HandlePermissionCacheInvalidate handles DELETE /api/admin/permissions/cache
//
// Query: user_id drops that user's entries, roles (comma separated or
// repeated) drops every entry containing one of them. Neither clears the cache.
func HandlePermissionCacheInvalidate(iamService iamHandlerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		userID := strings.TrimSpace(q.Get("user_id"))

		var roles []string
		for _, v := range q["roles"] {
			for _, role := range strings.Split(v, ",") {
				if role = strings.TrimSpace(role); role != "" {
					roles = append(roles, role)
				}
			}
		}

		removed, err := iamService.InvalidatePermissions(r.Context(), userID, roles)
		if err != nil {
			logrus.WithError(err).Error("permission cache invalidation failed")
			writeFailure(w, err)
			return
		}

		if ec, ok := gatemw.ResolutionFromContext(r.Context()); ok {
			logrus.WithFields(logrus.Fields{
				"user_id": ec.Effective.UserID,
				"target":  userID,
				"roles":   roles,
				"removed": removed,
			}).Info("permission cache invalidated by operator")
		}
		writeSuccess(w, http.StatusOK, CacheInvalidationResponse{Removed: removed})
	}
}

// HandlePermissionCacheCleanup handles POST /api/admin/permissions/cache/cleanup
func HandlePermissionCacheCleanup(iamService iamHandlerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := iamService.CleanupPermissionCache(r.Context())
		if err != nil {
			logrus.WithError(err).Error("permission cache cleanup failed")
			writeFailure(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, CacheInvalidationResponse{Removed: removed})
	}
}
