package iam

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/config"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/repository"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/telemetry"
)

// iamService implements the Service interface.
//
// It coordinates the session establisher, the profile and emulation
// repositories, the authority resolver and the permission resolver. Nothing
// here holds per-user state; the permission cache is the only shared
// mutable resource.
type iamService struct {
	// Repositories
	profiles      repository.ProfileRepository
	organizations repository.OrganizationRepository

	// Components
	establisher *SessionEstablisher
	emulation   *EmulationManager
	authority   *AuthorityResolver
	permissions *PermissionResolver
	policy      *AccessPolicy

	emulatable    []auth.Role
	metadataPaths []string
	emulationCfg  config.EmulationConfig

	logger  logrus.FieldLogger
	metrics *telemetry.Metrics
}

// IAMServiceDependencies contains all dependencies for IAM service construction.
//
// This struct is used for dependency injection, making it easy to:
//   - Test with mocks
//   - Swap the permission store or cache backend
//   - Add new dependencies without breaking existing code
type IAMServiceDependencies struct {
	Profiles        repository.ProfileRepository
	Organizations   repository.OrganizationRepository
	Emulations      repository.EmulationRepository
	PermissionStore PermissionStore
	PermissionCache PermissionCache
	Provider        auth.Provider
	Decoder         *auth.ClaimsDecoder

	Logger  logrus.FieldLogger
	Metrics *telemetry.Metrics

	// Now is the clock used for refresh, expiry and cache TTL decisions.
	Now func() time.Time
}

// IAMServiceConfig contains configuration for IAM service construction.
// Separated from dependencies to clearly distinguish config from runtime dependencies.
type IAMServiceConfig struct {
	Config *config.Config
}

// NewIAMService creates a new IAM service with all dependencies.
func NewIAMService(deps IAMServiceDependencies, cfg IAMServiceConfig) (Service, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Profiles == nil || deps.Emulations == nil || deps.Organizations == nil {
		return nil, fmt.Errorf("profile, organization and emulation repositories are required")
	}
	if deps.PermissionStore == nil || deps.PermissionCache == nil {
		return nil, fmt.Errorf("permission store and cache are required")
	}
	if deps.Provider == nil || deps.Decoder == nil {
		return nil, fmt.Errorf("auth provider and claims decoder are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	c := cfg.Config
	authority := NewAuthorityResolver(c.Roles)

	return &iamService{
		profiles:      deps.Profiles,
		organizations: deps.Organizations,
		establisher:   NewSessionEstablisher(deps.Provider, deps.Decoder, c.Session, now, logger, deps.Metrics),
		emulation:     NewEmulationManager(deps.Emulations, now, logger, deps.Metrics),
		authority:     authority,
		permissions:   NewPermissionResolver(deps.PermissionStore, deps.PermissionCache, logger, deps.Metrics),
		policy:        NewAccessPolicy(c.Routes, authority),
		emulatable:    auth.NormalizeRoles(auth.RolesFromStrings(c.Roles.Emulatable)),
		metadataPaths: c.Claims.MetadataRolePaths,
		emulationCfg:  c.Emulation,
		logger:        logger.WithField("component", "iam"),
		metrics:       deps.Metrics,
	}, nil
}

// =========================================================================
// Request Path
// =========================================================================

func (s *iamService) Resolve(ctx context.Context, r *http.Request, w http.ResponseWriter) (*Resolution, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.Resolve")
	defer span.End()

	est, err := s.establisher.Establish(ctx, r, w)
	if err != nil {
		return nil, err
	}
	user := est.User
	span.SetAttributes(attribute.String(telemetry.AttrUserID, user.ID))

	profile, err := s.profiles.GetByUserID(ctx, user.ID)
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", auth.ErrProfileNotFound, user.ID)
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrBackingStoreUnavailable, err)
	}

	state := StateFromColumn(profile.Emulation)
	var claimsMetadata map[string]any
	if est.Claims != nil {
		claimsMetadata = est.Claims.Metadata
	}
	now := s.emulation.Now()
	authority := AuthorityContext{
		Emulation:    state,
		Now:          now,
		ProfileRole:  auth.Role(profile.Role),
		Claims:       est.Claims,
		MetadataRole: auth.MetadataRole(s.metadataPaths, user.Metadata, claimsMetadata),
	}

	log := s.logger.WithField("user_id", user.ID)
	emulating := state.ActiveAt(now)

	effectiveRole := auth.Role(profile.Role)
	effectiveOrg := ""
	if profile.OrgID != nil {
		effectiveOrg = *profile.OrgID
	}

	switch {
	case emulating:
		effectiveRole = state.EmulatedRole
		if state.EmulatedOrgID != nil && *state.EmulatedOrgID != "" {
			effectiveOrg = *state.EmulatedOrgID
		}
		log.WithFields(logrus.Fields{
			"emulated_role": state.EmulatedRole,
			"original_role": state.OriginalRole,
		}).Debug("role emulation active")
	case state.IsRecorded():
		s.metrics.RecordEmulationOperation("expired")
		telemetry.AddEvent(span, "emulation.expired",
			attribute.String(telemetry.AttrEmulatedRole, string(state.EmulatedRole)),
		)
		log.WithField("expired_at", state.ExpiresAt).Info("role emulation expired")
	}

	// Emulation narrows permissions to the emulated role only
	roles := []auth.Role{effectiveRole}
	if !emulating {
		roles = append(roles, est.Claims.Roles()...)
	}
	perms := s.permissions.ResolveFor(ctx, user.ID, roles)

	email := user.Email
	if email == "" {
		email = profile.Email
	}

	ec := &auth.EffectiveContext{
		UserID:         user.ID,
		Email:          email,
		ProfileRole:    auth.Role(profile.Role),
		EffectiveRole:  effectiveRole,
		EffectiveOrgID: effectiveOrg,
		IsEmulating:    emulating,
		IsSuperAdmin:   s.authority.IsSuperAdmin(authority),
		IsAdmin:        s.authority.IsAdmin(authority),
		Permissions:    perms,
	}
	if emulating {
		ec.OriginalRole = state.OriginalRole
		ec.EmulationEnds = state.ExpiresAt
	}

	span.SetAttributes(
		attribute.String(telemetry.AttrProfileRole, profile.Role),
		attribute.String(telemetry.AttrEffectiveRole, string(effectiveRole)),
		attribute.String(telemetry.AttrEffectiveOrg, effectiveOrg),
		attribute.Bool(telemetry.AttrEmulating, emulating),
	)

	return &Resolution{
		Session:   est.Session,
		User:      user,
		Profile:   profile,
		Claims:    est.Claims,
		Emulation: state,
		Authority: authority,
		Effective: ec,
	}, nil
}

func (s *iamService) Authorize(res *Resolution, path, method string, bypassRequested bool) Decision {
	rule := s.policy.Match(path, method)
	decision := s.policy.Evaluate(res, rule, bypassRequested)
	s.metrics.RecordGateDecision(string(decision.Verdict))

	s.logger.WithFields(logrus.Fields{
		"user_id": res.Effective.UserID,
		"route":   path,
		"verdict": decision.Verdict,
		"tier":    decision.Tier,
	}).Debug("access decision")

	return decision
}

func (s *iamService) AdminStatus(res *Resolution) AdminStatus {
	status := AdminStatus{
		IsSuperAdmin:  res.Effective.IsSuperAdmin,
		IsAdmin:       res.Effective.IsAdmin,
		UserRole:      res.Effective.ProfileRole,
		EffectiveRole: res.Effective.EffectiveRole,
		IsEmulating:   res.Effective.IsEmulating,
	}
	if res.Effective.IsEmulating {
		status.OriginalRole = res.Effective.OriginalRole
	}
	return status
}

// =========================================================================
// Role Emulation
// =========================================================================

func (s *iamService) StartEmulation(ctx context.Context, res *Resolution, req StartEmulationRequest) (*auth.EmulationState, error) {
	if !s.authority.IsSuperAdmin(res.Authority) {
		return nil, fmt.Errorf("%w: role emulation requires super admin", auth.ErrInsufficientPermission)
	}

	target, err := auth.ParseRole(req.TargetRole)
	if err != nil {
		return nil, err
	}
	if !s.isEmulatable(target) || s.authority.IsSuperAdmin(EffectiveAuthority(target)) {
		return nil, fmt.Errorf("%w: %s cannot be emulated", auth.ErrInvalidRole, target)
	}

	duration := s.emulationCfg.DefaultDuration
	if req.DurationHours != 0 {
		duration = time.Duration(req.DurationHours * float64(time.Hour))
	}
	if duration <= 0 || duration > s.emulationCfg.MaxDuration {
		return nil, fmt.Errorf("%w: must be greater than 0 and at most %s", ErrInvalidDuration, s.emulationCfg.MaxDuration)
	}

	orgID := req.EmulatedOrgID
	if orgID != nil && *orgID == "" {
		orgID = nil
	}
	if target == auth.RoleOrgAdmin && orgID == nil {
		return nil, ErrOrganizationRequired
	}
	if orgID != nil {
		if _, err := s.organizations.GetByID(ctx, *orgID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", auth.ErrOrganizationNotFound, *orgID)
			}
			return nil, fmt.Errorf("%w: %v", auth.ErrBackingStoreUnavailable, err)
		}
	}

	original := s.authority.OriginalRole(res.Authority)
	if original == "" {
		return nil, fmt.Errorf("%w: no super admin role to record", auth.ErrInsufficientPermission)
	}

	return s.emulation.Start(ctx, StartInput{
		UserID:        res.User.ID,
		OriginalRole:  original,
		TargetRole:    target,
		EmulatedOrgID: orgID,
		Duration:      duration,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
	})
}

func (s *iamService) StopEmulation(ctx context.Context, res *Resolution) error {
	if !res.Emulation.IsRecorded() {
		return auth.ErrNotEmulating
	}
	_, err := s.emulation.Stop(ctx, res.User.ID)
	return err
}

func (s *iamService) EmulationStatus(res *Resolution) EmulationStatus {
	return s.status(res.Emulation)
}

func (s *iamService) EmulatableRoles() []auth.Role {
	out := make([]auth.Role, len(s.emulatable))
	copy(out, s.emulatable)
	return out
}

func (s *iamService) LoadEmulation(ctx context.Context, userID string) (EmulationStatus, error) {
	state, err := s.emulation.Load(ctx, userID)
	if err != nil {
		return EmulationStatus{}, err
	}
	return s.status(state), nil
}

func (s *iamService) ForceStopEmulation(ctx context.Context, userID string) error {
	_, err := s.emulation.Stop(ctx, userID)
	return err
}

func (s *iamService) status(state *auth.EmulationState) EmulationStatus {
	if state == nil {
		state = auth.Inactive()
	}
	active := state.ActiveAt(s.emulation.Now())
	return EmulationStatus{
		State:        state,
		Active:       active,
		Expired:      s.emulation.IsExpired(state),
		ExpiringSoon: active && s.emulation.IsExpiringSoon(state, s.emulationCfg.ExpiringSoon),
		ExpiresAt:    state.ExpiresAt,
	}
}

func (s *iamService) isEmulatable(role auth.Role) bool {
	for _, r := range s.emulatable {
		if r == role {
			return true
		}
	}
	return false
}

// =========================================================================
// Permissions
// =========================================================================

func (s *iamService) ResolvePermissions(ctx context.Context, roles []auth.Role) auth.PermissionSet {
	return s.permissions.Resolve(ctx, roles)
}

func (s *iamService) PermissionCacheStats(ctx context.Context) (CacheStats, error) {
	stats, err := s.permissions.Cache().Stats(ctx)
	if err == nil {
		s.metrics.SetCacheEntries(stats.TotalEntries)
	}
	return stats, err
}

func (s *iamService) InvalidatePermissions(ctx context.Context, userID string, roles []string) (int, error) {
	cache := s.permissions.Cache()

	if userID == "" && len(roles) == 0 {
		if err := cache.Clear(ctx); err != nil {
			return 0, err
		}
		s.logger.Info("permission cache cleared")
		return -1, nil
	}

	removed := 0
	if userID != "" {
		n, err := cache.InvalidateUser(ctx, userID)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if len(roles) > 0 {
		n, err := cache.InvalidateRoles(ctx, roles)
		if err != nil {
			return removed, err
		}
		removed += n
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"roles":   roles,
		"removed": removed,
	}).Info("permission cache invalidated")
	return removed, nil
}

func (s *iamService) CleanupPermissionCache(ctx context.Context) (int, error) {
	removed, err := s.permissions.Cache().Cleanup(ctx)
	if err != nil {
		return 0, err
	}
	if stats, err := s.permissions.Cache().Stats(ctx); err == nil {
		s.metrics.SetCacheEntries(stats.TotalEntries)
	}
	return removed, nil
}
