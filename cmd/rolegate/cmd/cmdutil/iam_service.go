package cmdutil

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/config"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/bunx"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/repository"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/services/iam"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/telemetry"
)

// IAMServiceOptions controls how the CLI constructs the IAM service.
type IAMServiceOptions struct {
	// RequireProvider fails construction when no session provider can be
	// built. Operator commands leave it unset and get a provider that
	// rejects every session.
	RequireProvider bool

	Logger  logrus.FieldLogger
	Metrics *telemetry.Metrics
}

// IAMServiceBundle bundles the service with the connections it owns so
// callers can reuse them for other repositories when necessary.
type IAMServiceBundle struct {
	Service         iam.Service
	DB              *bun.DB
	RolePermissions repository.RolePermissionRepository
	Cache           iam.PermissionCache

	redis *redis.Client
}

// Close releases the underlying database and redis connections.
func (b *IAMServiceBundle) Close() {
	if b == nil {
		return
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.DB != nil {
		bunx.Close(b.DB)
	}
}

// NewIAMServiceBundle centralizes IAM service construction for CLI commands.
// It wires repositories, the permission store and cache, the claims decoder
// and the session provider, and returns a ready-to-use service.
func NewIAMServiceBundle(ctx context.Context, cfg *config.Config, opts IAMServiceOptions) (*IAMServiceBundle, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	bundle := &IAMServiceBundle{
		DB:              db,
		RolePermissions: repository.NewBunRolePermissionRepository(db),
	}

	store, err := newPermissionStore(cfg.Permissions, bundle.RolePermissions)
	if err != nil {
		bundle.Close()
		return nil, err
	}

	cache, client, err := newPermissionCache(ctx, cfg.Permissions)
	if err != nil {
		bundle.Close()
		return nil, err
	}
	bundle.Cache = cache
	bundle.redis = client

	decoder, err := NewClaimsDecoder(cfg.Claims)
	if err != nil {
		bundle.Close()
		return nil, err
	}

	provider, err := newProvider(ctx, cfg, decoder)
	if err != nil {
		if opts.RequireProvider {
			bundle.Close()
			return nil, err
		}
		logger.WithError(err).Debug("session provider unavailable, sessions will be rejected")
		provider = offlineProvider{}
	}

	svc, err := iam.NewIAMService(
		iam.IAMServiceDependencies{
			Profiles:        repository.NewBunProfileRepository(db),
			Organizations:   repository.NewBunOrganizationRepository(db),
			Emulations:      repository.NewBunEmulationRepository(db),
			PermissionStore: store,
			PermissionCache: cache,
			Provider:        provider,
			Decoder:         decoder,
			Logger:          logger,
			Metrics:         opts.Metrics,
		},
		iam.IAMServiceConfig{Config: cfg},
	)
	if err != nil {
		bundle.Close()
		return nil, fmt.Errorf("failed to create IAM service: %w", err)
	}
	bundle.Service = svc

	return bundle, nil
}

// NewClaimsDecoder builds the access token decoder from configuration.
// An HMAC secret takes priority over a JWKS file; with neither, tokens are
// decoded without verification.
func NewClaimsDecoder(cfg config.ClaimsConfig) (*auth.ClaimsDecoder, error) {
	opts := []auth.DecoderOption{
		auth.WithRolesClaim(cfg.RolesClaim),
		auth.WithPermissionsClaim(cfg.PermissionsClaim),
	}
	switch {
	case cfg.HMACSecret != "":
		opts = append(opts, auth.WithHMACSecret([]byte(cfg.HMACSecret)))
	case cfg.JWKSPath != "":
		set, err := auth.LoadKeySet(cfg.JWKSPath)
		if err != nil {
			return nil, fmt.Errorf("load jwks: %w", err)
		}
		opts = append(opts, auth.WithKeySet(set))
	}
	return auth.NewClaimsDecoder(opts...), nil
}

func newPermissionStore(cfg config.PermissionsConfig, repo repository.RolePermissionRepository) (iam.PermissionStore, error) {
	if cfg.PolicyPath == "" {
		return repo, nil
	}
	store, err := auth.NewCasbinPermissionStore(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("load casbin policy: %w", err)
	}
	return store, nil
}

func newPermissionCache(ctx context.Context, cfg config.PermissionsConfig) (iam.PermissionCache, *redis.Client, error) {
	if cfg.CacheBackend != "redis" {
		cache, err := iam.NewMemoryPermissionCache(cfg.CacheSize, cfg.CacheTTL, time.Now)
		if err != nil {
			return nil, nil, fmt.Errorf("create permission cache: %w", err)
		}
		return cache, nil, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := iam.NewRedisClient(pingCtx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	cache, err := iam.NewRedisPermissionCache(client, cfg.CacheTTL, time.Now)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("create permission cache: %w", err)
	}
	return cache, client, nil
}

func newProvider(ctx context.Context, cfg *config.Config, decoder *auth.ClaimsDecoder) (auth.Provider, error) {
	if cfg.Provider.Enabled() {
		p, err := auth.NewOIDCProvider(ctx, cfg.Provider)
		if err != nil {
			return nil, fmt.Errorf("configure oidc provider: %w", err)
		}
		return p, nil
	}
	return auth.NewTokenProvider(decoder, time.Now)
}

// offlineProvider backs operator commands that never establish sessions.
type offlineProvider struct{}

func (offlineProvider) GetUser(context.Context, *auth.Session) (*auth.User, error) {
	return nil, auth.ErrUnauthenticated
}

func (offlineProvider) Refresh(context.Context, string) (*auth.Session, error) {
	return nil, auth.ErrSessionInvalid
}
