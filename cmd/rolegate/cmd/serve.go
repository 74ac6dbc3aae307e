package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/rolegate/cmd/rolegate/cmd/cmdutil"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/bunx"
	gatemw "github.com/terraconstructs/rolegate/cmd/rolegate/internal/middleware"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/server"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/services/iam"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/telemetry"
)

// limiterSize bounds the number of identities tracked by the emulation rate limiter.
const limiterSize = 4096

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rolegate server",
	Long:  `Starts the HTTP server with the access gate, role emulation and permission cache endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		shutdownTracing, err := telemetry.Init(ctx, cfg.Observability)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				log.WithError(err).Warn("tracing shutdown failed")
			}
		}()

		metrics := telemetry.NewMetrics()
		logger := log.StandardLogger()

		bundle, err := cmdutil.NewIAMServiceBundle(ctx, cfg, cmdutil.IAMServiceOptions{
			RequireProvider: true,
			Logger:          logger,
			Metrics:         metrics,
		})
		if err != nil {
			return err
		}
		defer bundle.Close()
		iamService := bundle.Service

		log.WithFields(log.Fields{
			"cache_backend": cfg.Permissions.CacheBackend,
			"cache_ttl":     cfg.Permissions.CacheTTL,
			"oidc_enabled":  cfg.Provider.Enabled(),
			"casbin_policy": cfg.Permissions.PolicyPath != "",
		}).Info("IAM service initialized")

		gate, err := gatemw.NewGateMiddleware(gatemw.GateDependencies{
			Service:    iamService,
			SignInPath: cfg.Session.SignInPath,
			Logger:     logger,
			Metrics:    metrics,
		})
		if err != nil {
			return fmt.Errorf("configure gate middleware: %w", err)
		}

		limiter, err := gatemw.NewIdentityLimiter(cfg.RateLimit.EmulationPerMinute, cfg.RateLimit.EmulationBurst, limiterSize)
		if err != nil {
			return fmt.Errorf("configure rate limiter: %w", err)
		}

		// Purge expired permission cache entries once per TTL.
		cleanupCtx, cancelCleanup := context.WithCancel(ctx)
		defer cancelCleanup()
		go runCacheCleanup(cleanupCtx, iamService, cfg.Permissions.CacheTTL)

		healthHandler := func(w http.ResponseWriter, r *http.Request) {
			status, code := "ok", http.StatusOK
			if err := bunx.Ping(r.Context(), bundle.DB, 2*time.Second); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":        status,
				"oidc_enabled":  cfg.Provider.Enabled(),
				"cache_backend": cfg.Permissions.CacheBackend,
			})
		}

		// Assemble the shared router with the production-specific middleware.
		h2cHandler, err := server.NewH2CHandler(server.RouterOptions{
			IAMService:       iamService,
			Gate:             gate,
			EmulationLimiter: limiter,
			Metrics:          metrics,
			Logger:           logger,
			HealthHandler:    healthHandler,
		})
		if err != nil {
			return fmt.Errorf("build router: %w", err)
		}

		// Create HTTP server
		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      h2cHandler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// Start server in goroutine
		serverErrors := make(chan error, 1)
		go func() {
			log.Infof("Starting server on %s", cfg.ServerAddr)
			log.Infof("Server URL: %s", cfg.ServerURL)
			serverErrors <- srv.ListenAndServe()
		}()

		// Wait for interrupt signal or cache clear signal
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP clears the permission cache (after editing role_permissions or the policy file)
		cacheClear := make(chan os.Signal, 1)
		signal.Notify(cacheClear, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				return fmt.Errorf("server error: %w", err)

			case sig := <-cacheClear:
				clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if _, err := iamService.InvalidatePermissions(clearCtx, "", nil); err != nil {
					log.WithError(err).Error("manual permission cache clear failed")
				} else {
					log.Infof("Permission cache cleared via %v", sig)
				}
				cancel()

			case sig := <-shutdown:
				log.Infof("Received signal %v, shutting down gracefully", sig)

				// Graceful shutdown with timeout
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				log.Info("Server stopped")
				return nil
			}
		}
	},
}

func runCacheCleanup(ctx context.Context, svc iam.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := svc.CleanupPermissionCache(ctx)
			if err != nil {
				log.WithError(err).Error("permission cache cleanup failed")
				continue
			}
			if n > 0 {
				log.WithField("removed", n).Debug("expired permission cache entries purged")
			}
		case <-ctx.Done():
			log.Debug("stopping permission cache cleanup")
			return
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
