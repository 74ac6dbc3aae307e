package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	gatemw "github.com/terraconstructs/rolegate/cmd/rolegate/internal/middleware"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/services/iam"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/telemetry"
)

// RouterOptions controls the construction of the rolegate HTTP router.
// The zero value is valid; sensible defaults are applied where fields are not set.
type RouterOptions struct {
	IAMService       iam.Service
	Gate             func(http.Handler) http.Handler
	EmulationLimiter *gatemw.IdentityLimiter
	Metrics          *telemetry.Metrics
	Logger           logrus.FieldLogger
	CORSOptions      *cors.Options
	Middleware       []func(http.Handler) http.Handler
	HealthHandler    http.HandlerFunc
	ExtraRoutes      func(chi.Router)
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			"X-Requested-With",
		},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy, and
// the rolegate handlers mounted. Routes under /api pass through the gate when
// one is configured.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	// Apply custom middleware passed from the caller.
	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	if opts.IAMService != nil {
		r.Group(func(r chi.Router) {
			if opts.Gate != nil {
				r.Use(opts.Gate)
			} else {
				logger.Warn("mounting /api routes without the gate")
			}
			MountIAMHandlers(r, opts.IAMService, opts.EmulationLimiter, logger)
		})
	} else {
		logger.Warn("skipping /api routes: IAM service not available")
	}

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r
}

// MountIAMHandlers registers the identity, emulation, access and cache
// administration endpoints. limiter may be nil.
func MountIAMHandlers(r chi.Router, svc iamHandlerService, limiter *gatemw.IdentityLimiter, logger logrus.FieldLogger) {
	r.Get("/api/auth/whoami", HandleWhoAmI(svc))
	r.Get("/api/access", HandleAccessCheck(svc))

	emulation := NewEmulationHandlers(svc, logger)
	r.Route("/api/role-emulation", func(r chi.Router) {
		r.Get("/", emulation.Get)
		r.Group(func(r chi.Router) {
			if limiter != nil {
				r.Use(gatemw.RateLimit(limiter))
			}
			r.Post("/", emulation.Start)
			r.Delete("/", emulation.Stop)
		})
	})

	r.Route("/api/admin/permissions/cache", func(r chi.Router) {
		r.Use(gatemw.RequireSuperAdmin)
		r.Get("/", HandlePermissionCacheStats(svc))
		r.Delete("/", HandlePermissionCacheInvalidate(svc))
		r.Post("/cleanup", HandlePermissionCacheCleanup(svc))
	})
}

// NewH2CHandler wraps the shared router with an h2c server to provide HTTP/2 over
// cleartext for clients behind a plaintext proxy.
func NewH2CHandler(opts RouterOptions) (http.Handler, error) {
	router := NewRouter(opts)
	return h2c.NewHandler(router, &http2.Server{}), nil
}

// requestLogger logs one line per request through logrus.
func requestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			entry := logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("request completed")
				return
			}
			entry.Debug("request completed")
		})
	}
}
