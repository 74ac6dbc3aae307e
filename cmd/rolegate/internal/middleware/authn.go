package middleware

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/services/iam"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/telemetry"
)

// SoftDenyResponse is served with 200 when an emulating super admin reaches a
// route their emulated role cannot access.
type SoftDenyResponse struct {
	AccessDenied    bool      `json:"access_denied"`
	BypassAvailable bool      `json:"bypass_available"`
	BypassURL       string    `json:"bypass_url"`
	RequiredTier    iam.Tier  `json:"required_tier"`
	EffectiveRole   auth.Role `json:"effective_role"`
	OriginalRole    auth.Role `json:"original_role"`
}

// NewGateMiddleware constructs the chi middleware guarding every non-public route.
//
// Flow:
//  1. Public paths pass through untouched
//  2. Service.Resolve establishes the session and effective context
//  3. Service.Authorize evaluates the path access matrix
//  4. Allowed requests continue with the effective context and resolution on
//     the request context
//
// Unauthenticated API requests get 401; page requests are redirected to sign-in
// with the destination preserved.
func NewGateMiddleware(deps GateDependencies) (func(http.Handler) http.Handler, error) {
	if deps.Service == nil {
		return nil, errors.New("gate middleware requires iam service")
	}
	signIn := deps.SignInPath
	if signIn == "" {
		signIn = "/auth"
	}
	public := deps.PublicPaths
	if len(public) == 0 {
		public = DefaultPublicPaths
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "gate")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if IsPublicPath(path, public) {
				next.ServeHTTP(w, r)
				return
			}

			res, err := deps.Service.Resolve(r.Context(), r, w)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrSessionInvalid) {
					if isAPIPath(path) {
						WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
						return
					}
					deps.Metrics.RecordGateDecision(string(iam.VerdictRedirect))
					http.Redirect(w, r, signInURL(signIn, r), http.StatusFound)
					return
				}

				log := logger.WithError(err).WithField("route", path)
				if StatusForError(err) >= http.StatusInternalServerError {
					log.Error("request resolution failed")
				} else {
					log.Warn("request resolution denied")
				}
				WriteError(w, err)
				return
			}

			ctx, span := telemetry.StartSpan(r.Context(), telemetry.TracerGate, "gate.Authorize",
				attribute.String(telemetry.AttrRoutePath, path),
			)
			decision := deps.Service.Authorize(res, path, r.Method, r.URL.Query().Get(BypassParam) == "true")
			span.SetAttributes(
				attribute.String(telemetry.AttrRouteTier, string(decision.Tier)),
				attribute.String(telemetry.AttrGateDecision, string(decision.Verdict)),
			)
			span.End()
			r = r.WithContext(ctx)

			switch decision.Verdict {
			case iam.VerdictAllow, iam.VerdictBypassed:
				if decision.Verdict == iam.VerdictBypassed {
					logger.WithFields(logrus.Fields{
						"user_id":       res.Effective.UserID,
						"route":         path,
						"original_role": res.Effective.OriginalRole,
					}).Info("super admin bypass used")
				}
				ctx := auth.SetEffectiveContext(r.Context(), res.Effective)
				ctx = SetResolution(ctx, res)
				next.ServeHTTP(w, r.WithContext(ctx))
			case iam.VerdictBypassPrompt:
				WriteJSON(w, http.StatusOK, SoftDenyResponse{
					AccessDenied:    true,
					BypassAvailable: true,
					BypassURL:       BypassURL(r),
					RequiredTier:    decision.Tier,
					EffectiveRole:   res.Effective.EffectiveRole,
					OriginalRole:    res.Effective.OriginalRole,
				})
			default:
				err := decision.Err
				if err == nil {
					err = auth.ErrInsufficientPermission
				}
				WriteError(w, err)
			}
		})
	}, nil
}

// IsPublicPath reports whether path skips the gate.
func IsPublicPath(path string, public []string) bool {
	for _, p := range public {
		if p == "/" {
			if path == "/" {
				return true
			}
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// BypassURL is the request URL with the bypass parameter set.
func BypassURL(r *http.Request) string {
	u := url.URL{Path: r.URL.Path}
	q := r.URL.Query()
	q.Set(BypassParam, "true")
	u.RawQuery = q.Encode()
	return u.String()
}

func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

func signInURL(signIn string, r *http.Request) string {
	return signIn + "?returnTo=" + url.QueryEscape(r.URL.RequestURI())
}
