package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	gatemw "github.com/terraconstructs/rolegate/cmd/rolegate/internal/middleware"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/services/iam"
)

// WhoamiResponse describes the caller as the gate resolved them.
type WhoamiResponse struct {
	User        UserResponse           `json:"user"`
	AdminStatus iam.AdminStatus        `json:"adminStatus"`
	Effective   *auth.EffectiveContext `json:"effective"`
	Emulation   iam.EmulationStatus    `json:"emulation"`
}

// UserResponse is the provider identity.
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// AccessResponse is the forward-auth verdict for one path.
type AccessResponse struct {
	Path      string                 `json:"path"`
	Method    string                 `json:"method"`
	Verdict   iam.Verdict            `json:"verdict"`
	Allowed   bool                   `json:"allowed"`
	Tier      iam.Tier               `json:"tier"`
	Pattern   string                 `json:"pattern,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	BypassURL string                 `json:"bypass_url,omitempty"`
	Effective *auth.EffectiveContext `json:"effective"`
}

// HandleWhoAmI handles GET /api/auth/whoami
func HandleWhoAmI(iamService iamHandlerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ok := resolutionOrFail(w, r)
		if !ok {
			return
		}

		writeSuccess(w, http.StatusOK, WhoamiResponse{
			User: UserResponse{
				ID:    res.Effective.UserID,
				Email: res.Effective.Email,
			},
			AdminStatus: iamService.AdminStatus(res),
			Effective:   res.Effective,
			Emulation:   iamService.EmulationStatus(res),
		})
	}
}

// HandleAccessCheck handles GET /api/access?path=&method=
//
// Sibling apps call this as a forward-auth check for a path they serve.
// The caller's own session is evaluated against the access matrix.
func HandleAccessCheck(iamService iamHandlerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ok := resolutionOrFail(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		target := q.Get("path")
		if target == "" || !strings.HasPrefix(target, "/") {
			writeFailure(w, ErrInvalidRequest)
			return
		}
		targetURL, err := url.Parse(target)
		if err != nil {
			writeFailure(w, ErrInvalidRequest)
			return
		}
		method := strings.ToUpper(q.Get("method"))
		if method == "" {
			method = http.MethodGet
		}
		bypass := q.Get(gatemw.BypassParam) == "true" || targetURL.Query().Get(gatemw.BypassParam) == "true"

		decision := iamService.Authorize(res, targetURL.Path, method, bypass)
		resp := AccessResponse{
			Path:      targetURL.Path,
			Method:    method,
			Verdict:   decision.Verdict,
			Allowed:   decision.Allowed(),
			Tier:      decision.Tier,
			Pattern:   decision.Pattern,
			Effective: res.Effective,
		}
		if decision.Err != nil {
			resp.Reason = decision.Err.Error()
		}
		if decision.Verdict == iam.VerdictBypassPrompt {
			resp.BypassURL = gatemw.BypassURL(&http.Request{URL: targetURL})
		}
		writeSuccess(w, http.StatusOK, resp)
	}
}
