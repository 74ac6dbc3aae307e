package auth

import (
	"net/http"
	"time"
)

// Session is the normalized view of a provider-issued session.
// The tokens are opaque to everything except the claims decoder and the provider.
type Session struct {
	AccessToken  string
	RefreshToken string
	Subject      string
	ExpiresAt    time.Time

	// Refreshed is set when the establisher replaced the presented tokens.
	Refreshed bool
}

// NeedsRefresh reports whether the session expires within threshold of now.
// A session without a known expiry is never refreshed.
func (s *Session) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt.Add(-threshold))
}

// User is the authentication provider identity.
type User struct {
	ID    string
	Email string

	// Metadata holds provider-specific user/application metadata
	// (e.g. {"app_metadata": {"role": "org_admin"}}).
	Metadata map[string]any
}

// CookieNames identifies the session cookies written by the provider.
type CookieNames struct {
	Access  string
	Refresh string
}

// CookieOptions controls cookies rewritten after a refresh.
type CookieOptions struct {
	Domain string
	Secure bool
}

// ReadSessionCookies extracts the access and refresh tokens from the request.
// Returns empty strings for missing cookies.
func ReadSessionCookies(r *http.Request, names CookieNames) (access, refresh string) {
	if c, err := r.Cookie(names.Access); err == nil {
		access = c.Value
	}
	if c, err := r.Cookie(names.Refresh); err == nil {
		refresh = c.Value
	}
	return access, refresh
}

// WriteSessionCookies rewrites both session cookies after a successful refresh.
func WriteSessionCookies(w http.ResponseWriter, s *Session, names CookieNames, opts CookieOptions) {
	accessExpiry := s.ExpiresAt
	if accessExpiry.IsZero() {
		accessExpiry = time.Now().Add(time.Hour)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     names.Access,
		Value:    s.AccessToken,
		Path:     "/",
		Domain:   opts.Domain,
		Expires:  accessExpiry,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	if s.RefreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     names.Refresh,
			Value:    s.RefreshToken,
			Path:     "/",
			Domain:   opts.Domain,
			Expires:  time.Now().Add(30 * 24 * time.Hour),
			HttpOnly: true,
			Secure:   opts.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
