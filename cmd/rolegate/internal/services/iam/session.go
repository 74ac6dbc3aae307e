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
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/telemetry"
)

// EstablishedSession is the normalized session record for one request.
type EstablishedSession struct {
	Session *auth.Session
	User    *auth.User

	// Claims decoded from the final access token; nil when it carries none.
	Claims *auth.RoleClaims
}

// SessionEstablisher validates the caller's session against the provider,
// refreshing it at most once per request.
type SessionEstablisher struct {
	provider   auth.Provider
	decoder    *auth.ClaimsDecoder
	cookies    auth.CookieNames
	cookieOpts auth.CookieOptions
	threshold  time.Duration
	now        func() time.Time
	logger     logrus.FieldLogger
	metrics    *telemetry.Metrics
}

// NewSessionEstablisher creates an establisher from the session configuration.
func NewSessionEstablisher(
	provider auth.Provider,
	decoder *auth.ClaimsDecoder,
	cfg config.SessionConfig,
	now func() time.Time,
	logger logrus.FieldLogger,
	metrics *telemetry.Metrics,
) *SessionEstablisher {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SessionEstablisher{
		provider:   provider,
		decoder:    decoder,
		cookies:    auth.CookieNames{Access: cfg.AccessCookieName, Refresh: cfg.RefreshCookieName},
		cookieOpts: auth.CookieOptions{Domain: cfg.CookieDomain, Secure: cfg.CookieSecure},
		threshold:  cfg.RefreshThreshold,
		now:        now,
		logger:     logger.WithField("component", "session"),
		metrics:    metrics,
	}
}

// Establish reads the session cookies and returns the session and user.
//
// A session expiring within the refresh threshold is refreshed once. If the
// refresh fails the presented session is used as-is and the provider decides
// whether it is still valid. w may be nil, in which case refreshed cookies are
// not written back.
//
// Returns ErrUnauthenticated when no session is presented and ErrSessionInvalid
// when the provider rejects it.
func (e *SessionEstablisher) Establish(ctx context.Context, r *http.Request, w http.ResponseWriter) (*EstablishedSession, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.EstablishSession")
	defer span.End()

	access, refresh := auth.ReadSessionCookies(r, e.cookies)
	if access == "" && refresh == "" {
		return nil, auth.ErrUnauthenticated
	}

	claims := e.decoder.Decode(access)
	session := &auth.Session{
		AccessToken:  access,
		RefreshToken: refresh,
	}
	if claims != nil {
		session.Subject = claims.Subject
		session.ExpiresAt = claims.ExpiresAt
	}

	// Only a refresh credential left: expired but renewable
	mustRefresh := access == ""
	if refresh != "" && (mustRefresh || session.NeedsRefresh(e.now(), e.threshold)) {
		refreshed, err := e.provider.Refresh(ctx, refresh)
		switch {
		case err != nil:
			e.metrics.RecordSessionRefresh("fallback")
			e.logger.WithError(err).WithField("subject", session.Subject).Warn("session refresh failed, using presented session")
			if mustRefresh {
				return nil, fmt.Errorf("%w: refresh failed: %v", auth.ErrSessionInvalid, err)
			}
		default:
			e.metrics.RecordSessionRefresh("ok")
			refreshed.Refreshed = true
			session = refreshed
			claims = e.decoder.Decode(session.AccessToken)
			if claims != nil {
				if session.Subject == "" {
					session.Subject = claims.Subject
				}
				if session.ExpiresAt.IsZero() {
					session.ExpiresAt = claims.ExpiresAt
				}
			}
			if w != nil {
				auth.WriteSessionCookies(w, session, e.cookies, e.cookieOpts)
			}
			telemetry.AddEvent(span, "session.refreshed")
		}
	}

	user, err := e.provider.GetUser(ctx, session)
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrSessionInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrSessionInvalid, err)
	}
	if user == nil || user.ID == "" {
		return nil, auth.ErrUnauthenticated
	}

	span.SetAttributes(attribute.String(telemetry.AttrUserID, user.ID))
	return &EstablishedSession{Session: session, User: user, Claims: claims}, nil
}
