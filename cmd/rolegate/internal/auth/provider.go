package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/config"
)

// Provider is the external authentication provider that owns sessions.
type Provider interface {
	// GetUser validates the session's access token and returns the identity behind it.
	GetUser(ctx context.Context, session *Session) (*User, error)

	// Refresh exchanges the refresh credential for a new session.
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
}

// OIDCProvider implements Provider against an OIDC issuer by wrapping the
// zitadel/oidc RelyingParty implementation.
type OIDCProvider struct {
	rp rp.RelyingParty
}

// NewOIDCProvider discovers the issuer and creates the relying party.
func NewOIDCProvider(ctx context.Context, cfg config.ProviderConfig) (*OIDCProvider, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("provider issuer is not configured")
	}

	relyingParty, err := rp.NewRelyingPartyOIDC(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI,
		cfg.Scopes, rp.WithVerifierOpts(rp.WithIssuedAtMaxAge(10*time.Second)))
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC relying party: %w", err)
	}

	return &OIDCProvider{rp: relyingParty}, nil
}

// GetUser calls the userinfo endpoint with the session's access token.
// Any rejection is reported as ErrSessionInvalid.
func (p *OIDCProvider) GetUser(ctx context.Context, session *Session) (*User, error) {
	if session == nil || session.AccessToken == "" {
		return nil, ErrUnauthenticated
	}

	info, err := rp.Userinfo[*oidc.UserInfo](ctx, session.AccessToken, oidc.BearerToken, session.Subject, p.rp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}

	user := &User{
		ID:       info.Subject,
		Email:    info.Email,
		Metadata: map[string]any{},
	}
	for _, key := range []string{"app_metadata", "user_metadata"} {
		if m, ok := info.Claims[key].(map[string]any); ok {
			user.Metadata[key] = m
		}
	}
	return user, nil
}

// Refresh performs a refresh_token grant.
func (p *OIDCProvider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token")
	}

	tokens, err := rp.RefreshTokens[*oidc.IDTokenClaims](ctx, p.rp, refreshToken, "", "")
	if err != nil {
		return nil, fmt.Errorf("refresh tokens: %w", err)
	}

	session := &Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.Expiry,
		Refreshed:    true,
	}
	// Some issuers do not rotate refresh tokens.
	if session.RefreshToken == "" {
		session.RefreshToken = refreshToken
	}
	if tokens.IDTokenClaims != nil {
		session.Subject = tokens.IDTokenClaims.GetSubject()
	}
	return session, nil
}

// TokenProvider validates sessions locally from verified access token claims.
// It is used when no OIDC issuer is configured and cannot refresh sessions.
type TokenProvider struct {
	decoder *ClaimsDecoder
	now     func() time.Time
}

// NewTokenProvider returns a provider backed by decoder. The decoder must verify signatures.
func NewTokenProvider(decoder *ClaimsDecoder, now func() time.Time) (*TokenProvider, error) {
	if decoder == nil || !decoder.Verifies() {
		return nil, fmt.Errorf("token provider requires a signing key (claims.hmac_secret or claims.jwks_path)")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenProvider{decoder: decoder, now: now}, nil
}

// GetUser accepts the session when its token verifies and has not expired.
func (p *TokenProvider) GetUser(_ context.Context, session *Session) (*User, error) {
	if session == nil || session.AccessToken == "" {
		return nil, ErrUnauthenticated
	}

	claims := p.decoder.Decode(session.AccessToken)
	if claims == nil || claims.Subject == "" {
		return nil, fmt.Errorf("%w: token did not verify", ErrSessionInvalid)
	}
	if !claims.ExpiresAt.IsZero() && p.now().After(claims.ExpiresAt) {
		return nil, fmt.Errorf("%w: token expired", ErrSessionInvalid)
	}

	return &User{
		ID:       claims.Subject,
		Email:    claims.Email,
		Metadata: claims.Metadata,
	}, nil
}

// Refresh is not supported without an issuer.
func (p *TokenProvider) Refresh(context.Context, string) (*Session, error) {
	return nil, fmt.Errorf("session refresh requires an OIDC provider")
}
