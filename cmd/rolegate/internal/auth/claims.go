package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

// RoleClaims is the role payload decoded from an access token.
// Produced fresh per request, never persisted.
type RoleClaims struct {
	Subject        string
	Email          string
	EffectiveRoles []Role
	Permissions    []string
	ExpiresAt      time.Time

	// Metadata carries the app_metadata/user_metadata objects when the provider
	// embeds them in the token.
	Metadata map[string]any
}

// Roles returns the effective roles of c, or nil when c is nil.
// A nil *RoleClaims means "no claims" and behaves as an empty role set.
func (c *RoleClaims) Roles() []Role {
	if c == nil {
		return nil
	}
	return c.EffectiveRoles
}

type decoderOptions struct {
	keyfunc          jwt.Keyfunc
	validMethods     []string
	rolesClaim       string
	permissionsClaim string
}

// DecoderOption customises the claims decoder.
type DecoderOption func(*decoderOptions)

// WithHMACSecret verifies HS256/384/512 signatures with secret.
func WithHMACSecret(secret []byte) DecoderOption {
	return func(o *decoderOptions) {
		if len(secret) == 0 {
			return
		}
		o.keyfunc = func(*jwt.Token) (any, error) { return secret, nil }
		o.validMethods = []string{"HS256", "HS384", "HS512"}
	}
}

// WithKeySet verifies asymmetric signatures against a static JSON Web Key Set.
func WithKeySet(set *jose.JSONWebKeySet) DecoderOption {
	return func(o *decoderOptions) {
		if set == nil || len(set.Keys) == 0 {
			return
		}
		o.keyfunc = keySetKeyfunc(set)
		o.validMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "PS256", "PS384", "PS512", "EdDSA"}
	}
}

// WithRolesClaim overrides the claim carrying the effective role list.
func WithRolesClaim(name string) DecoderOption {
	return func(o *decoderOptions) {
		if name != "" {
			o.rolesClaim = name
		}
	}
}

// WithPermissionsClaim overrides the claim carrying permission hints.
func WithPermissionsClaim(name string) DecoderOption {
	return func(o *decoderOptions) {
		if name != "" {
			o.permissionsClaim = name
		}
	}
}

// ClaimsDecoder turns access tokens into RoleClaims. It performs no I/O and
// keeps no state between calls.
type ClaimsDecoder struct {
	opts   decoderOptions
	parser *jwt.Parser
}

// NewClaimsDecoder creates a decoder. Without a key option tokens are decoded
// without signature verification.
func NewClaimsDecoder(opts ...DecoderOption) *ClaimsDecoder {
	o := decoderOptions{
		rolesClaim:       "user_roles",
		permissionsClaim: "permissions",
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Expiry is the provider's concern; the establisher reads exp to decide on refresh.
	parserOpts := []jwt.ParserOption{jwt.WithoutClaimsValidation()}
	if len(o.validMethods) > 0 {
		parserOpts = append(parserOpts, jwt.WithValidMethods(o.validMethods))
	}

	return &ClaimsDecoder{opts: o, parser: jwt.NewParser(parserOpts...)}
}

// Verifies reports whether the decoder checks signatures.
func (d *ClaimsDecoder) Verifies() bool {
	return d.opts.keyfunc != nil
}

// Decode returns the role claims carried by token. A missing, malformed or
// badly signed token yields nil, never an error or panic.
func (d *ClaimsDecoder) Decode(token string) *RoleClaims {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	claims := jwt.MapClaims{}
	var err error
	if d.opts.keyfunc != nil {
		_, err = d.parser.ParseWithClaims(token, claims, d.opts.keyfunc)
	} else {
		_, _, err = d.parser.ParseUnverified(token, claims)
	}
	if err != nil {
		return nil
	}

	return d.fromMap(claims)
}

func (d *ClaimsDecoder) fromMap(claims jwt.MapClaims) *RoleClaims {
	rc := &RoleClaims{}
	rc.Subject, _ = claims.GetSubject()
	if email, ok := claims["email"].(string); ok {
		rc.Email = email
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		rc.ExpiresAt = exp.Time
	}

	roles := extractStringList(claims[d.opts.rolesClaim])
	// Single-role providers put the role in "role".
	if single, ok := claims["role"].(string); ok && single != "" {
		roles = append(roles, single)
	}
	rc.EffectiveRoles = NormalizeRoles(RolesFromStrings(roles))
	rc.Permissions = NewPermissionSet(extractStringList(claims[d.opts.permissionsClaim])...).Sorted()

	for _, key := range []string{"app_metadata", "user_metadata"} {
		if m, ok := claims[key].(map[string]any); ok {
			if rc.Metadata == nil {
				rc.Metadata = make(map[string]any, 2)
			}
			rc.Metadata[key] = m
		}
	}

	return rc
}

// extractStringList accepts a string, a list of strings, or a list of
// objects carrying a "name" field. Anything else yields nil.
func extractStringList(raw any) []string {
	if raw == nil {
		return nil
	}

	var out []string
	if err := mapstructure.WeakDecode(raw, &out); err == nil {
		return out
	}

	var objects []map[string]any
	if err := mapstructure.Decode(raw, &objects); err != nil {
		return nil
	}
	for _, obj := range objects {
		if name, ok := obj["name"].(string); ok {
			out = append(out, name)
		}
	}
	return out
}

func keySetKeyfunc(set *jose.JSONWebKeySet) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid != "" {
			keys := set.Key(kid)
			if len(keys) == 0 {
				return nil, fmt.Errorf("no key for kid %q", kid)
			}
			return keys[0].Public().Key, nil
		}
		if len(set.Keys) == 1 {
			return set.Keys[0].Public().Key, nil
		}
		return nil, fmt.Errorf("token has no kid and key set holds %d keys", len(set.Keys))
	}
}
