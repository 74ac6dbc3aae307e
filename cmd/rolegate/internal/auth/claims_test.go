package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-0123456789abcdef0123")

func signHS256(t *testing.T, claims jwt.MapClaims, secret []byte) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestClaimsDecoder_MissingToken(t *testing.T) {
	d := NewClaimsDecoder()

	assert.Nil(t, d.Decode(""))
	assert.Nil(t, d.Decode("   "))

	// nil claims behave as an empty role set
	var rc *RoleClaims
	assert.Empty(t, rc.Roles())
}

func TestClaimsDecoder_MalformedTokens(t *testing.T) {
	d := NewClaimsDecoder(WithHMACSecret(testSecret))

	for _, token := range []string{
		"not-a-jwt",
		"a.b.c",
		"eyJhbGciOiJIUzI1NiJ9.%%%.sig",
		signHS256(t, jwt.MapClaims{"sub": "u1"}, []byte("wrong-secret-wrong-secret-wrong!")),
	} {
		assert.NotPanics(t, func() {
			assert.Nil(t, d.Decode(token), "token %q should decode to nil", token)
		})
	}
}

func TestClaimsDecoder_DecodesRoles(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signHS256(t, jwt.MapClaims{
		"sub":         "user-1",
		"email":       "ops@example.com",
		"exp":         exp.Unix(),
		"user_roles":  []any{"org_admin", "id_gen_user", "org_admin"},
		"role":        "user",
		"permissions": []any{"users:read", "users:read", "templates:write"},
		"app_metadata": map[string]any{
			"role": "super_admin",
		},
	}, testSecret)

	d := NewClaimsDecoder(WithHMACSecret(testSecret))
	require.True(t, d.Verifies())

	rc := d.Decode(token)
	require.NotNil(t, rc)
	assert.Equal(t, "user-1", rc.Subject)
	assert.Equal(t, "ops@example.com", rc.Email)
	assert.True(t, exp.Equal(rc.ExpiresAt))
	assert.Equal(t, []Role{"id_gen_user", "org_admin", "user"}, rc.EffectiveRoles)
	assert.Equal(t, []string{"templates:write", "users:read"}, rc.Permissions)
	assert.Equal(t, Role("super_admin"), MetadataRole([]string{"app_metadata.role"}, rc.Metadata))
}

func TestClaimsDecoder_ExpiredTokenStillDecodes(t *testing.T) {
	token := signHS256(t, jwt.MapClaims{
		"sub":        "user-1",
		"exp":        time.Now().Add(-time.Hour).Unix(),
		"user_roles": "org_admin",
	}, testSecret)

	rc := NewClaimsDecoder(WithHMACSecret(testSecret)).Decode(token)
	require.NotNil(t, rc)
	assert.Equal(t, []Role{RoleOrgAdmin}, rc.EffectiveRoles)
	assert.True(t, rc.ExpiresAt.Before(time.Now()))
}

func TestClaimsDecoder_NestedRoleObjects(t *testing.T) {
	token := signHS256(t, jwt.MapClaims{
		"sub":   "user-1",
		"roles": []any{map[string]any{"name": "event_admin"}, map[string]any{"name": "user"}},
	}, testSecret)

	rc := NewClaimsDecoder(WithRolesClaim("roles")).Decode(token)
	require.NotNil(t, rc)
	assert.Equal(t, []Role{RoleEventAdmin, RoleUser}, rc.EffectiveRoles)
}

func TestClaimsDecoder_Unverified(t *testing.T) {
	token := signHS256(t, jwt.MapClaims{"sub": "user-1", "user_roles": []any{"org_admin"}}, []byte("whatever-secret-whatever-secret!"))

	d := NewClaimsDecoder()
	assert.False(t, d.Verifies())
	rc := d.Decode(token)
	require.NotNil(t, rc)
	assert.Equal(t, []Role{RoleOrgAdmin}, rc.EffectiveRoles)
}

func TestClaimsDecoder_KeySet(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &key.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}}}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "user-1", "user_roles": []any{"super_admin"}})
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	d := NewClaimsDecoder(WithKeySet(set))
	rc := d.Decode(signed)
	require.NotNil(t, rc)
	assert.Equal(t, []Role{RoleSuperAdmin}, rc.EffectiveRoles)

	// HMAC token is rejected by an asymmetric key set
	assert.Nil(t, d.Decode(signHS256(t, jwt.MapClaims{"sub": "user-1"}, testSecret)))

	// Unknown kid is rejected
	tok.Header["kid"] = "other"
	signed, err = tok.SignedString(key)
	require.NoError(t, err)
	assert.Nil(t, d.Decode(signed))
}
