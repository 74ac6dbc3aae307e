package iam

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/config"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/models"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/repository"
)

var testSecret = []byte("test-signing-secret")

// fakeClock is a manually advanced clock shared by cache, emulation and session code.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		Session: config.SessionConfig{
			AccessCookieName:  "rolegate-access-token",
			RefreshCookieName: "rolegate-refresh-token",
			RefreshThreshold:  time.Minute,
			SignInPath:        "/auth",
		},
		Claims: config.ClaimsConfig{
			RolesClaim:        "user_roles",
			PermissionsClaim:  "permissions",
			MetadataRolePaths: []string{"app_metadata.role", "user_metadata.role"},
		},
		Permissions: config.PermissionsConfig{
			CacheBackend: "memory",
			CacheTTL:     5 * time.Minute,
			CacheSize:    128,
		},
		Emulation: config.EmulationConfig{
			DefaultDuration: 4 * time.Hour,
			MaxDuration:     24 * time.Hour,
			ExpiringSoon:    10 * time.Minute,
		},
		Roles: config.RolesConfig{
			SuperAdmin: config.DefaultSuperAdminRoles,
			Admin:      config.DefaultAdminRoles,
			OrgAdmin:   config.DefaultOrgAdminRoles,
			Emulatable: config.DefaultEmulatableRoles,
		},
		Routes: config.DefaultRoutes(),
	}
}

// signToken returns an HS256 token signed with testSecret.
func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func testDecoder() *auth.ClaimsDecoder {
	return auth.NewClaimsDecoder(auth.WithHMACSecret(testSecret))
}

// requestWithCookies builds a request carrying the session cookies.
func requestWithCookies(path, access, refresh string) *http.Request {
	r, _ := http.NewRequest(http.MethodGet, path, nil)
	if access != "" {
		r.AddCookie(&http.Cookie{Name: "rolegate-access-token", Value: access})
	}
	if refresh != "" {
		r.AddCookie(&http.Cookie{Name: "rolegate-refresh-token", Value: refresh})
	}
	return r
}

// ========================================
// Repository mocks
// ========================================

type mockProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]*models.Profile
	err      error
}

func newMockProfileRepository(profiles ...*models.Profile) *mockProfileRepository {
	m := &mockProfileRepository{profiles: make(map[string]*models.Profile)}
	for _, p := range profiles {
		m.profiles[p.UserID] = p
	}
	return m
}

func (m *mockProfileRepository) GetByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, repository.ErrNotFound)
	}
	copied := *p
	return &copied, nil
}

func (m *mockProfileRepository) Upsert(ctx context.Context, profile *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *profile
	m.profiles[profile.UserID] = &copied
	return nil
}

func (m *mockProfileRepository) UpdateRole(ctx context.Context, userID, role string, orgID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Role = role
	p.OrgID = orgID
	p.Emulation = nil
	return nil
}

type mockOrganizationRepository struct {
	mu   sync.RWMutex
	orgs map[string]*models.Organization
}

func newMockOrganizationRepository(ids ...string) *mockOrganizationRepository {
	m := &mockOrganizationRepository{orgs: make(map[string]*models.Organization)}
	for _, id := range ids {
		m.orgs[id] = &models.Organization{ID: id, Name: id}
	}
	return m
}

func (m *mockOrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[org.ID] = org
	return nil
}

func (m *mockOrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, repository.ErrNotFound)
	}
	return org, nil
}

// mockEmulationRepository stores emulation on the shared profile mock so
// Resolve sees what Start/Stop wrote.
type mockEmulationRepository struct {
	mu       sync.RWMutex
	profiles *mockProfileRepository
	audit    []models.RoleEmulationSession
	startErr error
}

func (m *mockEmulationRepository) Load(ctx context.Context, userID string) (*models.EmulationColumn, error) {
	p, err := m.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.Emulation == nil || !p.Emulation.Active {
		return nil, nil
	}
	return p.Emulation, nil
}

func (m *mockEmulationRepository) Start(ctx context.Context, state *models.EmulationColumn, audit *models.RoleEmulationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}

	m.profiles.mu.Lock()
	p, ok := m.profiles.profiles[audit.UserID]
	if ok {
		p.Emulation = state
	}
	m.profiles.mu.Unlock()
	if !ok {
		return fmt.Errorf("profile %s: %w", audit.UserID, repository.ErrNotFound)
	}

	for i := range m.audit {
		if m.audit[i].UserID == audit.UserID && m.audit[i].Status == models.EmulationStatusActive {
			m.audit[i].Status = models.EmulationStatusSuperseded
		}
	}
	m.audit = append(m.audit, *audit)
	return nil
}

func (m *mockEmulationRepository) Stop(ctx context.Context, userID string, endedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profiles.mu.Lock()
	if p, ok := m.profiles.profiles[userID]; ok {
		p.Emulation = nil
	}
	m.profiles.mu.Unlock()

	var ended int64
	for i := range m.audit {
		if m.audit[i].UserID == userID && m.audit[i].Status == models.EmulationStatusActive {
			m.audit[i].Status = models.EmulationStatusEnded
			at := endedAt
			m.audit[i].EndedAt = &at
			ended++
		}
	}
	return ended, nil
}

func (m *mockEmulationRepository) History(ctx context.Context, userID string, limit int) ([]models.RoleEmulationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.RoleEmulationSession
	for i := len(m.audit) - 1; i >= 0; i-- {
		if m.audit[i].UserID == userID {
			out = append(out, m.audit[i])
		}
	}
	return out, nil
}

// countingStore is a PermissionStore that records every query.
type countingStore struct {
	mu      sync.Mutex
	grants  map[string][]string
	calls   int
	queried [][]string
	err     error
	delay   time.Duration
}

func newCountingStore(grants map[string][]string) *countingStore {
	return &countingStore{grants: grants}
}

func (s *countingStore) PermissionsForRoles(ctx context.Context, roles []string) ([]string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.queried = append(s.queried, append([]string(nil), roles...))
	if s.err != nil {
		return nil, s.err
	}
	var out []string
	for _, r := range roles {
		out = append(out, s.grants[r]...)
	}
	return out, nil
}

func (s *countingStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ========================================
// Provider mock
// ========================================

type mockProvider struct {
	mu           sync.Mutex
	users        map[string]*auth.User // access token → user
	refreshed    *auth.Session
	refreshErr   error
	refreshCalls int
	getUserErr   error
}

func newMockProvider() *mockProvider {
	return &mockProvider{users: make(map[string]*auth.User)}
}

func (p *mockProvider) GetUser(ctx context.Context, session *auth.Session) (*auth.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getUserErr != nil {
		return nil, p.getUserErr
	}
	u, ok := p.users[session.AccessToken]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrSessionInvalid)
	}
	return u, nil
}

func (p *mockProvider) Refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalls++
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	copied := *p.refreshed
	return &copied, nil
}

func (p *mockProvider) RefreshCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}
