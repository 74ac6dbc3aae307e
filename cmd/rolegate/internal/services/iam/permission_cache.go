package iam

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
)

// LookupResult classifies a permission cache lookup.
type LookupResult string

const (
	CacheHit     LookupResult = "hit"
	CacheMiss    LookupResult = "miss"
	CacheExpired LookupResult = "expired"
)

// CacheStats summarizes the permission cache for the admin endpoint.
type CacheStats struct {
	Backend      string     `json:"backend"`
	TotalEntries int        `json:"totalEntries"`
	UsersTracked int        `json:"usersTracked"`
	OldestEntry  *time.Time `json:"oldestEntry,omitempty"`
	TTLSeconds   float64    `json:"ttlSeconds"`
}

// PermissionCache stores resolved permission sets keyed by a normalized role set.
//
// Implementations must never return an entry whose expiry has passed: the TTL
// is checked against the injected clock on every read. Concurrent writers for
// the same key may overwrite each other; the values are equivalent.
type PermissionCache interface {
	// Get returns the cached set and CacheHit, or nil with CacheMiss/CacheExpired.
	Get(ctx context.Context, key string) (auth.PermissionSet, LookupResult, error)

	// Set stores perms under key with a fresh expiry. A non-empty userID records
	// the key in that user's index for InvalidateUser.
	Set(ctx context.Context, key, userID string, perms auth.PermissionSet) error

	// Track records key in userID's index without touching the entry.
	Track(ctx context.Context, key, userID string) error

	// InvalidateUser drops every key recorded for userID.
	InvalidateUser(ctx context.Context, userID string) (int, error)

	// InvalidateRoles drops every key containing any of roles.
	InvalidateRoles(ctx context.Context, roles []string) (int, error)

	// Cleanup purges expired entries.
	Cleanup(ctx context.Context) (int, error)

	// Clear drops everything.
	Clear(ctx context.Context) error

	Stats(ctx context.Context) (CacheStats, error)
}

// CacheKey normalizes a role set into its cache key: deduplicated, sorted,
// comma-joined. Order of the input never matters.
func CacheKey(roles []auth.Role) string {
	return strings.Join(auth.RoleNames(auth.NormalizeRoles(roles)), ",")
}

// keyContainsAny reports whether the comma-joined key includes any of roles.
func keyContainsAny(key string, roles map[string]struct{}) bool {
	for _, r := range strings.Split(key, ",") {
		if _, ok := roles[r]; ok {
			return true
		}
	}
	return false
}

// =========================================================================
// In-memory cache
// =========================================================================

type memoryEntry struct {
	perms     auth.PermissionSet
	createdAt time.Time
	expiresAt time.Time
}

// MemoryPermissionCache is a bounded, process-local LRU with a hard TTL.
type MemoryPermissionCache struct {
	entries *lru.Cache[string, *memoryEntry]
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	userKeys map[string]map[string]struct{}
}

// NewMemoryPermissionCache creates a cache holding at most size role sets.
// now defaults to time.Now.
func NewMemoryPermissionCache(size int, ttl time.Duration, now func() time.Time) (*MemoryPermissionCache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("permission cache ttl must be positive")
	}
	entries, err := lru.New[string, *memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryPermissionCache{
		entries:  entries,
		ttl:      ttl,
		now:      now,
		userKeys: make(map[string]map[string]struct{}),
	}, nil
}

func (c *MemoryPermissionCache) Get(_ context.Context, key string) (auth.PermissionSet, LookupResult, error) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, CacheMiss, nil
	}
	if c.now().After(entry.expiresAt) {
		c.entries.Remove(key)
		return nil, CacheExpired, nil
	}
	return clonePermissions(entry.perms), CacheHit, nil
}

func (c *MemoryPermissionCache) Set(_ context.Context, key, userID string, perms auth.PermissionSet) error {
	now := c.now()
	c.entries.Add(key, &memoryEntry{
		perms:     clonePermissions(perms),
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	})

	return c.Track(context.Background(), key, userID)
}

func (c *MemoryPermissionCache) Track(_ context.Context, key, userID string) error {
	if userID == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.userKeys[userID]
	if !ok {
		keys = make(map[string]struct{})
		c.userKeys[userID] = keys
	}
	keys[key] = struct{}{}
	return nil
}

func (c *MemoryPermissionCache) InvalidateUser(_ context.Context, userID string) (int, error) {
	c.mu.Lock()
	keys := c.userKeys[userID]
	delete(c.userKeys, userID)
	c.mu.Unlock()

	removed := 0
	for key := range keys {
		if c.entries.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

func (c *MemoryPermissionCache) InvalidateRoles(_ context.Context, roles []string) (int, error) {
	if len(roles) == 0 {
		return 0, nil
	}
	targets := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		targets[r] = struct{}{}
	}

	removed := 0
	for _, key := range c.entries.Keys() {
		if keyContainsAny(key, targets) && c.entries.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

func (c *MemoryPermissionCache) Cleanup(_ context.Context) (int, error) {
	now := c.now()
	removed := 0
	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if ok && now.After(entry.expiresAt) && c.entries.Remove(key) {
			removed++
		}
	}

	// Drop index entries pointing at keys that no longer exist
	c.mu.Lock()
	for userID, keys := range c.userKeys {
		for key := range keys {
			if !c.entries.Contains(key) {
				delete(keys, key)
			}
		}
		if len(keys) == 0 {
			delete(c.userKeys, userID)
		}
	}
	c.mu.Unlock()

	return removed, nil
}

func (c *MemoryPermissionCache) Clear(_ context.Context) error {
	c.entries.Purge()
	c.mu.Lock()
	c.userKeys = make(map[string]map[string]struct{})
	c.mu.Unlock()
	return nil
}

func (c *MemoryPermissionCache) Stats(_ context.Context) (CacheStats, error) {
	stats := CacheStats{
		Backend:    "memory",
		TTLSeconds: c.ttl.Seconds(),
	}

	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		stats.TotalEntries++
		if stats.OldestEntry == nil || entry.createdAt.Before(*stats.OldestEntry) {
			created := entry.createdAt
			stats.OldestEntry = &created
		}
	}

	c.mu.Lock()
	stats.UsersTracked = len(c.userKeys)
	c.mu.Unlock()

	return stats, nil
}

func clonePermissions(perms auth.PermissionSet) auth.PermissionSet {
	out := make(auth.PermissionSet, len(perms))
	for p := range perms {
		out[p] = struct{}{}
	}
	return out
}

