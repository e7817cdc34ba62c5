// Package revocation keeps relying parties aware of revoked credentials:
// a local cache for offline and semi-connected verification, and a live
// subscriber that feeds it from the revocation stream.
package revocation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentid/agentid-core/pkg/broadcast"
)

// Common errors returned by this package.
var (
	ErrCacheNotFound = errors.New("revocation cache not found")
	ErrCacheCorrupt  = errors.New("revocation cache is corrupt")
)

// DefaultStaleThreshold is the age after which a cache should be treated
// as stale and re-synced before trusting negative answers.
const DefaultStaleThreshold = 5 * time.Minute

// CachePathEnv overrides the default cache location.
const CachePathEnv = "AGENTID_CACHE_PATH"

// Cache is a local view of revoked credential ids.
type Cache interface {
	// IsRevoked checks whether a credential id is in the cache.
	IsRevoked(credentialID string) bool

	// Add records one revocation.
	Add(rev broadcast.Revocation) error

	// Sync merges a batch of revocations, typically from a poll.
	Sync(revocations []broadcast.Revocation) error

	// LastSynced returns when the cache last changed.
	LastSynced() time.Time

	// IsStale reports whether the cache is older than the threshold.
	IsStale(threshold time.Duration) bool

	// Clear drops all cached revocations.
	Clear() error
}

// cacheData is the serialized cache format.
type cacheData struct {
	SyncedAt    time.Time              `json:"synced_at"`
	Revocations []broadcast.Revocation `json:"revocations"`
}

// FileCache implements Cache using a JSON file.
type FileCache struct {
	path string
	mu   sync.RWMutex

	data  *cacheData
	index map[string]bool
}

// DefaultCacheDir returns the default revocation cache directory.
func DefaultCacheDir() string {
	if envPath := os.Getenv(CachePathEnv); envPath != "" {
		return envPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentid/cache"
	}
	return filepath.Join(home, ".agentid", "cache")
}

// NewFileCache creates a file-backed revocation cache. An empty path uses
// the default location.
func NewFileCache(path string) (*FileCache, error) {
	if path == "" {
		path = filepath.Join(DefaultCacheDir(), "revocations.json")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cache := &FileCache{
		path:  path,
		index: make(map[string]bool),
	}

	// A missing or corrupt file starts an empty cache.
	if err := cache.load(); err != nil && !os.IsNotExist(err) {
		cache.data = &cacheData{}
	}

	return cache, nil
}

// IsRevoked checks whether a credential id is in the cache.
func (c *FileCache) IsRevoked(credentialID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.index[credentialID]
}

// Add records one revocation and persists the cache.
func (c *FileCache) Add(rev broadcast.Revocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data == nil {
		c.data = &cacheData{}
	}
	if c.index[rev.CredentialID] {
		return nil
	}

	c.data.Revocations = append(c.data.Revocations, rev)
	c.index[rev.CredentialID] = true
	c.data.SyncedAt = time.Now()

	return c.save()
}

// Sync merges a batch of revocations and persists the cache.
func (c *FileCache) Sync(revocations []broadcast.Revocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data == nil {
		c.data = &cacheData{}
	}
	for _, rev := range revocations {
		if !c.index[rev.CredentialID] {
			c.data.Revocations = append(c.data.Revocations, rev)
			c.index[rev.CredentialID] = true
		}
	}

	c.data.SyncedAt = time.Now()
	return c.save()
}

// LastSynced returns when the cache last changed.
func (c *FileCache) LastSynced() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.data == nil {
		return time.Time{}
	}
	return c.data.SyncedAt
}

// IsStale reports whether the cache is older than the threshold.
func (c *FileCache) IsStale(threshold time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.data == nil || c.data.SyncedAt.IsZero() {
		return true
	}
	return time.Since(c.data.SyncedAt) > threshold
}

// Clear drops all revocations and removes the cache file.
func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = &cacheData{}
	c.index = make(map[string]bool)

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}

// Count returns the number of cached revocations.
func (c *FileCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.data == nil {
		return 0
	}
	return len(c.data.Revocations)
}

func (c *FileCache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}

	var cached cacheData
	if err := json.Unmarshal(data, &cached); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}

	c.data = &cached
	c.index = make(map[string]bool, len(cached.Revocations))
	for _, rev := range cached.Revocations {
		c.index[rev.CredentialID] = true
	}
	return nil
}

func (c *FileCache) save() error {
	if c.data == nil {
		return nil
	}

	data, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// MemoryCache is an in-memory only cache.
type MemoryCache struct {
	mu          sync.RWMutex
	revocations map[string]broadcast.Revocation
	syncedAt    time.Time
}

// NewMemoryCache creates an in-memory revocation cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		revocations: make(map[string]broadcast.Revocation),
	}
}

// IsRevoked checks whether a credential id is in the cache.
func (c *MemoryCache) IsRevoked(credentialID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.revocations[credentialID]
	return ok
}

// Add records one revocation.
func (c *MemoryCache) Add(rev broadcast.Revocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revocations[rev.CredentialID] = rev
	c.syncedAt = time.Now()
	return nil
}

// Sync merges a batch of revocations.
func (c *MemoryCache) Sync(revocations []broadcast.Revocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rev := range revocations {
		c.revocations[rev.CredentialID] = rev
	}
	c.syncedAt = time.Now()
	return nil
}

// LastSynced returns the time of the last cache change.
func (c *MemoryCache) LastSynced() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncedAt
}

// IsStale reports whether the cache is older than the threshold.
func (c *MemoryCache) IsStale(threshold time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.syncedAt.IsZero() {
		return true
	}
	return time.Since(c.syncedAt) > threshold
}

func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revocations = make(map[string]broadcast.Revocation)
	c.syncedAt = time.Time{}
	return nil
}
