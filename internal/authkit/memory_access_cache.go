package authkit

import (
	"context"
	"strings"
	"sync"
	"time"
)

type cachedAccessToken struct {
	value     string
	expiresAt time.Time
}

// MemoryAccessTokenCache is an expiring map of access tokens keyed by session.
type MemoryAccessTokenCache struct {
	mutex   sync.Mutex
	entries map[string]cachedAccessToken
	now     func() time.Time
}

// NewMemoryAccessTokenCache constructs an empty cache using the system clock.
func NewMemoryAccessTokenCache() *MemoryAccessTokenCache {
	return &MemoryAccessTokenCache{
		entries: make(map[string]cachedAccessToken),
		now:     time.Now,
	}
}

// Get returns the live access token for the session.
func (cache *MemoryAccessTokenCache) Get(ctx context.Context, sessionID string) (string, error) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	entry, ok := cache.entries[sessionID]
	if !ok {
		cache.purgeExpiredLocked()
		return "", ErrAccessTokenNotCached
	}
	if !cache.now().Before(entry.expiresAt) {
		delete(cache.entries, sessionID)
		cache.purgeExpiredLocked()
		return "", ErrAccessTokenNotCached
	}
	return entry.value, nil
}

// Set caches the access token until ttl elapses.
func (cache *MemoryAccessTokenCache) Set(ctx context.Context, sessionID string, accessToken string, ttl time.Duration) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySessionID
	}
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.purgeExpiredLocked()
	if ttl <= 0 {
		delete(cache.entries, sessionID)
		return nil
	}
	cache.entries[sessionID] = cachedAccessToken{
		value:     accessToken,
		expiresAt: cache.now().Add(ttl),
	}
	return nil
}

// ExpiresAt reports the deadline of a cached entry.
func (cache *MemoryAccessTokenCache) ExpiresAt(sessionID string) (time.Time, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	entry, ok := cache.entries[sessionID]
	return entry.expiresAt, ok
}

func (cache *MemoryAccessTokenCache) purgeExpiredLocked() {
	if len(cache.entries) == 0 {
		return
	}
	now := cache.now()
	for sessionID, entry := range cache.entries {
		if !now.Before(entry.expiresAt) {
			delete(cache.entries, sessionID)
		}
	}
}
