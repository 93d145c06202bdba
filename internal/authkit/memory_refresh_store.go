package authkit

import (
	"context"
	"strings"
	"sync"
)

// MemoryRefreshTokenStore keeps refresh tokens for the lifetime of the process.
type MemoryRefreshTokenStore struct {
	mutex     sync.Mutex
	bySession map[string]string
}

// NewMemoryRefreshTokenStore creates an empty in-memory store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{bySession: make(map[string]string)}
}

// Load returns the refresh token stored for the session.
func (store *MemoryRefreshTokenStore) Load(ctx context.Context, sessionID string) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	refreshToken, ok := store.bySession[sessionID]
	if !ok {
		return "", ErrRefreshTokenNotFound
	}
	return refreshToken, nil
}

// Save creates or overwrites the refresh token for the session.
func (store *MemoryRefreshTokenStore) Save(ctx context.Context, sessionID string, refreshToken string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySessionID
	}
	if strings.TrimSpace(refreshToken) == "" {
		return ErrRefreshTokenEmpty
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.bySession[sessionID] = refreshToken
	return nil
}

// Len reports how many sessions hold a refresh token.
func (store *MemoryRefreshTokenStore) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.bySession)
}
