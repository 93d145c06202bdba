package authkit

import (
	"context"
	"time"
)

// RefreshTokenStore keeps the long-lived refresh token of each session.
// An entry is the sole proof that a session has installed the app.
type RefreshTokenStore interface {
	// Load returns ErrRefreshTokenNotFound when the session never completed an install.
	Load(ctx context.Context, sessionID string) (string, error)
	// Save creates or overwrites the refresh token of a session.
	Save(ctx context.Context, sessionID string, refreshToken string) error
}

// AccessTokenCache keeps short-lived access tokens that expire on their own.
type AccessTokenCache interface {
	// Get returns ErrAccessTokenNotCached when the entry is absent or expired.
	Get(ctx context.Context, sessionID string) (string, error)
	// Set stores the access token for ttl. A non-positive ttl stores nothing.
	Set(ctx context.Context, sessionID string, accessToken string, ttl time.Duration) error
}
