package authkit

import "errors"

var (
	// ErrRefreshTokenNotFound indicates the session has no stored refresh token.
	ErrRefreshTokenNotFound = errors.New("token_store.refresh_not_found")
	// ErrRefreshTokenEmpty indicates an attempt to store an empty refresh token.
	ErrRefreshTokenEmpty = errors.New("token_store.refresh_empty")
	// ErrAccessTokenNotCached indicates the access token is absent or expired.
	ErrAccessTokenNotCached = errors.New("token_store.access_not_cached")
	// ErrEmptySessionID indicates a store call without a session identifier.
	ErrEmptySessionID = errors.New("token_store.empty_session_id")
)
