package authkit

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Gate answers whether a session installed the app and hands out live access tokens.
type Gate struct {
	configuration ServerConfig
	refreshTokens RefreshTokenStore
	accessTokens  AccessTokenCache
	exchanger     TokenExchanger
	logger        *zap.Logger
	metrics       MetricsRecorder
}

// NewGate wires the stores and the exchanger behind the authorization checks.
func NewGate(configuration ServerConfig, refreshTokens RefreshTokenStore, accessTokens AccessTokenCache, exchanger TokenExchanger, opts ...Option) *Gate {
	resolved := resolveOptions(opts)
	return &Gate{
		configuration: configuration,
		refreshTokens: refreshTokens,
		accessTokens:  accessTokens,
		exchanger:     exchanger,
		logger:        resolved.logger,
		metrics:       resolved.metrics,
	}
}

// IsAuthorized reports whether a refresh token is stored for the session.
func (gate *Gate) IsAuthorized(ctx context.Context, sessionID string) bool {
	_, loadErr := gate.refreshTokens.Load(ctx, sessionID)
	if loadErr == nil {
		return true
	}
	if !errors.Is(loadErr, ErrRefreshTokenNotFound) {
		gate.logger.Error("refresh token lookup failed",
			zap.String("code", "gate.refresh_lookup_failed"),
			zap.String("session_id", sessionID),
			zap.Error(loadErr))
	}
	return false
}

// AccessToken returns the cached access token, refreshing it first when the cache entry expired.
// The boolean is false when the refresh did not produce a token.
//
// Concurrent calls for one session may each refresh; the last write wins.
func (gate *Gate) AccessToken(ctx context.Context, sessionID string) (string, bool) {
	cached, cacheErr := gate.accessTokens.Get(ctx, sessionID)
	if cacheErr == nil {
		gate.metrics.Increment(metricAccessTokenCacheHit)
		return cached, true
	}
	if !errors.Is(cacheErr, ErrAccessTokenNotCached) {
		gate.logger.Warn("access token cache read failed",
			zap.String("code", "gate.cache_read_failed"),
			zap.String("session_id", sessionID),
			zap.Error(cacheErr))
	}
	gate.metrics.Increment(metricAccessTokenCacheMiss)
	gate.logger.Info("refreshing expired access token", zap.String("session_id", sessionID))

	refreshToken, loadErr := gate.refreshTokens.Load(ctx, sessionID)
	if loadErr != nil && !errors.Is(loadErr, ErrRefreshTokenNotFound) {
		gate.logger.Error("refresh token lookup failed",
			zap.String("code", "gate.refresh_lookup_failed"),
			zap.String("session_id", sessionID),
			zap.Error(loadErr))
	}
	exchanged, exchangeErr := gate.exchanger.Exchange(ctx, sessionID, RefreshTokenGrant(gate.configuration, refreshToken))
	if exchangeErr != nil {
		gate.logger.Warn("access token refresh failed",
			zap.String("code", "gate.refresh_failed"),
			zap.String("session_id", sessionID),
			zap.Error(exchangeErr))
	}

	refreshed, rereadErr := gate.accessTokens.Get(ctx, sessionID)
	if rereadErr == nil {
		return refreshed, true
	}
	if exchanged != "" {
		return exchanged, true
	}
	return "", false
}
