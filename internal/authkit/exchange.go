package authkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const maxTokenResponseBytes = 1 << 20

// ExchangeError describes a failed token exchange. The stores are untouched when it is returned.
type ExchangeError struct {
	GrantType  GrantType
	StatusCode int
	Message    string
	Err        error
}

func (exchangeErr *ExchangeError) Error() string {
	return fmt.Sprintf("exchange.%s: %s", exchangeErr.GrantType, exchangeErr.Message)
}

func (exchangeErr *ExchangeError) Unwrap() error {
	return exchangeErr.Err
}

// TokenExchanger trades a grant for an access token on behalf of a session.
type TokenExchanger interface {
	Exchange(ctx context.Context, sessionID string, grant Grant) (string, error)
}

// Exchanger calls the token endpoint and is the only writer of both token stores.
type Exchanger struct {
	configuration ServerConfig
	refreshTokens RefreshTokenStore
	accessTokens  AccessTokenCache
	httpClient    *http.Client
	logger        *zap.Logger
	metrics       MetricsRecorder
}

// NewExchanger constructs an Exchanger writing into the given stores.
func NewExchanger(configuration ServerConfig, refreshTokens RefreshTokenStore, accessTokens AccessTokenCache, opts ...Option) *Exchanger {
	resolved := resolveOptions(opts)
	return &Exchanger{
		configuration: configuration,
		refreshTokens: refreshTokens,
		accessTokens:  accessTokens,
		httpClient:    resolved.httpClient,
		logger:        resolved.logger,
		metrics:       resolved.metrics,
	}
}

// Exchange posts the grant to the token endpoint. On success it stores the refresh token,
// caches the access token for a fraction of its lifetime and returns the access token.
func (exchanger *Exchanger) Exchange(ctx context.Context, sessionID string, grant Grant) (string, error) {
	token, requestErr := exchanger.requestToken(ctx, grant)
	if requestErr != nil {
		exchanger.metrics.Increment(fmt.Sprintf(metricExchangeFailureFormat, grant.Type))
		exchanger.logger.Warn("token exchange failed",
			zap.String("code", "exchange."+string(grant.Type)+".failure"),
			zap.String("session_id", sessionID),
			zap.Error(requestErr))
		return "", requestErr
	}

	// Cache first: a failed refresh save evicts the entry, so an error leaves both stores unchanged.
	ttl := exchanger.configuration.accessTokenTTL(token.ExpiresIn)
	if cacheErr := exchanger.accessTokens.Set(ctx, sessionID, token.AccessToken, ttl); cacheErr != nil {
		exchanger.metrics.Increment(fmt.Sprintf(metricExchangeFailureFormat, grant.Type))
		exchanger.logger.Error("access token cache failed",
			zap.String("code", "exchange.cache_access_failed"),
			zap.String("session_id", sessionID),
			zap.Error(cacheErr))
		return "", &ExchangeError{GrantType: grant.Type, Message: "access token could not be cached", Err: cacheErr}
	}

	if token.RefreshToken != "" {
		if saveErr := exchanger.refreshTokens.Save(ctx, sessionID, token.RefreshToken); saveErr != nil {
			if evictErr := exchanger.accessTokens.Set(ctx, sessionID, "", 0); evictErr != nil {
				exchanger.logger.Error("access token eviction failed",
					zap.String("code", "exchange.evict_access_failed"),
					zap.String("session_id", sessionID),
					zap.Error(evictErr))
			}
			exchanger.metrics.Increment(fmt.Sprintf(metricExchangeFailureFormat, grant.Type))
			exchanger.logger.Error("refresh token save failed",
				zap.String("code", "exchange.store_refresh_failed"),
				zap.String("session_id", sessionID),
				zap.Error(saveErr))
			return "", &ExchangeError{GrantType: grant.Type, Message: "refresh token could not be stored", Err: saveErr}
		}
	}

	exchanger.metrics.Increment(fmt.Sprintf(metricExchangeSuccessFormat, grant.Type))
	exchanger.logger.Info("received access token and refresh token",
		zap.String("code", "exchange."+string(grant.Type)+".success"),
		zap.String("session_id", sessionID),
		zap.Duration("cache_ttl", ttl))
	return token.AccessToken, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type tokenErrorResponse struct {
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (exchanger *Exchanger) requestToken(ctx context.Context, grant Grant) (*oauth2.Token, error) {
	request, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, exchanger.configuration.TokenURL, strings.NewReader(grant.Form().Encode()))
	if buildErr != nil {
		return nil, &ExchangeError{GrantType: grant.Type, Message: buildErr.Error(), Err: buildErr}
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Accept", "application/json")

	response, doErr := exchanger.httpClient.Do(request)
	if doErr != nil {
		return nil, &ExchangeError{GrantType: grant.Type, Message: doErr.Error(), Err: doErr}
	}
	defer func() { _ = response.Body.Close() }()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBytes))
	if readErr != nil {
		return nil, &ExchangeError{GrantType: grant.Type, StatusCode: response.StatusCode, Message: readErr.Error(), Err: readErr}
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &ExchangeError{
			GrantType:  grant.Type,
			StatusCode: response.StatusCode,
			Message:    tokenErrorMessage(response.StatusCode, body),
			Err:        &oauth2.RetrieveError{Response: response, Body: body},
		}
	}

	var decoded tokenResponse
	if decodeErr := json.Unmarshal(body, &decoded); decodeErr != nil {
		return nil, &ExchangeError{GrantType: grant.Type, StatusCode: response.StatusCode, Message: "malformed token response", Err: decodeErr}
	}
	if strings.TrimSpace(decoded.AccessToken) == "" {
		return nil, &ExchangeError{GrantType: grant.Type, StatusCode: response.StatusCode, Message: "token response carried no access_token"}
	}

	token := &oauth2.Token{
		AccessToken:  decoded.AccessToken,
		RefreshToken: decoded.RefreshToken,
		TokenType:    decoded.TokenType,
		ExpiresIn:    decoded.ExpiresIn,
	}
	if decoded.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(decoded.ExpiresIn) * time.Second)
	}
	return token, nil
}

func tokenErrorMessage(statusCode int, body []byte) string {
	var decoded tokenErrorResponse
	if json.Unmarshal(body, &decoded) == nil {
		switch {
		case decoded.Message != "":
			return decoded.Message
		case decoded.ErrorDescription != "":
			return decoded.ErrorDescription
		case decoded.Error != "":
			return decoded.Error
		}
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" && len(trimmed) <= 200 {
		return trimmed
	}
	if statusText := http.StatusText(statusCode); statusText != "" {
		return statusText
	}
	return fmt.Sprintf("token endpoint returned status %d", statusCode)
}
