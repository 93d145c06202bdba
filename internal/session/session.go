// Package session assigns every browser an opaque session identifier carried in a signed cookie.
package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config configures the Manager.
type Config struct {
	SigningKey []byte
	Issuer     string
	CookieName string
	TTL        time.Duration
	Secure     bool
	Clock      Clock
}

const (
	// DefaultCookieName is used when Config.CookieName is empty.
	DefaultCookieName = "crmqs_session"
	// DefaultIssuer is used when Config.Issuer is empty.
	DefaultIssuer = "crm-quickstart"
	// DefaultTTL is used when Config.TTL is not positive.
	DefaultTTL = 24 * time.Hour

	// StateTTL bounds how long a consent round trip may take.
	StateTTL = 10 * time.Minute

	contextKey       = "session_id"
	signingKeyLength = 32
	sessionAudience  = "session"
	stateAudience    = "oauth_state"
)

// Sentinel errors exposed by the manager.
var (
	ErrMissingSigningKey = errors.New("session.missing_signing_key")
	ErrMissingSessionID  = errors.New("session.missing_session_id")
	ErrInvalidToken      = errors.New("session.invalid_token")
	ErrInvalidState      = errors.New("session.invalid_state")
)

// Claims carry the session identifier as the JWT subject.
type Claims struct {
	jwt.RegisteredClaims
}

// Manager mints and validates session cookies.
type Manager struct {
	signingKey []byte
	issuer     string
	cookieName string
	ttl        time.Duration
	secure     bool
	clock      Clock
	logger     *zap.Logger
}

// NewManager validates the configuration and applies defaults.
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if len(config.SigningKey) == 0 {
		return nil, ErrMissingSigningKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	manager := &Manager{
		signingKey: config.SigningKey,
		issuer:     config.Issuer,
		cookieName: config.CookieName,
		ttl:        config.TTL,
		secure:     config.Secure,
		clock:      config.Clock,
		logger:     logger,
	}
	if strings.TrimSpace(manager.issuer) == "" {
		manager.issuer = DefaultIssuer
	}
	if strings.TrimSpace(manager.cookieName) == "" {
		manager.cookieName = DefaultCookieName
	}
	if manager.ttl <= 0 {
		manager.ttl = DefaultTTL
	}
	if manager.clock == nil {
		manager.clock = systemClock{}
	}
	return manager, nil
}

// RandomSigningKey returns a fresh key; cookies signed with it die with the process.
func RandomSigningKey() ([]byte, error) {
	key := make([]byte, signingKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("session.random_key: %w", err)
	}
	return key, nil
}

// CookieName returns the configured cookie name.
func (manager *Manager) CookieName() string {
	return manager.cookieName
}

// Mint signs a session token for the identifier.
func (manager *Manager) Mint(sessionID string) (string, time.Time, error) {
	return manager.sign(sessionID, sessionAudience, manager.ttl)
}

// Parse validates a session token and returns the session identifier.
func (manager *Manager) Parse(tokenString string) (string, error) {
	return manager.verify(tokenString, sessionAudience)
}

// MintState signs the OAuth state parameter for the session's install round trip.
func (manager *Manager) MintState(sessionID string) (string, error) {
	state, _, err := manager.sign(sessionID, stateAudience, StateTTL)
	return state, err
}

// VerifyState checks that the state returned on the OAuth callback was minted for the session.
func (manager *Manager) VerifyState(sessionID string, state string) error {
	stateSessionID, err := manager.verify(state, stateAudience)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if stateSessionID != sessionID {
		return ErrInvalidState
	}
	return nil
}

func (manager *Manager) sign(sessionID string, audience string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", time.Time{}, ErrMissingSessionID
	}
	issuedAt := manager.clock.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    manager.issuer,
			Subject:   sessionID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(manager.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session.mint: %w", err)
	}
	return signed, expiresAt, nil
}

func (manager *Manager) verify(tokenString string, audience string) (string, error) {
	if strings.TrimSpace(tokenString) == "" {
		return "", ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return manager.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(manager.issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(manager.clock.Now),
	)
	if err != nil || parsed == nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrMissingSessionID
	}
	return claims.Subject, nil
}

// Middleware places the session identifier on the gin context, issuing a new session
// cookie when the request carries none or an invalid one.
func (manager *Manager) Middleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		if cookie, cookieErr := contextGin.Request.Cookie(manager.cookieName); cookieErr == nil && cookie != nil {
			sessionID, parseErr := manager.Parse(cookie.Value)
			if parseErr == nil {
				contextGin.Set(contextKey, sessionID)
				contextGin.Next()
				return
			}
			manager.logger.Debug("discarding invalid session cookie",
				zap.String("code", "session.invalid_cookie"),
				zap.Error(parseErr))
		}

		sessionID := uuid.NewString()
		signed, expiresAt, mintErr := manager.Mint(sessionID)
		if mintErr != nil {
			manager.logger.Error("session mint failed",
				zap.String("code", "session.mint_failed"),
				zap.Error(mintErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		http.SetCookie(contextGin.Writer, &http.Cookie{
			Name:     manager.cookieName,
			Value:    signed,
			Path:     "/",
			Expires:  expiresAt,
			Secure:   manager.secure,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		contextGin.Set(contextKey, sessionID)
		contextGin.Next()
	}
}

// ID returns the session identifier placed on the context by Middleware.
func ID(contextGin *gin.Context) string {
	value, ok := contextGin.Get(contextKey)
	if !ok {
		return ""
	}
	sessionID, _ := value.(string)
	return sessionID
}
