package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/crmquickstart/internal/authkit"
	"go.uber.org/zap"
)

func TestZapLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger, err := zap.NewProduction()
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	router := gin.New()
	router.Use(zapLoggerMiddleware(logger))
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
}

func TestRunServerMissingConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	err := runServer(&cobra.Command{}, nil)
	if err == nil {
		t.Fatalf("expected configuration error")
	}

	expectedMessage := "config.uninitialized_server_config: server configuration not prepared; PreRunE must execute before RunE"
	if err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %q", expectedMessage, err.Error())
	}
}

func setValidClientConfig() {
	viper.Set("client_id", "client-id")
	viper.Set("client_secret", "client-secret")
	viper.Set("base_url", "http://localhost:3000/")
	viper.Set("authorize_url", "https://app.example.com/oauth/authorize")
	viper.Set("token_url", "https://api.example.com/oauth/v1/token")
	viper.Set("scopes", authkit.DefaultScopes)
}

func TestLoadServerConfigValidation(t *testing.T) {
	testCases := []struct {
		name     string
		override func()
		expected string
	}{
		{
			name:     "missing client id",
			override: func() { viper.Set("client_id", "  ") },
			expected: "config.missing_client_id: client_id must be provided (CLIENT_ID)",
		},
		{
			name:     "missing client secret",
			override: func() { viper.Set("client_secret", "") },
			expected: "config.missing_client_secret: client_secret must be provided (CLIENT_SECRET)",
		},
		{
			name:     "relative base url",
			override: func() { viper.Set("base_url", "localhost") },
			expected: "config.invalid_base_url: base_url must be an absolute http(s) URL",
		},
		{
			name:     "missing authorize url",
			override: func() { viper.Set("authorize_url", "") },
			expected: "config.missing_authorize_url: authorize_url must be provided",
		},
		{
			name:     "missing token url",
			override: func() { viper.Set("token_url", "") },
			expected: "config.missing_token_url: token_url must be provided",
		},
		{
			name:     "missing scopes",
			override: func() { viper.Set("scopes", []string{}) },
			expected: "config.missing_scopes: at least one scope must be requested",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			setValidClientConfig()
			testCase.override()

			_, err := LoadServerConfig()
			if err == nil || err.Error() != testCase.expected {
				t.Fatalf("expected error %q, got %v", testCase.expected, err)
			}
		})
	}
}

func TestLoadServerConfigDerivesRedirectURI(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	setValidClientConfig()

	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	if config.RedirectURI != "http://localhost:3000/oauth" {
		t.Fatalf("unexpected redirect uri %q", config.RedirectURI)
	}
	if config.AccessTokenMargin != authkit.DefaultAccessTokenMargin {
		t.Fatalf("expected default access token margin, got %v", config.AccessTokenMargin)
	}
	if len(config.Scopes) != len(authkit.DefaultScopes) {
		t.Fatalf("expected %d scopes, got %d", len(authkit.DefaultScopes), len(config.Scopes))
	}
}

func TestRunServerInMemoryStores(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		if server.Handler == nil {
			t.Fatalf("expected handler to be configured")
		}
		recorder := httptest.NewRecorder()
		server.Handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected home page to render, got %d", recorder.Code)
		}
		return http.ErrServerClosed
	})
	defer restoreServe()

	setValidClientConfig()
	viper.Set("listen_addr", ":0")
	viper.Set("http_timeout", time.Second)

	runServerWithConfig(t)
}

func TestRunServerPersistentStores(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		return http.ErrServerClosed
	})
	defer restoreServe()

	redisServer := miniredis.RunT(t)

	setValidClientConfig()
	viper.Set("listen_addr", ":0")
	viper.Set("session_signing_key", "signing-secret")
	viper.Set("session_ttl", time.Minute)
	viper.Set("database_url", "sqlite://"+filepath.Join(t.TempDir(), "tokens.db"))
	viper.Set("redis_url", "redis://"+redisServer.Addr())

	runServerWithConfig(t)
}

func TestRunServerStoreInitFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		t.Fatalf("server must not start when stores fail")
		return nil
	})
	defer restoreServe()

	setValidClientConfig()
	viper.Set("database_url", "mysql://localhost/tokens")

	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), serverConfigContextKey, config))

	runErr := runServer(command, nil)
	if runErr == nil {
		t.Fatalf("expected store init error")
	}
	if got := runErr.Error(); len(got) < len(configCodeStoreInit) || got[:len(configCodeStoreInit)] != configCodeStoreInit {
		t.Fatalf("expected %s prefix, got %q", configCodeStoreInit, got)
	}
}

func TestBuildTokenStoresCleanupClosesBackends(t *testing.T) {
	redisServer := miniredis.RunT(t)
	databaseURL := "sqlite://" + filepath.Join(t.TempDir(), "tokens.db")

	refreshStore, accessCache, closeStores, err := buildTokenStores(context.Background(), zap.NewNop(), databaseURL, "redis://"+redisServer.Addr())
	if err != nil {
		t.Fatalf("expected stores to open, got %v", err)
	}
	if err := accessCache.Set(context.Background(), "session-s", "AT1", time.Minute); err != nil {
		t.Fatalf("cache set failed: %v", err)
	}

	closeStores()

	if _, err := refreshStore.Load(context.Background(), "session-s"); err == nil || errors.Is(err, authkit.ErrRefreshTokenNotFound) {
		t.Fatalf("expected closed database error, got %v", err)
	}
	if _, err := accessCache.Get(context.Background(), "session-s"); err == nil || errors.Is(err, authkit.ErrAccessTokenNotCached) {
		t.Fatalf("expected closed redis client error, got %v", err)
	}
}

func TestBuildTokenStoresRedisFailureReturnsError(t *testing.T) {
	redisServer := miniredis.RunT(t)
	redisAddr := redisServer.Addr()
	redisServer.Close()
	databaseURL := "sqlite://" + filepath.Join(t.TempDir(), "tokens.db")

	refreshStore, accessCache, closeStores, err := buildTokenStores(context.Background(), zap.NewNop(), databaseURL, "redis://"+redisAddr)
	if err == nil {
		t.Fatalf("expected redis failure")
	}
	if refreshStore != nil || accessCache != nil || closeStores != nil {
		t.Fatalf("expected no stores on failure")
	}
}

func TestNewRootCommandHelp(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected help execution to succeed: %v", err)
	}
}

func runServerWithConfig(t *testing.T) {
	t.Helper()
	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}

	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), serverConfigContextKey, config))

	if err := runServer(command, nil); err != nil {
		t.Fatalf("expected runServer to succeed, got %v", err)
	}
}

func withServeHTTPStub(stub func(server *http.Server) error) func() {
	previous := serveHTTP
	serveHTTP = stub
	return func() {
		serveHTTP = previous
	}
}
