package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/crmquickstart/internal/authkit"
	"github.com/tyemirov/crmquickstart/internal/crm"
	"github.com/tyemirov/crmquickstart/internal/session"
	"github.com/tyemirov/crmquickstart/internal/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "crm-quickstart",
		Short:   "OAuth 2.0 quickstart that lists and updates CRM deals for the installing session",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("client_id", "", "OAuth client ID (or CLIENT_ID)")
	rootCmd.Flags().String("client_secret", "", "OAuth client secret (or CLIENT_SECRET)")
	rootCmd.Flags().String("listen_addr", ":3000", "HTTP listen address")
	rootCmd.Flags().String("base_url", "http://localhost:3000", "Public base URL; the OAuth redirect URI is base_url + /oauth")
	rootCmd.Flags().String("authorize_url", "https://app.hubspot.com/oauth/authorize", "Authorization server consent URL")
	rootCmd.Flags().String("token_url", "https://api.hubapi.com/oauth/v1/token", "Authorization server token endpoint")
	rootCmd.Flags().String("api_base_url", crm.DefaultBaseURL, "CRM API base URL")
	rootCmd.Flags().StringSlice("scopes", authkit.DefaultScopes, "Scopes requested on install")
	rootCmd.Flags().String("session_signing_key", "", "HS256 key for session cookies; empty generates one per process")
	rootCmd.Flags().Duration("session_ttl", session.DefaultTTL, "Session cookie lifetime")
	rootCmd.Flags().Bool("cookie_secure", false, "Mark the session cookie Secure (enable behind HTTPS)")
	rootCmd.Flags().Duration("http_timeout", 30*time.Second, "Timeout for token endpoint and CRM calls")
	rootCmd.Flags().String("database_url", "", "Database URL for refresh tokens (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().String("redis_url", "", "Redis URL for access tokens (redis://; leave empty for in-memory cache)")

	for _, key := range []string{
		"client_id", "client_secret", "listen_addr", "base_url", "authorize_url", "token_url",
		"api_base_url", "scopes", "session_signing_key", "session_ttl", "cookie_secure",
		"http_timeout", "database_url", "redis_url",
	} {
		_ = viper.BindPFlag(key, rootCmd.Flags().Lookup(key))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()
	_ = viper.BindEnv("client_id", "CLIENT_ID", "APP_CLIENT_ID")
	_ = viper.BindEnv("client_secret", "CLIENT_SECRET", "APP_CLIENT_SECRET")

	return rootCmd
}

const (
	oauthCallbackPath = "/oauth"

	configCodeMissingClientID         = "config.missing_client_id"
	configCodeMissingClientSecret     = "config.missing_client_secret"
	configCodeInvalidBaseURL          = "config.invalid_base_url"
	configCodeMissingTokenURL         = "config.missing_token_url"
	configCodeMissingAuthorizeURL     = "config.missing_authorize_url"
	configCodeMissingScopes           = "config.missing_scopes"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeSessionInit             = "config.session_init"
	configCodeStoreInit               = "config.store_init"
	configCodeTemplates               = "config.templates"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig validates the OAuth client settings.
func LoadServerConfig() (authkit.ServerConfig, error) {
	clientID := strings.TrimSpace(viper.GetString("client_id"))
	if clientID == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingClientID, "client_id must be provided (CLIENT_ID)")
	}

	clientSecret := strings.TrimSpace(viper.GetString("client_secret"))
	if clientSecret == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingClientSecret, "client_secret must be provided (CLIENT_SECRET)")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(viper.GetString("base_url")), "/")
	parsedBaseURL, parseErr := url.Parse(baseURL)
	if baseURL == "" || parseErr != nil || parsedBaseURL.Scheme == "" || parsedBaseURL.Host == "" {
		return authkit.ServerConfig{}, configError(configCodeInvalidBaseURL, "base_url must be an absolute http(s) URL")
	}

	authorizeURL := strings.TrimSpace(viper.GetString("authorize_url"))
	if authorizeURL == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingAuthorizeURL, "authorize_url must be provided")
	}

	tokenURL := strings.TrimSpace(viper.GetString("token_url"))
	if tokenURL == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingTokenURL, "token_url must be provided")
	}

	scopes := viper.GetStringSlice("scopes")
	if len(scopes) == 0 {
		return authkit.ServerConfig{}, configError(configCodeMissingScopes, "at least one scope must be requested")
	}

	return authkit.ServerConfig{
		ClientID:          clientID,
		ClientSecret:      clientSecret,
		RedirectURI:       baseURL + oauthCallbackPath,
		AuthorizeURL:      authorizeURL,
		TokenURL:          tokenURL,
		Scopes:            scopes,
		AccessTokenMargin: authkit.DefaultAccessTokenMargin,
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	databaseURL := viper.GetString("database_url")
	redisURL := viper.GetString("redis_url")

	refreshStore, accessCache, closeStores, storeErr := buildTokenStores(commandContext, logger, databaseURL, redisURL)
	if storeErr != nil {
		return fmt.Errorf("%s: %w", configCodeStoreInit, storeErr)
	}
	defer closeStores()

	signingKey := []byte(viper.GetString("session_signing_key"))
	if len(signingKey) == 0 {
		generatedKey, keyErr := session.RandomSigningKey()
		if keyErr != nil {
			return fmt.Errorf("%s: %w", configCodeSessionInit, keyErr)
		}
		signingKey = generatedKey
		logger.Info("using per-process session signing key; sessions end on restart")
	}
	sessionManager, sessionErr := session.NewManager(session.Config{
		SigningKey: signingKey,
		TTL:        viper.GetDuration("session_ttl"),
		Secure:     viper.GetBool("cookie_secure"),
	}, logger)
	if sessionErr != nil {
		return fmt.Errorf("%s: %w", configCodeSessionInit, sessionErr)
	}

	httpClient := &http.Client{Timeout: viper.GetDuration("http_timeout")}
	metricsRecorder := authkit.NewCounterMetrics()
	exchanger := authkit.NewExchanger(serverConfig, refreshStore, accessCache,
		authkit.WithHTTPClient(httpClient),
		authkit.WithLogger(logger),
		authkit.WithMetrics(metricsRecorder))
	gate := authkit.NewGate(serverConfig, refreshStore, accessCache, exchanger,
		authkit.WithLogger(logger),
		authkit.WithMetrics(metricsRecorder))
	dealsClient := crm.NewClient(viper.GetString("api_base_url"), httpClient, logger, metricsRecorder)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))
	router.Use(sessionManager.Middleware())
	if templateErr := web.ConfigureRenderer(router); templateErr != nil {
		return fmt.Errorf("%s: %w", configCodeTemplates, templateErr)
	}
	web.MountRoutes(router, serverConfig, gate, sessionManager, exchanger, dealsClient, logger)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", listenAddr),
		zap.String("redirect_uri", serverConfig.RedirectURI))
	serveErr := serveHTTP(server)
	logger.Info("token lifecycle counters", zap.Any("counters", metricsRecorder.Snapshot()))
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", serveErr)
	}
	return nil
}

func buildTokenStores(ctx context.Context, logger *zap.Logger, databaseURL string, redisURL string) (authkit.RefreshTokenStore, authkit.AccessTokenCache, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var closers []io.Closer
	cleanup := func() {
		for index := len(closers) - 1; index >= 0; index-- {
			if closeErr := closers[index].Close(); closeErr != nil {
				logger.Warn("token store close failed", zap.Error(closeErr))
			}
		}
	}

	var refreshStore authkit.RefreshTokenStore
	if databaseURL != "" {
		persistentStore, storeErr := authkit.NewDatabaseRefreshTokenStore(ctx, databaseURL)
		if storeErr != nil {
			return nil, nil, nil, storeErr
		}
		closers = append(closers, persistentStore)
		refreshStore = persistentStore
		logger.Info("using persistent refresh token store", zap.String("driver", persistentStore.Driver()))
	} else {
		refreshStore = authkit.NewMemoryRefreshTokenStore()
		logger.Info("using in-memory refresh token store")
	}

	var accessCache authkit.AccessTokenCache
	if redisURL != "" {
		redisCache, cacheErr := authkit.NewRedisAccessTokenCacheFromURL(ctx, redisURL)
		if cacheErr != nil {
			cleanup()
			return nil, nil, nil, cacheErr
		}
		closers = append(closers, redisCache)
		accessCache = redisCache
		logger.Info("using redis access token cache")
	} else {
		accessCache = authkit.NewMemoryAccessTokenCache()
		logger.Info("using in-memory access token cache")
	}
	return refreshStore, accessCache, cleanup, nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
