package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/crmquickstart/internal/authkit"
	"github.com/tyemirov/crmquickstart/internal/crm"
	"github.com/tyemirov/crmquickstart/internal/session"
	webassets "github.com/tyemirov/crmquickstart/web"
	"go.uber.org/zap"
)

const (
	missingCodeMessage   = "missing authorization code"
	invalidStateMessage  = "invalid oauth state"
	installFailedMessage = "could not start install"
)

// AuthorizationGate decides whether a session may reach the CRM.
type AuthorizationGate interface {
	IsAuthorized(ctx context.Context, sessionID string) bool
	AccessToken(ctx context.Context, sessionID string) (string, bool)
}

// StateBinder mints and checks the OAuth state bound to a session.
type StateBinder interface {
	MintState(sessionID string) (string, error)
	VerifyState(sessionID string, state string) error
}

// DealsService reads and updates CRM deals.
type DealsService interface {
	ListDeals(ctx context.Context, accessToken string) []crm.Deal
	UpdateDealStage(ctx context.Context, accessToken string, dealID string, stage crm.Stage) bool
}

type handlers struct {
	configuration authkit.ServerConfig
	gate          AuthorizationGate
	states        StateBinder
	exchanger     authkit.TokenExchanger
	deals         DealsService
	logger        *zap.Logger
}

// MountRoutes registers /install, /oauth, /, /deals, /error and /static. The session
// middleware must run before these handlers.
func MountRoutes(router gin.IRouter, configuration authkit.ServerConfig, gate AuthorizationGate, states StateBinder, exchanger authkit.TokenExchanger, deals DealsService, logger *zap.Logger) {
	if gate == nil || states == nil || exchanger == nil || deals == nil {
		panic("web routes require a gate, a state binder, an exchanger and a deals service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	routeHandlers := &handlers{
		configuration: configuration,
		gate:          gate,
		states:        states,
		exchanger:     exchanger,
		deals:         deals,
		logger:        logger,
	}

	router.GET("/install", routeHandlers.install)
	router.GET("/oauth", routeHandlers.oauthCallback)
	router.GET("/", routeHandlers.home)
	router.GET("/deals", routeHandlers.listDeals)
	router.POST("/deals", routeHandlers.updateDeal)
	router.GET("/error", routeHandlers.showError)
	router.GET("/static/:name", func(contextGin *gin.Context) {
		ServeEmbeddedAsset(contextGin, webassets.FS, contextGin.Param("name"))
	})
}

func (routeHandlers *handlers) install(contextGin *gin.Context) {
	state, stateErr := routeHandlers.states.MintState(session.ID(contextGin))
	if stateErr != nil {
		routeHandlers.logger.Error("oauth state mint failed",
			zap.String("code", "oauth.state_mint_failed"),
			zap.Error(stateErr))
		redirectToError(contextGin, installFailedMessage)
		return
	}
	routeHandlers.logger.Info("redirecting user to the OAuth consent page",
		zap.String("code", "oauth.install"))
	contextGin.Redirect(http.StatusFound, routeHandlers.configuration.InstallURL(state))
}

func (routeHandlers *handlers) oauthCallback(contextGin *gin.Context) {
	code := contextGin.Query("code")
	if code == "" {
		routeHandlers.logger.Warn("oauth callback without code",
			zap.String("code", "oauth.missing_code"))
		redirectToError(contextGin, missingCodeMessage)
		return
	}

	sessionID := session.ID(contextGin)
	if stateErr := routeHandlers.states.VerifyState(sessionID, contextGin.Query("state")); stateErr != nil {
		routeHandlers.logger.Warn("oauth callback with invalid state",
			zap.String("code", "oauth.invalid_state"),
			zap.String("session_id", sessionID),
			zap.Error(stateErr))
		redirectToError(contextGin, invalidStateMessage)
		return
	}
	routeHandlers.logger.Info("exchanging authorization code for tokens",
		zap.String("code", "oauth.exchange"),
		zap.String("session_id", sessionID))
	_, exchangeErr := routeHandlers.exchanger.Exchange(contextGin.Request.Context(), sessionID, authkit.AuthorizationCodeGrant(routeHandlers.configuration, code))
	if exchangeErr != nil {
		message := exchangeErr.Error()
		var typed *authkit.ExchangeError
		if errors.As(exchangeErr, &typed) && typed.Message != "" {
			message = typed.Message
		}
		redirectToError(contextGin, message)
		return
	}
	contextGin.Redirect(http.StatusFound, "/")
}

func (routeHandlers *handlers) home(contextGin *gin.Context) {
	authorized := routeHandlers.gate.IsAuthorized(contextGin.Request.Context(), session.ID(contextGin))
	contextGin.HTML(http.StatusOK, "home.tmpl", gin.H{"authorized": authorized})
}

func (routeHandlers *handlers) listDeals(contextGin *gin.Context) {
	requestContext := contextGin.Request.Context()
	sessionID := session.ID(contextGin)
	if !routeHandlers.gate.IsAuthorized(requestContext, sessionID) {
		renderInstallPrompt(contextGin)
		return
	}

	deals := []crm.Deal{}
	if accessToken, ok := routeHandlers.gate.AccessToken(requestContext, sessionID); ok {
		deals = routeHandlers.deals.ListDeals(requestContext, accessToken)
	} else {
		routeHandlers.logger.Warn("no access token available for deals",
			zap.String("code", "deals.list.no_access_token"),
			zap.String("session_id", sessionID))
	}
	contextGin.HTML(http.StatusOK, "deals.tmpl", gin.H{
		"title":  "Deals",
		"deals":  deals,
		"stages": crm.Stages(),
	})
}

func (routeHandlers *handlers) updateDeal(contextGin *gin.Context) {
	requestContext := contextGin.Request.Context()
	sessionID := session.ID(contextGin)
	if !routeHandlers.gate.IsAuthorized(requestContext, sessionID) {
		renderInstallPrompt(contextGin)
		return
	}

	stage := crm.ParseStageCode(contextGin.PostForm("dealstage"))
	dealID := contextGin.PostForm("id")
	if accessToken, ok := routeHandlers.gate.AccessToken(requestContext, sessionID); ok {
		routeHandlers.deals.UpdateDealStage(requestContext, accessToken, dealID, stage)
	} else {
		routeHandlers.logger.Warn("no access token available for deal update",
			zap.String("code", "deals.update.no_access_token"),
			zap.String("session_id", sessionID))
	}
	contextGin.Redirect(http.StatusFound, "/deals")
}

func (routeHandlers *handlers) showError(contextGin *gin.Context) {
	contextGin.HTML(http.StatusOK, "error.tmpl", gin.H{
		"title":   "Error",
		"message": contextGin.Query("msg"),
	})
}

func renderInstallPrompt(contextGin *gin.Context) {
	contextGin.HTML(http.StatusOK, "install.tmpl", gin.H{})
}

func redirectToError(contextGin *gin.Context, message string) {
	contextGin.Redirect(http.StatusFound, "/error?msg="+url.QueryEscape(message))
}
