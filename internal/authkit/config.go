package authkit

import (
	"time"

	"golang.org/x/oauth2"
)

// ServerConfig configures the OAuth client and the token lifecycle.
type ServerConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthorizeURL string
	TokenURL     string
	Scopes       []string
	// AccessTokenMargin scales the reported expires_in before the access token is cached.
	AccessTokenMargin float64
}

const (
	// DefaultAccessTokenMargin is the fraction of expires_in an access token stays cached.
	DefaultAccessTokenMargin = 0.75
	// UnknownExpiryAccessTokenTTL caches tokens whose response carried no positive expires_in.
	UnknownExpiryAccessTokenTTL = 5 * time.Minute
)

// DefaultScopes are requested on install.
var DefaultScopes = []string{
	"oauth",
	"crm.objects.contacts.read",
	"crm.objects.contacts.write",
	"crm.objects.companies.read",
	"crm.objects.deals.read",
	"crm.objects.deals.write",
}

// OAuth2Config converts the configuration into an oauth2.Config.
func (configuration ServerConfig) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     configuration.ClientID,
		ClientSecret: configuration.ClientSecret,
		RedirectURL:  configuration.RedirectURI,
		Scopes:       configuration.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   configuration.AuthorizeURL,
			TokenURL:  configuration.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// InstallURL returns the consent URL a browser is redirected to on install. The state is
// echoed back on the OAuth callback.
func (configuration ServerConfig) InstallURL(state string) string {
	return configuration.OAuth2Config().AuthCodeURL(state)
}

func (configuration ServerConfig) accessTokenTTL(expiresInSeconds int64) time.Duration {
	if expiresInSeconds <= 0 {
		return UnknownExpiryAccessTokenTTL
	}
	margin := configuration.AccessTokenMargin
	if margin <= 0 || margin > 1 {
		margin = DefaultAccessTokenMargin
	}
	scaled := float64(expiresInSeconds) * margin
	return time.Duration(int64(scaled+0.5)) * time.Second
}
