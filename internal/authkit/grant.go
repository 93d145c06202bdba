package authkit

import "net/url"

// GrantType names the OAuth 2.0 grant presented to the token endpoint.
type GrantType string

const (
	// GrantTypeAuthorizationCode exchanges the code received on the OAuth callback.
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	// GrantTypeRefreshToken exchanges a stored refresh token for a new access token.
	GrantTypeRefreshToken GrantType = "refresh_token"
)

// Grant is the proof presented to the token endpoint.
type Grant struct {
	Type         GrantType
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Code         string
	RefreshToken string
}

// AuthorizationCodeGrant builds the grant for the OAuth callback.
func AuthorizationCodeGrant(configuration ServerConfig, code string) Grant {
	return Grant{
		Type:         GrantTypeAuthorizationCode,
		ClientID:     configuration.ClientID,
		ClientSecret: configuration.ClientSecret,
		RedirectURI:  configuration.RedirectURI,
		Code:         code,
	}
}

// RefreshTokenGrant builds the grant used to renew an expired access token.
func RefreshTokenGrant(configuration ServerConfig, refreshToken string) Grant {
	return Grant{
		Type:         GrantTypeRefreshToken,
		ClientID:     configuration.ClientID,
		ClientSecret: configuration.ClientSecret,
		RedirectURI:  configuration.RedirectURI,
		RefreshToken: refreshToken,
	}
}

// Form renders the grant as a form body. Empty code and refresh token fields are omitted.
func (grant Grant) Form() url.Values {
	values := url.Values{}
	values.Set("grant_type", string(grant.Type))
	values.Set("client_id", grant.ClientID)
	values.Set("client_secret", grant.ClientSecret)
	values.Set("redirect_uri", grant.RedirectURI)
	if grant.Code != "" {
		values.Set("code", grant.Code)
	}
	if grant.RefreshToken != "" {
		values.Set("refresh_token", grant.RefreshToken)
	}
	return values
}
