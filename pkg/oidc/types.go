package oidc

import "time"

type Options struct {
	// OIDC provider configuration
	Provider *ProviderOptions
	// Cookie configuration
	Session *SessionOptions
	// Base path for the authentication endpoints
	// defaults to "/auth"
	AuthBaseContextPath string
	// Browser URL the callback redirects to after a successful login.
	// The access token and its lifetime are appended as query parameters.
	SuccessRedirectUrl string
	// Browser URL the callback redirects to on failure.
	// The reason code is appended as the "error" query parameter.
	ErrorRedirectUrl string
	// If set, logout responses carry an IdP end-session URL that sends the
	// browser back here once the IdP session is gone
	PostLogoutRedirectUrl string
	// Path inside the introspection claims that holds the role list
	// defaults to "realm_access.roles"
	RolesClaim string
	// Window during which a successful refresh result is replayed to callers
	// still presenting the pre-rotation refresh token.
	// defaults to 10s, negative disables
	RefreshGracePeriod time.Duration
}

type ProviderOptions struct {
	// URL of the OIDC provider
	// For keycloak, use the realm base url, e.g. https://keycloak.example.com/realms/<realm-name>
	Issuer string
	// OIDC client id configured in the provider
	ClientId string
	// OIDC client secret configured in the provider
	ClientSecret string
	// fully qualified redirect URI for OIDC callbacks
	// e.g. https://your-domain.com/auth/callback
	RedirectUri string
	// Overrides the discovered introspection endpoint
	IntrospectionUrl string
	// Overrides the discovered end-session endpoint
	EndSessionUrl string
	// Upper bound for every outbound call to the provider
	// defaults to 10s
	Timeout time.Duration
}

type SessionOptions struct {
	// key for signing session cookies
	SecretSigningKey string
	// key for encrypting session cookies
	// must be 16, 24 or 32 bytes long
	SecretEncryptionKey string
	// domain for the session cookies
	Domain string
	// marks the cookies Secure; enable in production
	Secure bool
}

type Handler struct {
	Options      *Options
	Idp          *IdpClient
	SessionStore *SessionCookieStore
	refresher    *refreshGroup
}

// TokenSet is what the provider hands back on code exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IdToken      string
	TokenType    string
	ExpiresIn    int64
	// RefreshRotated reports whether the provider issued a refresh token that
	// differs from the one presented. Without rotation RefreshToken holds the
	// presented token.
	RefreshRotated bool
}

type IntrospectionResult struct {
	Active bool
	Claims map[string]any
}

type Identity struct {
	Subject  string   `json:"sub"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Roles    []string `json:"roles"`
}

func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}
