package oidc

import (
	"context"
	"fmt"
)

func NewHandler(options *Options) (*Handler, error) {
	err := validateOptions(options)
	if err != nil {
		return nil, err
	}

	idp, err := NewIdpClient(context.Background(), options.Provider)
	if err != nil {
		return nil, err
	}

	return newHandlerWithIdp(options, idp), nil
}

func newHandlerWithIdp(options *Options, idp *IdpClient) *Handler {
	applyDefaults(options)

	return &Handler{
		Options:      options,
		Idp:          idp,
		SessionStore: newSessionCookieStore(options.Session),
		refresher:    newRefreshGroup(idp.Refresh, options.RefreshGracePeriod),
	}
}

func applyDefaults(options *Options) {
	if options.AuthBaseContextPath == "" {
		options.AuthBaseContextPath = "/auth"
	}
	if options.RolesClaim == "" {
		options.RolesClaim = "realm_access.roles"
	}
	if options.RefreshGracePeriod == 0 {
		options.RefreshGracePeriod = defaultRefreshGracePeriod
	}
}

func validateOptions(options *Options) error {
	if options == nil {
		return fmt.Errorf("options cannot be nil")
	}
	if options.Provider == nil {
		return fmt.Errorf("provider options cannot be nil")
	}
	if options.Session == nil {
		return fmt.Errorf("session options cannot be nil")
	}

	if options.Provider.ClientId == "" {
		return fmt.Errorf("provider client ID cannot be empty")
	}
	if options.Provider.ClientSecret == "" {
		return fmt.Errorf("provider client secret cannot be empty")
	}
	if options.Provider.Issuer == "" {
		return fmt.Errorf("provider issuer cannot be empty")
	}
	if options.Provider.RedirectUri == "" {
		return fmt.Errorf("provider redirect URI cannot be empty")
	}

	if options.SuccessRedirectUrl == "" {
		return fmt.Errorf("success redirect URL cannot be empty")
	}
	if options.ErrorRedirectUrl == "" {
		return fmt.Errorf("error redirect URL cannot be empty")
	}

	if options.Session.SecretSigningKey == "" {
		return fmt.Errorf("session secret signing key cannot be empty")
	}
	switch len(options.Session.SecretEncryptionKey) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("session secret encryption key must be 16, 24 or 32 bytes long")
	}

	return nil
}
