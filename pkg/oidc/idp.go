package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	defaultIdpTimeout = 10 * time.Second
	// responses larger than this are truncated before decoding
	maxResponseSize  = 64 * 1024
	userinfoMaxTries = 3

	keycloakIntrospectionPath = "/protocol/openid-connect/token/introspect"
	keycloakLogoutPath        = "/protocol/openid-connect/logout"
)

var defaultScopes = []string{oidc.ScopeOpenID, "profile", "email"}

// IdpClient wraps every outbound call to the identity provider.
type IdpClient struct {
	Options      *ProviderOptions
	Provider     *oidc.Provider
	OAuth2Config *oauth2.Config
	Verifier     *oidc.IDTokenVerifier

	httpClient       *http.Client
	introspectionUrl string
	userinfoUrl      string
	endSessionUrl    string
}

type providerMetadata struct {
	IntrospectionEndpoint string `json:"introspection_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
}

func NewIdpClient(ctx context.Context, options *ProviderOptions) (*IdpClient, error) {
	if options.Timeout <= 0 {
		options.Timeout = defaultIdpTimeout
	}
	httpClient := &http.Client{Timeout: options.Timeout}

	// the key set keeps this context for later JWKS fetches, so it must not be
	// cancelled after discovery; the client timeout bounds each request
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), options.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	var metadata providerMetadata
	if err := provider.Claims(&metadata); err != nil {
		return nil, fmt.Errorf("failed to read provider metadata: %w", err)
	}

	issuer := strings.TrimSuffix(options.Issuer, "/")
	introspectionUrl := firstNonEmpty(options.IntrospectionUrl, metadata.IntrospectionEndpoint, issuer+keycloakIntrospectionPath)
	endSessionUrl := firstNonEmpty(options.EndSessionUrl, metadata.EndSessionEndpoint, issuer+keycloakLogoutPath)

	// auto-detection replays a failed request with the other auth style,
	// which would present a single-use code or refresh token twice
	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInHeader

	client := &IdpClient{
		Options:  options,
		Provider: provider,
		OAuth2Config: &oauth2.Config{
			ClientID:     options.ClientId,
			ClientSecret: options.ClientSecret,
			RedirectURL:  options.RedirectUri,
			Endpoint:     endpoint,
			Scopes:       defaultScopes,
		},
		Verifier: provider.Verifier(&oidc.Config{
			ClientID: options.ClientId,
		}),
		httpClient:       httpClient,
		introspectionUrl: introspectionUrl,
		userinfoUrl:      provider.UserInfoEndpoint(),
		endSessionUrl:    endSessionUrl,
	}

	log.Debug().
		Str("issuer", options.Issuer).
		Str("token_endpoint", client.OAuth2Config.Endpoint.TokenURL).
		Str("introspection_endpoint", introspectionUrl).
		Str("end_session_endpoint", endSessionUrl).
		Msg("identity provider discovered")

	return client, nil
}

// BuildAuthorizationUrl returns the provider URL that starts the code flow.
func (c *IdpClient) BuildAuthorizationUrl(state string, redirectUri string) string {
	return c.OAuth2Config.AuthCodeURL(state, oauth2.SetAuthURLParam("redirect_uri", redirectUri))
}

// BuildEndSessionUrl returns the RP-initiated logout URL for an ID token.
func (c *IdpClient) BuildEndSessionUrl(idTokenHint string, postLogoutRedirectUri string) (string, error) {
	u, err := url.Parse(c.endSessionUrl)
	if err != nil {
		return "", fmt.Errorf("invalid end session endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client_id", c.Options.ClientId)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirectUri != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectUri)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *IdpClient) ExchangeCode(ctx context.Context, code string, redirectUri string) (*TokenSet, error) {
	return track(ctx, c, OpExchange, func(ctx context.Context) (*TokenSet, error) {
		token, err := c.OAuth2Config.Exchange(ctx, code, oauth2.SetAuthURLParam("redirect_uri", redirectUri))
		if err != nil {
			return nil, oauth2Error(OpExchange, err)
		}

		tokenSet := tokenSetFrom(token)
		if tokenSet.IdToken != "" {
			if _, err := c.Verifier.Verify(ctx, tokenSet.IdToken); err != nil {
				return nil, newRejectedError(OpExchange, 0, "invalid_id_token", fmt.Errorf("failed to verify id_token: %w", err))
			}
		}
		return tokenSet, nil
	})
}

func (c *IdpClient) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	return track(ctx, c, OpRefresh, func(ctx context.Context) (*TokenSet, error) {
		source := c.OAuth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		token, err := source.Token()
		if err != nil {
			return nil, oauth2Error(OpRefresh, err)
		}

		tokenSet := tokenSetFrom(token)
		if tokenSet.RefreshToken == "" {
			tokenSet.RefreshToken = refreshToken
		}
		tokenSet.RefreshRotated = tokenSet.RefreshToken != refreshToken
		return tokenSet, nil
	})
}

// Introspect asks the provider whether an access token is active (RFC 7662).
// An inactive token is a valid result, not an error.
func (c *IdpClient) Introspect(ctx context.Context, accessToken string) (*IntrospectionResult, error) {
	return track(ctx, c, OpIntrospect, func(ctx context.Context) (*IntrospectionResult, error) {
		form := url.Values{}
		form.Set("token", accessToken)
		form.Set("token_type_hint", "access_token")

		status, body, err := c.postForm(ctx, c.introspectionUrl, form)
		if err != nil {
			return nil, newUnavailableError(OpIntrospect, status, fmt.Errorf("introspection request failed: %w", err))
		}
		if status != http.StatusOK {
			return nil, classifyStatus(OpIntrospect, status, oauth2ErrorCode(body), fmt.Errorf("introspection failed with status %d", status))
		}

		var claims map[string]any
		if err := json.Unmarshal(body, &claims); err != nil {
			return nil, newUnavailableError(OpIntrospect, status, fmt.Errorf("failed to decode introspection response: %w", err))
		}
		active, _ := claims["active"].(bool)
		return &IntrospectionResult{Active: active, Claims: claims}, nil
	})
}

// FetchUserinfo returns the userinfo claims for an access token. Unavailable
// failures are retried since the call is an idempotent read.
func (c *IdpClient) FetchUserinfo(ctx context.Context, accessToken string) (map[string]any, error) {
	return track(ctx, c, OpUserinfo, func(ctx context.Context) (map[string]any, error) {
		expBackoff := backoff.NewExponentialBackOff()
		expBackoff.InitialInterval = 100 * time.Millisecond
		expBackoff.MaxInterval = time.Second

		attempt := 0
		operation := func() (map[string]any, error) {
			attempt++
			claims, err := c.fetchUserinfo(ctx, accessToken)
			if err != nil && !errors.Is(err, ErrIdpUnavailable) {
				return nil, backoff.Permanent(err)
			}
			return claims, err
		}

		claims, err := backoff.Retry(ctx, operation,
			backoff.WithBackOff(expBackoff),
			backoff.WithMaxTries(userinfoMaxTries),
			backoff.WithNotify(func(err error, next time.Duration) {
				log.Debug().Err(err).Int("attempt", attempt).Str("retry_in", next.String()).Msg("retrying userinfo request")
			}),
		)
		if err != nil {
			var idpErr *IdpError
			if !errors.As(err, &idpErr) {
				return nil, newUnavailableError(OpUserinfo, 0, err)
			}
			return nil, err
		}
		return claims, nil
	})
}

func (c *IdpClient) fetchUserinfo(ctx context.Context, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userinfoUrl, nil)
	if err != nil {
		return nil, newRejectedError(OpUserinfo, 0, "", fmt.Errorf("failed to create userinfo request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	status, body, err := c.send(req)
	if err != nil {
		return nil, newUnavailableError(OpUserinfo, status, fmt.Errorf("userinfo request failed: %w", err))
	}
	if status != http.StatusOK {
		return nil, classifyStatus(OpUserinfo, status, oauth2ErrorCode(body), fmt.Errorf("userinfo failed with status %d", status))
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, newUnavailableError(OpUserinfo, status, fmt.Errorf("failed to decode userinfo response: %w", err))
	}
	return claims, nil
}

// Revoke ends the provider session bound to a refresh token.
func (c *IdpClient) Revoke(ctx context.Context, refreshToken string) error {
	_, err := track(ctx, c, OpRevoke, func(ctx context.Context) (struct{}, error) {
		form := url.Values{}
		form.Set("client_id", c.Options.ClientId)
		form.Set("refresh_token", refreshToken)

		status, body, err := c.postForm(ctx, c.endSessionUrl, form)
		if err != nil {
			return struct{}{}, newUnavailableError(OpRevoke, status, fmt.Errorf("logout request failed: %w", err))
		}
		if status < 200 || status > 299 {
			return struct{}{}, classifyStatus(OpRevoke, status, oauth2ErrorCode(body), fmt.Errorf("logout failed with status %d", status))
		}
		return struct{}{}, nil
	})
	return err
}

func (c *IdpClient) postForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(url.QueryEscape(c.Options.ClientId), url.QueryEscape(c.Options.ClientSecret))
	return c.send(req)
}

func (c *IdpClient) send(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// track bounds a provider call by the configured timeout and records its outcome.
func track[T any](ctx context.Context, c *IdpClient, op IdpOperation, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Options.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	start := time.Now()
	result, err := fn(ctx)
	idpRequestDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	idpRequestsTotal.WithLabelValues(string(op), outcomeOf(err)).Inc()

	if err != nil {
		log.Debug().Err(err).Str("operation", string(op)).Dur("elapsed", time.Since(start)).Msg("idp request failed")
	}
	return result, err
}

func tokenSetFrom(token *oauth2.Token) *TokenSet {
	tokenSet := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		tokenSet.IdToken = idToken
	}
	if !token.Expiry.IsZero() {
		tokenSet.ExpiresIn = max(int64(math.Round(time.Until(token.Expiry).Seconds())), 0)
	}
	return tokenSet
}

func oauth2Error(op IdpOperation, err error) *IdpError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return classifyStatus(op, status, retrieveErr.ErrorCode, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newUnavailableError(op, 0, err)
	}

	// malformed token response, e.g. missing access_token
	return newRejectedError(op, 0, "invalid_token_response", err)
}

func oauth2ErrorCode(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
