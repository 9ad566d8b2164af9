package oidc

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// IdentityKey is the gin context key holding the verified *Identity.
const IdentityKey = "oidc_identity"

type identityContextKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok && identity != nil
}

// GetIdentity returns the identity attached by the API auth middleware.
func GetIdentity(c *gin.Context) (*Identity, bool) {
	value, ok := c.Get(IdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := value.(*Identity)
	return identity, ok && identity != nil
}

// GetApiAuthMiddleware verifies the bearer token of every request through
// introspection and attaches the resulting identity. There is no local cache:
// each request costs one round trip to the provider.
func (h *Handler) GetApiAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		accessToken, ok := bearerToken(c.Request)
		if !ok {
			abortUnauthorized(c, FaultMissingToken, "no authentication token provided")
			return
		}

		result, err := h.Idp.Introspect(c.Request.Context(), accessToken)
		if err != nil {
			// callers get the same generic answer whether the provider is down
			// or refused the call; the cause is only logged
			log.Warn().Err(err).Msg("token verification unavailable")
			abortUnauthorized(c, FaultVerificationUnavailable, "token verification failed")
			return
		}
		if !result.Active {
			abortUnauthorized(c, FaultInvalidOrExpiredToken, "invalid or expired token")
			return
		}

		identity := identityFromClaims(result.Claims, h.Options.RolesClaim)
		c.Set(IdentityKey, identity)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

func identityFromClaims(claims map[string]any, rolesClaim string) *Identity {
	username := stringClaim(claims, "username")
	if username == "" {
		username = stringClaim(claims, "preferred_username")
	}

	return &Identity{
		Subject:  stringClaim(claims, "sub"),
		Username: username,
		Email:    stringClaim(claims, "email"),
		Name:     stringClaim(claims, "name"),
		Roles:    rolesFromClaims(claims, rolesClaim),
	}
}

// rolesFromClaims never returns nil; duplicates are dropped, order is kept.
func rolesFromClaims(claims map[string]any, rolesClaim string) []string {
	roles := []string{}
	value, ok := claimPath(claims, rolesClaim)
	if !ok {
		return roles
	}

	var raw []string
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = v
	}

	seen := make(map[string]bool, len(raw))
	for _, role := range raw {
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		roles = append(roles, role)
	}
	return roles
}
