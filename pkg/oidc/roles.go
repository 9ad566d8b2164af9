package oidc

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RequireRole passes only identities holding role. It must run after
// GetApiAuthMiddleware; without an identity it fails closed with 401.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			log.Error().Str("path", c.FullPath()).Msg("role guard reached without identity")
			abortUnauthorized(c, FaultUnauthenticated, "not authenticated")
			return
		}

		if !identity.HasRole(role) {
			log.Warn().Str("role", role).Str("sub", identity.Subject).Msg("user missing required role")
			authFaultsTotal.WithLabelValues(FaultInsufficientRole).Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":        "insufficient permissions",
				"code":         FaultInsufficientRole,
				"requiredRole": role,
				"userRoles":    identity.Roles,
			})
			return
		}
		c.Next()
	}
}

// RequireAnyRole passes identities holding at least one of roles.
func RequireAnyRole(roles ...string) gin.HandlerFunc {
	required := append([]string{}, roles...)
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			log.Error().Str("path", c.FullPath()).Msg("role guard reached without identity")
			abortUnauthorized(c, FaultUnauthenticated, "not authenticated")
			return
		}

		for _, role := range required {
			if identity.HasRole(role) {
				c.Next()
				return
			}
		}

		log.Warn().Strs("roles", required).Str("sub", identity.Subject).Msg("user missing all accepted roles")
		authFaultsTotal.WithLabelValues(FaultInsufficientRole).Inc()
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":         "insufficient permissions",
			"code":          FaultInsufficientRole,
			"requiredRoles": required,
			"userRoles":     identity.Roles,
		})
	}
}
