package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mxcd/oidc-gateway/pkg/oidc"
	"github.com/rs/zerolog/log"
)

const maxDataBodyBytes = 1 << 20

func (s *Server) registerIndexRoute() {
	auth := s.Options.OidcHandler.Options.AuthBaseContextPath
	api := s.Options.ApiBaseUrl

	s.Engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "OIDC gateway",
			"version": s.Options.ServiceVersion,
			"endpoints": gin.H{
				"auth": []string{
					"GET " + auth + "/login",
					"GET " + auth + "/callback",
					"POST " + auth + "/refresh",
					"POST " + auth + "/logout",
					"GET " + auth + "/user",
				},
				"public": []string{
					"GET /",
					"GET " + api + "/health",
					"GET " + api + "/public",
				},
				"protected": []string{
					"GET " + api + "/protected",
					"GET " + api + "/profile",
					"GET " + api + "/users (role: user)",
					"GET " + api + "/admin (role: admin)",
					"GET " + api + "/dashboard (role: user or admin)",
					"POST " + api + "/data",
				},
			},
		})
	})
}

func (s *Server) registerApiRoutes() {
	s.Engine.GET(fmt.Sprintf("%s/public", s.Options.ApiBaseUrl), s.handlePublic())

	protected := s.Engine.Group(s.Options.ApiBaseUrl)
	protected.Use(s.Options.OidcHandler.GetApiAuthMiddleware())
	{
		protected.GET("/protected", s.handleProtected())
		protected.GET("/profile", s.handleProfile())
		protected.GET("/users", oidc.RequireRole("user"), s.handleUsers())
		protected.GET("/admin", oidc.RequireRole("admin"), s.handleAdmin())
		protected.GET("/dashboard", oidc.RequireAnyRole("user", "admin"), s.handleDashboard())
		protected.POST("/data", s.handleData())
	}
}

func (s *Server) handlePublic() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "public endpoint, no authentication required",
			"data": gin.H{
				"timestamp": now(),
			},
		})
	}
}

func (s *Server) handleProtected() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := mustIdentity(c)
		c.JSON(http.StatusOK, gin.H{
			"message":   "access granted",
			"user":      identity,
			"timestamp": now(),
		})
	}
}

func (s *Server) handleProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := mustIdentity(c)
		c.JSON(http.StatusOK, gin.H{
			"message": "user profile",
			"profile": gin.H{
				"id":       identity.Subject,
				"username": identity.Username,
				"email":    identity.Email,
				"name":     identity.Name,
				"roles":    identity.Roles,
			},
		})
	}
}

func (s *Server) handleUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := mustIdentity(c)
		c.JSON(http.StatusOK, gin.H{
			"message": "user list",
			"users": []gin.H{
				{"id": 1, "name": "User 1", "email": "user1@example.com"},
				{"id": 2, "name": "User 2", "email": "user2@example.com"},
			},
			"accessedBy": identity.Username,
		})
	}
}

func (s *Server) handleAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := mustIdentity(c)
		c.JSON(http.StatusOK, gin.H{
			"message": "admin panel",
			"data": gin.H{
				"totalUsers":   150,
				"activeUsers":  120,
				"systemStatus": "operational",
			},
			"accessedBy": identity.Username,
		})
	}
}

func (s *Server) handleDashboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := mustIdentity(c)
		c.JSON(http.StatusOK, gin.H{
			"message": "dashboard",
			"data": gin.H{
				"userRole": identity.Roles,
				"dashboardData": gin.H{
					"notifications": 5,
					"messages":      12,
					"tasks":         8,
				},
			},
		})
	}
}

func (s *Server) handleData() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := mustIdentity(c)

		var payload any
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDataBodyBytes))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &payload); err != nil {
				log.Debug().Err(err).Msg("rejecting malformed data payload")
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "request body must be JSON"})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"message":      "data received",
			"receivedData": payload,
			"processedBy":  identity.Username,
			"timestamp":    now(),
		})
	}
}

// mustIdentity is only called behind the API auth middleware.
func mustIdentity(c *gin.Context) *oidc.Identity {
	identity, ok := oidc.GetIdentity(c)
	if !ok {
		panic("identity missing behind auth middleware")
	}
	return identity
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
