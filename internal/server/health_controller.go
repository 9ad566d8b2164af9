package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerHealthRoute() error {
	s.Engine.GET(fmt.Sprintf("%s/health", s.Options.ApiBaseUrl), s.getHealthHandler())
	return nil
}

func (s *Server) getHealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(s.startedAt).Seconds(),
		})
	}
}

func (s *Server) registerMetricsRoute() error {
	s.Engine.GET(s.Options.MetricsEndpoint, gin.WrapH(promhttp.Handler()))
	return nil
}
