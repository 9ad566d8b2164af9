package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mxcd/oidc-gateway/pkg/oidc"
	"github.com/rs/zerolog/log"
)

const requestIdHeader = "X-Request-ID"

type ServerOptions struct {
	ServiceVersion     string
	DevMode            bool
	Port               int
	ApiBaseUrl         string
	MetricsEndpoint    string
	CorsAllowedOrigins []string
	OidcHandler        *oidc.Handler
}

type Server struct {
	Options    *ServerOptions
	Engine     *gin.Engine
	HttpServer *http.Server
	startedAt  time.Time
}

func NewServer(options *ServerOptions) (*Server, error) {
	if options == nil {
		return nil, fmt.Errorf("server options cannot be nil")
	}
	if options.OidcHandler == nil {
		return nil, fmt.Errorf("server options must carry an OIDC handler")
	}
	if options.ApiBaseUrl == "" {
		options.ApiBaseUrl = "/api"
	}
	if options.MetricsEndpoint == "" {
		options.MetricsEndpoint = "/metrics"
	}

	server := &Server{
		Options:   options,
		startedAt: time.Now(),
	}

	if !server.Options.DevMode {
		log.Info().Msg("Running Gin in production mode")
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	server.Engine = engine
	server.Engine.Use(gin.Recovery(), server.zeroLogger())
	server.HttpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", options.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if server.Options.DevMode && len(options.CorsAllowedOrigins) > 0 {
		log.Info().Msg("Running Gin in development mode")
		log.Warn().Strs("origins", options.CorsAllowedOrigins).Msg("CORS is enabled")
		config := cors.DefaultConfig()
		config.AllowHeaders = []string{"Authorization", "Content-Type", "X-Requested-With", "Cache-Control"}
		config.AllowOrigins = options.CorsAllowedOrigins
		config.AllowCredentials = true
		server.Engine.Use(cors.New(config))
	}

	return server, nil
}

func (s *Server) RegisterRoutes() error {
	s.registerIndexRoute()
	s.registerHealthRoute()
	s.registerMetricsRoute()
	s.Options.OidcHandler.RegisterRoutes(s.Engine)
	s.registerApiRoutes()
	s.registerNotFoundHandler()

	return nil
}

func (s *Server) Run() error {
	log.Info().Str("addr", s.HttpServer.Addr).Str("version", s.Options.ServiceVersion).Msg("starting server")
	if err := s.HttpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.HttpServer.Shutdown(ctx)
}

func (s *Server) registerNotFoundHandler() {
	s.Engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "endpoint not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})
}

func (s *Server) zeroLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		requestId := c.GetHeader(requestIdHeader)
		if requestId == "" {
			requestId = uuid.New().String()
		}
		c.Header(requestIdHeader, requestId)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)

		logger := log.Trace()
		if status >= http.StatusInternalServerError {
			logger = log.Error()
		}

		logger.
			Str("request_id", requestId).
			Str("method", method).
			Str("path", path).
			Int("status", status).
			Str("client_ip", c.ClientIP()).
			Str("latency", latency.String()).
			Msg("http_request")
	}
}
