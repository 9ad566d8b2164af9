package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mxcd/go-config/config"
	"github.com/mxcd/oidc-gateway/internal/server"
	"github.com/mxcd/oidc-gateway/internal/util"
	"github.com/mxcd/oidc-gateway/pkg/oidc"
)

func main() {
	if err := util.InitConfig(); err != nil {
		log.Panic().Err(err).Msg("error initializing config")
	}
	config.Print()

	if err := util.InitLogger(); err != nil {
		log.Panic().Err(err).Msg("error initializing logger")
	}

	oidcHandler := initOidcHandler()

	server := initServer(&InitServerOptions{
		OidcHandler: oidcHandler,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		errs <- server.Run()
	}()

	select {
	case err := <-errs:
		if err != nil {
			log.Panic().Err(err).Msg("error running server")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			log.Error().Err(err).Msg("error shutting down server")
		}
	}
}

type InitServerOptions struct {
	OidcHandler *oidc.Handler
}

func initServer(options *InitServerOptions) *server.Server {
	server, err := server.NewServer(&server.ServerOptions{
		ServiceVersion:     config.Get().String("DEPLOYMENT_IMAGE_TAG"),
		DevMode:            config.Get().Bool("DEV"),
		Port:               config.Get().Int("PORT"),
		ApiBaseUrl:         config.Get().String("API_BASE_URL"),
		MetricsEndpoint:    config.Get().String("METRICS_ENDPOINT"),
		CorsAllowedOrigins: config.Get().StringArray("CORS_ALLOWED_ORIGINS"),

		OidcHandler: options.OidcHandler,
	})
	if err != nil {
		log.Panic().Err(err).Msg("error initializing server")
	}

	err = server.RegisterRoutes()
	if err != nil {
		log.Panic().Err(err).Msg("error registering routes")
	}

	return server
}

func initOidcHandler() *oidc.Handler {
	// zero seconds switches the grace window off; Options treats zero as "use default"
	refreshGrace := time.Duration(config.Get().Int("REFRESH_GRACE_SECONDS")) * time.Second
	if refreshGrace == 0 {
		refreshGrace = -1
	}

	oidcHandler, err := oidc.NewHandler(&oidc.Options{
		Provider: &oidc.ProviderOptions{
			Issuer:           config.Get().String("OIDC_ISSUER_URL"),
			ClientId:         config.Get().String("OIDC_CLIENT_ID"),
			ClientSecret:     config.Get().String("OIDC_CLIENT_SECRET"),
			RedirectUri:      config.Get().String("OIDC_REDIRECT_URI"),
			IntrospectionUrl: config.Get().String("OIDC_INTROSPECTION_URL"),
			EndSessionUrl:    config.Get().String("OIDC_END_SESSION_URL"),
			Timeout:          time.Duration(config.Get().Int("OIDC_TIMEOUT_SECONDS")) * time.Second,
		},
		Session: &oidc.SessionOptions{
			SecretSigningKey:    config.Get().String("SESSION_SIGNING_KEY"),
			SecretEncryptionKey: config.Get().String("SESSION_ENCRYPTION_KEY"),
			Domain:              config.Get().String("SESSION_DOMAIN"),
			Secure:              config.Get().Bool("SESSION_SECURE"),
		},
		AuthBaseContextPath:   config.Get().String("OIDC_ENDPOINTS_BASE_CONTEXT_PATH"),
		SuccessRedirectUrl:    config.Get().String("AUTH_SUCCESS_REDIRECT_URL"),
		ErrorRedirectUrl:      config.Get().String("AUTH_ERROR_REDIRECT_URL"),
		PostLogoutRedirectUrl: config.Get().String("POST_LOGOUT_REDIRECT_URL"),
		RolesClaim:            config.Get().String("OIDC_ROLES_CLAIM"),
		RefreshGracePeriod:    refreshGrace,
	})
	if err != nil {
		log.Panic().Err(err).Msg("error initializing OIDC handler")
	}
	return oidcHandler
}
