package util

import "github.com/mxcd/go-config/config"

func InitConfig() error {
	err := config.LoadConfig([]config.Value{
		config.String("DEPLOYMENT_IMAGE_TAG").NotEmpty().Default("development"),

		config.String("LOG_LEVEL").NotEmpty().Default("info"),

		config.Int("PORT").Default(4000),
		config.String("API_BASE_URL").Default("/api"),
		config.String("METRICS_ENDPOINT").Default("/metrics"),
		config.StringArray("CORS_ALLOWED_ORIGINS").Default([]string{"http://localhost:3000"}),

		config.Bool("DEV").Default(false),

		config.String("SESSION_SIGNING_KEY").NotEmpty().Sensitive(),
		config.String("SESSION_ENCRYPTION_KEY").NotEmpty().Sensitive(), // 16, 24 or 32 bytes
		config.String("SESSION_DOMAIN").Default(""),
		config.Bool("SESSION_SECURE").Default(true),
		config.Int("REFRESH_GRACE_SECONDS").Default(10),

		config.String("OIDC_ENDPOINTS_BASE_CONTEXT_PATH").Default("/auth"),
		config.String("OIDC_ISSUER_URL").NotEmpty().Default("http://localhost:8080/realms/myapp-realm"),
		config.String("OIDC_CLIENT_ID").NotEmpty().Default("myapp-client"),
		config.String("OIDC_CLIENT_SECRET").NotEmpty().Sensitive(),
		config.String("OIDC_REDIRECT_URI").NotEmpty().Default("http://localhost:4000/auth/callback"),
		config.Int("OIDC_TIMEOUT_SECONDS").Default(10),
		config.String("OIDC_ROLES_CLAIM").Default("realm_access.roles"),
		config.String("OIDC_INTROSPECTION_URL").Default(""),
		config.String("OIDC_END_SESSION_URL").Default(""),

		config.String("AUTH_SUCCESS_REDIRECT_URL").NotEmpty().Default("http://localhost:3000/auth/success"),
		config.String("AUTH_ERROR_REDIRECT_URL").NotEmpty().Default("http://localhost:3000/auth/error"),
		config.String("POST_LOGOUT_REDIRECT_URL").Default(""),
	})
	return err
}
