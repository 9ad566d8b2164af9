package oidc

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	group := engine.Group(h.Options.AuthBaseContextPath)
	group.GET("/login", h.loginHandler())
	group.GET("/callback", h.callbackHandler())
	group.POST("/refresh", h.refreshHandler())
	group.POST("/logout", h.logoutHandler())
	group.GET("/user", h.whoamiHandler())
}

func (h *Handler) loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := NewCsrfState()
		if err != nil {
			log.Error().Err(err).Msg("failed to generate state")
			abortWithFault(c, http.StatusInternalServerError, FaultStateGenerationFailed, "failed to generate state")
			return
		}

		err = h.SessionStore.SetCsrfState(c.Request, c.Writer, state)
		if err != nil {
			log.Error().Err(err).Msg("failed to set state cookie")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		authURL := h.Idp.BuildAuthorizationUrl(state.Value, h.Options.Provider.RedirectUri)
		c.Redirect(http.StatusFound, authURL)
	}
}

func (h *Handler) callbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if idpError := c.Query("error"); idpError != "" {
			h.SessionStore.ClearCsrfState(c.Writer)
			log.Warn().Str("idp_error", idpError).Msg("identity provider returned an error to the callback")
			h.redirectError(c, idpError)
			return
		}

		// the state is single use whatever the outcome
		savedState, ok := h.SessionStore.GetCsrfState(c.Request)
		h.SessionStore.ClearCsrfState(c.Writer)

		state := c.Query("state")
		if !ok || state == "" || !constantTimeEqual(state, savedState.Value) {
			log.Warn().Bool("cookie_present", ok).Msg("state mismatch in OIDC callback")
			h.redirectError(c, ReasonInvalidState)
			return
		}

		code := c.Query("code")
		if code == "" {
			log.Warn().Msg("no code in OIDC callback")
			h.redirectError(c, ReasonNoCode)
			return
		}

		tokenSet, err := h.Idp.ExchangeCode(c.Request.Context(), code, h.Options.Provider.RedirectUri)
		if err != nil {
			log.Error().Err(err).Msg("failed to exchange authorization code")
			h.redirectError(c, ReasonTokenExchangeFailed)
			return
		}

		// encode every cookie before writing any, a failed login leaves no partial session
		var cookies []*http.Cookie
		if tokenSet.RefreshToken != "" {
			cookie, err := h.SessionStore.EncodeRefreshToken(tokenSet.RefreshToken)
			if err != nil {
				log.Error().Err(err).Msg("failed to encode refresh token cookie")
				h.redirectError(c, ReasonSessionFailed)
				return
			}
			cookies = append(cookies, cookie)
		}
		if tokenSet.IdToken != "" {
			// the ID token only serves as the end-session hint
			cookie, err := h.SessionStore.EncodeIdToken(tokenSet.IdToken, tokenSet.ExpiresIn)
			if err != nil {
				log.Warn().Err(err).Int("id_token_bytes", len(tokenSet.IdToken)).Msg("skipping id token cookie")
			} else {
				cookies = append(cookies, cookie)
			}
		}
		for _, cookie := range cookies {
			http.SetCookie(c.Writer, cookie)
		}

		log.Debug().Msg("login completed")
		c.Redirect(http.StatusFound, appendQuery(h.Options.SuccessRedirectUrl, url.Values{
			"token":      {tokenSet.AccessToken},
			"expires_in": {strconv.FormatInt(tokenSet.ExpiresIn, 10)},
		}))
	}
}

func (h *Handler) refreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		refreshToken, ok := h.SessionStore.GetRefreshToken(c.Request)
		if !ok {
			abortUnauthorized(c, FaultNoRefreshToken, "no refresh token available")
			return
		}

		log.Debug().Str("state", string(StateRefreshing)).Msg("refreshing session")
		tokenSet, err := h.refresher.Do(c.Request.Context(), refreshToken)
		if err != nil {
			log.Warn().Err(err).Msg("failed to refresh token, clearing session")
			h.SessionStore.ClearSession(c.Writer)
			abortUnauthorized(c, FaultRefreshFailed, "failed to refresh token")
			return
		}

		if tokenSet.RefreshRotated {
			if err := h.SessionStore.SetRefreshToken(c.Request, c.Writer, tokenSet.RefreshToken); err != nil {
				log.Error().Err(err).Msg("failed to set refresh token cookie")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				return
			}
		}
		if tokenSet.IdToken != "" {
			if err := h.SessionStore.SetIdToken(c.Request, c.Writer, tokenSet.IdToken, tokenSet.ExpiresIn); err != nil {
				log.Error().Err(err).Msg("failed to set id token cookie")
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token": tokenSet.AccessToken,
			"token_type":   "Bearer",
			"expires_in":   tokenSet.ExpiresIn,
		})
	}
}

func (h *Handler) logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if refreshToken, ok := h.SessionStore.GetRefreshToken(c.Request); ok {
			if err := h.Idp.Revoke(c.Request.Context(), refreshToken); err != nil {
				log.Warn().Err(err).Msg("failed to end provider session, clearing local session anyway")
			}
		}

		response := gin.H{"message": "logged out"}
		if idToken, ok := h.SessionStore.GetIdToken(c.Request); ok && h.Options.PostLogoutRedirectUrl != "" {
			endSessionURL, err := h.Idp.BuildEndSessionUrl(idToken, h.Options.PostLogoutRedirectUrl)
			if err != nil {
				log.Warn().Err(err).Msg("failed to build end session URL")
			} else {
				response["end_session_url"] = endSessionURL
			}
		}

		h.SessionStore.ClearSession(c.Writer)
		log.Debug().Msg("user logged out")
		c.JSON(http.StatusOK, response)
	}
}

func (h *Handler) whoamiHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accessToken, ok := bearerToken(c.Request)
		if !ok {
			abortUnauthorized(c, FaultMissingToken, "no authentication token provided")
			return
		}

		claims, err := h.Idp.FetchUserinfo(c.Request.Context(), accessToken)
		if err != nil {
			log.Debug().Err(err).Msg("failed to fetch userinfo")
			abortUnauthorized(c, FaultInvalidOrExpiredToken, "invalid or expired token")
			return
		}
		c.JSON(http.StatusOK, claims)
	}
}

func (h *Handler) redirectError(c *gin.Context, reason string) {
	c.Redirect(http.StatusFound, appendQuery(h.Options.ErrorRedirectUrl, url.Values{"error": {reason}}))
}

// appendQuery adds params to a URL that may already carry a query string.
func appendQuery(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
