package oidc

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Fault codes returned in JSON error bodies.
const (
	FaultMissingToken            = "MissingToken"
	FaultInvalidOrExpiredToken   = "InvalidOrExpiredToken"
	FaultVerificationUnavailable = "VerificationUnavailable"
	FaultInsufficientRole        = "InsufficientRole"
	FaultUnauthenticated         = "Unauthenticated"
	FaultNoRefreshToken          = "NO_REFRESH_TOKEN"
	FaultRefreshFailed           = "REFRESH_FAILED"
	FaultStateGenerationFailed   = "STATE_GENERATION_FAILED"
)

// Reason codes appended to the error redirect by the callback.
const (
	ReasonInvalidState        = "invalid_state"
	ReasonNoCode              = "no_code"
	ReasonTokenExchangeFailed = "token_exchange_failed"
	ReasonSessionFailed       = "session_failed"
)

func abortWithFault(c *gin.Context, status int, code string, message string) {
	authFaultsTotal.WithLabelValues(code).Inc()
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": code})
}

func abortUnauthorized(c *gin.Context, code string, message string) {
	abortWithFault(c, http.StatusUnauthorized, code, message)
}
