package oidc

import (
	"errors"
	"fmt"
)

type IdpOperation string

const (
	OpExchange   IdpOperation = "exchange"
	OpRefresh    IdpOperation = "refresh"
	OpIntrospect IdpOperation = "introspect"
	OpUserinfo   IdpOperation = "userinfo"
	OpRevoke     IdpOperation = "revoke"
)

var (
	// ErrIdpExchange matches any failed authorization code exchange.
	ErrIdpExchange = errors.New("idp code exchange failed")
	// ErrIdpRefresh matches any failed refresh grant.
	ErrIdpRefresh = errors.New("idp refresh failed")
	// ErrIdpUnavailable matches network errors, timeouts and 5xx responses.
	ErrIdpUnavailable = errors.New("idp unavailable")
	// ErrIdpRejected matches 4xx responses and malformed payloads.
	ErrIdpRejected = errors.New("idp rejected request")
)

// IdpError is returned by every IdpClient call. It never carries client
// credentials; the wrapped cause may carry the provider's response body.
type IdpError struct {
	Op          IdpOperation
	Unavailable bool
	StatusCode  int
	// OAuth2 error code reported by the provider, e.g. "invalid_grant"
	ErrorCode string
	err       error
}

func (e *IdpError) Error() string {
	kind := "rejected"
	if e.Unavailable {
		kind = "unavailable"
	}
	msg := fmt.Sprintf("idp %s %s", e.Op, kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.ErrorCode != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.ErrorCode)
	}
	return msg
}

func (e *IdpError) Unwrap() error {
	return e.err
}

func (e *IdpError) Is(target error) bool {
	switch target {
	case ErrIdpExchange:
		return e.Op == OpExchange
	case ErrIdpRefresh:
		return e.Op == OpRefresh
	case ErrIdpUnavailable:
		return e.Unavailable
	case ErrIdpRejected:
		return !e.Unavailable
	}
	return false
}

func newUnavailableError(op IdpOperation, statusCode int, err error) *IdpError {
	return &IdpError{Op: op, Unavailable: true, StatusCode: statusCode, err: err}
}

func newRejectedError(op IdpOperation, statusCode int, errorCode string, err error) *IdpError {
	return &IdpError{Op: op, StatusCode: statusCode, ErrorCode: errorCode, err: err}
}

// classifyStatus maps a provider HTTP status onto an IdpError.
func classifyStatus(op IdpOperation, statusCode int, errorCode string, err error) *IdpError {
	if statusCode >= 500 || statusCode == 0 {
		return newUnavailableError(op, statusCode, err)
	}
	return newRejectedError(op, statusCode, errorCode, err)
}
