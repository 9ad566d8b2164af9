package oidc

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	idpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_gateway_idp_requests_total",
		Help: "Total number of outbound requests to the identity provider",
	}, []string{"operation", "outcome"})

	idpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oidc_gateway_idp_request_duration_seconds",
		Help:    "Latency of outbound requests to the identity provider",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	refreshSharedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_gateway_refresh_shared_total",
		Help: "Refresh requests answered without their own call to the identity provider",
	}, []string{"source"})

	authFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_gateway_auth_faults_total",
		Help: "Authentication and authorization faults by code",
	}, []string{"code"})
)

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	var idpErr *IdpError
	if errors.As(err, &idpErr) && !idpErr.Unavailable {
		return "rejected"
	}
	return "unavailable"
}
