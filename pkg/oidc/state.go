package oidc

import "time"

// CsrfStateTTL bounds how long a login may stay pending.
const CsrfStateTTL = 10 * time.Minute

const csrfStateBytes = 32

// CsrfState is the anti-forgery value bound to a pending login.
type CsrfState struct {
	Value    string
	IssuedAt time.Time
	TTL      time.Duration
}

func NewCsrfState() (*CsrfState, error) {
	value, err := getRandomString(csrfStateBytes)
	if err != nil {
		return nil, err
	}
	return &CsrfState{
		Value:    value,
		IssuedAt: time.Now(),
		TTL:      CsrfStateTTL,
	}, nil
}

func (s *CsrfState) ExpiresAt() time.Time {
	return s.IssuedAt.Add(s.TTL)
}

func (s *CsrfState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}
