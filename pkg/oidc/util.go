package oidc

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/securecookie"
	"github.com/zeebo/blake3"
)

func getRandomString(n int) (string, error) {
	bytes := securecookie.GenerateRandomKey(n)
	if bytes == nil {
		return "", errors.New("failed to generate random key")
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// hashToken derives a stable key for a secret without keeping the secret itself.
func hashToken(token string) string {
	hasher := blake3.New()
	hasher.WriteString(token)
	return hex.EncodeToString(hasher.Sum(nil))
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// claimPath walks a dotted path such as "realm_access.roles" through nested claims.
func claimPath(claims map[string]any, path string) (any, bool) {
	var current any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}
