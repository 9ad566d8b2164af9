package oidc

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestSessionStore(t *testing.T) *SessionCookieStore {
	t.Helper()
	return newSessionCookieStore(&SessionOptions{
		SecretSigningKey:    "signing-key-at-least-32-bytes!!!", // 32 bytes
		SecretEncryptionKey: "01234567890123456789012345678901", // 32 bytes
		Domain:              "app.example.com",
		Secure:              true,
	})
}

// newRequestWithCookies creates a new GET request carrying cookies from a previous response
func newRequestWithCookies(resp *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest("GET", "/", nil)
	for _, cookie := range resp.Result().Cookies() {
		req.AddCookie(cookie)
	}
	return req
}

func findCookie(resp *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range resp.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCsrfStateRoundTrip(t *testing.T) {
	store := newTestSessionStore(t)
	state, err := NewCsrfState()
	if err != nil {
		t.Fatalf("NewCsrfState failed: %v", err)
	}

	w := httptest.NewRecorder()
	if err := store.SetCsrfState(httptest.NewRequest("GET", "/", nil), w, state); err != nil {
		t.Fatalf("SetCsrfState failed: %v", err)
	}

	got, ok := store.GetCsrfState(newRequestWithCookies(w))
	if !ok {
		t.Fatal("expected csrf state to be readable")
	}
	if got.Value != state.Value {
		t.Errorf("Value: got %q, want %q", got.Value, state.Value)
	}
	if got.IssuedAt.Unix() != state.IssuedAt.Unix() {
		t.Errorf("IssuedAt: got %v, want %v", got.IssuedAt, state.IssuedAt)
	}
}

func TestCsrfStateCookieFlags(t *testing.T) {
	store := newTestSessionStore(t)
	state, _ := NewCsrfState()
	w := httptest.NewRecorder()
	if err := store.SetCsrfState(httptest.NewRequest("GET", "/", nil), w, state); err != nil {
		t.Fatalf("SetCsrfState failed: %v", err)
	}

	cookie := findCookie(w, CsrfStateCookie)
	if cookie == nil {
		t.Fatal("expected csrf_state cookie")
	}
	if !cookie.HttpOnly {
		t.Error("expected HttpOnly")
	}
	if !cookie.Secure {
		t.Error("expected Secure")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite: got %v, want Lax", cookie.SameSite)
	}
	if cookie.MaxAge != 600 {
		t.Errorf("MaxAge: got %d, want 600", cookie.MaxAge)
	}
	if cookie.Path != "/" {
		t.Errorf("Path: got %q, want %q", cookie.Path, "/")
	}
	if cookie.Domain != "app.example.com" {
		t.Errorf("Domain: got %q, want %q", cookie.Domain, "app.example.com")
	}
	if cookie.Value == state.Value {
		t.Error("cookie value must not carry the raw state")
	}
}

func TestExpiredCsrfStateReadsAsAbsent(t *testing.T) {
	store := newTestSessionStore(t)
	state := &CsrfState{
		Value:    "stale-state",
		IssuedAt: time.Now().Add(-CsrfStateTTL - time.Minute),
		TTL:      CsrfStateTTL,
	}

	w := httptest.NewRecorder()
	if err := store.SetCsrfState(httptest.NewRequest("GET", "/", nil), w, state); err != nil {
		t.Fatalf("SetCsrfState failed: %v", err)
	}

	if _, ok := store.GetCsrfState(newRequestWithCookies(w)); ok {
		t.Error("expected expired csrf state to read as absent")
	}
}

func TestRefreshTokenCookieFlags(t *testing.T) {
	store := newTestSessionStore(t)
	w := httptest.NewRecorder()
	if err := store.SetRefreshToken(httptest.NewRequest("GET", "/", nil), w, "refresh-1"); err != nil {
		t.Fatalf("SetRefreshToken failed: %v", err)
	}

	cookie := findCookie(w, RefreshTokenCookie)
	if cookie == nil {
		t.Fatal("expected refresh_token cookie")
	}
	if !cookie.HttpOnly || !cookie.Secure {
		t.Errorf("expected HttpOnly and Secure, got HttpOnly=%v Secure=%v", cookie.HttpOnly, cookie.Secure)
	}
	if cookie.SameSite != http.SameSiteStrictMode {
		t.Errorf("SameSite: got %v, want Strict", cookie.SameSite)
	}
	if cookie.MaxAge != RefreshTokenMaxAge {
		t.Errorf("MaxAge: got %d, want %d", cookie.MaxAge, RefreshTokenMaxAge)
	}

	got, ok := store.GetRefreshToken(newRequestWithCookies(w))
	if !ok || got != "refresh-1" {
		t.Errorf("GetRefreshToken: got (%q, %v), want (%q, true)", got, ok, "refresh-1")
	}
}

func TestIdTokenCookieMaxAge(t *testing.T) {
	store := newTestSessionStore(t)
	w := httptest.NewRecorder()
	if err := store.SetIdToken(httptest.NewRequest("GET", "/", nil), w, "id-token-1", 300); err != nil {
		t.Fatalf("SetIdToken failed: %v", err)
	}

	cookie := findCookie(w, IdTokenCookie)
	if cookie == nil {
		t.Fatal("expected id_token cookie")
	}
	if cookie.MaxAge != 300 {
		t.Errorf("MaxAge: got %d, want 300", cookie.MaxAge)
	}
	if cookie.SameSite != http.SameSiteStrictMode {
		t.Errorf("SameSite: got %v, want Strict", cookie.SameSite)
	}

	got, ok := store.GetIdToken(newRequestWithCookies(w))
	if !ok || got != "id-token-1" {
		t.Errorf("GetIdToken: got (%q, %v), want (%q, true)", got, ok, "id-token-1")
	}
}

func TestIdTokenCookieWithoutLifetime(t *testing.T) {
	store := newTestSessionStore(t)
	for _, maxAge := range []int64{0, -5} {
		cookie, err := store.EncodeIdToken("id-token-1", maxAge)
		if err != nil {
			t.Fatalf("EncodeIdToken failed: %v", err)
		}
		if cookie.MaxAge != defaultIdTokenMaxAge {
			t.Errorf("maxAge %d: got MaxAge %d, want %d", maxAge, cookie.MaxAge, defaultIdTokenMaxAge)
		}
	}
}

func TestOversizedTokenIsNotWritten(t *testing.T) {
	store := newTestSessionStore(t)
	token := strings.Repeat("a", 3000)

	if _, err := store.EncodeIdToken(token, 300); err == nil {
		t.Error("expected an error encoding an oversized id token")
	}

	w := httptest.NewRecorder()
	if err := store.SetIdToken(httptest.NewRequest("GET", "/", nil), w, token, 300); err == nil {
		t.Error("expected SetIdToken to fail for an oversized id token")
	}
	if findCookie(w, IdTokenCookie) != nil {
		t.Error("expected no cookie written after a failed encode")
	}
}

func TestTamperedCookieReadsAsAbsent(t *testing.T) {
	store := newTestSessionStore(t)
	w := httptest.NewRecorder()
	if err := store.SetRefreshToken(httptest.NewRequest("GET", "/", nil), w, "refresh-1"); err != nil {
		t.Fatalf("SetRefreshToken failed: %v", err)
	}
	cookie := findCookie(w, RefreshTokenCookie)

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: cookie.Value[:len(cookie.Value)-4] + "AAAA"})
	if _, ok := store.GetRefreshToken(req); ok {
		t.Error("expected tampered cookie to read as absent")
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: "plain-refresh-token"})
	if _, ok := store.GetRefreshToken(req); ok {
		t.Error("expected unsigned cookie to read as absent")
	}
}

func TestCookieFromOtherKeysReadsAsAbsent(t *testing.T) {
	store := newTestSessionStore(t)
	other := newSessionCookieStore(&SessionOptions{
		SecretSigningKey:    "another-signing-key-32-bytes!!!!",
		SecretEncryptionKey: "abcdefghijklmnopqrstuvwxyz012345",
	})

	w := httptest.NewRecorder()
	if err := other.SetRefreshToken(httptest.NewRequest("GET", "/", nil), w, "refresh-1"); err != nil {
		t.Fatalf("SetRefreshToken failed: %v", err)
	}
	if _, ok := store.GetRefreshToken(newRequestWithCookies(w)); ok {
		t.Error("expected cookie signed with other keys to read as absent")
	}
}

func TestCookieNameBinding(t *testing.T) {
	store := newTestSessionStore(t)
	w := httptest.NewRecorder()
	if err := store.SetIdToken(httptest.NewRequest("GET", "/", nil), w, "id-token-1", 300); err != nil {
		t.Fatalf("SetIdToken failed: %v", err)
	}

	// an id_token value replayed under the refresh_token name must not decode
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: findCookie(w, IdTokenCookie).Value})
	if _, ok := store.GetRefreshToken(req); ok {
		t.Error("expected cookie replayed under another name to read as absent")
	}
}

func TestClearSession(t *testing.T) {
	store := newTestSessionStore(t)
	w := httptest.NewRecorder()
	store.ClearSession(w)

	for _, name := range []string{RefreshTokenCookie, IdTokenCookie} {
		cookie := findCookie(w, name)
		if cookie == nil {
			t.Fatalf("expected %s to be cleared", name)
		}
		if cookie.MaxAge >= 0 {
			t.Errorf("%s MaxAge: got %d, want negative", name, cookie.MaxAge)
		}
		if cookie.Path != "/" {
			t.Errorf("%s Path: got %q, want %q", name, cookie.Path, "/")
		}
	}
	if findCookie(w, CsrfStateCookie) != nil {
		t.Error("ClearSession must not touch csrf_state")
	}
}

func TestClearCsrfState(t *testing.T) {
	store := newTestSessionStore(t)
	w := httptest.NewRecorder()
	store.ClearCsrfState(w)

	cookie := findCookie(w, CsrfStateCookie)
	if cookie == nil {
		t.Fatal("expected csrf_state to be cleared")
	}
	if cookie.MaxAge >= 0 {
		t.Errorf("MaxAge: got %d, want negative", cookie.MaxAge)
	}
}

func TestSessionState(t *testing.T) {
	store := newTestSessionStore(t)

	if got := store.SessionState(httptest.NewRequest("GET", "/", nil)); got != StateAnonymous {
		t.Errorf("no cookies: got %q, want %q", got, StateAnonymous)
	}

	state, _ := NewCsrfState()
	w := httptest.NewRecorder()
	store.SetCsrfState(httptest.NewRequest("GET", "/", nil), w, state)
	if got := store.SessionState(newRequestWithCookies(w)); got != StatePendingCallback {
		t.Errorf("csrf cookie: got %q, want %q", got, StatePendingCallback)
	}

	w = httptest.NewRecorder()
	store.SetRefreshToken(httptest.NewRequest("GET", "/", nil), w, "refresh-1")
	if got := store.SessionState(newRequestWithCookies(w)); got != StateAuthenticated {
		t.Errorf("refresh cookie: got %q, want %q", got, StateAuthenticated)
	}
}
