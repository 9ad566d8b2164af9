package oidc

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"
)

const (
	CsrfStateCookie    = "csrf_state"
	RefreshTokenCookie = "refresh_token"
	IdTokenCookie      = "id_token"

	RefreshTokenMaxAge = 30 * 24 * 60 * 60
	csrfStateMaxAge    = int(CsrfStateTTL / time.Second)

	// used when the provider reports no lifetime for the token set
	defaultIdTokenMaxAge = 5 * 60

	cookieValueKey    = "v"
	cookieIssuedAtKey = "iat"
)

// SessionCookieStore owns the flag policy of the three session cookies.
// Values are signed and encrypted; tampered or undecodable cookies read as absent.
type SessionCookieStore struct {
	Options *SessionOptions
	store   *sessions.CookieStore
}

func newSessionCookieStore(options *SessionOptions) *SessionCookieStore {
	store := sessions.NewCookieStore([]byte(options.SecretSigningKey), []byte(options.SecretEncryptionKey))
	// codec timestamps must outlive the longest cookie
	store.MaxAge(RefreshTokenMaxAge)

	return &SessionCookieStore{
		Options: options,
		store:   store,
	}
}

func (s *SessionCookieStore) cookieOptions(maxAge int, sameSite http.SameSite) *sessions.Options {
	return &sessions.Options{
		Path:     "/",
		Domain:   s.Options.Domain,
		MaxAge:   maxAge,
		Secure:   s.Options.Secure,
		HttpOnly: true,
		SameSite: sameSite,
	}
}

func (s *SessionCookieStore) csrfStateOptions() *sessions.Options {
	return s.cookieOptions(csrfStateMaxAge, http.SameSiteLaxMode)
}

func (s *SessionCookieStore) refreshTokenOptions() *sessions.Options {
	return s.cookieOptions(RefreshTokenMaxAge, http.SameSiteStrictMode)
}

func (s *SessionCookieStore) idTokenOptions(maxAge int) *sessions.Options {
	return s.cookieOptions(maxAge, http.SameSiteStrictMode)
}

// encode signs and encrypts values into a cookie without touching the response.
// Values too large for a browser cookie fail here.
func (s *SessionCookieStore) encode(name string, values map[interface{}]interface{}, options *sessions.Options) (*http.Cookie, error) {
	encoded, err := securecookie.EncodeMulti(name, values, s.store.Codecs...)
	if err != nil {
		return nil, err
	}
	return sessions.NewCookie(name, encoded, options), nil
}

func (s *SessionCookieStore) write(w http.ResponseWriter, name string, values map[interface{}]interface{}, options *sessions.Options) error {
	cookie, err := s.encode(name, values, options)
	if err != nil {
		return err
	}
	http.SetCookie(w, cookie)
	return nil
}

func (s *SessionCookieStore) read(r *http.Request, name string) (map[interface{}]interface{}, bool) {
	if _, err := r.Cookie(name); err != nil {
		return nil, false
	}
	session, err := s.store.New(r, name)
	if err != nil {
		log.Debug().Err(err).Str("cookie", name).Msg("discarding undecodable cookie")
		return nil, false
	}
	if session.IsNew {
		return nil, false
	}
	return session.Values, true
}

func (s *SessionCookieStore) readString(r *http.Request, name string) (string, bool) {
	values, ok := s.read(r, name)
	if !ok {
		return "", false
	}
	value, ok := values[cookieValueKey].(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func (s *SessionCookieStore) clear(w http.ResponseWriter, name string, options *sessions.Options) {
	expired := *options
	expired.MaxAge = -1
	http.SetCookie(w, sessions.NewCookie(name, "", &expired))
}

func (s *SessionCookieStore) SetCsrfState(r *http.Request, w http.ResponseWriter, state *CsrfState) error {
	return s.write(w, CsrfStateCookie, map[interface{}]interface{}{
		cookieValueKey:    state.Value,
		cookieIssuedAtKey: state.IssuedAt.Unix(),
	}, s.csrfStateOptions())
}

// GetCsrfState returns the pending login state, treating expired state as absent.
func (s *SessionCookieStore) GetCsrfState(r *http.Request) (*CsrfState, bool) {
	values, ok := s.read(r, CsrfStateCookie)
	if !ok {
		return nil, false
	}
	value, ok := values[cookieValueKey].(string)
	if !ok || value == "" {
		return nil, false
	}
	issuedAt, ok := values[cookieIssuedAtKey].(int64)
	if !ok {
		return nil, false
	}

	state := &CsrfState{
		Value:    value,
		IssuedAt: time.Unix(issuedAt, 0),
		TTL:      CsrfStateTTL,
	}
	if state.Expired(time.Now()) {
		log.Debug().Msg("csrf state expired")
		return nil, false
	}
	return state, true
}

func (s *SessionCookieStore) ClearCsrfState(w http.ResponseWriter) {
	s.clear(w, CsrfStateCookie, s.csrfStateOptions())
}

func (s *SessionCookieStore) SetRefreshToken(r *http.Request, w http.ResponseWriter, token string) error {
	cookie, err := s.EncodeRefreshToken(token)
	if err != nil {
		return err
	}
	http.SetCookie(w, cookie)
	return nil
}

// EncodeRefreshToken builds the refresh_token cookie without writing it.
func (s *SessionCookieStore) EncodeRefreshToken(token string) (*http.Cookie, error) {
	return s.encode(RefreshTokenCookie, map[interface{}]interface{}{
		cookieValueKey: token,
	}, s.refreshTokenOptions())
}

func (s *SessionCookieStore) GetRefreshToken(r *http.Request) (string, bool) {
	return s.readString(r, RefreshTokenCookie)
}

// SetIdToken stores the ID token for maxAge seconds, the lifetime the provider
// reported for the token set.
func (s *SessionCookieStore) SetIdToken(r *http.Request, w http.ResponseWriter, token string, maxAge int64) error {
	cookie, err := s.EncodeIdToken(token, maxAge)
	if err != nil {
		return err
	}
	http.SetCookie(w, cookie)
	return nil
}

// EncodeIdToken builds the id_token cookie without writing it. A missing
// lifetime falls back to defaultIdTokenMaxAge so the cookie never outlives the
// browser session unbounded.
func (s *SessionCookieStore) EncodeIdToken(token string, maxAge int64) (*http.Cookie, error) {
	if maxAge <= 0 {
		maxAge = defaultIdTokenMaxAge
	}
	return s.encode(IdTokenCookie, map[interface{}]interface{}{
		cookieValueKey: token,
	}, s.idTokenOptions(int(maxAge)))
}

func (s *SessionCookieStore) GetIdToken(r *http.Request) (string, bool) {
	return s.readString(r, IdTokenCookie)
}

// ClearSession expires the refresh and ID token cookies. Clearing absent
// cookies is harmless.
func (s *SessionCookieStore) ClearSession(w http.ResponseWriter) {
	s.clear(w, RefreshTokenCookie, s.refreshTokenOptions())
	s.clear(w, IdTokenCookie, s.idTokenOptions(0))
}

// SessionState reports the protocol state a request's cookies encode.
func (s *SessionCookieStore) SessionState(r *http.Request) SessionState {
	if _, ok := s.GetRefreshToken(r); ok {
		return StateAuthenticated
	}
	if _, ok := s.GetCsrfState(r); ok {
		return StatePendingCallback
	}
	return StateAnonymous
}

type SessionState string

const (
	StateAnonymous       SessionState = "anonymous"
	StatePendingCallback SessionState = "pending_callback"
	StateAuthenticated   SessionState = "authenticated"
	StateRefreshing      SessionState = "refreshing"
)
