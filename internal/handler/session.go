package handler

import (
	"encoding/gob"
	"net/http"

	"github.com/gorilla/sessions"
)

const sessionName = "catalog_session"

// Flash categories.
const (
	FlashPositive = "positive"
	FlashNegative = "negative"
	FlashInfo     = "info"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Category string
	Message  string
}

func init() {
	// Flashes are stored in the cookie via encoding/gob.
	gob.Register(Flash{})
}

// Sessions keeps short-lived per-browser state (flash messages and the
// OAuth state nonce) in a signed cookie. Identity lives in its own JWT
// cookie and is not stored here.
type Sessions struct {
	store *sessions.CookieStore
}

func NewSessions(key []byte, secure bool) *Sessions {
	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Sessions{store: store}
}

// session returns the request's session, cached for the rest of the
// request. A cookie that no longer verifies (for example after a key
// rotation) yields a fresh, empty session rather than an error.
func (s *Sessions) session(r *http.Request) *sessions.Session {
	sess, _ := s.store.Get(r, sessionName)
	return sess
}

// AddFlash queues a message for the next page. It must run before the
// response is written because it sets a cookie.
func (s *Sessions) AddFlash(w http.ResponseWriter, r *http.Request, category, message string) {
	sess := s.session(r)
	sess.AddFlash(Flash{Category: category, Message: message})
	_ = sess.Save(r, w)
}

// Flashes drains the queued messages.
func (s *Sessions) Flashes(w http.ResponseWriter, r *http.Request) []Flash {
	sess := s.session(r)
	raw := sess.Flashes()
	if len(raw) == 0 {
		return nil
	}
	_ = sess.Save(r, w)

	flashes := make([]Flash, 0, len(raw))
	for _, f := range raw {
		if flash, ok := f.(Flash); ok {
			flashes = append(flashes, flash)
		}
	}
	return flashes
}

const oauthStateKey = "oauth_state"

func (s *Sessions) SetOAuthState(w http.ResponseWriter, r *http.Request, state string) error {
	sess := s.session(r)
	sess.Values[oauthStateKey] = state
	return sess.Save(r, w)
}

// PopOAuthState returns the stored state and removes it; a state is good for
// one callback only.
func (s *Sessions) PopOAuthState(w http.ResponseWriter, r *http.Request) string {
	sess := s.session(r)
	state, _ := sess.Values[oauthStateKey].(string)
	if state != "" {
		delete(sess.Values, oauthStateKey)
		_ = sess.Save(r, w)
	}
	return state
}
