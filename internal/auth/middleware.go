package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sakif/catalog/internal/model"
)

// SessionCookie is the name of the HttpOnly cookie carrying the session token.
const SessionCookie = "token"

// contextKey is an unexported type used for context keys in this package.
//
// Using a package-private type prevents collisions: only THIS package can
// create a key of type contextKey, so only this package can read or write the
// identity stored in the context.
type contextKey string

const identityKey contextKey = "identity"

// UserLoader resolves the user a session token points at.
type UserLoader interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// Authenticator checks a username/password pair. Implementations must return
// the same error for an unknown user and a wrong password.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*model.User, error)
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity Identify (or BasicAuth) stored on
// the request. Requests that never passed through either are anonymous.
func IdentityFromContext(ctx context.Context) model.Identity {
	if id, ok := ctx.Value(identityKey).(model.Identity); ok {
		return id
	}
	return model.Anonymous()
}

// Identify resolves the current identity on every browser request.
//
// It never blocks: a missing, expired or tampered cookie, one pointing at a
// user that no longer exists, or one issued before the user's last logout
// simply yields Anonymous. Gates further down the
// chain (RequireLogin, RequireAdmin) decide what anonymous visitors may see.
func Identify(tokens *TokenService, users UserLoader, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := model.Anonymous()

			if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
				if sess, err := tokens.Parse(cookie.Value); err == nil {
					user, err := users.GetUser(r.Context(), sess.UserID)
					switch {
					case err != nil:
						logger.Debug("session points at unknown user",
							slog.String("userID", sess.UserID),
							slog.String("error", err.Error()),
						)
					case user.TokenVersion != sess.Version:
						logger.Debug("session was revoked", slog.String("userID", sess.UserID))
					default:
						id = model.Authenticated(user)
					}
				}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireLogin sends anonymous visitors to the login page with a 303 and a
// "next" parameter pointing back at the page they asked for. Nothing from the
// protected handler is rendered.
func RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFromContext(r.Context()).IsAuthenticated() {
			http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin refuses every non-admin identity, anonymous included, by
// handing the request to deny. The wrapped handler never runs for them.
func RequireAdmin(deny http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IdentityFromContext(r.Context()).IsAdmin() {
				deny.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BasicAuth authenticates every request with HTTP Basic credentials. There is
// no session: each request stands alone. Failures get a 401 before the
// wrapped handler touches any data.
func BasicAuth(authn Authenticator, realm string) func(http.Handler) http.Handler {
	challenge := `Basic realm="` + realm + `", charset="UTF-8"`

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				unauthorized(w, challenge)
				return
			}

			user, err := authn.Authenticate(r.Context(), username, password)
			if err != nil {
				unauthorized(w, challenge)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), model.Authenticated(user))))
		})
	}
}

func unauthorized(w http.ResponseWriter, challenge string) {
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid credentials required"}`))
}

// SetSessionCookie stores a freshly issued session token.
//
// HttpOnly keeps the token away from JavaScript. SameSite=Lax sends it on
// top-level navigations (including the OAuth redirect back to us) but not on
// cross-site POSTs.
func SetSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie tells the browser to drop the session token.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
