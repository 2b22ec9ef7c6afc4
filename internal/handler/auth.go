package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rs/xid"
	"golang.org/x/oauth2"

	"github.com/sakif/catalog/internal/apperror"
	"github.com/sakif/catalog/internal/auth"
	"github.com/sakif/catalog/internal/service"
)

// AuthHandler manages local accounts, the session cookie and the OAuth
// login flow.
//
// HANDLER RESPONSIBILITIES:
//   - Register / Login     → local accounts (form posts)
//   - Logout               → revoke the sessions, drop the cookie
//   - OAuthLogin           → send the browser to the provider
//   - OAuthCallback        → finish the provider flow and sign in
type AuthHandler struct {
	auth     *service.AuthService
	tokens   *auth.TokenService
	provider auth.Provider // nil when third-party login is not configured
	render   *Renderer
	sessions *Sessions
	secure   bool
	logger   *slog.Logger
}

func NewAuthHandler(
	authService *service.AuthService,
	tokens *auth.TokenService,
	provider auth.Provider,
	render *Renderer,
	sessions *Sessions,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:     authService,
		tokens:   tokens,
		provider: provider,
		render:   render,
		sessions: sessions,
		secure:   secureCookies,
		logger:   logger,
	}
}

// alreadyLoggedIn redirects signed-in users away from the register and
// login pages. It reports whether it did so.
func (h *AuthHandler) alreadyLoggedIn(w http.ResponseWriter, r *http.Request) bool {
	if !auth.IdentityFromContext(r.Context()).IsAuthenticated() {
		return false
	}
	h.sessions.AddFlash(w, r, FlashInfo, "You are already logged in.")
	http.Redirect(w, r, "/home", http.StatusSeeOther)
	return true
}

// RegisterForm handles GET /register.
func (h *AuthHandler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	if h.alreadyLoggedIn(w, r) {
		return
	}
	h.render.Page(w, r, http.StatusOK, "register", "Register", nil)
}

// Register handles POST /register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h.alreadyLoggedIn(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.render.BadRequest(w, r)
		return
	}
	form := map[string]string{"username": r.PostForm.Get("username")}

	_, err := h.auth.Register(r.Context(),
		form["username"], r.PostForm.Get("password"), r.PostForm.Get("confirm"))
	if err != nil {
		if errors.Is(err, apperror.ErrValidation) {
			h.sessions.AddFlash(w, r, FlashNegative, userMessage(err))
			h.render.Form(w, r, http.StatusBadRequest, "register", "Register", form, nil)
			return
		}
		h.render.Error(w, r, err)
		return
	}

	h.sessions.AddFlash(w, r, FlashPositive, "Registration successful. You can now log in.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// LoginForm handles GET /login.
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	if h.alreadyLoggedIn(w, r) {
		return
	}
	form := map[string]string{"next": r.URL.Query().Get("next")}
	h.render.Form(w, r, http.StatusOK, "login", "Log in", form, h.provider != nil)
}

// Login handles POST /login. Both failure modes show the same message.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.alreadyLoggedIn(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.render.BadRequest(w, r)
		return
	}
	form := map[string]string{
		"username": r.PostForm.Get("username"),
		"next":     r.PostForm.Get("next"),
	}

	res, err := h.auth.Login(r.Context(), form["username"], r.PostForm.Get("password"))
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) {
			h.sessions.AddFlash(w, r, FlashNegative, userMessage(err))
			h.render.Form(w, r, http.StatusUnauthorized, "login", "Log in", form, h.provider != nil)
			return
		}
		h.render.Error(w, r, err)
		return
	}

	auth.SetSessionCookie(w, res.Token, h.tokens.TTL(), h.secure)
	h.sessions.AddFlash(w, r, FlashPositive, "Login successful.")
	http.Redirect(w, r, safeNext(form["next"]), http.StatusSeeOther)
}

// safeNext only follows local paths, so ?next= cannot bounce a freshly
// signed-in user to another site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/home"
	}
	return next
}

// Logout handles GET /logout (login required). Every session token the user
// holds is revoked, and the cookie is cleared even if revocation fails.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	username := id.Username()

	if user, ok := id.User(); ok {
		if err := h.auth.Logout(r.Context(), user.ID); err != nil {
			h.logger.Error("revoking sessions failed",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	auth.ClearSessionCookie(w, h.secure)
	h.sessions.AddFlash(w, r, FlashInfo, "Logged out "+username)
	http.Redirect(w, r, "/home", http.StatusSeeOther)
}

// OAuthLogin handles GET /login/github. A random state is kept in the
// session and checked on the way back, so the callback cannot be forged
// from another site.
func (h *AuthHandler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()
	if err := h.sessions.SetOAuthState(w, r, state); err != nil {
		h.render.Error(w, r, fmt.Errorf("handler: saving oauth state: %w", err))
		return
	}
	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusFound)
}

// OAuthCallback handles GET /login/github/authorized.
//
// FLOW:
//  1. Check the state against the session (single use)
//  2. Exchange the code; a failed exchange means "no token"
//  3. Let AuthService.LinkOAuth find or create the local account
//  4. Set the session cookie and flash the outcome
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	title := providerTitle(h.provider.Name())
	q := r.URL.Query()

	expected := h.sessions.PopOAuthState(w, r)
	if expected == "" || q.Get("state") != expected {
		h.logger.Warn("oauth callback: state mismatch", slog.String("provider", h.provider.Name()))
		h.render.BadRequest(w, r)
		return
	}

	var token *oauth2.Token
	if code := q.Get("code"); code != "" && q.Get("error") == "" {
		t, err := h.provider.Exchange(r.Context(), code)
		if err != nil {
			h.logger.Warn("oauth callback: code exchange failed",
				slog.String("provider", h.provider.Name()),
				slog.String("error", err.Error()),
			)
		} else {
			token = t
		}
	}

	res, err := h.auth.LinkOAuth(r.Context(), h.provider, token)
	if err != nil {
		msg := fmt.Sprintf("Log in via %s failed.", title)
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.Message == service.OAuthProfileFailed {
			msg = fmt.Sprintf("Fetching user info from %s failed.", title)
		} else if !errors.Is(err, apperror.ErrOAuth) {
			h.logger.Error("oauth callback: linking account failed", slog.String("error", err.Error()))
		}
		h.sessions.AddFlash(w, r, FlashNegative, msg)
		http.Redirect(w, r, "/home", http.StatusSeeOther)
		return
	}

	auth.SetSessionCookie(w, res.Token, h.tokens.TTL(), h.secure)
	h.sessions.AddFlash(w, r, FlashPositive, fmt.Sprintf("Log in via %s successful.", title))
	http.Redirect(w, r, "/home", http.StatusSeeOther)
}

func providerTitle(name string) string {
	if name == "github" {
		return "GitHub"
	}
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
