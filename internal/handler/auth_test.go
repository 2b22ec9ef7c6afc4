package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sakif/catalog/internal/auth"
)

// =========================================================================
// REGISTER
// =========================================================================

func TestRegister(t *testing.T) {
	app := newTestApp(t, nil)

	rr := app.serve(postForm("/register", url.Values{
		"username": {"alice"},
		"password": {"secret"},
		"confirm":  {"secret"},
	}))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))

	rr = app.serve(get("/login", carry(rr)...))
	assert.Contains(t, rr.Body.String(), "Registration successful.")

	user, err := app.auth.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.False(t, user.Admin)
}

func TestRegister_Rejected(t *testing.T) {
	app := newTestApp(t, nil)
	app.user(t, "taken", "secret")

	tests := []struct {
		name    string
		form    url.Values
		message string
	}{
		{
			name:    "passwords differ",
			form:    url.Values{"username": {"alice"}, "password": {"one"}, "confirm": {"two"}},
			message: "Passwords must match",
		},
		{
			name:    "username taken",
			form:    url.Values{"username": {"taken"}, "password": {"pw"}, "confirm": {"pw"}},
			message: "This username is already taken.",
		},
		{
			name:    "blank username",
			form:    url.Values{"username": {"  "}, "password": {"pw"}, "confirm": {"pw"}},
			message: "username is required",
		},
		{
			name:    "blank password",
			form:    url.Values{"username": {"alice"}, "password": {""}, "confirm": {""}},
			message: "password is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := app.serve(postForm("/register", tt.form))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.message)
			assert.NotContains(t, rr.Body.String(), `value="one"`, "passwords are never echoed")
		})
	}

	_, err := app.auth.Authenticate(context.Background(), "alice", "one")
	assert.Error(t, err, "a rejected registration must not create the user")
}

// =========================================================================
// LOGIN / LOGOUT
// =========================================================================

func TestLogin(t *testing.T) {
	app := newTestApp(t, nil)
	alice := app.user(t, "alice", "secret")

	tests := []struct {
		name         string
		next         string
		wantLocation string
	}{
		{"default target", "", "/home"},
		{"local next", "/create-product", "/create-product"},
		{"absolute next is ignored", "https://evil.example/", "/home"},
		{"protocol-relative next is ignored", "//evil.example/", "/home"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := app.serve(postForm("/login", url.Values{
				"username": {"alice"},
				"password": {"secret"},
				"next":     {tt.next},
			}))

			require.Equal(t, http.StatusSeeOther, rr.Code)
			assert.Equal(t, tt.wantLocation, rr.Header().Get("Location"))

			cookie := cookieNamed(rr, auth.SessionCookie)
			require.NotNil(t, cookie, "login must set the session cookie")
			assert.True(t, cookie.HttpOnly)

			userID, err := app.tokens.Validate(cookie.Value)
			require.NoError(t, err)
			assert.Equal(t, alice.ID, userID)
		})
	}
}

func TestLogin_FailureIsGeneric(t *testing.T) {
	app := newTestApp(t, nil)
	app.user(t, "alice", "secret")

	for _, form := range []url.Values{
		{"username": {"alice"}, "password": {"wrong"}},
		{"username": {"nobody"}, "password": {"secret"}},
	} {
		rr := app.serve(postForm("/login", form))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "Invalid username or password.")
		assert.Nil(t, cookieNamed(rr, auth.SessionCookie))
	}
}

func TestLogin_AlreadySignedIn(t *testing.T) {
	app := newTestApp(t, nil)
	session := app.sessionFor(t, app.user(t, "alice", "secret"))

	for _, path := range []string{"/login", "/register"} {
		rr := app.serve(get(path, session))
		assert.Equal(t, http.StatusSeeOther, rr.Code, path)
		assert.Equal(t, "/home", rr.Header().Get("Location"), path)
	}
}

func TestHome_ShowsIdentity(t *testing.T) {
	app := newTestApp(t, nil)
	session := app.sessionFor(t, app.user(t, "alice", "secret"))

	rr := app.serve(get("/home", session))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Welcome, alice")
	assert.Contains(t, rr.Body.String(), `href="/logout"`)
	assert.NotContains(t, rr.Body.String(), `href="/admin"`)

	rr = app.serve(get("/home", &http.Cookie{Name: auth.SessionCookie, Value: "tampered"}))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `href="/login"`, "a bad cookie is simply anonymous")
}

func TestLogout(t *testing.T) {
	app := newTestApp(t, nil)
	session := app.sessionFor(t, app.user(t, "alice", "secret"))

	rr := app.serve(get("/logout", session))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/home", rr.Header().Get("Location"))

	cleared := cookieNamed(rr, auth.SessionCookie)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)

	rr = app.serve(get("/home", carry(rr, session)...))
	assert.Contains(t, rr.Body.String(), "Logged out alice")
	assert.NotContains(t, rr.Body.String(), "Welcome, alice")
}

func TestLogout_RevokesCopiedSession(t *testing.T) {
	app := newTestApp(t, nil)
	alice := app.user(t, "alice", "secret")
	laptop := app.sessionFor(t, alice)
	phone := &http.Cookie{Name: laptop.Name, Value: laptop.Value}

	rr := app.serve(get("/logout", laptop))
	require.Equal(t, http.StatusSeeOther, rr.Code)

	rr = app.serve(get("/home", phone))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "Welcome, alice")
	assert.Contains(t, rr.Body.String(), `href="/login"`)

	rr = app.serve(get("/create-product", phone))
	assert.Equal(t, http.StatusSeeOther, rr.Code, "a copied token must not reach protected pages")

	// Signing in again issues a token that works.
	rr = app.serve(postForm("/login", url.Values{"username": {"alice"}, "password": {"secret"}}))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	rr = app.serve(get("/home", cookieNamed(rr, auth.SessionCookie)))
	assert.Contains(t, rr.Body.String(), "Welcome, alice")
}

func TestLogout_RequiresLogin(t *testing.T) {
	app := newTestApp(t, nil)

	rr := app.serve(get("/logout"))

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login?next=%2Flogout", rr.Header().Get("Location"))
}

// =========================================================================
// OAUTH
// =========================================================================

type fakeProvider struct {
	profile     *auth.Profile
	exchangeErr error
	fetchErr    error
}

func (p *fakeProvider) Name() string { return "github" }

func (p *fakeProvider) AuthURL(state string) string {
	return "https://github.example/login/oauth/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &oauth2.Token{AccessToken: "access-" + code, TokenType: "bearer"}, nil
}

func (p *fakeProvider) FetchProfile(_ context.Context, _ *oauth2.Token) (*auth.Profile, error) {
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	return p.profile, nil
}

// startOAuth hits /login/github and returns the state the provider would
// echo back plus the browser's cookies.
func startOAuth(t *testing.T, app *testApp) (string, []*http.Cookie) {
	t.Helper()
	rr := app.serve(get("/login/github"))
	require.Equal(t, http.StatusFound, rr.Code)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "github.example", loc.Host)

	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state, carry(rr)
}

func TestOAuth_LoginCreatesAndLinksAccount(t *testing.T) {
	provider := &fakeProvider{profile: &auth.Profile{ID: "42", Login: "octocat", Name: "Mona"}}
	app := newTestApp(t, provider)

	state, cookies := startOAuth(t, app)
	rr := app.serve(get("/login/github/authorized?code=abc&state="+state, cookies...))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/home", rr.Header().Get("Location"))
	require.NotNil(t, cookieNamed(rr, auth.SessionCookie))

	rr = app.serve(get("/home", carry(rr, cookies...)...))
	assert.Contains(t, rr.Body.String(), "Log in via GitHub successful.")
	assert.Contains(t, rr.Body.String(), "Welcome, octocat")

	// A second login reuses the same local account.
	state, cookies = startOAuth(t, app)
	rr = app.serve(get("/login/github/authorized?code=def&state="+state, cookies...))
	require.Equal(t, http.StatusSeeOther, rr.Code)

	userID, err := app.tokens.Validate(cookieNamed(rr, auth.SessionCookie).Value)
	require.NoError(t, err)
	user, err := app.auth.GetUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "octocat", user.Username)
}

func TestOAuth_StateIsChecked(t *testing.T) {
	provider := &fakeProvider{profile: &auth.Profile{ID: "42", Login: "octocat"}}
	app := newTestApp(t, provider)

	t.Run("wrong state", func(t *testing.T) {
		_, cookies := startOAuth(t, app)
		rr := app.serve(get("/login/github/authorized?code=abc&state=forged", cookies...))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Nil(t, cookieNamed(rr, auth.SessionCookie))
	})

	t.Run("no state in session", func(t *testing.T) {
		rr := app.serve(get("/login/github/authorized?code=abc&state=anything"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Nil(t, cookieNamed(rr, auth.SessionCookie))
	})

	t.Run("state is single use", func(t *testing.T) {
		state, cookies := startOAuth(t, app)
		target := "/login/github/authorized?code=abc&state=" + state

		rr := app.serve(get(target, cookies...))
		require.Equal(t, http.StatusSeeOther, rr.Code)

		rr = app.serve(get(target, carry(rr, cookies...)...))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestOAuth_Failures(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		query    string
		message  string
	}{
		{
			name:     "user denied access",
			provider: &fakeProvider{profile: &auth.Profile{ID: "1", Login: "x"}},
			query:    "error=access_denied",
			message:  "Log in via GitHub failed.",
		},
		{
			name:     "code exchange fails",
			provider: &fakeProvider{exchangeErr: errors.New("bad code")},
			query:    "code=abc",
			message:  "Log in via GitHub failed.",
		},
		{
			name:     "profile fetch fails",
			provider: &fakeProvider{fetchErr: errors.New("api down")},
			query:    "code=abc",
			message:  "Fetching user info from GitHub failed.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, tt.provider)

			state, cookies := startOAuth(t, app)
			rr := app.serve(get("/login/github/authorized?"+tt.query+"&state="+state, cookies...))
			require.Equal(t, http.StatusSeeOther, rr.Code)
			assert.Nil(t, cookieNamed(rr, auth.SessionCookie), "no sign-in on failure")

			rr = app.serve(get("/home", carry(rr, cookies...)...))
			assert.Contains(t, rr.Body.String(), tt.message)
			assert.NotContains(t, rr.Body.String(), "Welcome, ")
		})
	}
}

func TestOAuth_RoutesAbsentWhenDisabled(t *testing.T) {
	app := newTestApp(t, nil)

	assert.Equal(t, http.StatusNotFound, app.serve(get("/login/github")).Code)

	rr := app.serve(get("/login"))
	assert.NotContains(t, rr.Body.String(), `href="/login/github"`)
}
