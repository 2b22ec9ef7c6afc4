package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// newTestGitHubProvider points the provider's API calls at srv.
func newTestGitHubProvider(srv *httptest.Server) *GitHubProvider {
	p := NewGitHubProvider("client-id", "client-secret", "http://localhost/login/github/authorized")
	p.apiURL = srv.URL
	return p
}

func TestGitHubProvider_AuthURL(t *testing.T) {
	p := NewGitHubProvider("client-id", "client-secret", "http://localhost/cb")

	u, err := url.Parse(p.AuthURL("state-123"))
	require.NoError(t, err)

	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
	assert.Equal(t, "state-123", u.Query().Get("state"))
	assert.Equal(t, "http://localhost/cb", u.Query().Get("redirect_uri"))
	assert.Equal(t, "github", p.Name())
}

func TestGitHubProvider_FetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user", r.URL.Path)
		assert.Equal(t, "Bearer gho_abc", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 583231, "login": "octocat", "name": "The Octocat"}`))
	}))
	defer srv.Close()

	p := newTestGitHubProvider(srv)

	profile, err := p.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "gho_abc"})
	require.NoError(t, err)

	assert.Equal(t, &Profile{ID: "583231", Login: "octocat", Name: "The Octocat"}, profile)
}

func TestGitHubProvider_FetchProfile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non-200", http.StatusUnauthorized, `{"message":"Bad credentials"}`},
		{"bad json", http.StatusOK, `{"id":`},
		{"missing id", http.StatusOK, `{"login":"octocat"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestGitHubProvider(srv).FetchProfile(context.Background(), &oauth2.Token{AccessToken: "t"})
			assert.Error(t, err)
		})
	}
}
