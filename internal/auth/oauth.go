package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// Profile is the provider-neutral part of a remote account that the account
// linker needs. ID is the provider's stable user identifier as a string.
type Profile struct {
	ID    string
	Login string
	Name  string
}

// Provider is one third-party identity provider.
//
// The callback flow is split in two so the linker can tell "the provider gave
// us no token" apart from "the provider gave us a token but the profile call
// failed":
//
//	code ──Exchange──► *oauth2.Token ──FetchProfile──► *Profile
type Provider interface {
	// Name is the provider key stored on OAuth links, e.g. "github".
	Name() string
	// AuthURL is where the browser is sent to approve the login.
	AuthURL(state string) string
	// Exchange trades the callback code for an access token.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	// FetchProfile loads the remote account the token belongs to.
	FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error)
}

// githubUser is the portion of the GitHub /user API response we care about.
//
// GitHub API docs: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type githubUser struct {
	ID    int64  `json:"id"`    // stable, never changes
	Login string `json:"login"` // can be renamed by the user
	Name  string `json:"name"`
}

const githubAPIURL = "https://api.github.com"

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. We redirect the user to GitHub with our ClientID and a random state.
//  2. The user approves (or denies) on GitHub.
//  3. GitHub redirects back to the callback URL with a short-lived "code".
//  4. We exchange the code for an access token (server-to-server, using the
//     ClientSecret, so the token never touches the browser).
//  5. We call the GitHub API with the token to learn who the user is.
type GitHubProvider struct {
	config *oauth2.Config
	apiURL string
}

// NewGitHubProvider creates a GitHubProvider with the given credentials.
//
// callbackURL must match the "Authorization callback URL" registered for the
// OAuth App exactly, e.g. "http://localhost:8080/login/github/authorized".
// Only public profile data is needed, so no scopes are requested.
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Endpoint:     github.Endpoint,
		},
		apiURL: githubAPIURL,
	}
}

func (p *GitHubProvider) Name() string { return "github" }

func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}
	return token, nil
}

// FetchProfile calls GET /user with the token.
//
// oauth2.Config.Client returns an *http.Client that adds the
// "Authorization: Bearer <token>" header to every request.
func (p *GitHubProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.apiURL, "/")+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building GitHub /user request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling GitHub /user API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: GitHub /user API returned status %d", resp.StatusCode)
	}

	var gh githubUser
	if err := json.NewDecoder(resp.Body).Decode(&gh); err != nil {
		return nil, fmt.Errorf("auth: decoding GitHub /user response: %w", err)
	}

	if gh.ID == 0 || gh.Login == "" {
		return nil, fmt.Errorf("auth: GitHub returned an incomplete profile")
	}

	return &Profile{
		ID:    strconv.FormatInt(gh.ID, 10),
		Login: gh.Login,
		Name:  gh.Name,
	}, nil
}
