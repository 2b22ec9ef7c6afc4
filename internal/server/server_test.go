package server_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/catalog/internal/config"
	"github.com/sakif/catalog/internal/server"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Env:        "test",
		LogLevel:   "error",
		Port:       "0",
		DBPath:     ":memory:",
		SessionKey: []byte("0123456789abcdef0123456789abcdef"),
		CSRFKey:    []byte("fedcba9876543210fedcba9876543210"),
		JWTSecret:  "server-test-secret-0123456789",
		SessionTTL: time.Hour,
		Upload: config.UploadConfig{
			Driver: "local",
			Dir:    t.TempDir(),
			URL:    "/uploads",
		},
		ProductsPerPage: 10,
		APIRateLimit:    100,
		LoginRateLimit:  100,
	}
}

func newServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	srv, err := server.New(t.Context(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv.Handler()
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	h := newServer(t, testConfig(t))

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h := newServer(t, testConfig(t))
	serve(h, httptest.NewRequest(http.MethodGet, "/products", nil))

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "catalog_requests_in_flight")
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	h := newServer(t, testConfig(t))

	for _, target := range []string{"/", "/missing", "/api/v1/product"} {
		rr := serve(h, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"), target)
		assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"), target)
		assert.Empty(t, rr.Header().Get("Strict-Transport-Security"), "no HSTS over plain HTTP")
	}
}

func TestUnknownPathRendersNotFoundPage(t *testing.T) {
	h := newServer(t, testConfig(t))

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/no/such/page", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
}

func TestAPIRequiresCredentials(t *testing.T) {
	h := newServer(t, testConfig(t))

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/product", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Header().Get("WWW-Authenticate"), "Basic")
}

func TestFormPostWithoutCSRFTokenIsForbidden(t *testing.T) {
	h := newServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(url.Values{"query": {"x"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := serve(h, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestPagesCarryCSRFField(t *testing.T) {
	h := newServer(t, testConfig(t))

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/login", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `name="gorilla.csrf.Token"`)
}

func TestGitHubRoutesOnlyWhenConfigured(t *testing.T) {
	rr := serve(newServer(t, testConfig(t)), httptest.NewRequest(http.MethodGet, "/login/github", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	cfg := testConfig(t)
	cfg.GitHubClientID = "client"
	cfg.GitHubClientSecret = "secret"
	cfg.GitHubCallbackURL = "http://localhost/login/github/authorized"

	rr = serve(newServer(t, cfg), httptest.NewRequest(http.MethodGet, "/login/github", nil))
	require.Equal(t, http.StatusFound, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "https://github.com/login/oauth/authorize"))
}

func TestLocalUploadsAreServed(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Upload.Dir, "abc.png"), []byte("png bytes"), 0o644))
	h := newServer(t, cfg)

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/uploads/abc.png", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "png bytes", rr.Body.String())

	rr = serve(h, httptest.NewRequest(http.MethodGet, "/uploads/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code, "no directory listing")
}
