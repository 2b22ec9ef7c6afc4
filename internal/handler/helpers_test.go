package handler_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/catalog/internal/auth"
	"github.com/sakif/catalog/internal/handler"
	"github.com/sakif/catalog/internal/metrics"
	"github.com/sakif/catalog/internal/model"
	sqliteRepo "github.com/sakif/catalog/internal/repository/sqlite"
	"github.com/sakif/catalog/internal/service"
	"github.com/sakif/catalog/web"
)

// =========================================================================
// FAKES
// =========================================================================

// memImages is an in-memory storage.Store.
type memImages struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemImages() *memImages {
	return &memImages{objects: make(map[string][]byte)}
}

func (m *memImages) Put(_ context.Context, key string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return nil
}

func (m *memImages) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memImages) URL(key string) string {
	return "/uploads/" + key
}

func (m *memImages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// =========================================================================
// TEST APP
// =========================================================================

// testApp is the handler stack over a real in-memory database. The router
// mirrors the production one minus CSRF and rate limiting, which have their
// own tests.
type testApp struct {
	router  *chi.Mux
	db      *sqliteRepo.DB
	auth    *service.AuthService
	catalog *service.CatalogService
	tokens  *auth.TokenService
	images  *memImages
}

func newTestApp(t *testing.T, provider auth.Provider) *testApp {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	passwords := auth.NewPasswordServiceForTest(4)
	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	images := newMemImages()
	authService := service.NewAuthService(db, passwords, tokens, metrics.New(nil), logger)
	catalog := service.NewCatalogService(db, images, metrics.New(nil), logger)
	adminService := service.NewAdminService(db, passwords, catalog, logger)

	sessions := handler.NewSessions([]byte("0123456789abcdef0123456789abcdef"), false)
	render, err := handler.NewRenderer(web.FS, sessions, catalog.ImageURL, logger)
	require.NoError(t, err)

	webHandler := handler.NewWebHandler(catalog, render, sessions, 2, logger)
	authHandler := handler.NewAuthHandler(authService, tokens, provider, render, sessions, false, logger)
	apiHandler := handler.NewAPIHandler(catalog, logger)
	adminHandler := handler.NewAdminHandler(adminService, render, sessions, logger)

	identify := auth.Identify(tokens, authService, logger)

	r := chi.NewRouter()
	r.NotFound(identify(http.HandlerFunc(render.NotFound)).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.BasicAuth(authService, "catalog"))
		r.Get("/product", apiHandler.List)
		r.Get("/product/{id}", apiHandler.Get)
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.RequireAdmin)
			r.Post("/product", apiHandler.Create)
			r.Put("/product/{id}", apiHandler.Replace)
			r.Delete("/product/{id}", apiHandler.Delete)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(identify)
		r.Get("/", webHandler.Index)
		r.Get("/home", webHandler.Home)
		r.Get("/products", webHandler.Products)
		r.Get("/products/{page}", webHandler.Products)
		r.Get("/categories", webHandler.Categories)
		r.Get("/product/{id}", webHandler.Product)
		r.Get("/category/{id}", webHandler.Category)
		r.Post("/search", webHandler.Search)

		r.Get("/register", authHandler.RegisterForm)
		r.Post("/register", authHandler.Register)
		r.Get("/login", authHandler.LoginForm)
		r.Post("/login", authHandler.Login)
		if provider != nil {
			r.Get("/login/github", authHandler.OAuthLogin)
			r.Get("/login/github/authorized", authHandler.OAuthCallback)
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireLogin)
			r.Get("/logout", authHandler.Logout)
			r.Get("/create-product", webHandler.CreateProductForm)
			r.Post("/create-product", webHandler.CreateProduct)
			r.Get("/create-category", webHandler.CreateCategoryForm)
			r.Post("/create-category", webHandler.CreateCategory)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireLogin, auth.RequireAdmin(http.HandlerFunc(render.Forbidden)))
			r.Get("/", adminHandler.Index)
			r.Get("/{entity}", adminHandler.List)
			r.Get("/{entity}/new", adminHandler.New)
			r.Post("/{entity}/new", adminHandler.Create)
			r.Get("/{entity}/{id}/edit", adminHandler.Edit)
			r.Post("/{entity}/{id}/edit", adminHandler.Update)
			r.Post("/{entity}/{id}/delete", adminHandler.Delete)
		})
	})

	return &testApp{
		router:  r,
		db:      db,
		auth:    authService,
		catalog: catalog,
		tokens:  tokens,
		images:  images,
	}
}

func (a *testApp) serve(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

// user registers a regular account.
func (a *testApp) user(t *testing.T, username, password string) *model.User {
	t.Helper()
	u, err := a.auth.Register(context.Background(), username, password, password)
	require.NoError(t, err)
	return u
}

// admin creates an administrator.
func (a *testApp) admin(t *testing.T, username, password string) *model.User {
	t.Helper()
	u, err := a.auth.CreateAdmin(context.Background(), username, password)
	require.NoError(t, err)
	return u
}

// sessionFor returns a session cookie signed in as u.
func (a *testApp) sessionFor(t *testing.T, u *model.User) *http.Cookie {
	t.Helper()
	token, err := a.tokens.Generate(u.ID, u.TokenVersion)
	require.NoError(t, err)
	return &http.Cookie{Name: auth.SessionCookie, Value: token}
}

func (a *testApp) category(t *testing.T, name string) *model.Category {
	t.Helper()
	c, err := a.catalog.CreateCategory(context.Background(), name)
	require.NoError(t, err)
	return c
}

func (a *testApp) product(t *testing.T, name string, price float64, categoryID string) *model.Product {
	t.Helper()
	p, err := a.catalog.CreateProduct(context.Background(), service.ProductInput{
		Name: name, Price: price, CategoryID: categoryID,
	})
	require.NoError(t, err)
	return p
}

func (a *testApp) productCount(t *testing.T) int {
	t.Helper()
	page, err := a.catalog.ListProducts(context.Background(), 1, 100)
	require.NoError(t, err)
	return page.Total
}

// =========================================================================
// REQUEST BUILDERS
// =========================================================================

func get(target string, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func postForm(target string, values url.Values, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func apiRequest(method, target, body, username, password string) *http.Request {
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	if username != "" {
		req.SetBasicAuth(username, password)
	}
	return req
}

// cookieNamed finds the last cookie of that name the response set.
func cookieNamed(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	var found *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			found = c
		}
	}
	return found
}

// carry returns the cookies a browser would send after receiving rr, given
// it already held prev. A later Set-Cookie wins over an earlier one, and a
// cookie with a negative MaxAge is dropped.
func carry(rr *httptest.ResponseRecorder, prev ...*http.Cookie) []*http.Cookie {
	jar := make(map[string]*http.Cookie)
	var order []string
	set := func(c *http.Cookie) {
		if _, ok := jar[c.Name]; !ok {
			order = append(order, c.Name)
		}
		jar[c.Name] = c
	}
	for _, c := range prev {
		set(c)
	}
	for _, c := range rr.Result().Cookies() {
		set(c)
	}

	var out []*http.Cookie
	for _, name := range order {
		if c := jar[name]; c.MaxAge >= 0 {
			out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return out
}
