// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the composition root: the database, image store, services,
// handlers and middleware are all built in New and nowhere else. main.go
// only loads config and calls Run.
//
// ROUTE STRUCTURE:
//
//	GET  /healthz, /metrics, /uploads/*      → infrastructure, no session
//	     /api/v1/product[/{id}]              → REST API, HTTP Basic auth, CORS
//	     everything else                     → browser pages: session identity + CSRF
//	     /admin/...                          → browser pages, admin only
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sakif/catalog/internal/auth"
	"github.com/sakif/catalog/internal/config"
	"github.com/sakif/catalog/internal/handler"
	"github.com/sakif/catalog/internal/metrics"
	"github.com/sakif/catalog/internal/middleware"
	sqliteRepo "github.com/sakif/catalog/internal/repository/sqlite"
	"github.com/sakif/catalog/internal/service"
	"github.com/sakif/catalog/internal/storage"
	"github.com/sakif/catalog/web"
)

const (
	// limiterEvictEvery and limiterIdle bound the per-IP limiter maps.
	limiterEvictEvery = time.Minute
	limiterIdle       = 10 * time.Minute

	shutdownTimeout = 30 * time.Second
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the database connection. Run closes it after the HTTP
// server has drained; tests that never call Run call Close instead.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	db       *sqliteRepo.DB
	images   storage.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	limiters []*middleware.RateLimiter
}

// New opens the database and the image store and wires every route.
//
// IMPORT ALIAS:
// repository/sqlite is imported as sqliteRepo so it is not confused with the
// sqlite driver package.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	images, err := storage.New(ctx, cfg.Upload)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening image storage: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		db:       db,
		images:   images,
		registry: prometheus.NewRegistry(),
	}
	s.metrics = metrics.New(s.registry)

	if err := s.setupRoutes(); err != nil {
		db.Close() // Clean up DB if route setup fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler is the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes configures all middleware and route handlers.
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: every log line and error page can be traced
//  2. RealIP: rate limiting and logs see the client, not the proxy
//  3. Recoverer: a panic becomes a 500 instead of a dropped connection
//  4. Logger, Metrics: observe the final status of every request
//  5. SecurityHeaders: applied to every response, API included
func (s *Server) setupRoutes() error {
	cfg := s.config

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(middleware.SecurityHeaders(cfg.CookieSecure))

	// === Services ===
	// DEPENDENCY CHAIN:
	//   s.db (sqlite.DB) implements repository.Store
	//   services receive the Store interface, handlers receive services.
	// The handler never touches the database directly.
	passwords := auth.NewPasswordService()
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	authService := service.NewAuthService(s.db, passwords, tokens, s.metrics, s.logger)
	catalogService := service.NewCatalogService(s.db, s.images, s.metrics, s.logger)
	adminService := service.NewAdminService(s.db, passwords, catalogService, s.logger)

	// === Handlers ===
	sessions := handler.NewSessions(cfg.SessionKey, cfg.CookieSecure)
	render, err := handler.NewRenderer(web.FS, sessions, catalogService.ImageURL, s.logger)
	if err != nil {
		return fmt.Errorf("creating renderer: %w", err)
	}

	var provider auth.Provider
	if cfg.GitHubEnabled() {
		provider = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
	} else {
		s.logger.Info("GitHub login disabled: GITHUB_CLIENT_ID or GITHUB_CLIENT_SECRET not set")
	}

	webHandler := handler.NewWebHandler(catalogService, render, sessions, cfg.ProductsPerPage, s.logger)
	authHandler := handler.NewAuthHandler(authService, tokens, provider, render, sessions, cfg.CookieSecure, s.logger)
	apiHandler := handler.NewAPIHandler(catalogService, s.logger)
	adminHandler := handler.NewAdminHandler(adminService, render, sessions, s.logger)

	identify := auth.Identify(tokens, authService, s.logger)
	forbidden := http.HandlerFunc(render.Forbidden)

	loginLimiter := middleware.NewRateLimiter("login", cfg.LoginRateLimit, 5, s.metrics)
	apiLimiter := middleware.NewRateLimiter("api", cfg.APIRateLimit, 20, s.metrics)
	s.limiters = append(s.limiters, loginLimiter, apiLimiter)

	s.router.NotFound(identify(http.HandlerFunc(render.NotFound)).ServeHTTP)

	// === Infrastructure ===
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler(s.registry))

	if local, ok := s.images.(*storage.Local); ok {
		prefix := cfg.Upload.URL + "/"
		files := http.StripPrefix(prefix, http.FileServer(http.Dir(local.Root())))
		s.router.Handle(prefix+"*", noDirListing(files))
	}

	// === REST API ===
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APICORS(cfg.CORSOrigins))
		r.Use(apiLimiter.Middleware)
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

	// === Browser pages ===
	s.router.Group(func(r chi.Router) {
		r.Use(identify)
		if !cfg.CookieSecure {
			r.Use(plaintextHTTP)
		}
		r.Use(csrf.Protect(cfg.CSRFKey,
			csrf.Secure(cfg.CookieSecure),
			csrf.Path("/"),
			csrf.ErrorHandler(forbidden),
		))

		r.Get("/", webHandler.Index)
		r.Get("/home", webHandler.Home)
		r.Get("/products", webHandler.Products)
		r.Get("/products/{page}", webHandler.Products)
		r.Get("/categories", webHandler.Categories)
		r.Get("/product/{id}", webHandler.Product)
		r.Get("/category/{id}", webHandler.Category)
		r.Post("/search", webHandler.Search)

		r.Get("/register", authHandler.RegisterForm)
		r.Get("/login", authHandler.LoginForm)
		r.Group(func(r chi.Router) {
			r.Use(loginLimiter.Middleware)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
		})

		if provider != nil {
			r.Get("/login/github", authHandler.OAuthLogin)
			r.Get("/login/github/authorized", authHandler.OAuthCallback)
		}

		// Login required
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireLogin)
			r.Get("/logout", authHandler.Logout)
			r.Get("/create-product", webHandler.CreateProductForm)
			r.Post("/create-product", webHandler.CreateProduct)
			r.Get("/create-category", webHandler.CreateCategoryForm)
			r.Post("/create-category", webHandler.CreateCategory)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireLogin, auth.RequireAdmin(forbidden))
			r.Get("/", adminHandler.Index)
			r.Get("/{entity}", adminHandler.List)
			r.Get("/{entity}/new", adminHandler.New)
			r.Post("/{entity}/new", adminHandler.Create)
			r.Get("/{entity}/{id}/edit", adminHandler.Edit)
			r.Post("/{entity}/{id}/edit", adminHandler.Update)
			r.Post("/{entity}/{id}/delete", adminHandler.Delete)
		})
	})

	return nil
}

// handleHealth reports whether the database answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable\n"))
		return
	}
	_, _ = w.Write([]byte("ok\n"))
}

// plaintextHTTP tells gorilla/csrf the request arrived over plain HTTP, so
// its Referer check does not assume an https origin during development.
func plaintextHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
	})
}

// noDirListing hides http.FileServer's directory index.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Run(ctx context.Context) error {
	defer s.db.Close()

	for _, l := range s.limiters {
		go l.RunEviction(ctx, limiterEvictEvery, limiterIdle)
	}

	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("env", s.config.Env),
			slog.String("database", s.config.DBPath),
			slog.String("uploads", s.config.Upload.Driver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
