// Package config loads runtime settings from the environment.
//
// A .env file in the working directory is read first if present; real
// environment variables always win over it. Every key has a development
// default so `server serve` works on a fresh checkout.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	LogLevel string
	Port     string
	DBPath   string

	SessionKey   []byte
	CSRFKey      []byte
	JWTSecret    string
	SessionTTL   time.Duration
	CookieSecure bool

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string

	Upload UploadConfig

	ProductsPerPage int
	APIRateLimit    float64
	LoginRateLimit  float64
	CORSOrigins     []string
}

// UploadConfig selects and configures the product image store.
type UploadConfig struct {
	Driver string // "local" or "s3"
	Dir    string
	URL    string

	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Key      string
	S3Secret   string
	S3URL      string
}

// Load reads the configuration. It only fails on values that are present but
// malformed; missing secrets fall back to random development values.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}

	cfg := &Config{
		Env:                getEnv("APP_ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Port:               getEnv("PORT", "8080"),
		DBPath:             getEnv("DB_PATH", "data/catalog.db"),
		CookieSecure:       getEnv("COOKIE_SECURE", "false") == "true",
		GitHubClientID:     getEnv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
		GitHubCallbackURL:  getEnv("GITHUB_CALLBACK_URL", "http://localhost:8080/login/github/authorized"),
		Upload: UploadConfig{
			Driver:     getEnv("UPLOAD_DRIVER", "local"),
			Dir:        getEnv("UPLOAD_DIR", "data/uploads"),
			URL:        strings.TrimRight(getEnv("UPLOAD_URL", "/uploads"), "/"),
			S3Bucket:   getEnv("S3_BUCKET", ""),
			S3Region:   getEnv("S3_REGION", "us-east-1"),
			S3Endpoint: getEnv("S3_ENDPOINT", ""),
			S3Key:      getEnv("S3_KEY", ""),
			S3Secret:   getEnv("S3_SECRET", ""),
			S3URL:      strings.TrimRight(getEnv("S3_URL", ""), "/"),
		},
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("config: PORT must be a number, got %q", cfg.Port)
	}

	var err error
	if cfg.SessionTTL, err = time.ParseDuration(getEnv("SESSION_TTL", "24h")); err != nil {
		return nil, fmt.Errorf("config: SESSION_TTL: %w", err)
	}
	if cfg.ProductsPerPage, err = strconv.Atoi(getEnv("PRODUCTS_PER_PAGE", "12")); err != nil || cfg.ProductsPerPage < 1 {
		return nil, fmt.Errorf("config: PRODUCTS_PER_PAGE must be a positive integer")
	}
	if cfg.APIRateLimit, err = strconv.ParseFloat(getEnv("API_RATE_LIMIT", "10"), 64); err != nil {
		return nil, fmt.Errorf("config: API_RATE_LIMIT: %w", err)
	}
	if cfg.LoginRateLimit, err = strconv.ParseFloat(getEnv("LOGIN_RATE_LIMIT", "1"), 64); err != nil {
		return nil, fmt.Errorf("config: LOGIN_RATE_LIMIT: %w", err)
	}

	for _, origin := range strings.Split(getEnv("CORS_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	switch cfg.Upload.Driver {
	case "local":
	case "s3":
		if cfg.Upload.S3Bucket == "" {
			return nil, fmt.Errorf("config: UPLOAD_DRIVER=s3 requires S3_BUCKET")
		}
	default:
		return nil, fmt.Errorf("config: unknown UPLOAD_DRIVER %q", cfg.Upload.Driver)
	}

	cfg.SessionKey = loadKey("SESSION_KEY")
	cfg.CSRFKey = loadKey("CSRF_KEY")

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if len(cfg.JWTSecret) < 16 {
		slog.Warn("JWT_SECRET not set or shorter than 16 characters. Generating a random secret; sessions will not survive a restart.")
		cfg.JWTSecret = hex.EncodeToString(generateRandomBytes(32))
	}

	return cfg, nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// GitHubEnabled reports whether GitHub login is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// NewLogger builds the process logger: JSON in production, text otherwise.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}

	var handler slog.Handler
	if c.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadKey decodes a base64 key of at least 32 bytes, or generates one.
func loadKey(name string) []byte {
	raw := os.Getenv(name)
	if raw == "" {
		slog.Warn(name + " not set. Generating a random key for development; it changes on every restart.")
		return generateRandomBytes(32)
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(decoded) < 32 {
		slog.Warn(name + " is invalid or shorter than 32 bytes. Generating a random key for development.")
		return generateRandomBytes(32)
	}
	return decoded
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func generateRandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails if the OS entropy source is broken.
		panic(fmt.Sprintf("config: reading random bytes: %v", err))
	}
	return b
}
