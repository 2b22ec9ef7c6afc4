package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// APICORS allows cross-origin calls to the JSON API from origins. Basic auth
// travels in the Authorization header, so that header must be allowed.
// Credentials (cookies) are never allowed cross-origin.
func APICORS(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept"},
		MaxAge:         300,
	})
	return c.Handler
}
