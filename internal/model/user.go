// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, composing rather than inheriting.
package model

import "time"

// User is a local account. It is created by registration or by the first
// successful OAuth login, and its password digest is never serialised.
//
// TokenVersion is stamped into every session token. Bumping it signs the
// user out everywhere.
type User struct {
	ID           string    `json:"id"        db:"id"`
	Username     string    `json:"username"  db:"username"`
	PasswordHash string    `json:"-"         db:"pwdhash"`
	Admin        bool      `json:"admin"     db:"admin"`
	TokenVersion int       `json:"-"         db:"token_version"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// OAuthLink binds a third-party identity (Provider, ProviderUserID) to a
// local User. The pair is unique across the table.
//
// Token is the opaque provider token as JSON; it is refreshed on every login
// and never leaves the server.
type OAuthLink struct {
	ID             string    `json:"id"             db:"id"`
	Provider       string    `json:"provider"       db:"provider"`
	ProviderUserID string    `json:"providerUserId" db:"provider_user_id"`
	Token          string    `json:"-"              db:"token"`
	UserID         string    `json:"userId"         db:"user_id"`
	CreatedAt      time.Time `json:"createdAt"      db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt"      db:"updated_at"`
}
