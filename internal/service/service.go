// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes the database
//
// Services accept plain values, never *http.Request, and return apperror
// values that the handlers translate into status codes. Every mutating
// operation runs inside repository.Store.WithTx so a failure part-way through
// leaves nothing behind.
package service

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/sakif/catalog/internal/apperror"
)

// Validation limits.
const (
	MaxNameLength     = 255
	MaxUsernameLength = 100
	DefaultPageSize   = 20
	MaxPageSize       = 100
)

// cleanName trims name and enforces the non-empty and length rules.
func cleanName(field, name string, max int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.ValidationFailed(field, fmt.Sprintf("%s is required", field))
	}
	if utf8.RuneCountInString(name) > max {
		return "", apperror.ValidationFailed(field, fmt.Sprintf("%s must be %d characters or less", field, max))
	}
	return name, nil
}

func validatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return apperror.ValidationFailed("price", "price must be a number")
	}
	if price < 0 {
		return apperror.ValidationFailed("price", "price must not be negative")
	}
	return nil
}
