// Package storage keeps uploaded product images.
//
// Two drivers are available:
//   - "local": files under a directory, served by the app at UPLOAD_URL
//   - "s3"   : S3-compatible object storage (AWS S3, MinIO, R2, Spaces)
//
// Products store only the key returned by Save; URL turns it back into
// something a browser can fetch.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/catalog/internal/apperror"
	"github.com/sakif/catalog/internal/config"
)

// Store is the image storage driver interface.
type Store interface {
	// Put writes r under key, replacing anything already there.
	Put(ctx context.Context, key string, r io.Reader) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// URL returns the public URL for key.
	URL(key string) string
}

var allowedImageExt = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// AllowedImage reports whether filename has an accepted image extension.
// The check is case-insensitive: "photo.JPG" is fine.
func AllowedImage(filename string) bool {
	return allowedImageExt[strings.ToLower(filepath.Ext(filename))]
}

// SaveImage stores an uploaded image under a fresh xid-based key that keeps
// the original extension, and returns the key. The client's file name is
// never used as a path.
func SaveImage(ctx context.Context, s Store, filename string, r io.Reader) (string, error) {
	if !AllowedImage(filename) {
		return "", apperror.ValidationFailed("image", "Invalid image")
	}

	key := xid.New().String() + strings.ToLower(filepath.Ext(filename))
	if err := s.Put(ctx, key, r); err != nil {
		return "", fmt.Errorf("storage: saving image: %w", err)
	}
	return key, nil
}

// New builds the driver selected by cfg.Driver.
func New(ctx context.Context, cfg config.UploadConfig) (Store, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.Dir, cfg.URL)
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
