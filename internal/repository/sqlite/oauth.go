package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/catalog/internal/apperror"
	"github.com/sakif/catalog/internal/model"
)

// CreateLink inserts link. When another writer already bound the same
// (provider, provider_user_id), the UNIQUE constraint fires and the caller
// gets apperror.ErrConflict so it can retry from a fresh lookup.
func (db *DB) CreateLink(ctx context.Context, link *model.OAuthLink) error {
	link.ID = xid.New().String()
	now := time.Now()
	link.CreatedAt = now
	link.UpdatedAt = now

	_, err := db.q.ExecContext(ctx,
		`INSERT INTO oauth_links (id, provider, provider_user_id, token, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		link.ID, link.Provider, link.ProviderUserID, link.Token, link.UserID, link.CreatedAt, link.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("oauth link", link.Provider+":"+link.ProviderUserID)
		}
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", link.UserID)
		}
		return fmt.Errorf("sqlite: creating oauth link: %w", err)
	}
	return nil
}

func (db *DB) GetLink(ctx context.Context, provider, providerUserID string) (*model.OAuthLink, error) {
	var l model.OAuthLink
	err := db.q.QueryRowContext(ctx,
		`SELECT id, provider, provider_user_id, token, user_id, created_at, updated_at
		 FROM oauth_links
		 WHERE provider = ? AND provider_user_id = ?`,
		provider, providerUserID,
	).Scan(&l.ID, &l.Provider, &l.ProviderUserID, &l.Token, &l.UserID, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("oauth link", provider+":"+providerUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting oauth link: %w", err)
	}
	return &l, nil
}

// UpdateLink refreshes the stored token and owning user.
func (db *DB) UpdateLink(ctx context.Context, link *model.OAuthLink) error {
	link.UpdatedAt = time.Now()

	res, err := db.q.ExecContext(ctx,
		`UPDATE oauth_links SET token = ?, user_id = ?, updated_at = ? WHERE id = ?`,
		link.Token, link.UserID, link.UpdatedAt, link.ID,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", link.UserID)
		}
		return fmt.Errorf("sqlite: updating oauth link %s: %w", link.ID, err)
	}
	return checkAffected(res, apperror.NotFound("oauth link", link.ID))
}
