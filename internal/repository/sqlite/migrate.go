package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step. Versions sort lexically and are
// recorded in schema_migrations once applied.
type migration struct {
	version string
	stmts   string
}

var migrations = []migration{
	{
		version: "001_users",
		stmts: `
			CREATE TABLE users (
				id         TEXT PRIMARY KEY,
				username   TEXT NOT NULL UNIQUE,
				pwdhash    TEXT NOT NULL,
				admin      INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`,
	},
	{
		// (provider, provider_user_id) is the race backstop for concurrent
		// first logins of the same remote account.
		version: "002_oauth_links",
		stmts: `
			CREATE TABLE oauth_links (
				id               TEXT PRIMARY KEY,
				provider         TEXT NOT NULL,
				provider_user_id TEXT NOT NULL,
				token            TEXT NOT NULL DEFAULT '',
				user_id          TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (provider, provider_user_id)
			);
			CREATE INDEX idx_oauth_links_user_id ON oauth_links(user_id);`,
	},
	{
		version: "003_categories",
		stmts: `
			CREATE TABLE categories (
				id         TEXT PRIMARY KEY,
				name       TEXT NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX idx_categories_name ON categories(name);`,
	},
	{
		// RESTRICT: a category cannot disappear from under its products.
		version: "004_products",
		stmts: `
			CREATE TABLE products (
				id          TEXT PRIMARY KEY,
				name        TEXT NOT NULL,
				price       REAL NOT NULL CHECK (price >= 0),
				image_path  TEXT,
				category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE RESTRICT,
				created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX idx_products_category_id ON products(category_id);
			CREATE INDEX idx_products_created_at ON products(created_at);`,
	},
	{
		version: "005_user_token_version",
		stmts:   `ALTER TABLE users ADD COLUMN token_version INTEGER NOT NULL DEFAULT 0;`,
	},
}

// Migrate applies every migration not yet recorded in schema_migrations, each
// in its own transaction, and returns the versions it applied. Running it
// against an up-to-date database is a no-op.
func (db *DB) Migrate(ctx context.Context) ([]string, error) {
	_, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return nil, fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var applied []string
	for _, m := range migrations {
		done, err := db.isApplied(ctx, m.version)
		if err != nil {
			return applied, err
		}
		if done {
			continue
		}

		if err := db.apply(ctx, m); err != nil {
			return applied, fmt.Errorf("applying %s: %w", m.version, err)
		}
		applied = append(applied, m.version)
	}

	return applied, nil
}

// Versions lists the applied migrations in order.
func (db *DB) Versions(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("sqlite: scanning migration row: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (db *DB) isApplied(ctx context.Context, version string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, version).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking migration %s: %w", version, err)
	}
	return true, nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, m.stmts); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}
