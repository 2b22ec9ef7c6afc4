package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/catalog/internal/apperror"
	"github.com/sakif/catalog/internal/model"
	"github.com/sakif/catalog/internal/repository"
)

const userColumns = `id, username, pwdhash, admin, token_version, created_at, updated_at`

// CreateUser inserts user, filling in its ID and timestamps.
// A taken username is reported as apperror.ErrConflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, user.Admin, user.TokenVersion, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlite: creating user: %w", err)
	}
	return nil
}

func (db *DB) GetUser(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(db.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return user, nil
}

// GetUserByUsername matches the username exactly (case-sensitive).
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := scanUser(db.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("user", username)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %q: %w", username, err)
	}
	return user, nil
}

func (db *DB) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if opts.Query != "" {
		query += ` WHERE instr(fold(username), ?) > 0`
		args = append(args, fold(opts.Query))
	}
	query += ` ORDER BY username`
	query, args = withLimit(query, args, opts)

	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

// UpdateUser writes username, password digest, admin flag and token version.
func (db *DB) UpdateUser(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now()

	res, err := db.q.ExecContext(ctx,
		`UPDATE users SET username = ?, pwdhash = ?, admin = ?, token_version = ?, updated_at = ? WHERE id = ?`,
		user.Username, user.PasswordHash, user.Admin, user.TokenVersion, user.UpdatedAt, user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}
	return checkAffected(res, apperror.NotFound("user", user.ID))
}

// RevokeSessions bumps the user's token version so every session token issued
// so far stops working.
func (db *DB) RevokeSessions(ctx context.Context, id string) error {
	res, err := db.q.ExecContext(ctx,
		`UPDATE users SET token_version = token_version + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: revoking sessions of user %s: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("user", id))
}

// DeleteUser removes the user; their OAuth links go with them (ON DELETE CASCADE).
func (db *DB) DeleteUser(ctx context.Context, id string) error {
	res, err := db.q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("user", id))
}

func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := db.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting users: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Admin, &u.TokenVersion, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// withLimit appends LIMIT/OFFSET when opts asks for a bounded window.
func withLimit(query string, args []any, opts repository.ListOptions) (string, []any) {
	if opts.Limit <= 0 {
		return query, args
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	return query + ` LIMIT ? OFFSET ?`, append(args, opts.Limit, offset)
}
