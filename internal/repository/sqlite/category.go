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

const categoryColumns = `id, name, created_at`

func (db *DB) CreateCategory(ctx context.Context, category *model.Category) error {
	category.ID = xid.New().String()
	category.CreatedAt = time.Now()

	_, err := db.q.ExecContext(ctx,
		`INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?)`,
		category.ID, category.Name, category.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating category: %w", err)
	}
	return nil
}

func (db *DB) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	c, err := scanCategory(db.q.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("category", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting category %s: %w", id, err)
	}
	return c, nil
}

func (db *DB) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	c, err := scanCategory(db.q.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE fold(name) = ? ORDER BY created_at LIMIT 1`,
		fold(name)))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("category", name)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting category %q: %w", name, err)
	}
	return c, nil
}

// FindOverlappingCategory implements the duplicate-category rule: two names
// collide when either one contains the other, ignoring case. "Tools",
// "tool" and "Toolbox" all collide with one another.
//
// instr() is used instead of LIKE so the name needs no wildcard escaping.
func (db *DB) FindOverlappingCategory(ctx context.Context, name, excludeID string) (*model.Category, error) {
	folded := fold(name)

	c, err := scanCategory(db.q.QueryRowContext(ctx,
		`SELECT `+categoryColumns+`
		 FROM categories
		 WHERE (instr(fold(name), ?) > 0 OR instr(?, fold(name)) > 0) AND id <> ?
		 ORDER BY created_at
		 LIMIT 1`,
		folded, folded, excludeID,
	))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("category", name)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking category overlap for %q: %w", name, err)
	}
	return c, nil
}

func (db *DB) ListCategories(ctx context.Context, opts repository.ListOptions) ([]model.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories`
	var args []any
	if opts.Query != "" {
		query += ` WHERE instr(fold(name), ?) > 0`
		args = append(args, fold(opts.Query))
	}
	query += ` ORDER BY name`
	query, args = withLimit(query, args, opts)

	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing categories: %w", err)
	}
	defer rows.Close()

	categories := []model.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning category row: %w", err)
		}
		categories = append(categories, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating categories: %w", err)
	}
	return categories, nil
}

// UpdateCategory renames a category. Only the name column is written; the
// products pointing at it are untouched.
func (db *DB) UpdateCategory(ctx context.Context, category *model.Category) error {
	res, err := db.q.ExecContext(ctx,
		`UPDATE categories SET name = ? WHERE id = ?`, category.Name, category.ID)
	if err != nil {
		return fmt.Errorf("sqlite: updating category %s: %w", category.ID, err)
	}
	return checkAffected(res, apperror.NotFound("category", category.ID))
}

func (db *DB) DeleteCategory(ctx context.Context, id string) error {
	res, err := db.q.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "Category still has products; delete or move them first.",
			}
		}
		return fmt.Errorf("sqlite: deleting category %s: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("category", id))
}

func scanCategory(row rowScanner) (*model.Category, error) {
	var c model.Category
	if err := row.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
