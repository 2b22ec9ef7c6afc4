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

// Every product read joins its category so CategoryName is always filled.
const productSelect = `
	SELECT p.id, p.name, p.price, p.image_path, p.category_id, c.name, p.created_at, p.updated_at
	FROM products p
	JOIN categories c ON c.id = p.category_id`

// CreateProduct inserts product. A category_id that does not resolve is
// reported as apperror.NotFound for the category.
func (db *DB) CreateProduct(ctx context.Context, product *model.Product) error {
	product.ID = xid.New().String()
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := db.q.ExecContext(ctx,
		`INSERT INTO products (id, name, price, image_path, category_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		product.ID, product.Name, product.Price, product.ImagePath, product.CategoryID,
		product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("category", product.CategoryID)
		}
		return fmt.Errorf("sqlite: creating product: %w", err)
	}
	return nil
}

func (db *DB) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	p, err := scanProduct(db.q.QueryRowContext(ctx, productSelect+` WHERE p.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting product %s: %w", id, err)
	}
	return p, nil
}

// ListProducts returns products newest first. The id tiebreak keeps pages
// stable when several rows share a timestamp.
func (db *DB) ListProducts(ctx context.Context, opts repository.ListOptions) ([]model.Product, error) {
	query := productSelect
	var args []any
	if opts.Query != "" {
		query += ` WHERE instr(fold(p.name), ?) > 0`
		args = append(args, fold(opts.Query))
	}
	query += ` ORDER BY p.created_at DESC, p.id DESC`
	query, args = withLimit(query, args, opts)

	return db.queryProducts(ctx, query, args...)
}

func (db *DB) CountProducts(ctx context.Context, query string) (int, error) {
	stmt := `SELECT COUNT(*) FROM products`
	var args []any
	if query != "" {
		stmt += ` WHERE instr(fold(name), ?) > 0`
		args = append(args, fold(query))
	}

	var n int
	if err := db.q.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting products: %w", err)
	}
	return n, nil
}

func (db *DB) ListProductsByCategory(ctx context.Context, categoryID string) ([]model.Product, error) {
	return db.queryProducts(ctx, productSelect+` WHERE p.category_id = ? ORDER BY p.name`, categoryID)
}

// UpdateProduct writes every mutable column of product.
func (db *DB) UpdateProduct(ctx context.Context, product *model.Product) error {
	product.UpdatedAt = time.Now()

	res, err := db.q.ExecContext(ctx,
		`UPDATE products
		 SET name = ?, price = ?, image_path = ?, category_id = ?, updated_at = ?
		 WHERE id = ?`,
		product.Name, product.Price, product.ImagePath, product.CategoryID, product.UpdatedAt, product.ID,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("category", product.CategoryID)
		}
		return fmt.Errorf("sqlite: updating product %s: %w", product.ID, err)
	}
	return checkAffected(res, apperror.NotFound("product", product.ID))
}

func (db *DB) DeleteProduct(ctx context.Context, id string) error {
	res, err := db.q.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting product %s: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("product", id))
}

func (db *DB) queryProducts(ctx context.Context, query string, args ...any) ([]model.Product, error) {
	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing products: %w", err)
	}
	defer rows.Close()

	products := []model.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning product row: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating products: %w", err)
	}
	return products, nil
}

func scanProduct(row rowScanner) (*model.Product, error) {
	var (
		p     model.Product
		image sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &image, &p.CategoryID, &p.CategoryName, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if image.Valid {
		p.ImagePath = &image.String
	}
	return &p, nil
}
