package model

import "time"

// Category groups products. It owns its products only through the
// products.category_id foreign key.
type Category struct {
	ID        string    `json:"id"        db:"id"`
	Name      string    `json:"name"      db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Product belongs to exactly one Category. CategoryName is filled from a
// join on every read so callers never need a second lookup.
//
// ImagePath is the stored image key (nil when the product has no image).
type Product struct {
	ID           string    `json:"id"           db:"id"`
	Name         string    `json:"name"         db:"name"`
	Price        float64   `json:"price"        db:"price"`
	ImagePath    *string   `json:"imagePath"    db:"image_path"`
	CategoryID   string    `json:"categoryId"   db:"category_id"`
	CategoryName string    `json:"category"     db:"-"`
	CreatedAt    time.Time `json:"createdAt"    db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt"    db:"updated_at"`
}

// Page is one bounded window of a listing.
type Page[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

// HasNext reports whether a later page holds items.
func (p Page[T]) HasNext() bool {
	return p.Page*p.PageSize < p.Total
}

// HasPrev reports whether an earlier page exists.
func (p Page[T]) HasPrev() bool {
	return p.Page > 1
}

// SearchResult holds the products and categories whose names matched a query.
type SearchResult struct {
	Query      string     `json:"query"`
	Products   []Product  `json:"products"`
	Categories []Category `json:"categories"`
}
