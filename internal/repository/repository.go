// Package repository declares the persistence contracts the services depend on.
//
// Implementations translate "row does not exist" into apperror.NotFound and
// never leak driver errors as domain errors. Method names are prefixed with
// their entity so one type can satisfy every interface at once.
package repository

import (
	"context"

	"github.com/sakif/catalog/internal/model"
)

// ListOptions bounds a listing. Limit <= 0 means no limit. Query, when set,
// keeps only rows whose name (username for users) contains it.
type ListOptions struct {
	Query  string
	Limit  int
	Offset int
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	ListUsers(ctx context.Context, opts ListOptions) ([]model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	RevokeSessions(ctx context.Context, id string) error
	DeleteUser(ctx context.Context, id string) error
	CountUsers(ctx context.Context) (int, error)
}

// OAuthLinkRepository stores third-party identity bindings. CreateLink
// returns an apperror.ErrConflict error when (provider, provider_user_id)
// is already taken.
type OAuthLinkRepository interface {
	CreateLink(ctx context.Context, link *model.OAuthLink) error
	GetLink(ctx context.Context, provider, providerUserID string) (*model.OAuthLink, error)
	UpdateLink(ctx context.Context, link *model.OAuthLink) error
}

type CategoryRepository interface {
	CreateCategory(ctx context.Context, category *model.Category) error
	GetCategory(ctx context.Context, id string) (*model.Category, error)
	// GetCategoryByName matches the whole name, ignoring case.
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	// FindOverlappingCategory returns a category other than excludeID whose
	// name contains name or is contained in it, ignoring case. NotFound when
	// there is none. Pass "" for excludeID when creating.
	FindOverlappingCategory(ctx context.Context, name, excludeID string) (*model.Category, error)
	ListCategories(ctx context.Context, opts ListOptions) ([]model.Category, error)
	UpdateCategory(ctx context.Context, category *model.Category) error
	// DeleteCategory fails with apperror.ErrConflict while products still
	// reference the category.
	DeleteCategory(ctx context.Context, id string) error
}

type ProductRepository interface {
	CreateProduct(ctx context.Context, product *model.Product) error
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context, opts ListOptions) ([]model.Product, error)
	CountProducts(ctx context.Context, query string) (int, error)
	ListProductsByCategory(ctx context.Context, categoryID string) ([]model.Product, error)
	UpdateProduct(ctx context.Context, product *model.Product) error
	DeleteProduct(ctx context.Context, id string) error
}

// Store is the whole data store.
//
// WithTx runs fn against a Store bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise, so a
// failed request never leaves a partial write behind. Calling WithTx on a
// Store that is already transactional joins the outer transaction.
type Store interface {
	UserRepository
	OAuthLinkRepository
	CategoryRepository
	ProductRepository

	WithTx(ctx context.Context, fn func(tx Store) error) error
}
