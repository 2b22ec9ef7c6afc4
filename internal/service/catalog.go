package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/sakif/catalog/internal/apperror"
	"github.com/sakif/catalog/internal/metrics"
	"github.com/sakif/catalog/internal/model"
	"github.com/sakif/catalog/internal/repository"
	"github.com/sakif/catalog/internal/storage"
)

// CatalogService owns products and categories.
//
// Every write runs in one transaction. Images are written to storage before
// the transaction and removed again if it fails, so a rejected product never
// leaves an orphaned file.
type CatalogService struct {
	store   repository.Store
	images  storage.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewCatalogService(store repository.Store, images storage.Store, m *metrics.Metrics, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		store:   store,
		images:  images,
		metrics: m,
		logger:  logger,
	}
}

// ImageUpload is an uploaded file as received from a multipart form.
type ImageUpload struct {
	Filename string
	Body     io.Reader
}

// ProductInput is everything needed to create a product.
type ProductInput struct {
	Name       string
	Price      float64
	CategoryID string
	Image      *ImageUpload
}

// ProductPatch changes only the fields that are set.
type ProductPatch struct {
	Name       *string
	Price      *float64
	CategoryID *string
	Image      *ImageUpload
}

// CategoryDetail is a category together with its products.
type CategoryDetail struct {
	Category *model.Category
	Products []model.Product
}

// =========================================================================
// PRODUCTS
// =========================================================================

func (s *CatalogService) CreateProduct(ctx context.Context, in ProductInput) (*model.Product, error) {
	name, err := cleanName("name", in.Name, MaxNameLength)
	if err != nil {
		return nil, err
	}
	if err := validatePrice(in.Price); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.CategoryID) == "" {
		return nil, apperror.ValidationFailed("category", "category is required")
	}

	key, err := s.saveImage(ctx, in.Image)
	if err != nil {
		return nil, err
	}

	product := &model.Product{
		Name:       name,
		Price:      in.Price,
		CategoryID: in.CategoryID,
	}
	if key != "" {
		product.ImagePath = &key
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		category, err := tx.GetCategory(ctx, in.CategoryID)
		if err != nil {
			return err
		}
		if err := tx.CreateProduct(ctx, product); err != nil {
			return err
		}
		product.CategoryName = category.Name
		return nil
	})
	if err != nil {
		s.discardImage(key)
		return nil, err
	}

	s.metrics.CatalogWrites.WithLabelValues("product", "create").Inc()
	s.logger.Info("product created",
		slog.String("productID", product.ID),
		slog.String("name", product.Name),
	)
	return product, nil
}

// CreateProductInCategory creates a product in the category named
// categoryName, creating that category first when no category has exactly
// that name. A new category name still has to pass the duplicate rule.
func (s *CatalogService) CreateProductInCategory(ctx context.Context, name string, price float64, categoryName string) (*model.Product, error) {
	name, err := cleanName("name", name, MaxNameLength)
	if err != nil {
		return nil, err
	}
	if err := validatePrice(price); err != nil {
		return nil, err
	}
	categoryName, err = cleanName("category", categoryName, MaxNameLength)
	if err != nil {
		return nil, err
	}

	product := &model.Product{Name: name, Price: price}
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		category, err := s.findOrCreateCategory(ctx, tx, categoryName)
		if err != nil {
			return err
		}
		product.CategoryID = category.ID
		product.CategoryName = category.Name
		return tx.CreateProduct(ctx, product)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CatalogWrites.WithLabelValues("product", "create").Inc()
	s.logger.Info("product created",
		slog.String("productID", product.ID),
		slog.String("name", product.Name),
	)
	return product, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return s.store.GetProduct(ctx, id)
}

// UpdateProduct applies patch to the product. A new image replaces the old
// one, which is deleted after the change commits.
func (s *CatalogService) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (*model.Product, error) {
	var name string
	if patch.Name != nil {
		n, err := cleanName("name", *patch.Name, MaxNameLength)
		if err != nil {
			return nil, err
		}
		name = n
	}
	if patch.Price != nil {
		if err := validatePrice(*patch.Price); err != nil {
			return nil, err
		}
	}
	if patch.CategoryID != nil && strings.TrimSpace(*patch.CategoryID) == "" {
		return nil, apperror.ValidationFailed("category", "category is required")
	}

	key, err := s.saveImage(ctx, patch.Image)
	if err != nil {
		return nil, err
	}

	var (
		product  *model.Product
		oldImage string
	)
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			p.Name = name
		}
		if patch.Price != nil {
			p.Price = *patch.Price
		}
		if patch.CategoryID != nil {
			p.CategoryID = *patch.CategoryID
		}
		if key != "" {
			if p.ImagePath != nil {
				oldImage = *p.ImagePath
			}
			p.ImagePath = &key
		}
		if err := tx.UpdateProduct(ctx, p); err != nil {
			return err
		}
		product, err = tx.GetProduct(ctx, id)
		return err
	})
	if err != nil {
		s.discardImage(key)
		return nil, err
	}
	s.discardImage(oldImage)

	s.metrics.CatalogWrites.WithLabelValues("product", "update").Inc()
	s.logger.Info("product updated", slog.String("productID", id))
	return product, nil
}

// ReplaceProduct overwrites name, price and category of an existing product.
// The category is looked up by name, ignoring case, and must already exist.
func (s *CatalogService) ReplaceProduct(ctx context.Context, id, name string, price float64, categoryName string) (*model.Product, error) {
	name, err := cleanName("name", name, MaxNameLength)
	if err != nil {
		return nil, err
	}
	if err := validatePrice(price); err != nil {
		return nil, err
	}
	categoryName, err = cleanName("category", categoryName, MaxNameLength)
	if err != nil {
		return nil, err
	}

	var product *model.Product
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		category, err := tx.GetCategoryByName(ctx, categoryName)
		if err != nil {
			return err
		}
		p.Name = name
		p.Price = price
		p.CategoryID = category.ID
		p.CategoryName = category.Name
		if err := tx.UpdateProduct(ctx, p); err != nil {
			return err
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CatalogWrites.WithLabelValues("product", "update").Inc()
	s.logger.Info("product replaced", slog.String("productID", id))
	return product, nil
}

// DeleteProduct removes the product and then, best effort, its image.
func (s *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	var image string
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if p.ImagePath != nil {
			image = *p.ImagePath
		}
		return tx.DeleteProduct(ctx, id)
	})
	if err != nil {
		return err
	}
	s.discardImage(image)

	s.metrics.CatalogWrites.WithLabelValues("product", "delete").Inc()
	s.logger.Info("product deleted", slog.String("productID", id))
	return nil
}

// ListProducts returns one page of products, newest first. Pages are
// 1-based. A page past the end is empty, not an error.
func (s *CatalogService) ListProducts(ctx context.Context, page, pageSize int) (*model.Page[model.Product], error) {
	return s.listProducts(ctx, "", page, pageSize)
}

func (s *CatalogService) listProducts(ctx context.Context, query string, page, pageSize int) (*model.Page[model.Product], error) {
	if page < 1 {
		return nil, apperror.ValidationFailed("page", "page must be 1 or greater")
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, apperror.ValidationFailed("limit", "limit must be between 1 and 100")
	}

	result := &model.Page[model.Product]{Page: page, PageSize: pageSize}
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		total, err := tx.CountProducts(ctx, query)
		if err != nil {
			return err
		}
		items, err := tx.ListProducts(ctx, repository.ListOptions{
			Query:  query,
			Limit:  pageSize,
			Offset: (page - 1) * pageSize,
		})
		if err != nil {
			return err
		}
		result.Total = total
		result.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ImageURL turns a stored image key into a URL for the browser.
func (s *CatalogService) ImageURL(key string) string {
	return s.images.URL(key)
}

func (s *CatalogService) saveImage(ctx context.Context, img *ImageUpload) (string, error) {
	if img == nil || img.Filename == "" {
		return "", nil
	}
	return storage.SaveImage(ctx, s.images, img.Filename, img.Body)
}

// discardImage deletes key without failing the caller.
func (s *CatalogService) discardImage(key string) {
	if key == "" {
		return
	}
	if err := s.images.Delete(context.Background(), key); err != nil {
		s.logger.Warn("failed to delete image",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// =========================================================================
// CATEGORIES
// =========================================================================

// CreateCategory adds a category. The name must not contain, or be
// contained in, an existing category name (ignoring case).
func (s *CatalogService) CreateCategory(ctx context.Context, name string) (*model.Category, error) {
	name, err := cleanName("name", name, MaxNameLength)
	if err != nil {
		return nil, err
	}

	var category *model.Category
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		category, err = s.createCategory(ctx, tx, name)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("category created",
		slog.String("categoryID", category.ID),
		slog.String("name", category.Name),
	)
	return category, nil
}

func (s *CatalogService) createCategory(ctx context.Context, tx repository.Store, name string) (*model.Category, error) {
	if err := checkNoOverlap(ctx, tx, name, ""); err != nil {
		return nil, err
	}
	category := &model.Category{Name: name}
	if err := tx.CreateCategory(ctx, category); err != nil {
		return nil, err
	}
	s.metrics.CatalogWrites.WithLabelValues("category", "create").Inc()
	return category, nil
}

// FindOrCreateCategory returns the category whose name equals name ignoring
// case, creating it under the duplicate rule when there is none.
func (s *CatalogService) FindOrCreateCategory(ctx context.Context, name string) (*model.Category, error) {
	name, err := cleanName("name", name, MaxNameLength)
	if err != nil {
		return nil, err
	}

	var category *model.Category
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		category, err = s.findOrCreateCategory(ctx, tx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return category, nil
}

func (s *CatalogService) findOrCreateCategory(ctx context.Context, tx repository.Store, name string) (*model.Category, error) {
	category, err := tx.GetCategoryByName(ctx, name)
	if err == nil {
		return category, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}
	return s.createCategory(ctx, tx, name)
}

func checkNoOverlap(ctx context.Context, tx repository.Store, name, excludeID string) error {
	_, err := tx.FindOverlappingCategory(ctx, name, excludeID)
	if err == nil {
		return apperror.DuplicateCategory(name)
	}
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	return err
}

// RenameCategory changes a category's name under the same duplicate rule as
// CreateCategory, ignoring the category itself.
func (s *CatalogService) RenameCategory(ctx context.Context, id, name string) (*model.Category, error) {
	name, err := cleanName("name", name, MaxNameLength)
	if err != nil {
		return nil, err
	}

	var category *model.Category
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		category, err = tx.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		if err := checkNoOverlap(ctx, tx, name, id); err != nil {
			return err
		}
		category.Name = name
		return tx.UpdateCategory(ctx, category)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CatalogWrites.WithLabelValues("category", "update").Inc()
	s.logger.Info("category renamed",
		slog.String("categoryID", id),
		slog.String("name", name),
	)
	return category, nil
}

// GetCategory returns a category with its products sorted by name.
func (s *CatalogService) GetCategory(ctx context.Context, id string) (*CategoryDetail, error) {
	var detail CategoryDetail
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		category, err := tx.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		products, err := tx.ListProductsByCategory(ctx, id)
		if err != nil {
			return err
		}
		detail.Category = category
		detail.Products = products
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListCategories returns every category sorted by name.
func (s *CatalogService) ListCategories(ctx context.Context) ([]model.Category, error) {
	return s.store.ListCategories(ctx, repository.ListOptions{})
}

// DeleteCategory removes an empty category. It fails with a conflict while
// products still belong to it.
func (s *CatalogService) DeleteCategory(ctx context.Context, id string) error {
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.metrics.CatalogWrites.WithLabelValues("category", "delete").Inc()
	s.logger.Info("category deleted", slog.String("categoryID", id))
	return nil
}

// =========================================================================
// SEARCH
// =========================================================================

// Search finds products and categories whose names contain query, ignoring
// case. A blank query matches nothing.
func (s *CatalogService) Search(ctx context.Context, query string) (*model.SearchResult, error) {
	query = strings.TrimSpace(query)
	result := &model.SearchResult{
		Query:      query,
		Products:   []model.Product{},
		Categories: []model.Category{},
	}
	if query == "" {
		return result, nil
	}

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		products, err := tx.ListProducts(ctx, repository.ListOptions{Query: query})
		if err != nil {
			return err
		}
		categories, err := tx.ListCategories(ctx, repository.ListOptions{Query: query})
		if err != nil {
			return err
		}
		result.Products = products
		result.Categories = categories
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
