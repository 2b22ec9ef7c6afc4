package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sakif/catalog/internal/admin"
	"github.com/sakif/catalog/internal/apperror"
	"github.com/sakif/catalog/internal/auth"
	"github.com/sakif/catalog/internal/model"
	"github.com/sakif/catalog/internal/repository"
)

// AdminService backs the admin panel. It works on admin.Values that were
// already bound through the entity schema, and delegates product and
// category writes to CatalogService so the catalog rules apply here too.
type AdminService struct {
	store     repository.Store
	passwords *auth.PasswordService
	catalog   *CatalogService
	logger    *slog.Logger
}

func NewAdminService(
	store repository.Store,
	passwords *auth.PasswordService,
	catalog *CatalogService,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		store:     store,
		passwords: passwords,
		catalog:   catalog,
		logger:    logger,
	}
}

func unknownEntity(e admin.Entity) error {
	return apperror.NotFound("entity", e.Name)
}

// List returns the rows of entity whose searchable field contains query.
func (s *AdminService) List(ctx context.Context, e admin.Entity, query string) ([]admin.Row, error) {
	opts := repository.ListOptions{Query: strings.TrimSpace(query)}

	switch e.Name {
	case "users":
		users, err := s.store.ListUsers(ctx, opts)
		if err != nil {
			return nil, err
		}
		rows := make([]admin.Row, 0, len(users))
		for _, u := range users {
			rows = append(rows, admin.Row{ID: u.ID, Cells: []string{u.Username, strconv.FormatBool(u.Admin)}})
		}
		return rows, nil

	case "products":
		products, err := s.store.ListProducts(ctx, opts)
		if err != nil {
			return nil, err
		}
		rows := make([]admin.Row, 0, len(products))
		for _, p := range products {
			image := ""
			if p.ImagePath != nil {
				image = *p.ImagePath
			}
			rows = append(rows, admin.Row{ID: p.ID, Cells: []string{p.Name, formatPrice(p.Price), image, p.CategoryName}})
		}
		return rows, nil

	case "categories":
		categories, err := s.store.ListCategories(ctx, opts)
		if err != nil {
			return nil, err
		}
		rows := make([]admin.Row, 0, len(categories))
		for _, c := range categories {
			rows = append(rows, admin.Row{ID: c.ID, Cells: []string{c.Name}})
		}
		return rows, nil
	}
	return nil, unknownEntity(e)
}

// Get returns the current values of the edit form fields. Password fields
// are always blank.
func (s *AdminService) Get(ctx context.Context, e admin.Entity, id string) (admin.Values, error) {
	switch e.Name {
	case "users":
		u, err := s.store.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		return admin.Values{"username": u.Username, "admin": strconv.FormatBool(u.Admin)}, nil

	case "products":
		p, err := s.store.GetProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		return admin.Values{"name": p.Name, "price": formatPrice(p.Price), "category": p.CategoryID}, nil

	case "categories":
		c, err := s.store.GetCategory(ctx, id)
		if err != nil {
			return nil, err
		}
		return admin.Values{"name": c.Name}, nil
	}
	return nil, unknownEntity(e)
}

// Create inserts a new row and returns its ID.
func (s *AdminService) Create(ctx context.Context, e admin.Entity, v admin.Values) (string, error) {
	switch e.Name {
	case "users":
		u, err := s.createUser(ctx, v)
		if err != nil {
			return "", err
		}
		return u.ID, nil

	case "products":
		price, err := parsePrice(v["price"])
		if err != nil {
			return "", err
		}
		p, err := s.catalog.CreateProduct(ctx, ProductInput{
			Name:       v["name"],
			Price:      price,
			CategoryID: v["category"],
		})
		if err != nil {
			return "", err
		}
		return p.ID, nil

	case "categories":
		c, err := s.catalog.CreateCategory(ctx, v["name"])
		if err != nil {
			return "", err
		}
		return c.ID, nil
	}
	return "", unknownEntity(e)
}

// Update writes the bound values to the row with the given ID.
func (s *AdminService) Update(ctx context.Context, e admin.Entity, id string, v admin.Values) error {
	switch e.Name {
	case "users":
		return s.updateUser(ctx, id, v)

	case "products":
		price, err := parsePrice(v["price"])
		if err != nil {
			return err
		}
		name, category := v["name"], v["category"]
		_, err = s.catalog.UpdateProduct(ctx, id, ProductPatch{
			Name:       &name,
			Price:      &price,
			CategoryID: &category,
		})
		return err

	case "categories":
		_, err := s.catalog.RenameCategory(ctx, id, v["name"])
		return err
	}
	return unknownEntity(e)
}

func (s *AdminService) Delete(ctx context.Context, e admin.Entity, id string) error {
	switch e.Name {
	case "users":
		if err := s.store.DeleteUser(ctx, id); err != nil {
			return err
		}
		s.logger.Info("user deleted", slog.String("userID", id))
		return nil
	case "products":
		return s.catalog.DeleteProduct(ctx, id)
	case "categories":
		return s.catalog.DeleteCategory(ctx, id)
	}
	return unknownEntity(e)
}

// CategoryOptions lists the choices for a category select field.
func (s *AdminService) CategoryOptions(ctx context.Context) ([]model.Category, error) {
	return s.catalog.ListCategories(ctx)
}

func (s *AdminService) createUser(ctx context.Context, v admin.Values) (*model.User, error) {
	username, err := cleanName("username", v["username"], MaxUsernameLength)
	if err != nil {
		return nil, err
	}
	if v["password"] == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}
	hash, err := s.passwords.Hash(v["password"])
	if err != nil {
		return nil, apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}

	user := &model.User{Username: username, PasswordHash: hash, Admin: v.Bool("admin")}
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := ensureUsernameFree(ctx, tx, username, ""); err != nil {
			return err
		}
		return tx.CreateUser(ctx, user)
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, usernameTaken()
		}
		return nil, err
	}

	s.logger.Info("user created by admin", slog.String("userID", user.ID))
	return user, nil
}

// updateUser changes username and admin flag, and the password when
// new_password is filled in. A confirmation mismatch is rejected before
// anything is written.
func (s *AdminService) updateUser(ctx context.Context, id string, v admin.Values) error {
	username, err := cleanName("username", v["username"], MaxUsernameLength)
	if err != nil {
		return err
	}

	newPassword := v["new_password"]
	if newPassword != v["confirm"] {
		return apperror.ValidationFailed("confirm", "Passwords must match")
	}
	var hash string
	if newPassword != "" {
		hash, err = s.passwords.Hash(newPassword)
		if err != nil {
			return apperror.ValidationFailed("new_password", "password must be 72 bytes or fewer")
		}
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		user, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if err := ensureUsernameFree(ctx, tx, username, id); err != nil {
			return err
		}
		user.Username = username
		user.Admin = v.Bool("admin")
		if hash != "" {
			user.PasswordHash = hash
			user.TokenVersion++
		}
		return tx.UpdateUser(ctx, user)
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return usernameTaken()
		}
		return err
	}

	s.logger.Info("user updated by admin",
		slog.String("userID", id),
		slog.Bool("passwordChanged", hash != ""),
	)
	return nil
}

func ensureUsernameFree(ctx context.Context, tx repository.Store, username, selfID string) error {
	other, err := tx.GetUserByUsername(ctx, username)
	if err == nil {
		if other.ID != selfID {
			return usernameTaken()
		}
		return nil
	}
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	return err
}

func parsePrice(raw string) (float64, error) {
	price, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, apperror.ValidationFailed("price", "price must be a number")
	}
	return price, nil
}

func formatPrice(p float64) string {
	return fmt.Sprintf("%.2f", p)
}
