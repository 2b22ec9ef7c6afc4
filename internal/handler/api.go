package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/catalog/internal/apperror"
	"github.com/sakif/catalog/internal/auth"
	"github.com/sakif/catalog/internal/model"
	"github.com/sakif/catalog/internal/service"
)

// maxAPIBody bounds a JSON request body.
const maxAPIBody = 1 << 20

// APIHandler serves /api/v1/product. It sits behind auth.BasicAuth, so every
// request here already has an authenticated identity; writes additionally
// need an admin.
type APIHandler struct {
	catalog *service.CatalogService
	logger  *slog.Logger
}

func NewAPIHandler(catalog *service.CatalogService, logger *slog.Logger) *APIHandler {
	return &APIHandler{catalog: catalog, logger: logger}
}

// apiProduct is the per-product value of every response: a JSON object
// keyed by product id.
type apiProduct struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Category string  `json:"category"`
}

func productsResponse(products ...model.Product) map[string]apiProduct {
	res := make(map[string]apiProduct, len(products))
	for _, p := range products {
		res[p.ID] = apiProduct{Name: p.Name, Price: p.Price, Category: p.CategoryName}
	}
	return res
}

// productRequest is the body of POST and PUT.
//
//	{"name": "Widget", "price": 9.99, "category": {"name": "Tools"}}
type productRequest struct {
	Name     string   `json:"name"`
	Price    *float64 `json:"price"`
	Category *struct {
		Name string `json:"name"`
	} `json:"category"`
}

// RequireAdmin refuses API writes from non-admin users with a JSON 403.
func (h *APIHandler) RequireAdmin(next http.Handler) http.Handler {
	return auth.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, h.logger, apperror.Forbidden("admin rights required"))
	}))(next)
}

// List handles GET /api/v1/product?page=1&limit=20.
func (h *APIHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	limit, err := queryInt(r, "limit", service.DefaultPageSize)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if page < 1 {
		writeError(w, h.logger, apperror.ValidationFailed("page", "page must be 1 or greater"))
		return
	}
	if limit < 1 || limit > service.MaxPageSize {
		writeError(w, h.logger, apperror.ValidationFailed("limit", "limit must be between 1 and 100"))
		return
	}

	products, err := h.catalog.ListProducts(r.Context(), page, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, productsResponse(products.Items...))
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(key, key+" must be an integer")
	}
	return n, nil
}

// Get handles GET /api/v1/product/{id}.
func (h *APIHandler) Get(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, productsResponse(*product))
}

// Create handles POST /api/v1/product. The category is matched by name and
// created when no category has that exact name.
func (h *APIHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, err := decodeProduct(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	product, err := h.catalog.CreateProductInCategory(r.Context(), req.Name, *req.Price, req.Category.Name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, productsResponse(*product))
}

// Replace handles PUT /api/v1/product/{id}. The named category must exist.
func (h *APIHandler) Replace(w http.ResponseWriter, r *http.Request) {
	req, err := decodeProduct(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	product, err := h.catalog.ReplaceProduct(r.Context(), chi.URLParam(r, "id"), req.Name, *req.Price, req.Category.Name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, productsResponse(*product))
}

// Delete handles DELETE /api/v1/product/{id}.
func (h *APIHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": "Success"})
}

// decodeProduct reads a productRequest. Unknown fields, trailing data and
// missing price or category are all validation errors.
func decodeProduct(w http.ResponseWriter, r *http.Request) (*productRequest, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBody))
	dec.DisallowUnknownFields()

	var req productRequest
	if err := dec.Decode(&req); err != nil {
		return nil, apperror.ValidationFailed("body", "invalid JSON body: "+err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, apperror.ValidationFailed("body", "request body must contain a single JSON object")
	}
	if req.Price == nil {
		return nil, apperror.ValidationFailed("price", "price is required")
	}
	if req.Category == nil {
		return nil, apperror.ValidationFailed("category", "category is required")
	}
	return &req, nil
}
