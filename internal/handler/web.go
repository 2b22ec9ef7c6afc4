package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/catalog/internal/apperror"
	"github.com/sakif/catalog/internal/service"
)

// maxUploadBytes bounds a create-product form, image included.
const maxUploadBytes = 10 << 20

// WebHandler serves the public catalog pages and the create forms.
type WebHandler struct {
	catalog  *service.CatalogService
	render   *Renderer
	sessions *Sessions
	perPage  int
	logger   *slog.Logger
}

func NewWebHandler(
	catalog *service.CatalogService,
	render *Renderer,
	sessions *Sessions,
	perPage int,
	logger *slog.Logger,
) *WebHandler {
	return &WebHandler{
		catalog:  catalog,
		render:   render,
		sessions: sessions,
		perPage:  perPage,
		logger:   logger,
	}
}

// Index handles GET /.
func (h *WebHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.render.Page(w, r, http.StatusOK, "index", "", nil)
}

// Home handles GET /home.
func (h *WebHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.render.Page(w, r, http.StatusOK, "home", "Home", nil)
}

// Products handles GET /products and GET /products/{page}. A page past the
// last one renders an empty list; a page that is not a positive integer is
// not a route at all.
func (h *WebHandler) Products(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := chi.URLParam(r, "page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.render.NotFound(w, r)
			return
		}
		page = n
	}

	products, err := h.catalog.ListProducts(r.Context(), page, h.perPage)
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	h.render.Page(w, r, http.StatusOK, "products", "Products", products)
}

// Categories handles GET /categories.
func (h *WebHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	h.render.Page(w, r, http.StatusOK, "categories", "Categories", categories)
}

// Product handles GET /product/{id}.
func (h *WebHandler) Product(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	h.render.Page(w, r, http.StatusOK, "product", product.Name, product)
}

// Category handles GET /category/{id}.
func (h *WebHandler) Category(w http.ResponseWriter, r *http.Request) {
	detail, err := h.catalog.GetCategory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	h.render.Page(w, r, http.StatusOK, "category", detail.Category.Name, detail)
}

// Search handles POST /search.
func (h *WebHandler) Search(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render.BadRequest(w, r)
		return
	}

	result, err := h.catalog.Search(r.Context(), r.PostForm.Get("query"))
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	h.render.Page(w, r, http.StatusOK, "search", "Search", result)
}

// CreateProductForm handles GET /create-product.
func (h *WebHandler) CreateProductForm(w http.ResponseWriter, r *http.Request) {
	h.productForm(w, r, http.StatusOK, nil)
}

func (h *WebHandler) productForm(w http.ResponseWriter, r *http.Request, status int, form map[string]string) {
	categories, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	h.render.Form(w, r, status, "create_product", "New product", form, categories)
}

// CreateProduct handles POST /create-product (multipart, optional image).
//
// A rejected form is shown again with a 400 and the reason as a flash; an
// unknown category id is a 404.
func (h *WebHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.render.BadRequest(w, r)
		return
	}

	form := map[string]string{
		"name":     r.PostForm.Get("name"),
		"price":    r.PostForm.Get("price"),
		"category": r.PostForm.Get("category"),
	}

	price, err := strconv.ParseFloat(form["price"], 64)
	if err != nil {
		h.sessions.AddFlash(w, r, FlashNegative, "price must be a number")
		h.productForm(w, r, http.StatusBadRequest, form)
		return
	}

	in := service.ProductInput{
		Name:       form["name"],
		Price:      price,
		CategoryID: form["category"],
	}

	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		in.Image = &service.ImageUpload{Filename: header.Filename, Body: file}
	case errors.Is(err, http.ErrMissingFile):
	default:
		h.render.BadRequest(w, r)
		return
	}

	product, err := h.catalog.CreateProduct(r.Context(), in)
	if err != nil {
		if errors.Is(err, apperror.ErrValidation) {
			h.sessions.AddFlash(w, r, FlashNegative, userMessage(err))
			h.productForm(w, r, http.StatusBadRequest, form)
			return
		}
		h.render.Error(w, r, err)
		return
	}

	h.sessions.AddFlash(w, r, FlashPositive, fmt.Sprintf("Product %s created!", product.Name))
	http.Redirect(w, r, "/product/"+product.ID, http.StatusSeeOther)
}

// CreateCategoryForm handles GET /create-category.
func (h *WebHandler) CreateCategoryForm(w http.ResponseWriter, r *http.Request) {
	h.render.Form(w, r, http.StatusOK, "create_category", "New category", nil, nil)
}

// CreateCategory handles POST /create-category. A name that collides with an
// existing category is shown again with the duplicate message.
func (h *WebHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render.BadRequest(w, r)
		return
	}
	form := map[string]string{"name": r.PostForm.Get("name")}

	category, err := h.catalog.CreateCategory(r.Context(), form["name"])
	if err != nil {
		if errors.Is(err, apperror.ErrValidation) || errors.Is(err, apperror.ErrDuplicateCategory) {
			h.sessions.AddFlash(w, r, FlashNegative, userMessage(err))
			h.render.Form(w, r, http.StatusBadRequest, "create_category", "New category", form, nil)
			return
		}
		h.render.Error(w, r, err)
		return
	}

	h.sessions.AddFlash(w, r, FlashPositive, fmt.Sprintf("Category %s created!", category.Name))
	http.Redirect(w, r, "/category/"+category.ID, http.StatusSeeOther)
}
