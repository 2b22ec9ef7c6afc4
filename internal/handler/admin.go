package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/catalog/internal/admin"
	"github.com/sakif/catalog/internal/apperror"
	"github.com/sakif/catalog/internal/model"
	"github.com/sakif/catalog/internal/service"
)

// AdminHandler serves /admin. It is only ever mounted behind
// auth.RequireAdmin, so nothing here checks permissions again.
type AdminHandler struct {
	admin    *service.AdminService
	render   *Renderer
	sessions *Sessions
	logger   *slog.Logger
}

func NewAdminHandler(adminService *service.AdminService, render *Renderer, sessions *Sessions, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:    adminService,
		render:   render,
		sessions: sessions,
		logger:   logger,
	}
}

type adminListPage struct {
	Entity admin.Entity
	Query  string
	Rows   []admin.Row
}

type adminFormPage struct {
	Entity     admin.Entity
	ID         string
	Action     string
	Fields     []admin.Field
	Values     admin.Values
	Categories []model.Category
}

// entity resolves the {entity} URL segment, rendering a 404 when unknown.
func (h *AdminHandler) entity(w http.ResponseWriter, r *http.Request) (admin.Entity, bool) {
	e, ok := admin.Lookup(chi.URLParam(r, "entity"))
	if !ok {
		h.render.NotFound(w, r)
	}
	return e, ok
}

// Index handles GET /admin.
func (h *AdminHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.render.Page(w, r, http.StatusOK, "admin_index", "Admin", admin.Entities())
}

// List handles GET /admin/{entity}?q=.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entity(w, r)
	if !ok {
		return
	}
	query := r.URL.Query().Get("q")

	rows, err := h.admin.List(r.Context(), e, query)
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	h.render.Page(w, r, http.StatusOK, "admin_list", e.Title, adminListPage{Entity: e, Query: query, Rows: rows})
}

// New handles GET /admin/{entity}/new.
func (h *AdminHandler) New(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entity(w, r)
	if !ok {
		return
	}
	h.form(w, r, http.StatusOK, e, "", admin.Values{})
}

// Create handles POST /admin/{entity}/new.
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entity(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.render.BadRequest(w, r)
		return
	}
	values := e.Bind(r.PostForm, admin.ModeCreate)

	if _, err := h.admin.Create(r.Context(), e, values); err != nil {
		h.rejected(w, r, e, "", values, err)
		return
	}

	h.sessions.AddFlash(w, r, FlashPositive, "Record was successfully created.")
	http.Redirect(w, r, "/admin/"+e.Name, http.StatusSeeOther)
}

// Edit handles GET /admin/{entity}/{id}/edit.
func (h *AdminHandler) Edit(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entity(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	values, err := h.admin.Get(r.Context(), e, id)
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	h.form(w, r, http.StatusOK, e, id, values)
}

// Update handles POST /admin/{entity}/{id}/edit.
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entity(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.render.BadRequest(w, r)
		return
	}
	id := chi.URLParam(r, "id")
	values := e.Bind(r.PostForm, admin.ModeEdit)

	if err := h.admin.Update(r.Context(), e, id, values); err != nil {
		h.rejected(w, r, e, id, values, err)
		return
	}

	h.sessions.AddFlash(w, r, FlashPositive, "Record was successfully saved.")
	http.Redirect(w, r, "/admin/"+e.Name, http.StatusSeeOther)
}

// Delete handles POST /admin/{entity}/{id}/delete.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entity(w, r)
	if !ok {
		return
	}

	err := h.admin.Delete(r.Context(), e, chi.URLParam(r, "id"))
	switch {
	case err == nil:
		h.sessions.AddFlash(w, r, FlashPositive, "Record was successfully deleted.")
	case errors.Is(err, apperror.ErrConflict), errors.Is(err, apperror.ErrNotFound):
		h.sessions.AddFlash(w, r, FlashNegative, userMessage(err))
	default:
		h.render.Error(w, r, err)
		return
	}
	http.Redirect(w, r, "/admin/"+e.Name, http.StatusSeeOther)
}

// rejected re-renders a form after a failed write. Password fields are never
// echoed back.
func (h *AdminHandler) rejected(w http.ResponseWriter, r *http.Request, e admin.Entity, id string, values admin.Values, err error) {
	if !errors.Is(err, apperror.ErrValidation) && !errors.Is(err, apperror.ErrConflict) && !errors.Is(err, apperror.ErrNotFound) {
		h.render.Error(w, r, err)
		return
	}
	for _, f := range e.Fields {
		if f.Kind == admin.KindPassword {
			delete(values, f.Name)
		}
	}
	h.sessions.AddFlash(w, r, FlashNegative, userMessage(err))
	h.form(w, r, http.StatusBadRequest, e, id, values)
}

func (h *AdminHandler) form(w http.ResponseWriter, r *http.Request, status int, e admin.Entity, id string, values admin.Values) {
	mode, action := admin.ModeCreate, "/admin/"+e.Name+"/new"
	if id != "" {
		mode, action = admin.ModeEdit, "/admin/"+e.Name+"/"+id+"/edit"
	}

	page := adminFormPage{
		Entity: e,
		ID:     id,
		Action: action,
		Fields: e.FormFields(mode),
		Values: values,
	}
	for _, f := range page.Fields {
		if f.Kind == admin.KindCategory {
			categories, err := h.admin.CategoryOptions(r.Context())
			if err != nil {
				h.render.Error(w, r, err)
				return
			}
			page.Categories = categories
			break
		}
	}

	h.render.Page(w, r, status, "admin_form", e.Title, page)
}
