package handler

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/gorilla/csrf"

	"github.com/sakif/catalog/internal/auth"
	"github.com/sakif/catalog/internal/model"
)

// PageData is what every page template receives.
type PageData struct {
	Title     string
	Identity  model.Identity
	Flashes   []Flash
	CSRFField template.HTML
	// Form holds submitted values so a rejected form keeps its input.
	Form map[string]string
	Data any
}

// Renderer executes the embedded page templates. Each page is parsed
// together with the base layout and the partials into its own set, so every
// page can define its own "content" block.
type Renderer struct {
	pages    map[string]*template.Template
	sessions *Sessions
	logger   *slog.Logger
}

// NewRenderer parses every templates/pages/*.html file in fsys. imageURL
// turns a stored image key into a browser URL.
func NewRenderer(fsys fs.FS, sessions *Sessions, imageURL func(string) string, logger *slog.Logger) (*Renderer, error) {
	funcs := template.FuncMap{
		"price": func(p float64) string { return fmt.Sprintf("%.2f", p) },
		"add":   func(a, b int) int { return a + b },
		"sub":   func(a, b int) int { return a - b },
		"imageURL": func(key *string) string {
			if key == nil {
				return ""
			}
			return imageURL(*key)
		},
	}

	files, err := fs.Glob(fsys, "templates/pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("handler: listing templates: %w", err)
	}

	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(path.Base(file), ".html")
		t, err := template.New(name).Funcs(funcs).ParseFS(fsys,
			"templates/base.html",
			"templates/partials/*.html",
			file,
		)
		if err != nil {
			return nil, fmt.Errorf("handler: parsing template %s: %w", name, err)
		}
		pages[name] = t
	}

	return &Renderer{pages: pages, sessions: sessions, logger: logger}, nil
}

// Page renders a page template with status. The page is executed into a
// buffer first so a template error still produces a clean 500.
func (rd *Renderer) Page(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) {
	rd.page(w, r, status, page, PageData{Title: title, Data: data})
}

// Form renders a page that redisplays submitted form values.
func (rd *Renderer) Form(w http.ResponseWriter, r *http.Request, status int, page, title string, form map[string]string, data any) {
	rd.page(w, r, status, page, PageData{Title: title, Form: form, Data: data})
}

func (rd *Renderer) page(w http.ResponseWriter, r *http.Request, status int, page string, pd PageData) {
	t, ok := rd.pages[page]
	if !ok {
		rd.logger.Error("unknown template", slog.String("page", page))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	pd.Identity = auth.IdentityFromContext(r.Context())
	pd.Flashes = rd.sessions.Flashes(w, r)
	pd.CSRFField = csrf.TemplateField(r)

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", pd); err != nil {
		rd.logger.Error("rendering template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (rd *Renderer) BadRequest(w http.ResponseWriter, r *http.Request) {
	rd.Page(w, r, http.StatusBadRequest, "400", "Bad request", nil)
}

func (rd *Renderer) NotFound(w http.ResponseWriter, r *http.Request) {
	rd.Page(w, r, http.StatusNotFound, "404", "Not found", nil)
}

func (rd *Renderer) Forbidden(w http.ResponseWriter, r *http.Request) {
	rd.Page(w, r, http.StatusForbidden, "403", "Forbidden", nil)
}

// Error renders the error page matching err. Unexpected errors are logged
// and shown as a generic 500 page.
func (rd *Renderer) Error(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := statusFor(err)
	switch status {
	case http.StatusBadRequest:
		rd.BadRequest(w, r)
	case http.StatusNotFound:
		rd.NotFound(w, r)
	case http.StatusForbidden, http.StatusUnauthorized:
		rd.Forbidden(w, r)
	default:
		rd.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		rd.Page(w, r, http.StatusInternalServerError, "500", "Error", nil)
	}
}
