// Package admin describes what the admin panel shows and accepts for each
// entity. The schema is an explicit table: a field that is not listed for a
// form mode is never read from a submitted form, so a request cannot set
// password digests or a category's product list.
package admin

import (
	"net/url"
	"strings"
)

// Kind selects the form widget and how a submitted value is interpreted.
type Kind string

const (
	KindText     Kind = "text"
	KindPassword Kind = "password"
	KindBool     Kind = "bool"
	KindNumber   Kind = "number"
	KindCategory Kind = "category"
)

// Mode is the form an entity is bound from.
type Mode int

const (
	ModeCreate Mode = iota
	ModeEdit
)

type Field struct {
	Name  string
	Label string
	Kind  Kind

	List   bool // shown as a column in the list view
	Create bool // accepted on the create form
	Edit   bool // accepted on the edit form
	Search bool // matched by the list view's search box
}

// InForm reports whether the field is accepted in mode.
func (f Field) InForm(mode Mode) bool {
	if mode == ModeCreate {
		return f.Create
	}
	return f.Edit
}

type Entity struct {
	Name   string // URL segment, e.g. "users"
	Title  string
	Fields []Field
}

// Values holds bound form values keyed by field name.
type Values map[string]string

// Bool reads a KindBool value written by Bind.
func (v Values) Bool(name string) bool {
	return v[name] == "true"
}

// Row is one line of a list view; Cells follow Entity.ListFields.
type Row struct {
	ID    string
	Cells []string
}

func (e Entity) ListFields() []Field {
	return e.filter(func(f Field) bool { return f.List })
}

func (e Entity) FormFields(mode Mode) []Field {
	return e.filter(func(f Field) bool { return f.InForm(mode) })
}

// Searchable reports whether the list view offers a search box.
func (e Entity) Searchable() bool {
	return len(e.filter(func(f Field) bool { return f.Search })) > 0
}

func (e Entity) filter(keep func(Field) bool) []Field {
	var out []Field
	for _, f := range e.Fields {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

// Bind copies the form values of the fields accepted in mode. Everything
// else in form is dropped. Unchecked checkboxes are absent from a submitted
// form, so bool fields always bind to "true" or "false".
func (e Entity) Bind(form url.Values, mode Mode) Values {
	values := Values{}
	for _, f := range e.FormFields(mode) {
		raw := form.Get(f.Name)
		if f.Kind == KindBool {
			values[f.Name] = boolString(raw)
			continue
		}
		values[f.Name] = raw
	}
	return values
}

func boolString(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "true", "1", "y", "yes":
		return "true"
	}
	return "false"
}

var entities = []Entity{
	{
		Name:  "users",
		Title: "Users",
		Fields: []Field{
			{Name: "username", Label: "Username", Kind: KindText, List: true, Create: true, Edit: true, Search: true},
			{Name: "admin", Label: "Admin", Kind: KindBool, List: true, Create: true, Edit: true},
			{Name: "password", Label: "Password", Kind: KindPassword, Create: true},
			{Name: "new_password", Label: "New password", Kind: KindPassword, Edit: true},
			{Name: "confirm", Label: "Repeat password", Kind: KindPassword, Edit: true},
		},
	},
	{
		Name:  "products",
		Title: "Products",
		Fields: []Field{
			{Name: "name", Label: "Name", Kind: KindText, List: true, Create: true, Edit: true, Search: true},
			{Name: "price", Label: "Price", Kind: KindNumber, List: true, Create: true, Edit: true},
			{Name: "image_path", Label: "Image", Kind: KindText, List: true},
			{Name: "category", Label: "Category", Kind: KindCategory, List: true, Create: true, Edit: true},
		},
	},
	{
		Name:  "categories",
		Title: "Categories",
		Fields: []Field{
			{Name: "name", Label: "Name", Kind: KindText, List: true, Create: true, Edit: true, Search: true},
		},
	},
}

// Entities returns the managed entities in menu order.
func Entities() []Entity {
	return entities
}

func Lookup(name string) (Entity, bool) {
	for _, e := range entities {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}
