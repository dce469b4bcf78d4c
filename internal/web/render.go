// Package web serves the blog twin's single-page front end.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// PageData is passed to the page template.
type PageData struct {
	Title        string
	APIPrefix    string
	StaticPrefix string
	Version      string
}

// Renderer executes the embedded page templates.
type Renderer struct {
	templates *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Renderer{templates: tmpl}, nil
}

// Render executes the named template into w. The page is rendered to a
// buffer first so a template error never leaves a half-written response.
func (r *Renderer) Render(w http.ResponseWriter, templateName string, data any) error {
	tmpl := r.templates.Lookup(templateName)
	if tmpl == nil {
		return fmt.Errorf("template %q not found", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to execute template %q: %w", templateName, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := buf.WriteTo(w)
	return err
}

// RenderError writes a plain error page.
func (r *Renderer) RenderError(w http.ResponseWriter, code int, message string) {
	http.Error(w, fmt.Sprintf("Error %d: %s", code, message), code)
}

// StaticFiles returns the embedded static assets rooted at their directory.
func StaticFiles() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("embedded static directory missing: %v", err))
	}
	return sub
}
