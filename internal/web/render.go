// Package web provides HTML template rendering for the web UI.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/Laboratorynotices/listsmart/internal/notes"
	"github.com/Laboratorynotices/listsmart/internal/snapshot"
)

//go:embed templates
var templateFS embed.FS

// Renderer manages HTML template rendering with caching and custom functions.
type Renderer struct {
	templates map[string]*template.Template
	funcMap   template.FuncMap
	mu        sync.RWMutex
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	return NewRendererFS(sub)
}

// NewRendererFS parses base.html from fsys, then combines it with each page
// template under pages/. Page templates are keyed by their name inside
// pages/ (e.g. "list.html").
func NewRendererFS(fsys fs.FS) (*Renderer, error) {
	r := &Renderer{
		templates: make(map[string]*template.Template),
		funcMap:   createFuncMap(),
	}

	if err := r.parseTemplates(fsys); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	return r, nil
}

// Render executes the named template with the given data and writes the result to w.
func (r *Renderer) Render(w http.ResponseWriter, templateName string, data any) error {
	r.mu.RLock()
	tmpl, ok := r.templates[templateName]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("template %q not found", templateName)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		return fmt.Errorf("failed to execute template %q: %w", templateName, err)
	}

	return nil
}

// RenderError renders an error page with the given HTTP status code and message.
func (r *Renderer) RenderError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)

	r.mu.RLock()
	tmpl, ok := r.templates["error.html"]
	r.mu.RUnlock()

	if ok {
		data := ErrorPageData{
			PageData:  PageData{Title: http.StatusText(code)},
			Message:   message,
			ErrorCode: code,
		}
		if err := tmpl.ExecuteTemplate(w, "base", data); err == nil {
			return
		}
	}

	http.Error(w, fmt.Sprintf("Error %d: %s", code, message), code)
}

func (r *Renderer) parseTemplates(fsys fs.FS) error {
	baseContent, err := fs.ReadFile(fsys, "base.html")
	if err != nil {
		return fmt.Errorf("failed to read base template: %w", err)
	}

	pages, err := fs.Glob(fsys, "pages/*.html")
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return fmt.Errorf("no page templates found")
	}

	for _, page := range pages {
		pageContent, err := fs.ReadFile(fsys, page)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", page, err)
		}

		tmpl, err := template.New("base").Funcs(r.funcMap).Parse(string(baseContent))
		if err != nil {
			return fmt.Errorf("failed to parse base template for %s: %w", page, err)
		}
		if _, err := tmpl.Parse(string(pageContent)); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", page, err)
		}

		r.mu.Lock()
		r.templates[path.Base(page)] = tmpl
		r.mu.Unlock()
	}

	return nil
}

func createFuncMap() template.FuncMap {
	return template.FuncMap{
		"formatTime": formatTime,
		"truncate":   truncate,
		"markdown":   notes.Render,
		"summary":    notes.Summary,
		"preview":    notes.ContentPreview,
		"quantity":   snapshot.FormatQuantity,
		"selected":   selected,
		"itemView":   newItemView,
	}
}

// formatTime formats a time.Time as a short date, e.g. "2 Jan 2006".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2 Jan 2006")
}

// truncate cuts s to n runes, ending with "..." when it was cut.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}

	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}

	return string(runes[:n-3]) + "..."
}

func selected(a, b string) template.HTMLAttr {
	if strings.EqualFold(a, b) {
		return "selected"
	}
	return ""
}
