package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var staticFS embed.FS

// StaticHandler serves the embedded stylesheet and other assets under
// /static/.
type StaticHandler struct {
	files http.Handler
}

// NewStaticHandler creates a handler for the embedded assets.
func NewStaticHandler() *StaticHandler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return &StaticHandler{files: http.StripPrefix("/static/", http.FileServerFS(sub))}
}

// RegisterRoutes registers static asset routes on the given mux.
func (h *StaticHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /static/", h)
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	h.files.ServeHTTP(w, r)
}
