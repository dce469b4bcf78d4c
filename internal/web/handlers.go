package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kuitang/blogcheck/internal/obs"
)

const (
	// PageTitle is the document title of the blog list page.
	PageTitle = "blogs"

	staticPrefix = "/static"
)

// Handler serves the page shell and its assets.
type Handler struct {
	renderer  *Renderer
	apiPrefix string
	version   string
}

// NewHandler creates the page handler. version busts asset caches between
// twin builds.
func NewHandler(renderer *Renderer, apiPrefix, version string) *Handler {
	if apiPrefix == "" {
		apiPrefix = "/api"
	}
	return &Handler{renderer: renderer, apiPrefix: apiPrefix, version: version}
}

// Routes mounts the page and static assets.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Index)
	r.Handle(staticPrefix+"/*", http.StripPrefix(staticPrefix, http.FileServerFS(StaticFiles())))
}

// Index renders the application shell. The script renders the login form or
// the blog list depending on the stored session.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	data := PageData{
		Title:        PageTitle,
		APIPrefix:    h.apiPrefix,
		StaticPrefix: staticPrefix,
		Version:      h.version,
	}
	if err := h.renderer.Render(w, "index", data); err != nil {
		obs.From(r.Context()).With("pkg", "web").Error("render_failed", "err", err)
		h.renderer.RenderError(w, http.StatusInternalServerError, "page unavailable")
	}
}
