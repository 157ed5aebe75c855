// Package web provides HTTP handlers for the web UI.
//
// Pages sit behind Gate.Navigation. Form actions resolve the caller from the
// cookie themselves, build a Store for the request, apply one action, and
// redirect back with any error as a flash message.
package web

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Laboratorynotices/listsmart/internal/auth"
	"github.com/Laboratorynotices/listsmart/internal/identity"
	"github.com/Laboratorynotices/listsmart/internal/obs"
	"github.com/Laboratorynotices/listsmart/internal/shopping"
	"github.com/Laboratorynotices/listsmart/internal/urlutil"
)

const defaultTimeout = 10 * time.Second

// FirebaseConfig is the public web config of the Firebase project used by
// the login page.
type FirebaseConfig struct {
	APIKey     string
	AuthDomain string
	ProjectID  string
	AppID      string
}

// Config configures the web handler.
type Config struct {
	// LocalLogin shows the development email form instead of Firebase.
	LocalLogin bool
	Firebase   FirebaseConfig
	// Timeout bounds each request's persistence work.
	Timeout time.Duration
}

// WebHandler provides HTTP handlers for web UI pages.
type WebHandler struct {
	renderer *Renderer
	gate     *auth.Gate
	repo     shopping.Repository
	cfg      Config
}

// NewWebHandler creates a new web handler.
func NewWebHandler(renderer *Renderer, gate *auth.Gate, repo shopping.Repository, cfg Config) *WebHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &WebHandler{renderer: renderer, gate: gate, repo: repo, cfg: cfg}
}

// RegisterRoutes registers all web UI routes on the given mux.
func (h *WebHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /{$}", h.gate.Navigation(http.HandlerFunc(h.HandleList)))
	mux.Handle("GET "+auth.LoginPath, h.gate.Navigation(http.HandlerFunc(h.HandleLoginPage)))

	mux.HandleFunc("POST /items", h.HandleAddItem)
	mux.HandleFunc("POST /items/clear-completed", h.HandleClearCompleted)
	mux.HandleFunc("POST /items/{id}/toggle", h.HandleToggleItem)
	mux.HandleFunc("POST /items/{id}/delete", h.HandleDeleteItem)
}

// PageData contains common data passed to all templates.
type PageData struct {
	Title string
	User  *identity.Identity
	Flash string
}

// ListPageData contains data for the shopping list page.
type ListPageData struct {
	PageData
	Categories  []string
	Category    string
	Query       string
	Total       int
	ActiveCount int
	Active      []shopping.Item
	Completed   []shopping.Item
	ReturnTo    string
}

// LoginPageData contains data for the login page.
type LoginPageData struct {
	PageData
	Local    bool
	Firebase FirebaseConfig
	Redirect string
}

// ErrorPageData contains data for the error page.
type ErrorPageData struct {
	PageData
	Message   string
	ErrorCode int
}

// ItemView is one list row plus the page to return to after an action.
type ItemView struct {
	Item     shopping.Item
	ReturnTo string
}

func newItemView(item shopping.Item, returnTo string) ItemView {
	return ItemView{Item: item, ReturnTo: returnTo}
}

// HandleList handles GET / - the shopping list.
func (h *WebHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	data := ListPageData{
		PageData: PageData{
			Title: "Список покупок",
			Flash: query.Get("error"),
		},
		Category: strings.TrimSpace(query.Get("category")),
		Query:    strings.TrimSpace(query.Get("q")),
		ReturnTo: returnPath(r.URL),
	}

	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		// The session check failed open; show the page without data.
		data.Categories = shopping.DefaultCategories
		if data.Flash == "" {
			data.Flash = "Не удалось загрузить список"
		}
		h.render(w, "list.html", data)
		return
	}
	data.User = id

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()
	store := shopping.NewStore(h.repo, id.UID)
	if err := store.RefreshFromRemote(ctx); err != nil && data.Flash == "" {
		data.Flash = store.Error()
	}

	data.Categories = store.Categories()
	data.Total = store.TotalItems()
	data.ActiveCount = len(store.ActiveItems())

	items := store.Items()
	if data.Category != "" {
		items = store.ItemsByCategory(data.Category)
	}
	if data.Query != "" {
		program, err := shopping.CompileFilter(data.Query)
		if err != nil {
			data.Flash = "Неверный фильтр"
		} else if matched, err := shopping.MatchItems(program, items); err != nil {
			data.Flash = "Неверный фильтр"
		} else {
			items = matched
		}
	}
	for _, it := range items {
		if it.Completed {
			data.Completed = append(data.Completed, it)
		} else {
			data.Active = append(data.Active, it)
		}
	}

	h.render(w, "list.html", data)
}

// HandleLoginPage handles GET /login. Signed-in users never get here;
// Navigation sends them on to their redirect target.
func (h *WebHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	data := LoginPageData{
		PageData: PageData{Title: "Вход"},
		Local:    h.cfg.LocalLogin,
		Firebase: h.cfg.Firebase,
		Redirect: urlutil.SafeLocalPath(r.URL.Query().Get("redirect"), auth.HomePath),
	}
	switch r.URL.Query().Get("error") {
	case "":
	case "missing":
		data.Flash = "Введите email"
	default:
		data.Flash = "Не удалось войти"
	}
	h.render(w, "login.html", data)
}

// HandleAddItem handles POST /items.
func (h *WebHandler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	h.withStore(w, r, func(ctx context.Context, store *shopping.Store) error {
		quantity := 1.0
		if raw := strings.TrimSpace(r.FormValue("quantity")); raw != "" {
			q, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
			if err != nil {
				q = -1
			}
			quantity = q
		}
		_, err := store.AddItem(ctx, shopping.ItemFields{
			Name:     r.FormValue("name"),
			Quantity: quantity,
			Category: r.FormValue("category"),
			Notes:    r.FormValue("notes"),
		})
		return err
	})
}

// HandleToggleItem handles POST /items/{id}/toggle.
func (h *WebHandler) HandleToggleItem(w http.ResponseWriter, r *http.Request) {
	h.withStore(w, r, func(ctx context.Context, store *shopping.Store) error {
		return store.ToggleComplete(ctx, r.PathValue("id"))
	})
}

// HandleDeleteItem handles POST /items/{id}/delete.
func (h *WebHandler) HandleDeleteItem(w http.ResponseWriter, r *http.Request) {
	h.withStore(w, r, func(ctx context.Context, store *shopping.Store) error {
		return store.RemoveItem(ctx, r.PathValue("id"))
	})
}

// HandleClearCompleted handles POST /items/clear-completed.
func (h *WebHandler) HandleClearCompleted(w http.ResponseWriter, r *http.Request) {
	h.withStore(w, r, func(ctx context.Context, store *shopping.Store) error {
		return store.ClearCompleted(ctx)
	})
}

// withStore runs one list action for the signed-in user and redirects back
// to the page named by the "return" form field.
func (h *WebHandler) withStore(w http.ResponseWriter, r *http.Request, action func(context.Context, *shopping.Store) error) {
	id, err := h.gate.IdentityFromRequest(r)
	if err != nil {
		http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
		return
	}
	back := urlutil.SafeLocalPath(r.FormValue("return"), auth.HomePath)

	ctx, cancel := context.WithTimeout(auth.WithIdentity(r.Context(), id), h.cfg.Timeout)
	defer cancel()
	store := shopping.NewStore(h.repo, id.UID)
	if err := store.RefreshFromRemote(ctx); err == nil {
		if err := action(ctx, store); err != nil {
			obs.From(ctx).Warn("list_action_failed", "pkg", "web", "path", r.URL.Path, "error", err)
		}
	}

	http.Redirect(w, r, withFlash(back, store.Error()), http.StatusSeeOther)
}

func (h *WebHandler) render(w http.ResponseWriter, name string, data any) {
	if err := h.renderer.Render(w, name, data); err != nil {
		obs.Pkg("web").Error("render_failed", "template", name, "error", err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// returnPath is the current page without its flash message.
func returnPath(u *url.URL) string {
	q := u.Query()
	q.Del("error")
	if len(q) == 0 {
		return u.Path
	}
	return u.Path + "?" + q.Encode()
}

// withFlash adds msg as the "error" query parameter of a local path.
func withFlash(target, msg string) string {
	if msg == "" {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return auth.HomePath + "?error=" + url.QueryEscape(msg)
	}
	q := u.Query()
	q.Set("error", msg)
	u.RawQuery = q.Encode()
	return u.String()
}
