// Package api serves the JSON shopping-list endpoints under /api.
//
// Every data handler resolves the caller from the session cookie before it
// touches storage; a missing or bad cookie is always 401.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Laboratorynotices/listsmart/internal/auth"
	"github.com/Laboratorynotices/listsmart/internal/errs"
	"github.com/Laboratorynotices/listsmart/internal/identity"
	"github.com/Laboratorynotices/listsmart/internal/obs"
	"github.com/Laboratorynotices/listsmart/internal/ratelimit"
	"github.com/Laboratorynotices/listsmart/internal/shopping"
	"github.com/Laboratorynotices/listsmart/internal/shorturl"
	"github.com/Laboratorynotices/listsmart/internal/snapshot"
)

const (
	maxBodyBytes = 64 << 10

	// DefaultTimeout bounds one persistence round trip.
	DefaultTimeout = 10 * time.Second
)

var errBadInput = errs.New(errs.InvalidArgument, "Неверные входящие данные")

// Handler serves the shopping-list API.
type Handler struct {
	gate       *auth.Gate
	repo       shopping.Repository
	publisher  *snapshot.Publisher
	shortLinks *shorturl.Service
	baseURL    string
	limiter    *ratelimit.RateLimiter
	timeout    time.Duration
	now        func() time.Time
}

// Options configures optional Handler dependencies.
type Options struct {
	// Publisher enables POST /api/shopping-list/share.
	Publisher *snapshot.Publisher
	// ShortLinks, when set, adds a short link under BaseURL to share
	// responses.
	ShortLinks *shorturl.Service
	BaseURL    string
	// Limiter throttles each user's data requests. Nil disables throttling.
	Limiter *ratelimit.RateLimiter
	// Timeout bounds each persistence call. Zero means DefaultTimeout.
	Timeout time.Duration
}

// NewHandler creates the API handler.
func NewHandler(gate *auth.Gate, repo shopping.Repository, opts Options) *Handler {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Handler{
		gate:       gate,
		repo:       repo,
		publisher:  opts.Publisher,
		shortLinks: opts.ShortLinks,
		baseURL:    opts.BaseURL,
		limiter:    opts.Limiter,
		timeout:    timeout,
		now:        time.Now,
	}
}

// RegisterRoutes registers the API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/shopping-list", h.CreateItem)
	mux.HandleFunc("GET /api/shopping-list", h.ListItems)
	mux.HandleFunc("PATCH /api/shopping-list", h.UpdateItem)
	mux.HandleFunc("DELETE /api/shopping-list", h.DeleteItem)
	mux.Handle("GET /api/protected", h.gate.RequireIdentity(http.HandlerFunc(h.Protected)))
	if h.publisher != nil {
		mux.HandleFunc("POST /api/shopping-list/share", h.ShareList)
	}
}

// CreateItemRequest is the body of POST /api/shopping-list.
type CreateItemRequest struct {
	Item *shopping.ItemFields `json:"item"`
}

// UpdateItemRequest is the body of PATCH /api/shopping-list.
type UpdateItemRequest struct {
	ID   string              `json:"id"`
	Item *shopping.ItemPatch `json:"item"`
}

// CreateItem handles POST /api/shopping-list.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r, writeFailure)
	if !ok {
		return
	}

	var req CreateItemRequest
	if err := decodeBody(w, r, &req); err != nil || req.Item == nil {
		writeFailure(w, errBadInput)
		return
	}
	fields := req.Item.Normalize()
	if err := fields.Validate(); err != nil {
		writeFailure(w, err)
		return
	}

	ctx, cancel := h.opContext(r, id)
	defer cancel()
	item, err := h.repo.Create(ctx, id.UID, fields, h.now().UTC())
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Item added successfully",
		"item":    item,
	})
}

// ListItems handles GET /api/shopping-list.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r, writeFailure)
	if !ok {
		return
	}

	ctx, cancel := h.opContext(r, id)
	defer cancel()
	items, err := h.repo.List(ctx, id.UID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if items == nil {
		items = []shopping.Item{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": items})
}

// UpdateItem handles PATCH /api/shopping-list.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r, writeFailure)
	if !ok {
		return
	}

	var req UpdateItemRequest
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.ID) == "" || req.Item == nil {
		writeFailure(w, errBadInput)
		return
	}
	patch := req.Item.Normalize()
	if err := patch.Validate(); err != nil {
		writeFailure(w, err)
		return
	}

	ctx, cancel := h.opContext(r, id)
	defer cancel()
	if err := h.repo.Update(ctx, id.UID, req.ID, patch); err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Элемент обновлён"})
}

// DeleteItem handles DELETE /api/shopping-list?id=<id>. Its responses use
// the {status, message} shape, and the HTTP status equals status.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r, writeStatus)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(r.URL.Query().Get("id"))
	if itemID == "" {
		writeStatus(w, errs.New(errs.InvalidArgument, "ID обязателен"))
		return
	}

	ctx, cancel := h.opContext(r, id)
	defer cancel()
	if err := h.repo.Delete(ctx, id.UID, itemID); err != nil {
		writeStatus(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "message": "Элемент удален"})
}

// Protected handles GET /api/protected. The route is mounted behind
// Gate.RequireIdentity, so the identity comes from the request context.
func (h *Handler) Protected(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		auth.WriteUnauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Hello, " + id.DisplayName() + "!",
		"uid":     id.UID,
	})
}

// ShareList handles POST /api/shopping-list/share: it publishes a read-only
// copy of the caller's list and returns its URL.
func (h *Handler) ShareList(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r, writeFailure)
	if !ok {
		return
	}

	ctx, cancel := h.opContext(r, id)
	defer cancel()
	items, err := h.repo.List(ctx, id.UID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	url, err := h.publisher.Publish(ctx, id.UID, "Список покупок: "+id.DisplayName(), items, shopping.DefaultCategories)
	if err != nil {
		writeFailure(w, err)
		return
	}

	resp := map[string]any{"success": true, "url": url}
	if h.shortLinks != nil {
		link, err := h.shortLinks.Create(ctx, id.UID, url)
		if err != nil {
			obs.From(ctx).Warn("short_link_failed", "pkg", "api", "error", err)
		} else {
			resp["shortUrl"] = shorturl.URL(h.baseURL, link.ShortID)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// authorize resolves the caller and spends one unit of their rate budget.
// On failure it writes the response with fail and returns false.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, fail func(http.ResponseWriter, error)) (*identity.Identity, bool) {
	id, err := h.gate.IdentityFromRequest(r)
	if err != nil {
		fail(w, identity.ErrUnauthenticated)
		return nil, false
	}
	if h.limiter != nil && !h.limiter.Allow(id.UID) {
		obs.From(r.Context()).Warn("rate_limited", "pkg", "api", "uid", id.UID, "path", r.URL.Path)
		ratelimit.Deny(w)
		return nil, false
	}
	return id, true
}

// opContext bounds one persistence round trip and tags its logs with the uid.
func (h *Handler) opContext(r *http.Request, id *identity.Identity) (context.Context, context.CancelFunc) {
	return context.WithTimeout(auth.WithIdentity(r.Context(), id), h.timeout)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

// writeFailure writes the {success:false, error} shape.
func writeFailure(w http.ResponseWriter, err error) {
	writeJSON(w, errs.HTTPStatus(errs.CodeOf(err)), map[string]any{
		"success": false,
		"error":   errs.MessageOf(err),
	})
}

// writeStatus writes the {status, message} shape used by DELETE.
func writeStatus(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(errs.CodeOf(err))
	writeJSON(w, status, map[string]any{"status": status, "message": errs.MessageOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
