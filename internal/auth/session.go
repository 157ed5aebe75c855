package auth

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/Laboratorynotices/listsmart/internal/errs"
	"github.com/Laboratorynotices/listsmart/internal/identity"
	"github.com/Laboratorynotices/listsmart/internal/obs"
	"github.com/Laboratorynotices/listsmart/internal/urlutil"
)

// SetCookie stores a session cookie valid for ttl.
func (g *Gate) SetCookie(w http.ResponseWriter, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

// ClearCookie removes the session cookie.
func (g *Gate) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// TokenFromRequest returns the session cookie value.
func (g *Gate) TokenFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(g.cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return "", false
	}
	return cookie.Value, true
}

// SessionHandler exchanges provider ID tokens for session cookies.
type SessionHandler struct {
	gate   *Gate
	minter identity.SessionMinter
	ttl    time.Duration
}

// NewSessionHandler creates the session endpoints.
func NewSessionHandler(gate *Gate, minter identity.SessionMinter, ttl time.Duration) *SessionHandler {
	return &SessionHandler{gate: gate, minter: minter, ttl: ttl}
}

// RegisterRoutes registers the session routes on mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/__session", h.HandleCreateSession)
	mux.HandleFunc("POST /logout", h.HandleLogout)
}

type createSessionRequest struct {
	IDToken  string `json:"idToken"`
	Redirect string `json:"redirect,omitempty"`
}

const maxSessionBody = 64 << 10

// HandleCreateSession accepts {"idToken": ...} as JSON, or idToken/email
// form fields from the login page, and sets the session cookie.
func (h *SessionHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSessionBody)
	isForm := false
	var req createSessionRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		isForm = true
		if err := r.ParseForm(); err != nil {
			writeSessionError(w, errs.New(errs.InvalidArgument, "Invalid request body"))
			return
		}
		req.IDToken = r.PostFormValue("idToken")
		if req.IDToken == "" {
			req.IDToken = r.PostFormValue("email")
		}
		req.Redirect = r.PostFormValue("redirect")
	default:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeSessionError(w, errs.New(errs.InvalidArgument, "Invalid request body"))
			return
		}
	}

	if strings.TrimSpace(req.IDToken) == "" {
		if isForm {
			http.Redirect(w, r, LoginPath+"?error=missing", http.StatusSeeOther)
			return
		}
		writeSessionError(w, errs.New(errs.InvalidArgument, "idToken is required"))
		return
	}

	cookie, err := h.minter.MintSession(r.Context(), req.IDToken, h.ttl)
	if err != nil {
		obs.From(r.Context()).Info("session_mint_failed", "pkg", "auth", "error", err)
		if isForm {
			http.Redirect(w, r, LoginPath+"?error=signin", http.StatusSeeOther)
			return
		}
		writeSessionError(w, err)
		return
	}

	h.gate.SetCookie(w, cookie, h.ttl)
	target := urlutil.SafeLocalPath(req.Redirect, HomePath)
	if isForm {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "redirect": target})
}

// HandleLogout clears the session cookie and returns to the login page.
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.gate.ClearCookie(w)
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

func writeSessionError(w http.ResponseWriter, err error) {
	writeJSON(w, errs.HTTPStatus(errs.CodeOf(err)), map[string]any{
		"success": false,
		"error":   errs.MessageOf(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
