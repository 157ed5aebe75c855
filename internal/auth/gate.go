// Package auth gates HTTP requests on a verified session cookie.
//
// Two policies apply. Page navigation fails open: if the session cannot be
// checked because a backing service is down, the page still renders and the
// data calls it makes are refused on their own. Data access fails closed:
// any verification failure is treated as "not signed in".
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Laboratorynotices/listsmart/internal/identity"
	"github.com/Laboratorynotices/listsmart/internal/obs"
	"github.com/Laboratorynotices/listsmart/internal/urlutil"
)

const (
	DefaultCookieName = "__session"
	LoginPath         = "/login"
	HomePath          = "/"
)

type contextKey string

const identityKey contextKey = "identity"

// Gate verifies session cookies for page and data requests.
type Gate struct {
	verifier   identity.Verifier
	cookieName string
	secure     bool
}

// GateConfig configures a Gate.
type GateConfig struct {
	CookieName string
	// Secure marks cookies Secure. Disable only for plain-HTTP localhost.
	Secure bool
}

// NewGate creates a Gate backed by verifier.
func NewGate(verifier identity.Verifier, cfg GateConfig) *Gate {
	name := strings.TrimSpace(cfg.CookieName)
	if name == "" {
		name = DefaultCookieName
	}
	return &Gate{verifier: verifier, cookieName: name, secure: cfg.Secure}
}

// CookieName returns the session cookie name.
func (g *Gate) CookieName() string { return g.cookieName }

// verify returns the verifier's error untouched so callers can pick a policy.
func (g *Gate) verify(r *http.Request) (*identity.Identity, error) {
	token, ok := g.TokenFromRequest(r)
	if !ok {
		return nil, fmt.Errorf("%w: no session cookie", identity.ErrUnauthenticated)
	}
	return g.verifier.Verify(r.Context(), token)
}

// IdentityFromRequest re-checks the request's cookie. Every failure,
// including an unreachable revocation store, is reported as
// identity.ErrUnauthenticated.
func (g *Gate) IdentityFromRequest(r *http.Request) (*identity.Identity, error) {
	id, err := g.verify(r)
	if err == nil {
		return id, nil
	}
	if errors.Is(err, identity.ErrUnauthenticated) {
		return nil, err
	}
	obs.From(r.Context()).Warn("session_check_failed", "pkg", "auth", "path", r.URL.Path, "error", err)
	return nil, fmt.Errorf("%w: %v", identity.ErrUnauthenticated, err)
}

// Navigation guards browser pages. Signed-in users are sent from the login
// page to the home page; signed-out users are sent to the login page with
// their original location in ?redirect=. When the session cannot be checked
// for any other reason the request proceeds unchanged.
func (g *Gate) Navigation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		onLogin := r.URL.Path == LoginPath
		id, err := g.verify(r)
		switch {
		case err == nil:
			if onLogin {
				target := urlutil.SafeLocalPath(r.URL.Query().Get("redirect"), HomePath)
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
			r = r.WithContext(WithIdentity(r.Context(), id))
		case errors.Is(err, identity.ErrUnauthenticated):
			if !onLogin {
				http.Redirect(w, r, urlutil.LoginRedirect(LoginPath, r), http.StatusFound)
				return
			}
		default:
			obs.From(r.Context()).Warn("navigation_check_failed", "pkg", "auth", "path", r.URL.Path, "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireIdentity rejects requests without a valid session with 401 JSON
// and otherwise stores the identity in the request context.
func (g *Gate) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.IdentityFromRequest(r)
		if err != nil {
			WriteUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// WriteUnauthorized writes the standard 401 body.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"error":"Unauthorized"}`))
}

// WithIdentity stores id in ctx and tags the request log correlation.
func WithIdentity(ctx context.Context, id *identity.Identity) context.Context {
	if id == nil {
		return ctx
	}
	ctx = obs.WithUID(ctx, id.UID)
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity stored by the gate, if any.
func IdentityFromContext(ctx context.Context) (*identity.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*identity.Identity)
	return id, ok && id != nil
}

// GetUserID returns the signed-in uid, or "" when there is none.
func GetUserID(ctx context.Context) string {
	if id, ok := IdentityFromContext(ctx); ok {
		return id.UID
	}
	return ""
}

// UserIDFromRequest adapts GetUserID for per-user middleware such as rate
// limiting.
func UserIDFromRequest(r *http.Request) string {
	return GetUserID(r.Context())
}
