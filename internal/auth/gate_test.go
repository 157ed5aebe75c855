package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Laboratorynotices/listsmart/internal/errs"
	"github.com/Laboratorynotices/listsmart/internal/identity"
)

// stubVerifier accepts "good-<uid>" cookies, fails "down" with an
// unavailable error, and rejects everything else.
type stubVerifier struct {
	calls int
}

func (s *stubVerifier) Verify(_ context.Context, token string) (*identity.Identity, error) {
	s.calls++
	switch {
	case token == "down":
		return nil, errs.Wrap(errs.Unavailable, "session check unavailable", errors.New("redis down"))
	case len(token) > 5 && token[:5] == "good-":
		return &identity.Identity{UID: token[5:], Name: "Tester"}, nil
	default:
		return nil, fmt.Errorf("%w: bad token", identity.ErrUnauthenticated)
	}
}

func newTestGate() (*Gate, *stubVerifier) {
	v := &stubVerifier{}
	return NewGate(v, GateConfig{}), v
}

func requestWithCookie(method, target, cookie string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: cookie})
	}
	return req
}

func okHandler(seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = GetUserID(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestNavigation(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		cookie   string
		status   int
		location string
		uid      string
	}{
		{"signed in on home", "/", "good-alice", http.StatusOK, "", "alice"},
		{"signed in on login", "/login", "good-alice", http.StatusFound, "/", ""},
		{"signed in on login with redirect", "/login?redirect=%2F%3Fcategory%3Dx", "good-alice", http.StatusFound, "/?category=x", ""},
		{"signed in on login with offsite redirect", "/login?redirect=%2F%2Fevil.example", "good-alice", http.StatusFound, "/", ""},
		{"signed out on home", "/", "", http.StatusFound, "/login", ""},
		{"signed out deep link", "/items?category=x", "", http.StatusFound, "/login?redirect=" + url.QueryEscape("/items?category=x"), ""},
		{"bad cookie deep link", "/items", "forged", http.StatusFound, "/login?redirect=%2Fitems", ""},
		{"signed out on login", "/login", "", http.StatusOK, "", ""},
		{"verifier down on home", "/", "down", http.StatusOK, "", ""},
		{"verifier down on login", "/login", "down", http.StatusOK, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, _ := newTestGate()
			var seen string
			rec := httptest.NewRecorder()
			gate.Navigation(okHandler(&seen)).ServeHTTP(rec, requestWithCookie(http.MethodGet, tt.target, tt.cookie))

			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.location, rec.Header().Get("Location"))
			require.Equal(t, tt.uid, seen)
		})
	}
}

func TestRequireIdentity(t *testing.T) {
	for _, cookie := range []string{"", "forged", "down"} {
		t.Run("reject "+cookie, func(t *testing.T) {
			gate, _ := newTestGate()
			called := false
			h := gate.RequireIdentity(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, requestWithCookie(http.MethodGet, "/api/protected", cookie))

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.JSONEq(t, `{"success":false,"error":"Unauthorized"}`, rec.Body.String())
			require.False(t, called)
		})
	}

	gate, _ := newTestGate()
	var seen string
	rec := httptest.NewRecorder()
	gate.RequireIdentity(okHandler(&seen)).ServeHTTP(rec, requestWithCookie(http.MethodGet, "/api/protected", "good-bob"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "bob", seen)
}

func TestIdentityFromRequest_FailsClosed(t *testing.T) {
	gate, v := newTestGate()

	_, err := gate.IdentityFromRequest(requestWithCookie(http.MethodGet, "/", ""))
	require.ErrorIs(t, err, identity.ErrUnauthenticated)
	require.Zero(t, v.calls, "no cookie must not reach the verifier")

	_, err = gate.IdentityFromRequest(requestWithCookie(http.MethodGet, "/", "down"))
	require.ErrorIs(t, err, identity.ErrUnauthenticated)
	require.Equal(t, "Unauthorized", errs.MessageOf(err))

	id, err := gate.IdentityFromRequest(requestWithCookie(http.MethodGet, "/", "good-carol"))
	require.NoError(t, err)
	require.Equal(t, "carol", id.UID)
}

func TestCookieHelpers(t *testing.T) {
	gate := NewGate(&stubVerifier{}, GateConfig{CookieName: "sid", Secure: true})
	require.Equal(t, "sid", gate.CookieName())

	rec := httptest.NewRecorder()
	gate.SetCookie(rec, "value-1", time.Hour)
	set := rec.Result().Cookies()
	require.Len(t, set, 1)
	require.Equal(t, "sid", set[0].Name)
	require.Equal(t, "value-1", set[0].Value)
	require.True(t, set[0].HttpOnly)
	require.True(t, set[0].Secure)
	require.Equal(t, http.SameSiteLaxMode, set[0].SameSite)
	require.Equal(t, 3600, set[0].MaxAge)

	rec = httptest.NewRecorder()
	gate.ClearCookie(rec)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	require.Equal(t, -1, cleared[0].MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "abc"})
	token, ok := gate.TokenFromRequest(req)
	require.True(t, ok)
	require.Equal(t, "abc", token)

	_, ok = gate.TokenFromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, ok)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	_, ok := IdentityFromContext(ctx)
	require.False(t, ok)
	require.Empty(t, GetUserID(ctx))
	require.Equal(t, ctx, WithIdentity(ctx, nil))

	ctx = WithIdentity(ctx, &identity.Identity{UID: "dana"})
	require.Equal(t, "dana", GetUserID(ctx))
}

func TestNavigation_KeyEndpointDownDoesNotSignOut(t *testing.T) {
	keys := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusInternalServerError)
	}))
	defer keys.Close()

	clock := identity.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	provider, err := identity.NewLocalProvider("http://localhost:8080", clock)
	require.NoError(t, err)
	verifier := identity.NewJWTVerifier(identity.VerifierConfig{
		Issuer:   provider.Issuer(),
		Audience: identity.LocalAudience,
		KeySet:   identity.NewRemoteKeySet(keys.URL, keys.Client(), clock),
		Clock:    clock,
	})
	gate := NewGate(verifier, GateConfig{})
	cookie, err := provider.Sign(identity.Identity{UID: "alice"}, clock.Now(), time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	gate.Navigation(okHandler(nil)).ServeHTTP(rec, requestWithCookie(http.MethodGet, "/items", cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	gate.RequireIdentity(okHandler(nil)).ServeHTTP(rec, requestWithCookie(http.MethodGet, "/api/protected", cookie))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
