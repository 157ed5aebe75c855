package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Laboratorynotices/listsmart/internal/identity"
)

type stubMinter struct {
	gotToken string
	gotTTL   time.Duration
}

func (m *stubMinter) MintSession(_ context.Context, idToken string, ttl time.Duration) (string, error) {
	m.gotToken, m.gotTTL = idToken, ttl
	if idToken == "bad" {
		return "", fmt.Errorf("%w: rejected", identity.ErrUnauthenticated)
	}
	return "good-" + idToken, nil
}

func newSessionMux(t *testing.T) (*http.ServeMux, *stubMinter) {
	t.Helper()
	gate, _ := newTestGate()
	minter := &stubMinter{}
	mux := http.NewServeMux()
	NewSessionHandler(gate, minter, 2*time.Hour).RegisterRoutes(mux)
	return mux, minter
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultCookieName {
			return c
		}
	}
	return nil
}

func TestCreateSession_JSON(t *testing.T) {
	mux, minter := newSessionMux(t)
	req := httptest.NewRequest(http.MethodPost, "/api/__session", strings.NewReader(`{"idToken":"alice","redirect":"/?category=x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["success"])
	require.Equal(t, "/?category=x", body["redirect"])
	require.Equal(t, "alice", minter.gotToken)
	require.Equal(t, 2*time.Hour, minter.gotTTL)

	c := sessionCookie(t, rec)
	require.NotNil(t, c)
	require.Equal(t, "good-alice", c.Value)
}

func TestCreateSession_JSONErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"malformed", `{`, http.StatusBadRequest, "Invalid request body"},
		{"missing token", `{}`, http.StatusBadRequest, "idToken is required"},
		{"empty body", ``, http.StatusBadRequest, "idToken is required"},
		{"rejected token", `{"idToken":"bad"}`, http.StatusUnauthorized, "Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := newSessionMux(t)
			req := httptest.NewRequest(http.MethodPost, "/api/__session", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			require.JSONEq(t, fmt.Sprintf(`{"success":false,"error":%q}`, tt.msg), rec.Body.String())
			require.Nil(t, sessionCookie(t, rec))
		})
	}
}

func TestCreateSession_Form(t *testing.T) {
	mux, minter := newSessionMux(t)
	form := url.Values{"email": {"erin@example.com"}, "redirect": {"https://evil.example"}}
	req := httptest.NewRequest(http.MethodPost, "/api/__session", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))
	require.Equal(t, "erin@example.com", minter.gotToken)
	require.NotNil(t, sessionCookie(t, rec))

	form = url.Values{"email": {"bad"}}
	req = httptest.NewRequest(http.MethodPost, "/api/__session", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/login?error=signin", rec.Header().Get("Location"))
}

func TestLogout(t *testing.T) {
	mux, _ := newSessionMux(t)
	req := requestWithCookie(http.MethodPost, "/logout", "good-alice")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, LoginPath, rec.Header().Get("Location"))
	c := sessionCookie(t, rec)
	require.NotNil(t, c)
	require.Equal(t, -1, c.MaxAge)
}
