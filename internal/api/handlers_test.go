package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Laboratorynotices/listsmart/internal/auth"
	"github.com/Laboratorynotices/listsmart/internal/docstore"
	"github.com/Laboratorynotices/listsmart/internal/errs"
	"github.com/Laboratorynotices/listsmart/internal/identity"
	"github.com/Laboratorynotices/listsmart/internal/ratelimit"
	"github.com/Laboratorynotices/listsmart/internal/s3client"
	"github.com/Laboratorynotices/listsmart/internal/shopping"
	"github.com/Laboratorynotices/listsmart/internal/shorturl"
	"github.com/Laboratorynotices/listsmart/internal/snapshot"
)

// tokenVerifier accepts "token-<uid>" cookies.
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, token string) (*identity.Identity, error) {
	uid, ok := strings.CutPrefix(token, "token-")
	if !ok || uid == "" {
		return nil, identity.ErrUnauthenticated
	}
	return &identity.Identity{UID: uid, Name: strings.ToUpper(uid[:1]) + uid[1:]}, nil
}

// countingRepo records every call that reaches persistence.
type countingRepo struct {
	shopping.Repository
	mu    sync.Mutex
	calls []string
	fail  error
}

func (c *countingRepo) record(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, op)
	return c.fail
}

func (c *countingRepo) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *countingRepo) Create(ctx context.Context, uid string, f shopping.ItemFields, at time.Time) (shopping.Item, error) {
	if err := c.record("create"); err != nil {
		return shopping.Item{}, err
	}
	return c.Repository.Create(ctx, uid, f, at)
}

func (c *countingRepo) List(ctx context.Context, uid string) ([]shopping.Item, error) {
	if err := c.record("list"); err != nil {
		return nil, err
	}
	return c.Repository.List(ctx, uid)
}

func (c *countingRepo) Update(ctx context.Context, uid, id string, p shopping.ItemPatch) error {
	if err := c.record("update"); err != nil {
		return err
	}
	return c.Repository.Update(ctx, uid, id, p)
}

func (c *countingRepo) Delete(ctx context.Context, uid, id string) error {
	if err := c.record("delete"); err != nil {
		return err
	}
	return c.Repository.Delete(ctx, uid, id)
}

type apiFixture struct {
	mux  *http.ServeMux
	repo *countingRepo
}

func newFixture(t *testing.T, opts Options) *apiFixture {
	t.Helper()
	repo := &countingRepo{Repository: shopping.NewDocRepository(docstore.NewMemory())}
	gate := auth.NewGate(tokenVerifier{}, auth.GateConfig{})
	h := NewHandler(gate, repo, opts)
	h.now = func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) }
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &apiFixture{mux: mux, repo: repo}
}

func (f *apiFixture) do(t *testing.T, method, target, uid, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if uid != "" {
		req.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: "token-" + uid})
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func (f *apiFixture) create(t *testing.T, uid, name string) string {
	t.Helper()
	rec, body := f.do(t, http.MethodPost, "/api/shopping-list", uid,
		`{"item":{"name":"`+name+`","quantity":1,"completed":false}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	return body["item"].(map[string]any)["id"].(string)
}

func TestNoCookie_RejectedBeforeAnyRead(t *testing.T) {
	f := newFixture(t, Options{})

	for _, tc := range []struct{ method, target, body string }{
		{http.MethodGet, "/api/shopping-list", ""},
		{http.MethodPost, "/api/shopping-list", `{"item":{"name":"Milk","quantity":1}}`},
		{http.MethodPatch, "/api/shopping-list", `{"id":"x","item":{"completed":true}}`},
	} {
		rec, body := f.do(t, tc.method, tc.target, "", tc.body)
		require.Equal(t, http.StatusUnauthorized, rec.Code, tc.method)
		require.Equal(t, false, body["success"])
		require.Equal(t, "Unauthorized", body["error"])
	}

	rec, body := f.do(t, http.MethodDelete, "/api/shopping-list?id=x", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.EqualValues(t, http.StatusUnauthorized, body["status"])

	require.Empty(t, f.repo.Calls())
}

func TestCreateThenList(t *testing.T) {
	f := newFixture(t, Options{})

	rec, body := f.do(t, http.MethodPost, "/api/shopping-list", "alice",
		`{"item":{"name":"  Milk ","quantity":2,"completed":false,"category":"Продукты"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, true, body["success"])
	require.Equal(t, "Item added successfully", body["message"])
	item := body["item"].(map[string]any)
	require.NotEmpty(t, item["id"])
	require.Equal(t, "Milk", item["name"])
	require.Equal(t, "2026-05-04T10:00:00Z", item["createdAt"])

	rec, body = f.do(t, http.MethodGet, "/api/shopping-list", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	got := data[0].(map[string]any)
	require.Equal(t, item["id"], got["id"])
	require.Equal(t, "Продукты", got["category"])
	require.EqualValues(t, 2, got["quantity"])

	_, body = f.do(t, http.MethodGet, "/api/shopping-list", "bob", "")
	require.Equal(t, []any{}, body["data"])
}

func TestCreate_InvalidInput(t *testing.T) {
	f := newFixture(t, Options{})

	cases := map[string]struct {
		body string
		msg  string
	}{
		"not json":       {`{`, "Неверные входящие данные"},
		"no item":        {`{}`, "Неверные входящие данные"},
		"trailing data":  {`{"item":{"name":"a"}} {}`, "Неверные входящие данные"},
		"blank name":     {`{"item":{"name":"   ","quantity":1}}`, "name is required"},
		"negative count": {`{"item":{"name":"Eggs","quantity":-1}}`, "quantity must be a non-negative number"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec, body := f.do(t, http.MethodPost, "/api/shopping-list", "alice", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, false, body["success"])
			require.Equal(t, tc.msg, body["error"])
		})
	}
	require.Empty(t, f.repo.Calls())
}

func TestUpdate(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.create(t, "alice", "Bread")

	rec, body := f.do(t, http.MethodPatch, "/api/shopping-list", "alice",
		`{"id":"`+id+`","item":{"completed":true,"id":"hijack","createdAt":"2000-01-01T00:00:00Z"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"success": true, "message": "Элемент обновлён"}, body)

	_, body = f.do(t, http.MethodGet, "/api/shopping-list", "alice", "")
	got := body["data"].([]any)[0].(map[string]any)
	require.Equal(t, id, got["id"])
	require.Equal(t, true, got["completed"])
	require.Equal(t, "Bread", got["name"])
	require.Equal(t, "2026-05-04T10:00:00Z", got["createdAt"])

	rec, body = f.do(t, http.MethodPatch, "/api/shopping-list", "alice", `{"id":"missing","item":{"completed":true}}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "item not found", body["error"])

	rec, _ = f.do(t, http.MethodPatch, "/api/shopping-list", "bob", `{"id":"`+id+`","item":{"completed":false}}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	for _, bad := range []string{`{"item":{"completed":true}}`, `{"id":"x"}`, `{"id":"x","item":{}}`} {
		rec, body = f.do(t, http.MethodPatch, "/api/shopping-list", "alice", bad)
		require.Equal(t, http.StatusBadRequest, rec.Code, bad)
		require.Equal(t, false, body["success"])
	}
}

func TestUpdate_TrimsLikeCreate(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.create(t, "alice", "Bread")

	rec, _ := f.do(t, http.MethodPatch, "/api/shopping-list", "alice",
		`{"id":"`+id+`","item":{"name":"  Rye bread ","category":" Выпечка  ","notes":"\n fresh \n"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, body := f.do(t, http.MethodGet, "/api/shopping-list", "alice", "")
	got := body["data"].([]any)[0].(map[string]any)
	require.Equal(t, "Rye bread", got["name"])
	require.Equal(t, "Выпечка", got["category"])
	require.Equal(t, "fresh", got["notes"])
}

func TestDelete(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.create(t, "alice", "Soap")

	rec, body := f.do(t, http.MethodDelete, "/api/shopping-list?id="+id, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"status": float64(200), "message": "Элемент удален"}, body)

	_, body = f.do(t, http.MethodGet, "/api/shopping-list", "alice", "")
	require.Empty(t, body["data"])

	rec, _ = f.do(t, http.MethodDelete, "/api/shopping-list?id="+id, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code, "deleting twice is not an error")
}

func TestDelete_MissingIDRejectedBeforePersistence(t *testing.T) {
	f := newFixture(t, Options{})

	for _, target := range []string{"/api/shopping-list", "/api/shopping-list?id=", "/api/shopping-list?id=%20"} {
		rec, body := f.do(t, http.MethodDelete, target, "alice", "")
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		require.Equal(t, map[string]any{"status": float64(400), "message": "ID обязателен"}, body)
	}
	require.Empty(t, f.repo.Calls())
}

func TestPersistenceFailure_MessageSanitized(t *testing.T) {
	f := newFixture(t, Options{})
	f.repo.fail = errors.New("pq: password authentication failed for user listsmart")

	rec, body := f.do(t, http.MethodGet, "/api/shopping-list", "alice", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal error", body["error"])

	rec, body = f.do(t, http.MethodDelete, "/api/shopping-list?id=x", "alice", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.EqualValues(t, 500, body["status"])
	require.NotContains(t, rec.Body.String(), "password")

	f.repo.fail = errs.Wrap(errs.Unavailable, "store unavailable", errors.New("dial tcp: refused"))
	rec, body = f.do(t, http.MethodPost, "/api/shopping-list", "alice", `{"item":{"name":"Tea","quantity":1}}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "store unavailable", body["error"])
}

func TestProtected(t *testing.T) {
	f := newFixture(t, Options{})

	rec, body := f.do(t, http.MethodGet, "/api/protected", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"message": "Hello, Alice!", "uid": "alice"}, body)

	rec, _ = f.do(t, http.MethodGet, "/api/protected", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit_PerUser(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(ratelimit.Config{RPS: 0.001, Burst: 2, CleanupInterval: time.Hour})
	t.Cleanup(limiter.Stop)
	f := newFixture(t, Options{Limiter: limiter})

	for i := 0; i < 2; i++ {
		rec, _ := f.do(t, http.MethodGet, "/api/shopping-list", "alice", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, body := f.do(t, http.MethodGet, "/api/shopping-list", "alice", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "Too many requests", body["error"])
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec, _ = f.do(t, http.MethodGet, "/api/shopping-list", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.repo.Calls(), 3)
}

func TestShare(t *testing.T) {
	local, err := s3client.StartLocal(context.Background(), "shares")
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	f := newFixture(t, Options{Publisher: snapshot.NewPublisher(local.Client)})
	f.create(t, "alice", "Coffee")

	rec, body := f.do(t, http.MethodPost, "/api/shopping-list/share", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["success"])
	url := body["url"].(string)
	require.True(t, strings.HasPrefix(url, local.URL+"/shares/lists/"), url)

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NotContains(t, body, "shortUrl")

	rec, _ = f.do(t, http.MethodPost, "/api/shopping-list/share", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestShare_WithShortLink(t *testing.T) {
	local, err := s3client.StartLocal(context.Background(), "shares")
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	links := shorturl.NewService(docstore.NewMemory())
	f := newFixture(t, Options{
		Publisher:  snapshot.NewPublisher(local.Client),
		ShortLinks: links,
		BaseURL:    "https://list.example",
	})
	f.create(t, "alice", "Coffee")

	rec, body := f.do(t, http.MethodPost, "/api/shopping-list/share", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	short, _ := body["shortUrl"].(string)
	require.True(t, strings.HasPrefix(short, "https://list.example/s/"), short)

	target, err := links.Resolve(context.Background(), strings.TrimPrefix(short, "https://list.example/s/"))
	require.NoError(t, err)
	require.Equal(t, body["url"], target)
}

func TestShare_NotMountedWithoutPublisher(t *testing.T) {
	f := newFixture(t, Options{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/shopping-list/share", nil)
	req.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: "token-alice"})
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
