package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Laboratorynotices/listsmart/internal/auth"
	"github.com/Laboratorynotices/listsmart/internal/docstore"
	"github.com/Laboratorynotices/listsmart/internal/identity"
	"github.com/Laboratorynotices/listsmart/internal/shopping"
)

func TestServeHTTP_RecoversPanicWith500(t *testing.T) {
	server := &Server{
		httpHandler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("simulated panic")
		}),
	}

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	server.ServeHTTP(resp, req)

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.Contains(t, resp.Body.String(), "Internal server error")
}

func TestServeHTTP_NoWriteFromDelegateReturns500(t *testing.T) {
	server := &Server{
		httpHandler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
	}

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	resp := httptest.NewRecorder()

	server.ServeHTTP(resp, req)

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.Contains(t, resp.Body.String(), "MCP handler returned without writing response")
}

func TestServeHTTP_Preflight(t *testing.T) {
	server := NewServer(shopping.NewDocRepository(docstore.NewMemory()))

	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, httptest.NewRequest(http.MethodOptions, "/mcp", nil))

	require.Equal(t, http.StatusNoContent, resp.Code)
	require.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "86400", resp.Header().Get("Access-Control-Max-Age"))
}

type cookieVerifier struct{}

func (cookieVerifier) Verify(_ context.Context, token string) (*identity.Identity, error) {
	if uid, ok := strings.CutPrefix(token, "ok-"); ok {
		return &identity.Identity{UID: uid}, nil
	}
	return nil, identity.ErrUnauthenticated
}

type rpcResponse struct {
	Result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func postRPC(t *testing.T, url, cookie, body string) (*http.Response, rpcResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: cookie})
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out rpcResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestStreamableHTTP_ToolsActAsCaller(t *testing.T) {
	repo := shopping.NewDocRepository(docstore.NewMemory())
	gate := auth.NewGate(cookieVerifier{}, auth.GateConfig{})
	srv := httptest.NewServer(gate.RequireIdentity(NewServer(repo)))
	t.Cleanup(srv.Close)

	resp, _ := postRPC(t, srv.URL, "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, out := postRPC(t, srv.URL, "ok-alice", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, out.Error)
	var names []string
	for _, tool := range out.Result.Tools {
		names = append(names, tool.Name)
	}
	require.ElementsMatch(t, []string{ToolList, ToolAdd, ToolToggle, ToolUpdate, ToolRemove, ToolClearCompleted}, names)

	resp, out = postRPC(t, srv.URL, "ok-alice",
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"shopping_add","arguments":{"name":"Oranges","quantity":6}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, out.Result.IsError, out.Result.Content)

	items, err := repo.List(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Oranges", items[0].Name)
	require.Equal(t, 6.0, items[0].Quantity)

	other, err := repo.List(context.Background(), "bob")
	require.NoError(t, err)
	require.Empty(t, other)
}
