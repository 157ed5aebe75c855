package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"pgregory.net/rapid"

	"github.com/Laboratorynotices/listsmart/internal/docstore"
	"github.com/Laboratorynotices/listsmart/internal/errs"
	"github.com/Laboratorynotices/listsmart/internal/shopping"
)

// fataler is satisfied by both *testing.T and *rapid.T.
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

func toolResultText(t fataler, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("missing tool result content: %#v", result)
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type: %T", result.Content[0])
	}
	return text.Text
}

func parseToolErrorPayload(t fataler, result *mcp.CallToolResult) toolErrorPayload {
	t.Helper()
	raw := toolResultText(t, result)
	var payload toolErrorPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("invalid tool error payload JSON: %v body=%q", err, raw)
	}
	return payload
}

func decodeResult[T any](t fataler, result *mcp.CallToolResult) T {
	t.Helper()
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolResultText(t, result))
	}
	var out T
	if err := json.Unmarshal([]byte(toolResultText(t, result)), &out); err != nil {
		t.Fatalf("invalid tool result JSON: %v", err)
	}
	return out
}

var fixedNow = time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)

func newTestHandler(uid string) (*Handler, shopping.Repository) {
	repo := shopping.NewDocRepository(docstore.NewMemory())
	return NewHandler(repo, uid, shopping.WithClock(func() time.Time { return fixedNow })), repo
}

// call runs a tool the way the MCP server does, folding errors into the result.
func call(t fataler, h *Handler, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, _, err := h.createToolHandler(name)(context.Background(), &mcp.CallToolRequest{}, args)
	if err != nil {
		t.Fatalf("%s returned transport error: %v", name, err)
	}
	return result
}

// ============================================================
// Argument decoding
// ============================================================

func testDecodeToolArgs_UnknownFieldsRejected(t *rapid.T) {
	extra := rapid.StringMatching(`[a-z_]{3,12}`).Filter(func(s string) bool { return s != "id" }).Draw(t, "extra")
	var decoded idArgs
	err := decodeToolArgs(map[string]any{"id": "item-1", extra: "unexpected"}, &decoded)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if got := errs.CodeOf(err); got != errs.InvalidArgument {
		t.Fatalf("unexpected error code: got=%q want=%q", got, errs.InvalidArgument)
	}
}

func TestDecodeToolArgs_UnknownFieldsRejected(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testDecodeToolArgs_UnknownFieldsRejected)
}

func TestDecodeToolArgs_NilMapBehavesAsEmptyObject(t *testing.T) {
	t.Parallel()
	var decoded listArgs
	if err := decodeToolArgs(nil, &decoded); err != nil {
		t.Fatalf("decodeToolArgs(nil) failed: %v", err)
	}
}

func TestDecodeToolArgs_PatchFieldsOnly(t *testing.T) {
	t.Parallel()
	var in updateArgs
	if err := decodeToolArgs(map[string]any{"id": "a", "quantity": 3.0}, &in); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.ID != "a" || in.Quantity == nil || *in.Quantity != 3 || in.Name != nil || in.Completed != nil {
		t.Fatalf("decoded %+v", in)
	}
	if err := decodeToolArgs(map[string]any{"id": "a", "createdAt": "2020-01-01T00:00:00Z"}, &in); errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("createdAt must not be patchable, got %v", err)
	}
}

// ============================================================
// Error shape
// ============================================================

func TestNewToolResultError_UsesStableJSONShape(t *testing.T) {
	t.Parallel()
	result := newToolResultError(errs.New(errs.InvalidArgument, "bad input"))
	if result == nil || !result.IsError {
		t.Fatalf("expected IsError tool result, got %#v", result)
	}
	payload := parseToolErrorPayload(t, result)
	if payload.Code != string(errs.InvalidArgument) || payload.Message != "bad input" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestNewToolResultError_HidesUntypedCauses(t *testing.T) {
	t.Parallel()
	payload := parseToolErrorPayload(t, newToolResultError(errors.New("dial tcp 10.0.0.5:5432: refused")))
	if payload.Code != string(errs.Internal) || payload.Message != "internal error" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleToolCall_UnknownToolReturnsCodedError(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler("alice")
	_, err := h.HandleToolCall(context.Background(), "does_not_exist", map[string]any{})
	if errs.CodeOf(err) != errs.NotFound {
		t.Fatalf("unexpected code: got=%q want=%q", errs.CodeOf(err), errs.NotFound)
	}

	payload := parseToolErrorPayload(t, call(t, h, "does_not_exist", nil))
	if payload.Code != string(errs.NotFound) || !strings.Contains(payload.Message, "unknown tool") {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleToolCall_NoUserIsUnauthenticated(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler("")
	for _, tool := range ToolDefinitions() {
		args := map[string]any{}
		switch tool.Name {
		case ToolAdd:
			args["name"] = "Milk"
		case ToolToggle, ToolRemove, ToolUpdate:
			args["id"] = "x"
		}
		if tool.Name == ToolUpdate {
			args["completed"] = true
		}
		payload := parseToolErrorPayload(t, call(t, h, tool.Name, args))
		if payload.Code != string(errs.Unauthenticated) {
			t.Fatalf("%s: code=%q want unauthenticated", tool.Name, payload.Code)
		}
	}
}

// ============================================================
// Tools
// ============================================================

func TestTools_AddListToggleUpdateRemove(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler("alice")

	milk := decodeResult[shopping.Item](t, call(t, h, ToolAdd, map[string]any{"name": " Milk ", "category": "Продукты"}))
	if milk.ID == "" || milk.Name != "Milk" || milk.Quantity != 1 || milk.Completed || !milk.CreatedAt.Equal(fixedNow) {
		t.Fatalf("added %+v", milk)
	}
	soap := decodeResult[shopping.Item](t, call(t, h, ToolAdd, map[string]any{"name": "Soap", "quantity": 3.0}))

	toggled := decodeResult[shopping.Item](t, call(t, h, ToolToggle, map[string]any{"id": milk.ID}))
	if !toggled.Completed {
		t.Fatalf("toggle did not complete %+v", toggled)
	}

	updated := decodeResult[shopping.Item](t, call(t, h, ToolUpdate, map[string]any{"id": soap.ID, "notes": "*lavender*", "quantity": 2.0}))
	if updated.Notes != "*lavender*" || updated.Quantity != 2 || updated.Name != "Soap" {
		t.Fatalf("updated %+v", updated)
	}

	list := decodeResult[ListResult](t, call(t, h, ToolList, nil))
	if list.Total != 2 || list.Active != 1 || len(list.Items) != 2 {
		t.Fatalf("list %+v", list)
	}
	if len(list.Categories) != len(shopping.DefaultCategories) {
		t.Fatalf("categories %v", list.Categories)
	}

	byCategory := decodeResult[ListResult](t, call(t, h, ToolList, map[string]any{"category": "Продукты"}))
	if len(byCategory.Items) != 1 || byCategory.Items[0].ID != milk.ID || byCategory.Total != 2 {
		t.Fatalf("category filter %+v", byCategory)
	}
	filtered := decodeResult[ListResult](t, call(t, h, ToolList, map[string]any{"filter": "quantity > 1 && !completed"}))
	if len(filtered.Items) != 1 || filtered.Items[0].ID != soap.ID {
		t.Fatalf("expression filter %+v", filtered)
	}

	removed := decodeResult[map[string]string](t, call(t, h, ToolRemove, map[string]any{"id": soap.ID}))
	if removed["removed"] != soap.ID {
		t.Fatalf("remove %+v", removed)
	}
	list = decodeResult[ListResult](t, call(t, h, ToolList, nil))
	if list.Total != 1 {
		t.Fatalf("after remove %+v", list)
	}
}

func TestTools_ValidationAndMissingItems(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler("alice")

	cases := []struct {
		tool string
		args map[string]any
		code errs.Code
	}{
		{ToolAdd, map[string]any{"name": "  "}, errs.InvalidArgument},
		{ToolAdd, map[string]any{"name": "Eggs", "quantity": -2.0}, errs.InvalidArgument},
		{ToolToggle, map[string]any{}, errs.InvalidArgument},
		{ToolToggle, map[string]any{"id": "missing"}, errs.NotFound},
		{ToolRemove, map[string]any{"id": "missing"}, errs.NotFound},
		{ToolUpdate, map[string]any{"id": "missing", "completed": true}, errs.NotFound},
		{ToolUpdate, map[string]any{"id": "missing"}, errs.InvalidArgument},
		{ToolList, map[string]any{"filter": "quantity >"}, errs.InvalidArgument},
		{ToolClearCompleted, map[string]any{"force": true}, errs.InvalidArgument},
	}
	for _, tc := range cases {
		payload := parseToolErrorPayload(t, call(t, h, tc.tool, tc.args))
		if payload.Code != string(tc.code) {
			t.Errorf("%s %v: code=%q want %q (%s)", tc.tool, tc.args, payload.Code, tc.code, payload.Message)
		}
	}
}

func testClearCompleted_RemovesExactlyCompleted(t *rapid.T) {
	h, repo := newTestHandler("alice")
	n := rapid.IntRange(0, 15).Draw(t, "n")
	wantRemaining := 0
	for i := 0; i < n; i++ {
		done := rapid.Bool().Draw(t, "done")
		if !done {
			wantRemaining++
		}
		_, err := repo.Create(context.Background(), "alice", shopping.ItemFields{
			Name: fmt.Sprintf("item-%d", i), Quantity: 1, Completed: done,
		}, fixedNow)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	res := decodeResult[ClearResult](t, call(t, h, ToolClearCompleted, nil))
	if res.Removed != n-wantRemaining || res.Remaining != wantRemaining {
		t.Fatalf("clear = %+v, want removed=%d remaining=%d", res, n-wantRemaining, wantRemaining)
	}

	again := decodeResult[ClearResult](t, call(t, h, ToolClearCompleted, nil))
	if again.Removed != 0 || again.Remaining != wantRemaining {
		t.Fatalf("second clear = %+v", again)
	}
}

func TestClearCompleted_RemovesExactlyCompleted(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testClearCompleted_RemovesExactlyCompleted)
}

func TestTools_UsersAreIsolated(t *testing.T) {
	t.Parallel()
	repo := shopping.NewDocRepository(docstore.NewMemory())
	alice := NewHandler(repo, "alice")
	bob := NewHandler(repo, "bob")

	item := decodeResult[shopping.Item](t, call(t, alice, ToolAdd, map[string]any{"name": "Cheese"}))

	if got := decodeResult[ListResult](t, call(t, bob, ToolList, nil)); got.Total != 0 {
		t.Fatalf("bob sees %+v", got)
	}
	payload := parseToolErrorPayload(t, call(t, bob, ToolRemove, map[string]any{"id": item.ID}))
	if payload.Code != string(errs.NotFound) {
		t.Fatalf("bob removed alice's item: %+v", payload)
	}
}

func TestToolDefinitions_NamesUniqueAndPromptMentionsAll(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}
	for _, tool := range ToolDefinitions() {
		if seen[tool.Name] {
			t.Fatalf("duplicate tool %q", tool.Name)
		}
		seen[tool.Name] = true
		if !strings.Contains(promptText, tool.Name) {
			t.Errorf("prompt does not mention %q", tool.Name)
		}
	}
	if len(seen) != 6 {
		t.Fatalf("got %d tools", len(seen))
	}
}
