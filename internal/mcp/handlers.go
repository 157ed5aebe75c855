package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Laboratorynotices/listsmart/internal/errs"
	"github.com/Laboratorynotices/listsmart/internal/obs"
	"github.com/Laboratorynotices/listsmart/internal/shopping"
)

// Handler runs shopping tools for one user. Every call loads the list into
// a fresh Store, applies one action and reports the outcome.
type Handler struct {
	repo      shopping.Repository
	uid       string
	storeOpts []shopping.Option
}

// NewHandler creates a tool handler acting as uid.
func NewHandler(repo shopping.Repository, uid string, opts ...shopping.Option) *Handler {
	return &Handler{repo: repo, uid: uid, storeOpts: opts}
}

type toolErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ListResult is the shopping_list response.
type ListResult struct {
	Items      []shopping.Item `json:"items"`
	Total      int             `json:"total"`
	Active     int             `json:"active"`
	Categories []string        `json:"categories"`
}

// ClearResult is the shopping_clear_completed response.
type ClearResult struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
}

type listArgs struct {
	Category string `json:"category,omitempty"`
	Filter   string `json:"filter,omitempty"`
}

type addArgs struct {
	Name     string   `json:"name"`
	Quantity *float64 `json:"quantity,omitempty"`
	Category string   `json:"category,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

type idArgs struct {
	ID string `json:"id"`
}

type updateArgs struct {
	ID string `json:"id"`
	shopping.ItemPatch
}

// createToolHandler returns a tool handler function for the given tool name.
func (h *Handler) createToolHandler(name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := h.HandleToolCall(ctx, name, args)
		if err != nil {
			obs.From(ctx).Warn("mcp_tool_failed", "pkg", "mcp", "tool", name, "code", string(errs.CodeOf(err)), "error", err)
			return newToolResultError(err), nil, nil
		}
		return result, nil, nil
	}
}

// HandleToolCall routes tool calls to appropriate handlers.
func (h *Handler) HandleToolCall(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	switch name {
	case ToolList:
		return h.handleList(ctx, arguments)
	case ToolAdd:
		return h.handleAdd(ctx, arguments)
	case ToolToggle:
		return h.handleToggle(ctx, arguments)
	case ToolUpdate:
		return h.handleUpdate(ctx, arguments)
	case ToolRemove:
		return h.handleRemove(ctx, arguments)
	case ToolClearCompleted:
		return h.handleClearCompleted(ctx, arguments)
	default:
		return nil, errs.New(errs.NotFound, fmt.Sprintf("unknown tool: %s", name))
	}
}

// load returns a Store holding the user's current list.
func (h *Handler) load(ctx context.Context) (*shopping.Store, error) {
	if h.uid == "" {
		return nil, errs.New(errs.Unauthenticated, "Unauthorized")
	}
	store := shopping.NewStore(h.repo, h.uid, h.storeOpts...)
	if err := store.RefreshFromRemote(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (h *Handler) handleList(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in listArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	store, err := h.load(ctx)
	if err != nil {
		return nil, err
	}

	items := store.Items()
	if in.Category != "" {
		items = store.ItemsByCategory(in.Category)
	}
	if strings.TrimSpace(in.Filter) != "" {
		program, err := shopping.CompileFilter(in.Filter)
		if err != nil {
			return nil, err
		}
		if items, err = shopping.MatchItems(program, items); err != nil {
			return nil, err
		}
	}

	return newToolResultJSON(ListResult{
		Items:      items,
		Total:      store.TotalItems(),
		Active:     len(store.ActiveItems()),
		Categories: store.Categories(),
	}), nil
}

func (h *Handler) handleAdd(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in addArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	fields := shopping.ItemFields{Name: in.Name, Quantity: 1, Category: in.Category, Notes: in.Notes}
	if in.Quantity != nil {
		fields.Quantity = *in.Quantity
	}
	if err := fields.Normalize().Validate(); err != nil {
		return nil, err
	}

	store, err := h.load(ctx)
	if err != nil {
		return nil, err
	}
	item, err := store.AddItem(ctx, fields)
	if err != nil {
		return nil, err
	}
	return newToolResultJSON(item), nil
}

func (h *Handler) handleToggle(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	id, err := requireID(args)
	if err != nil {
		return nil, err
	}
	store, err := h.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.ToggleComplete(ctx, id); err != nil {
		return nil, err
	}
	return itemResult(store, id)
}

func (h *Handler) handleUpdate(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in updateArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ID) == "" {
		return nil, errs.New(errs.InvalidArgument, "id is required")
	}
	if err := in.ItemPatch.Validate(); err != nil {
		return nil, err
	}

	store, err := h.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.UpdateItem(ctx, in.ID, in.ItemPatch); err != nil {
		return nil, err
	}
	return itemResult(store, in.ID)
}

func (h *Handler) handleRemove(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	id, err := requireID(args)
	if err != nil {
		return nil, err
	}
	store, err := h.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.RemoveItem(ctx, id); err != nil {
		return nil, err
	}
	return newToolResultJSON(map[string]any{"removed": id}), nil
}

func (h *Handler) handleClearCompleted(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	if err := decodeToolArgs(args, &struct{}{}); err != nil {
		return nil, err
	}
	store, err := h.load(ctx)
	if err != nil {
		return nil, err
	}
	before := store.TotalItems()
	if err := store.ClearCompleted(ctx); err != nil {
		return nil, err
	}
	remaining := store.TotalItems()
	return newToolResultJSON(ClearResult{Removed: before - remaining, Remaining: remaining}), nil
}

func requireID(args map[string]any) (string, error) {
	var in idArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.ID) == "" {
		return "", errs.New(errs.InvalidArgument, "id is required")
	}
	return in.ID, nil
}

func itemResult(store *shopping.Store, id string) (*mcp.CallToolResult, error) {
	for _, it := range store.Items() {
		if it.ID == id {
			return newToolResultJSON(it), nil
		}
	}
	return nil, shopping.ErrItemNotFound
}

// decodeToolArgs converts loosely typed tool arguments into dst, rejecting
// fields the tool does not know.
func decodeToolArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid arguments", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid arguments: "+err.Error(), err)
	}
	return nil
}

// newToolResultJSON creates a successful tool result with a JSON body.
func newToolResultJSON(value any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: marshalToolJSON(value)},
		},
	}
}

// newToolResultError creates a tool result carrying a coded error.
func newToolResultError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: marshalToolJSON(toolErrorPayload{
				Code:    string(errs.CodeOf(err)),
				Message: errs.MessageOf(err),
			})},
		},
		IsError: true,
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"code":"internal","message":"failed to marshal response: %s"}`, err.Error())
	}
	return string(data)
}
