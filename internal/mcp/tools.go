package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

// Tool names.
const (
	ToolList           = "shopping_list"
	ToolAdd            = "shopping_add"
	ToolToggle         = "shopping_toggle"
	ToolUpdate         = "shopping_update"
	ToolRemove         = "shopping_remove"
	ToolClearCompleted = "shopping_clear_completed"
)

var idProperty = map[string]any{
	"type":        "string",
	"description": "Item id as returned by shopping_list or shopping_add",
}

// ToolDefinitions returns the shopping-list MCP tool definitions.
func ToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        ToolList,
			Description: "Shopping list tool. Return the signed-in user's shopping list: every item with id, name, quantity, completed, category, notes and createdAt, plus total and active counts and the known categories. Optionally narrow the items with 'category' (exact match) or 'filter', a boolean expression over item fields such as `quantity > 1 && !completed` or `name contains \"milk\"`. Counts always cover the whole list.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category": map[string]any{
						"type":        "string",
						"description": "Only return items in this category",
					},
					"filter": map[string]any{
						"type":        "string",
						"description": "Boolean expression over id, name, quantity, completed, category, notes, createdAt",
					},
				},
			},
		},
		{
			Name:        ToolAdd,
			Description: "Shopping list tool. Add an item to the list. 'name' is required; 'quantity' defaults to 1 and must be a non-negative number. 'category' is free text; the usual ones are listed by shopping_list. 'notes' accepts Markdown. Returns the created item including its id.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "What to buy",
					},
					"quantity": map[string]any{
						"type":        "number",
						"description": "How many (default 1)",
						"minimum":     0,
					},
					"category": map[string]any{
						"type":        "string",
						"description": "Optional category",
					},
					"notes": map[string]any{
						"type":        "string",
						"description": "Optional Markdown notes",
					},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        ToolToggle,
			Description: "Shopping list tool. Flip an item between bought and not bought. Returns the item after the change.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"id": idProperty},
				"required":   []string{"id"},
			},
		},
		{
			Name:        ToolUpdate,
			Description: "Shopping list tool. Change some fields of an item. Pass only the fields to change; the rest stay as they are. The id and creation time cannot be changed. Returns the item after the change.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":        idProperty,
					"name":      map[string]any{"type": "string"},
					"quantity":  map[string]any{"type": "number", "minimum": 0},
					"completed": map[string]any{"type": "boolean"},
					"category":  map[string]any{"type": "string"},
					"notes":     map[string]any{"type": "string"},
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        ToolRemove,
			Description: "Shopping list tool. Delete one item from the list.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"id": idProperty},
				"required":   []string{"id"},
			},
		},
		{
			Name:        ToolClearCompleted,
			Description: "Shopping list tool. Delete every item marked as bought. Returns how many were removed and how many remain. Deletes that fail are reported together; the rest still go through.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}
