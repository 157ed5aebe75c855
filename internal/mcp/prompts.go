package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const shoppingWorkflowPromptName = "shopping_workflow"

func registerPrompts(mcpServer *mcp.Server) {
	for _, prompt := range PromptDefinitions() {
		mcpServer.AddPrompt(prompt, promptHandler())
	}
}

// PromptDefinitions returns the MCP prompt definitions.
func PromptDefinitions() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        shoppingWorkflowPromptName,
			Title:       "Shopping list workflow",
			Description: promptDescription,
		},
	}
}

const promptDescription = "Brief guidance for keeping the user's shopping list."

const promptText = "The user keeps one shopping list. Call shopping_list first to see current items and their ids. " +
	"Use shopping_add for new items, shopping_toggle when something was bought, shopping_update to fix a name, quantity, category or notes, " +
	"shopping_remove for a single item and shopping_clear_completed to drop everything already bought. " +
	"Reuse existing categories from shopping_list when one fits."

func promptHandler() mcp.PromptHandler {
	return func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Description: promptDescription,
			Messages: []*mcp.PromptMessage{
				{
					Role:    mcp.Role("user"),
					Content: &mcp.TextContent{Text: promptText},
				},
			},
		}, nil
	}
}
