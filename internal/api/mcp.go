package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"storyd/internal/prompt"
	"storyd/internal/schema"
	"storyd/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Generator Generator
	Prober    Prober
	Store     *storage.Store
	Model     string
	ServerURL string
}

// NewMCPServer creates an MCP server exposing structured generation and the
// connection test as tools, plus recent history as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"storyd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("storyd — reliable structured story turns from a local model server."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_story_turn",
			mcp.WithDescription("Generate a structured story turn from the local model, with JSON repair, field validation, and retries."),
			mcp.WithString("system_prompt", mcp.Description("System prompt establishing the narrator"), mcp.Required()),
			mcp.WithString("messages", mcp.Description("JSON array of {role, content} message objects forming the conversation so far")),
			mcp.WithString("fields", mcp.Description(`JSON array of {name, type} field specs the response must carry, e.g. [{"name":"story","type":"string"},{"name":"choices","type":"array"}]`), mcp.Required()),
		),
		mcpGenerate(deps),
	)

	s.AddTool(
		mcp.NewTool("test_connection",
			mcp.WithDescription("Probe the local model server: reachability, model existence, and a short generation smoke test with ranked fallbacks."),
			mcp.WithString("model", mcp.Description("Model name to test (defaults to the configured model)")),
		),
		mcpTestConnection(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"storyd://history/recent",
			"Recent Generations",
			mcp.WithResourceDescription("Last 10 generation outcomes as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpGenerate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		systemPrompt, err := req.RequireString("system_prompt")
		if err != nil {
			return mcpError("system_prompt is required"), nil
		}
		fieldsJSON, err := req.RequireString("fields")
		if err != nil {
			return mcpError("fields is required"), nil
		}

		var fields []schema.FieldSpec
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return mcpError(fmt.Sprintf("invalid fields JSON: %v", err)), nil
		}
		if len(fields) == 0 {
			return mcpError("fields must not be empty"), nil
		}

		var history []prompt.Message
		if messagesJSON := req.GetString("messages", ""); messagesJSON != "" {
			if err := json.Unmarshal([]byte(messagesJSON), &history); err != nil {
				return mcpError(fmt.Sprintf("invalid messages JSON: %v", err)), nil
			}
		}

		result, err := deps.Generator.Generate(ctx, systemPrompt, history, fields)
		recordGeneration(Deps{Store: deps.Store, Model: deps.Model}, result, err)
		if err != nil {
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTestConnection(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		model := req.GetString("model", deps.Model)

		report := deps.Prober.Test(ctx, model)
		recordProbe(Deps{Store: deps.Store, Model: deps.Model, ServerURL: deps.ServerURL}, model, report)

		b, err := json.Marshal(report)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal report: %v", err)), nil
		}
		if !report.Success {
			return mcpError(string(b)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rows, err := deps.Store.ListGenerations(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list generations: %w", err)
		}

		type rowSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Model     string `json:"model"`
			Success   bool   `json:"success"`
			Attempts  int    `json:"attempts"`
			Error     string `json:"error,omitempty"`
		}

		summaries := make([]rowSummary, len(rows))
		for i, row := range rows {
			summaries[i] = rowSummary{
				ID:        row.ID,
				CreatedAt: row.CreatedAt.Format(time.RFC3339),
				Model:     row.Model,
				Success:   row.Success,
				Attempts:  row.Attempts,
				Error:     row.Error,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
