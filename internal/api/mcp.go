package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/bugtriage/internal/composer"
	"github.com/kalambet/bugtriage/internal/pipeline"
	"github.com/kalambet/bugtriage/internal/retrieval"
)

// MCPDeps holds dependencies for the MCP server. Triages may be nil, in
// which case the recent-triages resource is not registered.
type MCPDeps struct {
	Suggester  Suggester
	Similarity SimilarityIndex
	Triages    TriageLog
	Version    string
}

// NewMCPServer creates an MCP server exposing triage suggestions and
// similar-bug search as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"bugtriage",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("bugtriage suggests a next step and a priority for bug reports, using similar past reports as context."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("suggest_triage",
			mcp.WithDescription("Suggest a triage action and a LOW, MEDIUM or HIGH priority for a bug report."),
			mcp.WithString("title", mcp.Description("Bug title"), mcp.Required()),
			mcp.WithString("description", mcp.Description("Bug description"), mcp.Required()),
			mcp.WithString("resolution", mcp.Description("Resolution notes, if the bug is already fixed")),
			mcp.WithString("user_type", mcp.Description("Audience for the suggestion"), mcp.Enum("developer", "business")),
		),
		mcpSuggestTriage(deps),
	)

	s.AddTool(
		mcp.NewTool("find_similar_bugs",
			mcp.WithDescription("Search previously reported bugs that are semantically similar to the query."),
			mcp.WithString("query", mcp.Description("Search text, usually a title and description"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 3)")),
		),
		mcpFindSimilar(deps),
	)

	if deps.Triages != nil {
		s.AddResource(
			mcp.NewResource(
				"triage://recent",
				"Recent Triages",
				mcp.WithResourceDescription("Last 10 triage suggestions"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func mcpSuggestTriage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		description, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}

		res, err := deps.Suggester.Suggest(ctx, pipeline.BugReport{
			Title:       title,
			Description: description,
			Resolution:  req.GetString("resolution", ""),
			Persona:     composer.ParsePersona(req.GetString("user_type", "")),
		})
		if err != nil {
			_, detail := suggestFailure(err)
			return mcpError(detail), nil
		}

		b, err := json.Marshal(res.Suggestion)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal suggestion: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpFindSimilar(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", defaultSimilarK)
		if limit <= 0 {
			limit = defaultSimilarK
		}
		if limit > maxSimilarK {
			limit = maxSimilarK
		}

		neighbors, err := deps.Similarity.Query(ctx, query, limit)
		if errors.Is(err, retrieval.ErrUnavailable) {
			return mcpError("similarity store is not available"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(neighbors) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(neighbors)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Triages.ListTriages(ctx, 10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list triages: %w", err)
		}

		type triageSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Title     string `json:"title"`
			Priority  string `json:"predictedPriority"`
		}

		summaries := make([]triageSummary, len(entries))
		for i, e := range entries {
			title := e.Title
			if utf8.RuneCountInString(title) > 200 {
				runes := []rune(title)
				title = string(runes[:200]) + "..."
			}
			summaries[i] = triageSummary{
				ID:        e.ID,
				CreatedAt: e.CreatedAt.Format(time.RFC3339),
				Title:     title,
				Priority:  e.Priority,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal triages: %w", err)
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
