package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kgninja/resonance/internal/harvest"
	"github.com/kgninja/resonance/internal/memory"
)

// NewMCPServer creates an MCP server exposing the harvest state, concepts
// and run history as tools, and the rendered memory as resources.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"resonance",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("resonance: harvested vocabulary and concept memory for KGNINJA."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("harvest_status",
			mcp.WithDescription("Summarize the harvest state: vocabulary size, last harvest and recent new keywords."),
		),
		mcpHarvestStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("get_concept",
			mcp.WithDescription("Return one concept from the memory document as JSON."),
			mcp.WithString("concept_id", mcp.Description("Concept id, e.g. kg_x_keyword_evolution"), mcp.Required()),
		),
		mcpGetConcept(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_runs",
			mcp.WithDescription("List recent harvest runs from the run ledger, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 10)")),
		),
		mcpRecentRuns(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://context",
			"Memory Context",
			mcp.WithResourceDescription("Concept memory rendered as a prompt context block"),
			mcp.WithMIMEType("text/plain"),
		),
		mcpResourceMemory(deps, memory.Document.PromptContext, "text/plain"),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://summary",
			"Memory Summary",
			mcp.WithResourceDescription("Concept memory rendered as a markdown summary"),
			mcp.WithMIMEType("text/markdown"),
		),
		mcpResourceMemory(deps, memory.Document.SummaryMarkdown, "text/markdown"),
	)

	return s
}

func mcpHarvestStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := harvest.ReadState(deps.StatePath)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read harvest state: %v", err)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Keywords: %d\n", len(st.Keywords))
		fmt.Fprintf(&b, "Hashtags: %d\n", len(st.Hashtags))
		fmt.Fprintf(&b, "Posts processed: %d\n", st.TotalPostsProcessed)
		if st.LastHarvest.IsZero() {
			b.WriteString("Last harvest: never\n")
		} else {
			fmt.Fprintf(&b, "Last harvest: %s\n", st.LastHarvest.UTC().Format("2006-01-02 15:04 MST"))
		}
		fmt.Fprintf(&b, "Harvests recorded: %d\n", len(st.History))
		if n := len(st.History); n > 0 {
			last := st.History[n-1]
			if len(last.NewKeywords) > 0 {
				fmt.Fprintf(&b, "Latest new keywords: %s\n", strings.Join(last.NewKeywords, ", "))
			} else {
				b.WriteString("Latest new keywords: none\n")
			}
		}
		return mcpText(b.String()), nil
	}
}

func mcpGetConcept(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("concept_id")
		if err != nil {
			return mcpError("concept_id is required"), nil
		}

		doc, err := memory.Read(deps.MemoryPath)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read memory: %v", err)), nil
		}
		c, ok := doc.Concept(id)
		if !ok {
			return mcpError(fmt.Sprintf("concept %q not found", id)), nil
		}

		out, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal concept: %v", err)), nil
		}
		return mcpText(string(out)), nil
	}
}

func mcpRecentRuns(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Ledger == nil {
			return mcpError("run ledger not configured"), nil
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		runs, err := deps.Ledger.RecentRuns(ctx, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list runs: %v", err)), nil
		}
		if len(runs) == 0 {
			return mcpText("No harvest runs recorded."), nil
		}

		var b strings.Builder
		for _, r := range runs {
			fmt.Fprintf(&b, "%s  %-8s posts=%d new=%d", r.StartedAt.UTC().Format("2006-01-02 15:04"), r.Outcome, r.PostsProcessed, r.NewKeywords)
			if r.Origin != "" {
				fmt.Fprintf(&b, " origin=%s", r.Origin)
			}
			if r.Error != "" {
				fmt.Fprintf(&b, " error=%q", r.Error)
			}
			fmt.Fprintf(&b, "  [%s]\n", r.ID)
		}
		return mcpText(b.String()), nil
	}
}

func mcpResourceMemory(deps Deps, render func(memory.Document) string, mimeType string) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		doc, err := memory.Read(deps.MemoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read memory: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: mimeType,
				Text:     render(doc),
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
