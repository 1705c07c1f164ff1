package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/emobot/internal/matchmaker"
	"github.com/kalambet/emobot/internal/profile"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Profiles   Profiles
	Enrichment Enricher // optional; the status resource is omitted when nil
	Version    string
}

// NewMCPServer creates an MCP server exposing the profile commands as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"emobot",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("emobot keeps interest profiles for community members and introduces members with overlapping interests."),
		server.WithRecovery(),
	)

	identity := mcp.WithString("identity", mcp.Description("Member identity (platform user id)"), mcp.Required())
	category := mcp.WithString("category",
		mcp.Description("Profile category"),
		mcp.Enum(string(profile.Games), string(profile.Artists), string(profile.Interests)),
		mcp.Required(),
	)

	s.AddTool(
		mcp.NewTool("view_profile",
			mcp.WithDescription("Show a member's interest profile."),
			identity,
		),
		mcpViewProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("add_interest",
			mcp.WithDescription("Add an item to a member's profile and notify any new matches."),
			identity,
			category,
			mcp.WithString("item", mcp.Description("Item to add"), mcp.Required()),
			mcp.WithString("display_name", mcp.Description("Member display name")),
		),
		mcpAddInterest(deps),
	)

	s.AddTool(
		mcp.NewTool("remove_interest",
			mcp.WithDescription("Remove an item from a member's profile. The item must match exactly."),
			identity,
			category,
			mcp.WithString("item", mcp.Description("Item to remove"), mcp.Required()),
		),
		mcpRemoveInterest(deps),
	)

	s.AddTool(
		mcp.NewTool("set_scanning",
			mcp.WithDescription("Turn automatic interest detection from chat messages on or off."),
			identity,
			mcp.WithBoolean("enabled", mcp.Description("Whether scanning is enabled"), mcp.Required()),
			mcp.WithString("display_name", mcp.Description("Member display name")),
		),
		mcpSetScanning(deps),
	)

	s.AddTool(
		mcp.NewTool("find_matches",
			mcp.WithDescription("List the members whose interests overlap most with this member, without notifying anyone."),
			identity,
		),
		mcpFindMatches(deps),
	)

	if deps.Enrichment != nil {
		s.AddResource(
			mcp.NewResource(
				"emobot://enrichment/status",
				"Enrichment Status",
				mcp.WithResourceDescription("Scheduler state and the report of the last enrichment cycle"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceEnrichment(deps),
		)
	}

	return s
}

func mcpViewProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("identity")
		if err != nil {
			return mcpError("identity is required"), nil
		}
		p, err := deps.Profiles.View(ctx, id)
		if errors.Is(err, matchmaker.ErrNoProfile) {
			return mcpText("This member has no profile yet."), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load profile: %v", err)), nil
		}
		return mcpText(renderProfile(p)), nil
	}
}

func mcpAddInterest(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, cat, item, errResult := itemArgs(req)
		if errResult != nil {
			return errResult, nil
		}
		res, err := deps.Profiles.AddItem(ctx, id, req.GetString("display_name", ""), cat, item)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to add %s: %v", cat, err)), nil
		}
		if res.AlreadyPresent {
			return mcpText(fmt.Sprintf("%q is already in %s.", item, cat)), nil
		}
		return mcpText(fmt.Sprintf("Added %q to %s.", strings.TrimSpace(item), cat)), nil
	}
}

func mcpRemoveInterest(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, cat, item, errResult := itemArgs(req)
		if errResult != nil {
			return errResult, nil
		}
		if _, err := deps.Profiles.RemoveItem(ctx, id, cat, item); err != nil {
			switch {
			case errors.Is(err, matchmaker.ErrNoProfile):
				return mcpError("This member has no profile yet."), nil
			case errors.Is(err, profile.ErrItemNotFound):
				return mcpError(fmt.Sprintf("%q is not in %s.", item, cat)), nil
			}
			return mcpError(fmt.Sprintf("failed to remove %s: %v", cat, err)), nil
		}
		return mcpText(fmt.Sprintf("Removed %q from %s.", item, cat)), nil
	}
}

func mcpSetScanning(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("identity")
		if err != nil {
			return mcpError("identity is required"), nil
		}
		enabled, err := req.RequireBool("enabled")
		if err != nil {
			return mcpError("enabled is required"), nil
		}
		if _, err := deps.Profiles.SetScanning(ctx, id, req.GetString("display_name", ""), enabled); err != nil {
			return mcpError(fmt.Sprintf("failed to set scanning: %v", err)), nil
		}
		if enabled {
			return mcpText("Message scanning enabled."), nil
		}
		return mcpText("Message scanning disabled."), nil
	}
}

func mcpFindMatches(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("identity")
		if err != nil {
			return mcpError("identity is required"), nil
		}
		matches, err := deps.Profiles.Matches(ctx, id)
		if errors.Is(err, matchmaker.ErrNoProfile) {
			return mcpError("This member has no profile yet."), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("matching failed: %v", err)), nil
		}

		type matchResult struct {
			Identity string  `json:"identity"`
			Name     string  `json:"name"`
			Score    float64 `json:"score"`
		}
		results := make([]matchResult, len(matches))
		for i, m := range matches {
			results[i] = matchResult{Identity: m.Profile.Identity, Name: m.Profile.Name(), Score: m.Score}
		}
		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal matches: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceEnrichment(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(enrichmentStatus(deps.Enrichment))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal enrichment status: %w", err)
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

func itemArgs(req mcp.CallToolRequest) (string, profile.Category, string, *mcp.CallToolResult) {
	id, err := req.RequireString("identity")
	if err != nil {
		return "", "", "", mcpError("identity is required")
	}
	raw, err := req.RequireString("category")
	if err != nil {
		return "", "", "", mcpError("category is required")
	}
	cat, err := profile.ParseCategory(raw)
	if err != nil {
		return "", "", "", mcpError(err.Error())
	}
	item, err := req.RequireString("item")
	if err != nil || strings.TrimSpace(item) == "" {
		return "", "", "", mcpError("item is required")
	}
	return id, cat, item, nil
}

// renderProfile formats p the way the chat command shows it.
func renderProfile(p profile.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s's Profile\n", p.Name())
	for _, c := range profile.AllCategories {
		items := p.Categories.List(c)
		value := "None"
		if len(items) > 0 {
			value = strings.Join(items, ", ")
		}
		fmt.Fprintf(&b, "%s: %s\n", c.Title(), value)
	}
	scanning := "Enabled"
	if !p.ScanningEnabled {
		scanning = "Disabled"
	}
	fmt.Fprintf(&b, "Message Scanning: %s", scanning)
	return b.String()
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
