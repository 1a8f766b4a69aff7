package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/cory/internal/app"
	"github.com/kalambet/cory/internal/chat"
	"github.com/kalambet/cory/internal/explore"
	"github.com/kalambet/cory/internal/generation"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	App *app.App
}

// NewMCPServer creates an MCP server with the cory tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"cory",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("cory: a collection of small creatures generated from photos. One of them, the representative, can be talked to."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_creatures",
			mcp.WithDescription("List every creature in the collection with its color and traits."),
		),
		mcpListCreatures(deps),
	)

	s.AddTool(
		mcp.NewTool("set_representative",
			mcp.WithDescription("Make a creature the representative companion. The conversation starts over when the companion changes."),
			mcp.WithString("id", mcp.Description("Creature id, as returned by list_creatures"), mcp.Required()),
		),
		mcpSetRepresentative(deps),
	)

	s.AddTool(
		mcp.NewTool("talk",
			mcp.WithDescription("Say something to the representative creature and get its reply."),
			mcp.WithString("message", mcp.Description("What to say"), mcp.Required()),
		),
		mcpTalk(deps),
	)

	s.AddTool(
		mcp.NewTool("exploration_status",
			mcp.WithDescription("Report whether an exploration is running and how long it has left."),
		),
		mcpExplorationStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("start_exploration",
			mcp.WithDescription("Start an exploration. A new creature is generated from the photo and joins the collection."),
			mcp.WithString("photo_path", mcp.Description("Local path of a photo. Without one an offline creature is produced.")),
		),
		mcpStartExploration(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"cory://account",
			"Account",
			mcp.WithResourceDescription("Account summary: creature count, representative and play time"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceAccount(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"cory://chat",
			"Conversation",
			mcp.WithResourceDescription("Recent messages with the representative creature"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceChat(deps),
	)

	return s
}

type creatureSummary struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Color          string   `json:"color"`
	Traits         []string `json:"traits"`
	Story          string   `json:"story,omitempty"`
	Representative bool     `json:"representative,omitempty"`
}

func mcpListCreatures(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		all := deps.App.Collection.All()
		out := make([]creatureSummary, len(all))
		for i, c := range all {
			out[i] = creatureSummary{
				ID:             c.ID,
				Name:           c.Name,
				Color:          c.Color.Hex,
				Traits:         c.Personality.Traits,
				Story:          c.Story.Summary,
				Representative: c.IsRepresentative,
			}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal creatures: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetRepresentative(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		rec, ok, err := deps.App.SetRepresentative(id)
		if !ok {
			return mcpError(fmt.Sprintf("no creature with id %s", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("representative set but failed to save: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("%s is now the representative", rec.Name)), nil
	}
}

func mcpTalk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		reply, rep, err := deps.App.Talk(ctx, message)
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			return mcpError("message is required"), nil
		case errors.Is(err, chat.ErrAwaitingResponse):
			return mcpError("still waiting for the previous reply"), nil
		case errors.Is(err, app.ErrNoRepresentative):
			return mcpError("the collection is empty"), nil
		case err != nil:
			return mcpError(fmt.Sprintf("talk failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("%s: %s", rep.Name, reply)), nil
	}
}

func mcpExplorationStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(explorationView(deps.App.Explorer.Status()))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpStartExploration(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var photo *generation.Photo
		if path := req.GetString("photo_path", ""); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to read photo: %v", err)), nil
			}
			photo, err = imagePhoto(filepath.Base(path), "", data)
			if err != nil {
				return mcpError(err.Error()), nil
			}
		}

		err := deps.App.Explorer.Submit(ctx, photo)
		if errors.Is(err, explore.ErrAlreadyExploring) {
			return mcpError("an exploration is already in progress"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start exploration: %v", err)), nil
		}
		v := explorationView(deps.App.Explorer.Status())
		return mcpText(fmt.Sprintf("Exploration started, back in %d seconds.", v.DurationSeconds)), nil
	}
}

func mcpResourceAccount(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.App.Collection.Summary())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal account: %w", err)
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

func mcpResourceChat(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		history := deps.App.Chat.History()
		if history == nil {
			history = []chat.Message{}
		}
		b, err := json.Marshal(history)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal chat: %w", err)
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
