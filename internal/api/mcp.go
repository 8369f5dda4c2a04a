package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/clipsage/internal/media"
	"github.com/kalambet/clipsage/internal/project"
)

// recentLimit caps the projects listed by the projects://recent resource.
const recentLimit = 10

// ProjectService is the slice of the orchestrator the MCP layer drives.
type ProjectService interface {
	List() []project.Project
	Get(id string) (project.Project, error)
	Resolve(ref string) (string, error)
	Submit(ctx context.Context, src media.Source) (project.Project, error)
	Wait(ctx context.Context, id string) (project.Project, error)
	Ask(ctx context.Context, id, question string) (string, error)
	Cancel(id string) error
	Retry(id string) error
	Delete(id string) error
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Projects       ProjectService
	MaxUploadBytes int64
	Version        string
}

// NewMCPServer creates an MCP server with all clipsage tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"clipsage",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("clipsage analyses local audio and video files: summary, topics, chapters and transcript, plus questions about each file."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List analysis projects, newest first."),
		),
		mcpListProjects(deps),
	)

	s.AddTool(
		mcp.NewTool("get_project",
			mcp.WithDescription("Return one project, including its analysis when complete."),
			mcp.WithString("id", mcp.Description("Project id or unique id prefix"), mcp.Required()),
		),
		mcpGetProject(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_file",
			mcp.WithDescription("Submit a local audio or video file for analysis."),
			mcp.WithString("path", mcp.Description("Absolute path to the media file"), mcp.Required()),
			mcp.WithBoolean("wait", mcp.Description("Block until the analysis finishes (default false)")),
		),
		mcpSubmitFile(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_project",
			mcp.WithDescription("Ask a question about a completed project's media."),
			mcp.WithString("id", mcp.Description("Project id or unique id prefix"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAskProject(deps),
	)

	s.AddTool(
		mcp.NewTool("cancel_project",
			mcp.WithDescription("Cancel a project that is being analysed."),
			mcp.WithString("id", mcp.Description("Project id or unique id prefix"), mcp.Required()),
		),
		mcpProjectAction(deps, "Cancelled", func(id string) error { return deps.Projects.Cancel(id) }),
	)

	s.AddTool(
		mcp.NewTool("retry_project",
			mcp.WithDescription("Re-run analysis of a failed or cancelled project."),
			mcp.WithString("id", mcp.Description("Project id or unique id prefix"), mcp.Required()),
		),
		mcpProjectAction(deps, "Retrying", func(id string) error { return deps.Projects.Retry(id) }),
	)

	s.AddTool(
		mcp.NewTool("delete_project",
			mcp.WithDescription("Delete a project and its stored media."),
			mcp.WithString("id", mcp.Description("Project id or unique id prefix"), mcp.Required()),
		),
		mcpProjectAction(deps, "Deleted", func(id string) error { return deps.Projects.Delete(id) }),
	)

	s.AddResource(
		mcp.NewResource(
			"projects://recent",
			"Recent Projects",
			mcp.WithResourceDescription(fmt.Sprintf("Last %d projects (status and summary only)", recentLimit)),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

// projectSummary is the compact listing form of a project.
type projectSummary struct {
	ID              string    `json:"id"`
	FileName        string    `json:"file_name"`
	Status          string    `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	ErrorReason     string    `json:"error_reason,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func summarize(p project.Project) projectSummary {
	s := projectSummary{
		ID:              p.ID,
		FileName:        p.FileName,
		Status:          string(p.Status),
		ProgressPercent: p.ProgressPercent,
		ErrorReason:     p.ErrorReason,
		CreatedAt:       p.CreatedAt,
	}
	if p.Result != nil {
		s.Summary = p.Result.Summary
	}
	return s
}

func mcpListProjects(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projects := deps.Projects.List()
		out := make([]projectSummary, len(projects))
		for i, p := range projects {
			out[i] = summarize(p)
		}
		return mcpJSON(out), nil
	}
}

func mcpGetProject(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, errResult := resolveProject(deps, req)
		if errResult != nil {
			return errResult, nil
		}
		return mcpJSON(p), nil
	}
}

func mcpSubmitFile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}
		src, err := media.LoadFile(path, deps.MaxUploadBytes)
		if err != nil {
			return mcpError(fmt.Sprintf("cannot load %s: %v", path, err)), nil
		}
		p, err := deps.Projects.Submit(ctx, src)
		if err != nil {
			return mcpError(fmt.Sprintf("submit failed: %v", err)), nil
		}
		if req.GetBool("wait", false) {
			done, err := deps.Projects.Wait(ctx, p.ID)
			if err != nil {
				return mcpError(fmt.Sprintf("waiting for %s: %v", p.ID, err)), nil
			}
			p = done
		}
		return mcpJSON(summarize(p)), nil
	}
}

func mcpAskProject(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		p, errResult := resolveProject(deps, req)
		if errResult != nil {
			return errResult, nil
		}
		answer, err := deps.Projects.Ask(ctx, p.ID, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(answer), nil
	}
}

func mcpProjectAction(deps MCPDeps, verb string, action func(id string) error) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, errResult := resolveProject(deps, req)
		if errResult != nil {
			return errResult, nil
		}
		if err := action(p.ID); err != nil {
			return mcpError(fmt.Sprintf("%s: %v", p.ID, err)), nil
		}
		return mcpText(fmt.Sprintf("%s %s (%s)", verb, p.ID, p.FileName)), nil
	}
}

func resolveProject(deps MCPDeps, req mcp.CallToolRequest) (project.Project, *mcp.CallToolResult) {
	ref, err := req.RequireString("id")
	if err != nil {
		return project.Project{}, mcpError("id is required")
	}
	id, err := deps.Projects.Resolve(ref)
	if err != nil {
		return project.Project{}, mcpError(err.Error())
	}
	p, err := deps.Projects.Get(id)
	if err != nil {
		return project.Project{}, mcpError(err.Error())
	}
	return p, nil
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		projects := deps.Projects.List()
		if len(projects) > recentLimit {
			projects = projects[:recentLimit]
		}
		summaries := make([]projectSummary, len(projects))
		for i, p := range projects {
			summaries[i] = summarize(p)
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal projects: %w", err)
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

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
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
