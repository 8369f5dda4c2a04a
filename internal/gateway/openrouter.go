package gateway

import (
	"context"
	"fmt"

	"github.com/kalambet/clipsage/internal/project"
	"github.com/kalambet/clipsage/internal/proxy"
)

// Completer is the subset of the OpenRouter client the gateway needs.
type Completer interface {
	Complete(ctx context.Context, req proxy.ChatRequest) (string, error)
}

// OpenRouter runs inference on a hosted model through OpenRouter. Media is
// sent as a file content part carrying a data URL.
type OpenRouter struct {
	client Completer
	model  string
}

// NewOpenRouter creates an OpenRouter backend.
func NewOpenRouter(client Completer, model string) *OpenRouter {
	return &OpenRouter{client: client, model: model}
}

func (g *OpenRouter) filePart(m Media) proxy.ContentPart {
	name := m.Name
	if name == "" {
		name = "media"
	}
	return proxy.ContentPart{
		Type: "file",
		File: &proxy.FilePart{
			Filename: name,
			FileData: fmt.Sprintf("data:%s;base64,%s", m.MimeType, m.Data),
		},
	}
}

func (g *OpenRouter) Analyze(ctx context.Context, m Media) (project.Analysis, error) {
	req := proxy.ChatRequest{
		Model: g.model,
		Messages: []proxy.Message{
			{Role: "system", Content: proxy.TextContent(analyzePrompt)},
			{Role: "user", Content: proxy.PartsContent(
				proxy.ContentPart{Type: "text", Text: "Analyze this file."},
				g.filePart(m),
			)},
		},
		ResponseFormat: &proxy.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &proxy.JSONSchema{Name: "analysis", Strict: true, Schema: analysisSchema()},
		},
	}
	raw, err := g.client.Complete(ctx, req)
	if err != nil {
		return project.Analysis{}, mapError(ctx, "openrouter analyze", err)
	}
	a, err := parseAnalysis(raw)
	if err != nil {
		return project.Analysis{}, mapError(ctx, "openrouter analyze", err)
	}
	return a, nil
}

func (g *OpenRouter) Ask(ctx context.Context, m Media, question string, history []project.ChatMessage) (string, error) {
	req := proxy.ChatRequest{
		Model: g.model,
		Messages: []proxy.Message{
			{Role: "system", Content: proxy.TextContent(askPrompt)},
			{Role: "user", Content: proxy.PartsContent(
				proxy.ContentPart{Type: "text", Text: askInstruction(question, history)},
				g.filePart(m),
			)},
		},
	}
	answer, err := g.client.Complete(ctx, req)
	if err != nil {
		return "", mapError(ctx, "openrouter ask", err)
	}
	return answer, nil
}
