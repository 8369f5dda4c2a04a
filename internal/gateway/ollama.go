package gateway

import (
	"context"

	"github.com/kalambet/clipsage/internal/ollama"
	"github.com/kalambet/clipsage/internal/project"
)

// OllamaChatter is the subset of the Ollama client the gateway needs.
type OllamaChatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema) (string, error)
}

// Ollama runs inference on a local Ollama model. Media goes in the images
// attachment of the user message.
type Ollama struct {
	client OllamaChatter
	model  string
}

// NewOllama creates an Ollama backend.
func NewOllama(client OllamaChatter, model string) *Ollama {
	return &Ollama{client: client, model: model}
}

func (g *Ollama) Analyze(ctx context.Context, m Media) (project.Analysis, error) {
	messages := []ollama.Message{
		{Role: "system", Content: analyzePrompt},
		{Role: "user", Content: "Analyze this " + m.MimeType + " file: " + m.Name, Images: []string{m.Data}},
	}
	raw, err := g.client.Chat(ctx, g.model, messages, analysisSchema())
	if err != nil {
		return project.Analysis{}, mapError(ctx, "ollama analyze", err)
	}
	a, err := parseAnalysis(raw)
	if err != nil {
		return project.Analysis{}, mapError(ctx, "ollama analyze", err)
	}
	return a, nil
}

func (g *Ollama) Ask(ctx context.Context, m Media, question string, history []project.ChatMessage) (string, error) {
	messages := []ollama.Message{
		{Role: "system", Content: askPrompt},
		{Role: "user", Content: askInstruction(question, history), Images: []string{m.Data}},
	}
	answer, err := g.client.Chat(ctx, g.model, messages, nil)
	if err != nil {
		return "", mapError(ctx, "ollama ask", err)
	}
	return answer, nil
}
