package gateway

import (
	"fmt"
	"strings"

	"github.com/kalambet/clipsage/internal/ollama"
	"github.com/kalambet/clipsage/internal/project"
)

const analyzePrompt = `You are a media analysis engine. Watch or listen to the attached media and describe it. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- summary: a short paragraph describing the content.
- topics: a handful of short topic tags.
- chapters: titled sections in order, each with a start_timestamp in HH:MM:SS or MM:SS form.
- transcript: spoken lines in order, each with a start_timestamp and the text.`

const askPrompt = `You answer questions about the attached media. Base every answer on the media itself. Cite timestamps as MM:SS when they help. If the media does not contain the answer, say so.`

// analysisSchema is the structured output contract for Analyze.
func analysisSchema() *ollama.Schema {
	timed := func(field string) *ollama.SchemaProperty {
		return &ollama.SchemaProperty{
			Type: "object",
			Properties: map[string]ollama.SchemaProperty{
				"start_timestamp": {Type: "string", Description: "HH:MM:SS or MM:SS"},
				field:             {Type: "string"},
			},
			Required: []string{"start_timestamp", field},
		}
	}
	return &ollama.Schema{
		Type: "object",
		Properties: map[string]ollama.SchemaProperty{
			"summary":    {Type: "string", Description: "Short description of the media"},
			"topics":     {Type: "array", Items: &ollama.SchemaProperty{Type: "string"}},
			"chapters":   {Type: "array", Items: timed("title")},
			"transcript": {Type: "array", Items: timed("text")},
		},
		Required: []string{"summary", "topics", "chapters", "transcript"},
	}
}

// askInstruction folds the prior conversation into one user turn, so both
// backends send the media exactly once.
func askInstruction(question string, history []project.ChatMessage) string {
	if len(history) == 0 {
		return question
	}
	var sb strings.Builder
	sb.WriteString("[Conversation so far]\n")
	for _, m := range history {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Text)
	}
	fmt.Fprintf(&sb, "\n[Question]\n%s", question)
	return sb.String()
}
