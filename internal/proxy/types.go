package proxy

import "encoding/json"

// ChatRequest is the OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Message is one chat turn. Content is either a plain string or a list of
// parts; use TextContent or PartsContent to build it.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type string    `json:"type"`
	Text string    `json:"text,omitempty"`
	File *FilePart `json:"file,omitempty"`
}

// FilePart attaches inline file data as a data URL.
type FilePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

// ResponseFormat requests structured output.
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema names a schema for structured output.
type JSONSchema struct {
	Name   string `json:"name"`
	Strict bool   `json:"strict"`
	Schema any    `json:"schema"`
}

// TextContent encodes a plain string message body.
func TextContent(text string) json.RawMessage {
	b, _ := json.Marshal(text)
	return b
}

// PartsContent encodes a multi-part message body.
func PartsContent(parts ...ContentPart) json.RawMessage {
	b, _ := json.Marshal(parts)
	return b
}

// ChatResponse is the non-streaming completion response. Error is set when
// the upstream provider failed after OpenRouter accepted the request.
type ChatResponse struct {
	ID      string    `json:"id"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError is OpenRouter's error object.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Choice is one completion alternative.
type Choice struct {
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message inside a choice.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Model is one entry of the /models listing.
type Model struct {
	ID            string       `json:"id"`
	Name          string       `json:"name,omitempty"`
	ContextLength int          `json:"context_length,omitempty"`
	Architecture  Architecture `json:"architecture"`
}

// Architecture lists the modalities a model accepts.
type Architecture struct {
	InputModalities []string `json:"input_modalities,omitempty"`
}

// Accepts reports whether the model takes the given input modality, such as
// "audio" or "video".
func (m Model) Accepts(modality string) bool {
	for _, in := range m.Architecture.InputModalities {
		if in == modality {
			return true
		}
	}
	return false
}

// ModelList is the response from /models.
type ModelList struct {
	Data []Model `json:"data"`
}
