package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrTruncated means the model stopped at its context or output limit, so a
// structured reply cannot be trusted.
var ErrTruncated = errors.New("ollama reply truncated at the context limit")

// Message is a chat message. Images carries base64 attachments; multimodal
// models read audio and video payloads from there.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// Schema is a JSON schema sent as the chat format to force structured output.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty is one schema field. Arrays set Items; objects set Properties.
type SchemaProperty struct {
	Type        string                    `json:"type"`
	Description string                    `json:"description,omitempty"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Required    []string                  `json:"required,omitempty"`
}

// StatusError is returned when Ollama answers with a non-200 status.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("ollama %s: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("ollama %s: status %d: %s", e.Operation, e.StatusCode, body)
}

// Client talks to an Ollama server. Requests carry no client-side timeout:
// analysing a long recording can take minutes, so callers bound it with ctx.
type Client struct {
	baseURL   string
	http      *http.Client
	keepAlive string
	numCtx    int
}

// Option configures a Client.
type Option func(*Client)

// WithKeepAlive sets how long Ollama keeps the model loaded after a request,
// e.g. "10m". Empty leaves the server default.
func WithKeepAlive(d string) Option {
	return func(c *Client) { c.keepAlive = d }
}

// WithContextWindow overrides the model's context length in tokens. Media
// payloads overflow the small defaults most models ship with.
func WithContextWindow(tokens int) Option {
	return func(c *Client) { c.numCtx = tokens }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends a request and returns the response when the status is 200.
// The caller closes the body.
func (c *Client) do(ctx context.Context, op, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("ollama %s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("ollama %s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama %s: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Operation: op, StatusCode: resp.StatusCode, Body: string(msg)}
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, in, out any) error {
	resp, err := c.do(ctx, op, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ollama %s: decoding response: %w", op, err)
	}
	return nil
}

// Version returns the server version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.call(ctx, "version", http.MethodGet, "/api/version", nil, &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// IsRunning reports whether the server answers within two seconds.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.Version(ctx)
	return err == nil
}

// Model is one locally available model.
type Model struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ListModels returns the locally available models.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var tags struct {
		Models []Model `json:"models"`
	}
	if err := c.call(ctx, "tags", http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, err
	}
	return tags.Models, nil
}

// HasModel reports whether name is available locally. A name without a tag
// matches any tag, so "gemma3" finds "gemma3:latest".
func (c *Client) HasModel(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m.Name == name || strings.HasPrefix(m.Name, name+":") {
			return true
		}
	}
	return false
}

// PullProgress is one line of the streamed pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Percent is the download progress, or -1 for steps without a size.
func (p PullProgress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// PullModel downloads a model, passing each streamed progress line to
// onProgress when it is non-nil.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	op := "pull " + name
	resp, err := c.do(ctx, op, http.MethodPost, "/api/pull", map[string]any{"model": name, "stream": true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		if err := dec.Decode(&p); errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("ollama %s: reading progress: %w", op, err)
		}
		// Pull failures arrive mid-stream with a 200 status.
		if p.Error != "" {
			return fmt.Errorf("ollama %s: %s", op, p.Error)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
}

type chatRequest struct {
	Model     string         `json:"model"`
	Messages  []Message      `json:"messages"`
	Stream    bool           `json:"stream"`
	Format    any            `json:"format,omitempty"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message    Message `json:"message"`
	DoneReason string  `json:"done_reason,omitempty"`
}

// Chat sends messages to model and returns the reply text. A non-nil schema
// requests structured output with temperature 0; a structured reply cut off
// at the length limit returns ErrTruncated.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	req := chatRequest{Model: model, Messages: messages, KeepAlive: c.keepAlive}
	opts := map[string]any{}
	if c.numCtx > 0 {
		opts["num_ctx"] = c.numCtx
	}
	if schema != nil {
		req.Format = schema
		opts["temperature"] = 0
	}
	if len(opts) > 0 {
		req.Options = opts
	}

	var resp chatResponse
	if err := c.call(ctx, "chat", http.MethodPost, "/api/chat", req, &resp); err != nil {
		return "", err
	}
	if schema != nil && resp.DoneReason == "length" {
		return "", fmt.Errorf("ollama chat: %w", ErrTruncated)
	}
	return resp.Message.Content, nil
}
