// Package proxy is a minimal OpenRouter client for multimodal chat
// completions. Retries are left to the caller.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	// Upper bound for one completion; a long video can take minutes.
	defaultTimeout = 10 * time.Minute
)

// ErrTruncated means the completion stopped at the output token limit.
var ErrTruncated = errors.New("openrouter completion truncated at the length limit")

// StatusError is an HTTP error from OpenRouter, or an error object returned
// inside a 200 response. RetryAfter is set when the server sent the header.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("openrouter: status %d", e.StatusCode)
	}
	return fmt.Sprintf("openrouter: status %d: %s", e.StatusCode, e.Body)
}

// Client calls the OpenRouter API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	referer string
	title   string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a client authenticating with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		referer: "https://github.com/kalambet/clipsage",
		title:   "clipsage",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("openrouter: encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("openrouter: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("openrouter %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openrouter %s: decoding response: %w", path, err)
	}
	return nil
}

// parseRetryAfter reads either delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0)
	}
	return 0
}

// Complete sends a non-streaming chat completion and returns the first
// choice's content. Provider failures reported inside a 200 response come
// back as *StatusError; a structured completion cut off at the length limit
// returns ErrTruncated.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	var cr ChatResponse
	if err := c.send(ctx, http.MethodPost, "/chat/completions", req, &cr); err != nil {
		return "", err
	}
	if cr.Error != nil {
		code := cr.Error.Code
		if code == 0 {
			code = http.StatusBadGateway
		}
		return "", &StatusError{StatusCode: code, Body: cr.Error.Message}
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("openrouter: response has no choices")
	}
	choice := cr.Choices[0]
	if req.ResponseFormat != nil && choice.FinishReason == "length" {
		return "", ErrTruncated
	}
	return choice.Message.Content, nil
}

// ListModels returns the models available to the key.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var list ModelList
	if err := c.send(ctx, http.MethodGet, "/models", nil, &list); err != nil {
		return nil, err
	}
	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}
