// Package gateway runs media analysis and follow-up questions against a
// multimodal model. Backends differ in transport only; every error they
// return carries project.ErrCancelled or project.ErrGateway.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kalambet/clipsage/internal/ollama"
	"github.com/kalambet/clipsage/internal/project"
	"github.com/kalambet/clipsage/internal/proxy"
)

// Media is an encoded payload ready for inference.
type Media struct {
	Data     string
	MimeType string
	Name     string
}

// Gateway is the inference boundary used by the orchestrator.
type Gateway interface {
	Analyze(ctx context.Context, m Media) (project.Analysis, error)
	Ask(ctx context.Context, m Media, question string, history []project.ChatMessage) (string, error)
}

// mapError tags err with its kind. A cancelled context always wins so that
// a transport error raised by the cancellation is not reported as a failure.
func mapError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, project.ErrCancelled) || errors.Is(err, project.ErrGateway) {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return project.WrapError(project.ErrCancelled, op, err)
	}
	return project.WrapError(project.ErrGateway, op, err)
}

// Retryable reports whether a gateway error is worth another attempt:
// HTTP 408, 429, 5xx, timeouts and network failures.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, project.ErrCancelled) {
		return false
	}
	if code, ok := statusCode(err); ok {
		return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func statusCode(err error) (int, bool) {
	var oe *ollama.StatusError
	if errors.As(err, &oe) {
		return oe.StatusCode, true
	}
	var pe *proxy.StatusError
	if errors.As(err, &pe) {
		return pe.StatusCode, true
	}
	return 0, false
}

// parseAnalysis decodes a model reply. Models sometimes wrap JSON in a
// markdown fence; that is stripped first.
func parseAnalysis(raw string) (project.Analysis, error) {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	var a project.Analysis
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return project.Analysis{}, fmt.Errorf("decoding analysis: %w", err)
	}
	if a.Topics == nil {
		a.Topics = []string{}
	}
	if a.Chapters == nil {
		a.Chapters = []project.Chapter{}
	}
	if a.Transcript == nil {
		a.Transcript = []project.Segment{}
	}
	return a, nil
}
