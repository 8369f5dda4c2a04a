package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotRunning is returned by EnsureReady when no server answers.
var ErrNotRunning = errors.New("Ollama is not running. Start it with: ollama serve")

// EnsureReady checks that the server is up and model is present, pulling it
// when missing, then loads it with a short warm-up request so the first
// analysis does not pay the cold start. Progress goes to w.
func EnsureReady(ctx context.Context, c *Client, model string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return ErrNotRunning
	}

	if !c.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		lastStatus := ""
		err := c.PullModel(ctx, model, func(p PullProgress) {
			if pct := p.Percent(); pct >= 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else if p.Status != lastStatus {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
			lastStatus = p.Status
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
	}
	fmt.Fprintf(w, "model %s: ready\n", model)

	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := c.Chat(warmCtx, model, []Message{{Role: "user", Content: "ping"}}, nil); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed, continuing: %v\n", model, err)
	}
	return nil
}
