package gateway

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/clipsage/internal/project"
	"github.com/kalambet/clipsage/internal/proxy"
	"github.com/kalambet/clipsage/internal/resilience"
)

const (
	opAnalyze = "gateway.analyze"
	opAsk     = "gateway.ask"
)

// Guarded decorates a backend with a client-side rate limit, bounded
// retries and a per-operation circuit breaker.
type Guarded struct {
	next    Gateway
	limiter *rate.Limiter
	exec    *resilience.Executor
}

// NewGuarded wraps next. A nil limiter disables rate limiting.
func NewGuarded(next Gateway, limiter *rate.Limiter, exec *resilience.Executor) *Guarded {
	return &Guarded{next: next, limiter: limiter, exec: exec}
}

// NewLimiter builds a token bucket from requests per second and burst.
// Non-positive rps disables limiting.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), max(burst, 1))
}

func classify(err error) resilience.Classification {
	if err == nil {
		return resilience.Classification{}
	}
	if errors.Is(err, project.ErrCancelled) || errors.Is(err, context.Canceled) {
		return resilience.Classification{Retryable: false, RecordFailure: false}
	}
	return resilience.Classification{Retryable: Retryable(err), RecordFailure: true, RetryAfter: retryAfter(err)}
}

func retryAfter(err error) time.Duration {
	var pe *proxy.StatusError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

func (g *Guarded) wait(ctx context.Context, op string) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return mapError(ctx, op+" rate limit", err)
	}
	return nil
}

func (g *Guarded) Analyze(ctx context.Context, m Media) (project.Analysis, error) {
	a, err := resilience.Call(ctx, g.exec, opAnalyze, func(ctx context.Context) (project.Analysis, error) {
		if err := g.wait(ctx, opAnalyze); err != nil {
			return project.Analysis{}, err
		}
		return g.next.Analyze(ctx, m)
	}, classify)
	return a, mapError(ctx, opAnalyze, err)
}

func (g *Guarded) Ask(ctx context.Context, m Media, question string, history []project.ChatMessage) (string, error) {
	answer, err := resilience.Call(ctx, g.exec, opAsk, func(ctx context.Context) (string, error) {
		if err := g.wait(ctx, opAsk); err != nil {
			return "", err
		}
		return g.next.Ask(ctx, m, question, history)
	}, classify)
	return answer, mapError(ctx, opAsk, err)
}
