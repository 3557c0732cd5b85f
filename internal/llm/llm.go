package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"scholar/internal/apperr"
	"scholar/internal/retry"
)

// Embedder turns text into a vector. Every vector of one deployment has the same dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Params tune a single completion call.
type Params struct {
	Temperature float32
	MaxTokens   int
	// JSON asks the provider for a JSON object response.
	JSON bool
}

// Completer produces text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, p Params) (string, error)
}

var (
	errEmptyEmbedding  = errors.New("empty embedding received")
	errEmptyCompletion = errors.New("empty completion received")
)

// GuardedEmbedder bounds every call with a timeout, retries transient
// failures and reports the final failure as an embedding service error.
type GuardedEmbedder struct {
	next    Embedder
	timeout time.Duration
	policy  retry.Policy
}

func NewGuardedEmbedder(next Embedder, timeout time.Duration, policy retry.Policy) *GuardedEmbedder {
	return &GuardedEmbedder{next: next, timeout: timeout, policy: policy}
}

func (g *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := retry.Do(ctx, g.policy, func(ctx context.Context) error {
		callCtx, cancel := withTimeout(ctx, g.timeout)
		defer cancel()

		v, err := g.next.Embed(callCtx, text)
		if err != nil {
			return permanentIfConfig(err)
		}
		if len(v) == 0 {
			return retry.Permanent(errEmptyEmbedding)
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, apperr.External("embedding", err)
	}
	return vec, nil
}

// GuardedCompleter is the completion counterpart of GuardedEmbedder.
type GuardedCompleter struct {
	next    Completer
	timeout time.Duration
	policy  retry.Policy
}

func NewGuardedCompleter(next Completer, timeout time.Duration, policy retry.Policy) *GuardedCompleter {
	return &GuardedCompleter{next: next, timeout: timeout, policy: policy}
}

func (g *GuardedCompleter) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	var out string
	err := retry.Do(ctx, g.policy, func(ctx context.Context) error {
		callCtx, cancel := withTimeout(ctx, g.timeout)
		defer cancel()

		s, err := g.next.Complete(callCtx, prompt, p)
		if err != nil {
			return permanentIfConfig(err)
		}
		// A blank body is retried like any transient failure.
		if strings.TrimSpace(s) == "" {
			return errEmptyCompletion
		}
		out = s
		return nil
	})
	if err != nil {
		return "", apperr.External("completion", err)
	}
	return out, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// A missing key or bad parameter will not heal by retrying.
func permanentIfConfig(err error) error {
	if errors.Is(err, apperr.ErrConfig) {
		return retry.Permanent(err)
	}
	return err
}
