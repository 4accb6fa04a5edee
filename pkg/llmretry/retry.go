// Package llmretry wraps llm.Provider and embedder.Provider with retry and
// backoff, so upstream LLM/embedder failures retry on transient errors, surface
// everything else immediately. Grounded on github.com/cenkalti/backoff/v4,
// cenkalti/backoff for exponential backoff with jitter, composed with the
// llm.Provider/embedder.Provider interfaces unchanged.
package llmretry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentmem/agentmem/pkg/agmerr"
	"github.com/agentmem/agentmem/pkg/embedder"
	"github.com/agentmem/agentmem/pkg/llm"
)

// Policy configures retry behavior.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy retries up to 3 attempts with exponential backoff starting
// at 200ms, capped at 2s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
}

func (p Policy) backoffFor(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxAttempts(p)-1)), ctx)
}

func maxAttempts(p Policy) int {
	if p.MaxAttempts <= 0 {
		return DefaultPolicy().MaxAttempts
	}
	return p.MaxAttempts
}

// shouldRetry reports whether err is the kind of transient failure worth
// retrying: agmerr-classified Retryable kinds, or an unwrapped error from a
// provider that doesn't classify its own errors (treated as retryable,
// since upstream HTTP/network failures are the dominant unclassified case).
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var ae *agmerr.Error
	if errors.As(err, &ae) {
		return agmerr.Retryable(err)
	}
	return true
}

// LLM wraps an llm.Provider with retry/backoff.
type LLM struct {
	inner  llm.Provider
	policy Policy
}

// NewLLM wraps provider with the given retry policy.
func NewLLM(provider llm.Provider, policy Policy) *LLM {
	return &LLM{inner: provider, policy: policy}
}

var _ llm.Provider = (*LLM)(nil)

func (r *LLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	var out string
	op := func() error {
		var err error
		out, err = r.inner.Generate(ctx, prompt, opts...)
		if err != nil && !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, r.policy.backoffFor(ctx))
	return out, unwrapPermanent(err)
}

func (r *LLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	var out string
	op := func() error {
		var err error
		out, err = r.inner.GenerateWithMessages(ctx, messages, opts...)
		if err != nil && !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, r.policy.backoffFor(ctx))
	return out, unwrapPermanent(err)
}

func (r *LLM) Close() error { return r.inner.Close() }

// Embedder wraps an embedder.Provider with retry/backoff.
type Embedder struct {
	inner  embedder.Provider
	policy Policy
}

// NewEmbedder wraps provider with the given retry policy.
func NewEmbedder(provider embedder.Provider, policy Policy) *Embedder {
	return &Embedder{inner: provider, policy: policy}
}

var _ embedder.Provider = (*Embedder)(nil)

func (r *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	var out []float64
	op := func() error {
		var err error
		out, err = r.inner.Embed(ctx, text)
		if err != nil && !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, r.policy.backoffFor(ctx))
	return out, unwrapPermanent(err)
}

func (r *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	var out [][]float64
	op := func() error {
		var err error
		out, err = r.inner.EmbedBatch(ctx, texts)
		if err != nil && !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, r.policy.backoffFor(ctx))
	return out, unwrapPermanent(err)
}

func (r *Embedder) Dimensions() int { return r.inner.Dimensions() }

func (r *Embedder) Close() error { return r.inner.Close() }

func unwrapPermanent(err error) error {
	var perr *backoff.PermanentError
	if errors.As(err, &perr) {
		return perr.Unwrap()
	}
	return err
}
