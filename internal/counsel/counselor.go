package counsel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/edvengers/zera-pilot/internal/llm"
)

// FallbackReply is shown in place of a completion when the backend fails.
const FallbackReply = "hmm, my connection glitched. can you say that again?"

// TokenCounter reports the token size of a prompt.
type TokenCounter interface {
	Count(text string) int
}

// Counselor turns counseling requests into completion calls.
type Counselor struct {
	completer llm.Completer
	sem       *semaphore.Weighted
	tokens    TokenCounter
	logger    *slog.Logger
}

// Option configures a Counselor.
type Option func(*Counselor)

// WithTokenCounter logs the prompt size of every completion.
func WithTokenCounter(tc TokenCounter) Option {
	return func(c *Counselor) { c.tokens = tc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Counselor) { c.logger = logger }
}

// NewCounselor creates a counselor allowing at most maxConcurrent in-flight completions.
func NewCounselor(completer llm.Completer, maxConcurrent int64, opts ...Option) *Counselor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	c := &Counselor{
		completer: completer,
		sem:       semaphore.NewWeighted(maxConcurrent),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete builds the prompt and returns the raw completion result.
func (c *Counselor) Complete(ctx context.Context, req Request) (string, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return "", err
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("waiting for completion slot: %w", err)
	}
	defer c.sem.Release(1)

	attrs := []any{"init", req.Init, "history_turns", len(req.History)}
	if c.tokens != nil {
		attrs = append(attrs, "prompt_tokens", c.tokens.Count(prompt))
	}
	c.logger.Debug("Requesting completion", attrs...)

	reply, err := c.completer.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// Reply is like Complete but never fails: any error or empty completion
// yields FallbackReply.
func (c *Counselor) Reply(ctx context.Context, req Request) string {
	reply, err := c.Complete(ctx, req)
	if err != nil {
		c.logger.Warn("Completion failed, using fallback reply", "init", req.Init, "error", err)
		return FallbackReply
	}
	if reply == "" {
		return FallbackReply
	}
	return reply
}
