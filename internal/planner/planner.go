// Package planner turns a feature description into an executable plan
// script through a single LLM exchange. The planner never executes
// anything; it only produces the script text the sandbox will judge.
package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jkaninda/mpango/internal/llm"
	"github.com/jkaninda/mpango/internal/tools"
)

// PlanningError wraps any failure to obtain a usable plan script.
// Planning is not retried; the run fails with this error.
type PlanningError struct {
	Provider    string
	RateLimited bool
	Err         error
}

func (e *PlanningError) Error() string {
	msg := "planning failed"
	if e.Provider != "" {
		msg += " (provider " + e.Provider + ")"
	}
	if e.RateLimited {
		msg += ": rate limited"
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// Cache stores plan scripts keyed by planning input. It is consulted
// only when result caching is enabled; no implementation ships in
// this module, deployments supply their own.
type Cache interface {
	Get(ctx context.Context, key string) (script string, ok bool)
	Put(ctx context.Context, key, script string)
}

// Planner produces plan scripts from feature descriptions.
type Planner struct {
	provider  llm.Provider
	cache     Cache
	maxTokens int
	logger    *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithCache enables plan caching for identical planning inputs.
func WithCache(c Cache) Option {
	return func(p *Planner) { p.cache = c }
}

// WithMaxTokens caps the completion budget for planning requests.
func WithMaxTokens(n int) Option {
	return func(p *Planner) { p.maxTokens = n }
}

// New creates a Planner on top of the given provider.
func New(provider llm.Provider, logger *slog.Logger, opts ...Option) *Planner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Planner{
		provider: provider,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provider reports the name of the underlying planning provider.
func (p *Planner) Provider() string { return p.provider.Name() }

// Plan sends one planning request and returns the extracted script.
func (p *Planner) Plan(ctx context.Context, feature string, catalog []tools.Spec) (string, error) {
	if strings.TrimSpace(feature) == "" {
		return "", &PlanningError{Err: errors.New("empty feature description")}
	}

	system := buildSystemPrompt(catalog)
	user := buildUserPrompt(feature)

	key := cacheKey(system, user)
	if p.cache != nil {
		if script, ok := p.cache.Get(ctx, key); ok {
			p.logger.DebugContext(ctx, "plan cache hit", slog.String("key", key[:12]))
			return script, nil
		}
	}

	p.logger.InfoContext(ctx, "planning started",
		slog.String("provider", p.provider.Name()),
		slog.Int("catalog_size", len(catalog)),
	)

	resp, err := p.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		MaxTokens:    p.maxTokens,
	})
	if err != nil {
		return "", &PlanningError{
			Provider:    p.provider.Name(),
			RateLimited: llm.IsRateLimited(err),
			Err:         err,
		}
	}
	if resp.Truncated() {
		return "", &PlanningError{
			Provider: p.provider.Name(),
			Err:      errors.New("plan truncated at the token limit"),
		}
	}

	script := extractScript(resp.Content)
	if script == "" {
		return "", &PlanningError{
			Provider: p.provider.Name(),
			Err:      errors.New("model returned no script"),
		}
	}

	if p.cache != nil {
		p.cache.Put(ctx, key, script)
	}

	p.logger.InfoContext(ctx, "plan generated",
		slog.String("provider", p.provider.Name()),
		slog.Int("script_bytes", len(script)),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
	)
	return script, nil
}

// cacheKey derives a stable key from the full planning input, so a
// catalog change invalidates cached plans.
func cacheKey(system, user string) string {
	h := sha256.New()
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(user))
	return hex.EncodeToString(h.Sum(nil))
}

// extractScript pulls the plan script out of the model's reply. The
// first fenced code block wins; a reply without fences is treated as
// the script itself.
func extractScript(text string) string {
	if block, ok := firstFencedBlock(text); ok {
		return normalizeScript(block)
	}
	return normalizeScript(text)
}

func firstFencedBlock(text string) (string, bool) {
	const fence = "```"
	start := strings.Index(text, fence)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(fence):]
	// The language tag, if any, runs to the end of the fence line.
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", false
	}
	rest = rest[nl+1:]
	if end := strings.Index(rest, fence); end >= 0 {
		return rest[:end], true
	}
	// Unterminated fence: take everything after the opening.
	return rest, true
}

// normalizeScript strips carriage returns, trailing whitespace per
// line, and surrounding blank lines. Non-empty scripts end with one
// newline.
func normalizeScript(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out := strings.Trim(strings.Join(lines, "\n"), "\n")
	if out == "" {
		return ""
	}
	return out + "\n"
}
