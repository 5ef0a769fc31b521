package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Fallback chains planning providers. The first entry is the primary;
// the rest are consulted in order when it fails. Rate limiting falls
// through like any other failure — a secondary may still have
// capacity. Context cancellation stops the walk early: an exhausted
// planning budget is not spent on providers that can no longer answer
// in time.
type Fallback struct {
	chain  []Provider
	logger *slog.Logger
}

// NewFallback builds a provider chain from a primary and any number of
// secondaries. Panics on an empty chain: a planner without a provider
// is a construction bug, not a runtime condition.
func NewFallback(logger *slog.Logger, chain ...Provider) *Fallback {
	if len(chain) == 0 {
		panic("llm: fallback chain requires at least one provider")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fallback{chain: chain, logger: logger}
}

// SendMessage walks the chain and returns the first answer. When every
// provider fails, the returned error carries each failure in chain
// order, so the run record names what was tried.
func (f *Fallback) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	var failures []error
	for _, p := range f.chain {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		resp, err := p.SendMessage(ctx, req)
		if err == nil {
			if len(failures) > 0 {
				f.logger.InfoContext(ctx, "planning provider fallback answered",
					slog.String("provider", p.Name()),
					slog.Int("failed_before", len(failures)),
				)
			}
			return resp, nil
		}
		failures = append(failures, fmt.Errorf("%s: %w", p.Name(), err))
		f.logger.WarnContext(ctx, "planning provider failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
	}
	return nil, errors.Join(failures...)
}

// Name identifies the chain by its members, primary first.
func (f *Fallback) Name() string {
	if len(f.chain) == 1 {
		return f.chain[0].Name()
	}
	names := make([]string, len(f.chain))
	for i, p := range f.chain {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}
