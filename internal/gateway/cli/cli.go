// Package cli implements an interactive CLI gateway for Mpango.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jkaninda/mpango/internal/domain"
	"github.com/jkaninda/mpango/internal/orchestrator"
)

const cliCaller = "local"

// Gateway is the interactive command-line interface. Each input line is
// one feature request planned and executed to completion.
type Gateway struct {
	engine orchestrator.RunEngine
	logger *slog.Logger
	done   chan struct{} // closed by Stop to signal shutdown
}

// NewGateway creates a CLI gateway backed by the given engine.
func NewGateway(engine orchestrator.RunEngine, logger *slog.Logger) *Gateway {
	return &Gateway{
		engine: engine,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start runs the interactive REPL. Blocks until ctx is cancelled,
// Stop is called, or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("Mpango — describe a feature and it is planned and executed as a script.")
	fmt.Println("Type your request (or \"exit\" to quit).")
	fmt.Println()

	for {
		fmt.Print("mpango> ")

		// Check for context cancellation or Stop signal between prompts.
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down.")
			return nil
		case <-g.done:
			fmt.Println("\nShutting down.")
			return nil
		default:
		}

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Println("Goodbye.")
			return nil
		}

		g.logger.DebugContext(ctx, "cli run", slog.String("caller", cliCaller))

		summary, err := g.engine.Run(ctx, &orchestrator.RunRequest{
			Feature: line,
			Caller:  cliCaller,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Println("\nShutting down.")
				return nil
			}
			g.logger.ErrorContext(ctx, "run failed",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}

		printSummary(summary)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	return nil
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
		// Already closed.
	default:
		close(g.done)
	}
	return nil
}

// printSummary renders a run summary for a terminal reader.
func printSummary(s *domain.RunSummary) {
	fmt.Println()
	if s.Success {
		fmt.Printf("Run %s succeeded (%d tool calls, %dms)\n", s.ID, s.ToolCalls, s.ExecutionTimeMS)
	} else {
		fmt.Printf("Run %s failed (%dms)\n", s.ID, s.ExecutionTimeMS)
		for _, e := range s.Errors {
			fmt.Printf("  error: %s\n", e)
		}
	}

	if s.Result != nil {
		if data, err := json.MarshalIndent(s.Result, "", "  "); err == nil {
			fmt.Printf("Result:\n%s\n", data)
		}
	}
	fmt.Println()
}
