package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/mpango/internal/config"
	"github.com/jkaninda/mpango/internal/orchestrator"
	goutils "github.com/jkaninda/go-utils"
)

var (
	runConfigPath string
	runTimeout    int
	runProvider   string
)

var runCmd = &cobra.Command{
	Use:   "run [feature description]",
	Short: "Plan and execute a single feature request",
	Long: `Run one feature request to completion: plan it as a script, execute the
script in the sandbox, and print the run summary as JSON on stdout.
The feature description is taken from the arguments, or from stdin when
no arguments are given.

Examples:
  mpango run "assign three research tasks and execute them in parallel"
  echo "summarize the status of every open task" | mpango run

Exit codes:
  0  run succeeded
  1  run failed or could not start`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "script execution timeout in seconds (0 = config default)")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "override the planning provider (anthropic, openai, gemini, ollama)")
}

// runOnce executes a single feature request in-process and prints the
// summary. Only warnings and errors reach stderr so stdout stays a
// clean JSON document.
func runOnce(_ *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	feature := strings.TrimSpace(strings.Join(args, " "))
	if feature == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		feature = strings.TrimSpace(string(data))
	}
	if feature == "" {
		return fmt.Errorf("feature description is required (pass it as an argument or on stdin)")
	}

	cfg, err := config.Load(goutils.Env("MPANGO_CONFIG", runConfigPath))
	if err != nil {
		return err
	}
	if runProvider != "" {
		cfg.Providers.Default = runProvider
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req := &orchestrator.RunRequest{Feature: feature}
	if runTimeout > 0 {
		req.Timeout = time.Duration(runTimeout) * time.Second
	}

	summary, err := sc.Engine.Run(ctx, req)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run summary: %w", err)
	}
	fmt.Println(string(out))

	if !summary.Success {
		// Cleanup runs before the process exits; os.Exit would skip it.
		sc.Cleanup()
		os.Exit(1)
	}
	return nil
}
