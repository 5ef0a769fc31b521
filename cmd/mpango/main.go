// Mpango — script-plan execution engine for feature requests.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mpango",
	Short: "Mpango — plans feature requests as scripts and executes them in a sandbox.",
	Long: `Mpango turns a natural-language feature request into one imperative plan
script through a single LLM exchange, then executes that script in a
restricted in-process interpreter where registered host tools are the
only reachable capabilities.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
