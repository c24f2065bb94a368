// Command lea is the CLI entry point wiring lea's engine
// (internal/parser, internal/dag, internal/executor) to a warehouse:
// a cobra root command plus one subcommand per workflow.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "lea",
	Short: "lea, a minimalist SQL transformation orchestrator",
	Long: `lea parses a directory of SQL scripts, infers a dependency DAG from
the SQL itself, and materialises it into a warehouse using
Write-Audit-Publish with embedded assertion tests.`,
}

func main() {
	// .env loading happens once here, before any RunConfig is
	// assembled; the engine itself only ever sees resolved os.Getenv
	// values.
	_ = godotenv.Load()

	// SIGINT cancels the run context: in-flight warehouse queries are
	// aborted, already-materialised audit tables stay behind as
	// checkpoints for the next run.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.Version = version
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "profile file (default: ~/.lea/lea.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}
