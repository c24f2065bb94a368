package main

import "github.com/spf13/cobra"

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "materialize and audit the active set without promoting to production",
	Long: `test runs the Write and Audit phases exactly like run, so every
embedded assertion executes against freshly materialized audit tables,
but skips Publish: nothing is promoted to production. Intended for CI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOrTest(cmd, true)
	},
}

func init() {
	testCmd.Flags().StringVar(&runScriptsRoot, "scripts-root", "", "root directory of SQL scripts (overrides profile run.scripts_root)")
	testCmd.Flags().StringVar(&runSelect, "select", "", "selector expression narrowing the active set")
	testCmd.Flags().StringVar(&runUnselect, "unselect", "", "selector expression excluded from the active set")
	testCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "max concurrent materializations (default: profile or 8)")
	testCmd.Flags().BoolVar(&runProduction, "production", false, "audit against the shared production namespace")
	testCmd.Flags().BoolVar(&runRestart, "restart", false, "ignore existing checkpoints and rematerialize everything")
	testCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "cancel on the first error instead of isolating it")
	testCmd.Flags().BoolVar(&runFreeze, "freeze-unselected", false, "read unselected ancestors from production instead of their audit checkpoint")
	testCmd.Flags().BoolVar(&runJSONL, "jsonl", false, "emit newline-delimited JSON progress events instead of the terminal UI")
	testCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per-node timeout (0 disables)")
	rootCmd.AddCommand(testCmd)
}
