package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lea-sql/lea/internal/config"
	"github.com/lea-sql/lea/internal/progress"
)

var (
	runScriptsRoot string
	runSelect      string
	runUnselect    string
	runConcurrency int
	runProduction  bool
	runRestart     bool
	runFailFast    bool
	runFreeze      bool
	runJSONL       bool
	runTimeout     time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "materialize the active set of scripts against the warehouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOrTest(cmd, false)
	},
}

// runOrTest backs both `lea run` and `lea test`; the only difference
// is whether the executor promotes its audit tables at the end.
func runOrTest(cmd *cobra.Command, noPublish bool) error {
	ctx := cmd.Context()

	sess, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer sess.wh.Close()

	rc, err := config.NewRunConfig(sess.profile, runProduction, config.RunConfig{
		Concurrency:      runConcurrency,
		Restart:          runRestart,
		FailFast:         runFailFast,
		FreezeUnselected: runFreeze,
		NoPublish:        noPublish,
		Timeout:          runTimeout,
		Select:           runSelect,
		Unselect:         runUnselect,
		ScriptsRoot:      runScriptsRoot,
	})
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	sess.log.Info("starting run", "run_id", runID, "select", rc.Select, "unselect", rc.Unselect, "production", runProduction)

	g, err := buildGraph(rc.ScriptsRoot)
	if err != nil {
		return err
	}

	active, frozen, err := resolveActive(ctx, g, rc, rc.ScriptsRoot)
	if err != nil {
		return err
	}

	if err := sess.wh.Prepare(ctx, envFor(rc)); err != nil {
		return fmt.Errorf("preparing warehouse namespace: %w", err)
	}

	sink := newSink(runJSONL, len(active))
	defer sink.Close()

	result, err := newExecutor(g, active, frozen, sess.wh, rc, sink).Run(ctx)
	if err != nil {
		return err
	}

	sess.log.Info("run complete", "run_id", runID, "succeeded", result.Succeeded(), "nodes", len(result.Statuses), "promoted", len(result.Promoted))
	if !result.Succeeded() {
		failed := 0
		for _, st := range result.Statuses {
			if st != progress.StatusDone && st != progress.StatusSkipped {
				failed++
			}
		}
		return fmt.Errorf("run failed: %d node(s) did not complete successfully", failed)
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runScriptsRoot, "scripts-root", "", "root directory of SQL scripts (overrides profile run.scripts_root)")
	runCmd.Flags().StringVar(&runSelect, "select", "", "selector expression narrowing the active set")
	runCmd.Flags().StringVar(&runUnselect, "unselect", "", "selector expression excluded from the active set")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "max concurrent materializations (default: profile or 8)")
	runCmd.Flags().BoolVar(&runProduction, "production", false, "run against the shared production namespace")
	runCmd.Flags().BoolVar(&runRestart, "restart", false, "ignore existing checkpoints and rematerialize everything")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "cancel the run on the first error instead of isolating it")
	runCmd.Flags().BoolVar(&runFreeze, "freeze-unselected", false, "read unselected ancestors from production instead of their audit checkpoint")
	runCmd.Flags().BoolVar(&runJSONL, "jsonl", false, "emit newline-delimited JSON progress events instead of the terminal UI")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per-node timeout (0 disables)")
	rootCmd.AddCommand(runCmd)
}
