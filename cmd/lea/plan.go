package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lea-sql/lea/internal/config"
	"github.com/lea-sql/lea/internal/dag"
)

var (
	planScriptsRoot string
	planSelect      string
	planUnselect    string
	planProduction  bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "print the active set's topological run order without touching the warehouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		profile, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		rc, err := config.NewRunConfig(profile, planProduction, config.RunConfig{
			Select:      planSelect,
			Unselect:    planUnselect,
			ScriptsRoot: planScriptsRoot,
		})
		if err != nil {
			return err
		}

		g, err := buildGraph(rc.ScriptsRoot)
		if err != nil {
			return err
		}

		active, frozen, err := resolveActive(ctx, g, rc, rc.ScriptsRoot)
		if err != nil {
			return err
		}

		for _, key := range dag.TopoOrder(g, active) {
			script := g.Scripts[key]
			marker := " "
			if frozen[key] {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, script.ID)
		}
		if len(frozen) > 0 {
			fmt.Println("\n* frozen ancestor (reads from production)")
		}
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planScriptsRoot, "scripts-root", "", "root directory of SQL scripts (overrides profile run.scripts_root)")
	planCmd.Flags().StringVar(&planSelect, "select", "", "selector expression narrowing the active set")
	planCmd.Flags().StringVar(&planUnselect, "unselect", "", "selector expression excluded from the active set")
	planCmd.Flags().BoolVar(&planProduction, "production", false, "resolve the plan as it would run in production")
	rootCmd.AddCommand(planCmd)
}
