package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// docsCmd is a stub: full lineage-doc generation (a rendered DAG +
// column-level descriptions) is not implemented yet, but the command
// exists so tooling built against lea's CLI surface doesn't need to
// special-case its absence.
var docsCmd = &cobra.Command{
	Use:    "docs",
	Short:  "generate project documentation (not yet implemented)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("lea docs: not yet implemented")
	},
}

func init() {
	rootCmd.AddCommand(docsCmd)
}
