package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lea-sql/lea/internal/warehouse"
)

var teardownProduction bool

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "drop the target namespace (your dev namespace by default)",
	Long: `teardown drops the warehouse namespace lea materialises into: the
per-user dev dataset/schema by default, or the shared production
namespace with --production. Every table in it is lost.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sess, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer sess.wh.Close()

		env := warehouse.EnvDev
		if teardownProduction {
			env = warehouse.EnvProd
		}
		if err := sess.wh.Teardown(ctx, env); err != nil {
			return fmt.Errorf("tearing down namespace: %w", err)
		}
		sess.log.Info("namespace dropped", "production", teardownProduction)
		return nil
	},
}

func init() {
	teardownCmd.Flags().BoolVar(&teardownProduction, "production", false, "drop the shared production namespace instead of the dev one")
	rootCmd.AddCommand(teardownCmd)
}
