package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lea-sql/lea/internal/config"
)

var initDir string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "scaffold a new lea project",
	RunE: func(cmd *cobra.Command, args []string) error {
		scriptsRoot := filepath.Join(initDir, "scripts")
		for _, dir := range []string{scriptsRoot, filepath.Join(scriptsRoot, "staging"), filepath.Join(scriptsRoot, "core"), filepath.Join(scriptsRoot, "tests")} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}
		}

		profilePath := filepath.Join(initDir, "lea.yaml")
		if _, err := os.Stat(profilePath); err == nil {
			return fmt.Errorf("%s already exists", profilePath)
		}

		profile := fmt.Sprintf(`version: %d
warehouse:
  kind: duckdb
  path: %s
run:
  concurrency: %d
  scripts_root: %s
logging:
  level: info
`, config.CurrentVersion, filepath.Join(initDir, "lea.duckdb"), config.DefaultConcurrency, scriptsRoot)

		if err := os.WriteFile(profilePath, []byte(profile), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", profilePath, err)
		}

		fmt.Printf("initialized lea project in %s\n", initDir)
		fmt.Printf("  profile:      %s\n", profilePath)
		fmt.Printf("  scripts root: %s\n", scriptsRoot)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", ".", "directory to scaffold the project into")
	rootCmd.AddCommand(initCmd)
}
