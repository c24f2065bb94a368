// Package gitdiff resolves the `git` selector atom by shelling out to
// the git binary. The resolver is informational: it only tells the
// selector which script files changed, and never touches the graph or
// the warehouse itself.
package gitdiff

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ModifiedFiles returns the set of paths (relative to repoRoot) that
// differ between base and the working tree: committed changes on the
// current branch since base, plus any uncommitted modifications.
func ModifiedFiles(ctx context.Context, repoRoot, base string) (map[string]bool, error) {
	out := map[string]bool{}

	committed, err := runGit(ctx, repoRoot, "diff", "--name-only", base+"...HEAD")
	if err != nil {
		return nil, fmt.Errorf("git diff against %s: %w", base, err)
	}
	for _, line := range splitLines(committed) {
		out[line] = true
	}

	working, err := runGit(ctx, repoRoot, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	for _, line := range splitLines(working) {
		// Porcelain format: "XY path" (and "XY orig -> path" for renames).
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		path := fields[len(fields)-1]
		out[path] = true
	}

	return out, nil
}

// ScriptsModified filters ModifiedFiles' result down to paths beneath
// scriptsRoot, returning them relative to scriptsRoot so callers can
// match them against model.Script.SourcePath.
func ScriptsModified(ctx context.Context, repoRoot, scriptsRoot, base string) (map[string]bool, error) {
	files, err := ModifiedFiles(ctx, repoRoot, base)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(scriptsRoot, "/") + "/"
	out := map[string]bool{}
	for f := range files {
		if strings.HasPrefix(f, prefix) {
			out[strings.TrimPrefix(f, prefix)] = true
		}
	}
	return out, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
