package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/lea-sql/lea/internal/config"
	"github.com/lea-sql/lea/internal/dag"
	"github.com/lea-sql/lea/internal/executor"
	"github.com/lea-sql/lea/internal/gitdiff"
	"github.com/lea-sql/lea/internal/logging"
	"github.com/lea-sql/lea/internal/model"
	"github.com/lea-sql/lea/internal/parser"
	"github.com/lea-sql/lea/internal/progress"
	"github.com/lea-sql/lea/internal/testgen"
	"github.com/lea-sql/lea/internal/warehouse"
	"github.com/lea-sql/lea/internal/warehouse/bigquery"
	"github.com/lea-sql/lea/internal/warehouse/duckdb"
)

func envFor(rc *config.RunConfig) warehouse.Env {
	if rc.Env == config.EnvProd {
		return warehouse.EnvProd
	}
	return warehouse.EnvDev
}

func newExecutor(g *dag.Graph, active, frozen map[string]bool, wh warehouse.Warehouse, rc *config.RunConfig, sink progress.Sink) *executor.Executor {
	return &executor.Executor{Graph: g, Active: active, Frozen: frozen, WH: wh, Cfg: rc, Sink: sink}
}

// session bundles everything a subcommand needs to build and run a
// DAG: a loaded profile, a connected warehouse, and a logger,
// assembled once at the top of each command's RunE.
type session struct {
	profile *config.Profile
	log     *slog.Logger
	wh      warehouse.Warehouse
}

func newSession(ctx context.Context) (*session, error) {
	profile, err := config.Load(cfgFile)
	if err != nil {
		return nil, &model.ConfigError{Message: err.Error()}
	}

	log, err := logging.Setup(logLevel, profile.Logging.Directory)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	wh, err := openWarehouse(ctx, profile.Warehouse)
	if err != nil {
		return nil, err
	}

	return &session{profile: profile, log: log, wh: wh}, nil
}

func openWarehouse(ctx context.Context, wc config.WarehouseConfig) (warehouse.Warehouse, error) {
	switch wc.Kind {
	case config.WarehouseDuckDB, config.WarehouseMotherDuck, config.WarehouseDuckLake:
		kind := duckdb.KindLocal
		switch wc.Kind {
		case config.WarehouseMotherDuck:
			kind = duckdb.KindMotherDuck
		case config.WarehouseDuckLake:
			kind = duckdb.KindDuckLake
		}
		return duckdb.Open(duckdb.Config{Kind: kind, Path: wc.Path, Token: wc.Token, DevSuffix: devSuffix()})
	case config.WarehouseBigQuery:
		return bigquery.Open(ctx, bigquery.Config{Project: wc.Project, Dataset: wc.Dataset, Location: wc.Location, DevSuffix: devSuffix()})
	default:
		return nil, &model.ConfigError{Message: fmt.Sprintf("unknown warehouse kind %q", wc.Kind)}
	}
}

func devSuffix() string {
	return os.Getenv("LEA_USERNAME")
}

// buildGraph parses scriptsRoot, synthesizes embedded assertion tests,
// and builds the dependency graph. The process environment is exposed
// to .sql.jinja templates via the renderer's env lookup.
func buildGraph(scriptsRoot string) (*dag.Graph, error) {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	proj, err := parser.Parse(scriptsRoot, parser.Options{Env: env})
	if err != nil {
		return nil, err
	}
	testgen.SynthesizeAll(proj.Scripts)
	return dag.Build(proj.Scripts)
}

// resolveActive computes the active set and frozen-ancestor set for
// one run, wiring internal/gitdiff into the `git` selector atom.
func resolveActive(ctx context.Context, g *dag.Graph, rc *config.RunConfig, scriptsRoot string) (active, frozen map[string]bool, err error) {
	var gitModified map[string]bool
	if needsGit(rc.Select) || needsGit(rc.Unselect) {
		paths, err := gitdiff.ScriptsModified(ctx, ".", scriptsRoot, "HEAD")
		if err != nil {
			return nil, nil, fmt.Errorf("resolving git-modified scripts: %w", err)
		}
		// gitdiff reports file paths relative to scriptsRoot; the
		// selector matches TableID keys.
		gitModified = map[string]bool{}
		for key, s := range g.Scripts {
			if paths[s.SourcePath] {
				gitModified[key] = true
			}
		}
	}

	active, err = g.ActiveSet(rc.Select, rc.Unselect, gitModified)
	if err != nil {
		return nil, nil, err
	}

	unselected := g.UnselectedAncestors(active)
	frozen = map[string]bool{}
	if rc.FreezeUnselected {
		for key := range unselected {
			frozen[key] = true
		}
	}
	return active, frozen, nil
}

func needsGit(expr string) bool {
	atoms, err := dag.ParseSelection(expr)
	if err != nil {
		return false
	}
	for _, a := range atoms {
		if a.Kind == dag.GitAtom {
			return true
		}
	}
	return false
}

func newSink(jsonlOut bool, total int) progress.Sink {
	if jsonlOut {
		return progress.NewJSONL(os.Stdout)
	}
	return progress.NewTerminal(total)
}
