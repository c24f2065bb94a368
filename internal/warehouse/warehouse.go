// Package warehouse defines the capability interface lea's executor
// drives every supported target through. Each vendor
// (DuckDB/MotherDuck/DuckLake, BigQuery) implements Warehouse as an
// independent variant; internal/executor never type-switches on which
// one it holds.
package warehouse

import (
	"context"

	"github.com/lea-sql/lea/internal/model"
)

// Env selects which namespace a TableID renders against: a per-user
// dev namespace, or the shared production namespace.
type Env int

const (
	EnvDev Env = iota
	EnvProd
)

// DepsResolution tells materialize how to rewrite a script's internal
// dependency references: a dependency reads from its audit form if it
// is in the active set (or unselected but not frozen), and from
// production otherwise.
type DepsResolution int

const (
	// ResolveAudit: referenced table reads from its audit form in the
	// current Env; covers both active-set dependencies and
	// unselected-but-unfrozen ancestors serving as a checkpoint.
	ResolveAudit DepsResolution = iota
	// ResolveProd: referenced table reads from the shared production
	// namespace regardless of dev/prod Env (a frozen ancestor under
	// --freeze-unselected).
	ResolveProd
)

// DepsMap tells materialize, per graph-internal dependency TableID,
// which resolution to use when rewriting that reference in the
// script's SQL.
type DepsMap map[string]DepsResolution

// MaterializeResult reports the outcome of one materialize call.
type MaterializeResult struct {
	RowsAffected int64
}

// Warehouse is the only vendor-specific contract the engine consumes.
// Implementations must be safe for concurrent use;
// internal/executor calls them from up to RunConfig.Concurrency
// goroutines at once, and are expected to pool connections
// internally; the engine does not serialise calls beyond its
// concurrency bound.
type Warehouse interface {
	// Prepare ensures the target namespace for env exists (dataset,
	// schema, or database file).
	Prepare(ctx context.Context, env Env) error

	// Teardown drops the target namespace for env. Used by tests and
	// the `lea` CLI's dev-reset path; never called mid-run.
	Teardown(ctx context.Context, env Env) error

	// RenderTableRef produces the warehouse-syntax identifier for id.
	// audit selects the ___audit form. The DuckDB and BigQuery
	// renderings keep their namespace (and project) in the text, so
	// parsing the result with internal/sqldeps + model.ParseQualifiedRef
	// does not give id back.
	RenderTableRef(id model.TableID, audit bool, env Env) string

	// Materialize executes script's SQL, rewriting each
	// graph-internal dependency reference per deps, and creates or
	// replaces the corresponding table (the audit form if audit is
	// true). Incremental scripts (model.Script.IsIncremental) merge
	// new rows on IncrementalKey instead of a full replace.
	Materialize(ctx context.Context, script *model.Script, audit bool, env Env, deps DepsMap) (MaterializeResult, error)

	// QueryRows executes a SELECT and returns up to limit rows, used
	// by the executor to sample violating rows for AssertionFailure.
	QueryRows(ctx context.Context, sql string, limit int) ([]map[string]any, error)

	// Promote atomically replaces the production table with its
	// audit table. Vendors without a native atomic rename may
	// implement this as copy-then-delete; such vendors must document
	// the narrowed atomicity window.
	Promote(ctx context.Context, id model.TableID, env Env) error

	// Drop removes a table (audit or production form). Idempotent:
	// dropping a table that doesn't exist is not an error.
	Drop(ctx context.Context, id model.TableID, audit bool, env Env) error

	// CheckpointMTime returns the last-materialisation time the
	// executor's skip logic should
	// compare a script's mtime against: id's audit table's mtime if
	// one is live (a checkpoint from a run that errored before
	// promotion), else its already-promoted production table's mtime
	// (a clean prior success), else not-exists (never materialised).
	CheckpointMTime(ctx context.Context, id model.TableID, env Env) (mtime int64, exists bool, err error)

	// Close releases any pooled connections.
	Close() error
}
