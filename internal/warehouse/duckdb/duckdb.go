// Package duckdb implements warehouse.Warehouse over DuckDB,
// MotherDuck, and DuckLake with a single driver
// (github.com/marcboeker/go-duckdb/v2): one struct, one pooled
// connection, every capability-interface method a thin SQL statement
// built from it. MotherDuck is reached through an `md:` DSN; DuckLake
// is attached in Prepare via `INSTALL ducklake; ATTACH 'ducklake:...'`.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/lea-sql/lea/internal/model"
	"github.com/lea-sql/lea/internal/warehouse"
)

// Kind distinguishes the three DSN shapes this package accepts.
type Kind int

const (
	KindLocal Kind = iota
	KindMotherDuck
	KindDuckLake
)

// Config configures a DuckDB-family warehouse connection.
type Config struct {
	Kind Kind

	// Path is the local database file (KindLocal), the MotherDuck
	// database name (KindMotherDuck, combined with Token into an
	// `md:` DSN), or the DuckLake catalog DSN (KindDuckLake).
	Path string

	// Token is the MotherDuck service token; unused otherwise.
	Token string

	// DevSuffix is appended to the schema name to form the per-user
	// dev namespace.
	DevSuffix string
}

// Warehouse implements warehouse.Warehouse over a pooled
// *sql.DB connected to DuckDB, MotherDuck, or a DuckLake catalog.
type Warehouse struct {
	db  *sql.DB
	cfg Config
}

// Open connects to the configured DuckDB-family target.
func Open(cfg Config) (*Warehouse, error) {
	dsn, err := dsn(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging duckdb: %w", err)
	}
	return &Warehouse{db: db, cfg: cfg}, nil
}

func dsn(cfg Config) (string, error) {
	switch cfg.Kind {
	case KindLocal:
		return cfg.Path, nil
	case KindMotherDuck:
		if cfg.Token == "" {
			return "", fmt.Errorf("motherduck requires a service token")
		}
		return fmt.Sprintf("md:%s?motherduck_token=%s", cfg.Path, cfg.Token), nil
	case KindDuckLake:
		// The catalog is ATTACHed explicitly in Prepare; the initial
		// connection is an in-memory session.
		return "", nil
	default:
		return "", fmt.Errorf("unknown duckdb kind %d", cfg.Kind)
	}
}

func (w *Warehouse) namespace(env warehouse.Env) string {
	if env == warehouse.EnvProd || w.cfg.DevSuffix == "" {
		return "main"
	}
	return "main_" + w.cfg.DevSuffix
}

func (w *Warehouse) Prepare(ctx context.Context, env warehouse.Env) error {
	if w.cfg.Kind == KindDuckLake {
		if _, err := w.db.ExecContext(ctx, "INSTALL ducklake; LOAD ducklake;"); err != nil {
			return fmt.Errorf("installing ducklake extension: %w", err)
		}
		attach := fmt.Sprintf("ATTACH 'ducklake:%s' AS lake;", w.cfg.Path)
		if _, err := w.db.ExecContext(ctx, attach); err != nil {
			return fmt.Errorf("attaching ducklake catalog: %w", err)
		}
	}
	schema := w.namespace(env)
	_, err := w.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(schema)))
	if err != nil {
		return fmt.Errorf("creating schema %s: %w", schema, err)
	}
	return nil
}

func (w *Warehouse) Teardown(ctx context.Context, env warehouse.Env) error {
	schema := w.namespace(env)
	_, err := w.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", quoteIdent(schema)))
	if err != nil {
		return fmt.Errorf("dropping schema %s: %w", schema, err)
	}
	return nil
}

// RenderTableRef produces `"<namespace>"."<schema__sub>__table[___audit]"`,
// keeping the project's `__` sub-schema convention intact inside a
// single DuckDB table name. DuckDB has no nested-schema concept beyond
// one level, so the full chain folds into the table name. The
// namespace stays in the rendered text, so parsing it back through
// sqldeps and model.ParseQualifiedRef does not give id: the namespace
// is read as an extra leading schema segment.
func (w *Warehouse) RenderTableRef(id model.TableID, audit bool, env warehouse.Env) string {
	name := strings.Join(id.Schema, model.SubSchemaSep)
	if name != "" {
		name += model.SubSchemaSep
	}
	name += id.Table
	if audit {
		name += model.AuditSuffix
	}
	return fmt.Sprintf("%s.%s", quoteIdent(w.namespace(env)), quoteIdent(name))
}

func (w *Warehouse) Materialize(ctx context.Context, script *model.Script, audit bool, env warehouse.Env, deps warehouse.DepsMap) (warehouse.MaterializeResult, error) {
	sqlText := rewriteDeps(script, w, deps, env)
	target := w.RenderTableRef(script.ID, audit, env)

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return warehouse.MaterializeResult{}, fmt.Errorf("beginning tx for %s: %w", script.ID, err)
	}
	defer tx.Rollback()

	if script.IsIncremental && audit {
		if err := incrementalMerge(ctx, tx, target, sqlText, script.IncrementalKey); err != nil {
			return warehouse.MaterializeResult{}, fmt.Errorf("incremental merge %s: %w", script.ID, err)
		}
	} else {
		stmt := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s", target, sqlText)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return warehouse.MaterializeResult{}, fmt.Errorf("materializing %s: %w", script.ID, err)
		}
	}

	var rows int64
	row := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", target))
	if err := row.Scan(&rows); err != nil {
		return warehouse.MaterializeResult{}, fmt.Errorf("counting rows in %s: %w", target, err)
	}

	if err := tx.Commit(); err != nil {
		return warehouse.MaterializeResult{}, fmt.Errorf("committing %s: %w", script.ID, err)
	}
	return warehouse.MaterializeResult{RowsAffected: rows}, nil
}

func incrementalMerge(ctx context.Context, tx *sql.Tx, target, selectSQL, key string) error {
	existsRow := tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT count(*) FROM information_schema.tables WHERE table_name = '%s'", unqualifiedName(target)))
	var n int
	if err := existsRow.Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		_, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", target, selectSQL))
		return err
	}
	deleteOverlap := fmt.Sprintf(
		"DELETE FROM %s WHERE %s IN (SELECT %s FROM (%s) AS src)", target, quoteIdent(key), quoteIdent(key), selectSQL)
	if _, err := tx.ExecContext(ctx, deleteOverlap); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s %s", target, selectSQL))
	return err
}

func (w *Warehouse) QueryRows(ctx context.Context, sqlText string, limit int) ([]map[string]any, error) {
	rows, err := w.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()
	return scanRows(rows, limit)
}

func scanRows(rows *sql.Rows, limit int) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (w *Warehouse) Promote(ctx context.Context, id model.TableID, env warehouse.Env) error {
	audit := w.RenderTableRef(id, true, env)
	prod := w.RenderTableRef(id, false, env)
	// DuckDB supports ALTER TABLE ... RENAME TO within a schema,
	// making promotion a true atomic rename (unlike BigQuery's
	// copy-then-delete, see internal/warehouse/bigquery).
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx for promoting %s: %w", id, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", prod)); err != nil {
		return fmt.Errorf("dropping prior production table %s: %w", prod, err)
	}
	newName := unqualifiedName(prod)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", audit, quoteIdent(newName))); err != nil {
		return fmt.Errorf("promoting %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing promotion of %s: %w", id, err)
	}
	return nil
}

func (w *Warehouse) Drop(ctx context.Context, id model.TableID, audit bool, env warehouse.Env) error {
	ref := w.RenderTableRef(id, audit, env)
	_, err := w.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", ref))
	if err != nil {
		return fmt.Errorf("dropping %s: %w", ref, err)
	}
	return nil
}

func (w *Warehouse) CheckpointMTime(ctx context.Context, id model.TableID, env warehouse.Env) (int64, bool, error) {
	if ns, ok, err := w.tableMTime(ctx, id, true, env); err != nil || ok {
		return ns, ok, err
	}
	return w.tableMTime(ctx, id, false, env)
}

func (w *Warehouse) tableMTime(ctx context.Context, id model.TableID, audit bool, env warehouse.Env) (int64, bool, error) {
	ref := w.RenderTableRef(id, audit, env)
	name := unqualifiedName(ref)
	schema := w.namespace(env)
	row := w.db.QueryRowContext(ctx,
		"SELECT epoch_ns(last_modified) FROM duckdb_tables() WHERE table_name = ? AND schema_name = ?",
		name, schema)
	var ns int64
	if err := row.Scan(&ns); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("reading mtime for %s: %w", id, err)
	}
	return ns, true, nil
}

func (w *Warehouse) Close() error {
	return w.db.Close()
}

// rewriteDeps substitutes each graph-internal dependency reference in
// script.RawSQL with the warehouse-rendered ref dictated by deps. It
// operates on the qualified-ref text the dependency was originally
// written as, so it round-trips through the same sqldeps tokenization
// the parser used.
func rewriteDeps(script *model.Script, w *Warehouse, deps warehouse.DepsMap, env warehouse.Env) string {
	out := script.RawSQL
	for key, dep := range script.Dependencies {
		var rendered string
		if deps[key] == warehouse.ResolveProd {
			rendered = w.RenderTableRef(dep, false, warehouse.EnvProd)
		} else {
			rendered = w.RenderTableRef(dep, true, env)
		}
		out = strings.ReplaceAll(out, dep.QualifiedRef(), rendered)
	}
	return out
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func unqualifiedName(ref string) string {
	parts := strings.SplitN(ref, ".", 2)
	name := parts[len(parts)-1]
	return strings.Trim(name, `"`)
}

var _ warehouse.Warehouse = (*Warehouse)(nil)
