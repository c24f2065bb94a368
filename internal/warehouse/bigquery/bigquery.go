// Package bigquery implements warehouse.Warehouse over BigQuery using
// cloud.google.com/go/bigquery: one client, one
// dataset-per-environment, every capability-interface method a thin
// wrapper over a Query or Dataset/Table call.
//
// BigQuery has no atomic table rename, so Promote is implemented as a
// copy job followed by a delete. A failure between the copy and the
// delete leaves both the audit and the newly-copied production table
// present, recoverable by re-running Promote.
package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/lea-sql/lea/internal/model"
	"github.com/lea-sql/lea/internal/warehouse"
)

// Config configures a BigQuery warehouse connection.
type Config struct {
	Project string
	// Dataset is the production dataset name; the dev dataset is
	// Dataset+"_"+DevSuffix.
	Dataset   string
	DevSuffix string
	Location  string
}

// Warehouse implements warehouse.Warehouse over a pooled
// *bigquery.Client.
type Warehouse struct {
	client *bigquery.Client
	cfg    Config
}

// Open connects a BigQuery client for cfg.Project.
func Open(ctx context.Context, cfg Config) (*Warehouse, error) {
	client, err := bigquery.NewClient(ctx, cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	return &Warehouse{client: client, cfg: cfg}, nil
}

func (w *Warehouse) dataset(env warehouse.Env) string {
	if env == warehouse.EnvProd || w.cfg.DevSuffix == "" {
		return w.cfg.Dataset
	}
	return w.cfg.Dataset + "_" + w.cfg.DevSuffix
}

func (w *Warehouse) Prepare(ctx context.Context, env warehouse.Env) error {
	ds := w.client.Dataset(w.dataset(env))
	meta := &bigquery.DatasetMetadata{Location: w.cfg.Location}
	if err := ds.Create(ctx, meta); err != nil {
		if !isAlreadyExists(err) {
			return fmt.Errorf("creating dataset %s: %w", w.dataset(env), err)
		}
	}
	return nil
}

func (w *Warehouse) Teardown(ctx context.Context, env warehouse.Env) error {
	ds := w.client.Dataset(w.dataset(env))
	if err := ds.DeleteWithContents(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("dropping dataset %s: %w", w.dataset(env), err)
	}
	return nil
}

// RenderTableRef produces `project.dataset.schema__table[___audit]`,
// folding the TableID's schema chain into the table name with the
// project's "__" convention. Parsing the result back through sqldeps
// and model.ParseQualifiedRef does not give id: the project and
// dataset are read as leading schema segments.
func (w *Warehouse) RenderTableRef(id model.TableID, audit bool, env warehouse.Env) string {
	name := strings.Join(id.Schema, model.SubSchemaSep)
	if name != "" {
		name += model.SubSchemaSep
	}
	name += id.Table
	if audit {
		name += model.AuditSuffix
	}
	return fmt.Sprintf("%s.%s.%s", w.cfg.Project, w.dataset(env), name)
}

func (w *Warehouse) Materialize(ctx context.Context, script *model.Script, audit bool, env warehouse.Env, deps warehouse.DepsMap) (warehouse.MaterializeResult, error) {
	sqlText := rewriteDeps(script, w, deps, env)
	target := w.RenderTableRef(script.ID, audit, env)
	tableRef := w.tableRef(script.ID, audit, env)

	if script.IsIncremental && audit {
		return w.incrementalMerge(ctx, tableRef, sqlText, script.IncrementalKey)
	}

	ddl := fmt.Sprintf("CREATE OR REPLACE TABLE `%s` AS %s", target, sqlText)
	q := w.client.Query(ddl)
	job, err := q.Run(ctx)
	if err != nil {
		return warehouse.MaterializeResult{}, fmt.Errorf("materializing %s: %w", script.ID, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return warehouse.MaterializeResult{}, fmt.Errorf("waiting for %s: %w", script.ID, err)
	}
	if err := status.Err(); err != nil {
		return warehouse.MaterializeResult{}, fmt.Errorf("materializing %s: %w", script.ID, err)
	}

	meta, err := tableRef.Metadata(ctx)
	if err != nil {
		return warehouse.MaterializeResult{}, fmt.Errorf("reading metadata for %s: %w", target, err)
	}
	return warehouse.MaterializeResult{RowsAffected: int64(meta.NumRows)}, nil
}

func (w *Warehouse) incrementalMerge(ctx context.Context, tbl *bigquery.Table, selectSQL, key string) (warehouse.MaterializeResult, error) {
	full := fmt.Sprintf("%s.%s.%s", tbl.ProjectID, tbl.DatasetID, tbl.TableID)
	if _, err := tbl.Metadata(ctx); err != nil {
		ddl := fmt.Sprintf("CREATE TABLE `%s` AS %s", full, selectSQL)
		if err := w.runDDL(ctx, ddl); err != nil {
			return warehouse.MaterializeResult{}, err
		}
		return warehouse.MaterializeResult{}, nil
	}

	merge := fmt.Sprintf(
		"MERGE `%s` T USING (%s) S ON T.%s = S.%s WHEN NOT MATCHED THEN INSERT ROW",
		full, selectSQL, key, key)
	if err := w.runDDL(ctx, merge); err != nil {
		return warehouse.MaterializeResult{}, fmt.Errorf("incremental merge: %w", err)
	}
	return warehouse.MaterializeResult{}, nil
}

func (w *Warehouse) runDDL(ctx context.Context, sqlText string) error {
	q := w.client.Query(sqlText)
	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

func (w *Warehouse) QueryRows(ctx context.Context, sqlText string, limit int) ([]map[string]any, error) {
	q := w.client.Query(sqlText)
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}

	var out []map[string]any
	for {
		if limit > 0 && len(out) >= limit {
			break
		}
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		rec := make(map[string]any, len(row))
		for k, v := range row {
			rec[k] = v
		}
		out = append(out, rec)
	}
	return out, nil
}

func (w *Warehouse) Promote(ctx context.Context, id model.TableID, env warehouse.Env) error {
	src := w.tableRef(id, true, env)
	dst := w.tableRef(id, false, env)

	copier := dst.CopierFrom(src)
	copier.WriteDisposition = bigquery.WriteTruncate
	job, err := copier.Run(ctx)
	if err != nil {
		return fmt.Errorf("copying audit table for %s: %w", id, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for promotion copy of %s: %w", id, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("promoting %s: %w", id, err)
	}

	// Narrowed atomicity window: if Delete fails here, both the audit
	// and freshly-copied production tables exist; a re-run's Promote
	// simply overwrites production again (WriteTruncate) and retries
	// the delete.
	if err := src.Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("dropping audit table after promoting %s: %w", id, err)
	}
	return nil
}

func (w *Warehouse) Drop(ctx context.Context, id model.TableID, audit bool, env warehouse.Env) error {
	tbl := w.tableRef(id, audit, env)
	if err := tbl.Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("dropping %s: %w", id, err)
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
	tbl := w.tableRef(id, audit, env)
	meta, err := tbl.Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("reading metadata for %s: %w", id, err)
	}
	return meta.LastModifiedTime.UnixNano(), true, nil
}

func (w *Warehouse) Close() error {
	return w.client.Close()
}

func (w *Warehouse) tableRef(id model.TableID, audit bool, env warehouse.Env) *bigquery.Table {
	name := strings.Join(id.Schema, model.SubSchemaSep)
	if name != "" {
		name += model.SubSchemaSep
	}
	name += id.Table
	if audit {
		name += model.AuditSuffix
	}
	return w.client.Dataset(w.dataset(env)).Table(name)
}

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

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Already Exists")
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "notFound")
}

var _ warehouse.Warehouse = (*Warehouse)(nil)
