// Package mock is an in-memory Warehouse used by internal/executor's
// tests and by `lea`'s own test suite: a struct of canned results
// plus call-tracking slices/maps, no real I/O.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lea-sql/lea/internal/model"
	"github.com/lea-sql/lea/internal/warehouse"
)

// Table records one materialized table's state.
type Table struct {
	Rows  []map[string]any
	MTime time.Time
}

// Warehouse is a thread-safe in-memory Warehouse implementation.
// Tests seed Rows (by production-form table key) to control what
// Materialize stores and reports, read back through QueryRowsFor
// (QueryRows itself always returns no rows), and can inject failures via
// MaterializeErr/PromoteErr keyed by table key.
type Warehouse struct {
	mu sync.Mutex

	tables map[string]*Table // key: "dev|prod" + "audit|prod" + id.Key()

	// Rows seeds a table's output for the *next* Materialize call
	// against that id (audit or prod, whichever is requested), keyed
	// by id.Key(). Consumed, not replayed.
	Rows map[string][]map[string]any

	// MaterializeErr, keyed by id.Key(), makes Materialize fail for
	// that node once.
	MaterializeErr map[string]error
	PromoteErr     map[string]error

	// Calls records every Materialize/Promote/Drop invocation in
	// order, for assertions on executor scheduling behaviour.
	Calls []string

	prepared map[string]bool
}

// New returns an empty mock warehouse.
func New() *Warehouse {
	return &Warehouse{
		tables:         map[string]*Table{},
		Rows:           map[string][]map[string]any{},
		MaterializeErr: map[string]error{},
		PromoteErr:     map[string]error{},
		prepared:       map[string]bool{},
	}
}

func key(env warehouse.Env, audit bool, id model.TableID) string {
	e := "dev"
	if env == warehouse.EnvProd {
		e = "prod"
	}
	a := "prod"
	if audit {
		a = "audit"
	}
	return e + "|" + a + "|" + id.Key()
}

func (w *Warehouse) Prepare(_ context.Context, env warehouse.Env) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if env == warehouse.EnvProd {
		w.prepared["prod"] = true
	} else {
		w.prepared["dev"] = true
	}
	return nil
}

func (w *Warehouse) Teardown(_ context.Context, env warehouse.Env) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k := range w.tables {
		delete(w.tables, k)
	}
	return nil
}

// RenderTableRef renders a dotted identifier with an audit/env marker
// prefix, purely for test readability; it never needs to round-trip
// through sqldeps (that invariant is DuckDB/BigQuery's contract).
func (w *Warehouse) RenderTableRef(id model.TableID, audit bool, env warehouse.Env) string {
	ref := id.QualifiedRef()
	if audit {
		ref += model.AuditSuffix
	}
	if env == warehouse.EnvDev {
		ref = "dev." + ref
	}
	return ref
}

func (w *Warehouse) Materialize(_ context.Context, script *model.Script, audit bool, env warehouse.Env, _ warehouse.DepsMap) (warehouse.MaterializeResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	idKey := script.ID.Key()
	w.Calls = append(w.Calls, fmt.Sprintf("materialize(%s,audit=%v)", idKey, audit))

	if err, ok := w.MaterializeErr[idKey]; ok && err != nil {
		delete(w.MaterializeErr, idKey)
		return warehouse.MaterializeResult{}, err
	}

	rows := w.Rows[idKey]
	delete(w.Rows, idKey)
	t := &Table{Rows: rows, MTime: time.Now()}
	if script.IsIncremental {
		if existing := w.tables[key(env, audit, script.ID)]; existing != nil {
			t.Rows = append(append([]map[string]any{}, existing.Rows...), rows...)
		}
	}
	w.tables[key(env, audit, script.ID)] = t

	return warehouse.MaterializeResult{RowsAffected: int64(len(t.Rows))}, nil
}

func (w *Warehouse) QueryRows(_ context.Context, sql string, limit int) ([]map[string]any, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	// The mock has no SQL engine: tests instead seed the parent
	// table's Rows directly and expect QueryRowsFor to be used. A
	// bare QueryRows against arbitrary SQL always reports no rows,
	// matching a warehouse with nothing materialized yet.
	return nil, nil
}

// QueryRowsFor is a mock-only helper letting tests fetch what was
// last materialized for id, standing in for a real SELECT against
// that table.
func (w *Warehouse) QueryRowsFor(id model.TableID, audit bool, env warehouse.Env) []map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := w.tables[key(env, audit, id)]
	if t == nil {
		return nil
	}
	return t.Rows
}

func (w *Warehouse) Promote(_ context.Context, id model.TableID, env warehouse.Env) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	idKey := id.Key()
	w.Calls = append(w.Calls, fmt.Sprintf("promote(%s)", idKey))

	if err, ok := w.PromoteErr[idKey]; ok && err != nil {
		delete(w.PromoteErr, idKey)
		return err
	}

	auditKey := key(env, true, id)
	prodKey := key(env, false, id)
	t, ok := w.tables[auditKey]
	if !ok {
		return fmt.Errorf("promote %s: no audit table to promote", idKey)
	}
	w.tables[prodKey] = t
	delete(w.tables, auditKey)
	return nil
}

func (w *Warehouse) Drop(_ context.Context, id model.TableID, audit bool, env warehouse.Env) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Calls = append(w.Calls, fmt.Sprintf("drop(%s,audit=%v)", id.Key(), audit))
	delete(w.tables, key(env, audit, id))
	return nil
}

func (w *Warehouse) CheckpointMTime(_ context.Context, id model.TableID, env warehouse.Env) (int64, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.tables[key(env, true, id)]; ok {
		return t.MTime.UnixNano(), true, nil
	}
	if t, ok := w.tables[key(env, false, id)]; ok {
		return t.MTime.UnixNano(), true, nil
	}
	return 0, false, nil
}

func (w *Warehouse) Close() error { return nil }

var _ warehouse.Warehouse = (*Warehouse)(nil)
