package mock

import (
	"context"
	"testing"

	"github.com/lea-sql/lea/internal/model"
	"github.com/lea-sql/lea/internal/warehouse"
)

func TestMaterializeThenPromote(t *testing.T) {
	w := New()
	id := model.NewTableID([]string{"core"}, "users")
	script := &model.Script{ID: id, RawSQL: "SELECT 1"}

	w.Rows[id.Key()] = []map[string]any{{"id": 1}}

	if _, err := w.Materialize(context.Background(), script, true, warehouse.EnvDev, nil); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if _, exists, err := w.CheckpointMTime(context.Background(), id, warehouse.EnvDev); err != nil || !exists {
		t.Fatalf("expected a checkpoint to exist, err=%v exists=%v", err, exists)
	}

	if err := w.Promote(context.Background(), id, warehouse.EnvDev); err != nil {
		t.Fatalf("promote: %v", err)
	}
	// The audit table itself is gone, but CheckpointMTime now falls
	// back to the freshly-promoted production table; the skip logic
	// still needs a checkpoint after a clean successful run.
	if _, exists, err := w.CheckpointMTime(context.Background(), id, warehouse.EnvDev); err != nil || !exists {
		t.Fatalf("expected checkpoint to fall back to the promoted production table, err=%v exists=%v", err, exists)
	}
	if rows := w.QueryRowsFor(id, true, warehouse.EnvDev); rows != nil {
		t.Fatalf("expected audit table to be gone after promotion")
	}

	rows := w.QueryRowsFor(id, false, warehouse.EnvDev)
	if len(rows) != 1 {
		t.Fatalf("expected 1 promoted row, got %d", len(rows))
	}
}

func TestPromoteWithoutMaterializeFails(t *testing.T) {
	w := New()
	id := model.NewTableID([]string{"core"}, "orphan")
	if err := w.Promote(context.Background(), id, warehouse.EnvDev); err == nil {
		t.Fatal("expected promote of an unmaterialized table to fail")
	}
}

func TestMaterializeErrInjection(t *testing.T) {
	w := New()
	id := model.NewTableID([]string{"core"}, "users")
	script := &model.Script{ID: id, RawSQL: "SELECT 1"}

	w.MaterializeErr[id.Key()] = errBoom
	if _, err := w.Materialize(context.Background(), script, true, warehouse.EnvDev, nil); err == nil {
		t.Fatal("expected injected materialize error")
	}
	// Error is consumed; a second call succeeds.
	if _, err := w.Materialize(context.Background(), script, true, warehouse.EnvDev, nil); err != nil {
		t.Fatalf("expected second materialize to succeed, got %v", err)
	}
}

func TestIncrementalAppendsRows(t *testing.T) {
	w := New()
	id := model.NewTableID([]string{"core"}, "events")
	script := &model.Script{ID: id, RawSQL: "SELECT 1", IsIncremental: true, IncrementalKey: "ts"}

	w.Rows[id.Key()] = []map[string]any{{"ts": 1}}
	if _, err := w.Materialize(context.Background(), script, true, warehouse.EnvDev, nil); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	w.Rows[id.Key()] = []map[string]any{{"ts": 2}}
	if _, err := w.Materialize(context.Background(), script, true, warehouse.EnvDev, nil); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	rows := w.QueryRowsFor(id, true, warehouse.EnvDev)
	if len(rows) != 2 {
		t.Fatalf("expected incremental merge to preserve prior rows, got %d rows", len(rows))
	}
}

var errBoom = &mockErr{"boom"}

type mockErr struct{ msg string }

func (e *mockErr) Error() string { return e.msg }
