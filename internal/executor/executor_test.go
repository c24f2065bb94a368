package executor

import (
	"context"
	"testing"
	"time"

	"github.com/lea-sql/lea/internal/config"
	"github.com/lea-sql/lea/internal/dag"
	"github.com/lea-sql/lea/internal/model"
	"github.com/lea-sql/lea/internal/progress"
	"github.com/lea-sql/lea/internal/warehouse"
	"github.com/lea-sql/lea/internal/warehouse/mock"
)

func scriptWithDeps(schema []string, table string, deps ...model.TableID) *model.Script {
	s := &model.Script{ID: model.NewTableID(schema, table), Kind: model.KindRegular}
	for _, d := range deps {
		s.AddDependency(d)
	}
	return s
}

func allActive(g *dag.Graph) map[string]bool {
	active := map[string]bool{}
	for key := range g.Scripts {
		active[key] = true
	}
	return active
}

func newCfg() *config.RunConfig {
	return &config.RunConfig{
		Env:         config.EnvDev,
		DevUser:     "tester",
		Concurrency: 4,
	}
}

// TestLinearRunPromotesEverything: a clean three-node chain succeeds,
// every node is DONE, and every production table is promoted.
func TestLinearRunPromotesEverything(t *testing.T) {
	staging := model.NewTableID([]string{"staging"}, "raw_users")
	core := model.NewTableID([]string{"core"}, "users")
	mart := model.NewTableID([]string{"mart"}, "active_users")

	scripts := map[string]*model.Script{
		staging.Key(): scriptWithDeps([]string{"staging"}, "raw_users"),
		core.Key():    scriptWithDeps([]string{"core"}, "users", staging),
		mart.Key():    scriptWithDeps([]string{"mart"}, "active_users", core),
	}
	g, err := dag.Build(scripts)
	if err != nil {
		t.Fatal(err)
	}

	wh := mock.New()
	e := &Executor{Graph: g, Active: allActive(g), WH: wh, Cfg: newCfg(), Sink: progress.Noop{}}

	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got statuses %+v errs %+v", result.Statuses, result.Errors)
	}
	for key, st := range result.Statuses {
		if st != progress.StatusDone {
			t.Errorf("expected %s DONE, got %v", key, st)
		}
	}
	if len(result.Promoted) != 3 {
		t.Errorf("expected 3 promoted tables, got %d", len(result.Promoted))
	}
}

// TestAssertionFailureBlocksPromotionAndPreservesAudit: a
// failing test poisons nothing upstream (tests have no descendants)
// but must suppress promotion of every other node, and the errored
// node's own audit table must remain for inspection.
func TestAssertionFailureBlocksPromotionAndPreservesAudit(t *testing.T) {
	users := model.NewTableID([]string{"core"}, "users")
	test := model.NewTableID([]string{"tests"}, "core__users__blood_type___set")

	testScript := &model.Script{ID: test, Kind: model.KindTestAssertion}
	testScript.AddDependency(users)
	parentID := users
	testScript.ParentID = &parentID

	scripts := map[string]*model.Script{
		users.Key(): scriptWithDeps([]string{"core"}, "users"),
		test.Key():  testScript,
	}
	g, err := dag.Build(scripts)
	if err != nil {
		t.Fatal(err)
	}

	wh := mock.New()
	wh.Rows[test.Key()] = []map[string]any{{"blood_type": "X"}}

	e := &Executor{Graph: g, Active: allActive(g), WH: wh, Cfg: newCfg(), Sink: progress.Noop{}}
	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Succeeded() {
		t.Fatal("expected run to fail on assertion violation")
	}
	if result.Statuses[test.Key()] != progress.StatusErrored {
		t.Errorf("expected test node ERRORED, got %v", result.Statuses[test.Key()])
	}
	if len(result.Promoted) != 0 {
		t.Errorf("expected no promotions on assertion failure, got %v", result.Promoted)
	}
	if _, exists, _ := wh.CheckpointMTime(context.Background(), users, 0); !exists {
		t.Error("expected parent's audit table to remain for inspection")
	}
}

// TestErrorPoisonsDescendantsButSiblingsStillRun mirrors the default
// (non-fail-fast) failure behaviour: an errored node's descendants
// are SKIPPED_DUE_TO_ERROR, but an independent branch still runs to
// completion.
func TestErrorPoisonsDescendantsButSiblingsStillRun(t *testing.T) {
	a := model.NewTableID([]string{"core"}, "a")
	b := model.NewTableID([]string{"core"}, "b") // depends on a, should be poisoned
	c := model.NewTableID([]string{"core"}, "c") // independent, should run

	scripts := map[string]*model.Script{
		a.Key(): scriptWithDeps([]string{"core"}, "a"),
		b.Key(): scriptWithDeps([]string{"core"}, "b", a),
		c.Key(): scriptWithDeps([]string{"core"}, "c"),
	}
	g, err := dag.Build(scripts)
	if err != nil {
		t.Fatal(err)
	}

	wh := mock.New()
	wh.MaterializeErr[a.Key()] = errInjected

	e := &Executor{Graph: g, Active: allActive(g), WH: wh, Cfg: newCfg(), Sink: progress.Noop{}}
	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Statuses[a.Key()] != progress.StatusErrored {
		t.Errorf("expected a ERRORED, got %v", result.Statuses[a.Key()])
	}
	if result.Statuses[b.Key()] != progress.StatusSkippedDueToError {
		t.Errorf("expected b SKIPPED_DUE_TO_ERROR, got %v", result.Statuses[b.Key()])
	}
	if result.Statuses[c.Key()] != progress.StatusDone {
		t.Errorf("expected independent node c to still run to DONE, got %v", result.Statuses[c.Key()])
	}
}

// TestSkipsUnmodifiedCheckpoint: re-running with an existing,
// up-to-date checkpoint skips every node with zero materialize/promote
// calls.
func TestSkipsUnmodifiedCheckpoint(t *testing.T) {
	a := model.NewTableID([]string{"core"}, "a")
	scripts := map[string]*model.Script{a.Key(): scriptWithDeps([]string{"core"}, "a")}
	g, err := dag.Build(scripts)
	if err != nil {
		t.Fatal(err)
	}
	// Make the script's mtime older than "now" (the mock's
	// materialize timestamp), simulating an already-materialized,
	// unmodified checkpoint from a prior run.
	scripts[a.Key()].MTime = timeZero()

	wh := mock.New()
	if _, err := wh.Materialize(context.Background(), scripts[a.Key()], true, 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := wh.Promote(context.Background(), a, 0); err != nil {
		t.Fatal(err)
	}
	callsBeforeRun := len(wh.Calls)

	e := &Executor{Graph: g, Active: allActive(g), WH: wh, Cfg: newCfg(), Sink: progress.Noop{}}
	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Statuses[a.Key()] != progress.StatusSkipped {
		t.Errorf("expected SKIPPED, got %v", result.Statuses[a.Key()])
	}
	if len(wh.Calls) != callsBeforeRun {
		t.Errorf("expected zero warehouse mutations on a skipped run, got new calls %v", wh.Calls[callsBeforeRun:])
	}
}

// TestRestartForcesRerun mirrors the --restart flag: even an
// up-to-date checkpoint is re-materialized.
func TestRestartForcesRerun(t *testing.T) {
	a := model.NewTableID([]string{"core"}, "a")
	scripts := map[string]*model.Script{a.Key(): scriptWithDeps([]string{"core"}, "a")}
	g, err := dag.Build(scripts)
	if err != nil {
		t.Fatal(err)
	}
	scripts[a.Key()].MTime = timeZero()

	wh := mock.New()
	if _, err := wh.Materialize(context.Background(), scripts[a.Key()], true, 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := wh.Promote(context.Background(), a, 0); err != nil {
		t.Fatal(err)
	}

	cfg := newCfg()
	cfg.Restart = true
	e := &Executor{Graph: g, Active: allActive(g), WH: wh, Cfg: cfg, Sink: progress.Noop{}}
	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Statuses[a.Key()] != progress.StatusDone {
		t.Errorf("expected --restart to force a rerun (DONE), got %v", result.Statuses[a.Key()])
	}
}

// TestFreezeRendersProductionRef verifies that a frozen dependency's
// DepsResolution is ResolveProd.
func TestFreezeRendersProductionRef(t *testing.T) {
	staging := model.NewTableID([]string{"staging"}, "orders")
	core := model.NewTableID([]string{"core"}, "orders")

	coreScript := scriptWithDeps([]string{"core"}, "orders", staging)
	scripts := map[string]*model.Script{
		staging.Key(): scriptWithDeps([]string{"staging"}, "orders"),
		core.Key():    coreScript,
	}
	g, err := dag.Build(scripts)
	if err != nil {
		t.Fatal(err)
	}

	e := &Executor{
		Graph:  g,
		Active: map[string]bool{core.Key(): true},
		Frozen: map[string]bool{staging.Key(): true},
		Cfg:    newCfg(),
	}
	deps := e.depsMap(coreScript)
	if deps[staging.Key()] != warehouse.ResolveProd {
		t.Errorf("expected frozen dep to resolve as ResolveProd(%d), got %v", warehouse.ResolveProd, deps[staging.Key()])
	}
}

var errInjected = &testErr{"boom"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }

func timeZero() time.Time { return time.Unix(0, 0) }
