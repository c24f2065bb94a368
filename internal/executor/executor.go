// Package executor implements lea's concurrent Write-Audit-Publish
// run loop: it walks the active set topologically, bounded by a
// semaphore, skips checkpointed nodes, isolates failures to their
// descendants, and promotes audit tables to production only on total
// success. All node-state transitions funnel through one completion
// channel, so the scheduler itself never locks the graph.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lea-sql/lea/internal/config"
	"github.com/lea-sql/lea/internal/dag"
	"github.com/lea-sql/lea/internal/model"
	"github.com/lea-sql/lea/internal/progress"
	"github.com/lea-sql/lea/internal/warehouse"
)

// Executor runs one active set against one Warehouse.
type Executor struct {
	Graph  *dag.Graph
	Active map[string]bool
	Frozen map[string]bool // unselected ancestors to render against production
	WH     warehouse.Warehouse
	Cfg    *config.RunConfig
	Sink   progress.Sink
}

// Result is the outcome of one Run.
type Result struct {
	Statuses map[string]progress.Status
	Errors   map[string]error
	Promoted []model.TableID
}

// Succeeded reports whether every node in the active set reached DONE
// or SKIPPED, the gate the Publish phase checks before promoting
// anything. Test nodes count: a failed audit suppresses promotion
// just like a failed materialisation.
func (r *Result) Succeeded() bool {
	for _, st := range r.Statuses {
		if st != progress.StatusDone && st != progress.StatusSkipped {
			return false
		}
	}
	return true
}

func (e *Executor) env() warehouse.Env {
	if e.Cfg.Env == config.EnvProd {
		return warehouse.EnvProd
	}
	return warehouse.EnvDev
}

// Run executes the Plan, Write, Audit, and Publish phases in order.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	if len(e.Active) == 0 {
		return &Result{Statuses: map[string]progress.Status{}, Errors: map[string]error{}}, nil
	}

	skippable, err := e.planSkips(ctx)
	if err != nil {
		return nil, fmt.Errorf("planning skip set: %w", err)
	}

	result := e.write(ctx, skippable)

	if !result.Succeeded() || e.Cfg.NoPublish {
		return result, nil
	}

	if err := e.publish(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

// planSkips computes the skip set: a node is skippable iff a
// checkpoint for it already exists, the source script's mtime is no
// newer than that checkpoint's materialisation time, and --restart
// was not given.
func (e *Executor) planSkips(ctx context.Context) (map[string]bool, error) {
	skippable := map[string]bool{}
	if e.Cfg.Restart {
		// Stale audit checkpoints are dropped so a partially-failed
		// prior run can't leak rows into this one.
		for key := range e.Active {
			script := e.Graph.Scripts[key]
			if err := e.WH.Drop(ctx, script.ID, true, e.env()); err != nil {
				return nil, fmt.Errorf("dropping stale audit table for %s: %w", script.ID, err)
			}
		}
		return skippable, nil
	}
	for key := range e.Active {
		script := e.Graph.Scripts[key]
		checkpointMTime, exists, err := e.WH.CheckpointMTime(ctx, script.ID, e.env())
		if err != nil {
			return nil, fmt.Errorf("checking checkpoint mtime for %s: %w", script.ID, err)
		}
		if exists && !script.MTime.After(time.Unix(0, checkpointMTime)) {
			skippable[key] = true
		}
	}
	return skippable, nil
}

type completion struct {
	key      string
	status   progress.Status
	err      error
	rows     int64
	duration time.Duration
}

// write runs the Write+Audit phases: every active node, topologically
// scheduled, bounded by Cfg.Concurrency, with failures poisoning
// descendants instead of aborting the whole run (unless --fail-fast).
func (e *Executor) write(ctx context.Context, skippable map[string]bool) *Result {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	children := map[string][]string{}
	remaining := map[string]int{}
	for key := range e.Active {
		script := e.Graph.Scripts[key]
		n := 0
		for depKey := range script.Dependencies {
			if e.Active[depKey] {
				n++
				children[depKey] = append(children[depKey], key)
			}
		}
		remaining[key] = n
	}

	statuses := map[string]progress.Status{}
	errs := map[string]error{}
	poisoned := map[string]bool{}
	var mu sync.Mutex

	sem := semaphore.NewWeighted(int64(e.Cfg.Concurrency))
	completions := make(chan completion, len(e.Active))
	var inFlight sync.WaitGroup
	scheduled := map[string]bool{}

	var schedule func(key string)
	schedule = func(key string) {
		if scheduled[key] {
			return
		}
		scheduled[key] = true
		inFlight.Add(1)
		go func() {
			defer inFlight.Done()

			mu.Lock()
			doomed := poisoned[key]
			mu.Unlock()

			if doomed {
				completions <- completion{key: key, status: progress.StatusSkippedDueToError}
				return
			}
			if runCtx.Err() != nil {
				completions <- completion{key: key, status: progress.StatusErrored, err: &model.Cancelled{Node: e.Graph.Scripts[key].ID}}
				return
			}
			if err := sem.Acquire(runCtx, 1); err != nil {
				completions <- completion{key: key, status: progress.StatusErrored, err: &model.Cancelled{Node: e.Graph.Scripts[key].ID}}
				return
			}
			defer sem.Release(1)

			completions <- e.runNode(runCtx, key, skippable[key])
		}()
	}

	remainingCount := len(e.Active)
	for key, n := range remaining {
		if n == 0 {
			schedule(key)
		}
	}

	for remainingCount > 0 {
		c := <-completions
		remainingCount--

		mu.Lock()
		statuses[c.key] = c.status
		if c.err != nil {
			errs[c.key] = c.err
		}
		mu.Unlock()

		e.Sink.Emit(progress.Event{Node: e.Graph.Scripts[c.key].ID, Phase: phaseFor(c.key, e.Graph), Status: c.status, Duration: c.duration, Rows: c.rows, Err: errString(c.err)})

		if c.status == progress.StatusErrored {
			mu.Lock()
			e.poisonDescendants(c.key, poisoned)
			mu.Unlock()
			if e.Cfg.FailFast {
				cancel()
			}
		}

		for _, childKey := range children[c.key] {
			remaining[childKey]--
			if remaining[childKey] == 0 {
				schedule(childKey)
			}
		}
	}
	inFlight.Wait()

	return &Result{Statuses: statuses, Errors: errs}
}

func phaseFor(key string, g *dag.Graph) progress.Phase {
	if g.Scripts[key].Kind.IsTest() {
		return progress.PhaseAudit
	}
	return progress.PhaseWrite
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// poisonDescendants marks every active descendant of the failed node
// as doomed to SKIPPED_DUE_TO_ERROR, the default (non-fail-fast)
// failure behaviour. Caller holds the poisoned-map lock.
func (e *Executor) poisonDescendants(key string, poisoned map[string]bool) {
	for d := range e.Graph.Descendants(key) {
		if e.Active[d] {
			poisoned[d] = true
		}
	}
}

// runNode executes (or skips) a single node and reports its outcome.
// Within the Write and Audit phases only this function issues
// Warehouse calls; the scheduler itself performs no I/O.
func (e *Executor) runNode(ctx context.Context, key string, skip bool) completion {
	script := e.Graph.Scripts[key]
	start := time.Now()

	e.Sink.Emit(progress.Event{Node: script.ID, Phase: phaseFor(key, e.Graph), Status: progress.StatusStart})

	if skip {
		return completion{key: key, status: progress.StatusSkipped, duration: time.Since(start)}
	}

	nodeCtx := ctx
	if e.Cfg.Timeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, e.Cfg.Timeout)
		defer cancel()
	}

	deps := e.depsMap(script)
	res, err := e.WH.Materialize(nodeCtx, script, true, e.env(), deps)
	if err != nil {
		if nodeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			timeout := &model.MaterializationError{Node: script.ID, Err: fmt.Errorf("timeout after %s", e.Cfg.Timeout)}
			return completion{key: key, status: progress.StatusErrored, err: timeout, duration: time.Since(start)}
		}
		if ctx.Err() != nil {
			return completion{key: key, status: progress.StatusErrored, err: &model.Cancelled{Node: script.ID}, duration: time.Since(start)}
		}
		return completion{key: key, status: progress.StatusErrored, err: &model.MaterializationError{Node: script.ID, Err: err}, duration: time.Since(start)}
	}

	if script.Kind.IsTest() && res.RowsAffected > 0 {
		sample, _ := e.sampleViolations(nodeCtx, script)
		failure := &model.AssertionFailure{
			Node:       script.ID,
			RowCount:   res.RowsAffected,
			SampleRows: sample,
		}
		if script.ParentID != nil {
			failure.Parent = *script.ParentID
		}
		if script.FromAssertion != nil {
			failure.Assertion = *script.FromAssertion
		}
		return completion{key: key, status: progress.StatusErrored, err: failure, rows: res.RowsAffected, duration: time.Since(start)}
	}

	return completion{key: key, status: progress.StatusDone, rows: res.RowsAffected, duration: time.Since(start)}
}

func (e *Executor) sampleViolations(ctx context.Context, script *model.Script) ([]map[string]any, error) {
	ref := e.WH.RenderTableRef(script.ID, true, e.env())
	return e.WH.QueryRows(ctx, fmt.Sprintf("SELECT * FROM %s", ref), 10)
}

// depsMap resolves every graph-internal dependency of script to a
// warehouse.DepsResolution: active-set members and
// unselected-but-unfrozen ancestors (existing checkpoints) read from
// their audit form; frozen ancestors read from production.
func (e *Executor) depsMap(script *model.Script) warehouse.DepsMap {
	out := make(warehouse.DepsMap, len(script.Dependencies))
	for key := range script.Dependencies {
		if e.Frozen[key] {
			out[key] = warehouse.ResolveProd
		} else {
			out[key] = warehouse.ResolveAudit
		}
	}
	return out
}

// publish runs the Publish phase: every active
// regular (non-test) node that reached DONE gets promoted; SKIPPED
// nodes keep their already-promoted production table and need no
// action. Promotion order follows the graph's topological order so a
// parent promotes before any test or descendant that might reference
// its new production form in a later run.
func (e *Executor) publish(ctx context.Context, result *Result) error {
	order := dag.TopoOrder(e.Graph, e.Active)
	for _, key := range order {
		script := e.Graph.Scripts[key]
		if script.Kind != model.KindRegular {
			continue
		}
		if result.Statuses[key] != progress.StatusDone {
			continue
		}
		if err := e.WH.Promote(ctx, script.ID, e.env()); err != nil {
			e.Sink.Emit(progress.Event{Node: script.ID, Phase: progress.PhasePublish, Status: progress.StatusErrored, Err: err.Error()})
			return fmt.Errorf("promoting %s: %w", script.ID, err)
		}
		e.Sink.Emit(progress.Event{Node: script.ID, Phase: progress.PhasePublish, Status: progress.StatusDone})
		result.Promoted = append(result.Promoted, script.ID)
	}
	return nil
}
