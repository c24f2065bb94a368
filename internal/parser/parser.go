// Package parser walks a scripts directory, classifies each file, and
// produces the project's Script set. It is the seam where annotate,
// sqldeps, and render are all wired together.
package parser

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lea-sql/lea/internal/annotate"
	"github.com/lea-sql/lea/internal/model"
	"github.com/lea-sql/lea/internal/render"
	"github.com/lea-sql/lea/internal/sqldeps"
)

// TestsSchema is the conventional top-level schema directory holding
// singular tests.
const TestsSchema = "tests"

// Options configures a parse pass.
type Options struct {
	// Dialect selects dependency-extraction quoting rules; currently
	// informational only (sqldeps treats all dialects identically).
	Dialect string
	// Env is exposed to .sql.jinja templates as {{ env "VAR" }}.
	Env map[string]string
}

// Project is the fully parsed, dependency-resolved script set.
type Project struct {
	Scripts map[string]*model.Script // keyed by TableID.Key()
}

// Parse walks root and returns every script it contains, with
// graph-internal dependencies resolved against the full script set.
func Parse(root string, opts Options) (*Project, error) {
	scripts := map[string]*model.Script{}
	refsByKey := map[string][]sqldeps.Ref{}
	ctesByKey := map[string]map[string]bool{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !isScriptFile(path) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		segments := strings.Split(filepath.ToSlash(rel), "/")
		if len(segments) < 2 {
			return &model.ParseError{Path: rel, Message: "script file must live inside a schema directory, not directly under the scripts root"}
		}

		schema := segments[:len(segments)-1]
		table := stripScriptExt(segments[len(segments)-1])

		id := model.NewTableID(schema, table)
		if _, dup := scripts[id.Key()]; dup {
			return &model.ParseError{Path: rel, Message: fmt.Sprintf("duplicate script TableID %s", id)}
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		mtime := fi.ModTime()

		sql := string(raw)
		if strings.HasSuffix(path, ".sql.jinja") {
			res, rerr := render.Render(rel, sql, filepath.Dir(path), render.Context{Env: opts.Env})
			if rerr != nil {
				return &model.ParseError{Path: rel, Message: rerr.Error()}
			}
			sql = res.Text
			for _, loaded := range res.LoadedFiles {
				if lfi, lerr := os.Stat(loaded); lerr == nil && lfi.ModTime().After(mtime) {
					mtime = lfi.ModTime()
				}
			}
		}

		ann, aerr := annotate.Scan(rel, sql)
		if aerr != nil {
			return aerr
		}

		kind := model.KindRegular
		if schema[0] == TestsSchema {
			kind = model.KindTestSingular
			// Assertions on singular tests are ignored; a test of a
			// test has no audit table to run against.
			ann.Assertions = nil
		}

		script := &model.Script{
			ID:               id,
			Kind:             kind,
			RawSQL:           sql,
			SourcePath:       rel,
			MTime:            mtime,
			Assertions:       ann.Assertions,
			IsIncremental:    ann.IsIncremental,
			IncrementalKey:   ann.IncrementalKey,
			ClusteringFields: ann.ClusteringFields,
		}
		scripts[id.Key()] = script

		refs, ctes := sqldeps.ExtractDependencies(sql, opts.Dialect)
		refsByKey[id.Key()] = refs
		ctesByKey[id.Key()] = ctes

		return nil
	})
	if err != nil {
		return nil, err
	}

	resolveDependencies(scripts, refsByKey, ctesByKey)

	return &Project{Scripts: scripts}, nil
}

// resolveDependencies turns each script's raw FROM/JOIN refs into
// either a graph-internal Dependency (the ref matches another
// script's TableID) or an ExternalDependency (it doesn't), dropping
// refs that name a local CTE entirely.
func resolveDependencies(scripts map[string]*model.Script, refsByKey map[string][]sqldeps.Ref, ctesByKey map[string]map[string]bool) {
	for key, script := range scripts {
		ctes := ctesByKey[key]
		seenExternal := map[string]bool{}

		for _, ref := range refsByKey[key] {
			if ctes[ref.Raw] {
				continue
			}
			depID := model.ParseQualifiedRef(ref.Raw)
			if dep, ok := scripts[depID.Key()]; ok {
				script.AddDependency(dep.ID)
				continue
			}
			if !seenExternal[ref.Raw] {
				seenExternal[ref.Raw] = true
				script.ExternalDependencies = append(script.ExternalDependencies, ref.Raw)
			}
		}
		sort.Strings(script.ExternalDependencies)
	}
}

func isScriptFile(path string) bool {
	return strings.HasSuffix(path, ".sql") || strings.HasSuffix(path, ".sql.jinja")
}

func stripScriptExt(name string) string {
	if strings.HasSuffix(name, ".sql.jinja") {
		return strings.TrimSuffix(name, ".sql.jinja")
	}
	return strings.TrimSuffix(name, ".sql")
}
