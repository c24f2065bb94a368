// Package testgen synthesises test_assertion scripts from inline
// Assertions. Singular tests under tests/ are classified by
// internal/parser and are not handled here.
package testgen

import (
	"fmt"
	"strings"

	"github.com/lea-sql/lea/internal/model"
)

// Synthesize builds one test_assertion Script per Assertion on parent.
// Each synthesised script depends on exactly parent and nothing else
// graph-internal, and its SQL runs against the parent's audit table,
// the same qualified reference any other dependent script would use,
// so the warehouse's normal dependency-reference rewriting (audit,
// since parent is necessarily in the active set whenever its tests
// run) applies without special-casing.
func Synthesize(parent *model.Script) []*model.Script {
	out := make([]*model.Script, 0, len(parent.Assertions))
	for _, a := range parent.Assertions {
		id := a.TestID(parent.ID)
		parentID := parent.ID
		out = append(out, &model.Script{
			ID:            id,
			Kind:          model.KindTestAssertion,
			RawSQL:        assertionSQL(a, parent.ID),
			SourcePath:    parent.SourcePath,
			MTime:         parent.MTime,
			ParentID:      &parentID,
			FromAssertion: &a,
			Dependencies: map[string]model.TableID{
				parent.ID.Key(): parent.ID,
			},
		})
	}
	return out
}

// SynthesizeAll adds every assertion's synthesised test into scripts,
// keyed the same way Parse keys regular scripts.
func SynthesizeAll(scripts map[string]*model.Script) {
	var parents []*model.Script
	for _, s := range scripts {
		if s.Kind == model.KindRegular && len(s.Assertions) > 0 {
			parents = append(parents, s)
		}
	}
	for _, parent := range parents {
		for _, test := range Synthesize(parent) {
			scripts[test.ID.Key()] = test
		}
	}
}

func assertionSQL(a model.Assertion, parent model.TableID) string {
	ref := parent.QualifiedRef()
	c := a.Column

	switch a.Kind {
	case model.AssertionNoNulls:
		return fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NULL", c, ref, c)
	case model.AssertionUnique:
		return fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL GROUP BY %s HAVING COUNT(*) > 1", c, ref, c, c)
	case model.AssertionUniqueBy:
		groupCols := append(append([]string{}, a.ByColumns...), c)
		return fmt.Sprintf("SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1", c, ref, strings.Join(groupCols, ", "))
	case model.AssertionSet:
		vals := make([]string, len(a.Values))
		for i, v := range a.Values {
			vals[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		return fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL AND %s NOT IN (%s) GROUP BY %s", c, ref, c, c, strings.Join(vals, ", "), c)
	default:
		return fmt.Sprintf("SELECT %s FROM %s WHERE FALSE", c, ref)
	}
}
