package model

import (
	"fmt"
	"strings"
)

// AssertionKind names the four synthesised-test shapes.
type AssertionKind int

const (
	AssertionNoNulls AssertionKind = iota
	AssertionUnique
	AssertionUniqueBy
	AssertionSet
)

func (k AssertionKind) suffix() string {
	switch k {
	case AssertionNoNulls:
		return "no_nulls"
	case AssertionUnique:
		return "unique"
	case AssertionUniqueBy:
		return "unique_by"
	case AssertionSet:
		return "set"
	default:
		return "unknown"
	}
}

// Assertion is an inline annotation extracted from a SELECT-list
// column comment.
type Assertion struct {
	Kind      AssertionKind
	Column    string
	ByColumns []string // UniqueBy only
	Values    []string // Set only, literal values in source order

	// SourceLine is the 1-based line the annotation was found on, for
	// error messages.
	SourceLine int
}

// TestID computes the synthesised test script's TableID: id is always
// under the "tests" top-level schema, named after the parent's schema
// chain, table, and column joined by "__", then the assertion kind
// after "___", and (for UniqueBy) its grouping columns, e.g.
// tests.core__users__email___no_nulls.
func (a Assertion) TestID(parent TableID) TableID {
	segs := append(append([]string{}, parent.Schema...), parent.Table, a.Column)
	name := strings.Join(segs, "__") + "___" + a.Kind.suffix()
	if a.Kind == AssertionUniqueBy {
		for _, b := range a.ByColumns {
			name += "_" + b
		}
	}
	return TableID{Schema: []string{"tests"}, Table: name}
}

// String gives a human-readable form for diagnostics.
func (a Assertion) String() string {
	switch a.Kind {
	case AssertionUniqueBy:
		return fmt.Sprintf("UNIQUE_BY(%s, %v)", a.Column, a.ByColumns)
	case AssertionSet:
		return fmt.Sprintf("SET(%s, %v)", a.Column, a.Values)
	default:
		return fmt.Sprintf("%s(%s)", a.Kind.suffix(), a.Column)
	}
}
