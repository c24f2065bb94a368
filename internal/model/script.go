package model

import "time"

// Kind distinguishes a regular materialisation script from the two
// flavours of embedded test.
type Kind int

const (
	KindRegular Kind = iota
	KindTestSingular
	KindTestAssertion
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindTestSingular:
		return "test_singular"
	case KindTestAssertion:
		return "test_assertion"
	default:
		return "unknown"
	}
}

// IsTest reports whether the script is one of the two test kinds.
func (k Kind) IsTest() bool {
	return k == KindTestSingular || k == KindTestAssertion
}

// Script is a single parsed (and, for .jinja sources, rendered) SQL
// file that produces exactly one table.
type Script struct {
	ID   TableID
	Kind Kind

	RawSQL string

	// Dependencies are the graph-internal TableIDs this script's SQL
	// references in FROM/JOIN position, after CTE names are excluded.
	Dependencies map[string]TableID

	// ExternalDependencies are references that did not resolve to any
	// script in the project; informational only, never graph edges.
	ExternalDependencies []string

	Assertions []Assertion

	// SourcePath is the path of the originating file, relative to the
	// scripts root, for error reporting.
	SourcePath string

	MTime time.Time

	IsIncremental  bool
	IncrementalKey string

	ClusteringFields []string
	ComputeProject   string

	// ParentID is set on synthesised test_assertion scripts; a
	// test_assertion script depends on exactly this one parent and
	// nothing else graph-internal.
	ParentID *TableID

	// FromAssertion is the inline annotation a test_assertion script
	// was synthesised from, kept for failure reporting.
	FromAssertion *Assertion
}

// DependsOn reports whether the script's dependency set includes id.
func (s *Script) DependsOn(id TableID) bool {
	_, ok := s.Dependencies[id.Key()]
	return ok
}

// AddDependency records a graph-internal dependency.
func (s *Script) AddDependency(id TableID) {
	if s.Dependencies == nil {
		s.Dependencies = make(map[string]TableID)
	}
	s.Dependencies[id.Key()] = id
}
