package model

import "fmt"

// ConfigError reports a missing or invalid run configuration. It is
// always fatal before any execution begins.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "config error: " + e.Message }

// ParseError reports a SQL parse failure, duplicate TableID, or
// malformed annotation, with the offending file and line when known.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
	}
	return "parse error: " + e.Message
}

// CycleError reports that the DAG builder found a cycle. Cycle lists
// one offending cycle's node keys in order.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %v", e.Cycle)
}

// SelectorError reports a selector expression referencing an unknown
// node, or a malformed selector expression.
type SelectorError struct {
	Expression string
	Message    string
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("selector error in %q: %s", e.Expression, e.Message)
}

// MaterializationError wraps a warehouse rejection of a script's SQL.
// The node transitions to ERRORED and poisons its descendants.
type MaterializationError struct {
	Node TableID
	Err  error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materializing %s: %v", e.Node, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }

// AssertionFailure reports that a synthesised test returned violating
// rows. SampleRows holds a small sample for diagnostics.
type AssertionFailure struct {
	Node       TableID
	Parent     TableID
	Assertion  Assertion
	RowCount   int64
	SampleRows []map[string]any
}

func (e *AssertionFailure) Error() string {
	if e.Parent.Table == "" {
		return fmt.Sprintf("test %s failed: %d violating row(s)", e.Node, e.RowCount)
	}
	return fmt.Sprintf("assertion %s on %s failed: %d violating row(s)", e.Assertion, e.Parent, e.RowCount)
}

// Cancelled reports a run aborted by caller cancellation. In-flight
// nodes transition to ERRORED(cancelled); no further nodes schedule.
type Cancelled struct {
	Node TableID
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("cancelled while running %s", e.Node)
}

// ExitCode maps a top-level run error to the process exit code:
// 0 success, 1 runtime error, 2 bad config/selector, 3 cycle.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch err.(type) {
	case *CycleError:
		return 3
	case *ConfigError, *SelectorError:
		return 2
	default:
		return 1
	}
}
