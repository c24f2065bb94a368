// Package model holds the core data types shared across lea's parser,
// DAG builder, and executor: table identifiers, scripts, assertions,
// and the typed error kinds the engine reports.
package model

import "strings"

// AuditSuffix is the literal suffix appended to a table name to form
// its audit-table form. It must round-trip through every Warehouse's
// render_table_ref implementation.
const AuditSuffix = "___audit"

// SubSchemaSep splits a table reference's sub-schema segments from its
// table name, e.g. "sub__table" -> schema "sub", table "table".
const SubSchemaSep = "__"

// TableID is a fully-qualified table identifier: an ordered schema
// path plus a table name. Equality is structural.
type TableID struct {
	Schema []string
	Table  string
}

// NewTableID builds a TableID from a schema path and table name.
func NewTableID(schema []string, table string) TableID {
	segs := make([]string, len(schema))
	copy(segs, schema)
	return TableID{Schema: segs, Table: table}
}

// Key returns a stable string form suitable for use as a map key.
func (id TableID) Key() string {
	if len(id.Schema) == 0 {
		return id.Table
	}
	return strings.Join(id.Schema, ".") + "." + id.Table
}

// String renders the identifier in dotted form, e.g. "core.sub.table".
func (id TableID) String() string {
	return id.Key()
}

// TopSchema returns the leftmost (top-level) schema segment, or "" if
// the identifier has no schema path.
func (id TableID) TopSchema() string {
	if len(id.Schema) == 0 {
		return ""
	}
	return id.Schema[0]
}

// Equal reports structural equality between two identifiers.
func (id TableID) Equal(other TableID) bool {
	return id.Key() == other.Key()
}

// Under reports whether id's schema path starts with the given prefix
// segments, used by the selector grammar's "schema/" atom.
func (id TableID) Under(prefix []string) bool {
	if len(prefix) > len(id.Schema) {
		return false
	}
	for i, seg := range prefix {
		if id.Schema[i] != seg {
			return false
		}
	}
	return true
}

// ParseQualifiedRef splits a SQL-level reference like "schema.table" or
// "schema.sub__table" into a TableID, applying the project's "__"
// sub-schema convention to the segment immediately before the table
// name. A bare identifier with no dot is returned with an empty schema.
func ParseQualifiedRef(ref string) TableID {
	parts := strings.Split(ref, ".")
	if len(parts) == 1 {
		return TableID{Table: parts[0]}
	}

	schema := parts[:len(parts)-1]
	last := parts[len(parts)-1]

	table := last
	var subSegs []string
	if idx := strings.Index(last, SubSchemaSep); idx >= 0 {
		subSegs = strings.Split(last[:idx], SubSchemaSep)
		table = last[idx+len(SubSchemaSep):]
	}

	full := append(append([]string{}, schema...), subSegs...)
	return NewTableID(full, table)
}

// QualifiedRef renders id back to the "schema.sub__table" SQL-reference
// form ParseQualifiedRef accepts; the two must round-trip for every
// identifier the project can produce.
func (id TableID) QualifiedRef() string {
	if len(id.Schema) == 0 {
		return id.Table
	}
	if len(id.Schema) == 1 {
		return id.Schema[0] + "." + id.Table
	}
	head := id.Schema[:len(id.Schema)-1]
	last := id.Schema[len(id.Schema)-1]
	return strings.Join(head, ".") + "." + last + SubSchemaSep + id.Table
}
