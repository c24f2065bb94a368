// Package sqldeps extracts FROM/JOIN table references from a SQL
// query body with a hand-written scanner, without building a full
// parse tree. It tracks paren depth to recognise CTE and subquery
// boundaries, and folds UNION/UNION ALL/INTERSECT/EXCEPT branches into
// the same top-level dependency set.
package sqldeps

import (
	"regexp"
	"strings"
)

// Ref is a single qualified table reference found in FROM/JOIN
// position, with the raw (possibly schema-qualified) text as written.
type Ref struct {
	Raw  string
	Line int
}

var (
	reWithPrefix = regexp.MustCompile(`(?i)^\s*WITH\s+(?:RECURSIVE\s+)?`)
	reCTEHead    = regexp.MustCompile(`(?i)^\s*([A-Za-z_][A-Za-z0-9_]*)\s*(?:\([^)]*\))?\s+AS\s*\(`)
	reFromJoin   = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_` + "`" + `"][A-Za-z0-9_.` + "`" + `"]*)`)
	identTrim    = regexp.MustCompile("[`\"]")
)

// ExtractDependencies strips line comments from sql, scans the rest,
// and returns every FROM/JOIN reference, along with
// the set of names bound by a leading WITH clause. Callers resolving
// dependencies should drop any ref whose name is a key in ctes;
// those are local query aliases, not graph nodes. dialect is reserved
// for future dialect-specific quoting rules; it is unused today since
// DuckDB/MotherDuck/DuckLake/BigQuery all accept the ANSI forms this
// scanner recognises.
func ExtractDependencies(sql, dialect string) ([]Ref, map[string]bool) {
	clean := stripComments(sql)
	ctes := extractCTENames(clean)

	var refs []Ref
	for _, m := range reFromJoin.FindAllStringSubmatchIndex(clean, -1) {
		start, end := m[2], m[3]
		ref := identTrim.ReplaceAllString(clean[start:end], "")
		ref = strings.TrimSuffix(ref, ".")
		if ref == "" {
			continue
		}
		refs = append(refs, Ref{Raw: ref, Line: lineOf(clean, start)})
	}

	return dedup(refs), ctes
}

// extractCTENames consumes a leading "WITH [RECURSIVE] name AS (...),
// name2 AS (...) ..." header, matching parens to skip each CTE body,
// and returns the bound names. If sql has no WITH header, it returns
// an empty set.
func extractCTENames(sql string) map[string]bool {
	ctes := map[string]bool{}
	loc := reWithPrefix.FindStringIndex(sql)
	if loc == nil {
		return ctes
	}
	pos := loc[1]

	for {
		rest := sql[pos:]
		m := reCTEHead.FindStringSubmatchIndex(rest)
		if m == nil {
			break
		}
		name := rest[m[2]:m[3]]
		ctes[name] = true

		openParen := pos + m[1] - 1 // index of the "(" the match ends on
		closeParen := matchParen(sql, openParen)
		if closeParen < 0 {
			return ctes
		}
		pos = closeParen + 1

		// Skip whitespace, then check for a comma (more CTEs follow).
		for pos < len(sql) && isSpace(sql[pos]) {
			pos++
		}
		if pos < len(sql) && sql[pos] == ',' {
			pos++
			continue
		}
		break
	}
	return ctes
}

// matchParen returns the index of the ")" matching the "(" at open.
func matchParen(s string, open int) int {
	depth := 0
	inStr := byte(0)
	for i := open; i < len(s); i++ {
		c := s[i]
		if inStr != 0 {
			if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			inStr = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func lineOf(sql string, byteIdx int) int {
	return strings.Count(sql[:byteIdx], "\n") + 1
}

func dedup(refs []Ref) []Ref {
	seen := map[string]bool{}
	out := make([]Ref, 0, len(refs))
	for _, r := range refs {
		if seen[r.Raw] {
			continue
		}
		seen[r.Raw] = true
		out = append(out, r)
	}
	return out
}

// stripComments removes "-- ..." line comments (respecting string
// literals) from the whole text, preserving line breaks so byte
// offsets still map to the same line numbers.
func stripComments(sql string) string {
	lines := strings.Split(sql, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return strings.Join(lines, "\n")
}

func stripLineComment(line string) string {
	inStr := byte(0)
	for i := 0; i < len(line); i++ {
		c := line[i]
		if inStr != 0 {
			if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			inStr = c
		case '-':
			if i+1 < len(line) && line[i+1] == '-' {
				return line[:i]
			}
		}
	}
	return line
}
