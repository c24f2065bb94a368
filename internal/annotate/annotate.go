// Package annotate extracts lea's assertion and hint annotations from
// SQL line comments. Annotations
// attach to whichever SELECT-list column's expression is the nearest
// following non-comment, non-blank SQL on a top-level (paren-depth
// zero) SELECT, i.e. not inside a CTE or subquery body.
package annotate

import (
	"regexp"
	"strings"

	"github.com/lea-sql/lea/internal/model"
)

// Result holds everything Scan extracted from one script's SQL.
type Result struct {
	Assertions       []model.Assertion
	ClusteringFields []string
	IsIncremental    bool
	IncrementalKey   string
}

var (
	reSelect      = regexp.MustCompile(`(?i)\bSELECT\b`)
	reFrom        = regexp.MustCompile(`(?i)\bFROM\b`)
	reIncremental = regexp.MustCompile(`(?i)[#@]INCREMENTAL(?:\(([^)]*)\))?`)
	reAlias       = regexp.MustCompile(`(?i)\bAS\s+` + "`" + `?"?([A-Za-z_][A-Za-z0-9_]*)` + "`" + `?"?\s*$`)
	reLastIdent   = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*$`)

	reNoNulls   = regexp.MustCompile(`^\s*[#@]NO_NULLS\b`)
	// \b rejects UNIQUE_BY here: "_" is a word character, so there is
	// no boundary between UNIQUE and _BY.
	reUnique    = regexp.MustCompile(`^\s*[#@]UNIQUE\b`)
	reUniqueBy  = regexp.MustCompile(`^\s*[#@]UNIQUE_BY\(([^)]*)\)`)
	reSetOpen   = regexp.MustCompile(`^\s*#SET\{`)
	reSetClosed = regexp.MustCompile(`^\s*#SET\{([^}]*)\}`)
	reCluster   = regexp.MustCompile(`^\s*#CLUSTERING_FIELD\b`)
)

type pendingKind int

const (
	pendNoNulls pendingKind = iota
	pendUnique
	pendUniqueBy
	pendSet
	pendCluster
)

type pending struct {
	kind   pendingKind
	by     []string
	values []string
}

// Scan extracts annotations from raw SQL text. path is used only for
// error messages.
func Scan(path, sql string) (Result, error) {
	var res Result
	if m := reIncremental.FindStringSubmatch(sql); m != nil {
		res.IsIncremental = true
		res.IncrementalKey = strings.TrimSpace(m[1])
	}

	lines := strings.Split(sql, "\n")
	depth := 0
	inSelect := false
	selectDepth := 0
	var pendingAnns []pending

	for i, rawLine := range lines {
		lineNo := i + 1
		code, comment := splitComment(rawLine)
		trimmedCode := strings.TrimSpace(code)
		trimmedComment := strings.TrimSpace(comment)

		if trimmedComment != "" {
			anns, err := parseAnnotationComment(path, lineNo, trimmedComment)
			if err != nil {
				return res, err
			}
			pendingAnns = append(pendingAnns, anns...)
		}

		if trimmedCode == "" {
			continue
		}

		if !inSelect && reSelect.MatchString(trimmedCode) && depth == 0 {
			inSelect = true
			selectDepth = depth
		}

		// The "nearest following non-comment, non-blank SQL token" has
		// now been reached, whether or not it turns out to be a
		// top-level SELECT-list expression; pending annotations are
		// resolved against it or dropped either way, never carried
		// past this line.
		if len(pendingAnns) > 0 {
			if inSelect && depth == selectDepth {
				if col := columnAlias(trimmedCode); col != "" {
					for _, p := range pendingAnns {
						switch p.kind {
						case pendNoNulls:
							res.Assertions = append(res.Assertions, model.Assertion{Kind: model.AssertionNoNulls, Column: col, SourceLine: lineNo})
						case pendUnique:
							res.Assertions = append(res.Assertions, model.Assertion{Kind: model.AssertionUnique, Column: col, SourceLine: lineNo})
						case pendUniqueBy:
							res.Assertions = append(res.Assertions, model.Assertion{Kind: model.AssertionUniqueBy, Column: col, ByColumns: p.by, SourceLine: lineNo})
						case pendSet:
							res.Assertions = append(res.Assertions, model.Assertion{Kind: model.AssertionSet, Column: col, Values: p.values, SourceLine: lineNo})
						case pendCluster:
							res.ClusteringFields = append(res.ClusteringFields, col)
						}
					}
				}
			}
			pendingAnns = nil
		}

		if inSelect && reFrom.MatchString(trimmedCode) && depth == selectDepth {
			inSelect = false
			pendingAnns = nil
		}

		depth += parenDelta(code)
		if depth < 0 {
			depth = 0
		}
	}

	return res, nil
}

// parseAnnotationComment parses the annotation tokens (there may be
// more than one) out of a single comment line's text.
func parseAnnotationComment(path string, line int, comment string) ([]pending, error) {
	var out []pending
	rest := comment

	for strings.TrimSpace(rest) != "" {
		rest = strings.TrimSpace(rest)
		switch {
		case reUniqueBy.MatchString(rest):
			m := reUniqueBy.FindStringSubmatch(rest)
			cols := splitArgs(m[1])
			out = append(out, pending{kind: pendUniqueBy, by: cols})
			rest = rest[len(m[0]):]
		case reSetClosed.MatchString(rest):
			m := reSetClosed.FindStringSubmatch(rest)
			vals := splitArgs(m[1])
			out = append(out, pending{kind: pendSet, values: vals})
			rest = rest[len(m[0]):]
		case reSetOpen.MatchString(rest):
			return nil, &model.ParseError{Path: path, Line: line, Message: "malformed #SET{...}: unterminated braces"}
		case reNoNulls.MatchString(rest):
			out = append(out, pending{kind: pendNoNulls})
			rest = trimToken(rest, reNoNulls)
		case reUnique.MatchString(rest):
			out = append(out, pending{kind: pendUnique})
			rest = trimToken(rest, reUnique)
		case reCluster.MatchString(rest):
			out = append(out, pending{kind: pendCluster})
			rest = trimToken(rest, reCluster)
		default:
			// Unknown annotation keyword: ignored, never an error.
			return out, nil
		}
	}
	return out, nil
}

func trimToken(s string, re *regexp.Regexp) string {
	m := re.FindStringIndex(s)
	if m == nil {
		return ""
	}
	return s[m[1]:]
}

func splitArgs(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `'"`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// columnAlias extracts the alias or bare identifier a SELECT-list
// expression binds its value to, from the first physical line of that
// expression (truncated at the first top-level comma, if any).
func columnAlias(code string) string {
	expr := code
	if idx := topLevelComma(expr); idx >= 0 {
		expr = expr[:idx]
	}
	expr = stripLeadingSelect(expr)
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return ""
	}

	if m := reAlias.FindStringSubmatch(expr); m != nil {
		return m[1]
	}
	if m := reLastIdent.FindStringSubmatch(strings.TrimRight(expr, ", \t")); m != nil {
		return m[1]
	}
	return ""
}

// stripLeadingSelect removes a leading "SELECT" / "SELECT DISTINCT"
// keyword so the first column expression in a one-line SELECT is
// scanned correctly.
func stripLeadingSelect(s string) string {
	trimmed := strings.TrimLeft(s, " \t")
	if len(trimmed) < 6 || !strings.EqualFold(trimmed[:6], "select") {
		return s
	}
	trimmed = trimmed[6:]
	upper := strings.ToUpper(strings.TrimLeft(trimmed, " \t"))
	if strings.HasPrefix(upper, "DISTINCT") {
		idx := strings.Index(strings.ToUpper(trimmed), "DISTINCT")
		trimmed = trimmed[idx+len("DISTINCT"):]
	}
	return trimmed
}

// topLevelComma returns the index of the first comma that is not
// nested inside parens, or -1.
func topLevelComma(s string) int {
	depth := 0
	inStr := byte(0)
	for i := 0; i < len(s); i++ {
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
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parenDelta returns the net paren-depth change a line of (non-comment)
// SQL code contributes, ignoring parens inside string literals.
func parenDelta(code string) int {
	delta := 0
	inStr := byte(0)
	for i := 0; i < len(code); i++ {
		c := code[i]
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
			delta++
		case ')':
			delta--
		}
	}
	return delta
}

// splitComment splits a line into (code, comment) at the first "--"
// that is not inside a string literal.
func splitComment(line string) (code, comment string) {
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
				return line[:i], line[i+2:]
			}
		}
	}
	return line, ""
}
