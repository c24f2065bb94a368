// Package dag builds the dependency graph over parsed scripts,
// validates acyclicity, and resolves selector expressions into an
// active set.
package dag

import (
	"strings"

	"github.com/lea-sql/lea/internal/model"
)

// Graph is scripts plus a precomputed reverse-dependency (children)
// index; Dependencies on Script already gives the forward (parent)
// edges.
type Graph struct {
	Scripts  map[string]*model.Script // by TableID.Key()
	children map[string]map[string]bool
}

// Build validates the script set is acyclic and returns the graph. On
// a cycle, it reports one offending cycle's node keys in order.
func Build(scripts map[string]*model.Script) (*Graph, error) {
	g := &Graph{
		Scripts:  scripts,
		children: make(map[string]map[string]bool, len(scripts)),
	}
	for key, s := range scripts {
		for depKey := range s.Dependencies {
			if g.children[depKey] == nil {
				g.children[depKey] = map[string]bool{}
			}
			g.children[depKey][key] = true
		}
	}

	if cycle := findCycle(g); cycle != nil {
		return nil, &model.CycleError{Cycle: cycle}
	}
	return g, nil
}

const (
	white = iota
	gray
	black
)

func findCycle(g *Graph) []string {
	color := make(map[string]int, len(g.Scripts))
	var stack []string

	var visit func(key string) []string
	visit = func(key string) []string {
		color[key] = gray
		stack = append(stack, key)

		script := g.Scripts[key]
		for depKey := range script.Dependencies {
			switch color[depKey] {
			case white:
				if cyc := visit(depKey); cyc != nil {
					return cyc
				}
			case gray:
				// Found the back edge; slice the stack from the first
				// occurrence of depKey to the end to report one cycle.
				for i, k := range stack {
					if k == depKey {
						cyc := append([]string{}, stack[i:]...)
						return append(cyc, depKey)
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[key] = black
		return nil
	}

	keys := make([]string, 0, len(g.Scripts))
	for k := range g.Scripts {
		keys = append(keys, k)
	}
	for _, k := range keys {
		if color[k] == white {
			if cyc := visit(k); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// Ancestors returns the transitive closure of key's dependencies,
// excluding key itself.
func (g *Graph) Ancestors(key string) map[string]bool {
	out := map[string]bool{}
	var walk func(k string)
	walk = func(k string) {
		script, ok := g.Scripts[k]
		if !ok {
			return
		}
		for depKey := range script.Dependencies {
			if !out[depKey] {
				out[depKey] = true
				walk(depKey)
			}
		}
	}
	walk(key)
	return out
}

// Descendants returns the transitive closure of key's dependents,
// excluding key itself.
func (g *Graph) Descendants(key string) map[string]bool {
	out := map[string]bool{}
	var walk func(k string)
	walk = func(k string) {
		for childKey := range g.children[k] {
			if !out[childKey] {
				out[childKey] = true
				walk(childKey)
			}
		}
	}
	walk(key)
	return out
}

// TopoOrder returns active's keys in a valid topological order. Only
// dependency edges within active are considered; a dependency outside
// active is treated as already satisfied (it is either frozen or has
// a live audit checkpoint).
func TopoOrder(g *Graph, active map[string]bool) []string {
	visited := map[string]bool{}
	var order []string

	var visit func(key string)
	visit = func(key string) {
		if visited[key] {
			return
		}
		visited[key] = true
		script := g.Scripts[key]
		deps := make([]string, 0, len(script.Dependencies))
		for depKey := range script.Dependencies {
			if active[depKey] {
				deps = append(deps, depKey)
			}
		}
		sortStrings(deps)
		for _, depKey := range deps {
			visit(depKey)
		}
		order = append(order, key)
	}

	keys := make([]string, 0, len(active))
	for k := range active {
		keys = append(keys, k)
	}
	// Stable order for deterministic tie-breaking among independent
	// nodes; the executor's concurrency bound governs real scheduling.
	sortStrings(keys)
	for _, k := range keys {
		visit(k)
	}
	return order
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Atom is one parsed selector term.
type Atom struct {
	Kind        AtomKind
	Ref         string   // NodeAtom: a schema(.sub)*.table reference
	SchemaPath  []string // SchemaAtom: schema(.sub)* segments
	Ancestors   bool     // '+' prefix
	Descendants bool     // '+' suffix
}

type AtomKind int

const (
	NodeAtom AtomKind = iota
	SchemaAtom
	GitAtom
)

// ParseSelection parses a space-separated disjunction of selector
// atoms: node refs, "schema/" prefixes, and "git", each optionally
// wrapped in +prefix/+suffix closure markers. An empty expr yields no
// atoms.
func ParseSelection(expr string) ([]Atom, error) {
	fields := strings.Fields(expr)
	atoms := make([]Atom, 0, len(fields))
	for _, f := range fields {
		a, err := parseAtom(expr, f)
		if err != nil {
			return nil, err
		}
		atoms = append(atoms, a)
	}
	return atoms, nil
}

func parseAtom(expr, token string) (Atom, error) {
	a := Atom{}
	core := token
	if strings.HasPrefix(core, "+") {
		a.Ancestors = true
		core = core[1:]
	}
	if strings.HasSuffix(core, "+") {
		a.Descendants = true
		core = core[:len(core)-1]
	}
	if core == "" {
		return Atom{}, &model.SelectorError{Expression: expr, Message: "empty selector atom"}
	}

	switch {
	case core == "git":
		a.Kind = GitAtom
	case strings.HasSuffix(core, "/"):
		a.Kind = SchemaAtom
		a.SchemaPath = strings.Split(strings.TrimSuffix(core, "/"), ".")
	default:
		a.Kind = NodeAtom
		a.Ref = core
	}
	return a, nil
}

// Resolve expands atoms against the graph into the matched node-key
// set, applying each atom's ancestor/descendant closure. gitModified
// is the set of TableID keys whose source file changed in the
// working tree, supplied by an external resolver.
func (g *Graph) Resolve(atoms []Atom, gitModified map[string]bool) (map[string]bool, error) {
	result := map[string]bool{}
	for _, a := range atoms {
		base, err := g.matchAtom(a, gitModified)
		if err != nil {
			return nil, err
		}
		for key := range base {
			result[key] = true
			if a.Ancestors {
				for k := range g.Ancestors(key) {
					result[k] = true
				}
			}
			if a.Descendants {
				for k := range g.Descendants(key) {
					result[k] = true
				}
			}
		}
	}
	return result, nil
}

func (g *Graph) matchAtom(a Atom, gitModified map[string]bool) (map[string]bool, error) {
	out := map[string]bool{}
	switch a.Kind {
	case NodeAtom:
		id := model.ParseQualifiedRef(a.Ref)
		if _, ok := g.Scripts[id.Key()]; !ok {
			return nil, &model.SelectorError{Expression: a.Ref, Message: "no such node"}
		}
		out[id.Key()] = true
	case SchemaAtom:
		for key, s := range g.Scripts {
			if s.ID.Under(a.SchemaPath) {
				out[key] = true
			}
		}
	case GitAtom:
		for key := range gitModified {
			if _, ok := g.Scripts[key]; ok {
				out[key] = true
			}
		}
	}
	return out, nil
}

// UnselectedAncestors returns every graph-internal ancestor of a node
// in active that is not itself in active. Each of these must either
// have a live audit table (a checkpoint from a prior run) or be
// treated as frozen under --freeze-unselected (read from production
// instead).
func (g *Graph) UnselectedAncestors(active map[string]bool) map[string]bool {
	out := map[string]bool{}
	for key := range active {
		for ancestorKey := range g.Ancestors(key) {
			if !active[ancestorKey] {
				out[ancestorKey] = true
			}
		}
	}
	return out
}

// ActiveSet computes the final active set: the union of select's
// resolution minus unselect's resolution. Empty select means
// "everything".
func (g *Graph) ActiveSet(selectExpr, unselectExpr string, gitModified map[string]bool) (map[string]bool, error) {
	var include map[string]bool
	if strings.TrimSpace(selectExpr) == "" {
		include = map[string]bool{}
		for key := range g.Scripts {
			include[key] = true
		}
	} else {
		atoms, err := ParseSelection(selectExpr)
		if err != nil {
			return nil, err
		}
		include, err = g.Resolve(atoms, gitModified)
		if err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(unselectExpr) != "" {
		atoms, err := ParseSelection(unselectExpr)
		if err != nil {
			return nil, err
		}
		exclude, err := g.Resolve(atoms, gitModified)
		if err != nil {
			return nil, err
		}
		for key := range exclude {
			delete(include, key)
		}
	}

	return include, nil
}
