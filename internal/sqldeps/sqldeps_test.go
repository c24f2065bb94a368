package sqldeps

import (
	"reflect"
	"sort"
	"testing"
)

func rawRefs(refs []Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Raw
	}
	sort.Strings(out)
	return out
}

func TestExtractDependenciesSimple(t *testing.T) {
	sql := `SELECT a, b FROM core.users u JOIN core.orders o ON u.id = o.user_id`
	refs, ctes := ExtractDependencies(sql, "duckdb")
	if len(ctes) != 0 {
		t.Errorf("expected no CTEs, got %v", ctes)
	}
	got := rawRefs(refs)
	want := []string{"core.orders", "core.users"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("refs = %v, want %v", got, want)
	}
}

func TestExtractDependenciesCTE(t *testing.T) {
	sql := `WITH base AS (
    SELECT id FROM staging.raw_users
), enriched AS (
    SELECT * FROM base JOIN core.accounts ON base.id = core.accounts.user_id
)
SELECT * FROM enriched`

	refs, ctes := ExtractDependencies(sql, "duckdb")
	if !ctes["base"] || !ctes["enriched"] {
		t.Fatalf("expected base and enriched CTE names, got %v", ctes)
	}

	got := map[string]bool{}
	for _, r := range refs {
		got[r.Raw] = true
	}
	if !got["staging.raw_users"] || !got["core.accounts"] {
		t.Errorf("expected staging.raw_users and core.accounts refs, got %v", refs)
	}
	// base and enriched are local CTE aliases, but the scanner itself
	// does not filter them out of refs; that's the caller's job,
	// cross-referencing against ctes.
	if !got["base"] || !got["enriched"] {
		t.Errorf("expected raw FROM references to CTE names to still appear pre-filter, got %v", refs)
	}
}

func TestExtractDependenciesSetOperations(t *testing.T) {
	sql := `SELECT id FROM staging.a
UNION ALL
SELECT id FROM staging.b
EXCEPT
SELECT id FROM staging.excluded`

	refs, _ := ExtractDependencies(sql, "duckdb")
	got := rawRefs(refs)
	want := []string{"staging.a", "staging.b", "staging.excluded"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("refs = %v, want %v", got, want)
	}
}

func TestExtractDependenciesSubquery(t *testing.T) {
	sql := `SELECT * FROM (SELECT id FROM staging.nested) t`
	refs, _ := ExtractDependencies(sql, "duckdb")
	got := rawRefs(refs)
	want := []string{"staging.nested"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("refs = %v, want %v", got, want)
	}
}

func TestExtractDependenciesIgnoresLineComments(t *testing.T) {
	sql := `SELECT id
-- FROM staging.commented_out
FROM staging.real`

	refs, _ := ExtractDependencies(sql, "duckdb")
	got := rawRefs(refs)
	want := []string{"staging.real"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("refs = %v, want %v", got, want)
	}
}

func TestExtractDependenciesQuotedIdentifier(t *testing.T) {
	sql := "SELECT id FROM `core`.`users`"
	refs, _ := ExtractDependencies(sql, "duckdb")
	if len(refs) != 1 || refs[0].Raw != "core.users" {
		t.Errorf("expected backtick-quoted ref to normalise to core.users, got %+v", refs)
	}
}
