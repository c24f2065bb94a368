package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lea-sql/lea/internal/model"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseBasicGraph(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "staging/raw_users.sql", `SELECT id, email FROM source.users`)
	writeFile(t, root, "core/users.sql", `SELECT
    id,
    -- #NO_NULLS
    email
FROM staging.raw_users`)

	proj, err := Parse(root, Options{Dialect: "duckdb"})
	if err != nil {
		t.Fatal(err)
	}

	coreUsers, ok := proj.Scripts[model.NewTableID([]string{"core"}, "users").Key()]
	if !ok {
		t.Fatal("expected core.users script")
	}
	if !coreUsers.DependsOn(model.NewTableID([]string{"staging"}, "raw_users")) {
		t.Errorf("expected core.users to depend on staging.raw_users, deps=%v", coreUsers.Dependencies)
	}
	if len(coreUsers.Assertions) != 1 {
		t.Errorf("expected 1 assertion, got %+v", coreUsers.Assertions)
	}

	rawUsers := proj.Scripts[model.NewTableID([]string{"staging"}, "raw_users").Key()]
	if len(rawUsers.ExternalDependencies) != 1 || rawUsers.ExternalDependencies[0] != "source.users" {
		t.Errorf("expected external dependency source.users, got %v", rawUsers.ExternalDependencies)
	}
}

func TestParseRejectsRootLevelFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "orphan.sql", `SELECT 1`)

	_, err := Parse(root, Options{})
	if err == nil {
		t.Fatal("expected error for file directly under root")
	}
	if _, ok := err.(*model.ParseError); !ok {
		t.Errorf("expected *model.ParseError, got %T: %v", err, err)
	}
}

func TestParseDetectsDuplicateTableID(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/users.sql", `SELECT 1`)
	writeFile(t, root, "core/users.sql.jinja", `SELECT 1`)

	_, err := Parse(root, Options{})
	if err == nil {
		t.Fatal("expected duplicate TableID error")
	}
}

func TestParseJinjaTemplating(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/regional.sql.jinja", `SELECT * FROM staging.events WHERE region = '{{ env "REGION" }}'`)

	proj, err := Parse(root, Options{Env: map[string]string{"REGION": "us-east1"}})
	if err != nil {
		t.Fatal(err)
	}
	script := proj.Scripts[model.NewTableID([]string{"core"}, "regional").Key()]
	if script == nil {
		t.Fatal("expected core.regional script")
	}
	if want := "us-east1"; !strings.Contains(script.RawSQL, want) {
		t.Errorf("expected rendered SQL to contain %s, got %s", want, script.RawSQL)
	}
}

func TestParseTestsSchemaClassification(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/users.sql", `SELECT id FROM staging.raw_users`)
	writeFile(t, root, "tests/no_orphan_orders.sql", `SELECT * FROM core.orders WHERE user_id NOT IN (SELECT id FROM core.users)`)

	proj, err := Parse(root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	test := proj.Scripts[model.NewTableID([]string{"tests"}, "no_orphan_orders").Key()]
	if test == nil {
		t.Fatal("expected singular test script")
	}
	if test.Kind != model.KindTestSingular {
		t.Errorf("expected KindTestSingular, got %v", test.Kind)
	}
}

func TestParseSubSchemaDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "core/billing/invoices.sql", `SELECT 1`)

	proj, err := Parse(root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	id := model.NewTableID([]string{"core", "billing"}, "invoices")
	if _, ok := proj.Scripts[id.Key()]; !ok {
		t.Fatalf("expected %s, got keys %v", id, keys(proj.Scripts))
	}
}

func keys(m map[string]*model.Script) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
