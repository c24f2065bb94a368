package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lea.yaml")

	content := `version: 1
warehouse:
  kind: duckdb
  path: ./warehouse.db
run:
  scripts_root: ./scripts
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Version != 1 {
		t.Errorf("expected version 1, got %d", p.Version)
	}
	if p.Warehouse.Kind != WarehouseDuckDB {
		t.Errorf("expected duckdb, got %s", p.Warehouse.Kind)
	}
	if p.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", p.Logging.Level)
	}
}

func TestLoadInvalidVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lea.yaml")

	content := `version: 99
warehouse:
  kind: duckdb
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid version")
	}
}

func TestResolveEnvSecret(t *testing.T) {
	t.Setenv("TEST_SECRET", "mysecret")
	val, err := ResolveValue("${ENV:TEST_SECRET}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "mysecret" {
		t.Errorf("expected mysecret, got %s", val)
	}
}

func TestResolvePlainValue(t *testing.T) {
	val, err := ResolveValue("plaintext")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "plaintext" {
		t.Errorf("expected plaintext, got %s", val)
	}
}

func TestNewRunConfigRequiresScriptsRoot(t *testing.T) {
	p := &Profile{}
	if _, err := NewRunConfig(p, true, RunConfig{}); err == nil {
		t.Fatal("expected error when scripts_root is unset")
	}
}

func TestNewRunConfigDevRequiresUsername(t *testing.T) {
	os.Unsetenv("LEA_USERNAME")
	p := &Profile{Run: RunDefaults{ScriptsRoot: "./scripts"}}
	if _, err := NewRunConfig(p, false, RunConfig{}); err == nil {
		t.Fatal("expected error when LEA_USERNAME is unset for a dev run")
	}
}

func TestNewRunConfigDefaults(t *testing.T) {
	t.Setenv("LEA_USERNAME", "alice")
	p := &Profile{Run: RunDefaults{ScriptsRoot: "./scripts"}}
	rc, err := NewRunConfig(p, false, RunConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.Concurrency != DefaultConcurrency {
		t.Errorf("expected default concurrency %d, got %d", DefaultConcurrency, rc.Concurrency)
	}
	if rc.Env != EnvDev || rc.DevUser != "alice" {
		t.Errorf("expected dev env for alice, got env=%v user=%s", rc.Env, rc.DevUser)
	}
}

func TestNewRunConfigProductionOverride(t *testing.T) {
	p := &Profile{Run: RunDefaults{ScriptsRoot: "./scripts", Concurrency: 4}}
	rc, err := NewRunConfig(p, true, RunConfig{Concurrency: 16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.Env != EnvProd {
		t.Errorf("expected prod env")
	}
	if rc.Concurrency != 16 {
		t.Errorf("expected override concurrency 16, got %d", rc.Concurrency)
	}
}
