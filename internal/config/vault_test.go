package config

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// kvServer fakes a Vault KV v2 mount serving one secret at path with
// the given fields.
func kvServer(t *testing.T, path string, fields map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") == "" {
			http.Error(w, "missing token", http.StatusForbidden)
			return
		}
		if r.URL.Path != "/v1/"+path {
			http.NotFound(w, r)
			return
		}
		inner := map[string]any{}
		for k, v := range fields {
			inner[k] = v
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"data": inner},
		})
	}))
}

func TestResolveVaultField(t *testing.T) {
	server := kvServer(t, "secret/data/lea/motherduck", map[string]string{"token": "md-tok-123"})
	defer server.Close()
	t.Setenv("VAULT_ADDR", server.URL)
	t.Setenv("VAULT_TOKEN", "unit-test")

	got, err := resolveVault("secret/data/lea/motherduck#token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "md-tok-123" {
		t.Errorf("resolved %q, want md-tok-123", got)
	}
}

func TestResolveVaultMissingField(t *testing.T) {
	server := kvServer(t, "secret/data/lea/motherduck", map[string]string{"token": "md-tok-123"})
	defer server.Close()
	t.Setenv("VAULT_ADDR", server.URL)
	t.Setenv("VAULT_TOKEN", "unit-test")

	if _, err := resolveVault("secret/data/lea/motherduck#nope"); err == nil {
		t.Error("expected error for missing field")
	}
}

func TestResolveVaultBadReference(t *testing.T) {
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:1")
	t.Setenv("VAULT_TOKEN", "unit-test")

	for _, ref := range []string{"no-field-separator", "#token", "secret/data/x#"} {
		if _, err := resolveVault(ref); err == nil {
			t.Errorf("expected error for reference %q", ref)
		}
	}
}

func TestResolveVaultRequiresEnv(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("VAULT_TOKEN", "")

	if _, err := resolveVault("secret/data/lea/motherduck#token"); err == nil {
		t.Error("expected error when VAULT_ADDR/VAULT_TOKEN are unset")
	}
}

// TestLoadResolvesMotherDuckTokenFromVault exercises the whole chain a
// MotherDuck profile uses: Load parses the YAML, spots the ${VAULT:...}
// token reference, and fills in the resolved service token.
func TestLoadResolvesMotherDuckTokenFromVault(t *testing.T) {
	server := kvServer(t, "secret/data/lea/motherduck", map[string]string{"token": "md-tok-456"})
	defer server.Close()
	t.Setenv("VAULT_ADDR", server.URL)
	t.Setenv("VAULT_TOKEN", "unit-test")

	dir := t.TempDir()
	path := filepath.Join(dir, "lea.yaml")
	content := `version: 1
warehouse:
  kind: motherduck
  path: analytics
  token: ${VAULT:secret/data/lea/motherduck#token}
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
	if p.Warehouse.Kind != WarehouseMotherDuck {
		t.Errorf("kind = %s, want motherduck", p.Warehouse.Kind)
	}
	if p.Warehouse.Token != "md-tok-456" {
		t.Errorf("token = %q, want md-tok-456", p.Warehouse.Token)
	}
}
