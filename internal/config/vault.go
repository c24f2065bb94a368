package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/vault/api"
)

// resolveVault reads one field of a Vault KV secret, for profile
// values like `token: ${VAULT:secret/data/lea/motherduck#token}`. The
// reference is the secret path and field name separated by '#'; KV v2
// mounts (which nest the fields under a "data" key) are unwrapped
// transparently.
func resolveVault(ref string) (string, error) {
	path, field, ok := strings.Cut(ref, "#")
	if !ok || path == "" || field == "" {
		return "", fmt.Errorf("vault reference %q must look like path#field", ref)
	}

	client, err := vaultClient()
	if err != nil {
		return "", err
	}

	secret, err := client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("reading vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault secret %s not found", path)
	}

	fields := secret.Data
	if nested, ok := fields["data"].(map[string]any); ok {
		fields = nested
	}

	val, ok := fields[field]
	if !ok {
		return "", fmt.Errorf("vault secret %s has no field %q", path, field)
	}
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("vault secret %s field %q is not a string", path, field)
	}
	return s, nil
}

func vaultClient() (*api.Client, error) {
	addr := os.Getenv("VAULT_ADDR")
	token := os.Getenv("VAULT_TOKEN")
	if addr == "" || token == "" {
		return nil, fmt.Errorf("VAULT_ADDR and VAULT_TOKEN must be set to resolve ${VAULT:...} references")
	}

	cfg := api.DefaultConfig()
	cfg.Address = addr
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	client.SetToken(token)
	return client, nil
}
