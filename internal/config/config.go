// Package config loads lea's profile file and assembles the typed
// RunConfig the engine consumes: a YAML profile overlaid with
// environment variables, CLI flags, and resolved secret references.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lea-sql/lea/internal/model"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.lea/lea.yaml"
)

// WarehouseKind names a supported Warehouse implementation.
type WarehouseKind string

const (
	WarehouseDuckDB     WarehouseKind = "duckdb"
	WarehouseMotherDuck WarehouseKind = "motherduck"
	WarehouseDuckLake   WarehouseKind = "ducklake"
	WarehouseBigQuery   WarehouseKind = "bigquery"
)

// Profile is the on-disk YAML configuration (~/.lea/lea.yaml by
// default): one block per concern, secrets resolved at load time.
type Profile struct {
	Version   int             `yaml:"version"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Logging   LogConfig       `yaml:"logging,omitempty"`
	Run       RunDefaults     `yaml:"run,omitempty"`
}

// WarehouseConfig selects and configures the target warehouse.
type WarehouseConfig struct {
	Kind WarehouseKind `yaml:"kind"`

	// DuckDB / MotherDuck / DuckLake.
	Path  string `yaml:"path,omitempty"`
	Token string `yaml:"token,omitempty"`

	// BigQuery.
	Project  string `yaml:"project,omitempty"`
	Dataset  string `yaml:"dataset,omitempty"`
	Location string `yaml:"location,omitempty"`
}

// LogConfig controls lea's own log output.
type LogConfig struct {
	Level         string `yaml:"level,omitempty"`
	Directory     string `yaml:"directory,omitempty"`
	RetentionDays int    `yaml:"retention_days,omitempty"`
}

// RunDefaults seeds RunConfig fields a profile may want to pin, all
// overridable by CLI flags.
type RunDefaults struct {
	Concurrency int    `yaml:"concurrency,omitempty"`
	ScriptsRoot string `yaml:"scripts_root,omitempty"`
}

// EnvKind is RunConfig's dev/prod discriminator: the effective
// environment is prod iff the caller sets --production, else dev with
// the user suffix appended to the warehouse namespace.
type EnvKind int

const (
	EnvDev EnvKind = iota
	EnvProd
)

// RunConfig is the single typed configuration struct the executor
// consumes; every behaviour flag and env var folds into it.
type RunConfig struct {
	Env              EnvKind
	DevUser          string // LEA_USERNAME; appended as the dev suffix
	Concurrency      int
	Restart          bool
	FailFast         bool
	FreezeUnselected bool
	NoPublish        bool          // `lea test`: run Write+Audit, skip Publish
	Timeout          time.Duration // per-node; zero means none
	Select           string
	Unselect         string
	ScriptsRoot      string
}

// DefaultConcurrency bounds concurrent materialisations when neither
// the profile nor --concurrency says otherwise.
const DefaultConcurrency = 8

// NewRunConfig builds a RunConfig from a loaded Profile plus the
// caller-supplied overrides (normally CLI flags); zero-value override
// fields fall back to the profile's RunDefaults, then to the package
// defaults.
func NewRunConfig(p *Profile, production bool, overrides RunConfig) (*RunConfig, error) {
	rc := overrides

	if rc.Concurrency == 0 {
		rc.Concurrency = p.Run.Concurrency
	}
	if rc.Concurrency == 0 {
		rc.Concurrency = DefaultConcurrency
	}
	if rc.ScriptsRoot == "" {
		rc.ScriptsRoot = p.Run.ScriptsRoot
	}
	if rc.ScriptsRoot == "" {
		return nil, &model.ConfigError{Message: "scripts_root is required (profile run.scripts_root or --scripts-root)"}
	}

	if production {
		rc.Env = EnvProd
	} else {
		rc.Env = EnvDev
		rc.DevUser = os.Getenv("LEA_USERNAME")
		if rc.DevUser == "" {
			return nil, &model.ConfigError{Message: "LEA_USERNAME must be set for a dev-environment run (or pass --production)"}
		}
	}

	return &rc, nil
}

// Load reads and parses the profile file from path (DefaultPath if
// empty), resolving ${ENV:...}/${VAULT:...}/${AWS_SM:...} secret
// references embedded in its values.
func Load(path string) (*Profile, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	p := &Profile{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	if p.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported profile version %d (expected %d)", p.Version, CurrentVersion)
	}

	if err := p.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	p.applyDefaults()
	return p, nil
}

func (p *Profile) applyDefaults() {
	if p.Logging.Level == "" {
		p.Logging.Level = "info"
	}
	if p.Logging.Directory == "" {
		p.Logging.Directory = ExpandHome("~/.lea/logs/")
	}
	if p.Logging.RetentionDays == 0 {
		p.Logging.RetentionDays = 30
	}
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (p *Profile) resolveSecrets() error {
	var err error
	p.Warehouse.Token, err = ResolveValue(p.Warehouse.Token)
	if err != nil {
		return fmt.Errorf("warehouse token: %w", err)
	}
	return nil
}

// ResolveValue resolves a ${ENV:...}/${VAULT:...}/${AWS_SM:...}
// secret reference in a string value; plain values pass through.
func ResolveValue(val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider := matches[1]
	ref := matches[2]

	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ref)
	case "AWS_SM":
		return resolveAWSSecretsManager(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
