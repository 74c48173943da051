package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

type Config struct {
	// Snapshots and script
	PreviousSnapshot string `env:"PREVIOUS_SNAPSHOT"` // empty means an empty database
	NextSnapshot     string `env:"NEXT_SNAPSHOT,required"`
	ScriptOutput     string `env:"SCRIPT_OUTPUT"` // "-" or empty writes the script to stdout

	// Pipeline behaviour
	Apply  bool `env:"APPLY" envDefault:"false"`
	Force  bool `env:"FORCE" envDefault:"false"`   // proceed despite destructive warnings
	DryRun bool `env:"DRY_RUN" envDefault:"false"` // plan, render and check only

	// Retry logic for connecting to the target
	MaxRetries    int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryInterval time.Duration `env:"RETRY_INTERVAL" envDefault:"5s"`
	ApplyTimeout  time.Duration `env:"APPLY_TIMEOUT" envDefault:"30m"`

	// Connection pool
	ConnPoolSize    int           `env:"CONN_POOL_SIZE" envDefault:"4"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`

	// Observability & debugging
	DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
	EnablePprof       bool `env:"ENABLE_PPROF" envDefault:"false"`
	MetricsPort       int  `env:"METRICS_PORT" envDefault:"0"` // 0 disables /metrics, /healthz, /readyz

	// Vault
	VaultEnabled    bool   `env:"VAULT_ENABLED" envDefault:"false"`
	VaultAddr       string `env:"VAULT_ADDR" envDefault:"http://127.0.0.1:8200"`
	VaultToken      string `env:"VAULT_TOKEN"`
	VaultCACert     string `env:"VAULT_CACERT"`
	VaultSkipVerify bool   `env:"VAULT_SKIP_VERIFY" envDefault:"false"`
	DstSecretPath   string `env:"DST_SECRET_PATH"`
	DstUsernameKey  string `env:"DST_USERNAME_KEY" envDefault:"username"`
	DstPasswordKey  string `env:"DST_PASSWORD_KEY" envDefault:"password"`

	// Target database
	DstDB DatabaseConfig `envPrefix:"DST_"`
}

// DatabaseConfig describes the target. For sqlite, DBName is the file path
// and the network fields are ignored.
type DatabaseConfig struct {
	Dialect  string `env:"DIALECT,required"`
	Host     string `env:"HOST"`
	Port     int    `env:"PORT"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"` // may come from Vault instead
	DBName   string `env:"DBNAME"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config parsing error: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NeedsConnection reports whether the run talks to the target database.
// Dry runs still connect when connection details are given, so the
// destructive checks can inspect live data.
func (c *Config) NeedsConnection() bool {
	if c.Apply && !c.DryRun {
		return true
	}
	if strings.EqualFold(c.DstDB.Dialect, "sqlite") {
		return c.DstDB.DBName != ""
	}
	return c.DstDB.Host != ""
}

func Validate(cfg *Config) error {
	allowedDialects := map[string]bool{
		"mysql":     true,
		"postgres":  true,
		"sqlite":    true,
		"sqlserver": true,
	}
	dialect := strings.ToLower(cfg.DstDB.Dialect)
	if dialect == "mssql" {
		dialect = "sqlserver"
	}
	if !allowedDialects[dialect] {
		return fmt.Errorf("invalid destination dialect: %s. Valid options: %v", cfg.DstDB.Dialect, getMapKeys(allowedDialects))
	}
	cfg.DstDB.Dialect = dialect

	if cfg.MetricsPort != 0 {
		if err := validatePort(cfg.MetricsPort, "metrics"); err != nil {
			return err
		}
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if cfg.ConnPoolSize <= 0 {
		return fmt.Errorf("connection pool size must be positive")
	}
	if cfg.Apply && cfg.DryRun {
		return fmt.Errorf("APPLY and DRY_RUN are mutually exclusive")
	}

	if !cfg.NeedsConnection() {
		return nil
	}
	if dialect == "sqlite" {
		if cfg.DstDB.DBName == "" {
			return fmt.Errorf("destination DBNAME (sqlite file path) is required")
		}
		return nil
	}
	if cfg.DstDB.Host == "" || cfg.DstDB.DBName == "" {
		return fmt.Errorf("destination HOST and DBNAME are required to connect to %s", dialect)
	}
	if err := validatePort(cfg.DstDB.Port, "destination"); err != nil {
		return err
	}
	if cfg.DstDB.Password == "" && !cfg.VaultEnabled {
		return fmt.Errorf("destination PASSWORD is required when Vault is disabled")
	}
	if cfg.VaultEnabled && cfg.DstDB.Password == "" && cfg.DstSecretPath == "" {
		return fmt.Errorf("DST_SECRET_PATH is required to read the destination password from Vault")
	}

	validSSL := map[string]bool{
		"disable":     true,
		"allow":       true,
		"prefer":      true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if isSSLModeRelevant(dialect) && !validSSL[strings.ToLower(cfg.DstDB.SSLMode)] {
		return fmt.Errorf("invalid SSL mode for destination DB: %s", cfg.DstDB.SSLMode)
	}
	return nil
}

func validatePort(port int, name string) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s port: %d", name, port)
	}
	return nil
}

func getMapKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys) // stable error messages
	return keys
}

func isSSLModeRelevant(dialect string) bool {
	switch strings.ToLower(dialect) {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}
