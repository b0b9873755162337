// Package config loads the vdoc configuration file.
//
// The file is YAML. Before it is decoded into Config the document is checked
// against an embedded CUE schema, which rejects unknown keys, malformed
// durations and out-of-range values with a position-bearing message.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/vdoc/internal/engine"
	"github.com/roach88/vdoc/internal/row"
)

//go:embed schema.cue
var schemaCUE string

// Config represents the vdoc configuration
type Config struct {
	Local        LocalConfig        `yaml:"local"`
	Remote       RemoteConfig       `yaml:"remote"`
	Document     DocumentConfig     `yaml:"document"`
	Sync         SyncConfig         `yaml:"sync"`
	Transactions TransactionsConfig `yaml:"transactions"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// LocalConfig is the local SQLite store holding rows, the oplog and the
// staging table.
type LocalConfig struct {
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
}

// RemoteConfig is the store the sync engine converges into.
type RemoteConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
}

// DocumentConfig scopes every document the client touches.
type DocumentConfig struct {
	Namespace string `yaml:"namespace"`
	Tenant    string `yaml:"tenant"`
}

// SyncConfig represents sync engine configuration
type SyncConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	BatchWindow       time.Duration `yaml:"batch_window"`
	RetentionDays     int           `yaml:"retention_days"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	MaxAttempts       int           `yaml:"max_attempts"`
	FailureRetryDelay time.Duration `yaml:"failure_retry_delay"`
	// PurgeProbability is nil when unset; an explicit 0 disables purging.
	PurgeProbability *float64 `yaml:"purge_probability"`
}

// TransactionsConfig represents transaction stager configuration
type TransactionsConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	CleanupGrace    time.Duration `yaml:"cleanup_grace"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// Load loads configuration from a file
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse checks data against the schema, decodes it and applies defaults.
func Parse(data []byte) (*Config, error) {
	if err := checkSchema(data); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// checkSchema unifies the raw YAML document with #Config.
func checkSchema(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return errors.New(cueerrors.Details(err, nil))
	}
	return nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Local.Path == "" {
		cfg.Local.Path = "vdoc.db"
	}
	if cfg.Local.Table == "" {
		cfg.Local.Table = "documents"
	}

	if cfg.Remote.Driver == "" {
		cfg.Remote.Driver = "sqlite"
	}
	if cfg.Remote.DSN == "" && cfg.Remote.Driver == "sqlite" {
		cfg.Remote.DSN = "vdoc-remote.db"
	}
	if cfg.Remote.Table == "" {
		cfg.Remote.Table = cfg.Local.Table
	}

	if cfg.Document.Namespace == "" {
		cfg.Document.Namespace = "default"
	}

	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = engine.DefaultBatchSize
	}
	if cfg.Sync.BatchWindow == 0 {
		cfg.Sync.BatchWindow = engine.DefaultBatchWindow
	}
	if cfg.Sync.RetentionDays == 0 {
		cfg.Sync.RetentionDays = engine.DefaultRetentionDays
	}
	if cfg.Sync.InitialDelay == 0 {
		cfg.Sync.InitialDelay = engine.DefaultInitialDelay
	}
	if cfg.Sync.MaxDelay == 0 {
		cfg.Sync.MaxDelay = engine.DefaultMaxDelay
	}
	if cfg.Sync.MaxAttempts == 0 {
		cfg.Sync.MaxAttempts = engine.DefaultMaxAttempts
	}
	if cfg.Sync.FailureRetryDelay == 0 {
		cfg.Sync.FailureRetryDelay = engine.DefaultFailureRetryDelay
	}
	if cfg.Sync.PurgeProbability == nil {
		p := engine.DefaultPurgeProbability
		cfg.Sync.PurgeProbability = &p
	}

	if cfg.Transactions.Timeout == 0 {
		cfg.Transactions.Timeout = 5 * time.Minute
	}
	if cfg.Transactions.CleanupGrace == 0 {
		cfg.Transactions.CleanupGrace = time.Minute
	}
	if cfg.Transactions.CleanupInterval == 0 {
		cfg.Transactions.CleanupInterval = time.Minute
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := row.ValidateIdentifier("local.table", c.Local.Table); err != nil {
		return err
	}
	if err := row.ValidateIdentifier("remote.table", c.Remote.Table); err != nil {
		return err
	}
	if err := row.ValidateIdentifier("document.namespace", c.Document.Namespace); err != nil {
		return err
	}
	if c.Remote.Driver != "sqlite" && c.Remote.Driver != "postgres" {
		return fmt.Errorf("remote.driver must be one of: sqlite, postgres")
	}
	if c.Remote.DSN == "" {
		return fmt.Errorf("remote.dsn is required")
	}
	if c.Remote.Driver == "sqlite" && c.Remote.DSN == c.Local.Path {
		return fmt.Errorf("remote.dsn must differ from local.path")
	}
	if c.Sync.InitialDelay > c.Sync.MaxDelay {
		return fmt.Errorf("sync.initial_delay must not exceed sync.max_delay")
	}
	if p := c.Sync.PurgeProbability; p != nil && (*p < 0 || *p > 1) {
		return fmt.Errorf("sync.purge_probability must be between 0 and 1")
	}
	return nil
}

// Engine returns the sync engine configuration.
func (c *Config) Engine() engine.Config {
	cfg := engine.Config{
		Table:             c.Remote.Table,
		Namespace:         c.Document.Namespace,
		Tenant:            c.Document.Tenant,
		BatchSize:         c.Sync.BatchSize,
		BatchWindow:       c.Sync.BatchWindow,
		RetentionDays:     c.Sync.RetentionDays,
		InitialDelay:      c.Sync.InitialDelay,
		MaxDelay:          c.Sync.MaxDelay,
		MaxAttempts:       c.Sync.MaxAttempts,
		FailureRetryDelay: c.Sync.FailureRetryDelay,
	}
	if c.Sync.PurgeProbability != nil {
		cfg.PurgeProbability = *c.Sync.PurgeProbability
	}
	return cfg
}
