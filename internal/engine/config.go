package engine

import (
	"fmt"
	"time"

	"github.com/roach88/vdoc/internal/row"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultBatchSize         = 500
	DefaultBatchWindow       = time.Second
	DefaultRetentionDays     = 7
	DefaultInitialDelay      = 100 * time.Millisecond
	DefaultMaxDelay          = 10 * time.Second
	DefaultMaxAttempts       = 5
	DefaultFailureRetryDelay = 30 * time.Second
	DefaultPurgeProbability  = 0.01
)

// Config holds the sync engine settings.
type Config struct {
	// Table is the remote row table rows are written to.
	Table string
	// Namespace and Tenant stamp the rows built from oplog entries.
	Namespace string
	Tenant    string

	BatchSize     int
	BatchWindow   time.Duration
	RetentionDays int

	InitialDelay      time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	FailureRetryDelay time.Duration

	// PurgeProbability is the chance in [0,1] that a cycle ends with a purge.
	PurgeProbability float64
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = DefaultBatchWindow
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = DefaultRetentionDays
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.FailureRetryDelay <= 0 {
		c.FailureRetryDelay = DefaultFailureRetryDelay
	}
	return c
}

// Validate checks the identifiers and bounds of the config.
func (c Config) Validate() error {
	if err := row.ValidateIdentifier("table", c.Table); err != nil {
		return err
	}
	if err := row.ValidateIdentifier("namespace", c.Namespace); err != nil {
		return err
	}
	if c.PurgeProbability < 0 || c.PurgeProbability > 1 {
		return row.NewValidationError("validate sync config",
			fmt.Sprintf("purge probability %v outside [0,1]", c.PurgeProbability))
	}
	if c.MaxDelay > 0 && c.InitialDelay > c.MaxDelay {
		return row.NewValidationError("validate sync config", "initial delay exceeds max delay")
	}
	return nil
}

// Retention returns the retention window.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
