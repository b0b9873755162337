package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is an end-to-end flow over one document store.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// TxTimeout overrides the transaction timeout (default 5m).
	TxTimeout time.Duration `yaml:"tx_timeout,omitempty"`

	Flow       []Step      `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step kinds.
const (
	StepCreate   = "create"
	StepUpdate   = "update"
	StepDelete   = "delete"
	StepBegin    = "begin"
	StepCommit   = "commit"
	StepRollback = "rollback"
	StepBurst    = "burst"
	StepAdvance  = "advance"
	StepCleanup  = "cleanup"
	StepDrain    = "drain"
	StepSync     = "sync"
)

// Step is one action of the flow.
type Step struct {
	Do   string         `yaml:"do"`
	Type string         `yaml:"type,omitempty"`
	ID   string         `yaml:"id,omitempty"`
	Data map[string]any `yaml:"data,omitempty"`

	// Tx names a transaction; mutations with Tx set are staged into it.
	Tx string `yaml:"tx,omitempty"`

	Docs  int `yaml:"docs,omitempty"`
	Count int `yaml:"count,omitempty"`

	Duration time.Duration `yaml:"duration,omitempty"`
	Grace    time.Duration `yaml:"grace,omitempty"`

	Expect *StepExpect `yaml:"expect,omitempty"`
}

// StepExpect checks the outcome of a step. Unset fields are not checked.
type StepExpect struct {
	// Error is the expected row.ErrorCode; empty means the step succeeds.
	Error   string `yaml:"error,omitempty"`
	Rows    *int   `yaml:"rows,omitempty"`
	Synced  *int64 `yaml:"synced,omitempty"`
	Removed *int64 `yaml:"removed,omitempty"`
}

// Assertion types.
const (
	AssertCurrent         = "current"
	AssertAbsent          = "absent"
	AssertListed          = "listed"
	AssertRemoteCurrent   = "remote_current"
	AssertRemoteAbsent    = "remote_absent"
	AssertMaxRowsPerWrite = "max_rows_per_write"
	AssertTxStatus        = "tx_status"
)

// Assertion checks the final state.
type Assertion struct {
	Type   string         `yaml:"type"`
	Doc    string         `yaml:"doc,omitempty"`
	ID     string         `yaml:"id,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Deleted is the tombstone state a listed assertion expects.
	Deleted bool `yaml:"deleted,omitempty"`

	Count  int    `yaml:"count,omitempty"`
	Tx     string `yaml:"tx,omitempty"`
	Status string `yaml:"status,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a scenario document. Unknown fields are rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(s Step) error {
	switch s.Do {
	case StepCreate, StepUpdate, StepDelete:
		if s.Type == "" || s.ID == "" {
			return fmt.Errorf("%s requires type and id", s.Do)
		}
	case StepBegin, StepCommit, StepRollback:
		if s.Tx == "" {
			return fmt.Errorf("%s requires tx", s.Do)
		}
	case StepBurst:
		if s.Type == "" || s.Docs <= 0 || s.Count <= 0 {
			return fmt.Errorf("burst requires type, docs and count")
		}
	case StepAdvance:
		if s.Duration <= 0 {
			return fmt.Errorf("advance requires a positive duration")
		}
	case StepCleanup, StepDrain, StepSync:
	default:
		return fmt.Errorf("unknown step %q", s.Do)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertCurrent, AssertAbsent, AssertListed, AssertRemoteCurrent, AssertRemoteAbsent:
		if a.Doc == "" || a.ID == "" {
			return fmt.Errorf("%s requires doc and id", a.Type)
		}
	case AssertMaxRowsPerWrite:
		if a.Count <= 0 {
			return fmt.Errorf("max_rows_per_write requires a positive count")
		}
	case AssertTxStatus:
		if a.Tx == "" || a.Status == "" {
			return fmt.Errorf("tx_status requires tx and status")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
