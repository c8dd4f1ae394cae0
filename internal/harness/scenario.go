package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one allocation conformance test.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// KindNamePrefix overrides the allocator's kind prefix.
	KindNamePrefix string `yaml:"kind_name_prefix,omitempty"`

	// RetryBudget is a Go duration; empty means 2s.
	RetryBudget string `yaml:"retry_budget,omitempty"`

	// Conflicts makes the first N commits fail with a write conflict.
	Conflicts int `yaml:"conflicts,omitempty"`

	// AlwaysConflict makes every commit fail with a write conflict.
	AlwaysConflict bool `yaml:"always_conflict,omitempty"`

	Seed       Seed        `yaml:"seed,omitempty"`
	Flow       []FlowStep  `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions"`
}

// Seed holds records written before the flow starts.
type Seed struct {
	Counters  []SeedCounter  `yaml:"counters,omitempty"`
	Issuances []SeedIssuance `yaml:"issuances,omitempty"`
}

// SeedCounter is a series counter to pre-create.
type SeedCounter struct {
	Prefix string `yaml:"prefix"`
	LastID int64  `yaml:"last_id"`
}

// SeedIssuance is an issuance record to pre-create.
type SeedIssuance struct {
	Prefix     string `yaml:"prefix"`
	Designator string `yaml:"designator"`
	ID         int64  `yaml:"id"`
}

// FlowStep is one operation.
type FlowStep struct {
	// Op is "allocate" or "series".
	Op     string `yaml:"op"`
	Prefix string `yaml:"prefix"`

	// InitialID defaults to 1.
	InitialID *int64 `yaml:"initial_id,omitempty"`

	// Count repeats an allocation; 0 means 1.
	Count int `yaml:"count,omitempty"`

	// Concurrent runs the Count allocations in parallel.
	Concurrent bool `yaml:"concurrent,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause checks a step's outcome.
type ExpectClause struct {
	// Designators is the issued list; for concurrent steps, sorted.
	Designators []string `yaml:"designators,omitempty"`

	// Error is the expected error code.
	Error string `yaml:"error,omitempty"`

	// LastID is the expected counter value of a series step.
	LastID *int64 `yaml:"last_id,omitempty"`
}

// Assertion validates the whole trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type   string `yaml:"type"`
	Prefix string `yaml:"prefix,omitempty"`
	From   int64  `yaml:"from,omitempty"`
	Count  int    `yaml:"count,omitempty"`
	LastID int64  `yaml:"last_id,omitempty"`
}

// Flow step operations.
const (
	OpAllocate = "allocate"
	OpSeries   = "series"
)

// Assertion type constants.
const (
	// AssertUnique: no designator appears twice in the trace.
	AssertUnique = "unique"
	// AssertIssuedCount: prefix issued exactly count designators.
	AssertIssuedCount = "issued_count"
	// AssertContiguous: prefix issued exactly from..from+count-1.
	AssertContiguous = "contiguous"
	// AssertFinalCounter: the stored counter of prefix ends at last_id.
	AssertFinalCounter = "final_counter"
)

const defaultRetryBudget = 2 * time.Second

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func (s *Scenario) retryBudget() (time.Duration, error) {
	if s.RetryBudget == "" {
		return defaultRetryBudget, nil
	}
	return time.ParseDuration(s.RetryBudget)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if d, err := s.retryBudget(); err != nil || d <= 0 {
		return fmt.Errorf("retry_budget %q must be a positive duration", s.RetryBudget)
	}
	if s.Conflicts < 0 {
		return fmt.Errorf("conflicts must be non-negative")
	}

	for i, step := range s.Flow {
		switch step.Op {
		case OpAllocate:
			if step.Count < 0 {
				return fmt.Errorf("flow[%d]: count must be non-negative", i)
			}
		case OpSeries:
			if step.Count != 0 || step.Concurrent || step.InitialID != nil {
				return fmt.Errorf("flow[%d]: series takes only a prefix", i)
			}
		case "":
			return fmt.Errorf("flow[%d]: op is required", i)
		default:
			return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertUnique:
	case AssertIssuedCount, AssertContiguous:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertFinalCounter:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
