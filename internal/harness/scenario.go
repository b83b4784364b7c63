package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/oplog"
)

// Mode selects the oplog service a scenario runs against.
type Mode string

const (
	// ModePrimary runs against a bare primary service.
	ModePrimary Mode = "primary"

	// ModeMultiLayer runs against a durable multi-layer oplog with an
	// indexed and a blob archive layer.
	ModeMultiLayer Mode = "multilayer"

	// ModeEphemeral runs against an ephemeral oplog writing to the blob
	// archive layer.
	ModeEphemeral Mode = "ephemeral"
)

// Scenario is a scripted sequence of oplog operations on one worker. The
// worker's oplog is created before the first step and closed after the
// last; the committed result is then read back and verified.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description"`

	// Worker is the worker name. Defaults to "worker-1".
	Worker string `yaml:"worker,omitempty"`

	// Mode defaults to primary.
	Mode Mode `yaml:"mode,omitempty"`

	// MaxOperationsBeforeCommit is the buffer size of the primary oplog, or
	// of the ephemeral oplog in ephemeral mode. Zero keeps the default.
	MaxOperationsBeforeCommit uint64 `yaml:"max_operations_before_commit,omitempty"`

	// EntryCountLimit is the per-layer transfer threshold in multilayer
	// mode. Zero keeps the default.
	EntryCountLimit uint64 `yaml:"entry_count_limit,omitempty"`

	Steps []Step `yaml:"steps"`

	// ExpectVerified is whether replaying the final oplog must find no
	// violations. Defaults to true.
	ExpectVerified *bool `yaml:"expect_verified,omitempty"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step performs exactly one action.
type Step struct {
	// Add appends an entry of the named kind.
	Add string `yaml:"add,omitempty"`

	// Begin is the begin index referenced by region end markers and
	// batched or transactional writes.
	Begin uint64 `yaml:"begin,omitempty"`

	// Message is the text of a Log entry.
	Message string `yaml:"message,omitempty"`

	// Level is the persistence level of a ChangePersistenceLevel entry.
	Level string `yaml:"level,omitempty"`

	// Revision is the target revision of a SuccessfulUpdate entry.
	Revision uint64 `yaml:"revision,omitempty"`

	// Commit commits at the named level.
	Commit string `yaml:"commit,omitempty"`

	// DropPrefix drops every committed entry up to this index.
	DropPrefix *uint64 `yaml:"drop_prefix,omitempty"`

	// Archive moves one layer down and waits for the transfer.
	Archive bool `yaml:"archive,omitempty"`

	// ExpectLength checks the number of committed entries still stored.
	ExpectLength *uint64 `yaml:"expect_length,omitempty"`

	// ExpectIndex checks the last assigned index.
	ExpectIndex *uint64 `yaml:"expect_index,omitempty"`
}

// Assertion checks the oplog after the scenario closed it.
type Assertion struct {
	// Type is one of entry_kind, last_index, entry_count, violation or
	// consistent.
	Type string `yaml:"type"`

	// Index is used by entry_kind, last_index and violation.
	Index uint64 `yaml:"index,omitempty"`

	// Kind is the expected entry kind (entry_kind).
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number of entries (entry_count).
	Count int `yaml:"count,omitempty"`

	// Code is the expected violation code (violation).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertEntryKind  = "entry_kind"
	AssertLastIndex  = "last_index"
	AssertEntryCount = "entry_count"
	AssertViolation  = "violation"
	AssertConsistent = "consistent"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

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

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, &ScenarioNotFoundError{Path: dir}
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// ScenarioNotFoundError is returned when a directory holds no scenarios.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("no scenario files found in %s", e.Path)
}

// addKinds are the entry kinds a step can add.
var addKinds = map[string]bool{
	string(model.KindNoOp):                        true,
	string(model.KindLog):                         true,
	string(model.KindExportedFunctionInvoked):     true,
	string(model.KindExportedFunctionCompleted):   true,
	string(model.KindBeginAtomicRegion):           true,
	string(model.KindEndAtomicRegion):             true,
	string(model.KindBeginRemoteWrite):            true,
	string(model.KindEndRemoteWrite):              true,
	string(model.KindBeginRemoteTransaction):      true,
	string(model.KindPreCommitRemoteTransaction):  true,
	string(model.KindCommittedRemoteTransaction):  true,
	string(model.KindRolledBackRemoteTransaction): true,
	string(model.KindChangePersistenceLevel):      true,
	string(model.KindSuccessfulUpdate):            true,
	string(model.ReadLocal):                       true,
	string(model.WriteLocal):                      true,
	string(model.ReadRemote):                      true,
	string(model.WriteRemote):                     true,
	string(model.WriteRemoteBatched):              true,
	string(model.WriteRemoteTransaction):          true,
}

// needsBegin lists kinds that reference a begin index.
var needsBegin = map[string]bool{
	string(model.KindEndAtomicRegion):             true,
	string(model.KindEndRemoteWrite):              true,
	string(model.KindPreCommitRemoteTransaction):  true,
	string(model.KindCommittedRemoteTransaction):  true,
	string(model.KindRolledBackRemoteTransaction): true,
	string(model.WriteRemoteBatched):              true,
	string(model.WriteRemoteTransaction):          true,
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch s.Mode {
	case "", ModePrimary, ModeMultiLayer, ModeEphemeral:
	default:
		return fmt.Errorf("unknown mode %q", s.Mode)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(s.mode(), step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(mode Mode, step Step) error {
	actions := 0
	for _, set := range []bool{
		step.Add != "",
		step.Commit != "",
		step.DropPrefix != nil,
		step.Archive,
		step.ExpectLength != nil,
		step.ExpectIndex != nil,
	} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("exactly one action is required, found %d", actions)
	}

	switch {
	case step.Add != "":
		if !addKinds[step.Add] {
			return fmt.Errorf("unknown entry kind %q", step.Add)
		}
		if needsBegin[step.Add] && step.Begin == 0 {
			return fmt.Errorf("%s requires begin", step.Add)
		}
		if step.Add == string(model.KindChangePersistenceLevel) {
			if _, err := model.ParsePersistenceLevel(step.Level); err != nil {
				return err
			}
		}
	case step.Commit != "":
		if _, err := oplog.ParseCommitLevel(step.Commit); err != nil {
			return err
		}
	case step.Archive:
		if mode != ModeMultiLayer {
			return fmt.Errorf("archive requires multilayer mode")
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertEntryKind:
		if a.Index == 0 || a.Kind == "" {
			return fmt.Errorf("assertions[%d]: index and kind are required for entry_kind", index)
		}
	case AssertLastIndex:
	case AssertEntryCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for entry_count", index)
		}
	case AssertViolation:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for violation", index)
		}
	case AssertConsistent:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func (s *Scenario) mode() Mode {
	if s.Mode == "" {
		return ModePrimary
	}
	return s.Mode
}

func (s *Scenario) worker() string {
	if s.Worker == "" {
		return "worker-1"
	}
	return s.Worker
}

func (s *Scenario) expectVerified() bool {
	return s.ExpectVerified == nil || *s.ExpectVerified
}
