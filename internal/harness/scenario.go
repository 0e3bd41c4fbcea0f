package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario is a declarative cascade test: load component declarations,
// create instances, queue events, drain, then assert on the trace and the
// final instance records.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Specs is the directory holding the CUE component declarations.
	// A relative path is resolved against the scenario file's directory.
	Specs string `yaml:"specs"`

	// Order, when set, is the component creation order. Instances are then
	// created with ordered-creation checks.
	Order []string `yaml:"order,omitempty"`

	Instances []InstanceStep `yaml:"instances"`
	Events    []EventStep    `yaml:"events"`

	// MaxSteps bounds the drain. Zero means unbounded.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// ExpectError, when set, must be a substring of the setup or drain
	// error. A run that errors without it fails.
	ExpectError string `yaml:"expect_error,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// InstanceStep creates one instance.
type InstanceStep struct {
	Component string         `yaml:"component"`
	ID        string         `yaml:"id"`
	Data      map[string]any `yaml:"data,omitempty"`

	// Parent is an instance id in the component's declared parent, or in
	// ParentComponent when that is set.
	Parent          string `yaml:"parent,omitempty"`
	ParentComponent string `yaml:"parent_component,omitempty"`
}

// EventStep queues one event.
type EventStep struct {
	Component string         `yaml:"component"`
	Instance  string         `yaml:"instance"`
	Event     string         `yaml:"event"`
	Payload   map[string]any `yaml:"payload,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Event is "component.EVENT" (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Events is the expected subsequence (trace_order).
	Events []string `yaml:"events,omitempty"`

	Component string `yaml:"component,omitempty"`
	Instance  string `yaml:"instance,omitempty"`

	// Payload is a subset match on the dispatched payload (trace_contains).
	Payload map[string]any `yaml:"payload,omitempty"`

	Outcome    string `yaml:"outcome,omitempty"`
	Propagated *bool  `yaml:"propagated,omitempty"`

	// Expect is a subset match on the instance record (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	Count int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertInstanceCount = "instance_count"
)

// LoadScenario reads a scenario file, resolving Specs against its directory.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads a scenario file, resolving a relative Specs
// directory against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, basePath)
}

// ParseScenario decodes scenario YAML.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Specs != "" && !filepath.IsAbs(scenario.Specs) && basePath != "" {
		scenario.Specs = filepath.Join(basePath, scenario.Specs)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Specs == "" {
		return fmt.Errorf("specs directory is required")
	}
	if info, err := os.Stat(s.Specs); err != nil || !info.IsDir() {
		return fmt.Errorf("specs directory not found: %s", s.Specs)
	}
	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}
	if len(s.Assertions) == 0 && s.ExpectError == "" {
		return fmt.Errorf("assertions list is required unless expect_error is set")
	}

	for i, inst := range s.Instances {
		if inst.Component == "" {
			return fmt.Errorf("instances[%d]: component is required", i)
		}
		if inst.ID == "" {
			return fmt.Errorf("instances[%d]: id is required", i)
		}
		if inst.ParentComponent != "" && inst.Parent == "" {
			return fmt.Errorf("instances[%d]: parent_component needs parent", i)
		}
		if len(s.Order) > 0 && !slices.Contains(s.Order, inst.Component) {
			return fmt.Errorf("instances[%d]: component %q is not in order", i, inst.Component)
		}
	}

	for i, ev := range s.Events {
		if ev.Component == "" || ev.Instance == "" || ev.Event == "" {
			return fmt.Errorf("events[%d]: component, instance and event are required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertFinalState:
		if a.Component == "" || a.Instance == "" {
			return fmt.Errorf("assertions[%d]: component and instance are required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertInstanceCount:
		if a.Component == "" {
			return fmt.Errorf("assertions[%d]: component is required for instance_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
