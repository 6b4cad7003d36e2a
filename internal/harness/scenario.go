package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/depflow/internal/compiler"
	"github.com/roach88/depflow/internal/ir"
)

// Scenario defines a runtime test scenario: a dependency set, scripted
// backend responses, a sequence of dispatches, and assertions on what the
// manager did.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Declarations is a path to a declaration file or CUE directory.
	// Relative paths resolve against the scenario file location.
	Declarations string `yaml:"declarations,omitempty"`

	// Dependencies declares the dependency set inline. Used when
	// Declarations is empty.
	Dependencies []ir.Declaration `yaml:"dependencies,omitempty"`

	// InitialState seeds the component state store.
	InitialState map[int]map[string]any `yaml:"initial_state,omitempty"`

	// Responses script the backend, in order per function index.
	// A backend call with nothing scripted completes with no data.
	Responses []Response `yaml:"responses,omitempty"`

	// Steps are executed in order. Each dispatch is drained before the
	// next step runs.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`

	// MaxSteps overrides the per-dispatch chain quota.
	MaxSteps int `yaml:"max_steps,omitempty"`
}

// Response is one scripted backend submission.
type Response struct {
	// Fn is the dependency id the response answers.
	Fn int `yaml:"fn"`

	// Messages are yielded in order, then the submission ends.
	Messages []ir.Message `yaml:"messages,omitempty"`

	// Error, when set, makes the submission fail with a transport error
	// after Messages.
	Error string `yaml:"error,omitempty"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	// Dispatch feeds an event to the manager.
	Dispatch *ir.DispatchEvent `yaml:"dispatch,omitempty"`

	// SetState overwrites a component's state without recording history.
	SetState *StateStep `yaml:"set_state,omitempty"`
}

// StateStep overwrites one component's state.
type StateStep struct {
	ID    int            `yaml:"id"`
	State map[string]any `yaml:"state"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "state": component state contains Expect (subset match)
	// - "submit_count": Fn was submitted exactly Count times
	// - "call_order": first submissions of Fns happen in order
	// - "submit_data": the Nth (Index) submission of Fn carried Data
	// - "stage": the last status stage of Fn is Stage
	// - "notified": a notification with Title (and Message if set) was raised
	// - "api_calls": the audit log holds Count calls (of Fn when set)
	// - "update_count": component was patched exactly Count times
	Type string `yaml:"type"`

	Fn        *int           `yaml:"fn,omitempty"`
	Fns       []int          `yaml:"fns,omitempty"`
	Component *int           `yaml:"component,omitempty"`
	Expect    map[string]any `yaml:"expect,omitempty"`
	Count     int            `yaml:"count,omitempty"`
	Index     int            `yaml:"index,omitempty"`
	Data      []any          `yaml:"data,omitempty"`
	Stage     ir.Stage       `yaml:"stage,omitempty"`
	Title     string         `yaml:"title,omitempty"`
	Message   string         `yaml:"message,omitempty"`
}

// Assertion type constants.
const (
	AssertState       = "state"
	AssertSubmitCount = "submit_count"
	AssertCallOrder   = "call_order"
	AssertSubmitData  = "submit_data"
	AssertStage       = "stage"
	AssertNotified    = "notified"
	AssertAPICalls    = "api_calls"
	AssertUpdateCount = "update_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
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

	if scenario.Declarations != "" && !filepath.IsAbs(scenario.Declarations) {
		scenario.Declarations = filepath.Join(filepath.Dir(path), scenario.Declarations)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadScenarios loads every *.yaml scenario in dir, ordered by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}

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

// resolveDeclarations returns the scenario's dependency set.
func (s *Scenario) resolveDeclarations() ([]ir.Declaration, error) {
	if s.Declarations != "" {
		return compiler.Load(s.Declarations)
	}
	return s.Dependencies, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Declarations == "" && len(s.Dependencies) == 0 {
		return fmt.Errorf("declarations or dependencies is required")
	}
	if s.Declarations != "" && len(s.Dependencies) > 0 {
		return fmt.Errorf("declarations and dependencies are mutually exclusive")
	}
	if s.Declarations != "" {
		if _, err := os.Stat(s.Declarations); os.IsNotExist(err) {
			return fmt.Errorf("declarations not found: %s", s.Declarations)
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		switch {
		case step.Dispatch != nil && step.SetState != nil:
			return fmt.Errorf("steps[%d]: dispatch and set_state are mutually exclusive", i)
		case step.Dispatch != nil:
			if err := validateDispatch(step.Dispatch); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		case step.SetState == nil:
			return fmt.Errorf("steps[%d]: dispatch or set_state is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateDispatch(ev *ir.DispatchEvent) error {
	switch ev.Type {
	case ir.DispatchTypeFn:
		return nil
	case ir.DispatchTypeEvent:
		if ev.EventName == "" {
			return fmt.Errorf("event dispatch requires event_name")
		}
		if ev.TargetID == nil {
			return fmt.Errorf("event dispatch requires target_id")
		}
		return nil
	default:
		return fmt.Errorf("unknown dispatch type %q", ev.Type)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertState:
		if a.Component == nil {
			return fmt.Errorf("assertions[%d]: component is required for state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for state", index)
		}
	case AssertSubmitCount, AssertSubmitData, AssertStage:
		if a.Fn == nil {
			return fmt.Errorf("assertions[%d]: fn is required for %s", index, a.Type)
		}
		if a.Type == AssertStage && a.Stage == "" {
			return fmt.Errorf("assertions[%d]: stage is required for stage", index)
		}
	case AssertCallOrder:
		if len(a.Fns) == 0 {
			return fmt.Errorf("assertions[%d]: fns list is required for call_order", index)
		}
	case AssertNotified:
		if a.Title == "" {
			return fmt.Errorf("assertions[%d]: title is required for notified", index)
		}
	case AssertAPICalls:
	case AssertUpdateCount:
		if a.Component == nil {
			return fmt.Errorf("assertions[%d]: component is required for update_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
