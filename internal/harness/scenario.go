package harness

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance test: a flow, scripted handlers,
// intents to dispatch, and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. Also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Flow is the path to the flow YAML, relative to the scenario file.
	Flow string `yaml:"flow"`

	// ExecutionKey scopes the run. Defaults to "scenario".
	ExecutionKey string `yaml:"execution_key,omitempty"`

	// SeedData is the initial snapshot data for the execution key.
	SeedData map[string]any `yaml:"seed_data,omitempty"`

	// IntentIDs are fixed ids handed out in dispatch order. Required
	// for deterministic traces; defaults to intent-1, intent-2, ...
	IntentIDs []string `yaml:"intent_ids,omitempty"`

	// MaxIterations overrides the engine's iteration ceiling.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// Handlers scripts effect outcomes per effect type. Outcomes are
	// served in order; the last one repeats once exhausted.
	Handlers map[string][]HandlerOutcome `yaml:"handlers,omitempty"`

	// Dispatch is the ordered list of intents to run.
	Dispatch []DispatchStep `yaml:"dispatch"`

	// Assertions validate the final snapshot and the trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// HandlerOutcome scripts one effect invocation's result.
type HandlerOutcome struct {
	// Patches are the success patches (op/path/value maps).
	Patches []PatchSpec `yaml:"patches,omitempty"`

	// Error, when non-empty, makes the invocation fail with this
	// message instead of returning patches.
	Error string `yaml:"error,omitempty"`

	// Panic, when non-empty, makes the handler panic with this value.
	Panic string `yaml:"panic,omitempty"`
}

// PatchSpec is the YAML form of one patch.
type PatchSpec struct {
	Op    string `yaml:"op"`
	Path  string `yaml:"path"`
	Value any    `yaml:"value,omitempty"`
}

// DispatchStep runs one intent.
type DispatchStep struct {
	Action string         `yaml:"action"`
	Input  map[string]any `yaml:"input,omitempty"`

	// Expect optionally pins the terminal status of this dispatch
	// (complete, halted, error).
	Expect string `yaml:"expect,omitempty"`
}

// Assertion validates one property of the outcome.
type Assertion struct {
	Type string `yaml:"type"`

	// status
	Value any `yaml:"value,omitempty"`

	// final_state
	Path string `yaml:"path,omitempty"`

	// trace_count
	Event string `yaml:"event,omitempty"` // "compute", "effect" or "effect:<type>"
	Count int    `yaml:"count,omitempty"`

	// trace_order
	Events []string `yaml:"events,omitempty"`
}

// LoadScenario reads a scenario from a YAML file. The flow path is
// resolved relative to the scenario file's directory.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s has no name", path)
	}
	if sc.Flow == "" {
		return nil, fmt.Errorf("scenario %q names no flow", sc.Name)
	}
	if len(sc.Dispatch) == 0 {
		return nil, fmt.Errorf("scenario %q dispatches nothing", sc.Name)
	}

	if !filepath.IsAbs(sc.Flow) {
		sc.Flow = filepath.Join(filepath.Dir(path), sc.Flow)
	}
	if sc.ExecutionKey == "" {
		sc.ExecutionKey = "scenario"
	}
	return &sc, nil
}
