package flow

import (
	"github.com/taskflow/taskflow/internal/ir"
)

// Flow is a compiled flow definition: a set of named actions, each an
// ordered list of steps. Step order is significant and never changes
// after load - evaluation walks steps in declaration order.
type Flow struct {
	Name    string            `yaml:"name"`
	Actions map[string]Action `yaml:"actions"`

	// hash is the content hash of the definition, computed at load.
	hash string
}

// Action is one runnable entry point of a flow.
type Action struct {
	Steps []Step `yaml:"steps"`

	// Catch is the recovery branch. When the evaluator is entered with
	// system.status == "error", catch steps run first and may observe
	// system.last_error. If no catch branch exists the error is
	// terminal.
	Catch []Step `yaml:"catch,omitempty"`
}

// Step is a tagged union; exactly one field is set.
type Step struct {
	Patch  *PatchStep  `yaml:"patch,omitempty"`
	Effect *EffectStep `yaml:"effect,omitempty"`
	Halt   *HaltStep   `yaml:"halt,omitempty"`
	Fail   *FailStep   `yaml:"fail,omitempty"`
}

// PatchStep applies one value patch. Value is an expression: plain
// scalars are literals, "${...}" strings are evaluated against the
// snapshot, the intent input and the frozen host context.
type PatchStep struct {
	Op    string `yaml:"op"`
	Path  string `yaml:"path"`
	Value any    `yaml:"value,omitempty"`
}

// EffectStep raises an effect requirement when its guard passes.
// The guard is the re-entrancy contract: it must observe state the
// effect's result patches will change, so a fulfilled effect is not
// raised again on the next compute.
type EffectStep struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params,omitempty"`
	When   string         `yaml:"when,omitempty"`
}

// HaltStep stops the action with status "halted" when its guard passes.
type HaltStep struct {
	When string `yaml:"when,omitempty"`
}

// FailStep reports a domain-level error when its guard passes.
// Evaluator-reported errors are terminal.
type FailStep struct {
	Message string `yaml:"message"`
	When    string `yaml:"when,omitempty"`
}

// Status is the evaluator's verdict for one compute call.
type Status string

const (
	// StatusComplete means the action ran to the end of its steps.
	StatusComplete Status = "complete"
	// StatusHalted means a halt step fired.
	StatusHalted Status = "halted"
	// StatusPending means one or more effect requirements were raised.
	StatusPending Status = "pending"
	// StatusError means the flow reported a domain error, or was
	// entered with an unrecovered effect failure.
	StatusError Status = "error"
)

// StepTrace records one step decision for the compute trace.
type StepTrace struct {
	Position string `json:"position"`
	Kind     string `json:"kind"`
	Note     string `json:"note,omitempty"`
}

// Result is the outcome of one Compute call.
type Result struct {
	Status       Status
	Snapshot     ir.Snapshot
	Requirements []ir.Requirement
	Trace        []StepTrace
}

// Hash returns the content hash of the flow definition, recorded into
// snapshot meta as the schema hash.
func (f *Flow) Hash() string {
	return f.hash
}

// HasAction reports whether the flow defines the named action.
func (f *Flow) HasAction(name string) bool {
	_, ok := f.Actions[name]
	return ok
}

// EffectTypes returns the set of effect types the flow can raise.
// Used to validate the handler registry at startup.
func (f *Flow) EffectTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range sortedActionNames(f.Actions) {
		action := f.Actions[name]
		for _, step := range append(append([]Step{}, action.Steps...), action.Catch...) {
			if step.Effect != nil && !seen[step.Effect.Type] {
				seen[step.Effect.Type] = true
				out = append(out, step.Effect.Type)
			}
		}
	}
	return out
}
