package flow

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/taskflow/taskflow/internal/ir"
)

// Load reads and validates a flow definition from a YAML file.
func Load(path string) (*Flow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a flow definition from YAML bytes.
// The definition hash is computed here so every snapshot produced under
// this flow records the same schema hash.
func Parse(raw []byte) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse flow: %w", err)
	}
	if err := Validate(&f); err != nil {
		return nil, err
	}

	hash, err := hashDefinition(raw)
	if err != nil {
		return nil, fmt.Errorf("hash flow: %w", err)
	}
	f.hash = hash
	return &f, nil
}

// Validate checks a flow definition for structural problems that would
// otherwise only surface mid-execution.
func Validate(f *Flow) error {
	if f.Name == "" {
		return fmt.Errorf("flow has no name")
	}
	if len(f.Actions) == 0 {
		return fmt.Errorf("flow %q defines no actions", f.Name)
	}

	for _, name := range sortedActionNames(f.Actions) {
		action := f.Actions[name]
		if len(action.Steps) == 0 {
			return fmt.Errorf("action %q has no steps", name)
		}
		if err := validateSteps(name, action.Steps); err != nil {
			return err
		}
		if err := validateSteps(name+"/catch", action.Catch); err != nil {
			return err
		}
	}
	return nil
}

func validateSteps(prefix string, steps []Step) error {
	for i, step := range steps {
		pos := fmt.Sprintf("%s/%d", prefix, i)
		set := 0
		if step.Patch != nil {
			set++
			switch ir.PatchOp(step.Patch.Op) {
			case ir.OpSet, ir.OpUnset, ir.OpMerge:
			default:
				return fmt.Errorf("%s: unknown patch op %q", pos, step.Patch.Op)
			}
			if step.Patch.Path == "" {
				return fmt.Errorf("%s: patch has no path", pos)
			}
		}
		if step.Effect != nil {
			set++
			if step.Effect.Type == "" {
				return fmt.Errorf("%s: effect step has no type", pos)
			}
		}
		if step.Halt != nil {
			set++
		}
		if step.Fail != nil {
			set++
			if step.Fail.Message == "" {
				return fmt.Errorf("%s: fail step has no message", pos)
			}
		}
		if set != 1 {
			return fmt.Errorf("%s: step must set exactly one of patch/effect/halt/fail", pos)
		}
	}
	return nil
}

// hashDefinition canonicalizes the YAML document and content-hashes it.
// YAML integer scalars decode as int, which FromGo accepts; floats are
// rejected the same way they are everywhere else in the state model.
func hashDefinition(raw []byte) (string, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	obj, err := ir.FromGo(doc)
	if err != nil {
		return "", err
	}
	def, ok := obj.(ir.Object)
	if !ok {
		return "", fmt.Errorf("flow document is not a mapping")
	}
	return ir.FlowHash(def)
}

func sortedActionNames(actions map[string]Action) []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
