package ir

import (
	"fmt"
	"strings"
)

// PatchOp enumerates the value-level mutations a patch can perform.
type PatchOp string

const (
	// OpSet writes a concrete value at a path, creating intermediate
	// objects as needed.
	OpSet PatchOp = "set"
	// OpUnset removes the key at a path. Removing a missing key is a
	// no-op.
	OpUnset PatchOp = "unset"
	// OpMerge merges an object's keys into the object at a path.
	// Nested objects merge recursively; other values overwrite.
	OpMerge PatchOp = "merge"
)

// Patch is a concrete value-level state mutation. Patches carry
// evaluated values, never expressions: expression evaluation is the
// evaluator's job alone.
type Patch struct {
	Op    PatchOp `json:"op"`
	Path  string  `json:"path"`
	Value Value   `json:"value,omitempty"`
}

// Set builds a set patch.
func Set(path string, value Value) Patch {
	return Patch{Op: OpSet, Path: path, Value: value}
}

// Unset builds an unset patch.
func Unset(path string) Patch {
	return Patch{Op: OpUnset, Path: path}
}

// Merge builds a merge patch.
func Merge(path string, value Object) Patch {
	return Patch{Op: OpMerge, Path: path, Value: value}
}

// splitPath resolves a dotted patch path against a snapshot's sections.
// Paths beginning with "data", "computed" or "system" address that
// section explicitly; bare paths are relative to data, which is what
// effect handlers produce ("response" means "data.response").
func splitPath(path string) (section string, segments []string, err error) {
	if path == "" {
		return "", nil, fmt.Errorf("empty patch path")
	}
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "data", "computed", "system":
		return parts[0], parts[1:], nil
	default:
		return "data", parts, nil
	}
}

// setAtPath writes value into obj at the dotted path, creating
// intermediate objects. Mutates obj; callers clone first.
func setAtPath(obj Object, segments []string, value Value) error {
	if len(segments) == 0 {
		return fmt.Errorf("set: path addresses a whole section")
	}
	cur := obj
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg].(Object)
		if !ok {
			next = Object{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segments[len(segments)-1]] = value
	return nil
}

// unsetAtPath removes the key at the dotted path. Missing intermediate
// keys make the whole unset a no-op.
func unsetAtPath(obj Object, segments []string) {
	if len(segments) == 0 {
		return
	}
	cur := obj
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg].(Object)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, segments[len(segments)-1])
}

// getAtPath reads the value at the dotted path.
func getAtPath(obj Object, segments []string) (Value, bool) {
	if len(segments) == 0 {
		return obj, true
	}
	cur := obj
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg].(Object)
		if !ok {
			return nil, false
		}
		cur = next
	}
	v, ok := cur[segments[len(segments)-1]]
	return v, ok
}

// mergeAtPath merges src into the object at the dotted path. A missing
// target object is created. Non-object targets are replaced.
func mergeAtPath(obj Object, segments []string, src Object) error {
	if len(segments) == 0 {
		mergeObjects(obj, src)
		return nil
	}
	cur := obj
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg].(Object)
		if !ok {
			next = Object{}
			cur[seg] = next
		}
		cur = next
	}
	key := segments[len(segments)-1]
	target, ok := cur[key].(Object)
	if !ok {
		target = Object{}
		cur[key] = target
	}
	mergeObjects(target, src)
	return nil
}

// mergeObjects merges src into dst. Nested objects merge recursively;
// all other values overwrite.
func mergeObjects(dst, src Object) {
	for k, v := range src {
		if srcObj, ok := v.(Object); ok {
			if dstObj, ok := dst[k].(Object); ok {
				mergeObjects(dstObj, srcObj)
				continue
			}
		}
		dst[k] = cloneValue(v)
	}
}

// Lookup reads a dotted path from the snapshot. Bare paths resolve
// against data, the same rule patches follow. System paths support the
// structured fields the flow language can observe: system.status,
// system.last_error.message, system.last_error.code.
func (s Snapshot) Lookup(path string) (Value, bool) {
	section, segments, err := splitPath(path)
	if err != nil {
		return nil, false
	}
	switch section {
	case "data":
		return getAtPath(s.Data, segments)
	case "computed":
		return getAtPath(s.Computed, segments)
	case "system":
		return s.lookupSystem(segments)
	}
	return nil, false
}

func (s Snapshot) lookupSystem(segments []string) (Value, bool) {
	if len(segments) == 0 {
		return nil, false
	}
	switch segments[0] {
	case "status":
		return String(s.System.Status), true
	case "current_action":
		return String(s.System.CurrentAction), true
	case "last_error":
		if s.System.LastError == nil {
			return Null{}, true
		}
		if len(segments) == 1 {
			return errorInfoObject(*s.System.LastError), true
		}
		return getAtPath(errorInfoObject(*s.System.LastError), segments[1:])
	}
	return nil, false
}
