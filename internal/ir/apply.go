package ir

import (
	"fmt"
)

// Error codes recorded on system.last_error.
const (
	ErrCodeEffectFailed   = "EFFECT_FAILED"
	ErrCodeHandlerMissing = "HANDLER_MISSING"
	ErrCodeHandlerPanic   = "HANDLER_PANIC"
)

// ApplyPatches produces the next snapshot from the current one plus a
// patch list. The input snapshot is never mutated. The new snapshot's
// meta is stamped from the frozen host context: this call is only ever
// made with the context established at StartIntent, so replaying the
// same intent yields byte-identical meta.
//
// After all patches apply, the requirement/status invariant is
// re-established: a snapshot with pending requirements is "pending",
// and a "pending" snapshot without requirements reverts to "idle".
// An explicit "error" status survives normalization so the flow can
// observe it on the next compute.
func ApplyPatches(s Snapshot, patches []Patch, hc HostContext) (Snapshot, error) {
	next := s.Clone()

	for i, p := range patches {
		if err := applyOne(&next, p); err != nil {
			return Snapshot{}, fmt.Errorf("patch %d (%s %s): %w", i, p.Op, p.Path, err)
		}
	}

	normalizeStatus(&next.System)

	next.Meta.Version = s.Meta.Version + 1
	next.Meta.Timestamp = hc.Now.UnixMilli()
	next.Meta.RandomSeed = hc.RandomSeed

	return next, nil
}

func applyOne(s *Snapshot, p Patch) error {
	section, segments, err := splitPath(p.Path)
	if err != nil {
		return err
	}

	if section == "system" {
		return applySystem(s, p, segments)
	}

	target := s.Data
	if section == "computed" {
		target = s.Computed
	}

	switch p.Op {
	case OpSet:
		return setAtPath(target, segments, cloneValue(p.Value))
	case OpUnset:
		unsetAtPath(target, segments)
		return nil
	case OpMerge:
		obj, ok := p.Value.(Object)
		if !ok {
			return fmt.Errorf("merge requires an object value, got %T", p.Value)
		}
		return mergeAtPath(target, segments, obj)
	default:
		return fmt.Errorf("unknown patch op %q", p.Op)
	}
}

// applySystem handles the closed set of system paths patches may touch.
// Arbitrary writes into system are rejected: the host owns that section.
func applySystem(s *Snapshot, p Patch, segments []string) error {
	if len(segments) == 0 {
		return fmt.Errorf("cannot patch the whole system section")
	}

	switch segments[0] {
	case "status":
		str, ok := p.Value.(String)
		if !ok || p.Op != OpSet {
			return fmt.Errorf("system.status only supports set with a string value")
		}
		s.System.Status = Status(str)
		return nil

	case "current_action":
		if p.Op == OpUnset {
			s.System.CurrentAction = ""
			return nil
		}
		str, ok := p.Value.(String)
		if !ok {
			return fmt.Errorf("system.current_action requires a string value")
		}
		s.System.CurrentAction = string(str)
		return nil

	case "last_error":
		switch p.Op {
		case OpUnset:
			s.System.LastError = nil
			return nil
		case OpSet:
			info, err := errorInfoFromValue(p.Value)
			if err != nil {
				return err
			}
			s.System.LastError = &info
			// Every recorded failure also lands in the history.
			s.System.Errors = append(s.System.Errors, info)
			return nil
		default:
			return fmt.Errorf("system.last_error only supports set/unset")
		}

	case "pending_requirements":
		if p.Op != OpUnset || len(segments) != 2 {
			return fmt.Errorf("system.pending_requirements only supports unset by requirement id")
		}
		s.System.PendingRequirements = removeRequirement(s.System.PendingRequirements, segments[1])
		return nil

	default:
		return fmt.Errorf("system path %q is not patchable", p.Path)
	}
}

func removeRequirement(reqs []Requirement, id string) []Requirement {
	out := reqs[:0]
	for _, r := range reqs {
		if r.ID != id {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func errorInfoFromValue(v Value) (ErrorInfo, error) {
	obj, ok := v.(Object)
	if !ok {
		return ErrorInfo{}, fmt.Errorf("system.last_error requires an object value")
	}
	info := ErrorInfo{}
	if s, ok := obj["code"].(String); ok {
		info.Code = string(s)
	}
	if s, ok := obj["message"].(String); ok {
		info.Message = string(s)
	}
	if s, ok := obj["effect_type"].(String); ok {
		info.EffectType = string(s)
	}
	if s, ok := obj["requirement_id"].(String); ok {
		info.RequirementID = string(s)
	}
	return info, nil
}

// normalizeStatus re-establishes the requirement/status invariant after
// a patch set has been applied.
func normalizeStatus(sys *SystemState) {
	if len(sys.PendingRequirements) > 0 {
		if sys.Status == StatusIdle {
			sys.Status = StatusPending
		}
		return
	}
	if sys.Status == StatusPending {
		sys.Status = StatusIdle
	}
}

// ClearRequirementPatches builds the patch that removes a fulfilled
// requirement. Applied atomically together with the effect's result
// patches.
func ClearRequirementPatches(requirementID string) []Patch {
	return []Patch{Unset("system.pending_requirements." + requirementID)}
}

// FailurePatches builds the patch set recording an effect failure: a
// structured error onto system.last_error (and the errors history, via
// the apply layer), the requirement cleared, and status forced to
// "error" so the flow can observe the failure on the next compute.
func FailurePatches(req Requirement, code, message string) []Patch {
	errObj := Object{
		"code":           String(code),
		"message":        String(message),
		"effect_type":    String(req.EffectType),
		"requirement_id": String(req.ID),
	}
	return []Patch{
		Set("system.last_error", errObj),
		Set("system.status", String(StatusError)),
		Unset("system.pending_requirements." + req.ID),
	}
}

// WithRequirements returns a snapshot carrying the given pending
// requirements. Used by the evaluator when a compute step raises
// effects; the host never invents requirements itself.
func WithRequirements(s Snapshot, reqs []Requirement, hc HostContext) Snapshot {
	next := s.Clone()
	next.System.PendingRequirements = append(next.System.PendingRequirements, reqs...)
	normalizeStatus(&next.System)
	next.Meta.Version = s.Meta.Version + 1
	next.Meta.Timestamp = hc.Now.UnixMilli()
	next.Meta.RandomSeed = hc.RandomSeed
	return next
}
