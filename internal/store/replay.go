package store

import (
	"context"
	"fmt"

	"github.com/taskflow/taskflow/internal/engine"
	"github.com/taskflow/taskflow/internal/ir"
)

// RecordedOutcome is one effect execution as the journal remembers it.
// Success outcomes carry the concrete patches the handler produced.
type RecordedOutcome struct {
	RequirementID string
	EffectType    string
	Success       bool
	Patches       []ir.Patch
	Code          string
	Message       string
}

// RecordedOutcomes extracts the effect outcomes of a recorded run, in
// execution order. Together with the intent id (which fixes the seed)
// and the recorded timestamps (which fix the clock), these are
// sufficient to re-run the intent deterministically without invoking
// any real handler.
func (s *Store) RecordedOutcomes(ctx context.Context, intentID string) ([]RecordedOutcome, error) {
	events, err := s.ReadTrace(ctx, intentID)
	if err != nil {
		return nil, err
	}

	outcomes := []RecordedOutcome{}
	for _, ev := range events {
		if ev.Type != engine.TraceEffect {
			continue
		}
		outcome, err := outcomeFromPayload(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("event %s/%d: %w", ev.IntentID, ev.Sequence, err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// RecordedIntent returns the action and input of a recorded run, taken
// from its first compute event. The bool reports whether the intent has
// a recorded compute.
func (s *Store) RecordedIntent(ctx context.Context, intentID string) (action string, input ir.Object, found bool, err error) {
	events, err := s.ReadTrace(ctx, intentID)
	if err != nil {
		return "", nil, false, err
	}
	for _, ev := range events {
		if ev.Type != engine.TraceCompute {
			continue
		}
		a, _ := ev.Payload["action"].(ir.String)
		in, _ := ev.Payload["input"].(ir.Object)
		if in == nil {
			in = ir.Object{}
		}
		return string(a), in, true, nil
	}
	return "", nil, false, nil
}

// RecordedTimestamp returns the frozen-context timestamp of a recorded
// run, taken from its first trace event. The bool reports whether the
// intent has any recorded events.
func (s *Store) RecordedTimestamp(ctx context.Context, intentID string) (int64, bool, error) {
	events, err := s.ReadTrace(ctx, intentID)
	if err != nil {
		return 0, false, err
	}
	if len(events) == 0 {
		return 0, false, nil
	}
	return events[0].Timestamp, true, nil
}

func outcomeFromPayload(payload ir.Object) (RecordedOutcome, error) {
	out := RecordedOutcome{}

	if s, ok := payload["requirement_id"].(ir.String); ok {
		out.RequirementID = string(s)
	}
	if s, ok := payload["effect_type"].(ir.String); ok {
		out.EffectType = string(s)
	}
	success, ok := payload["success"].(ir.Bool)
	if !ok {
		return out, fmt.Errorf("effect payload has no success flag")
	}
	out.Success = bool(success)

	if !out.Success {
		if s, ok := payload["code"].(ir.String); ok {
			out.Code = string(s)
		}
		if s, ok := payload["message"].(ir.String); ok {
			out.Message = string(s)
		}
		return out, nil
	}

	patches, _ := payload["patches"].(ir.Array)
	for i, p := range patches {
		obj, ok := p.(ir.Object)
		if !ok {
			return out, fmt.Errorf("patch %d is not an object", i)
		}
		patch, err := engine.PatchFromObject(obj)
		if err != nil {
			return out, fmt.Errorf("patch %d: %w", i, err)
		}
		out.Patches = append(out.Patches, patch)
	}
	return out, nil
}

// ReplayHandlers builds an effect-handler set that replays recorded
// outcomes instead of doing real work. Each effect type's outcomes are
// served in recorded order; a run that diverges from the recording
// (asks for more outcomes than were recorded) fails the effect, which
// surfaces the divergence as a terminal error rather than silently
// inventing results.
func ReplayHandlers(outcomes []RecordedOutcome) map[string]engine.EffectHandler {
	byType := make(map[string][]RecordedOutcome)
	for _, o := range outcomes {
		byType[o.EffectType] = append(byType[o.EffectType], o)
	}

	handlers := make(map[string]engine.EffectHandler, len(byType))
	for effectType := range byType {
		queue := byType[effectType]
		idx := 0
		handlers[effectType] = func(ctx context.Context, req ir.Requirement, snap ir.Snapshot, hc ir.HostContext) (any, error) {
			if idx >= len(queue) {
				return nil, fmt.Errorf("replay divergence: no recorded outcome left for effect %q", req.EffectType)
			}
			o := queue[idx]
			idx++
			if !o.Success {
				return nil, fmt.Errorf("%s", o.Message)
			}
			return o.Patches, nil
		}
	}
	return handlers
}
