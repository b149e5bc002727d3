package engine

import (
	"context"
	"fmt"

	"github.com/taskflow/taskflow/internal/ir"
)

// EffectHandler executes one effect type. Handlers receive the
// requirement's params and a read-only view of the snapshot; they
// return patches carrying concrete values, never expressions.
//
// Handlers must be idempotent with respect to the domain's own state
// guards: the host does not deduplicate calls across re-entrant
// computes, the flow's guards do.
//
// The return value is normalized: a handler may return a single
// ir.Patch, a []ir.Patch, an *EffectResult, or nil.
type EffectHandler func(ctx context.Context, req ir.Requirement, snap ir.Snapshot, hc ir.HostContext) (any, error)

// EffectResult is the tagged form of a handler return value.
type EffectResult struct {
	Patches []ir.Patch
}

// Outcome is the normalized result of one effect execution. Failure is
// part of the type, not an exception: the drain loop turns failed
// outcomes into failure patches, never into a crash.
type Outcome struct {
	Success bool
	Patches []ir.Patch
	Code    string
	Message string
}

// executeEffect bridges a requirement to its registered handler and
// normalizes whatever happens - including a panic - into an Outcome.
// A handler must never be able to fail-fast the engine.
func executeEffect(ctx context.Context, handlers map[string]EffectHandler, req ir.Requirement, snap ir.Snapshot, hc ir.HostContext) (outcome Outcome) {
	handler, ok := handlers[req.EffectType]
	if !ok {
		// Normally pre-checked before the batch starts; kept here so a
		// racing registry change still cannot crash the loop.
		return Outcome{
			Code:    ir.ErrCodeHandlerMissing,
			Message: fmt.Sprintf("no handler registered for effect type %q", req.EffectType),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{
				Code:    ir.ErrCodeHandlerPanic,
				Message: fmt.Sprintf("%v", r),
			}
		}
	}()

	result, err := handler(ctx, req, snap, hc)
	if err != nil {
		return Outcome{
			Code:    ir.ErrCodeEffectFailed,
			Message: err.Error(),
		}
	}

	patches, err := normalizeResult(result)
	if err != nil {
		return Outcome{
			Code:    ir.ErrCodeEffectFailed,
			Message: err.Error(),
		}
	}

	return Outcome{Success: true, Patches: patches}
}

// normalizeResult accepts the handler return shapes the contract
// allows and produces a flat patch list.
func normalizeResult(result any) ([]ir.Patch, error) {
	switch v := result.(type) {
	case nil:
		return nil, nil
	case ir.Patch:
		return []ir.Patch{v}, nil
	case []ir.Patch:
		return v, nil
	case EffectResult:
		return v.Patches, nil
	case *EffectResult:
		if v == nil {
			return nil, nil
		}
		return v.Patches, nil
	default:
		return nil, fmt.Errorf("handler returned unsupported type %T (want ir.Patch, []ir.Patch or EffectResult)", result)
	}
}
