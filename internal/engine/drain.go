package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskflow/taskflow/internal/ir"
)

// drain pumps one execution key's mailbox to quiescence for one intent.
// It runs in the dispatching goroutine while holding the context's
// single-writer token; effect goroutines only ever touch the mailbox.
type drain struct {
	engine   *Engine
	ec       *ExecutionContext
	intent   ir.Intent
	hc       ir.HostContext
	handlers map[string]EffectHandler

	iterations int
	inflight   map[string]struct{}
	terminal   *Result
}

// run processes jobs until a terminal result or until the mailbox is
// empty with no outstanding async effect.
func (d *drain) run(ctx context.Context) (Result, error) {
	for {
		job, ok := d.ec.mailbox.TryDequeue()
		if ok {
			d.process(ctx, job)
			if d.terminal != nil {
				// Leftover jobs belong to this finished intent; a later
				// dispatch starts from a clean queue.
				d.ec.mailbox.Reset()
				d.terminal.Iterations = d.iterations
				return *d.terminal, nil
			}
			continue
		}

		if len(d.inflight) == 0 {
			// Quiescent without a verdict. Every job path ends in a
			// terminal result or an in-flight effect, so this is an
			// engine bug, not a flow outcome.
			return Result{}, fmt.Errorf("drain for intent %s reached quiescence without a terminal result", d.intent.ID)
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-d.ec.mailbox.Wait():
		}
	}
}

// process dispatches one job. Handlers run to completion synchronously
// and return control here; nothing suspends while holding the mailbox.
func (d *drain) process(ctx context.Context, job Job) {
	switch job.Type {
	case JobStartIntent:
		d.startIntent(ctx)

	case JobContinueCompute:
		if job.IntentID != d.intent.ID {
			slog.Debug("discarding continue for inactive intent",
				"key", d.ec.key, "intent_id", job.IntentID)
			return
		}
		d.compute(ctx)

	case JobFulfillEffect:
		d.fulfillEffect(ctx, job)

	case JobApplyPatches:
		d.applyPatches(job)

	default:
		slog.Error("unknown job type", "type", int(job.Type), "key", d.ec.key)
	}
}

// startIntent clears any stale state a previous aborted run left on the
// snapshot, then invokes the evaluator for the first time.
func (d *drain) startIntent(ctx context.Context) {
	snap := d.ec.CurrentSnapshot()

	var patches []ir.Patch
	for _, req := range snap.System.PendingRequirements {
		patches = append(patches, ir.ClearRequirementPatches(req.ID)...)
	}
	if snap.System.Status != ir.StatusIdle {
		patches = append(patches, ir.Set("system.status", ir.String(ir.StatusIdle)))
	}
	if snap.System.LastError != nil {
		patches = append(patches, ir.Unset("system.last_error"))
	}

	if len(patches) > 0 {
		slog.Debug("clearing stale state before start",
			"key", d.ec.key,
			"intent_id", d.intent.ID,
			"stale_requirements", len(snap.System.PendingRequirements),
		)
		next, err := ir.ApplyPatches(snap, patches, d.hc)
		if err != nil {
			d.fail(ErrCodePatchFailed, fmt.Sprintf("clear stale state: %v", err), err)
			return
		}
		d.ec.commit(next)
		d.engine.observer.afterPatches(next, "start_intent")
	}

	d.compute(ctx)
}

// compute invokes the pure evaluator once, enforcing the iteration
// ceiling, and acts on its verdict.
func (d *drain) compute(ctx context.Context) {
	if d.iterations >= d.engine.maxIterations {
		d.terminal = &Result{
			Status:   TerminalError,
			Snapshot: d.ec.CurrentSnapshot(),
			Err:      newMaxIterationsError(d.intent.ID, d.intent.Action, d.iterations),
		}
		return
	}
	d.iterations++

	snap := d.ec.CurrentSnapshot()
	d.engine.observer.beforeCompute(d.intent, snap)

	res, err := d.engine.eval.Compute(snap, d.intent, d.hc)
	if err != nil {
		d.fail(ErrCodeEvalFailed, err.Error(), err)
		return
	}

	// The intent's action and input ride along so a recorded trace is a
	// self-contained replay input.
	d.engine.recorder.Record(TraceCompute, d.intent.ID, d.hc.Now.UnixMilli(), ir.Object{
		"action":  ir.String(d.intent.Action),
		"input":   d.intent.Input.Clone(),
		"status":  ir.String(string(res.Status)),
		"version": ir.Int(res.Snapshot.Meta.Version),
	})
	d.engine.observer.afterCompute(d.intent, res)

	d.ec.commit(res.Snapshot)

	switch res.Status {
	case ComputeComplete:
		d.terminal = &Result{Status: TerminalComplete, Snapshot: res.Snapshot}

	case ComputeHalted:
		d.terminal = &Result{Status: TerminalHalted, Snapshot: res.Snapshot}

	case ComputeError:
		message := "flow reported an error"
		if le := res.Snapshot.System.LastError; le != nil {
			message = le.Message
		}
		d.terminal = &Result{
			Status:   TerminalError,
			Snapshot: res.Snapshot,
			Err: &HostError{
				Code:     ErrCodeFlowError,
				Message:  message,
				Key:      string(d.ec.key),
				IntentID: d.intent.ID,
				Action:   d.intent.Action,
			},
		}

	case ComputePending:
		d.startEffects(ctx, res)

	default:
		d.fail(ErrCodeEvalFailed, fmt.Sprintf("evaluator returned unknown status %q", res.Status), nil)
	}
}

// startEffects launches the requirements of a pending verdict. The
// whole batch is validated against the registry first: if any
// requirement has no handler, the intent fails with no partial side
// effects started.
func (d *drain) startEffects(ctx context.Context, res ComputeResult) {
	var toStart []ir.Requirement
	for _, req := range res.Requirements {
		if _, running := d.inflight[req.ID]; running {
			continue
		}
		if _, ok := d.handlers[req.EffectType]; !ok {
			d.terminal = &Result{
				Status:   TerminalError,
				Snapshot: d.ec.CurrentSnapshot(),
				Err: &HostError{
					Code:       ErrCodeMissingHandler,
					Message:    fmt.Sprintf("no handler registered for effect type %q", req.EffectType),
					Key:        string(d.ec.key),
					IntentID:   d.intent.ID,
					Action:     d.intent.Action,
					EffectType: req.EffectType,
				},
			}
			return
		}
		toStart = append(toStart, req)
	}

	for _, req := range toStart {
		d.startEffect(ctx, req)
	}
}

// startEffect runs one effect asynchronously. Its completion is
// delivered as a FulfillEffect job, never as a blocking resume here:
// effects of one batch may run concurrently with each other, but their
// results still serialize through the mailbox.
func (d *drain) startEffect(ctx context.Context, req ir.Requirement) {
	d.inflight[req.ID] = struct{}{}
	snap := d.ec.CurrentSnapshot()
	d.engine.observer.beforeEffect(d.intent, req)

	slog.Debug("starting effect",
		"key", d.ec.key,
		"intent_id", d.intent.ID,
		"effect_type", req.EffectType,
		"requirement_id", req.ID,
	)

	intent := d.intent
	handlers := d.handlers
	hc := d.hc
	recorder := d.engine.recorder
	observer := d.engine.observer
	mbox := d.ec.mailbox

	go func() {
		outcome := executeEffect(ctx, handlers, req, snap, hc)
		observer.afterEffect(intent, req, outcome)
		recorder.Record(TraceEffect, intent.ID, hc.Now.UnixMilli(), effectPayload(req, outcome))

		if outcome.Success {
			mbox.Enqueue(fulfillEffectJob(intent, req.ID, outcome.Patches, nil))
			return
		}
		mbox.Enqueue(fulfillEffectJob(intent, req.ID, nil, &ir.ErrorInfo{
			Code:          outcome.Code,
			Message:       outcome.Message,
			EffectType:    req.EffectType,
			RequirementID: req.ID,
		}))
	}()
}

// fulfillEffect applies one effect's outcome - result patches plus
// requirement clearing on success, a failure patch set on error -
// atomically, then loops back into the evaluator.
func (d *drain) fulfillEffect(ctx context.Context, job Job) {
	if job.IntentID != d.intent.ID {
		// The execution moved on; the late result is discarded.
		slog.Debug("discarding fulfillment for inactive intent",
			"key", d.ec.key,
			"intent_id", job.IntentID,
			"requirement_id", job.RequirementID,
		)
		return
	}
	delete(d.inflight, job.RequirementID)

	snap := d.ec.CurrentSnapshot()
	req, found := snap.Requirement(job.RequirementID)
	if !found {
		req = ir.Requirement{ID: job.RequirementID}
	}

	var patches []ir.Patch
	if job.EffectError != nil {
		patches = ir.FailurePatches(req, job.EffectError.Code, job.EffectError.Message)
	} else {
		patches = append(patches, job.ResultPatches...)
		patches = append(patches, ir.ClearRequirementPatches(job.RequirementID)...)
	}

	next, err := ir.ApplyPatches(snap, patches, d.hc)
	if err != nil {
		d.fail(ErrCodePatchFailed, fmt.Sprintf("apply effect result: %v", err), err)
		return
	}
	d.ec.commit(next)
	d.engine.observer.afterPatches(next, "fulfill_effect")

	d.ec.mailbox.Enqueue(continueComputeJob(d.intent))
}

// applyPatches handles housekeeping patch sets with no associated
// requirement.
func (d *drain) applyPatches(job Job) {
	snap := d.ec.CurrentSnapshot()
	next, err := ir.ApplyPatches(snap, job.Patches, d.hc)
	if err != nil {
		d.fail(ErrCodePatchFailed, fmt.Sprintf("apply patches (%s): %v", job.Source, err), err)
		return
	}
	d.ec.commit(next)
	d.engine.observer.afterPatches(next, job.Source)
}

// fail records an engine-level terminal error.
func (d *drain) fail(code HostErrorCode, message string, cause error) {
	d.terminal = &Result{
		Status:   TerminalError,
		Snapshot: d.ec.CurrentSnapshot(),
		Err: &HostError{
			Code:     code,
			Message:  message,
			Key:      string(d.ec.key),
			IntentID: d.intent.ID,
			Action:   d.intent.Action,
			Err:      cause,
		},
	}
}

// effectPayload builds the trace payload for one effect execution.
// Successful outcomes carry their full patch list so a recorded trace
// is sufficient to replay the run without re-invoking handlers.
func effectPayload(req ir.Requirement, outcome Outcome) ir.Object {
	payload := ir.Object{
		"effect_type":    ir.String(req.EffectType),
		"requirement_id": ir.String(req.ID),
		"success":        ir.Bool(outcome.Success),
	}
	if outcome.Success {
		patches := make(ir.Array, len(outcome.Patches))
		for i, p := range outcome.Patches {
			patches[i] = patchObject(p)
		}
		payload["patches"] = patches
	} else {
		payload["code"] = ir.String(outcome.Code)
		payload["message"] = ir.String(outcome.Message)
	}
	return payload
}

// patchObject serializes one patch for the trace.
func patchObject(p ir.Patch) ir.Object {
	obj := ir.Object{
		"op":   ir.String(string(p.Op)),
		"path": ir.String(p.Path),
	}
	if p.Value != nil {
		obj["value"] = p.Value
	}
	return obj
}

// PatchFromObject rebuilds a patch from its trace serialization.
// Used by replay.
func PatchFromObject(obj ir.Object) (ir.Patch, error) {
	op, ok := obj["op"].(ir.String)
	if !ok {
		return ir.Patch{}, fmt.Errorf("patch object has no op")
	}
	path, ok := obj["path"].(ir.String)
	if !ok {
		return ir.Patch{}, fmt.Errorf("patch object has no path")
	}
	return ir.Patch{Op: ir.PatchOp(op), Path: string(path), Value: obj["value"]}, nil
}
