package flow

import (
	"fmt"

	"github.com/taskflow/taskflow/internal/ir"
)

// FailureCode is recorded on system.last_error when a fail step fires.
const FailureCode = "FLOW_FAILED"

// Compute is the pure evaluator: schema + snapshot + intent + frozen
// context in, result out. Given the same four inputs it always returns
// the same result; no evaluator state survives between calls.
//
// Re-entrancy contract: all progress lives in the snapshot itself.
// Patch steps are cheap to re-run (same value, same result) and effect
// steps carry guards that observe the state their results change, so
// re-running Compute from the top reproduces only the remaining work.
func Compute(f *Flow, snap ir.Snapshot, intent ir.Intent, hc ir.HostContext) (Result, error) {
	action, ok := f.Actions[intent.Action]
	if !ok {
		return Result{}, fmt.Errorf("action %q not defined in flow %q", intent.Action, f.Name)
	}

	cur := snap
	var trace []StepTrace
	var err error

	// Record which action owns this run.
	if cur.System.CurrentAction != intent.Action {
		cur, err = ir.ApplyPatches(cur, []ir.Patch{
			ir.Set("system.current_action", ir.String(intent.Action)),
		}, hc)
		if err != nil {
			return Result{}, fmt.Errorf("set current action: %w", err)
		}
	}

	// An unrecovered effect failure is on the snapshot. Run the catch
	// branch if the action has one; otherwise the error is terminal.
	if cur.System.Status == ir.StatusError {
		if len(action.Catch) == 0 {
			trace = append(trace, StepTrace{
				Position: intent.Action,
				Kind:     "error",
				Note:     "no recovery branch",
			})
			return Result{Status: StatusError, Snapshot: cur, Trace: trace}, nil
		}

		// Reset status so catch steps run in a normal state, but keep
		// last_error visible: catch guards branch on it.
		cur, err = ir.ApplyPatches(cur, []ir.Patch{
			ir.Set("system.status", ir.String(ir.StatusIdle)),
		}, hc)
		if err != nil {
			return Result{}, fmt.Errorf("enter recovery: %w", err)
		}

		res, done, err := runSteps(f, action.Catch, intent.Action+"/catch", cur, intent, hc, &trace)
		if err != nil {
			return Result{}, err
		}
		if done {
			res.Trace = trace
			return res, nil
		}
		cur = res.Snapshot

		// Recovery ran to the end: the failure is consumed.
		cur, err = ir.ApplyPatches(cur, []ir.Patch{
			ir.Unset("system.last_error"),
		}, hc)
		if err != nil {
			return Result{}, fmt.Errorf("clear recovered error: %w", err)
		}
	}

	res, done, err := runSteps(f, action.Steps, intent.Action, cur, intent, hc, &trace)
	if err != nil {
		return Result{}, err
	}
	if done {
		res.Trace = trace
		return res, nil
	}

	return Result{Status: StatusComplete, Snapshot: res.Snapshot, Trace: trace}, nil
}

// runSteps walks a step list. done=true means the walk produced a
// verdict (pending, halted, error); done=false means it fell off the
// end and the caller decides what that means.
func runSteps(f *Flow, steps []Step, prefix string, cur ir.Snapshot, intent ir.Intent, hc ir.HostContext, trace *[]StepTrace) (Result, bool, error) {
	for i := 0; i < len(steps); i++ {
		step := steps[i]
		pos := fmt.Sprintf("%s/%d", prefix, i)
		env := Env{Snapshot: cur, Input: intent.Input, Ctx: hc}

		switch {
		case step.Patch != nil:
			value, err := EvalTemplate(step.Patch.Value, env)
			if err != nil {
				return Result{}, false, fmt.Errorf("%s: evaluate patch value: %w", pos, err)
			}
			next, err := ir.ApplyPatches(cur, []ir.Patch{{
				Op:    ir.PatchOp(step.Patch.Op),
				Path:  step.Patch.Path,
				Value: value,
			}}, hc)
			if err != nil {
				return Result{}, false, fmt.Errorf("%s: apply patch: %w", pos, err)
			}
			cur = next
			*trace = append(*trace, StepTrace{Position: pos, Kind: "patch", Note: step.Patch.Op + " " + step.Patch.Path})

		case step.Effect != nil:
			// Gather the contiguous run of guard-passing effect steps:
			// they form one batch the host may start concurrently.
			var batch []ir.Requirement
			for ; i < len(steps) && steps[i].Effect != nil; i++ {
				es := steps[i].Effect
				epos := fmt.Sprintf("%s/%d", prefix, i)
				env := Env{Snapshot: cur, Input: intent.Input, Ctx: hc}

				pass, err := EvalGuard(es.When, env)
				if err != nil {
					return Result{}, false, fmt.Errorf("%s: evaluate guard: %w", epos, err)
				}
				if !pass {
					*trace = append(*trace, StepTrace{Position: epos, Kind: "effect", Note: "skipped (guard)"})
					continue
				}

				params, err := EvalTemplate(es.Params, env)
				if err != nil {
					return Result{}, false, fmt.Errorf("%s: evaluate params: %w", epos, err)
				}
				paramsObj, _ := params.(ir.Object)

				req := ir.Requirement{
					ID:         epos,
					EffectType: es.Type,
					Params:     paramsObj,
					Position:   epos,
				}
				if _, exists := cur.Requirement(req.ID); !exists {
					batch = append(batch, req)
				}
				*trace = append(*trace, StepTrace{Position: epos, Kind: "effect", Note: "raised " + es.Type})
			}

			if len(batch) == 0 && len(cur.System.PendingRequirements) == 0 {
				// Every effect in the run was guarded off; keep walking.
				i--
				continue
			}

			pending := cur
			if len(batch) > 0 {
				pending = ir.WithRequirements(cur, batch, hc)
			}
			return Result{
				Status:       StatusPending,
				Snapshot:     pending,
				Requirements: pending.System.PendingRequirements,
			}, true, nil

		case step.Halt != nil:
			pass, err := EvalGuard(step.Halt.When, env)
			if err != nil {
				return Result{}, false, fmt.Errorf("%s: evaluate guard: %w", pos, err)
			}
			if !pass {
				*trace = append(*trace, StepTrace{Position: pos, Kind: "halt", Note: "skipped (guard)"})
				continue
			}
			*trace = append(*trace, StepTrace{Position: pos, Kind: "halt"})
			return Result{Status: StatusHalted, Snapshot: cur}, true, nil

		case step.Fail != nil:
			pass, err := EvalGuard(step.Fail.When, env)
			if err != nil {
				return Result{}, false, fmt.Errorf("%s: evaluate guard: %w", pos, err)
			}
			if !pass {
				*trace = append(*trace, StepTrace{Position: pos, Kind: "fail", Note: "skipped (guard)"})
				continue
			}
			next, err := ir.ApplyPatches(cur, []ir.Patch{
				ir.Set("system.last_error", ir.Object{
					"code":    ir.String(FailureCode),
					"message": ir.String(step.Fail.Message),
				}),
				ir.Set("system.status", ir.String(ir.StatusError)),
			}, hc)
			if err != nil {
				return Result{}, false, fmt.Errorf("%s: record failure: %w", pos, err)
			}
			*trace = append(*trace, StepTrace{Position: pos, Kind: "fail", Note: step.Fail.Message})
			return Result{Status: StatusError, Snapshot: next}, true, nil

		default:
			return Result{}, false, fmt.Errorf("%s: empty step", pos)
		}
	}

	return Result{Snapshot: cur}, false, nil
}
