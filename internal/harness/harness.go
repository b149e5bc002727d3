package harness

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskflow/taskflow/internal/engine"
	"github.com/taskflow/taskflow/internal/flow"
	"github.com/taskflow/taskflow/internal/ir"
	"github.com/taskflow/taskflow/internal/testutil"
)

// Result is the outcome of one scenario run.
type Result struct {
	Passed   bool
	Failures []error

	// LastResult is the terminal result of the final dispatch.
	LastResult engine.Result

	// FinalSnapshot is the execution key's snapshot after all
	// dispatches.
	FinalSnapshot ir.Snapshot

	// Trace holds every recorded event across all dispatches, in
	// append order.
	Trace []engine.TraceEvent
}

// Run executes a scenario against the real engine with deterministic
// helpers: a frozen clock, fixed intent ids, and scripted handlers.
func Run(sc *Scenario) (*Result, error) {
	f, err := flow.Load(sc.Flow)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}

	sink := engine.NewMemorySink()
	opts := []engine.Option{
		engine.WithClock(testutil.Clock()),
		engine.WithIntentIDs(engine.NewFixedGenerator(intentIDs(sc)...)),
		engine.WithTraceSink(sink),
	}
	if sc.MaxIterations > 0 {
		opts = append(opts, engine.WithMaxIterations(sc.MaxIterations))
	}

	eng := engine.New(engine.NewFlowEvaluator(f), opts...)
	for effectType, outcomes := range sc.Handlers {
		handler, err := ScriptedHandler(outcomes)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: handler %q: %w", sc.Name, effectType, err)
		}
		eng.RegisterHandler(effectType, handler)
	}

	key := engine.ExecutionKey(sc.ExecutionKey)
	if len(sc.SeedData) > 0 {
		data, err := ir.FromGo(sc.SeedData)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: seed data: %w", sc.Name, err)
		}
		if err := eng.Seed(key, data.(ir.Object)); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
	}

	res := &Result{Passed: true}
	for i, step := range sc.Dispatch {
		input, err := ir.FromGo(mapOrEmpty(step.Input))
		if err != nil {
			return nil, fmt.Errorf("scenario %q: dispatch %d input: %w", sc.Name, i, err)
		}

		dr, err := eng.Dispatch(context.Background(), key, ir.Intent{
			Action: step.Action,
			Input:  input.(ir.Object),
		})
		if err != nil {
			return nil, fmt.Errorf("scenario %q: dispatch %d: %w", sc.Name, i, err)
		}
		res.LastResult = dr

		if step.Expect != "" && string(dr.Status) != step.Expect {
			res.Passed = false
			res.Failures = append(res.Failures, fmt.Errorf(
				"dispatch %d (%s): expected status %q, got %q", i, step.Action, step.Expect, dr.Status))
		}
	}

	res.FinalSnapshot = eng.Context(key).CurrentSnapshot()
	res.Trace = sink.Events()

	for _, a := range sc.Assertions {
		if err := assertOne(res, a); err != nil {
			res.Passed = false
			res.Failures = append(res.Failures, err)
		}
	}
	return res, nil
}

func intentIDs(sc *Scenario) []string {
	if len(sc.IntentIDs) > 0 {
		return sc.IntentIDs
	}
	ids := make([]string, len(sc.Dispatch))
	for i := range sc.Dispatch {
		ids[i] = fmt.Sprintf("intent-%d", i+1)
	}
	return ids
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// ScriptedHandler builds a handler serving outcomes in order. The last
// outcome repeats once the script is exhausted, which keeps guard-loop
// scenarios (circuit breaker) expressible with a one-entry script.
// Also used by the CLI's run command to stub effects from a YAML file.
func ScriptedHandler(outcomes []HandlerOutcome) (engine.EffectHandler, error) {
	if len(outcomes) == 0 {
		return nil, fmt.Errorf("empty outcome script")
	}

	// Pre-convert patches so YAML errors surface at load, not mid-run.
	patchScripts := make([][]ir.Patch, len(outcomes))
	for i, o := range outcomes {
		for j, ps := range o.Patches {
			value, err := ir.FromGo(ps.Value)
			if err != nil {
				return nil, fmt.Errorf("outcome %d patch %d: %w", i, j, err)
			}
			patchScripts[i] = append(patchScripts[i], ir.Patch{
				Op:    ir.PatchOp(ps.Op),
				Path:  ps.Path,
				Value: value,
			})
		}
	}

	var mu sync.Mutex
	idx := 0
	return func(ctx context.Context, req ir.Requirement, snap ir.Snapshot, hc ir.HostContext) (any, error) {
		mu.Lock()
		i := idx
		if i >= len(outcomes) {
			i = len(outcomes) - 1
		} else {
			idx++
		}
		mu.Unlock()

		o := outcomes[i]
		if o.Panic != "" {
			panic(o.Panic)
		}
		if o.Error != "" {
			return nil, fmt.Errorf("%s", o.Error)
		}
		return patchScripts[i], nil
	}, nil
}
