package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taskflow/taskflow/internal/engine"
	"github.com/taskflow/taskflow/internal/flow"
	"github.com/taskflow/taskflow/internal/harness"
	"github.com/taskflow/taskflow/internal/ir"
	"github.com/taskflow/taskflow/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	IntentID string
	Seed     string
}

// ReplayResult holds the replay verdict for one intent.
type ReplayResult struct {
	IntentID      string `json:"intent_id"`
	Action        string `json:"action"`
	Events        int    `json:"events"`
	Deterministic bool   `json:"deterministic"`
	Status        string `json:"status"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <flow.yaml>",
		Short: "Re-run a recorded intent and verify determinism",
		Long: `Re-run a recorded intent against the flow definition, substituting
the journal's recorded effect outcomes for real handlers, and compare
the regenerated trace event-by-event against the recording. Effects of
one batch finish in any order, so they are compared without regard to
their order within the batch.

The recorded intent id fixes the random seed and the recorded timestamp
fixes the clock, so a matching trace proves the run is deterministic.
The replay starts from a genesis snapshot; if the original run was
seeded, supply the same data with --seed.

Exit codes:
  0 - replay matches the recording
  1 - replay diverged
  2 - command error

Examples:
  taskflow replay ./flows/orders.yaml --db ./orders.db --intent 0190a8b2-...
  taskflow replay ./flows/orders.yaml --db ./orders.db --intent 0190a8b2-... --seed seed.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.IntentID, "intent", "", "intent id to replay (required)")
	_ = cmd.MarkFlagRequired("intent")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "YAML file with the original run's seed data")

	return cmd
}

func runReplay(opts *ReplayOptions, flowPath string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	ctx := context.Background()

	f, err := flow.Load(flowPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load flow", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	recorded, err := st.ReadTrace(ctx, opts.IntentID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}
	if len(recorded) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no trace recorded for intent %q", opts.IntentID))
	}

	action, input, found, err := st.RecordedIntent(ctx, opts.IntentID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read recorded intent", err)
	}
	if !found {
		return NewExitError(ExitCommandError, fmt.Sprintf("intent %q has no recorded compute event", opts.IntentID))
	}

	timestamp, _, err := st.RecordedTimestamp(ctx, opts.IntentID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read recorded timestamp", err)
	}

	outcomes, err := st.RecordedOutcomes(ctx, opts.IntentID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read recorded outcomes", err)
	}

	sink := engine.NewMemorySink()
	eng := engine.New(engine.NewFlowEvaluator(f),
		engine.WithClock(engine.FixedClock{Time: time.UnixMilli(timestamp).UTC()}),
		engine.WithTraceSink(sink),
	)
	for effectType, handler := range store.ReplayHandlers(outcomes) {
		eng.RegisterHandler(effectType, handler)
	}

	key := engine.ExecutionKey("replay")
	if opts.Seed != "" {
		data, err := loadSeedData(opts.Seed)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load seed data", err)
		}
		if err := eng.Seed(key, data); err != nil {
			return WrapExitError(ExitCommandError, "failed to seed snapshot", err)
		}
	}

	res, err := eng.Dispatch(ctx, key, ir.Intent{ID: opts.IntentID, Action: action, Input: input})
	if err != nil {
		return WrapExitError(ExitCommandError, "replay dispatch aborted", err)
	}

	deterministic, err := tracesMatch(recorded, sink.Events())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compare traces", err)
	}

	result := ReplayResult{
		IntentID:      opts.IntentID,
		Action:        action,
		Events:        len(recorded),
		Deterministic: deterministic,
		Status:        string(res.Status),
	}

	if opts.Format == "json" {
		if err := out.Success(result); err != nil {
			return err
		}
	} else {
		verdict := "deterministic"
		if !deterministic {
			verdict = "DIVERGED"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "intent %s: %s (%d events, status %s)\n",
			result.IntentID, verdict, result.Events, result.Status)
		if !deterministic && opts.Verbose {
			dumpTrace(cmd, "--- recorded ---", recorded)
			dumpTrace(cmd, "--- replayed ---", sink.Events())
		}
	}

	if !deterministic {
		return NewExitError(ExitFailure, "replay diverged from recording")
	}
	return nil
}

// tracesMatch compares a recorded and a replayed trace.
//
// Two sources of benign scheduling variance are tolerated. Effects of
// one batch finish in whatever order their goroutines complete, so
// effect events are matched by requirement id, in per-id occurrence
// order, rather than by position or sequence number. The drain loop
// may also interleave an extra evaluator retry between two
// fulfillments of one batch, so compute events are compared by their
// first and terminal occurrences; the retries in between carry nothing
// the effect events and the terminal verdict do not.
func tracesMatch(recorded, replayed []engine.TraceEvent) (bool, error) {
	rComputes, rEffects, err := splitTrace(recorded)
	if err != nil {
		return false, err
	}
	pComputes, pEffects, err := splitTrace(replayed)
	if err != nil {
		return false, err
	}

	if (len(rComputes) == 0) != (len(pComputes) == 0) {
		return false, nil
	}
	if len(rComputes) > 0 {
		if rComputes[0] != pComputes[0] {
			return false, nil
		}
		if rComputes[len(rComputes)-1] != pComputes[len(pComputes)-1] {
			return false, nil
		}
	}

	if len(rEffects) != len(pEffects) {
		return false, nil
	}
	for id, want := range rEffects {
		got, ok := pEffects[id]
		if !ok || len(got) != len(want) {
			return false, nil
		}
		for i := range want {
			if want[i] != got[i] {
				return false, nil
			}
		}
	}
	return true, nil
}

// splitTrace renders a trace to comparable fingerprints: compute events
// in order, effect events grouped by requirement id.
func splitTrace(events []engine.TraceEvent) ([]string, map[string][]string, error) {
	computes := []string{}
	effects := map[string][]string{}
	for _, ev := range events {
		fp, err := eventFingerprint(ev)
		if err != nil {
			return nil, nil, err
		}
		if ev.Type == engine.TraceCompute {
			computes = append(computes, fp)
			continue
		}
		id, _ := ev.Payload["requirement_id"].(ir.String)
		effects[string(id)] = append(effects[string(id)], fp)
	}
	return computes, effects, nil
}

// eventFingerprint identifies an event by everything except its
// sequence number.
func eventFingerprint(ev engine.TraceEvent) (string, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return fmt.Sprintf("%s|%s|%d|%s", ev.Type, ev.IntentID, ev.Timestamp, payload), nil
}

// dumpTrace prints one trace for divergence inspection.
func dumpTrace(cmd *cobra.Command, header string, events []engine.TraceEvent) {
	fmt.Fprintln(cmd.OutOrStdout(), header)
	raw, err := harness.MarshalTrace(events)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "(unrenderable: %v)\n", err)
		return
	}
	fmt.Fprint(cmd.OutOrStdout(), string(raw))
}

// loadSeedData reads a YAML mapping into snapshot seed data.
func loadSeedData(path string) (ir.Object, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	v, err := ir.FromGo(m)
	if err != nil {
		return nil, err
	}
	obj, _ := v.(ir.Object)
	return obj, nil
}
