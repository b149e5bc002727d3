package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taskflow/taskflow/internal/engine"
	"github.com/taskflow/taskflow/internal/flow"
	"github.com/taskflow/taskflow/internal/harness"
	"github.com/taskflow/taskflow/internal/ir"
	"github.com/taskflow/taskflow/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Action        string
	Inputs        []string
	Key           string
	Database      string
	Handlers      string
	MaxIterations int
}

// RunResult is the run command's output payload.
type RunResult struct {
	IntentID   string `json:"intent_id"`
	Status     string `json:"status"`
	Iterations int    `json:"iterations"`
	Error      string `json:"error,omitempty"`
	Snapshot   any    `json:"snapshot"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <flow.yaml>",
		Short: "Dispatch one intent against a flow",
		Long: `Load a flow definition, dispatch one intent and drain it to a
terminal result.

Effect steps need handlers. Supply them with --handlers, a YAML file
scripting outcomes per effect type:

  http_get:
    - patches:
        - op: set
          path: data.body
          value: hello

With --db, the run is journaled to SQLite: trace events for replay plus
the terminal snapshot per execution key. A stored snapshot's data
section seeds the next run of the same key.

Exit codes:
  0 - intent completed or halted
  1 - intent errored
  2 - command error

Examples:
  taskflow run ./flows/orders.yaml --action place --input sku=widget --input qty=2
  taskflow run ./flows/orders.yaml --action place --db ./orders.db --handlers stubs.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIntent(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Action, "action", "", "action to dispatch (required)")
	_ = cmd.MarkFlagRequired("action")
	cmd.Flags().StringArrayVar(&opts.Inputs, "input", nil, "intent input as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Key, "key", "default", "execution key")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (optional)")
	cmd.Flags().StringVar(&opts.Handlers, "handlers", "", "YAML file scripting effect outcomes")
	cmd.Flags().IntVar(&opts.MaxIterations, "max-iterations", 0, "override the evaluator iteration ceiling")

	return cmd
}

func runIntent(opts *RunOptions, flowPath string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	f, err := flow.Load(flowPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load flow", err)
	}

	input, err := parseInputs(opts.Inputs)
	if err != nil {
		return WrapExitError(ExitCommandError, "bad --input", err)
	}

	engOpts := []engine.Option{}
	if opts.MaxIterations > 0 {
		engOpts = append(engOpts, engine.WithMaxIterations(opts.MaxIterations))
	}

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		engOpts = append(engOpts, engine.WithTraceSink(store.NewSink(st)))
	}

	eng := engine.New(engine.NewFlowEvaluator(f), engOpts...)
	if err := registerHandlers(eng, opts.Handlers); err != nil {
		return WrapExitError(ExitCommandError, "failed to load handlers", err)
	}

	key := engine.ExecutionKey(opts.Key)
	if st != nil {
		if err := seedFromStore(ctx, st, eng, key); err != nil {
			return WrapExitError(ExitCommandError, "failed to restore snapshot", err)
		}
	}

	// Generate the id here so it can be reported (and replayed) even
	// when the run succeeds.
	intentID := engine.UUIDv7Generator{}.Generate()
	res, err := eng.Dispatch(ctx, key, ir.Intent{ID: intentID, Action: opts.Action, Input: input})
	if err != nil {
		return WrapExitError(ExitCommandError, "dispatch aborted", err)
	}

	if st != nil {
		if err := st.WriteSnapshot(ctx, key, res.Snapshot); err != nil {
			return WrapExitError(ExitCommandError, "failed to persist snapshot", err)
		}
	}

	result := RunResult{
		IntentID:   intentID,
		Status:     string(res.Status),
		Iterations: res.Iterations,
		Snapshot:   ir.ToGo(res.Snapshot.Body()),
	}
	if res.Err != nil {
		result.Error = res.Err.Error()
	}

	if opts.Format == "json" {
		if err := out.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "intent:     %s\n", result.IntentID)
		fmt.Fprintf(cmd.OutOrStdout(), "status:     %s\n", result.Status)
		fmt.Fprintf(cmd.OutOrStdout(), "iterations: %d\n", result.Iterations)
		if result.Error != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "error:      %s\n", result.Error)
		}
		body, err := json.MarshalIndent(res.Snapshot.Body(), "", "  ")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to render snapshot", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
	}

	if res.Status == engine.TerminalError {
		return NewExitError(ExitFailure, "intent finished with status error")
	}
	return nil
}

// parseInputs converts repeated key=value flags into an input object.
// Values parse as int or bool when they look like one, else string.
func parseInputs(pairs []string) (ir.Object, error) {
	input := ir.Object{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("input %q is not key=value", pair)
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			input[k] = ir.Int(n)
			continue
		}
		if v == "true" || v == "false" {
			input[k] = ir.Bool(v == "true")
			continue
		}
		input[k] = ir.String(v)
	}
	return input, nil
}

// registerHandlers loads a scripted-handler file and registers one
// handler per effect type.
func registerHandlers(eng *engine.Engine, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	scripts := map[string][]harness.HandlerOutcome{}
	if err := yaml.Unmarshal(raw, &scripts); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for effectType, outcomes := range scripts {
		h, err := harness.ScriptedHandler(outcomes)
		if err != nil {
			return fmt.Errorf("effect %q: %w", effectType, err)
		}
		eng.RegisterHandler(effectType, h)
	}
	return nil
}

// seedFromStore restores a key's data section from its stored snapshot.
// The system section is transient and never restored: a new run always
// starts from a clean idle state.
func seedFromStore(ctx context.Context, st *store.Store, eng *engine.Engine, key engine.ExecutionKey) error {
	body, found, err := st.ReadSnapshot(ctx, key)
	if err != nil || !found {
		return err
	}
	data, ok := body["data"].(ir.Object)
	if !ok {
		return fmt.Errorf("stored snapshot for %q has no data section", key)
	}
	return eng.Seed(key, data)
}
