package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskflow/taskflow/internal/engine"
	"github.com/taskflow/taskflow/internal/harness"
	"github.com/taskflow/taskflow/internal/ir"
	"github.com/taskflow/taskflow/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	IntentID string
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect the recorded trace journal",
		Long: `Read recorded trace events from a journal database.

Without --intent, lists the recorded intent ids. With --intent, prints
that intent's ordered event timeline.

Exit codes:
  0 - success
  2 - command error (database not found, unknown intent)

Examples:
  taskflow trace --db ./orders.db
  taskflow trace --db ./orders.db --intent 0190a8b2-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.IntentID, "intent", "", "intent id to show")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.IntentID == "" {
		return listIntents(ctx, st, opts, cmd, out)
	}
	return showTrace(ctx, st, opts, cmd, out)
}

func listIntents(ctx context.Context, st *store.Store, opts *TraceOptions, cmd *cobra.Command, out *OutputFormatter) error {
	ids, err := st.ListIntents(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list intents", err)
	}

	if opts.Format == "json" {
		return out.Success(map[string]any{"intents": ids})
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "journal is empty")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func showTrace(ctx context.Context, st *store.Store, opts *TraceOptions, cmd *cobra.Command, out *OutputFormatter) error {
	events, err := st.ReadTrace(ctx, opts.IntentID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}
	if len(events) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no trace recorded for intent %q", opts.IntentID))
	}

	if opts.Format == "json" {
		data, err := harness.MarshalTrace(events)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to render trace", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	}

	for _, ev := range events {
		fmt.Fprintf(cmd.OutOrStdout(), "%3d  %-7s  %s\n", ev.Sequence, ev.Type, describeEvent(ev))
	}
	return nil
}

// describeEvent renders a one-line summary of an event payload.
func describeEvent(ev engine.TraceEvent) string {
	switch ev.Type {
	case engine.TraceCompute:
		action, _ := ev.Payload["action"].(ir.String)
		status, _ := ev.Payload["status"].(ir.String)
		version, _ := ev.Payload["version"].(ir.Int)
		return fmt.Sprintf("action=%s status=%s version=%d", action, status, version)
	case engine.TraceEffect:
		effectType, _ := ev.Payload["effect_type"].(ir.String)
		if success, _ := ev.Payload["success"].(ir.Bool); bool(success) {
			return fmt.Sprintf("%s ok", effectType)
		}
		code, _ := ev.Payload["code"].(ir.String)
		message, _ := ev.Payload["message"].(ir.String)
		return fmt.Sprintf("%s failed [%s]: %s", effectType, code, message)
	default:
		return ""
	}
}
