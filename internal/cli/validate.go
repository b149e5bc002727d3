package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskflow/taskflow/internal/flow"
)

// ValidateResult summarizes a validated flow definition.
type ValidateResult struct {
	Flow        string   `json:"flow"`
	SchemaHash  string   `json:"schema_hash"`
	Actions     []string `json:"actions"`
	EffectTypes []string `json:"effect_types"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <flow.yaml>",
		Short: "Validate a flow definition",
		Long: `Parse and validate a flow definition without running it.

Reports the flow's schema hash, its actions and the effect types its
steps can raise.

Exit codes:
  0 - flow is valid
  1 - flow failed validation
  2 - command error (file not found, unreadable)

Examples:
  taskflow validate ./flows/orders.yaml
  taskflow validate ./flows/orders.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	f, err := flow.Load(path)
	if err != nil {
		_ = out.Error("E_INVALID_FLOW", err.Error(), nil)
		return WrapExitError(ExitFailure, "flow validation failed", err)
	}

	var actions []string
	for name := range f.Actions {
		actions = append(actions, name)
	}
	sort.Strings(actions)

	result := ValidateResult{
		Flow:        f.Name,
		SchemaHash:  f.Hash(),
		Actions:     actions,
		EffectTypes: f.EffectTypes(),
	}

	if opts.Format == "json" {
		return out.Success(result)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Flow %q is valid\n", result.Flow)
	fmt.Fprintf(cmd.OutOrStdout(), "  schema hash: %s\n", result.SchemaHash)
	fmt.Fprintf(cmd.OutOrStdout(), "  actions:     %s\n", strings.Join(result.Actions, ", "))
	if len(result.EffectTypes) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "  effects:     %s\n", strings.Join(result.EffectTypes, ", "))
	}
	return nil
}
