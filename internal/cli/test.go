package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/taskflow/taskflow/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
}

// ScenarioReport is one scenario's verdict.
type ScenarioReport struct {
	Name     string   `json:"name"`
	File     string   `json:"file"`
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
}

// TestReport is the test command's output payload.
type TestReport struct {
	Scenarios []ScenarioReport `json:"scenarios"`
	Total     int              `json:"total"`
	Failed    int              `json:"failed"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml|dir>...",
		Short: "Run conformance scenarios",
		Long: `Run scenario files against the real engine with a frozen clock,
fixed intent ids and scripted effect handlers, and check their
assertions.

A directory argument runs every *.yaml file directly inside it.

Exit codes:
  0 - all scenarios passed
  1 - one or more scenarios failed
  2 - command error (unreadable scenario, bad flow)

Examples:
  taskflow test ./scenarios/checkout.yaml
  taskflow test ./scenarios --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}
	return cmd
}

func runScenarios(opts *TestOptions, args []string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	paths, err := collectScenarioPaths(args)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to collect scenarios", err)
	}
	if len(paths) == 0 {
		return NewExitError(ExitCommandError, "no scenario files found")
	}

	report := TestReport{Total: len(paths)}
	for _, path := range paths {
		sc, err := harness.LoadScenario(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load scenario", err)
		}
		res, err := harness.Run(sc)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("scenario %q aborted", sc.Name), err)
		}

		sr := ScenarioReport{Name: sc.Name, File: path, Passed: res.Passed}
		for _, f := range res.Failures {
			sr.Failures = append(sr.Failures, f.Error())
		}
		if !res.Passed {
			report.Failed++
		}
		report.Scenarios = append(report.Scenarios, sr)
	}

	if opts.Format == "json" {
		if err := out.Success(report); err != nil {
			return err
		}
	} else {
		for _, sr := range report.Scenarios {
			mark := "PASS"
			if !sr.Passed {
				mark = "FAIL"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%s)\n", mark, sr.Name, sr.File)
			for _, f := range sr.Failures {
				fmt.Fprintf(cmd.OutOrStdout(), "      %s\n", f)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d scenarios, %d failed\n", report.Total, report.Failed)
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", report.Failed, report.Total))
	}
	return nil
}

// collectScenarioPaths expands directory arguments into the YAML files
// directly inside them.
func collectScenarioPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.yaml"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		paths = append(paths, matches...)
	}
	return paths, nil
}
