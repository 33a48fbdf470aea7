package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/remit/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // scenario name filter (glob pattern)
	Trace  bool   // print the execution trace for each scenario
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name  string   `json:"name"`
	File  string   `json:"file"`
	Pass  bool     `json:"pass"`
	Error string   `json:"error,omitempty"`
	Trace []string `json:"trace,omitempty"`
	Skip  bool     `json:"skip,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml>...",
		Short: "Run conformance scenarios",
		Long: `Run conformance scenarios against an in-memory remote.

Each scenario file declares a schema, seed rows, fault injection rules
and a sequence of session steps. A step whose outcome disagrees with
the scenario fails the run.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (unreadable file, invalid scenario, etc.)

Examples:
  remit test scenarios/*.yaml
  remit test scenarios/*.yaml --filter "delete_*"
  remit test scenarios/*.yaml --trace --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by name (glob pattern)")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "print the execution trace for each scenario")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	result := TestResult{Total: len(paths)}

	for _, path := range paths {
		sr, err := runScenarioFile(opts, path)
		if err != nil {
			return err
		}
		switch {
		case sr.Skip:
			result.Skipped++
		case sr.Pass:
			result.Passed++
		default:
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, sr)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputTestText(cmd, opts, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total))
	}
	return nil
}

func runScenarioFile(opts *TestOptions, path string) (ScenarioResult, error) {
	sr := ScenarioResult{File: path}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return sr, WrapExitError(ExitCommandError, fmt.Sprintf("cannot load %s", path), err)
	}
	sr.Name = scenario.Name

	if opts.Filter != "" {
		matched, err := filepath.Match(opts.Filter, scenario.Name)
		if err != nil {
			return sr, WrapExitError(ExitCommandError, "invalid filter pattern", err)
		}
		if !matched {
			sr.Skip = true
			return sr, nil
		}
	}

	res, err := harness.Run(scenario)
	if err != nil {
		sr.Error = err.Error()
		if res != nil && opts.Trace {
			sr.Trace = res.Trace
		}
		return sr, nil
	}

	sr.Pass = true
	if opts.Trace {
		sr.Trace = res.Trace
	}
	return sr, nil
}

func outputTestText(cmd *cobra.Command, opts *TestOptions, result TestResult) {
	w := cmd.OutOrStdout()
	for _, sr := range result.Scenarios {
		switch {
		case sr.Skip:
			if opts.Verbose {
				fmt.Fprintf(w, "skip %s\n", sr.File)
			}
		case sr.Pass:
			fmt.Fprintf(w, "ok   %s\n", sr.Name)
		default:
			fmt.Fprintf(w, "FAIL %s\n", sr.Name)
			fmt.Fprintf(w, "  %s\n", sr.Error)
		}
		if len(sr.Trace) > 0 {
			fmt.Fprintf(w, "  %s\n", strings.Join(sr.Trace, "\n  "))
		}
	}
	fmt.Fprintf(w, "%d passed, %d failed, %d skipped\n", result.Passed, result.Failed, result.Skipped)
}
