package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/remit/internal/schema"
)

// FileValidation holds the validation result for a single schema file.
type FileValidation struct {
	File   string   `json:"file"`
	Valid  bool     `json:"valid"`
	Types  []string `json:"types,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// ValidationResult holds validation results across all files.
type ValidationResult struct {
	Files  []FileValidation `json:"files"`
	Valid  bool             `json:"valid"`
	Passed int              `json:"passed"`
	Failed int              `json:"failed"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema.cue>...",
		Short: "Validate entity schema files",
		Long: `Validate CUE entity schema files.

Compiles each file into entity types and reports field-level errors
with source positions. No session is created and no remote is contacted.

Exit codes:
  0 - All schemas valid
  1 - One or more schemas invalid
  2 - Command error (unreadable file, etc.)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	result := ValidationResult{Valid: true}
	for _, path := range paths {
		formatter.VerboseLog("Validating %s", path)
		fv, err := validateFile(path)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("cannot read %s", path), err)
		}
		if fv.Valid {
			result.Passed++
		} else {
			result.Failed++
			result.Valid = false
		}
		result.Files = append(result.Files, fv)
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		for _, fv := range result.Files {
			if fv.Valid {
				fmt.Fprintf(formatter.Writer, "ok   %s (%d types)\n", fv.File, len(fv.Types))
				continue
			}
			fmt.Fprintf(formatter.Writer, "FAIL %s\n", fv.File)
			for _, msg := range fv.Errors {
				fmt.Fprintf(formatter.Writer, "  %s\n", msg)
			}
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d schema file(s) invalid", result.Failed, len(result.Files)))
	}
	return nil
}

func validateFile(path string) (FileValidation, error) {
	fv := FileValidation{File: path}

	src, err := os.ReadFile(path)
	if err != nil {
		return fv, err
	}

	types, err := schema.CompileString(string(src))
	if err != nil {
		fv.Errors = compileMessages(err)
		return fv, nil
	}

	fv.Valid = true
	for _, t := range types {
		fv.Types = append(fv.Types, t.Name())
	}
	sort.Strings(fv.Types)
	return fv, nil
}

// compileMessages flattens a (possibly joined) compile error into messages.
func compileMessages(err error) []string {
	var msgs []string
	for _, e := range flatten(err) {
		msgs = append(msgs, e.Error())
	}
	return msgs
}

func flatten(err error) []error {
	type unwrapper interface{ Unwrap() []error }
	var u unwrapper
	if errors.As(err, &u) {
		var out []error
		for _, e := range u.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}
