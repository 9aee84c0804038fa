package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/geofield/fieldsync/internal/surveydef"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool                        `json:"valid"`
	Surveys []string                    `json:"surveys,omitempty"`
	Errors  []surveydef.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <surveys-dir>",
		Short: "Validate survey definitions",
		Long: `Validate CUE survey definitions without touching the database.

Checks schema conformance (field types, cardinalities, required values) and
semantic consistency (unique ids, choice fields carrying options). All
problems across all files are reported in one pass.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	definitions, errs := surveydef.LoadDir(dir)

	result := ValidationResult{Valid: len(errs) == 0}
	for _, def := range definitions {
		result.Surveys = append(result.Surveys, def.Survey.ID)
		formatter.VerboseLog("Compiled %s (%s)", def.Survey.ID, def.Path)
	}
	for _, err := range errs {
		result.Errors = append(result.Errors, toValidationError(err))
	}

	if !result.Valid {
		if formatter.Format == "json" {
			if err := formatter.Success(result); err != nil {
				return err
			}
		} else {
			for _, ve := range result.Errors {
				if err := formatter.Error(ve.Code, ve.Message, nil); err != nil {
					return err
				}
			}
		}
		return NewExitError(ExitFailure, "validation failed")
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	formatter.VerboseLog("Validated %d survey definition(s)", len(definitions))
	return formatter.Success("All survey definitions valid.")
}

func toValidationError(err error) surveydef.ValidationError {
	var ve surveydef.ValidationError
	if errors.As(err, &ve) {
		// Keep the wrapping context (file path) in the message
		ve.Message = err.Error()
		return ve
	}
	return surveydef.ValidationError{
		Field:   "survey",
		Message: err.Error(),
		Code:    surveydef.ErrSchema,
	}
}
