// Package surveydef compiles CUE survey definition files into model.Survey
// values. Definitions are validated structurally against an embedded CUE
// schema and then checked for semantic consistency (unique ids, choice
// fields carrying options).
package surveydef

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/geofield/fieldsync/internal/model"
)

//go:embed schema.cue
var schemaSource string

// Validation error codes (E200-E299)
const (
	ErrSchema         = "E200" // CUE schema violation
	ErrNoJobs         = "E201" // survey defines no jobs
	ErrDuplicateID    = "E202" // duplicate job/task/field/option id
	ErrChoiceField    = "E203" // multiple-choice field missing cardinality or options
	ErrStrayChoice    = "E204" // non-choice field carrying cardinality or options
	ErrFileUnreadable = "E210" // definition file could not be read
	ErrNoDefinitions  = "E211" // no definition files found
)

// ValidationError is one problem found in a survey definition.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Compile parses one CUE definition file and returns the survey it
// defines. The file must declare a top-level "survey" value. All problems
// found are returned; the survey is only usable when the error list is
// empty.
func Compile(source []byte, filename string) (model.Survey, []ValidationError) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		// The embedded schema is part of the binary; failing to compile
		// it is a programming error.
		panic(fmt.Sprintf("embedded survey schema does not compile: %v", err))
	}

	value := ctx.CompileBytes(source, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return model.Survey{}, cueToValidationErrors(err)
	}

	surveyVal := value.LookupPath(cue.ParsePath("survey"))
	if !surveyVal.Exists() {
		return model.Survey{}, []ValidationError{{
			Field:   "survey",
			Message: "definition has no top-level survey value",
			Code:    ErrSchema,
		}}
	}

	unified := surveyVal.Unify(schema.LookupPath(cue.ParsePath("#Survey")))
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return model.Survey{}, cueToValidationErrors(err)
	}

	var survey model.Survey
	if err := unified.Decode(&survey); err != nil {
		return model.Survey{}, cueToValidationErrors(err)
	}

	if errs := checkSemantics(survey); len(errs) > 0 {
		return model.Survey{}, errs
	}
	return survey, nil
}

// checkSemantics enforces the rules the CUE schema cannot express.
func checkSemantics(survey model.Survey) []ValidationError {
	var errs []ValidationError
	fail := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   field,
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if len(survey.Jobs) == 0 {
		fail("jobs", ErrNoJobs, "survey %s defines no jobs", survey.ID)
	}

	jobIDs := map[string]bool{}
	for _, job := range survey.Jobs {
		if jobIDs[job.ID] {
			fail("jobs", ErrDuplicateID, "duplicate job id %q", job.ID)
		}
		jobIDs[job.ID] = true

		taskIDs := map[string]bool{}
		for _, task := range job.Tasks {
			if taskIDs[task.ID] {
				fail("tasks", ErrDuplicateID, "duplicate task id %q in job %q", task.ID, job.ID)
			}
			taskIDs[task.ID] = true

			fieldIDs := map[string]bool{}
			for _, field := range task.Fields {
				if fieldIDs[field.ID] {
					fail("fields", ErrDuplicateID, "duplicate field id %q in task %q", field.ID, task.ID)
				}
				fieldIDs[field.ID] = true
				errs = append(errs, checkField(field, task.ID)...)
			}
		}
	}
	return errs
}

func checkField(field model.Field, taskID string) []ValidationError {
	var errs []ValidationError
	where := fmt.Sprintf("field %q in task %q", field.ID, taskID)

	if field.Type == model.FieldTypeMultipleChoice {
		if field.Cardinality == "" {
			errs = append(errs, ValidationError{
				Field: "fields", Code: ErrChoiceField,
				Message: fmt.Sprintf("%s is multiple-choice but has no cardinality", where),
			})
		}
		if len(field.Options) == 0 {
			errs = append(errs, ValidationError{
				Field: "fields", Code: ErrChoiceField,
				Message: fmt.Sprintf("%s is multiple-choice but has no options", where),
			})
		}
		optionIDs := map[string]bool{}
		for _, opt := range field.Options {
			if optionIDs[opt.ID] {
				errs = append(errs, ValidationError{
					Field: "fields", Code: ErrDuplicateID,
					Message: fmt.Sprintf("duplicate option id %q in %s", opt.ID, where),
				})
			}
			optionIDs[opt.ID] = true
		}
		return errs
	}

	if field.Cardinality != "" || len(field.Options) > 0 {
		errs = append(errs, ValidationError{
			Field: "fields", Code: ErrStrayChoice,
			Message: fmt.Sprintf("%s is %s but carries choice settings", where, field.Type),
		})
	}
	return errs
}

func cueToValidationErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Field:   "survey",
			Message: e.Error(),
			Code:    ErrSchema,
		}
		if positions := e.InputPositions(); len(positions) > 0 {
			ve.Line = positions[0].Line()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Field: "survey", Message: err.Error(), Code: ErrSchema})
	}
	return out
}
