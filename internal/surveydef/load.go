package surveydef

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/geofield/fieldsync/internal/model"
)

// Definition is one compiled survey definition ready to be stored.
type Definition struct {
	Survey model.Survey
	// JSON is the definition serialized for storage and schema checks.
	JSON []byte
	Path string
}

// LoadDir compiles every *.cue file in dir, in lexical order. Compilation
// stops at nothing: every file is processed and all errors are returned
// together, so one broken definition does not hide problems in another.
func LoadDir(dir string) ([]Definition, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{ValidationError{
			Field: "load", Code: ErrFileUnreadable,
			Message: fmt.Sprintf("reading definitions directory: %v", err),
		}}
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".cue" {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, []error{ValidationError{
			Field: "load", Code: ErrNoDefinitions,
			Message: fmt.Sprintf("no .cue definition files in %s", dir),
		}}
	}

	var definitions []Definition
	var errs []error
	for _, path := range paths {
		def, fileErrs := loadFile(path)
		if len(fileErrs) > 0 {
			errs = append(errs, fileErrs...)
			continue
		}
		definitions = append(definitions, def)
	}
	return definitions, errs
}

func loadFile(path string) (Definition, []error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, []error{ValidationError{
			Field: "load", Code: ErrFileUnreadable,
			Message: fmt.Sprintf("reading %s: %v", path, err),
		}}
	}

	survey, verrs := Compile(source, path)
	if len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, ve := range verrs {
			errs[i] = fmt.Errorf("%s: %w", path, ve)
		}
		return Definition{}, errs
	}

	data, err := json.Marshal(survey)
	if err != nil {
		return Definition{}, []error{fmt.Errorf("%s: serialize survey: %w", path, err)}
	}
	return Definition{Survey: survey, JSON: data, Path: path}, nil
}
