package surveydef

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geofield/fieldsync/internal/model"
)

const validDefinition = `
survey: {
	id:    "survey-1"
	title: "Tree census"
	jobs: [{
		id:   "job-1"
		name: "Mapping"
		tasks: [{
			id: "task-1"
			fields: [{
				id:    "species"
				label: "Species"
				type:  "TEXT"
			}, {
				id:          "health"
				label:       "Health"
				type:        "MULTIPLE_CHOICE"
				cardinality: "SELECT_ONE"
				options: [{id: "good", label: "Good"}, {id: "poor", label: "Poor"}]
			}]
		}]
	}]
}
`

func TestCompile_ValidDefinition(t *testing.T) {
	survey, errs := Compile([]byte(validDefinition), "survey.cue")
	require.Empty(t, errs)

	assert.Equal(t, "survey-1", survey.ID)
	assert.Equal(t, "Tree census", survey.Title)
	require.Len(t, survey.Jobs, 1)
	require.Len(t, survey.Jobs[0].Tasks, 1)

	task := survey.Jobs[0].Tasks[0]
	require.Len(t, task.Fields, 2)
	assert.Equal(t, model.FieldTypeText, task.Fields[0].Type)
	assert.Equal(t, model.CardinalitySelectOne, task.Fields[1].Cardinality)
	assert.Len(t, task.Fields[1].Options, 2)
}

func TestCompile_RejectsUnknownFieldType(t *testing.T) {
	src := `
survey: {
	id:    "survey-1"
	title: "Bad"
	jobs: [{
		id:   "job-1"
		name: "Mapping"
		tasks: [{
			id: "task-1"
			fields: [{id: "f", label: "F", type: "PHOTO"}]
		}]
	}]
}
`
	_, errs := Compile([]byte(src), "survey.cue")
	require.NotEmpty(t, errs)
	assert.Equal(t, ErrSchema, errs[0].Code)
}

func TestCompile_RejectsEmptyID(t *testing.T) {
	src := `
survey: {
	id:    ""
	title: "Bad"
	jobs: []
}
`
	_, errs := Compile([]byte(src), "survey.cue")
	require.NotEmpty(t, errs)
	assert.Equal(t, ErrSchema, errs[0].Code)
}

func TestCompile_MissingSurveyValue(t *testing.T) {
	_, errs := Compile([]byte(`other: {}`), "survey.cue")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrSchema, errs[0].Code)
	assert.Contains(t, errs[0].Message, "no top-level survey")
}

func TestCompile_NoJobs(t *testing.T) {
	src := `
survey: {
	id:    "survey-1"
	title: "Empty"
	jobs: []
}
`
	_, errs := Compile([]byte(src), "survey.cue")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrNoJobs, errs[0].Code)
}

func TestCompile_DuplicateFieldID(t *testing.T) {
	src := `
survey: {
	id:    "survey-1"
	title: "Dup"
	jobs: [{
		id:   "job-1"
		name: "Mapping"
		tasks: [{
			id: "task-1"
			fields: [
				{id: "f", label: "A", type: "TEXT"},
				{id: "f", label: "B", type: "NUMBER"},
			]
		}]
	}]
}
`
	_, errs := Compile([]byte(src), "survey.cue")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateID, errs[0].Code)
}

func TestCompile_ChoiceFieldWithoutOptions(t *testing.T) {
	src := `
survey: {
	id:    "survey-1"
	title: "Choice"
	jobs: [{
		id:   "job-1"
		name: "Mapping"
		tasks: [{
			id: "task-1"
			fields: [{id: "c", label: "C", type: "MULTIPLE_CHOICE"}]
		}]
	}]
}
`
	_, errs := Compile([]byte(src), "survey.cue")
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.Equal(t, ErrChoiceField, e.Code)
	}
}

func TestCompile_TextFieldWithChoiceSettings(t *testing.T) {
	src := `
survey: {
	id:    "survey-1"
	title: "Stray"
	jobs: [{
		id:   "job-1"
		name: "Mapping"
		tasks: [{
			id: "task-1"
			fields: [{
				id:    "t"
				label: "T"
				type:  "TEXT"
				options: [{id: "x", label: "X"}]
			}]
		}]
	}]
}
`
	_, errs := Compile([]byte(src), "survey.cue")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrStrayChoice, errs[0].Code)
}

func TestLoadDir_CompilesAllFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cue"), []byte(validDefinition), 0o644))

	second := `
survey: {
	id:    "survey-2"
	title: "Second"
	jobs: [{id: "job-1", name: "J", tasks: []}]
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.cue"), []byte(second), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	definitions, errs := LoadDir(dir)
	require.Empty(t, errs)
	require.Len(t, definitions, 2)
	assert.Equal(t, "survey-1", definitions[0].Survey.ID)
	assert.Equal(t, "survey-2", definitions[1].Survey.ID)
	assert.NotEmpty(t, definitions[0].JSON)
}

func TestLoadDir_CollectsErrorsAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.cue"), []byte(validDefinition), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte(`survey: {id: ""}`), 0o644))

	definitions, errs := LoadDir(dir)
	require.NotEmpty(t, errs)
	// The good file still compiles
	require.Len(t, definitions, 1)
	assert.Equal(t, "survey-1", definitions[0].Survey.ID)
}

func TestLoadDir_EmptyDirectory(t *testing.T) {
	_, errs := LoadDir(t.TempDir())
	require.Len(t, errs, 1)
	var ve ValidationError
	require.ErrorAs(t, errs[0], &ve)
	assert.Equal(t, ErrNoDefinitions, ve.Code)
}
