package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSurveyCUE = `
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
			}]
		}]
	}]
}
`

const invalidSurveyCUE = `
survey: {
	id:    "survey-2"
	title: "Broken"
	jobs: [{
		id:   "job-1"
		name: "Mapping"
		tasks: [{
			id: "task-1"
			fields: [{
				id:    "species"
				label: "Species"
				type:  "FREEFORM"
			}]
		}]
	}]
}
`

func writeSurveyDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestValidateCommand_Valid(t *testing.T) {
	dir := writeSurveyDir(t, map[string]string{"trees.cue": validSurveyCUE})

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "All survey definitions valid.")
}

func TestValidateCommand_InvalidFieldType(t *testing.T) {
	dir := writeSurveyDir(t, map[string]string{"broken.cue": invalidSurveyCUE})

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "broken.cue")
}

func TestValidateCommand_JSONReportsAllFiles(t *testing.T) {
	dir := writeSurveyDir(t, map[string]string{
		"good.cue": validSurveyCUE,
		"bad.cue":  invalidSurveyCUE,
	})

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, merr := json.Marshal(resp.Data)
	require.NoError(t, merr)
	var result ValidationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.False(t, result.Valid)
	assert.Contains(t, result.Surveys, "survey-1")
	require.NotEmpty(t, result.Errors)
}

func TestValidateCommand_EmptyDir(t *testing.T) {
	dir := t.TempDir()

	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
