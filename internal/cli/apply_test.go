package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geofield/fieldsync/internal/model"
	"github.com/geofield/fieldsync/internal/store"
)

func newTestDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldsync.db")
	st, err := store.Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, st.Close())
	return path
}

func openTestDatabase(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func writeMutationFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mutation.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestApplyCommand_QueuesCreate(t *testing.T) {
	dbPath := newTestDatabase(t)
	mutPath := writeMutationFile(t, `{
		"type": "CREATE",
		"entity_kind": "LOCATION_OF_INTEREST",
		"entity_id": "loi-1",
		"survey_id": "survey-1",
		"job_id": "job-1",
		"geometry": {"type": "point", "coordinates": {"lat": 10, "lng": 20}}
	}`)

	buf := &bytes.Buffer{}
	cmd := NewApplyCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--user", "user-1", mutPath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Queued mutation 1 for entity loi-1")

	st := openTestDatabase(t, dbPath)
	entity, err := st.Entity(context.Background(), "loi-1")
	require.NoError(t, err)
	assert.Equal(t, model.KindLocationOfInterest, entity.Kind)

	queued, err := st.IncompleteMutations(context.Background(), "loi-1")
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "user-1", queued[0].UserID)
	assert.WithinDuration(t, time.Now().UTC(), queued[0].ClientTime, time.Minute)
}

func TestApplyCommand_GeneratesIDForCreate(t *testing.T) {
	dbPath := newTestDatabase(t)
	mutPath := writeMutationFile(t, `{
		"type": "CREATE",
		"entity_kind": "LOCATION_OF_INTEREST",
		"survey_id": "survey-1",
		"job_id": "job-1",
		"geometry": {"type": "point", "coordinates": {"lat": 1, "lng": 2}}
	}`)

	buf := &bytes.Buffer{}
	cmd := NewApplyCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--user", "user-1", mutPath})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result applyResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Len(t, result.EntityID, 36)
	assert.Equal(t, int64(1), result.MutationID)
}

func TestApplyCommand_RejectsInvalidMutation(t *testing.T) {
	dbPath := newTestDatabase(t)
	mutPath := writeMutationFile(t, `{
		"type": "UPDATE",
		"entity_kind": "LOCATION_OF_INTEREST",
		"entity_id": "loi-missing",
		"survey_id": "survey-1",
		"job_id": "job-1"
	}`)

	cmd := NewApplyCommand(&RootOptions{Format: "text"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--db", dbPath, "--user", "user-1", mutPath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "mutation rejected")

	st := openTestDatabase(t, dbPath)
	queued, err := st.IncompleteMutations(context.Background(), "loi-missing")
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestApplyCommand_BadJSONFile(t *testing.T) {
	dbPath := newTestDatabase(t)
	mutPath := writeMutationFile(t, `{not json`)

	cmd := NewApplyCommand(&RootOptions{Format: "text"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--db", dbPath, "--user", "user-1", mutPath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid mutation file")
}

func TestApplyCommand_MissingDatabase(t *testing.T) {
	mutPath := writeMutationFile(t, `{"type": "CREATE"}`)

	cmd := NewApplyCommand(&RootOptions{Format: "text"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "absent.db"), "--user", "user-1", mutPath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}
