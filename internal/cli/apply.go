package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/geofield/fieldsync/internal/model"
	"github.com/geofield/fieldsync/internal/store"
	"github.com/geofield/fieldsync/internal/syncer"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Database string
	UserID   string

	// IDGenerator mints entity ids for CREATE mutations that omit one.
	// Defaults to UUIDv7.
	IDGenerator syncer.IDGenerator
}

// mutationInput is the JSON format accepted by apply.
type mutationInput struct {
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	SurveyID   string          `json:"survey_id"`
	JobID      string          `json:"job_id"`
	LoiID      string          `json:"loi_id,omitempty"`
	TaskID     string          `json:"task_id,omitempty"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
	Deltas     json.RawMessage `json:"deltas,omitempty"`
}

// applyResult is the apply command's output payload.
type applyResult struct {
	MutationID int64  `json:"mutation_id"`
	EntityID   string `json:"entity_id"`
}

func (r applyResult) String() string {
	return fmt.Sprintf("Queued mutation %d for entity %s", r.MutationID, r.EntityID)
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <mutation.json>",
		Short: "Apply a mutation locally and queue it for sync",
		Long: `Apply a mutation to the local cache and append it to the sync queue,
atomically. The mutation takes effect immediately regardless of
connectivity; the running agent pushes it when the remote store is
reachable.

A CREATE without an entity_id gets a generated UUIDv7 id, printed on
success.

Example:
  fieldsync apply --db ./fieldsync.db --user user-1 new-tree.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "acting user id (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runApply(opts *ApplyOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, err := readMutation(path, opts)
	if err != nil {
		return err
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	id, err := st.ApplyAndEnqueue(ctx, m)
	if err != nil {
		if store.IsInvalidMutation(err) {
			return WrapExitError(ExitFailure, "mutation rejected", err)
		}
		return WrapExitError(ExitCommandError, "failed to queue mutation", err)
	}

	return formatter.Success(applyResult{MutationID: id, EntityID: m.EntityID})
}

func readMutation(path string, opts *ApplyOptions) (model.Mutation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Mutation{}, WrapExitError(ExitCommandError, "failed to read mutation file", err)
	}

	var input mutationInput
	if err := json.Unmarshal(data, &input); err != nil {
		return model.Mutation{}, WrapExitError(ExitFailure, "invalid mutation file", err)
	}

	m := model.Mutation{
		Type:       model.MutationType(input.Type),
		EntityKind: model.EntityKind(input.EntityKind),
		EntityID:   input.EntityID,
		SurveyID:   input.SurveyID,
		JobID:      input.JobID,
		LoiID:      input.LoiID,
		TaskID:     input.TaskID,
		UserID:     opts.UserID,
		ClientTime: time.Now().UTC(),
	}

	if m.EntityID == "" && m.Type == model.MutationCreate {
		gen := opts.IDGenerator
		if gen == nil {
			gen = syncer.UUIDv7Generator{}
		}
		m.EntityID = gen.Generate()
	}

	if len(input.Geometry) > 0 {
		g, err := model.UnmarshalGeometry(input.Geometry)
		if err != nil {
			return model.Mutation{}, WrapExitError(ExitFailure, "invalid geometry", err)
		}
		m.Geometry = g
	}
	if len(input.Deltas) > 0 {
		deltas, err := model.UnmarshalDeltas(input.Deltas)
		if err != nil {
			return model.Mutation{}, WrapExitError(ExitFailure, "invalid deltas", err)
		}
		m.Deltas = deltas
	}
	return m, nil
}
