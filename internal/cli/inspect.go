package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/geofield/fieldsync/internal/model"
	"github.com/geofield/fieldsync/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
}

// entityReport is the inspect command's output payload for one entity.
type entityReport struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	SurveyID  string          `json:"survey_id"`
	JobID     string          `json:"job_id"`
	LoiID     string          `json:"loi_id,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	State     string          `json:"state"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
	Responses json.RawMessage `json:"responses,omitempty"`
	Queued    []queuedRow     `json:"queued_mutations,omitempty"`
}

type queuedRow struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	SyncStatus string `json:"sync_status"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <entity-id>",
		Short: "Show a cached entity and its queued mutations",
		Long: `Show the locally cached state of one entity together with its queued
mutations, including retry counts and last errors. The main tool for
diagnosing stuck mutations.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runInspect(opts *InspectOptions, entityID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
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

	entity, err := st.Entity(ctx, entityID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, "failed to read entity", err)
	}
	queued, qerr := st.IncompleteMutations(ctx, entityID)
	if qerr != nil {
		return WrapExitError(ExitCommandError, "failed to read queue", qerr)
	}

	if errors.Is(err, store.ErrNotFound) && len(queued) == 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("entity not found: %s", entityID))
	}

	entity.ID = entityID // zero-valued when only queue rows remain
	report, rerr := buildEntityReport(entity, queued)
	if rerr != nil {
		return WrapExitError(ExitCommandError, "failed to encode entity", rerr)
	}

	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	writeEntityText(formatter.Writer, report)
	return nil
}

func buildEntityReport(e model.Entity, queued []model.Mutation) (entityReport, error) {
	report := entityReport{
		ID:       e.ID,
		Kind:     string(e.Kind),
		SurveyID: e.SurveyID,
		JobID:    e.JobID,
		LoiID:    e.LoiID,
		TaskID:   e.TaskID,
		State:    string(e.State),
	}
	if e.Geometry != nil {
		data, err := model.MarshalGeometry(e.Geometry)
		if err != nil {
			return entityReport{}, err
		}
		report.Geometry = data
	}
	if e.Responses != nil {
		data, err := model.MarshalResponseMap(e.Responses)
		if err != nil {
			return entityReport{}, err
		}
		report.Responses = data
	}
	for _, m := range queued {
		report.Queued = append(report.Queued, queuedRow{
			ID:         m.ID,
			Type:       string(m.Type),
			SyncStatus: string(m.SyncStatus),
			RetryCount: m.RetryCount,
			LastError:  m.LastError,
		})
	}
	return report, nil
}

func writeEntityText(w io.Writer, report entityReport) {
	fmt.Fprintf(w, "Entity %s (%s, %s)\n", report.ID, report.Kind, report.State)
	fmt.Fprintf(w, "  survey: %s  job: %s\n", report.SurveyID, report.JobID)
	if report.LoiID != "" {
		fmt.Fprintf(w, "  loi: %s  task: %s\n", report.LoiID, report.TaskID)
	}
	if report.Geometry != nil {
		fmt.Fprintf(w, "  geometry: %s\n", report.Geometry)
	}
	if report.Responses != nil {
		fmt.Fprintf(w, "  responses: %s\n", report.Responses)
	}
	if len(report.Queued) == 0 {
		fmt.Fprintln(w, "  queue: empty")
		return
	}
	fmt.Fprintf(w, "  queue (%d):\n", len(report.Queued))
	for _, q := range report.Queued {
		fmt.Fprintf(w, "    #%d %s %s retries=%d", q.ID, q.Type, q.SyncStatus, q.RetryCount)
		if q.LastError != "" {
			fmt.Fprintf(w, " last_error=%q", q.LastError)
		}
		fmt.Fprintln(w)
	}
}
