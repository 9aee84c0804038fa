package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/geofield/fieldsync/internal/store"
	"github.com/geofield/fieldsync/internal/syncer"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
	RetryCap int
}

// StatusReport is the status command's output payload.
type StatusReport struct {
	Queue    store.QueueStats `json:"queue"`
	Entities []string         `json:"entities_with_queued_work,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show mutation queue status",
		Long: `Show the state of the local mutation queue: how many mutations are
waiting, in flight, or failed, and which entities still have unsynced work.
Stuck mutations (failed past the retry cap) need intervention; see the
inspect command for their diagnostics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().IntVar(&opts.RetryCap, "retry-cap", syncer.DefaultRetryConfig().MaxAttempts,
		"retry cap used to classify stuck mutations")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
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

	stats, err := st.Stats(ctx, opts.RetryCap)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read queue stats", err)
	}
	entities, err := st.EntitiesWithIncompleteMutations(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list queued entities", err)
	}

	report := StatusReport{Queue: stats, Entities: entities}
	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	writeStatusText(formatter.Writer, report)
	return nil
}

func writeStatusText(w io.Writer, report StatusReport) {
	fmt.Fprintf(w, "Queue: %d pending, %d in progress, %d failed (%d stuck)\n",
		report.Queue.Pending, report.Queue.InProgress, report.Queue.Failed, report.Queue.Stuck)
	if len(report.Entities) == 0 {
		fmt.Fprintln(w, "All entities synced.")
		return
	}
	fmt.Fprintf(w, "Entities with queued work (%d):\n", len(report.Entities))
	for _, id := range report.Entities {
		fmt.Fprintf(w, "  %s\n", id)
	}
}

// openExisting opens a database that must already exist; status and inspect
// never create one.
func openExisting(path string) (*store.Store, error) {
	if !fileExists(path) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path, slog.Default())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
