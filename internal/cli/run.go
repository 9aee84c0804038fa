package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geofield/fieldsync/internal/remote"
	"github.com/geofield/fieldsync/internal/store"
	"github.com/geofield/fieldsync/internal/surveydef"
	"github.com/geofield/fieldsync/internal/syncer"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string

	// DataSource overrides the websocket remote (for testing). If nil,
	// the remote is dialed from the config's remote_url.
	DataSource remote.DataSource
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync agent",
		Long: `Start the fieldsync agent.

The agent opens the local SQLite database (creating it if needed), compiles
the survey definitions, connects to the remote store, and runs the queue
drain loop and the change-feed reconciler until interrupted.

Example:
  fieldsync run --config ./fieldsync.yaml
  fieldsync run --config /etc/fieldsync.yaml --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to yaml config file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runAgent(opts *RunOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger.Info("compiling survey definitions", "dir", cfg.SurveysDir)
	definitions, loadErrs := surveydef.LoadDir(cfg.SurveysDir)
	if len(loadErrs) > 0 {
		return WrapExitError(ExitCommandError, "invalid survey definitions", errors.Join(loadErrs...))
	}
	logger.Info("survey definitions compiled", "surveys", len(definitions))

	logger.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	for _, def := range definitions {
		if err := st.PutSurvey(ctx, def.Survey, def.JSON); err != nil {
			return WrapExitError(ExitCommandError, "failed to store survey definition", err)
		}
	}

	dataSource := opts.DataSource
	if dataSource == nil {
		logger.Info("connecting to remote store", "url", cfg.RemoteURL)
		ws, err := remote.Dial(ctx, remote.Config{URL: cfg.RemoteURL}, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to remote store", err)
		}
		dataSource = ws
	}
	defer func() {
		if closeErr := dataSource.Close(); closeErr != nil {
			logger.Error("error closing remote connection", "error", closeErr)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	s := syncer.New(st, dataSource, cfg.SyncerConfig(), logger)

	errCh := make(chan error, len(definitions)+1)
	go func() { errCh <- s.Run(ctx) }()
	for _, def := range definitions {
		r := syncer.NewReconciler(st, dataSource, logger)
		surveyID := def.Survey.ID
		go func() { errCh <- r.Run(ctx, surveyID) }()
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Sync agent started. Press Ctrl-C to stop.")

	err = <-errCh
	cancel()
	// Drain remaining goroutines before returning
	for i := 0; i < len(definitions); i++ {
		<-errCh
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "sync agent error", err)
	}
	logger.Info("sync agent stopped")
	return nil
}
