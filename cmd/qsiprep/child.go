package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pennlinc/qsiprep/internal/config"
	"github.com/pennlinc/qsiprep/internal/infrastructure/logging"
	"github.com/pennlinc/qsiprep/internal/orchestrator"
	"github.com/pennlinc/qsiprep/internal/subprocess"
)

// newChildCmd is the hidden entry of isolated builder processes. The parent
// spawns it with the persisted configuration and reads the retval file back.
func newChildCmd() *cobra.Command {
	var configPath, retvalPath string

	cmd := &cobra.Command{
		Use:    subprocess.ChildCommand + " <entrypoint>",
		Short:  "Run a builder entrypoint in isolation",
		Hidden: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return &usageError{err: err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := backgroundIfNil(cmd.Context())

			// The log level and correlation id follow the parent's run.
			verbosity, runUUID := 0, logging.GenerateCorrelationID()
			if cfg, err := config.Load(configPath); err == nil {
				verbosity, runUUID = cfg.Execution.Verbosity, cfg.Execution.RunUUID
			}
			ctx = logging.WithCorrelationID(ctx, runUUID)

			logger, err := newLogger(cmd.ErrOrStderr(), max(verbosity, 0), max(-verbosity, 0))
			if err != nil {
				return err
			}
			svc, err := newServices(logger)
			if err != nil {
				return err
			}
			entry, ok := svc.builder.Entrypoints()[args[0]]
			if !ok {
				return &usageError{err: fmt.Errorf("unknown entrypoint %q", args[0])}
			}

			if code := subprocess.Serve(ctx, logger.With("component", "workflow"), entry, configPath, retvalPath); code != 0 {
				return &orchestrator.ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path of the persisted run configuration")
	cmd.Flags().StringVar(&retvalPath, "retval", "", "Where to write the result for the parent")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("retval")

	return cmd
}
