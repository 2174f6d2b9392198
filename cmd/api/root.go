package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/prodflow/backend/internal/config"
	"github.com/example/prodflow/backend/internal/db"
	"github.com/example/prodflow/backend/internal/logging"
)

// commandContext lazily builds what subcommands share.
type commandContext struct {
	cfg    config.Config
	logger *zap.Logger
}

func (c *commandContext) init() error {
	if c.logger != nil {
		return nil
	}
	c.cfg = config.Load()
	logger, err := logging.New(c.cfg.LogLevel)
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

func (c *commandContext) openDB() (*gorm.DB, error) {
	return db.New(c.cfg.DatabaseURL, c.logger)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "prodflow",
		Short:         "Department workflow tracker API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if ctx.logger != nil {
				_ = ctx.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newCreateUserCommand(ctx))
	rootCmd.AddCommand(newEventsCommand(ctx))

	return rootCmd
}
