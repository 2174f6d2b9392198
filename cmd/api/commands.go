package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/example/prodflow/backend/internal/db"
	"github.com/example/prodflow/backend/internal/events"
	"github.com/example/prodflow/backend/internal/mq"
	"github.com/example/prodflow/backend/internal/repository"
	"github.com/example/prodflow/backend/internal/service"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := ctx.openDB()
			if err != nil {
				return err
			}
			if err := db.Migrate(database); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newCreateUserCommand(ctx *commandContext) *cobra.Command {
	var input service.UserInput
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user, typically the first admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := ctx.openDB()
			if err != nil {
				return err
			}
			if err := db.Migrate(database); err != nil {
				return err
			}
			users := service.NewUserService(repository.NewUserRepository(database), ctx.cfg.JWTSecret, ctx.cfg.TokenTTL, ctx.logger)
			user, err := users.CreateUser(cmd.Context(), input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) with role %s\n", user.Username, user.ID, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&input.Username, "username", "", "Login name")
	cmd.Flags().StringVar(&input.Password, "password", "", "Password")
	cmd.Flags().StringVar(&input.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&input.Role, "role", "admin", "admin or a department name")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newEventsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print workflow events from the broker as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			consumer, err := mq.NewRabbitConsumer(ctx.cfg.MQURL, ctx.cfg.MQEventExchange, ctx.cfg.MQEventQueue, ctx.logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			runCtx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			enc := json.NewEncoder(cmd.OutOrStdout())
			return consumer.Consume(runCtx, func(evt events.Event) error {
				return errors.Wrap(enc.Encode(evt), "write event")
			})
		},
	}
}
