package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/prodflow/backend/internal/cache"
	"github.com/example/prodflow/backend/internal/db"
	"github.com/example/prodflow/backend/internal/events"
	httpserver "github.com/example/prodflow/backend/internal/http"
	"github.com/example/prodflow/backend/internal/mq"
	"github.com/example/prodflow/backend/internal/notify"
	"github.com/example/prodflow/backend/internal/repository"
	"github.com/example/prodflow/backend/internal/service"
	"github.com/example/prodflow/backend/internal/websocket"
	"github.com/example/prodflow/backend/internal/worker"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, cache warmer and live push hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func runServe(parent context.Context, cc *commandContext) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, log := cc.cfg, cc.logger

	database, err := cc.openDB()
	if err != nil {
		return errors.Wrap(err, "connect database")
	}
	if err := db.Migrate(database); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := repository.NewStore(database)
	progress := cache.New(store.Activities.ListPendingByDepartment, cache.Options{
		TTL:           cfg.Cache.TTL,
		ReadTimeout:   cfg.Cache.ReadTimeout,
		FallbackLimit: cfg.Cache.FallbackLimit,
		Logger:        log,
	})

	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	notifier := notify.New(store.Notifications, hub, log)
	bus := events.NewBus(log)
	bus.Subscribe("notify", notifier.Handle)

	publisher, err := mq.NewRabbitPublisher(cfg.MQURL, cfg.MQEventExchange, log)
	if err != nil {
		log.Warn("rabbitmq unavailable, continuing without event forwarding", zap.Error(err))
	} else {
		defer publisher.Close()
		bus.Subscribe("mq", mq.Forward(publisher))
	}

	warmer := worker.NewCacheWarmer(progress, worker.WarmerOptions{
		Interval:      cfg.Cache.WarmInterval,
		LargeBacklog:  cfg.Cache.LargeBacklog,
		LargeInterval: cfg.Cache.LargeBacklogInterval,
	}, log)
	go warmer.Run(ctx)

	apiServer := httpserver.NewServer(httpserver.Deps{
		Workflow:      service.NewWorkflowService(store, progress, bus, notifier, cfg.WriteTimeout, log),
		Reprints:      service.NewReprintService(store, progress, bus, notifier, cfg.WriteTimeout, log),
		Users:         service.NewUserService(store.Users, cfg.JWTSecret, cfg.TokenTTL, log),
		Notifications: service.NewNotificationService(store.Notifications),
		Hub:           hub,
		JWTSecret:     cfg.JWTSecret,
		Logger:        log,
	})

	srv := &http.Server{
		Addr:    cfg.HTTPPort,
		Handler: apiServer.Engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown initiated")
	case err := <-errCh:
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
	}
	log.Info("bye")
	return nil
}
