package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailtriage/internal/handler"
	"mailtriage/internal/httpserver"
	"mailtriage/internal/ingest"
	"mailtriage/internal/repository"
	"mailtriage/pkg/mq"
	"mailtriage/pkg/outbox"
)

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: "Runs the HTTP API. With mq.url configured it also relays outbox events to RabbitMQ " +
			"and stores emails arriving on the email.received queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if migrate {
				if err := repository.MigrateUp(ctx, rt.cfg.DB.DSN(), rt.logger); err != nil {
					return err
				}
			}
			return serve(ctx, rt)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

func serve(ctx context.Context, rt *runtime) error {
	log := rt.logger
	ctx, cancel := context.WithCancel(ctx)

	// 先停止后台 goroutine，再关闭它们使用的连接
	var (
		wg      sync.WaitGroup
		closers []func()
	)
	defer func() {
		cancel()
		wg.Wait()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	var adminHandler *handler.AdminHandler
	if rt.cfg.MQ.URL != "" {
		publisher, err := mq.NewPublisher(rt.cfg.MQ.URL)
		if err != nil {
			return fmt.Errorf("failed to init publisher: %w", err)
		}
		closers = append(closers, publisher.Close)

		dispatcher := outbox.NewDispatcher(rt.outboxRepo, publisher, log).
			WithInterval(rt.cfg.Outbox.Interval).
			WithBatchSize(rt.cfg.Outbox.BatchSize).
			WithMaxRetries(rt.cfg.Outbox.MaxRetries)
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatcher.Start(ctx)
		}()

		adminHandler = handler.NewAdminHandler(outbox.NewReplayService(rt.outboxRepo, publisher, log), log)

		consumer, err := mq.NewConsumer(rt.cfg.MQ.URL, rt.cfg.Ingest.Queue, rt.cfg.Ingest.RoutingKey, log)
		if err != nil {
			return fmt.Errorf("failed to init consumer: %w", err)
		}
		closers = append(closers, consumer.Close)
		consumer.SetHandler(ingest.NewEmailReceivedHandler(rt.triage, log).HandleEmailReceived)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.StartConsuming(ctx); err != nil {
				log.Error("Consumer stopped with error", zap.Error(err))
			}
		}()
	} else {
		log.Info("mq.url not set; outbox dispatcher and email.received consumer disabled")
	}

	router := httpserver.NewRouter(httpserver.Deps{
		EmailHandler:  handler.NewEmailHandler(rt.triage, log),
		PromptHandler: handler.NewPromptHandler(rt.triage, log),
		AdminHandler:  adminHandler,
		JWTSecret:     rt.cfg.JWT.Secret,
		DB:            rt.pool,
		Redis:         rt.redis,
		Logger:        log,
	})
	if rt.cfg.JWT.Secret == "" {
		log.Warn("jwt.secret not set; API is unauthenticated")
	}

	return httpserver.NewServer(rt.cfg.Server.Port, router, rt.cfg.Server.CORSOrigins, log).Run(ctx)
}
