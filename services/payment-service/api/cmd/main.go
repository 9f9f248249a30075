package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/deadletter"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/logger"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/rabbitmq"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/payment-service/internal/config"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/payment-service/internal/gateway"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/payment-service/internal/infrastructure/mongodb"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/payment-service/internal/service"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/payment-service/internal/transport/rest"
)

const serviceName = "payment-service"

func main() {
	cfg := config.Load()
	logger.Init()
	lg := logger.Logger.With().Str("service", serviceName).Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := mongodb.Connect(rootCtx, cfg.MongoURL)
	if err != nil {
		lg.Fatal().Err(err).Msg("mongodb unavailable")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			lg.Error().Err(err).Msg("mongodb disconnect")
		}
	}()

	db := client.Database(cfg.MongoDB)
	if err := mongodb.EnsureIndexes(rootCtx, db); err != nil {
		lg.Fatal().Err(err).Msg("ensure mongodb indexes")
	}

	repo := mongodb.NewRepository(db)
	outboxStore := mongodb.NewOutboxStore(db)
	deadLetters := mongodb.NewDeadLetterStore(db)

	publisher, err := rabbitmq.NewPublisher(rootCtx, rabbitmq.Config{
		URL:            cfg.BrokerURL,
		ConnectRetry:   cfg.ConnectRetry,
		PublishTimeout: cfg.PublishTimeout,
	}, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("broker unavailable")
	}
	defer publisher.Close()

	relay := outbox.NewRelay(outboxStore, publisher, outbox.Config{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxRetries:   cfg.OutboxMaxRetries,
		Backoff:      cfg.OutboxBackoff,
	}, lg)
	go relay.Run(rootCtx)

	gw := gateway.NewSimulated(cfg.SimulatedSuccessRatio, cfg.SimulatedChargeDelay)
	svc := service.New(repo, gw, cfg.PaymentMaxRetries, lg)

	consumerCfg := rabbitmq.ConsumerConfig{
		URL:            cfg.BrokerURL,
		Tag:            serviceName,
		ConnectRetry:   cfg.ConnectRetry,
		PublishTimeout: cfg.PublishTimeout,
		MaxRequeue:     cfg.ConsumerMaxRequeue,
		RetryBackoff:   cfg.ConsumerBackoff,
	}
	regs := svc.Registrations()
	group, err := rabbitmq.StartConsumers(rootCtx, consumerCfg, regs, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("start consumers")
	}
	defer group.Stop()

	sources := make([]string, 0, len(regs))
	for _, reg := range regs {
		sources = append(sources, reg.Queue)
	}
	dlqConsumer := rabbitmq.NewDLQConsumer(consumerCfg, sources, deadLetters, lg)
	if err := dlqConsumer.Start(rootCtx); err != nil {
		lg.Fatal().Err(err).Msg("start dlq consumer")
	}
	defer dlqConsumer.Stop()

	router := rest.NewRouter(rest.RouterDeps{
		Handlers:    rest.NewHandlers(svc),
		DeadLetters: deadletter.NewHandler(deadLetters),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		lg.Info().Msg("shutdown signal received")
	case err := <-errCh:
		lg.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error().Err(err).Msg("http shutdown")
	}
	lg.Info().Msg("stopped")
}
