package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"charsearch/internal/api"
	charapp "charsearch/internal/app/character"
	"charsearch/internal/app/fallback"
	"charsearch/internal/platform/config"
	"charsearch/internal/platform/gql"
	"charsearch/internal/platform/mq"
	"charsearch/internal/platform/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := observability.NewLogger(cfg.Env, cfg.LogLevel, "charsearch")
	metrics := observability.NewMetrics()

	publisher, err := mq.NewPublisher(cfg.NATSURL, "charsearch")
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable; using noop publisher")
		publisher = mq.NewNoopPublisher()
	}
	defer publisher.Close()

	strategy, err := fallback.ParseStrategy(cfg.FallbackStrategy)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid fallback strategy")
	}

	client := gql.New(cfg.GraphQLEndpoint, cfg.GraphQLTimeout, logger)
	charSvc := charapp.NewService(client, logger, metrics)
	selector := fallback.NewSelector(strategy, charSvc, cfg.FallbackIDRange, logger, metrics)

	handler := api.NewHandler(logger, charSvc, selector, metrics, publisher, api.Settings{
		CorsOrigin:      cfg.CorsOrigin,
		SearchDebounce:  cfg.SearchDebounce,
		WSRate:          cfg.WSMessagesPerSec,
		WSBurst:         cfg.WSMessageBurst,
		WSMaxMessageLen: cfg.WSMaxMessageLen,
	})
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("graphql_endpoint", cfg.GraphQLEndpoint).
			Str("fallback_strategy", string(strategy)).
			Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	handler.Close()
	logger.Info().Msg("server stopped")
}
