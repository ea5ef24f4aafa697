package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"vumock/internal/config"
	"vumock/internal/log"
	"vumock/internal/manager"
	"vumock/internal/rate"
	"vumock/internal/server"
	"vumock/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "targetmanager")

	rater, err := rate.ForName(cfg.Engines.RatingStrategy, cfg.Engines.HardcodedRating)
	if err != nil {
		logger.Fatal().Err(err).Msg("select rating strategy")
	}

	st := store.New(rater, rate.AlwaysPass, cfg.Lifecycle.DeletionGraceWindow)
	managerServer := manager.NewServer(logger, st)
	httpServer := server.New(cfg.TargetManager, cfg.Environment, logger, managerServer.Register)

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("shutdown complete")
}
