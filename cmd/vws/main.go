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
	"vumock/internal/match"
	"vumock/internal/server"
	"vumock/internal/vws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "vws")

	matcher, err := match.ForName(cfg.Engines.MatchStrategy)
	if err != nil {
		logger.Fatal().Err(err).Msg("select match strategy")
	}

	client := manager.NewClient(cfg.Manager)
	face := vws.New(logger, client, matcher, cfg)
	httpServer := server.New(cfg.VWS, cfg.Environment, logger, face.Register)

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
