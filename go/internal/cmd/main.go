package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid arguments")
	}
	cfg, err := loadConfig(flags.ConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, closeDB, err := setupPersistence(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up persistence")
	}
	defer closeDB()

	storage, closeStorage, err := setupStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up local storage")
	}
	defer closeStorage()

	notifier, closeNotifier := setupNotifier(cfg)
	defer closeNotifier()

	services := setupServices(cfg, db, storage, notifier)
	defer services.Agent.Close()
	go services.Feed.Start(ctx)

	if err := bootstrap(ctx, services, flags); err != nil {
		log.Fatal().Err(err).Msg("failed to start game")
	}

	server := setupServer(cfg.Server.Addr, services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("classroom agent listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down classroom agent")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	cancel()
	log.Info().Msg("classroom agent stopped")
}
