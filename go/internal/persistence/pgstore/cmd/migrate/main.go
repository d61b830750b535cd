package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/internal/dbconfig"
	"github.com/mcdev12/classroom/go/internal/persistence/pgstore"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := dbconfig.NewConfigFromEnv()
	if err := pgstore.Migrate(cfg.MigrateURL()); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	log.Info().Str("database", cfg.Database).Msg("database migrations applied")
}
