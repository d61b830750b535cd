package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mcdev12/classroom/go/internal/config"
)

type Flags struct {
	ConfigPath string
	Host       bool
	JoinCode   string
	TeamName   string
}

func parseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("classroom", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", getEnv("CLASSROOM_CONFIG", ""), "path to a YAML config file")
	fs.BoolVar(&f.Host, "host", false, "create a new session and host it")
	fs.StringVar(&f.JoinCode, "join", "", "session code to join")
	fs.StringVar(&f.TeamName, "team", "", "team name to join as")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.Host && f.JoinCode != "" {
		return f, fmt.Errorf("--host and --join are mutually exclusive")
	}
	if f.JoinCode != "" && strings.TrimSpace(f.TeamName) == "" {
		return f, fmt.Errorf("--join needs --team")
	}
	return f, nil
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
