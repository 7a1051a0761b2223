// Package main is the entry point for the toolbroker CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agentfold/toolbroker/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const (
	exitDenied      = 1
	exitConfigError = 2
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code    int
	message string
}

func (e *exitError) Error() string { return e.message }

func main() {
	// A local .env is a convenience for development; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(exitConfigError)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "toolbroker").Str("version", version).Logger()

	root := newRootCommand(cfg, log.Logger)
	if err := root.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.message != "" {
				fmt.Fprintln(os.Stderr, exit.message)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitDenied)
	}
}
