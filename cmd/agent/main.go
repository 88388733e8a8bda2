package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ledstrip-controller/internal/agent"
	"ledstrip-controller/internal/config"
)

// These variables will be set by the build script
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	port := flag.String("port", "", "controller serial port (overrides link.port)")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	log.Info().Str("version", version).Str("commit", commit).Str("built", date).Msg("Starting LED strip agent")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Link.Port = *port
	}
	zerolog.SetGlobalLevel(cfg.Level())

	a, err := agent.NewAgent(cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create agent")
	}

	go a.Run()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down agent")
	a.Shutdown()
	log.Info().Msg("Agent shut down gracefully")
}
