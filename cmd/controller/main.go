package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"

	"ledstrip-controller/internal/config"
	"ledstrip-controller/internal/controller"
	"ledstrip-controller/internal/led"
	"ledstrip-controller/internal/profile"
	"ledstrip-controller/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	port := flag.String("port", "", "serial port to listen on (overrides device.port)")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	log.Info().Str("version", version).Str("commit", commit).Str("built", date).Msg("Starting LED strip controller")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Device.Port = *port
	}
	zerolog.SetGlobalLevel(cfg.Level())

	if err := run(cfg.Device); err != nil {
		log.Fatal().Err(err).Msg("Controller failed")
	}
}

// run owns every resource so deferred closes happen before main exits.
func run(cfg config.DeviceConfig) error {
	p, err := cfg.BuildProfile()
	if err != nil {
		return fmt.Errorf("device profile: %w", err)
	}

	driver, err := openDriver(cfg, p)
	if err != nil {
		return fmt.Errorf("open LED driver: %w", err)
	}
	defer driver.Close()

	rwc, err := serial.Open(serial.PortConfig{Name: cfg.Port, Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout})
	if err != nil {
		return fmt.Errorf("open serial port: %w", err)
	}
	defer rwc.Close()

	c, err := controller.New(cfg.Name, rwc, p, driver, cfg.DispatchOptions()...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = c.Run(ctx)

	st := c.Stats()
	log.Info().Int("messages", st.Messages).Int("rejected", st.Rejected).Int("refreshes", st.Refreshes).
		Int("framingErrors", st.FramingErrors).Int("resyncs", st.Resyncs).Int("driverErrors", st.DriverErrors).
		Msg("Controller shut down")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openDriver drives the physical LEDs. The strip is fed the addressable
// framebuffer, padding gaps included.
func openDriver(cfg config.DeviceConfig, p *profile.Profile) (led.Driver, error) {
	if cfg.Driver == "spi" {
		return led.OpenSPI(cfg.SPI.Dev, p.Addressable(), physic.Frequency(cfg.SPI.FreqKHz)*physic.KiloHertz)
	}
	return led.NewSim(p.Addressable())
}
