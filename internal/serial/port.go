package serial

import (
	"fmt"
	"io"
	"time"

	tarm "github.com/tarm/serial"
)

// PortConfig selects and configures a serial device.
type PortConfig struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
}

// DefaultBaud matches the USB serial rate of the controller boards.
const DefaultBaud = 115200

// Open opens a serial port. With a read timeout, a read that sees no data
// returns io.EOF rather than blocking.
func Open(cfg PortConfig) (io.ReadWriteCloser, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("serial port name is required")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}

	port, err := tarm.OpenPort(&tarm.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Name, err)
	}
	return port, nil
}
