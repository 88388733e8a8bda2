// Package ble connects to a controller over the Nordic UART service and
// exposes it as a byte stream for the link.
package ble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"tinygo.org/x/bluetooth"
)

var adapter = bluetooth.DefaultAdapter

const (
	uartServiceUUIDStr = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	// rxCharUUIDStr is written by the host.
	rxCharUUIDStr = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	// txCharUUIDStr notifies the host.
	txCharUUIDStr = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// DefaultChunkSize fits the default ATT MTU.
const DefaultChunkSize = 20

// Config selects the peripheral and tunes the connection.
type Config struct {
	DeviceNames    []string
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	ChunkSize      int
	Rate           float64
	Burst          int
}

// chunkWriter is the write side of the RX characteristic.
type chunkWriter interface {
	WriteWithoutResponse(p []byte) (int, error)
}

// Conn is a connected UART peripheral. Reads return notified bytes in
// arrival order; writes are split into chunks the link layer can carry.
type Conn struct {
	rx      chunkWriter
	limiter *rate.Limiter
	chunk   int
	name    string

	inbox   chan []byte
	pending []byte

	closeOnce  sync.Once
	closed     chan struct{}
	disconnect func() error
}

func newConn(name string, rx chunkWriter, cfg Config, disconnect func() error) *Conn {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 500
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 16
	}
	return &Conn{
		rx:         rx,
		limiter:    rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		chunk:      cfg.ChunkSize,
		name:       name,
		inbox:      make(chan []byte, 64),
		closed:     make(chan struct{}),
		disconnect: disconnect,
	}
}

// Name returns the advertised name of the peripheral.
func (c *Conn) Name() string { return c.name }

// deliver queues one notification. It must not block the BLE stack, so a
// full inbox drops the notification.
func (c *Conn) deliver(buf []byte) {
	data := append([]byte(nil), buf...)
	select {
	case c.inbox <- data:
	case <-c.closed:
	default:
		log.Warn().Str("component", "ble").Int("bytes", len(buf)).Msg("Notification queue full, dropping data")
	}
}

// Read blocks until notified bytes are available.
func (c *Conn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		select {
		case data := <-c.inbox:
			c.pending = data
		case <-c.closed:
			return 0, io.ErrClosedPipe
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write sends p in chunks, paced by the limiter.
func (c *Conn) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		select {
		case <-c.closed:
			return written, io.ErrClosedPipe
		default:
		}

		n := c.chunk
		if n > len(p) {
			n = len(p)
		}
		if err := c.limiter.Wait(context.Background()); err != nil {
			return written, err
		}
		if _, err := c.rx.WriteWithoutResponse(p[:n]); err != nil {
			return written, fmt.Errorf("ble write: %w", err)
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

// Close disconnects from the peripheral.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.disconnect != nil {
			err = c.disconnect()
		}
	})
	return err
}

func contains(s []string, str string) bool {
	for _, v := range s {
		if v == str {
			return true
		}
	}
	return false
}

// Dial scans for one of the configured device names, connects and
// subscribes to the UART TX characteristic. Every step is bounded by its
// timeout because a stuck BlueZ call would otherwise hang forever.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if len(cfg.DeviceNames) == 0 {
		return nil, errors.New("ble: no device names configured")
	}

	serviceUUID, err := bluetooth.ParseUUID(uartServiceUUIDStr)
	if err != nil {
		return nil, err
	}
	rxUUID, _ := bluetooth.ParseUUID(rxCharUUIDStr)
	txUUID, _ := bluetooth.ParseUUID(txCharUUIDStr)

	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable adapter: %w", err)
	}

	result, err := scan(ctx, cfg)
	if err != nil {
		return nil, err
	}

	device, err := connect(ctx, result, cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	type discovered struct {
		rx, tx bluetooth.DeviceCharacteristic
		err    error
	}
	discoverChan := make(chan discovered, 1)
	go func() {
		services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
		if err != nil || len(services) == 0 {
			discoverChan <- discovered{err: fmt.Errorf("uart service not found: %v", err)}
			return
		}
		chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{rxUUID, txUUID})
		if err != nil || len(chars) < 2 {
			discoverChan <- discovered{err: fmt.Errorf("uart characteristics not found: %v", err)}
			return
		}
		var d discovered
		for _, ch := range chars {
			switch ch.UUID() {
			case rxUUID:
				d.rx = ch
			case txUUID:
				d.tx = ch
			}
		}
		discoverChan <- d
	}()

	var chars discovered
	select {
	case chars = <-discoverChan:
		if chars.err != nil {
			device.Disconnect()
			return nil, chars.err
		}
	case <-time.After(cfg.ConnectTimeout):
		device.Disconnect()
		return nil, errors.New("service discovery timed out")
	case <-ctx.Done():
		device.Disconnect()
		return nil, ctx.Err()
	}

	rx := chars.rx
	conn := newConn(result.LocalName(), &rx, cfg, device.Disconnect)
	if err := chars.tx.EnableNotifications(conn.deliver); err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("enable notifications: %w", err)
	}

	log.Info().Str("component", "ble").Str("device", conn.name).Msg("UART device is ready")
	return conn, nil
}

func scan(ctx context.Context, cfg Config) (bluetooth.ScanResult, error) {
	log.Info().Str("component", "ble").Strs("names", cfg.DeviceNames).Msg("Scanning for controller")

	// A scan left running by a previous attempt blocks the next one.
	adapter.StopScan()

	ch := make(chan bluetooth.ScanResult, 1)
	go func() {
		err := adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if contains(cfg.DeviceNames, result.LocalName()) {
				adapter.StopScan()
				select {
				case ch <- result:
				default:
				}
			}
		})
		if err != nil {
			log.Error().Str("component", "ble").Err(err).Msg("Scan error")
		}
	}()

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	select {
	case result := <-ch:
		log.Info().Str("component", "ble").Str("device", result.LocalName()).
			Int16("rssi", result.RSSI).Msg("Found device")
		return result, nil
	case <-scanCtx.Done():
		adapter.StopScan()
		return bluetooth.ScanResult{}, fmt.Errorf("scan: %w", scanCtx.Err())
	}
}

func connect(ctx context.Context, result bluetooth.ScanResult, timeout time.Duration) (bluetooth.Device, error) {
	type connected struct {
		device bluetooth.Device
		err    error
	}
	connectChan := make(chan connected, 1)

	log.Info().Str("component", "ble").Str("address", result.Address.String()).Msg("Connecting")
	go func() {
		d, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
		connectChan <- connected{device: d, err: err}
	}()

	select {
	case c := <-connectChan:
		if c.err != nil {
			return bluetooth.Device{}, fmt.Errorf("connect: %w", c.err)
		}
		return c.device, nil
	case <-time.After(timeout):
		adapter.StopScan()
		return bluetooth.Device{}, errors.New("connection attempt timed out")
	case <-ctx.Done():
		return bluetooth.Device{}, ctx.Err()
	}
}
