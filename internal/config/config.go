package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"ledstrip-controller/internal/dispatch"
	"ledstrip-controller/internal/profile"
)

// SPIConfig - output port of the spi driver
type SPIConfig struct {
	Dev     string `yaml:"dev"`      // "" selects the first port
	FreqKHz int    `yaml:"freq_khz"` // NRZ bit rate
}

// DeviceConfig - the controller side
type DeviceConfig struct {
	Name string `yaml:"name"`

	// Profile names a built-in geometry. Segments overrides it.
	Profile  string `yaml:"profile"`
	Segments []int  `yaml:"segments,omitempty"`
	Padded   bool   `yaml:"padded"`

	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`

	Driver string    `yaml:"driver"` // "sim" | "spi"
	SPI    SPIConfig `yaml:"spi"`

	// SegmentCheck is a pointer so an explicit false survives defaults.
	SegmentCheck *bool  `yaml:"segment_check"`
	BatchPolicy  string `yaml:"batch_policy"`
}

// BLEConfig - Nordic UART peripheral
type BLEConfig struct {
	DeviceNames    []string      `yaml:"device_names"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ChunkSize      int           `yaml:"chunk_size"`
}

// LinkConfig - the host side of the connection
type LinkConfig struct {
	Transport    string        `yaml:"transport"` // "serial" | "ble"
	HostName     string        `yaml:"host_name"` // sent in the handshake
	Port         string        `yaml:"port"`
	Baud         int           `yaml:"baud"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	AckTimeout   time.Duration `yaml:"ack_timeout"`
	HelloTimeout time.Duration `yaml:"hello_timeout"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	RateLimit    float64       `yaml:"rate_limit"`
	RateBurst    int           `yaml:"rate_burst"`
	BLE          BLEConfig     `yaml:"ble"`
}

// ServerConfig - HTTP/WebSocket server
type ServerConfig struct {
	Port           string   `yaml:"port"`
	StaticDir      string   `yaml:"static_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MQTTConfig - MQTT and Home Assistant discovery
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // tcp://IP:PORT
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	ClientID           string `yaml:"client_id"`
	TopicPrefix        string `yaml:"topic_prefix"`
	HADiscoveryEnabled bool   `yaml:"ha_discovery_enabled"`
	HADiscoveryPrefix  string `yaml:"ha_discovery_prefix"`
}

// Config is the whole file.
type Config struct {
	Device DeviceConfig `yaml:"device"`
	Link   LinkConfig   `yaml:"link"`
	Server ServerConfig `yaml:"server"`
	MQTT   MQTTConfig   `yaml:"mqtt"`

	PatternsDir   string `yaml:"patterns_dir"`
	SchedulesFile string `yaml:"schedules_file"`
	LogLevel      string `yaml:"log_level"`
}

// Load reads a YAML file and applies sanitizing, defaults and validation.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			cfg.setDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return Parse(b)
}

// Parse decodes a YAML document and applies sanitizing, defaults and
// validation.
func Parse(b []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode yaml: %w", err)
	}

	cfg.sanitize()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func (c *Config) sanitize() {
	c.Device.Name = strings.TrimSpace(c.Device.Name)
	c.Device.Profile = strings.ToLower(strings.TrimSpace(c.Device.Profile))
	c.Device.Port = strings.TrimSpace(c.Device.Port)
	c.Device.Driver = strings.ToLower(strings.TrimSpace(c.Device.Driver))
	c.Link.Transport = strings.ToLower(strings.TrimSpace(c.Link.Transport))
	c.Link.HostName = strings.TrimSpace(c.Link.HostName)
	c.Link.Port = strings.TrimSpace(c.Link.Port)
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	c.Server.StaticDir = strings.TrimSpace(c.Server.StaticDir)
	c.PatternsDir = strings.TrimSpace(c.PatternsDir)
	c.SchedulesFile = strings.TrimSpace(c.SchedulesFile)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	// BLE names are matched exactly, trailing spaces included.
}

func (c *Config) setDefaults() {
	// Device
	if c.Device.Name == "" {
		c.Device.Name = "ledstrip"
	}
	if c.Device.Profile == "" && len(c.Device.Segments) == 0 {
		c.Device.Profile = profile.Single
	}
	if c.Device.Baud <= 0 {
		c.Device.Baud = 115200
	}
	if c.Device.ReadTimeout <= 0 {
		c.Device.ReadTimeout = 100 * time.Millisecond
	}
	if c.Device.Driver == "" {
		c.Device.Driver = "sim"
	}
	if c.Device.SPI.FreqKHz <= 0 {
		c.Device.SPI.FreqKHz = 800
	}
	if c.Device.SegmentCheck == nil {
		enabled := true
		c.Device.SegmentCheck = &enabled
	}
	if c.Device.BatchPolicy == "" {
		c.Device.BatchPolicy = dispatch.BestEffort.String()
	}

	// Link
	if c.Link.Transport == "" {
		c.Link.Transport = "serial"
	}
	if c.Link.HostName == "" {
		c.Link.HostName = "ledstrip-agent"
	}
	if c.Link.Baud <= 0 {
		c.Link.Baud = 115200
	}
	if c.Link.ReadTimeout <= 0 {
		c.Link.ReadTimeout = 100 * time.Millisecond
	}
	if c.Link.AckTimeout <= 0 {
		c.Link.AckTimeout = time.Second
	}
	if c.Link.HelloTimeout <= 0 {
		c.Link.HelloTimeout = 3 * time.Second
	}
	if c.Link.RetryDelay <= 0 {
		c.Link.RetryDelay = 5 * time.Second
	}
	if c.Link.RateLimit <= 0 {
		c.Link.RateLimit = 200
	}
	if c.Link.RateBurst <= 0 {
		c.Link.RateBurst = 10
	}
	if len(c.Link.BLE.DeviceNames) == 0 {
		c.Link.BLE.DeviceNames = []string{"ledstrip"}
	}
	if c.Link.BLE.ScanTimeout <= 0 {
		c.Link.BLE.ScanTimeout = 30 * time.Second
	}
	if c.Link.BLE.ConnectTimeout <= 0 {
		c.Link.BLE.ConnectTimeout = 7 * time.Second
	}
	if c.Link.BLE.ChunkSize <= 0 {
		c.Link.BLE.ChunkSize = 20
	}

	// Server
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = "web"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:8080"}
	}

	// Files
	if c.PatternsDir == "" {
		c.PatternsDir = "patterns"
	}
	if c.SchedulesFile == "" {
		c.SchedulesFile = "schedules.json"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	// MQTT
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "ledstrip-agent"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "ledstrip"
	}
	if c.MQTT.HADiscoveryPrefix == "" {
		c.MQTT.HADiscoveryPrefix = "homeassistant"
	}
}

func (c *Config) validate() error {
	if _, err := c.Device.BuildProfile(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	switch c.Device.Driver {
	case "sim", "spi":
	default:
		return fmt.Errorf("config error: unknown driver %q (want sim or spi)", c.Device.Driver)
	}
	switch c.Link.Transport {
	case "serial", "ble":
	default:
		return fmt.Errorf("config error: unknown transport %q (want serial or ble)", c.Link.Transport)
	}
	if _, err := dispatch.ParseBatchPolicy(c.Device.BatchPolicy); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config error: log_level: %w", err)
	}
	return nil
}

// BuildProfile resolves the device geometry: explicit segments win over a
// built-in profile name.
func (d DeviceConfig) BuildProfile() (*profile.Profile, error) {
	if len(d.Segments) > 0 {
		return profile.New(d.Name, d.Segments, d.Padded)
	}
	return profile.Lookup(d.Profile)
}

// DispatchOptions converts the device settings into dispatcher options.
func (d DeviceConfig) DispatchOptions() []dispatch.Option {
	policy, _ := dispatch.ParseBatchPolicy(d.BatchPolicy)
	check := d.SegmentCheck == nil || *d.SegmentCheck
	return []dispatch.Option{
		dispatch.WithSegmentCheck(check),
		dispatch.WithBatchPolicy(policy),
	}
}

// Level returns the configured log level, info when unparsable.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
