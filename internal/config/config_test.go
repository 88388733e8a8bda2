package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "single", cfg.Device.Profile)
	assert.Equal(t, "sim", cfg.Device.Driver)
	assert.Equal(t, "serial", cfg.Link.Transport)
	assert.Equal(t, "ledstrip-agent", cfg.Link.HostName)
	assert.Equal(t, time.Second, cfg.Link.AckTimeout)
	assert.Equal(t, "8080", cfg.Server.Port)
	require.NotNil(t, cfg.Device.SegmentCheck)
	assert.True(t, *cfg.Device.SegmentCheck)
	assert.Equal(t, "best-effort", cfg.Device.BatchPolicy)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestParse(t *testing.T) {
	doc := `
device:
  name: " MyTeensy1 "
  profile: OCTO
  port: /dev/ttyACM0
  driver: spi
  spi:
    dev: /dev/spidev0.0
  segment_check: false
  batch_policy: all-or-nothing
link:
  transport: ble
  host_name: " kitchen-pi "
  ack_timeout: 250ms
  ble:
    device_names: ["strip-1", "strip-2 "]
mqtt:
  enabled: true
  broker: tcp://10.0.0.2:1883
log_level: debug
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "MyTeensy1", cfg.Device.Name)
	assert.Equal(t, "octo", cfg.Device.Profile)
	assert.Equal(t, "spi", cfg.Device.Driver)
	assert.Equal(t, 800, cfg.Device.SPI.FreqKHz)
	assert.False(t, *cfg.Device.SegmentCheck)
	assert.Equal(t, 250*time.Millisecond, cfg.Link.AckTimeout)
	assert.Equal(t, "kitchen-pi", cfg.Link.HostName)
	assert.Equal(t, []string{"strip-1", "strip-2 "}, cfg.Link.BLE.DeviceNames)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "ledstrip", cfg.MQTT.TopicPrefix)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())

	p, err := cfg.Device.BuildProfile()
	require.NoError(t, err)
	assert.Equal(t, 960, p.Addressable())
	assert.Len(t, cfg.Device.DispatchOptions(), 2)
}

func TestCustomSegments(t *testing.T) {
	cfg, err := Parse([]byte("device:\n  name: bench\n  segments: [10, 4]\n  padded: true\n"))
	require.NoError(t, err)

	p, err := cfg.Device.BuildProfile()
	require.NoError(t, err)
	assert.Equal(t, "bench", p.Name)
	assert.Equal(t, 20, p.Addressable())
	assert.Equal(t, 14, p.TotalLEDs())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown profile", "device:\n  profile: hexa\n"},
		{"bad segments", "device:\n  segments: [3, 0]\n"},
		{"unknown driver", "device:\n  driver: pwm\n"},
		{"unknown transport", "link:\n  transport: usb\n"},
		{"unknown policy", "device:\n  batch_policy: sometimes\n"},
		{"bad log level", "log_level: loud\n"},
		{"bad yaml", "device: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Parse([]byte("device:\n  name: saved\n"))
	require.NoError(t, err)
	require.NoError(t, Save(path, cfg))

	_, err = os.Stat(path)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
