package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledstrip-controller/internal/config"
	"ledstrip-controller/internal/controller"
	"ledstrip-controller/internal/core"
	"ledstrip-controller/internal/framebuffer"
	"ledstrip-controller/internal/led"
	"ledstrip-controller/internal/protocol"
)

type pipeEnd struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

func (p *pipeEnd) Close() error {
	for _, c := range p.closers {
		c.Close()
	}
	return nil
}

func duplex() (host, device *pipeEnd) {
	toDevR, toDevW := io.Pipe()
	toHostR, toHostW := io.Pipe()
	host = &pipeEnd{Reader: toHostR, Writer: toDevW, closers: []io.Closer{toHostR, toDevW}}
	device = &pipeEnd{Reader: toDevR, Writer: toHostW, closers: []io.Closer{toDevR, toHostW}}
	return host, device
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	doc := fmt.Sprintf(`
device:
  name: bench
  profile: single
link:
  ack_timeout: 500ms
  hello_timeout: 500ms
  retry_delay: 20ms
  rate_limit: 10000
server:
  port: "0"
  static_dir: %q
patterns_dir: %q
schedules_file: %q
`, dir, filepath.Join(dir, "patterns"), filepath.Join(dir, "schedules.json"))
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

// startAgent runs an agent linked to a simulated controller.
func startAgent(t *testing.T) (*Agent, *led.Sim) {
	t.Helper()
	cfg := testConfig(t)

	p, err := cfg.Device.BuildProfile()
	require.NoError(t, err)
	sim, err := led.NewSim(p.Addressable())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dial := func(context.Context) (io.ReadWriteCloser, error) {
		host, device := duplex()
		c, err := controller.New("bench-strip", device, p, sim, cfg.Device.DispatchOptions()...)
		if err != nil {
			return nil, err
		}
		go func() {
			c.Run(ctx)
			device.Close()
		}()
		return host, nil
	}

	a, err := NewAgent(cfg, dial)
	require.NoError(t, err)

	go a.Run()
	t.Cleanup(a.Shutdown)

	require.Eventually(t, func() bool { return a.State().IsConnected }, 2*time.Second, 5*time.Millisecond)
	return a, sim
}

func send(t *testing.T, a *Agent, cmd core.Command) error {
	t.Helper()
	done := make(chan error, 1)
	cmd.Done = done
	a.Commands() <- cmd
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("command not finished")
		return nil
	}
}

func TestSetAndShow(t *testing.T) {
	a, sim := startAgent(t)
	assert.Equal(t, "bench-strip", a.State().DeviceName)

	frames := a.Events().Subscribe(core.FrameShownEvent)
	baseline := sim.Frames()

	require.NoError(t, send(t, a, core.NewCommand(core.CmdSetLed, "test").With("index", 3).With("r", 10).With("g", 20).With("b", 30)))
	require.NoError(t, send(t, a, core.NewCommand(core.CmdShow, "test")))

	assert.Equal(t, baseline+1, sim.Frames())
	assert.Equal(t, []byte{10, 20, 30}, sim.Last()[9:12])
	assert.Equal(t, framebuffer.Color{R: 10, G: 20, B: 30}, a.Frame()[3])

	select {
	case ev := <-frames:
		info := ev.Payload.(core.FrameInfo)
		assert.Equal(t, "#0A141E", info.Pixels[3])
	case <-time.After(time.Second):
		t.Fatal("no frame event")
	}

	st := a.State()
	assert.Equal(t, protocol.Response{Length: 2, Checksum: 161}, st.LastAck)
	assert.Zero(t, st.Errors)
}

func TestFillAndClear(t *testing.T) {
	a, sim := startAgent(t)

	require.NoError(t, send(t, a, core.NewCommand(core.CmdFill, "test").With("color", "#010203")))
	require.NoError(t, send(t, a, core.NewCommand(core.CmdShow, "test")))
	assert.Equal(t, []byte{1, 2, 3, 1, 2, 3}, sim.Last()[:6])

	require.NoError(t, send(t, a, core.NewCommand(core.CmdClear, "test")))
	require.NoError(t, send(t, a, core.NewCommand(core.CmdShow, "test")))
	assert.Equal(t, make([]byte, 21), sim.Last())
	assert.Equal(t, framebuffer.Black, a.Frame()[0])
}

func TestRejectedByControllerReported(t *testing.T) {
	a, _ := startAgent(t)

	err := send(t, a, core.NewCommand(core.CmdSetLed, "test").With("index", 7).With("r", 1).With("g", 1).With("b", 1))
	var oor *protocol.OutOfRangeError
	require.True(t, errors.As(err, &oor), "got %v", err)

	// The message was still acknowledged; the link stays healthy.
	assert.Equal(t, uint16(7), a.State().LastAck.Length)
	require.NoError(t, send(t, a, core.NewCommand(core.CmdShow, "test")))
}

func TestNotConnected(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewAgent(cfg, func(context.Context) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such port")
	})
	require.NoError(t, err)
	go a.Run()
	defer a.Shutdown()

	assert.ErrorIs(t, send(t, a, core.NewCommand(core.CmdShow, "test")), ErrNotConnected)
	assert.False(t, a.State().IsConnected)
}

func TestHostCommands(t *testing.T) {
	a, _ := startAgent(t)

	save := core.NewCommand(core.CmdSavePatternCode, "ws").With("name", "glow.lua").With("code", "fill(1, 2, 3) show()")
	require.NoError(t, send(t, a, save))
	require.NoError(t, send(t, a, core.NewCommand(core.CmdGetPatternCode, "ws").With("name", "glow.lua")))

	require.NoError(t, send(t, a, core.NewCommand(core.CmdRunPattern, "ws").With("name", "glow.lua")))
	assert.Eventually(t, func() bool { return a.Frame()[6] == framebuffer.Color{R: 1, G: 2, B: 3} }, 2*time.Second, 5*time.Millisecond)

	assert.Error(t, send(t, a, core.NewCommand(core.CmdRunPattern, "ws").With("name", "missing.lua")))
	require.NoError(t, send(t, a, core.NewCommand(core.CmdDeletePattern, "ws").With("name", "glow.lua")))

	require.NoError(t, send(t, a, core.NewCommand(core.CmdExecuteLua, "ws").With("code", "set_led(0, 9, 9, 9) show()")))
	assert.Eventually(t, func() bool { return a.Frame()[0] == framebuffer.Color{R: 9, G: 9, B: 9} }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, send(t, a, core.NewCommand(core.CmdAddSchedule, "ws").With("spec", "@daily").With("command", "clear")))
	assert.Error(t, send(t, a, core.NewCommand(core.CmdAddSchedule, "ws").With("spec", "@daily").With("command", "explode")))
	require.NoError(t, send(t, a, core.NewCommand(core.CmdRemoveSchedule, "ws").With("id", "1")))

	require.NoError(t, send(t, a, core.NewCommand(core.CmdHandshake, "ws")))
	assert.Error(t, send(t, a, core.NewCommand("dance", "ws")))
}
