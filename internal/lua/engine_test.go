package lua

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"ledstrip-controller/internal/core"
	"ledstrip-controller/internal/framebuffer"
	"ledstrip-controller/internal/protocol"
)

// fakeAgent acknowledges every command and records it.
func fakeAgent(t *testing.T, commands core.CommandChannel, fail error) <-chan core.Command {
	t.Helper()
	seen := make(chan core.Command, 256)
	go func() {
		for cmd := range commands {
			seen <- cmd
			if cmd.Type == core.CmdShow {
				cmd.Finish(fail)
			} else {
				cmd.Finish(nil)
			}
		}
	}()
	return seen
}

func next(t *testing.T, seen <-chan core.Command) core.Command {
	t.Helper()
	select {
	case cmd := <-seen:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("no command received")
		return core.Command{}
	}
}

func runChunk(t *testing.T, s *script, code string) *lua.LState {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	s.register(L)
	require.NoError(t, L.DoString(code))
	return L
}

func TestShowSendsDirtyPixels(t *testing.T) {
	commands := make(core.CommandChannel, 8)
	defer close(commands)
	seen := fakeAgent(t, commands, nil)

	s := newScript(context.Background(), commands, 10)
	L := runChunk(t, s, `
		set_led(4, 1, 2, 3)
		set_led(1, 300, -5, 9)
		set_led(99, 1, 1, 1)
		ok = show()
	`)

	cmd := next(t, seen)
	assert.Equal(t, core.CmdSetLeds, cmd.Type)
	assert.Equal(t, "lua", cmd.Source)
	assert.Equal(t, []protocol.LED{
		{ID: 1, Color: framebuffer.Color{R: 255, G: 0, B: 9}},
		{ID: 4, Color: framebuffer.Color{R: 1, G: 2, B: 3}},
	}, cmd.Payload["leds"])

	assert.Equal(t, core.CmdShow, next(t, seen).Type)
	assert.Equal(t, lua.LTrue, L.GetGlobal("ok"))
}

func TestFillSendsWholeStrip(t *testing.T) {
	commands := make(core.CommandChannel, 8)
	defer close(commands)
	seen := fakeAgent(t, commands, nil)

	s := newScript(context.Background(), commands, 3)
	runChunk(t, s, `fill(9, 8, 7); set_led(0, 1, 1, 1); show()`)

	cmd := next(t, seen)
	require.Equal(t, core.CmdSetAll, cmd.Type)
	assert.Equal(t, []framebuffer.Color{{R: 1, G: 1, B: 1}, {R: 9, G: 8, B: 7}, {R: 9, G: 8, B: 7}}, cmd.Payload["pixels"])
	assert.Equal(t, core.CmdShow, next(t, seen).Type)
}

func TestShowWithoutChangesOnlyLatches(t *testing.T) {
	commands := make(core.CommandChannel, 8)
	defer close(commands)
	seen := fakeAgent(t, commands, nil)

	s := newScript(context.Background(), commands, 3)
	runChunk(t, s, `show()`)

	assert.Equal(t, core.CmdShow, next(t, seen).Type)
	assert.Empty(t, seen)
}

func TestShowReportsFailure(t *testing.T) {
	commands := make(core.CommandChannel, 8)
	defer close(commands)
	fakeAgent(t, commands, errors.New("ack mismatch"))

	s := newScript(context.Background(), commands, 3)
	L := runChunk(t, s, `ok, msg = show()`)

	assert.Equal(t, lua.LFalse, L.GetGlobal("ok"))
	assert.Equal(t, "ack mismatch", L.GetGlobal("msg").String())
}

func TestHelpers(t *testing.T) {
	s := newScript(context.Background(), make(core.CommandChannel), 42)
	L := runChunk(t, s, `
		n = led_count()
		r, g, b = hsv(120, 1, 1)
		stop = should_stop()
	`)

	assert.Equal(t, lua.LNumber(42), L.GetGlobal("n"))
	assert.Equal(t, lua.LNumber(0), L.GetGlobal("r"))
	assert.Equal(t, lua.LNumber(255), L.GetGlobal("g"))
	assert.Equal(t, lua.LNumber(0), L.GetGlobal("b"))
	assert.Equal(t, lua.LFalse, L.GetGlobal("stop"))
}

func TestHSV(t *testing.T) {
	r, g, b := hsvToRGB(0, 1, 1)
	assert.Equal(t, [3]uint8{255, 0, 0}, [3]uint8{r, g, b})

	r, g, b = hsvToRGB(-120, 1, 1)
	assert.Equal(t, [3]uint8{0, 0, 255}, [3]uint8{r, g, b})

	r, g, b = hsvToRGB(60, 0, 0.5)
	assert.Equal(t, [3]uint8{128, 128, 128}, [3]uint8{r, g, b})
}

func TestSubmitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newScript(ctx, make(core.CommandChannel), 3)
	assert.ErrorIs(t, s.flush(), context.Canceled)
}

func TestSanitizeFilename(t *testing.T) {
	name, err := sanitizeFilename("sub/rainbow.lua")
	require.NoError(t, err)
	assert.Equal(t, "rainbow.lua", name)

	_, err = sanitizeFilename("rainbow.txt")
	assert.Error(t, err)
	_, err = sanitizeFilename(".lua")
	assert.Error(t, err)
}

func TestPatternFiles(t *testing.T) {
	e := NewEngine(make(core.CommandChannel), 10, t.TempDir(), nil)
	defer e.Close()

	list, err := e.GetPatternList()
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, e.SavePatternCode("blink.lua", "clear()"))
	code, err := e.GetPatternCode("blink.lua")
	require.NoError(t, err)
	assert.Equal(t, "clear()", code)

	list, err = e.GetPatternList()
	require.NoError(t, err)
	assert.Equal(t, []string{"blink.lua"}, list)

	require.NoError(t, e.DeletePattern("blink.lua"))
	_, err = e.GetPatternCode("blink.lua")
	assert.Error(t, err)

	assert.Error(t, e.RunPattern("missing.lua"))
}

func TestRunAndStopPattern(t *testing.T) {
	commands := make(core.CommandChannel, 8)
	defer close(commands)
	seen := fakeAgent(t, commands, nil)

	bus := core.NewEventBus()
	events := bus.Subscribe(core.PatternChangedEvent)

	e := NewEngine(commands, 4, t.TempDir(), bus)
	defer e.Close()

	require.NoError(t, e.SavePatternCode("loop.lua", `
		while not should_stop() do
			fill(1, 2, 3)
			show()
			sleep(5)
		end
	`))
	require.NoError(t, e.RunPattern("loop.lua"))

	assert.Equal(t, core.CmdSetAll, next(t, seen).Type)
	assert.Equal(t, core.CmdShow, next(t, seen).Type)
	assert.Eventually(t, func() bool { return e.Running() == "loop.lua" }, time.Second, 5*time.Millisecond)

	e.StopCurrentPattern()
	assert.Eventually(t, func() bool { return e.Running() == "" }, 2*time.Second, 5*time.Millisecond)

	ev := <-events
	assert.Equal(t, core.PatternChangedEvent, ev.Type)
	assert.Equal(t, "loop.lua", ev.Payload)
}
