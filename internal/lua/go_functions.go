package lua

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"ledstrip-controller/internal/core"
	"ledstrip-controller/internal/framebuffer"
	"ledstrip-controller/internal/protocol"
)

// script is the per-run state behind the Lua globals: a staging buffer that
// mirrors what the script has drawn, and the pixels changed since the last
// show.
type script struct {
	ctx      context.Context
	commands core.CommandChannel
	staging  *framebuffer.Framebuffer
	dirty    map[int]struct{}
	full     bool
}

func newScript(ctx context.Context, commands core.CommandChannel, ledCount int) *script {
	return &script{
		ctx:      ctx,
		commands: commands,
		staging:  framebuffer.New(ledCount),
		dirty:    make(map[int]struct{}),
	}
}

// register exposes the drawing functions to the given Lua state.
func (s *script) register(L *lua.LState) {
	L.SetGlobal("set_led", L.NewFunction(s.luaSetLed))
	L.SetGlobal("fill", L.NewFunction(s.luaFill))
	L.SetGlobal("clear", L.NewFunction(s.luaClear))
	L.SetGlobal("show", L.NewFunction(s.luaShow))
	L.SetGlobal("led_count", L.NewFunction(s.luaLedCount))
	L.SetGlobal("sleep", L.NewFunction(s.luaSleep))
	L.SetGlobal("should_stop", L.NewFunction(s.luaShouldStop))
	L.SetGlobal("hsv", L.NewFunction(luaHSV))
	L.SetGlobal("print", L.NewFunction(luaPrint))

	L.SetGlobal("fade", L.NewFunction(s.luaFade))
	L.SetGlobal("strobe", L.NewFunction(s.luaStrobe))
	L.SetGlobal("breathe", L.NewFunction(s.luaBreathe))
}

func luaPrint(L *lua.LState) int {
	log.Info().Str("component", "lua").Msg(L.ToString(1))
	return 0
}

func clampByte(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func colorArgs(L *lua.LState, first int) framebuffer.Color {
	return framebuffer.Color{
		R: clampByte(L.ToInt(first)),
		G: clampByte(L.ToInt(first + 1)),
		B: clampByte(L.ToInt(first + 2)),
	}
}

func (s *script) set(i int, c framebuffer.Color) {
	if s.staging.Set(i, c) == nil && !s.full {
		s.dirty[i] = struct{}{}
	}
}

func (s *script) fillAll(c framebuffer.Color) {
	s.staging.Fill(c)
	s.full = true
	s.dirty = make(map[int]struct{})
}

// set_led(index, r, g, b). Indices are 0-based; out of range is ignored.
func (s *script) luaSetLed(L *lua.LState) int {
	s.set(L.ToInt(1), colorArgs(L, 2))
	return 0
}

// fill(r, g, b)
func (s *script) luaFill(L *lua.LState) int {
	s.fillAll(colorArgs(L, 1))
	return 0
}

func (s *script) luaClear(L *lua.LState) int {
	s.fillAll(framebuffer.Black)
	return 0
}

func (s *script) luaLedCount(L *lua.LState) int {
	L.Push(lua.LNumber(s.staging.Len()))
	return 1
}

// show() pushes the staged changes and latches them. It returns true, or
// false and a message when the controller did not accept the frame.
func (s *script) luaShow(L *lua.LState) int {
	if err := s.flush(); err != nil {
		if s.ctx.Err() == nil {
			log.Warn().Str("component", "lua").Err(err).Msg("show failed")
		}
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// flush sends the cheapest message covering the staged changes, then SN.
// A whole-strip write goes out as LA; a few pixels as LN.
func (s *script) flush() error {
	switch {
	case s.full || len(s.dirty)*(protocol.IDSize+protocol.ColorSize) >= s.staging.Len()*protocol.ColorSize:
		cmd := core.NewCommand(core.CmdSetAll, "lua").With("pixels", s.staging.Snapshot())
		if err := s.submit(cmd); err != nil {
			return err
		}
	case len(s.dirty) > 0:
		ids := make([]int, 0, len(s.dirty))
		for i := range s.dirty {
			ids = append(ids, i)
		}
		sort.Ints(ids)
		leds := make([]protocol.LED, len(ids))
		for n, i := range ids {
			leds[n] = protocol.LED{ID: uint16(i), Color: s.staging.At(i)}
		}
		if err := s.submit(core.NewCommand(core.CmdSetLeds, "lua").With("leds", leds)); err != nil {
			return err
		}
	}

	s.full = false
	s.dirty = make(map[int]struct{})
	return s.submit(core.NewCommand(core.CmdShow, "lua"))
}

// submit hands a command to the agent and waits until it was acknowledged.
func (s *script) submit(cmd core.Command) error {
	done := make(chan error, 1)
	cmd.Done = done

	select {
	case s.commands <- cmd:
	case <-s.ctx.Done():
		return s.ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// cancellableSleep sleeps for d, waking early when the context is
// cancelled. It returns true if the context was cancelled.
func cancellableSleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-ctx.Done():
		return true
	}
}

func (s *script) luaSleep(L *lua.LState) int {
	cancellableSleep(s.ctx, time.Duration(L.ToInt(1))*time.Millisecond)
	return 0
}

func (s *script) luaShouldStop(L *lua.LState) int {
	select {
	case <-s.ctx.Done():
		L.Push(lua.LTrue)
	default:
		L.Push(lua.LFalse)
	}
	return 1
}

// hsv(h, s, v) converts hue in degrees and saturation/value in [0, 1] to
// r, g, b bytes.
func luaHSV(L *lua.LState) int {
	r, g, b := hsvToRGB(float64(L.ToNumber(1)), float64(L.ToNumber(2)), float64(L.ToNumber(3)))
	L.Push(lua.LNumber(r))
	L.Push(lua.LNumber(g))
	L.Push(lua.LNumber(b))
	return 3
}

func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	s = math.Max(0, math.Min(1, s))
	v = math.Max(0, math.Min(1, v))

	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return uint8(math.Round((r + m) * 255)), uint8(math.Round((g + m) * 255)), uint8(math.Round((b + m) * 255))
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + t*(float64(b)-float64(a))))
}

// fade(r1, g1, b1, r2, g2, b2, ms) fills the strip with a colour moving
// linearly from the first colour to the second.
func (s *script) luaFade(L *lua.LState) int {
	from := colorArgs(L, 1)
	to := colorArgs(L, 4)
	duration := time.Duration(L.ToInt(7)) * time.Millisecond

	steps := 50
	stepDuration := duration / time.Duration(steps)

	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		s.fillAll(framebuffer.Color{R: lerp(from.R, to.R, t), G: lerp(from.G, to.G, t), B: lerp(from.B, to.B, t)})
		if s.flush() != nil || cancellableSleep(s.ctx, stepDuration) {
			return 0
		}
	}
	return 0
}

// strobe(r, g, b, ms, hz) flashes the whole strip.
func (s *script) luaStrobe(L *lua.LState) int {
	c := colorArgs(L, 1)
	duration := time.Duration(L.ToInt(4)) * time.Millisecond
	hz := float64(L.ToNumber(5))
	if hz <= 0 {
		return 0
	}
	halfPeriod := time.Duration(float64(time.Second) / hz / 2)
	start := time.Now()

	for time.Since(start) < duration {
		s.fillAll(c)
		if s.flush() != nil || cancellableSleep(s.ctx, halfPeriod) {
			return 0
		}
		s.fillAll(framebuffer.Black)
		if s.flush() != nil || cancellableSleep(s.ctx, halfPeriod) {
			return 0
		}
	}
	return 0
}

// breathe(r, g, b, ms) pulses the strip from dark to the colour and back.
func (s *script) luaBreathe(L *lua.LState) int {
	c := colorArgs(L, 1)
	duration := time.Duration(L.ToInt(4)) * time.Millisecond

	steps := 25
	stepDuration := duration / time.Duration(2*steps)

	for i := 0; i <= 2*steps; i++ {
		level := float64(i) / float64(steps)
		if i > steps {
			level = float64(2*steps-i) / float64(steps)
		}
		s.fillAll(framebuffer.Color{R: lerp(0, c.R, level), G: lerp(0, c.G, level), B: lerp(0, c.B, level)})
		if s.flush() != nil || cancellableSleep(s.ctx, stepDuration) {
			return 0
		}
	}
	return 0
}
