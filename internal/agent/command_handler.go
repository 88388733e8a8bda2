package agent

import (
	"fmt"
	"strings"

	"ledstrip-controller/internal/core"
	"ledstrip-controller/internal/framebuffer"
	"ledstrip-controller/internal/mqtt"
	"ledstrip-controller/internal/protocol"
)

// isStripCommand reports whether cmd becomes controller messages.
func isStripCommand(t core.CommandType) bool {
	switch t {
	case core.CmdSetLed, core.CmdSetLeds, core.CmdSetLedsColor, core.CmdSetAll,
		core.CmdFill, core.CmdClear, core.CmdShow:
		return true
	}
	return false
}

// buildMessages translates a strip command into protocol messages. Batches
// larger than one message can carry are split.
func buildMessages(cmd core.Command, addressable int) ([][]byte, error) {
	switch cmd.Type {
	case core.CmdSetLed:
		index, err := cmd.Int("index")
		if err != nil {
			return nil, err
		}
		id, err := ledID(index)
		if err != nil {
			return nil, err
		}
		c, err := payloadColor(cmd.Payload)
		if err != nil {
			return nil, err
		}
		return [][]byte{protocol.BuildSetOne(id, c)}, nil

	case core.CmdSetLeds:
		leds, err := payloadLEDs(cmd.Payload["leds"])
		if err != nil {
			return nil, err
		}
		var msgs [][]byte
		for start := 0; start < len(leds) || start == 0; start += protocol.MaxBatch {
			end := min(start+protocol.MaxBatch, len(leds))
			msg, err := protocol.BuildSetMany(leds[start:end])
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		}
		return msgs, nil

	case core.CmdSetLedsColor:
		c, err := payloadColor(cmd.Payload)
		if err != nil {
			return nil, err
		}
		ids, err := payloadIDs(cmd.Payload["ids"])
		if err != nil {
			return nil, err
		}
		var msgs [][]byte
		for start := 0; start < len(ids) || start == 0; start += protocol.MaxColorBatch {
			end := min(start+protocol.MaxColorBatch, len(ids))
			msg, err := protocol.BuildSetManyColor(c, ids[start:end]...)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		}
		return msgs, nil

	case core.CmdSetAll:
		pixels, err := payloadPixels(cmd.Payload["pixels"])
		if err != nil {
			return nil, err
		}
		if len(pixels) != addressable {
			return nil, fmt.Errorf("setAll: got %d pixels, the strip has %d", len(pixels), addressable)
		}
		msg, err := protocol.BuildSetAll(pixels)
		if err != nil {
			return nil, err
		}
		return [][]byte{msg}, nil

	case core.CmdFill:
		c, err := payloadColor(cmd.Payload)
		if err != nil {
			return nil, err
		}
		pixels := make([]framebuffer.Color, addressable)
		for i := range pixels {
			pixels[i] = c
		}
		msg, err := protocol.BuildSetAll(pixels)
		if err != nil {
			return nil, err
		}
		return [][]byte{msg}, nil

	case core.CmdClear:
		return [][]byte{protocol.BuildClear()}, nil

	case core.CmdShow:
		return [][]byte{protocol.BuildShow()}, nil
	}
	return nil, fmt.Errorf("%s is not a strip command", cmd.Type)
}

func ledID(index int) (uint16, error) {
	if index < 0 || index > 0xFFFF {
		return 0, fmt.Errorf("LED index %d outside the 16-bit id space", index)
	}
	return uint16(index), nil
}

func channel(v interface{}, key string) (uint8, error) {
	n, err := core.ToInt(v, key)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 255 {
		return 0, fmt.Errorf("payload %q: %d out of range 0-255", key, n)
	}
	return uint8(n), nil
}

// payloadColor reads r, g, b keys, or a "color" key in any form colorOf
// accepts.
func payloadColor(p map[string]interface{}) (framebuffer.Color, error) {
	if v, ok := p["color"]; ok {
		return colorOf(v)
	}
	r, err := channel(p["r"], "r")
	if err != nil {
		return framebuffer.Color{}, err
	}
	g, err := channel(p["g"], "g")
	if err != nil {
		return framebuffer.Color{}, err
	}
	b, err := channel(p["b"], "b")
	if err != nil {
		return framebuffer.Color{}, err
	}
	return framebuffer.Color{R: r, G: g, B: b}, nil
}

// colorOf accepts a Color, "#RRGGBB" or "r,g,b" string, an [r, g, b] array
// or an {r, g, b} object.
func colorOf(v interface{}) (framebuffer.Color, error) {
	switch c := v.(type) {
	case framebuffer.Color:
		return c, nil
	case string:
		return mqtt.ParseColor(strings.TrimSpace(c))
	case []interface{}:
		if len(c) != 3 {
			return framebuffer.Color{}, fmt.Errorf("color array needs 3 values, got %d", len(c))
		}
		return payloadColor(map[string]interface{}{"r": c[0], "g": c[1], "b": c[2]})
	case map[string]interface{}:
		return payloadColor(c)
	}
	return framebuffer.Color{}, fmt.Errorf("unsupported color %T", v)
}

func payloadLEDs(v interface{}) ([]protocol.LED, error) {
	switch leds := v.(type) {
	case []protocol.LED:
		return leds, nil
	case []interface{}:
		out := make([]protocol.LED, len(leds))
		for i, item := range leds {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("leds[%d]: want object, got %T", i, item)
			}
			index, err := core.ToInt(m["index"], "index")
			if err != nil {
				return nil, fmt.Errorf("leds[%d]: %w", i, err)
			}
			id, err := ledID(index)
			if err != nil {
				return nil, fmt.Errorf("leds[%d]: %w", i, err)
			}
			c, err := payloadColor(m)
			if err != nil {
				return nil, fmt.Errorf("leds[%d]: %w", i, err)
			}
			out[i] = protocol.LED{ID: id, Color: c}
		}
		return out, nil
	}
	return nil, fmt.Errorf("payload %q: unsupported %T", "leds", v)
}

func payloadIDs(v interface{}) ([]uint16, error) {
	switch ids := v.(type) {
	case []uint16:
		return ids, nil
	case []int:
		out := make([]uint16, len(ids))
		for i, n := range ids {
			id, err := ledID(n)
			if err != nil {
				return nil, err
			}
			out[i] = id
		}
		return out, nil
	case []interface{}:
		out := make([]uint16, len(ids))
		for i, item := range ids {
			n, err := core.ToInt(item, "ids")
			if err != nil {
				return nil, err
			}
			id, err := ledID(n)
			if err != nil {
				return nil, err
			}
			out[i] = id
		}
		return out, nil
	}
	return nil, fmt.Errorf("payload %q: unsupported %T", "ids", v)
}

func payloadPixels(v interface{}) ([]framebuffer.Color, error) {
	switch pixels := v.(type) {
	case []framebuffer.Color:
		return pixels, nil
	case []interface{}:
		out := make([]framebuffer.Color, len(pixels))
		for i, item := range pixels {
			c, err := colorOf(item)
			if err != nil {
				return nil, fmt.Errorf("pixels[%d]: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	}
	return nil, fmt.Errorf("payload %q: unsupported %T", "pixels", v)
}
