package core

import "fmt"

// CommandType defines the type of command being dispatched.
type CommandType string

const (
	// Framebuffer commands, sent to the controller.
	CmdSetLed       CommandType = "setLed"       // {index, r, g, b}
	CmdSetLeds      CommandType = "setLeds"      // {leds: [{index, r, g, b}]}
	CmdSetLedsColor CommandType = "setLedsColor" // {r, g, b, ids: [...]}
	CmdSetAll       CommandType = "setAll"       // {pixels: [[r, g, b], ...]}
	CmdFill         CommandType = "fill"         // {r, g, b}
	CmdClear        CommandType = "clear"
	CmdShow         CommandType = "show"
	CmdHandshake    CommandType = "handshake"

	// Host-side commands.
	CmdRunPattern      CommandType = "runPattern"
	CmdStopPattern     CommandType = "stopPattern"
	CmdExecuteLua      CommandType = "executeLua" // {code}
	CmdAddSchedule     CommandType = "addSchedule"
	CmdRemoveSchedule  CommandType = "removeSchedule"
	CmdGetPatternCode  CommandType = "getPatternCode"
	CmdSavePatternCode CommandType = "savePatternCode"
	CmdDeletePattern   CommandType = "deletePattern"
)

// Command is the envelope for incoming requests to change state or perform actions.
type Command struct {
	Type    CommandType
	Payload map[string]interface{}

	// Source names the ingress ("ws", "mqtt", "scheduler", "lua").
	Source string

	// Done, when set, receives the outcome once the command was handled.
	// It must be buffered.
	Done chan error
}

// NewCommand builds a command with an empty payload.
func NewCommand(t CommandType, source string) Command {
	return Command{Type: t, Source: source, Payload: map[string]interface{}{}}
}

// With sets one payload value and returns the command.
func (c Command) With(key string, value interface{}) Command {
	if c.Payload == nil {
		c.Payload = map[string]interface{}{}
	}
	c.Payload[key] = value
	return c
}

// Finish reports the outcome to Done, if anyone is waiting.
func (c Command) Finish(err error) {
	if c.Done == nil {
		return
	}
	select {
	case c.Done <- err:
	default:
	}
}

// Int reads a numeric payload value. JSON numbers arrive as float64.
func (c Command) Int(key string) (int, error) {
	return ToInt(c.Payload[key], key)
}

// String reads a string payload value.
func (c Command) String(key string) (string, error) {
	v, ok := c.Payload[key].(string)
	if !ok {
		return "", fmt.Errorf("payload %q: want string, got %T", key, c.Payload[key])
	}
	return v, nil
}

// ToInt converts the numeric types a payload may carry.
func ToInt(v interface{}, key string) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint8:
		return int(n), nil
	default:
		return 0, fmt.Errorf("payload %q: want number, got %T", key, v)
	}
}

// CommandChannel is the single channel that the core Agent listens to for commands.
type CommandChannel chan Command
