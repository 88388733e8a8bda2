package server

import (
	"encoding/json"
	"fmt"

	"ledstrip-controller/internal/core"
)

// Command represents an incoming JSON command from a WebSocket client.
type Command struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// Message represents an outgoing JSON message sent to WebSocket clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewMessage creates a new structured Message for broadcasting to clients.
func NewMessage(msgType string, payload interface{}) Message {
	return Message{Type: msgType, Payload: payload}
}

// Outgoing message types.
const (
	MsgLinkStatus    = "link_status"
	MsgAck           = "ack"
	MsgFrame         = "frame"
	MsgDeviceLog     = "device_log"
	MsgPatternStatus = "pattern_status"
	MsgPatternList   = "pattern_list"
	MsgPatternCode   = "pattern_code"
	MsgScheduleList  = "schedule_list"
	MsgProfile       = "profile"
	MsgError         = "error"
)

// DecodeCommand parses a client message into a core command.
func DecodeCommand(raw []byte) (core.Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return core.Command{}, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Type == "" {
		return core.Command{}, fmt.Errorf("decode command: missing type")
	}
	out := core.NewCommand(core.CommandType(cmd.Type), "ws")
	for k, v := range cmd.Payload {
		out.Payload[k] = v
	}
	return out, nil
}

// eventMessage maps a bus event to the message clients receive.
func eventMessage(ev core.Event) (Message, bool) {
	switch ev.Type {
	case core.LinkStatusEvent:
		return NewMessage(MsgLinkStatus, ev.Payload), true
	case core.AckEvent:
		return NewMessage(MsgAck, ev.Payload), true
	case core.FrameShownEvent:
		return NewMessage(MsgFrame, ev.Payload), true
	case core.DeviceLogEvent:
		return NewMessage(MsgDeviceLog, map[string]interface{}{"line": ev.Payload}), true
	case core.PatternChangedEvent:
		return NewMessage(MsgPatternStatus, map[string]interface{}{"running": ev.Payload}), true
	}
	return Message{}, false
}
