package protocol

import (
	"encoding/binary"
	"fmt"

	"ledstrip-controller/internal/framebuffer"
)

// LED is one (id, color) write.
type LED struct {
	ID    uint16
	Color framebuffer.Color
}

// MaxBatch is the largest n an LN message can carry inside MaxMessageSize.
const MaxBatch = (MaxMessageSize - OpcodeSize - CountSize) / (IDSize + ColorSize)

// MaxColorBatch is the largest n a CN message can carry inside MaxMessageSize.
const MaxColorBatch = (MaxMessageSize - OpcodeSize - CountSize - ColorSize) / IDSize

func appendOpcode(frame []byte, op Opcode) []byte {
	return append(frame, op[0], op[1])
}

func appendColor(frame []byte, c framebuffer.Color) []byte {
	return append(frame, c.R, c.G, c.B)
}

// BuildSetOne constructs an L1 message.
//
//	[L][1][ID_H][ID_L][R][G][B]
func BuildSetOne(id uint16, c framebuffer.Color) []byte {
	frame := make([]byte, 0, OpcodeSize+IDSize+ColorSize)
	frame = appendOpcode(frame, OpSetOne)
	frame = binary.BigEndian.AppendUint16(frame, id)
	return appendColor(frame, c)
}

// BuildClear constructs an LC message.
func BuildClear() []byte {
	return appendOpcode(make([]byte, 0, OpcodeSize), OpClear)
}

// BuildShow constructs an SN message.
func BuildShow() []byte {
	return appendOpcode(make([]byte, 0, OpcodeSize), OpShow)
}

// BuildSetMany constructs an LN message.
//
//	[L][N][N_H][N_L] n × [ID_H][ID_L][R][G][B]
func BuildSetMany(leds []LED) ([]byte, error) {
	if len(leds) > MaxBatch {
		return nil, fmt.Errorf("batch of %d LEDs exceeds maximum %d", len(leds), MaxBatch)
	}

	frame := make([]byte, 0, OpcodeSize+CountSize+len(leds)*(IDSize+ColorSize))
	frame = appendOpcode(frame, OpSetMany)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(leds)))
	for _, l := range leds {
		frame = binary.BigEndian.AppendUint16(frame, l.ID)
		frame = appendColor(frame, l.Color)
	}
	return frame, nil
}

// BuildSetAll constructs an LA message. pixels must hold exactly the
// profile's addressable count.
//
//	[L][A] n × [R][G][B]
func BuildSetAll(pixels []framebuffer.Color) ([]byte, error) {
	size := OpcodeSize + len(pixels)*ColorSize
	if size > MaxMessageSize {
		return nil, fmt.Errorf("%d pixels exceed the maximum message size", len(pixels))
	}

	frame := make([]byte, 0, size)
	frame = appendOpcode(frame, OpSetAll)
	for _, c := range pixels {
		frame = appendColor(frame, c)
	}
	return frame, nil
}

// BuildSetManyColor constructs a CN message.
//
//	[C][N][N_H][N_L][R][G][B] n × [ID_H][ID_L]
func BuildSetManyColor(c framebuffer.Color, ids ...uint16) ([]byte, error) {
	if len(ids) > MaxColorBatch {
		return nil, fmt.Errorf("batch of %d LEDs exceeds maximum %d", len(ids), MaxColorBatch)
	}

	frame := make([]byte, 0, OpcodeSize+CountSize+ColorSize+len(ids)*IDSize)
	frame = appendOpcode(frame, OpSetManyColor)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(ids)))
	frame = appendColor(frame, c)
	for _, id := range ids {
		frame = binary.BigEndian.AppendUint16(frame, id)
	}
	return frame, nil
}
