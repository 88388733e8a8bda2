package protocol

// Opcode is the two-character tag at the head of every message.
type Opcode string

// Recognised opcodes.
const (
	// OpSetOne sets one LED: id + RGB.
	OpSetOne Opcode = "L1"

	// OpClear clears every LED to black.
	OpClear Opcode = "LC"

	// OpSetMany sets n LEDs, each with its own color.
	OpSetMany Opcode = "LN"

	// OpSetAll sets every LED in device order from RGB triples.
	OpSetAll Opcode = "LA"

	// OpSetManyColor sets n LEDs to one shared color.
	OpSetManyColor Opcode = "CN"

	// OpShow hands the framebuffer to the LED driver.
	OpShow Opcode = "SN"
)

// Message layout sizes.
const (
	// OpcodeSize is the length of the opcode tag.
	OpcodeSize = 2

	// CountSize is the length of an embedded LED count.
	CountSize = 2

	// IDSize is the length of an LED id.
	IDSize = 2

	// ColorSize is the length of an RGB triple.
	ColorSize = 3

	// ResponseSize is the length of every acknowledgement.
	ResponseSize = 6

	// MaxMessageSize is the largest message whose length fits the
	// acknowledgement's 16-bit length field.
	MaxMessageSize = 0xFFFF
)

// Opcodes lists every recognised opcode in table order.
var Opcodes = []Opcode{OpSetOne, OpClear, OpSetMany, OpSetAll, OpSetManyColor, OpShow}

// Known reports whether op is a recognised opcode.
func (op Opcode) Known() bool {
	for _, o := range Opcodes {
		if o == op {
			return true
		}
	}
	return false
}

// Describe returns a human-readable name for an opcode.
func (op Opcode) Describe() string {
	switch op {
	case OpSetOne:
		return "set one LED"
	case OpClear:
		return "clear all LEDs"
	case OpSetMany:
		return "set many LEDs"
	case OpSetAll:
		return "set all LEDs"
	case OpSetManyColor:
		return "set many LEDs to one color"
	case OpShow:
		return "show"
	default:
		return "unknown"
	}
}
