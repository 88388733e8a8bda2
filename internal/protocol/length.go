package protocol

// Tag returns the opcode tag of msg, or "" when the message is too short to
// carry one.
func Tag(msg []byte) string {
	if len(msg) < OpcodeSize {
		return ""
	}
	return string(msg[:OpcodeSize])
}

// ExpectedLength returns the length msg must have for its opcode. allPixels
// is the number of RGB triples an LA message carries.
//
// Count-carrying opcodes read their count from the payload; when the count
// itself is missing the opcode's minimum length is returned so the caller
// reports a mismatch.
func ExpectedLength(msg []byte, allPixels int) (int, error) {
	op := Opcode(Tag(msg))

	switch op {
	case OpSetOne:
		return OpcodeSize + IDSize + ColorSize, nil
	case OpClear, OpShow:
		return OpcodeSize, nil
	case OpSetAll:
		return OpcodeSize + ColorSize*allPixels, nil
	case OpSetMany:
		n, ok := count(msg)
		if !ok {
			return OpcodeSize + CountSize, nil
		}
		return OpcodeSize + CountSize + (IDSize+ColorSize)*n, nil
	case OpSetManyColor:
		n, ok := count(msg)
		if !ok {
			return OpcodeSize + CountSize + ColorSize, nil
		}
		return OpcodeSize + CountSize + ColorSize + IDSize*n, nil
	default:
		return 0, &UnknownOpcodeError{Tag: Tag(msg)}
	}
}

func count(msg []byte) (int, bool) {
	c := NewCursor(msg)
	if err := c.Skip(OpcodeSize); err != nil {
		return 0, false
	}
	n, err := c.Uint16()
	if err != nil {
		return 0, false
	}
	return int(n), true
}
