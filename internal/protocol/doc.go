// Package protocol implements the LED command message format.
//
// Every message starts with a two-character ASCII opcode followed by an
// opcode-specific payload. All multi-byte integers are big-endian.
//
//	L1: [L][1][ID_H][ID_L][R][G][B]
//	LC: [L][C]
//	LN: [L][N][N_H][N_L] n × [ID_H][ID_L][R][G][B]
//	LA: [L][A] S×M × [R][G][B]
//	CN: [C][N][N_H][N_L][R][G][B] n × [ID_H][ID_L]
//	SN: [S][N]
//
// The controller answers every message, valid or not, with a 6-byte
// acknowledgement:
//
//	[LEN_H][LEN_L][SUM_3][SUM_2][SUM_1][SUM_0]
//
// LEN is the number of bytes received and SUM is the unsigned 32-bit sum
// of those bytes. The acknowledgement never reports whether the command was
// accepted; the host compares it with what it sent to detect corruption.
//
// # Command Builders
//
// Hosts use the Build* functions to produce messages:
//
//	msg, err := protocol.BuildSetOne(3, framebuffer.Color{R: 10, G: 20, B: 30})
//	msg, err := protocol.BuildSetManyColor(red, 1, 5)
//
// and Verify to check the acknowledgement against the sent bytes.
package protocol
