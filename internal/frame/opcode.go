package frame

import "fmt"

// Opcode is the 4-bit frame type.
type Opcode uint8

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether the opcode belongs to the control range (0x8-0xF).
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

// IsData reports whether the opcode starts a data message (text or binary).
func (o Opcode) IsData() bool {
	return o == OpText || o == OpBinary
}

// IsReserved reports whether the opcode has no meaning assigned by RFC 6455.
func (o Opcode) IsReserved() bool {
	switch o {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return false
	}
	return true
}

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("reserved(0x%X)", uint8(o))
	}
}
