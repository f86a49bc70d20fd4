// Package protocol implements the command envelope carried in binary
// messages: a 4-byte big-endian command ID followed by the payload.
//
//	[4 bytes: command ID (uint32, big-endian)][N bytes: payload]
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/luciancaetano/kephasws"
)

const (
	// HeaderSize is the size of the command ID prefix.
	HeaderSize = 4
	// MaxPayloadSize bounds the payload of one envelope.
	MaxPayloadSize = 10 * 1024 * 1024
)

// Envelope is a decoded command message.
type Envelope struct {
	Command uint32
	Payload []byte
}

// IsError reports whether the envelope carries an error notification.
func (e Envelope) IsError() bool {
	return e.Command == kephasws.CmdError
}

// Encode prefixes payload with commandID. IDs above kephasws.CmdMax are
// reserved and rejected.
func Encode(commandID uint32, payload []byte) ([]byte, error) {
	if commandID > kephasws.CmdMax {
		return nil, kephasws.NewError(kephasws.KindInvalidArgument,
			fmt.Sprintf("command ID 0x%08X is reserved", commandID))
	}
	return encode(commandID, payload)
}

// EncodeError builds an error notification envelope.
func EncodeError(msg string) ([]byte, error) {
	return encode(kephasws.CmdError, []byte(msg))
}

func encode(commandID uint32, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, kephasws.NewError(kephasws.KindMessageTooBig,
			fmt.Sprintf("%s: payload %d > %d bytes", kephasws.ErrMsgMessageTooBig, len(payload), MaxPayloadSize))
	}

	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[:HeaderSize], commandID)
	copy(out[HeaderSize:], payload)
	return out, nil
}

// Decode splits a binary message into its command ID and payload.
// The payload aliases data.
func Decode(data []byte) (Envelope, error) {
	if len(data) < HeaderSize {
		return Envelope{}, kephasws.NewError(kephasws.KindInvalidArgument,
			fmt.Sprintf("command envelope too short: %d bytes", len(data)))
	}
	if len(data)-HeaderSize > MaxPayloadSize {
		return Envelope{}, kephasws.NewError(kephasws.KindMessageTooBig,
			fmt.Sprintf("%s: payload %d > %d bytes", kephasws.ErrMsgMessageTooBig, len(data)-HeaderSize, MaxPayloadSize))
	}

	return Envelope{
		Command: binary.BigEndian.Uint32(data[:HeaderSize]),
		Payload: data[HeaderSize:],
	}, nil
}
