package websocket

import (
	"fmt"

	"github.com/luciancaetano/kephasws"
	"github.com/luciancaetano/kephasws/internal/frame"
)

// assembler folds data and continuation frames into messages. At most one
// message is in progress at a time.
type assembler struct {
	limit    int64
	active   bool
	complete bool
	opcode   frame.Opcode
	buf      []byte
}

func newAssembler(limit int64) *assembler {
	return &assembler{limit: limit}
}

// start begins a message with a text or binary frame and takes ownership of
// its payload.
func (a *assembler) start(f *frame.Frame) error {
	if a.active {
		return kephasws.NewError(kephasws.KindCloseInconsistentData,
			fmt.Sprintf("%s: %s frame while a message is in progress", kephasws.ErrMsgInconsistentData, f.Opcode))
	}
	if err := a.checkSize(len(f.Payload)); err != nil {
		return err
	}
	a.active = true
	a.opcode = f.Opcode
	a.buf = f.Payload
	a.complete = f.Fin
	return nil
}

// fold appends a continuation frame to the message in progress.
func (a *assembler) fold(f *frame.Frame) error {
	if !a.active {
		return kephasws.NewError(kephasws.KindCloseInconsistentData,
			fmt.Sprintf("%s: continuation frame without a message in progress", kephasws.ErrMsgInconsistentData))
	}
	if err := a.checkSize(len(a.buf) + len(f.Payload)); err != nil {
		return err
	}
	a.buf = append(a.buf, f.Payload...)
	a.complete = f.Fin
	return nil
}

func (a *assembler) checkSize(n int) error {
	if int64(n) > a.limit {
		return kephasws.NewError(kephasws.KindMessageTooBig,
			fmt.Sprintf("%s: %d > %d", kephasws.ErrMsgMessageTooBig, n, a.limit))
	}
	return nil
}

// ready reports whether the message in progress has received its final frame.
func (a *assembler) ready() bool {
	return a.active && a.complete
}

// take returns the completed message and clears the in-progress slot.
func (a *assembler) take() kephasws.Message {
	msg := kephasws.Message{Type: kephasws.MessageType(a.opcode), Data: a.buf}
	a.active = false
	a.complete = false
	a.buf = nil
	return msg
}
