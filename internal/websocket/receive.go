package websocket

import (
	"context"
	"errors"
	"io"
	"net"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/luciancaetano/kephasws"
	"github.com/luciancaetano/kephasws/internal/frame"
	"github.com/luciancaetano/kephasws/internal/protocol"
)

// outcomeKind tells the receive loop what to do after one step.
type outcomeKind uint8

const (
	outcomeContinue outcomeKind = iota
	outcomeDispatch
	outcomePong
	outcomePeerClose
	outcomeFail
	outcomeCancelled
)

// outcome is the result of one receive step.
type outcome struct {
	kind    outcomeKind
	frame   *frame.Frame
	message kephasws.Message
	code    kephasws.CloseCode
	reason  string
	err     error
}

// step reads and interprets one frame.
func (c *Client) step(ctx context.Context) outcome {
	f, err := c.conn.readFrame(ctx)
	if err != nil {
		return classify(ctx, err)
	}
	c.emitFrame(f)

	switch {
	case f.Opcode == frame.OpClose:
		code, reason, _ := c.conn.PeerClose()
		return outcome{kind: outcomePeerClose, code: code, reason: reason}

	case f.IsControl():
		if f.Opcode == frame.OpPing && c.cfg.AutoPong {
			return outcome{kind: outcomePong, frame: f}
		}
		c.logger.Debug("control frame ignored", zap.Stringer("opcode", f.Opcode))
		return outcome{kind: outcomeContinue}

	case f.IsData():
		if err := c.asm.start(f); err != nil {
			return classify(ctx, err)
		}

	case f.Opcode == frame.OpContinuation:
		if err := c.asm.fold(f); err != nil {
			return classify(ctx, err)
		}

	default:
		c.logger.Debug("frame with reserved opcode ignored", zap.Stringer("opcode", f.Opcode))
		return outcome{kind: outcomeContinue}
	}

	if !c.asm.ready() {
		return outcome{kind: outcomeContinue}
	}
	msg := c.asm.take()
	if msg.Type == kephasws.TextMessage && !utf8.Valid(msg.Data) {
		return classify(ctx, kephasws.NewError(kephasws.KindCloseInconsistentData, "text message is not valid UTF-8"))
	}
	return outcome{kind: outcomeDispatch, message: msg}
}

// classify turns a read or protocol failure into the close reason recorded by
// the loop.
func classify(ctx context.Context, err error) outcome {
	if ctx.Err() != nil {
		return outcome{kind: outcomeCancelled, err: err}
	}

	var kerr *kephasws.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return outcome{
			kind: outcomeFail,
			code: kephasws.CloseInvalidData,
			err:  kephasws.WrapError(kephasws.KindCloseInvalidData, kephasws.ErrMsgInvalidData, err),
		}
	case errors.As(err, &kerr):
		return outcome{kind: outcomeFail, code: kerr.CloseCode(), err: err}
	default:
		return outcome{
			kind: outcomeFail,
			code: kephasws.CloseUnexpectedCondition,
			err:  kephasws.WrapError(kephasws.KindCloseUnexpectedCondition, kephasws.ErrMsgUnexpectedCondition, err),
		}
	}
}

// receiveLoop runs for the lifetime of the session. It dispatches messages,
// answers pings and, when it stops on its own, runs the close sequence.
func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.loopDone)

	var exit outcome
loop:
	for {
		o := c.step(ctx)
		switch o.kind {
		case outcomeContinue:
		case outcomeDispatch:
			c.dispatch(o.message)
		case outcomePong:
			if c.conn.State() != kephasws.StateOpen {
				continue
			}
			if err := c.conn.writeFrame(ctx, frame.NewFrame(frame.OpPong, o.frame.Payload, true)); err != nil {
				exit = classify(ctx, err)
				break loop
			}
		default:
			exit = o
			break loop
		}
	}

	c.exitMu.Lock()
	c.exit = exit
	c.exitMu.Unlock()

	c.logger.Debug("receive loop stopped",
		zap.Uint8("outcome", uint8(exit.kind)),
		zap.Uint16("code", uint16(exit.code)),
		zap.Error(exit.err),
	)
	c.afterLoop(exit)
}

// afterLoop runs the close sequence for a loop that stopped on its own. When
// a local Close already moved the connection to Closing, that Close finishes
// the teardown instead.
func (c *Client) afterLoop(exit outcome) {
	ctx := context.Background()

	switch exit.kind {
	case outcomePeerClose:
		err := c.conn.beginClose(ctx, exit.code, "")
		if errors.Is(err, kephasws.ErrInvalidState) {
			return
		}
		if err == nil {
			err = c.conn.finishClose(ctx)
		}
		if err != nil {
			c.logger.Debug("close echo failed", zap.Error(err))
		}
		c.finish(kephasws.CloseEvent{Code: exit.code, Reason: exit.reason, PeerInitiated: true}, true)

	case outcomeFail:
		c.logger.Warn("receive loop failed", zap.Uint16("code", uint16(exit.code)), zap.Error(exit.err))
		c.emitError(exit.err)
		err := c.conn.Close(ctx, exit.code, "")
		if errors.Is(err, kephasws.ErrInvalidState) && c.conn.State() == kephasws.StateClosing {
			return
		}
		if err != nil && !errors.Is(err, kephasws.ErrInvalidState) {
			c.logger.Debug("close after failure did not complete", zap.Error(err))
		}
		c.finish(kephasws.CloseEvent{Code: exit.code, Err: exit.err}, true)
	}
}

func (c *Client) dispatch(msg kephasws.Message) {
	if c.cfg.OnMessage != nil {
		c.callback(func() { c.cfg.OnMessage(msg) })
	}
	if c.cfg.OnCommand == nil || msg.Type != kephasws.BinaryMessage {
		return
	}
	env, err := protocol.Decode(msg.Data)
	if err != nil {
		c.logger.Debug("binary message is not a command envelope", zap.Error(err))
		return
	}
	if env.IsError() {
		c.logger.Warn("peer reported an error", zap.ByteString("message", env.Payload))
	}
	c.callback(func() { c.cfg.OnCommand(env.Command, env.Payload) })
}

func (c *Client) emitFrame(f *frame.Frame) {
	if c.cfg.OnFrame != nil {
		c.callback(func() { c.cfg.OnFrame(f) })
	}
}

func (c *Client) emitError(err error) {
	if c.cfg.OnError != nil {
		c.callback(func() { c.cfg.OnError(err) })
	}
}
