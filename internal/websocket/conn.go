package websocket

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luciancaetano/kephasws"
	"github.com/luciancaetano/kephasws/internal/async"
	"github.com/luciancaetano/kephasws/internal/frame"
	"github.com/luciancaetano/kephasws/internal/handshake"
	"github.com/luciancaetano/kephasws/internal/transport"
)

// ConnOptions configures a Conn.
type ConnOptions struct {
	// NewTransport returns the transport used by the next Connect.
	NewTransport func() transport.Transport
	Subprotocols []string
	Origin       string
	// ReadLimit bounds the payload of incoming frames.
	ReadLimit    int64
	CloseTimeout time.Duration
	Logger       *zap.Logger
}

// Conn is the connection state machine.
//
// It owns the transport and the extension list. The state moves
// Closed → Connecting → Connected → Opening → Open → Closing → Closed; every
// transition compares and sets the state while holding an async lock, which
// is released while the transition's I/O runs. Frame reads and writes are not
// serialized against each other. Writes of individual frames are.
type Conn struct {
	opts     ConnOptions
	logger   *zap.Logger
	frameLog *zap.Logger

	lock       *async.Lock
	state      atomic.Uint32
	extensions []kephasws.Extension

	writeSem *async.Semaphore

	// Set while Connecting and read only after the state has moved on.
	tr       transport.Transport
	uri      *url.URL
	response *handshake.Response

	closeSent     atomic.Bool
	closeReceived atomic.Bool
	peerMu        sync.Mutex
	peerCode      kephasws.CloseCode
	peerReason    string
}

// NewConn creates a Conn in the Closed state.
func NewConn(opts ConnOptions) *Conn {
	if opts.NewTransport == nil {
		opts.NewTransport = func() transport.Transport {
			return transport.NewTCP(transport.Config{Logger: opts.Logger})
		}
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = frame.MaxPayloadLength
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		opts:     opts,
		logger:   logger.Named("conn"),
		frameLog: logger.Named("frame"),
		lock:     async.NewLock(),
		writeSem: async.NewSemaphore(1),
	}
}

// State returns the current state.
func (c *Conn) State() kephasws.State {
	return kephasws.State(c.state.Load())
}

func (c *Conn) setState(s kephasws.State) {
	old := kephasws.State(c.state.Swap(uint32(s)))
	c.logger.Debug("state changed", zap.Stringer("from", old), zap.Stringer("to", s))
}

// transition moves the state from required to next under the lock.
func (c *Conn) transition(ctx context.Context, required, next kephasws.State) error {
	return c.lock.Do(ctx, func() error {
		if s := c.State(); s != required {
			return kephasws.StateError(s)
		}
		c.setState(next)
		return nil
	})
}

// run performs a guarded transition: required → intermediate, then action
// without the lock held, then intermediate → final. A failing action leaves
// the connection Closed with its transport shut down.
func (c *Conn) run(ctx context.Context, required, intermediate, final kephasws.State, action func(ctx context.Context) error) error {
	if err := c.transition(ctx, required, intermediate); err != nil {
		return err
	}
	if err := action(ctx); err != nil {
		c.abort()
		return err
	}
	return c.transition(context.WithoutCancel(ctx), intermediate, final)
}

// abort forces the Closed state and shuts the transport down.
func (c *Conn) abort() {
	_ = c.lock.Do(context.Background(), func() error {
		if c.State() != kephasws.StateClosed {
			c.setState(kephasws.StateClosed)
		}
		return nil
	})
	if c.tr != nil {
		if err := c.tr.Close(); err != nil {
			c.logger.Debug("transport close failed", zap.Error(err))
		}
	}
}

// RegisterExtension adds an extension to be offered in the handshake.
// Registration is only permitted while Closed and names must be unique.
func (c *Conn) RegisterExtension(ctx context.Context, ext kephasws.Extension) error {
	if ext == nil {
		return kephasws.NewError(kephasws.KindInvalidArgument, "extension: "+kephasws.ErrMsgMustNotBeNullOrEmpty)
	}
	return c.lock.Do(ctx, func() error {
		if s := c.State(); s != kephasws.StateClosed {
			return kephasws.StateError(s)
		}
		for _, e := range c.extensions {
			if e.Name() == ext.Name() {
				return kephasws.NewError(kephasws.KindExtensionsAlreadyRegistered,
					kephasws.ErrMsgExtensionsAlreadyRegistered+ext.Name())
			}
		}
		c.extensions = append(c.extensions, ext)
		return nil
	})
}

// Extensions returns the registered extensions.
func (c *Conn) Extensions() []kephasws.Extension {
	var out []kephasws.Extension
	_ = c.lock.Do(context.Background(), func() error {
		out = append(out, c.extensions...)
		return nil
	})
	return out
}

// Connect validates rawURI and opens the transport: Closed → Connecting →
// Connected.
func (c *Conn) Connect(ctx context.Context, rawURI string) error {
	u, err := handshake.ParseURI(rawURI)
	if err != nil {
		return err
	}
	host, port, useTLS, err := handshake.Endpoint(u)
	if err != nil {
		return err
	}

	return c.run(ctx, kephasws.StateClosed, kephasws.StateConnecting, kephasws.StateConnected, func(ctx context.Context) error {
		c.tr = c.opts.NewTransport()
		c.uri = u
		c.response = nil
		c.closeSent.Store(false)
		c.closeReceived.Store(false)
		c.setPeerClose(kephasws.CloseNone, "")

		if err := c.tr.Connect(ctx, host, port, useTLS); err != nil {
			return err
		}
		c.logger.Info("connected", zap.String("uri", u.String()))
		return nil
	})
}

// SendHandshake sends the default handshake request for the connected URI.
func (c *Conn) SendHandshake(ctx context.Context) (*handshake.Response, error) {
	return c.SendHandshakeRequest(ctx, nil)
}

// SendHandshakeRequest sends req, or the default request when req is nil,
// with the registered extensions appended, then reads and validates the
// response: Connected → Opening → Open.
func (c *Conn) SendHandshakeRequest(ctx context.Context, req *handshake.Request) (*handshake.Response, error) {
	var resp *handshake.Response
	err := c.run(ctx, kephasws.StateConnected, kephasws.StateOpening, kephasws.StateOpen, func(ctx context.Context) error {
		if req == nil {
			req = handshake.NewRequest(c.uri, c.opts.Subprotocols, c.opts.Origin)
		}
		for _, ext := range c.extensions {
			if err := req.AddExtension(ext.Offer()); err != nil {
				return err
			}
		}

		if err := c.tr.Write(ctx, []byte(req.String())); err != nil {
			return err
		}
		r, err := handshake.ReadResponse(ctx, c.tr)
		if err != nil {
			return err
		}
		r.Request = req
		if err := r.Validate(); err != nil {
			c.logger.Warn("handshake rejected", zap.Int("status", r.StatusCode), zap.Error(err))
			return err
		}
		resp = r
		c.response = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("opened", zap.String("subprotocol", resp.Protocol()))
	return resp, nil
}

// Response returns the accepted handshake response, or nil before Open.
func (c *Conn) Response() *handshake.Response {
	if s := c.State(); s == kephasws.StateOpen || s == kephasws.StateClosing {
		return c.response
	}
	return nil
}

// SendFrame writes f. The connection must be Open.
func (c *Conn) SendFrame(ctx context.Context, f *frame.Frame) error {
	if s := c.State(); s != kephasws.StateOpen {
		return kephasws.StateError(s)
	}
	return c.writeFrame(ctx, f)
}

// ReceiveFrame reads the next frame. The connection must be Open.
func (c *Conn) ReceiveFrame(ctx context.Context) (*frame.Frame, error) {
	if s := c.State(); s != kephasws.StateOpen {
		return nil, kephasws.StateError(s)
	}
	return c.readFrame(ctx)
}

// writeFrame writes one frame without checking the state. Whole frames are
// serialized so concurrent writers never interleave bytes.
func (c *Conn) writeFrame(ctx context.Context, f *frame.Frame) error {
	if err := c.writeSem.Acquire(ctx); err != nil {
		return err
	}
	defer c.writeSem.Release()

	if ce := c.frameLog.Check(zap.DebugLevel, "send"); ce != nil {
		ce.Write(zap.Stringer("opcode", f.Opcode), zap.Bool("fin", f.Fin), zap.Int("len", len(f.Payload)))
	}
	return f.WriteTo(ctx, c.tr)
}

// readFrame reads one frame without checking the state. A close frame is
// recorded as the peer's close.
func (c *Conn) readFrame(ctx context.Context) (*frame.Frame, error) {
	f, err := frame.ReadFromLimit(ctx, c.tr, c.opts.ReadLimit)
	if err != nil {
		return nil, err
	}
	if ce := c.frameLog.Check(zap.DebugLevel, "receive"); ce != nil {
		ce.Write(zap.Stringer("opcode", f.Opcode), zap.Bool("fin", f.Fin), zap.Int("len", len(f.Payload)))
	}

	if f.Opcode == frame.OpClose {
		code, reason, perr := frame.ParseClosePayload(f.Payload)
		c.setPeerClose(code, reason)
		c.closeReceived.Store(true)
		if perr != nil {
			return nil, perr
		}
	}
	return f, nil
}

func (c *Conn) setPeerClose(code kephasws.CloseCode, reason string) {
	c.peerMu.Lock()
	defer c.peerMu.Unlock()
	c.peerCode = code
	c.peerReason = reason
}

// PeerClose returns the code and reason of the peer's close frame, and
// whether one has been received.
func (c *Conn) PeerClose() (kephasws.CloseCode, string, bool) {
	c.peerMu.Lock()
	defer c.peerMu.Unlock()
	return c.peerCode, c.peerReason, c.closeReceived.Load()
}

// Close runs the closing handshake: Open → Closing, send a close frame with
// code and reason, read until the peer's close frame arrives or the close
// timeout expires, then Closing → Closed and shut the transport down. When
// the peer's close has already been received it is not waited for.
func (c *Conn) Close(ctx context.Context, code kephasws.CloseCode, reason string) error {
	return c.run(ctx, kephasws.StateOpen, kephasws.StateClosing, kephasws.StateClosed, func(ctx context.Context) error {
		if err := c.sendClose(ctx, code, reason); err != nil {
			return err
		}
		err := c.awaitPeerClose(ctx)
		return multierr.Append(err, c.tr.Close())
	})
}

// beginClose moves Open → Closing and sends the close frame. The caller is
// responsible for observing the peer's reply and calling finishClose.
func (c *Conn) beginClose(ctx context.Context, code kephasws.CloseCode, reason string) error {
	if err := c.transition(ctx, kephasws.StateOpen, kephasws.StateClosing); err != nil {
		return err
	}
	if err := c.sendClose(ctx, code, reason); err != nil {
		c.abort()
		return err
	}
	return nil
}

// finishClose moves Closing → Closed and shuts the transport down. It also
// closes the transport when the connection was already aborted.
func (c *Conn) finishClose(ctx context.Context) error {
	err := c.transition(context.WithoutCancel(ctx), kephasws.StateClosing, kephasws.StateClosed)
	if errors.Is(err, kephasws.ErrInvalidState) && c.State() == kephasws.StateClosed {
		err = nil
	}
	if c.tr != nil {
		err = multierr.Append(err, c.tr.Close())
	}
	c.logger.Info("closed")
	return err
}

func (c *Conn) sendClose(ctx context.Context, code kephasws.CloseCode, reason string) error {
	if c.closeSent.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.CloseTimeout)
	defer cancel()
	return c.writeFrame(ctx, frame.NewFrame(frame.OpClose, frame.ClosePayload(code, reason), true))
}

// awaitPeerClose discards incoming frames until the peer's close frame. A
// timeout or an orderly end of stream ends the wait without error.
func (c *Conn) awaitPeerClose(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CloseTimeout)
	defer cancel()

	for !c.closeReceived.Load() {
		if _, err := c.readFrame(ctx); err != nil {
			if c.closeReceived.Load() {
				return nil
			}
			if ctx.Err() != nil {
				c.logger.Warn("peer did not answer close", zap.Duration("timeout", c.opts.CloseTimeout))
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
	return nil
}
