package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasws"
	"github.com/luciancaetano/kephasws/internal/async"
	"github.com/luciancaetano/kephasws/internal/frame"
	"github.com/luciancaetano/kephasws/internal/logging"
	"github.com/luciancaetano/kephasws/internal/protocol"
	"github.com/luciancaetano/kephasws/internal/transport"
)

// Client implements the kephasws.Session interface
type Client struct {
	id     string
	cfg    *ClientConfig
	logger *zap.Logger
	conn   *Conn

	rateLimiter  *rate.Limiter
	sendLock     *async.Lock
	maxFrameSize atomic.Int64
	asm          *assembler

	ctx        context.Context
	cancel     context.CancelFunc
	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	done       chan struct{}

	opened     atomic.Bool
	finishOnce sync.Once

	// callbacks counts callbacks in progress; Close does not wait for the
	// teardown while it is non-zero.
	callbacks atomic.Int32

	exitMu   sync.Mutex
	exit     outcome
	closeErr error
}

var _ kephasws.Session = (*Client)(nil)

// NewClient creates an unopened client. Configuration errors are returned
// here, before any I/O.
func NewClient(cfg *ClientConfig) (*Client, error) {
	return newClient(cfg, nil)
}

// NewClientConn creates a client that runs the handshake over an established
// connection instead of dialing. cfg.URL still provides the request target
// and Host header.
func NewClientConn(cfg *ClientConfig, conn net.Conn) (*Client, error) {
	if conn == nil {
		return nil, kephasws.NewError(kephasws.KindInvalidArgument, "conn: "+kephasws.ErrMsgMustNotBeNullOrEmpty)
	}
	return newClient(cfg, func(logger *zap.Logger) transport.Transport {
		return transport.FromConn(conn, transport.Config{Logger: logger})
	})
}

func newClient(c *ClientConfig, newTransport func(*zap.Logger) transport.Transport) (*Client, error) {
	cfg, err := c.validate()
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	base := logging.OrNop(cfg.Logger).With(zap.String("session_id", id))

	if newTransport == nil {
		newTransport = func(logger *zap.Logger) transport.Transport {
			return transport.NewTCP(transport.Config{
				DialTimeout: cfg.DialTimeout,
				TLSConfig:   cfg.TLSConfig,
				Logger:      logger,
			})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	loopCtx, loopCancel := context.WithCancel(ctx)

	client := &Client{
		id:     id,
		cfg:    cfg,
		logger: base.Named("client"),
		conn: NewConn(ConnOptions{
			NewTransport: func() transport.Transport { return newTransport(base) },
			Subprotocols: cfg.Subprotocols,
			Origin:       cfg.Origin,
			ReadLimit:    cfg.MaxMessageSize,
			CloseTimeout: cfg.CloseTimeout,
			Logger:       base,
		}),
		rateLimiter: newLimiter(cfg.RateLimitConfig),
		sendLock:    async.NewLock(),
		asm:         newAssembler(cfg.MaxMessageSize),
		ctx:         ctx,
		cancel:      cancel,
		loopCtx:     loopCtx,
		loopCancel:  loopCancel,
		loopDone:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	client.maxFrameSize.Store(int64(cfg.MaxFrameSize))
	return client, nil
}

// ID returns a unique identifier for the session
func (c *Client) ID() string {
	return c.id
}

// State returns the state of the underlying connection
func (c *Client) State() kephasws.State {
	return c.conn.State()
}

// Context returns the session's lifecycle context
func (c *Client) Context() context.Context {
	return c.ctx
}

// Done returns a channel closed once the session has been torn down
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// IsAlive returns true while the connection is open
func (c *Client) IsAlive() bool {
	return c.conn.State() == kephasws.StateOpen
}

// Subprotocol returns the subprotocol selected by the server, if any.
func (c *Client) Subprotocol() string {
	if resp := c.conn.Response(); resp != nil {
		return resp.Protocol()
	}
	return ""
}

// MaxFrameSize returns the current fragmentation threshold.
func (c *Client) MaxFrameSize() int {
	return int(c.maxFrameSize.Load())
}

// SetMaxFrameSize changes the fragmentation threshold. n must be in
// (0, MaxFrameSizeCeiling].
func (c *Client) SetMaxFrameSize(n int) error {
	if err := checkMaxFrameSize(n); err != nil {
		return err
	}
	c.maxFrameSize.Store(int64(n))
	return nil
}

// Open registers the configured extensions, connects, performs the opening
// handshake and starts the receive loop. A client can be opened once.
func (c *Client) Open(ctx context.Context) error {
	if !c.opened.CompareAndSwap(false, true) {
		return kephasws.NewError(kephasws.KindInvalidState, kephasws.ErrMsgAlreadyOpened)
	}

	if err := c.open(ctx); err != nil {
		c.logger.Warn("open failed", zap.Error(err))
		c.finish(kephasws.CloseEvent{Code: kephasws.CloseAbnormal, Err: err}, false)
		return err
	}

	if c.cfg.OnOpen != nil {
		c.callback(func() { c.cfg.OnOpen(c) })
	}
	go c.receiveLoop(c.loopCtx)
	if c.cfg.PingInterval > 0 {
		go c.keepalive(c.cfg.PingInterval)
	}
	return nil
}

func (c *Client) open(ctx context.Context) error {
	for _, ext := range c.cfg.Extensions {
		if err := c.conn.RegisterExtension(ctx, ext); err != nil {
			return err
		}
	}
	if err := c.conn.Connect(ctx, c.cfg.URL); err != nil {
		return err
	}
	_, err := c.conn.SendHandshake(ctx)
	return err
}

// Send sends a text or binary message, fragmenting it when it exceeds the
// maximum frame size. Fragments of concurrent sends never interleave. data
// must not be modified until Send returns.
func (c *Client) Send(ctx context.Context, messageType kephasws.MessageType, data []byte) error {
	switch messageType {
	case kephasws.TextMessage:
		if !utf8.Valid(data) {
			return kephasws.NewError(kephasws.KindInvalidArgument, "text message is not valid UTF-8")
		}
	case kephasws.BinaryMessage:
	default:
		return kephasws.NewError(kephasws.KindInvalidArgument, "unsupported message type: "+messageType.String())
	}

	if s := c.conn.State(); s != kephasws.StateOpen {
		return kephasws.StateError(s)
	}
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}
	}

	r, err := c.sendLock.Lock(ctx)
	if err != nil {
		return err
	}
	defer r.Release()

	for _, f := range fragment(frame.Opcode(messageType), data, c.MaxFrameSize()) {
		if err := c.conn.SendFrame(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// SendText sends a UTF-8 text message
func (c *Client) SendText(ctx context.Context, text string) error {
	return c.Send(ctx, kephasws.TextMessage, []byte(text))
}

// SendBinary sends a binary message
func (c *Client) SendBinary(ctx context.Context, data []byte) error {
	return c.Send(ctx, kephasws.BinaryMessage, data)
}

// SendCommand encodes and sends a binary message with the given command ID and payload
func (c *Client) SendCommand(ctx context.Context, command uint32, payload []byte) error {
	data, err := protocol.Encode(command, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", kephasws.ErrMsgFailedToEncode, err)
	}
	return c.Send(ctx, kephasws.BinaryMessage, data)
}

// Ping sends a ping control frame
func (c *Client) Ping(ctx context.Context, payload []byte) error {
	return c.conn.SendFrame(ctx, frame.NewFrame(frame.OpPing, payload, true))
}

// Close performs the closing handshake with CloseNormal
func (c *Client) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, kephasws.CloseNormal, "")
}

// CloseWithCode sends a close frame, waits for the peer's close frame or the
// close timeout, stops the receive loop and shuts the transport down. It
// returns once the session is torn down and is safe to call more than once.
//
// Called from a callback, it sends the close frame and returns without
// waiting; the teardown completes after the callback returns.
func (c *Client) CloseWithCode(ctx context.Context, code kephasws.CloseCode, reason string) error {
	if !code.Sendable() {
		return kephasws.NewError(kephasws.KindInvalidArgument, "close code cannot be sent: "+code.String())
	}
	if c.opened.CompareAndSwap(false, true) {
		c.finish(kephasws.CloseEvent{Code: code, Reason: reason}, false)
		return nil
	}

	err := c.conn.beginClose(ctx, code, reason)
	if errors.Is(err, kephasws.ErrInvalidState) {
		// another close is already in progress
		err = nil
	} else {
		go c.teardown(ctx, kephasws.CloseEvent{Code: code, Reason: reason}, err)
	}

	if c.callbacks.Load() > 0 {
		return err
	}
	select {
	case <-c.done:
		c.exitMu.Lock()
		defer c.exitMu.Unlock()
		return multierr.Append(err, c.closeErr)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardown completes a local close once the close frame has been sent, or
// failed to send with sendErr. It waits for the receive loop to observe the
// peer's close frame, the close timeout or ctx, then stops the loop.
func (c *Client) teardown(ctx context.Context, event kephasws.CloseEvent, sendErr error) {
	if sendErr != nil {
		c.loopCancel()
		<-c.loopDone
		event.Err = sendErr
		c.finish(event, true)
		return
	}

	timer := time.NewTimer(c.cfg.CloseTimeout)
	defer timer.Stop()

	var waitErr error
	select {
	case <-c.loopDone:
	case <-timer.C:
		c.logger.Warn("peer did not answer close", zap.Duration("timeout", c.cfg.CloseTimeout))
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	c.loopCancel()
	<-c.loopDone

	finErr := c.conn.finishClose(ctx)

	c.exitMu.Lock()
	if c.exit.kind == outcomeFail {
		event.Err = c.exit.err
	}
	c.closeErr = multierr.Append(waitErr, finErr)
	c.exitMu.Unlock()
	c.finish(event, true)
}

// callback runs fn while marking the session as inside a callback.
func (c *Client) callback(fn func()) {
	c.callbacks.Add(1)
	defer c.callbacks.Add(-1)
	fn()
}

// finish tears the session down once: it cancels the session context,
// reports the close event when notify is set and releases Done waiters.
func (c *Client) finish(event kephasws.CloseEvent, notify bool) {
	c.finishOnce.Do(func() {
		c.cancel()
		c.logger.Info("session closed",
			zap.Uint16("code", uint16(event.Code)),
			zap.String("reason", event.Reason),
			zap.Bool("peer_initiated", event.PeerInitiated),
			zap.Error(event.Err),
		)
		if notify && c.cfg.OnClose != nil {
			c.callback(func() { c.cfg.OnClose(event) })
		}
		close(c.done)
	})
}

// keepalive sends a ping every interval while the connection is open.
func (c *Client) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, interval)
			err := c.Ping(ctx, nil)
			cancel()
			if err != nil {
				c.logger.Debug("keepalive stopped", zap.Error(err))
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// fragment splits data into frames of at most size payload bytes. Only the
// last frame has FIN set; all but the first use the continuation opcode.
func fragment(op frame.Opcode, data []byte, size int) []*frame.Frame {
	if len(data) <= size {
		return []*frame.Frame{frame.NewFrame(op, data, true)}
	}

	frames := make([]*frame.Frame, 0, (len(data)+size-1)/size)
	for off := 0; off < len(data); off += size {
		end := min(off+size, len(data))
		fop := frame.OpContinuation
		if off == 0 {
			fop = op
		}
		frames = append(frames, frame.NewFrame(fop, data[off:end], end == len(data)))
	}
	return frames
}
