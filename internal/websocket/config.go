package websocket

import (
	"crypto/tls"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasws"
	"github.com/luciancaetano/kephasws/internal/frame"
)

const (
	// DefaultMaxFrameSize is the payload size above which outgoing messages
	// are fragmented.
	DefaultMaxFrameSize = 64 * 1024
	// MaxFrameSizeCeiling is the largest accepted MaxFrameSize.
	MaxFrameSizeCeiling = 16 * 1024 * 1024
	// DefaultMaxMessageSize bounds incoming messages when MaxMessageSize is zero.
	DefaultMaxMessageSize = 32 * 1024 * 1024
	// DefaultCloseTimeout bounds the wait for the peer's close frame.
	DefaultCloseTimeout = 5 * time.Second
)

// OnOpenFn is called once the opening handshake has been accepted, before the
// receive loop starts. It runs on the goroutine that called Open.
type OnOpenFn = func(session kephasws.Session)

// OnCloseFn is called exactly once when an opened session has been torn down.
// The event tells a clean peer close (PeerInitiated, no Err) apart from a
// protocol violation (Err is a *kephasws.Error) and a transport failure.
type OnCloseFn = func(event kephasws.CloseEvent)

// OnFrameFn is called for every frame read off the wire, control frames
// included, before the frame is interpreted.
type OnFrameFn = func(f *frame.Frame)

// OnMessageFn is called for every reassembled data message.
type OnMessageFn = func(msg kephasws.Message)

// OnErrorFn is called when the receive loop stops because of a failure,
// before the close sequence runs.
type OnErrorFn = func(err error)

// OnCommandFn is called for binary messages that decode as a command
// envelope, after OnMessage.
type OnCommandFn = func(command uint32, payload []byte)

// ClientConfig configures a client session.
//
// All callbacks except OnOpen are invoked from the receive loop goroutine, in
// wire order. A callback must not block for long: the loop does not read
// while it runs.
//
// Callbacks may call Send, Ping, Close and CloseWithCode on the session.
// Close called while any callback is running sends the close frame and
// returns without waiting; OnClose reports the end of the teardown.
type ClientConfig struct {
	// URL is the ws:// or wss:// target.
	URL string
	// Subprotocols are offered in Sec-WebSocket-Protocol, in order.
	Subprotocols []string
	// Origin overrides the Origin header derived from URL.
	Origin string
	// Extensions are registered before connecting and offered in
	// Sec-WebSocket-Extensions.
	Extensions []kephasws.Extension

	// MaxFrameSize is the largest payload sent in one frame. Zero means
	// DefaultMaxFrameSize.
	MaxFrameSize int
	// MaxMessageSize bounds incoming frames and reassembled messages.
	// Zero means DefaultMaxMessageSize; values above frame.MaxPayloadLength
	// are capped to it.
	MaxMessageSize int64
	// AutoPong answers pings with a pong carrying the same payload.
	AutoPong bool
	// CloseTimeout bounds the wait for the peer's close frame. Zero means
	// DefaultCloseTimeout.
	CloseTimeout time.Duration
	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration

	DialTimeout time.Duration
	TLSConfig   *tls.Config

	// RateLimitConfig limits outgoing messages. Nil disables limiting.
	RateLimitConfig *RateLimitConfig

	// Logger receives lifecycle and frame traces. Nil discards them.
	Logger *zap.Logger

	OnOpen    OnOpenFn
	OnClose   OnCloseFn
	OnFrame   OnFrameFn
	OnMessage OnMessageFn
	OnError   OnErrorFn
	OnCommand OnCommandFn
}

// RateLimitConfig defines rate limiting for outgoing messages
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages the client may send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// DefaultClientConfig returns a configuration for url with auto-pong enabled,
// the default frame size and close timeout, and no rate limit.
func DefaultClientConfig(url string) *ClientConfig {
	return &ClientConfig{
		URL:             url,
		MaxFrameSize:    DefaultMaxFrameSize,
		AutoPong:        true,
		CloseTimeout:    DefaultCloseTimeout,
		RateLimitConfig: NoRateLimit(),
	}
}

// validate checks arguments and returns a copy with defaults applied.
func (c *ClientConfig) validate() (*ClientConfig, error) {
	if c == nil {
		return nil, kephasws.NewError(kephasws.KindInvalidArgument, "config: "+kephasws.ErrMsgMustNotBeNullOrEmpty)
	}
	if c.URL == "" {
		return nil, kephasws.NewError(kephasws.KindInvalidArgument, "url: "+kephasws.ErrMsgMustNotBeNullOrEmpty)
	}

	cfg := *c
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if err := checkMaxFrameSize(cfg.MaxFrameSize); err != nil {
		return nil, err
	}
	if cfg.MaxMessageSize < 0 {
		return nil, kephasws.NewError(kephasws.KindInvalidArgument,
			fmt.Sprintf("max message size must not be negative: %d", cfg.MaxMessageSize))
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.MaxMessageSize > frame.MaxPayloadLength {
		cfg.MaxMessageSize = frame.MaxPayloadLength
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	for i, ext := range cfg.Extensions {
		if ext == nil {
			return nil, kephasws.NewError(kephasws.KindInvalidArgument,
				fmt.Sprintf("extension %d: %s", i, kephasws.ErrMsgMustNotBeNullOrEmpty))
		}
	}
	return &cfg, nil
}

func checkMaxFrameSize(n int) error {
	if n <= 0 || n > MaxFrameSizeCeiling {
		return kephasws.NewError(kephasws.KindInvalidArgument,
			fmt.Sprintf("%s: %d not in (0, %d]", kephasws.ErrMsgMaxFrameSizeRange, n, MaxFrameSizeCeiling))
	}
	return nil
}

func newLimiter(cfg *RateLimitConfig) *rate.Limiter {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return rate.NewLimiter(cfg.MessagesPerSecond, cfg.Burst)
}
