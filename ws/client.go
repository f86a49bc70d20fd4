package ws

import (
	"context"
	"net"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/luciancaetano/kephasws"
	"github.com/luciancaetano/kephasws/internal/frame"
	"github.com/luciancaetano/kephasws/internal/logging"
	"github.com/luciancaetano/kephasws/internal/websocket"
)

type ClientConfig = websocket.ClientConfig
type RateLimitConfig = websocket.RateLimitConfig
type Frame = frame.Frame
type Opcode = frame.Opcode
type OnOpenFn = websocket.OnOpenFn
type OnCloseFn = websocket.OnCloseFn
type OnFrameFn = websocket.OnFrameFn
type OnMessageFn = websocket.OnMessageFn
type OnErrorFn = websocket.OnErrorFn
type OnCommandFn = websocket.OnCommandFn

// Frame opcodes, as reported to OnFrame.
const (
	OpContinuation = frame.OpContinuation
	OpText         = frame.OpText
	OpBinary       = frame.OpBinary
	OpClose        = frame.OpClose
	OpPing         = frame.OpPing
	OpPong         = frame.OpPong
)

// Dial creates a client for cfg, connects, performs the opening handshake and
// starts the receive loop. When cfg.Logger is nil the logger carried by ctx,
// if any, is used.
//
// Example:
//
//	cfg := ws.NewConfig("ws://localhost:8080/chat", ws.NoRateLimit(), func(msg kephasws.Message) {
//	    log.Printf("received %q", msg.Data)
//	}, nil)
//
//	session, err := ws.Dial(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer session.Close(ctx)
func Dial(ctx context.Context, cfg *ClientConfig) (kephasws.Session, error) {
	client, err := websocket.NewClient(withContextLogger(ctx, cfg))
	if err != nil {
		return nil, err
	}
	if err := client.Open(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// DialConn is like Dial but runs the handshake over an established
// connection. cfg.URL still provides the request target and Host header.
func DialConn(ctx context.Context, conn net.Conn, cfg *ClientConfig) (kephasws.Session, error) {
	client, err := websocket.NewClientConn(withContextLogger(ctx, cfg), conn)
	if err != nil {
		return nil, err
	}
	if err := client.Open(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func withContextLogger(ctx context.Context, cfg *ClientConfig) *ClientConfig {
	if cfg == nil || cfg.Logger != nil {
		return cfg
	}
	c := *cfg
	c.Logger = logging.FromContext(ctx)
	return &c
}

// NewConfig returns a client configuration with defaults for everything but
// the URL, the rate limit and the message and close callbacks. Both callbacks
// may be nil.
func NewConfig(url string, rateLimitConfig *RateLimitConfig, onMessage OnMessageFn, onClose OnCloseFn) *ClientConfig {
	cfg := websocket.DefaultClientConfig(url)
	cfg.RateLimitConfig = rateLimitConfig
	cfg.OnMessage = onMessage
	cfg.OnClose = onClose
	return cfg
}

// DefaultClientConfig returns the default client configuration for url
func DefaultClientConfig(url string) *ClientConfig {
	return websocket.DefaultClientConfig(url)
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

// NewLogger builds a production JSON logger at the given level, suitable for
// ClientConfig.Logger.
func NewLogger(level zapcore.Level) *zap.Logger {
	return logging.New(level)
}

// WithLogger returns a copy of ctx carrying l. Dial and DialConn use it when
// the configuration has no logger of its own.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return logging.NewContext(ctx, l)
}

// LoggerFromLogr adapts a logr.Logger for ClientConfig.Logger.
func LoggerFromLogr(sink logr.Logger) *zap.Logger {
	return logging.FromLogr(sink)
}
