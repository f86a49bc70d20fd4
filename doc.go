// Package kephasws provides a client-side WebSocket (RFC 6455) library.
//
// The client dials a ws:// or wss:// endpoint, performs the HTTP Upgrade
// handshake, and then runs a receive loop that reassembles fragmented messages,
// answers pings and carries out the closing handshake. Frames are masked with
// a fresh random key; large outgoing messages are fragmented at a configurable
// frame size.
//
// # Architecture
//
// The root package holds the public contracts: the Session interface, message
// and close types, and the error taxonomy. Implementations live in internal
// packages:
//
//	internal/frame      frame codec (header, extended length, masking)
//	internal/handshake  URI validation, upgrade request and response checks
//	internal/transport  TCP/TLS byte stream with context-aware reads
//	internal/async      FIFO semaphore and async lock
//	internal/websocket  connection state machine and client session
//	internal/protocol   optional command envelope over binary messages
//
// The ws package is the entry point.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/kephasws"
//	    "github.com/luciancaetano/kephasws/ws"
//	)
//
//	cfg := ws.NewConfig("wss://example.com/chat", ws.NoRateLimit(),
//	    func(msg kephasws.Message) {
//	        log.Printf("received %s message: %q", msg.Type, msg.Data)
//	    },
//	    func(ev kephasws.CloseEvent) {
//	        log.Printf("closed: %v (peer=%v)", ev.Code, ev.PeerInitiated)
//	    },
//	)
//
//	session, err := ws.Dial(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer session.Close(ctx)
//
//	session.SendText(ctx, "hello")
//
// # Connection States
//
//	Closed → Connecting → Connected → Opening → Open → Closing → Closed
//
// A failed connect or handshake returns the connection to Closed.
//
// # Close Reasons
//
// When the receive loop fails it sends a close frame whose code depends on the
// failure, reports it to OnError and then to OnClose:
//
//   - 1003 (CloseInvalidData): fragmented or compressed control frame, or the
//     connection was closed by the lower layer
//   - 1007 (CloseInconsistentData): oversized control frame, out-of-order
//     fragments, invalid UTF-8 in a text message
//   - 1009 (CloseMessageTooBig): message above MaxMessageSize
//   - 1011 (CloseUnexpectedCondition): any other failure
//
// A close frame from the peer is echoed with the same code.
//
// # Command Envelope
//
// SendCommand and OnCommand layer a small binary protocol over binary
// messages:
//
//	[4 bytes: CommandID (uint32, big-endian)][N bytes: Payload]
//
// Maximum payload: 10MB. Command IDs above CmdMax are reserved.
//
// # Rate Limiting
//
// Outgoing messages can be throttled with a token bucket:
//
//	cfg.RateLimitConfig = ws.DefaultRateLimitConfig() // 100 msgs/s, burst 200
//
// Send blocks until a token is available or its context is done.
//
// # Important
//
//   - Callbacks run on the receive loop goroutine; a slow callback delays
//     further reads
//   - Do not modify data passed to Send until it returns
//   - Errors match the sentinels of this package with errors.Is
package kephasws
