package kephasws

import (
	"context"
	"fmt"
)

// Session is an open client-side WebSocket connection.
//
// A Session is created by ws.Dial (or websocket.NewClient followed by Open).
// Once opened it runs a receive loop for its whole lifetime: incoming frames
// are reassembled into messages, pings are answered automatically and the
// results are surfaced through the callbacks configured on the client.
//
// Example usage:
//
//	cfg := ws.DefaultClientConfig("ws://localhost:8080/chat")
//	cfg.OnMessage = func(msg kephasws.Message) {
//	    log.Printf("received %d bytes", len(msg.Data))
//	}
//
//	session, err := ws.Dial(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer session.Close(ctx)
//
//	session.SendText(ctx, "hello")
type Session interface {
	// ID returns a unique identifier for the session.
	//
	// The ID is generated when the client is created and remains constant
	// for the lifetime of the session.
	ID() string

	// State returns the current state of the underlying connection.
	State() State

	// Context returns the session's lifecycle context.
	//
	// This context is cancelled when the receive loop terminates, allowing
	// goroutines tied to the session to be cleaned up.
	Context() context.Context

	// Done returns a channel that is closed once the session is fully closed
	// and the transport has been shut down.
	Done() <-chan struct{}

	// Send sends a text or binary message.
	//
	// Messages larger than the configured maximum frame size are split into
	// a first frame carrying the message opcode followed by continuation
	// frames; only the last frame has FIN set.
	//
	// Returns an error if the connection is not open or the context is cancelled.
	Send(ctx context.Context, messageType MessageType, data []byte) error

	// SendText sends a UTF-8 text message.
	SendText(ctx context.Context, text string) error

	// SendBinary sends a binary message.
	SendBinary(ctx context.Context, data []byte) error

	// SendCommand sends a binary message carrying a command envelope: the
	// 4-byte big-endian command ID followed by the payload.
	SendCommand(ctx context.Context, command uint32, payload []byte) error

	// Ping sends a ping control frame. The payload must not exceed 125 bytes.
	Ping(ctx context.Context, payload []byte) error

	// Close performs the closing handshake with CloseNormal.
	//
	// This is equivalent to calling CloseWithCode with CloseNormal and no reason.
	Close(ctx context.Context) error

	// CloseWithCode sends a close frame with the given code and reason, waits
	// for the peer to answer with its own close frame and shuts the transport
	// down.
	//
	// When called from a session callback it returns once the close frame is
	// sent; the teardown finishes after the callback returns.
	//
	// Common close codes:
	//   - 1000 (CloseNormal): Normal closure
	//   - 1001 (CloseGoingAway): Endpoint going away
	//   - 1002 (CloseProtocolError): Protocol error
	CloseWithCode(ctx context.Context, code CloseCode, reason string) error

	// IsAlive returns true while the connection is open.
	IsAlive() bool
}

// Extension is a protocol extension offered during the opening handshake.
//
// The client only negotiates extensions: Offer is sent as one element of the
// Sec-WebSocket-Extensions request header. Payload transformation (for
// example per-message compression) is up to the extension implementation.
type Extension interface {
	// Name returns the extension token, unique per connection.
	Name() string
	// Offer returns the header value offered to the server.
	Offer() string
}

// State is the state of a connection.
type State uint8

// Closed is both the initial state and the resting state after a close.
const (
	StateClosed State = iota
	StateConnecting
	StateConnected
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// MessageType is the type of a data message. The values equal the opcodes of
// the frames that start such messages.
type MessageType uint8

const (
	TextMessage   MessageType = 0x1
	BinaryMessage MessageType = 0x2
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Message is a reassembled application message.
type Message struct {
	Type MessageType
	Data []byte
}

// Text returns the message payload as a string.
func (m Message) Text() string {
	return string(m.Data)
}

// CloseCode is a close status code carried in close frames (RFC 6455, section 7.4).
type CloseCode uint16

// Close codes. The names follow the reasons the client records when it
// terminates a connection.
const (
	CloseNone                CloseCode = 0
	CloseNormal              CloseCode = 1000
	CloseGoingAway           CloseCode = 1001
	CloseProtocolError       CloseCode = 1002
	CloseInvalidData         CloseCode = 1003
	CloseNoStatus            CloseCode = 1005
	CloseAbnormal            CloseCode = 1006
	CloseInconsistentData    CloseCode = 1007
	ClosePolicyViolation     CloseCode = 1008
	CloseMessageTooBig       CloseCode = 1009
	CloseMandatoryExtension  CloseCode = 1010
	CloseUnexpectedCondition CloseCode = 1011
	CloseTLSHandshake        CloseCode = 1015
)

var closeCodeNames = map[CloseCode]string{
	CloseNone:                "None",
	CloseNormal:              "Normal",
	CloseGoingAway:           "GoingAway",
	CloseProtocolError:       "ProtocolError",
	CloseInvalidData:         "InvalidData",
	CloseNoStatus:            "NoStatus",
	CloseAbnormal:            "Abnormal",
	CloseInconsistentData:    "InconsistentData",
	ClosePolicyViolation:     "PolicyViolation",
	CloseMessageTooBig:       "MessageTooBig",
	CloseMandatoryExtension:  "MandatoryExtension",
	CloseUnexpectedCondition: "UnexpectedCondition",
	CloseTLSHandshake:        "TLSHandshake",
}

func (c CloseCode) String() string {
	if name, ok := closeCodeNames[c]; ok {
		return fmt.Sprintf("%s(%d)", name, uint16(c))
	}
	return fmt.Sprintf("CloseCode(%d)", uint16(c))
}

// Sendable reports whether the code may appear in a close frame on the wire.
// 1005, 1006 and 1015 are reserved for local reporting.
func (c CloseCode) Sendable() bool {
	switch c {
	case CloseNone, CloseNoStatus, CloseAbnormal, CloseTLSHandshake:
		return false
	}
	return (c >= 1000 && c <= 1014) || (c >= 3000 && c <= 4999)
}

// CloseEvent describes how a session ended.
type CloseEvent struct {
	// Code is the close reason. For a peer-initiated close this is the code
	// sent by the peer.
	Code CloseCode
	// Reason is the UTF-8 reason text, if any.
	Reason string
	// PeerInitiated is true when a close frame from the peer was received
	// before the client sent its own.
	PeerInitiated bool
	// Err is the failure that terminated the receive loop, nil for a clean close.
	Err error
}
