package kephasws

// Reserved command IDs for the command envelope.
const (
	// CmdError is reserved for error notifications carried in a command envelope
	CmdError uint32 = 0xFFFFFFFE
	// CmdMax is the highest command ID available to applications
	CmdMax uint32 = 0xFFFFFFFD
)

// Standard error messages
const (
	// State machine errors
	ErrMsgInvalidState                = "invalid state: "
	ErrMsgExtensionsAlreadyRegistered = "extension already registered: "
	ErrMsgMustNotBeNullOrEmpty        = "value must not be nil or empty"

	// Frame errors
	ErrMsgFragmentedControlFrame    = "control frames must not be fragmented"
	ErrMsgCompressedNonDataFrame    = "rsv1 must not be set on non-data frames"
	ErrMsgPayloadLengthControlFrame = "control frame payload must not exceed 125 bytes"
	ErrMsgMessageTooBig             = "message exceeds maximum size"

	// Handshake errors
	ErrMsgInvalidResponseLine    = "invalid response line: "
	ErrMsgNoHeaderLines          = "response has no header lines"
	ErrMsgInvalidScheme          = "invalid scheme: "
	ErrMsgNotAnAbsoluteURI       = "uri must be absolute"
	ErrMsgMustNotContainFragment = "uri must not contain a fragment"
	ErrMsgVersionNotSupported    = "server does not support protocol version 13"
	ErrMsgInvalidStatusCode      = "unexpected handshake status code: "
	ErrMsgInvalidAccept          = "Sec-WebSocket-Accept does not match request key"
	ErrMsgUnexpectedHeader       = "unexpected handshake header: "
	ErrMsgTooManyHeaderLines     = "too many response header lines"

	// Session errors
	ErrMsgInconsistentData    = "inconsistent message sequence"
	ErrMsgInvalidData         = "connection closed by lower layer"
	ErrMsgUnexpectedCondition = "unexpected condition"
	ErrMsgConnectionClosed    = "connection is closed"
	ErrMsgAlreadyOpened       = "client has been opened before"
	ErrMsgFailedToEncode      = "failed to encode message"
	ErrMsgMaxFrameSizeRange   = "max frame size out of range"
)
