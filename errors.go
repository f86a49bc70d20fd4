package kephasws

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure raised by the client.
//
// Kinds are stable and comparable: use errors.Is with one of the sentinel
// errors below (for example ErrInvalidState) to test an error returned by any
// operation.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidState
	KindExtensionsAlreadyRegistered
	KindFragmentedControlFrame
	KindCompressedNonDataFrame
	KindPayloadLengthControlFrame
	KindMessageTooBig
	KindInvalidResponseLine
	KindInvalidScheme
	KindNotAnAbsoluteURI
	KindMustNotContainFragment
	KindHandshakeVersionNotSupported
	KindHandshakeInvalidStatusCode
	KindHandshakeInvalidSecWebSocketAccept
	KindHandshakeUnexpectedHeader
	KindCloseInconsistentData
	KindCloseInvalidData
	KindCloseUnexpectedCondition
	KindInvalidArgument
)

var kindNames = map[Kind]string{
	KindUnknown:                            "Unknown",
	KindInvalidState:                       "InvalidState",
	KindExtensionsAlreadyRegistered:        "ExtensionsAlreadyRegistered",
	KindFragmentedControlFrame:             "FragmentedControlFrame",
	KindCompressedNonDataFrame:             "CompressedNonDataFrame",
	KindPayloadLengthControlFrame:          "PayloadLengthControlFrame",
	KindMessageTooBig:                      "MessageTooBig",
	KindInvalidResponseLine:                "InvalidResponseLine",
	KindInvalidScheme:                      "InvalidScheme",
	KindNotAnAbsoluteURI:                   "NotAnAbsoluteUri",
	KindMustNotContainFragment:             "MustNotContainFragment",
	KindHandshakeVersionNotSupported:       "HandshakeVersionNotSupported",
	KindHandshakeInvalidStatusCode:         "HandshakeInvalidStatusCode",
	KindHandshakeInvalidSecWebSocketAccept: "HandshakeInvalidSecWebSocketAccept",
	KindHandshakeUnexpectedHeader:          "HandshakeUnexpectedHeader",
	KindCloseInconsistentData:              "CloseInconsistentData",
	KindCloseInvalidData:                   "CloseInvalidData",
	KindCloseUnexpectedCondition:           "CloseUnexpectedCondition",
	KindInvalidArgument:                    "InvalidArgument",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// CloseCode returns the close reason recorded when a failure of this kind
// terminates the receive loop.
func (k Kind) CloseCode() CloseCode {
	switch k {
	case KindFragmentedControlFrame, KindCompressedNonDataFrame, KindCloseInvalidData:
		return CloseInvalidData
	case KindPayloadLengthControlFrame, KindCloseInconsistentData:
		return CloseInconsistentData
	case KindMessageTooBig:
		return CloseMessageTooBig
	case KindCloseUnexpectedCondition, KindUnknown:
		return CloseUnexpectedCondition
	default:
		return CloseProtocolError
	}
}

// Error is the error type returned by every package of the client.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// NewError creates an Error of the given kind with a message.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError creates an Error of the given kind wrapping a cause.
func WrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// CloseCode returns the close reason associated with the error kind.
func (e *Error) CloseCode() CloseCode {
	return e.Kind.CloseCode()
}

// Sentinel errors for errors.Is.
var (
	ErrInvalidState                       = &Error{Kind: KindInvalidState}
	ErrExtensionsAlreadyRegistered        = &Error{Kind: KindExtensionsAlreadyRegistered}
	ErrFragmentedControlFrame             = &Error{Kind: KindFragmentedControlFrame}
	ErrCompressedNonDataFrame             = &Error{Kind: KindCompressedNonDataFrame}
	ErrPayloadLengthControlFrame          = &Error{Kind: KindPayloadLengthControlFrame}
	ErrMessageTooBig                      = &Error{Kind: KindMessageTooBig}
	ErrInvalidResponseLine                = &Error{Kind: KindInvalidResponseLine}
	ErrInvalidScheme                      = &Error{Kind: KindInvalidScheme}
	ErrNotAnAbsoluteURI                   = &Error{Kind: KindNotAnAbsoluteURI}
	ErrMustNotContainFragment             = &Error{Kind: KindMustNotContainFragment}
	ErrHandshakeVersionNotSupported       = &Error{Kind: KindHandshakeVersionNotSupported}
	ErrHandshakeInvalidStatusCode         = &Error{Kind: KindHandshakeInvalidStatusCode}
	ErrHandshakeInvalidSecWebSocketAccept = &Error{Kind: KindHandshakeInvalidSecWebSocketAccept}
	ErrHandshakeUnexpectedHeader          = &Error{Kind: KindHandshakeUnexpectedHeader}
	ErrCloseInconsistentData              = &Error{Kind: KindCloseInconsistentData}
	ErrCloseInvalidData                   = &Error{Kind: KindCloseInvalidData}
	ErrCloseUnexpectedCondition           = &Error{Kind: KindCloseUnexpectedCondition}
	ErrInvalidArgument                    = &Error{Kind: KindInvalidArgument}
)

// StateError is returned when an operation is attempted in the wrong state.
// It matches ErrInvalidState with errors.Is.
func StateError(actual State) error {
	return &Error{Kind: KindInvalidState, Msg: ErrMsgInvalidState + actual.String()}
}

// KindOf returns the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
