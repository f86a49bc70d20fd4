package handshake

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/luciancaetano/kephasws"
)

// maxHeaderLines bounds how many lines ReadResponse accepts.
const maxHeaderLines = 128

// LineReader is the part of a transport needed to read the response head.
type LineReader interface {
	// ReadLine returns the next line without its terminator. An empty line
	// ends the header block.
	ReadLine(ctx context.Context) (string, error)
}

// Response is the server side of the opening handshake.
type Response struct {
	Proto      string
	StatusCode int
	Reason     string
	Header     http.Header

	// Request is the handshake this response answers.
	Request *Request
}

// ReadResponse reads header lines up to the blank line and parses them.
func ReadResponse(ctx context.Context, lr LineReader) (*Response, error) {
	var lines []string
	for {
		line, err := lr.ReadLine(ctx)
		if err != nil {
			return nil, fmt.Errorf("read handshake response: %w", err)
		}
		if line == "" {
			if len(lines) == 0 {
				continue
			}
			break
		}
		if len(lines) == maxHeaderLines {
			return nil, kephasws.NewError(kephasws.KindInvalidResponseLine, kephasws.ErrMsgTooManyHeaderLines)
		}
		lines = append(lines, line)
	}
	return ParseResponse(lines)
}

// ParseResponse parses a status line followed by header lines.
//
// Header values are split on commas and trimmed, except Date which is kept
// as one opaque value. Lines without a colon are skipped and parsing stops at
// the first empty line.
func ParseResponse(lines []string) (*Response, error) {
	if len(lines) == 0 {
		return nil, kephasws.NewError(kephasws.KindInvalidArgument, kephasws.ErrMsgNoHeaderLines)
	}

	status := strings.SplitN(lines[0], " ", 3)
	if len(status) < 3 || !strings.HasPrefix(status[0], "HTTP/") {
		return nil, kephasws.NewError(kephasws.KindInvalidResponseLine, kephasws.ErrMsgInvalidResponseLine+lines[0])
	}
	code, err := strconv.Atoi(status[1])
	if err != nil {
		return nil, kephasws.WrapError(kephasws.KindInvalidResponseLine, kephasws.ErrMsgInvalidResponseLine+lines[0], err)
	}

	resp := &Response{
		Proto:      status[0],
		StatusCode: code,
		Reason:     status[2],
		Header:     make(http.Header),
	}

	for _, line := range lines[1:] {
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if strings.EqualFold(name, HeaderDate) {
			resp.Header.Add(name, value)
			continue
		}
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				resp.Header.Add(name, v)
			}
		}
	}
	return resp, nil
}

// Accept returns the Sec-WebSocket-Accept value.
func (r *Response) Accept() string {
	return r.Header.Get(HeaderAccept)
}

// Protocol returns the subprotocol selected by the server, if any.
func (r *Response) Protocol() string {
	return r.Header.Get(HeaderProtocol)
}

// Extensions returns the extensions accepted by the server.
func (r *Response) Extensions() []string {
	return r.Header.Values(HeaderExtensions)
}

// Validate checks the response against r.Request.
//
// A status other than 101 fails with HandshakeVersionNotSupported when the
// server lists versions and none is supported, else with
// HandshakeInvalidStatusCode. A 101 response must carry the websocket upgrade
// headers, a matching Sec-WebSocket-Accept and, if any, a subprotocol the
// client offered.
func (r *Response) Validate() error {
	if r.Request == nil {
		return kephasws.NewError(kephasws.KindInvalidArgument, "response is not linked to a request")
	}

	if r.StatusCode != http.StatusSwitchingProtocols {
		if versions := r.Header.Values(HeaderVersion); len(versions) > 0 && !intersects(versions, SupportedVersions) {
			return kephasws.NewError(kephasws.KindHandshakeVersionNotSupported,
				fmt.Sprintf("%s (server: %s)", kephasws.ErrMsgVersionNotSupported, strings.Join(versions, ", ")))
		}
		return kephasws.NewError(kephasws.KindHandshakeInvalidStatusCode,
			fmt.Sprintf("%s%d %s", kephasws.ErrMsgInvalidStatusCode, r.StatusCode, r.Reason))
	}

	if v, ok := headerEquals(r.Header, HeaderUpgrade, upgradeValue); !ok {
		return kephasws.NewError(kephasws.KindHandshakeUnexpectedHeader,
			fmt.Sprintf("%s%s: %q", kephasws.ErrMsgUnexpectedHeader, HeaderUpgrade, v))
	}
	if !headerContains(r.Header, HeaderConnection, connectionValue) {
		return kephasws.NewError(kephasws.KindHandshakeUnexpectedHeader,
			fmt.Sprintf("%s%s: %q", kephasws.ErrMsgUnexpectedHeader, HeaderConnection, r.Header.Get(HeaderConnection)))
	}

	if r.Accept() != AcceptKey(r.Request.Key) {
		return kephasws.NewError(kephasws.KindHandshakeInvalidSecWebSocketAccept, kephasws.ErrMsgInvalidAccept)
	}

	if p := r.Protocol(); p != "" && !slices.Contains(r.Request.Values(HeaderProtocol), p) {
		return kephasws.NewError(kephasws.KindHandshakeUnexpectedHeader,
			fmt.Sprintf("%s%s: %q was not offered", kephasws.ErrMsgUnexpectedHeader, HeaderProtocol, p))
	}
	return nil
}

// headerEquals reports whether the header equals expected, case-insensitively.
// On mismatch it returns the actual value.
func headerEquals(h http.Header, name, expected string) (string, bool) {
	actual := h.Get(name)
	if strings.EqualFold(actual, expected) {
		return "", true
	}
	return actual, false
}

func headerContains(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		if strings.EqualFold(v, token) {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}
