package frame

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/luciancaetano/kephasws"
)

// maxCloseReason is the room left for a reason after the 2-byte code.
const maxCloseReason = MaxControlPayload - 2

// ClosePayload encodes a close frame body: a 2-byte big-endian code followed
// by the UTF-8 reason, truncated to fit a control frame. Codes that may not
// appear on the wire produce an empty body.
func ClosePayload(code kephasws.CloseCode, reason string) []byte {
	if !code.Sendable() {
		return []byte{}
	}
	r := truncateUTF8(reason, maxCloseReason)
	out := make([]byte, 2, 2+len(r))
	binary.BigEndian.PutUint16(out, uint16(code))
	return append(out, r...)
}

// ParseClosePayload decodes a close frame body. An empty body yields
// CloseNoStatus. A 1-byte body or a reason that is not valid UTF-8 fails with
// CloseInconsistentData.
func ParseClosePayload(p []byte) (kephasws.CloseCode, string, error) {
	switch len(p) {
	case 0:
		return kephasws.CloseNoStatus, "", nil
	case 1:
		return kephasws.CloseProtocolError, "", kephasws.NewError(kephasws.KindCloseInconsistentData, "close payload too short")
	}
	code := kephasws.CloseCode(binary.BigEndian.Uint16(p))
	reason := p[2:]
	if !utf8.Valid(reason) {
		return code, "", kephasws.NewError(kephasws.KindCloseInconsistentData, "close reason is not valid UTF-8")
	}
	return code, string(reason), nil
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
