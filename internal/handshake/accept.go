// Package handshake builds the client opening handshake request, parses the
// server response and validates it against the request.
package handshake

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
)

const (
	// GUID is appended to the request key before hashing.
	GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	// Version is the protocol version advertised by the client.
	Version = "13"
)

// SupportedVersions lists the protocol versions the client can speak.
var SupportedVersions = []string{Version}

// NewKey returns a fresh Sec-WebSocket-Key: 16 random bytes, base64 encoded.
func NewKey() string {
	var nonce [16]byte
	_, _ = rand.Read(nonce[:])
	return base64.StdEncoding.EncodeToString(nonce[:])
}

// AcceptKey computes the Sec-WebSocket-Accept value the server must return
// for key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
