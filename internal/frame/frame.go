// Package frame implements the RFC 6455 frame codec.
//
// A frame on the wire is a 2-byte base header, an optional 2- or 8-byte
// big-endian extended payload length, an optional 4-byte masking key and the
// payload:
//
//	 0                   1
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5
//	+-+-+-+-+-------+-+-------------+-------------------------------+
//	|F|R|R|R| opcode|M| Payload len |    Extended payload length    |
//	|I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
//	|N|V|V|V|       |S|             |   (if payload len==126/127)   |
//	| |1|2|3|       |K|             |                               |
//	+-+-+-+-+-------+-+-------------+-------------------------------+
//
// The codec reads and writes through the small Reader and Writer interfaces
// so it can run over any transport.
package frame

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/luciancaetano/kephasws"
)

const (
	finBit  = 0x80
	rsv1Bit = 0x40
	rsv2Bit = 0x20
	rsv3Bit = 0x10
	maskBit = 0x80

	opcodeMask = 0x0f
	lengthMask = 0x7f

	// MaxControlPayload is the largest payload a control frame may carry.
	MaxControlPayload = 125

	// MaxPayloadLength is the largest payload the codec will buffer.
	MaxPayloadLength = math.MaxInt32

	length16 = 126
	length64 = 127

	// readChunk bounds a single payload read, so memory grows with the bytes
	// that actually arrive rather than with the declared length.
	readChunk = 64 * 1024

	maxHeaderSize = 2 + 8 + 4
)

// Reader is the part of a transport the decoder needs.
type Reader interface {
	// ReadExactly returns exactly n bytes or an error.
	ReadExactly(ctx context.Context, n int) ([]byte, error)
}

// Writer is the part of a transport the encoder needs.
type Writer interface {
	Write(ctx context.Context, p []byte) error
}

// Frame is one protocol unit.
//
// Payload is owned by the frame until it is written or handed to a message
// assembler; the previous owner must not modify it afterwards.
type Frame struct {
	Fin        bool
	RSV1       bool
	RSV2       bool
	RSV3       bool
	Opcode     Opcode
	Masked     bool
	MaskingKey [4]byte
	Payload    []byte
}

// NewFrame creates a masked client frame with a fresh random masking key.
func NewFrame(opcode Opcode, payload []byte, fin bool) *Frame {
	f := &Frame{
		Fin:     fin,
		Opcode:  opcode,
		Masked:  true,
		Payload: payload,
	}
	_, _ = rand.Read(f.MaskingKey[:])
	return f
}

// IsControl reports whether f is a control frame.
func (f *Frame) IsControl() bool {
	return f.Opcode.IsControl()
}

// IsData reports whether f starts a data message.
func (f *Frame) IsData() bool {
	return f.Opcode.IsData()
}

// Validate checks the frame invariants enforced on both encode and decode.
func (f *Frame) Validate() error {
	if err := checkHeader(f.Opcode, f.Fin, f.RSV1); err != nil {
		return err
	}
	return checkLength(f.Opcode, uint64(len(f.Payload)), MaxPayloadLength)
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s fin=%t rsv=%t%t%t masked=%t len=%d",
		f.Opcode, f.Fin, f.RSV1, f.RSV2, f.RSV3, f.Masked, len(f.Payload))
}

func checkHeader(op Opcode, fin, rsv1 bool) error {
	if op.IsControl() && !fin {
		return kephasws.NewError(kephasws.KindFragmentedControlFrame, kephasws.ErrMsgFragmentedControlFrame)
	}
	if !op.IsData() && rsv1 {
		return kephasws.NewError(kephasws.KindCompressedNonDataFrame, kephasws.ErrMsgCompressedNonDataFrame)
	}
	return nil
}

func checkLength(op Opcode, length uint64, limit int64) error {
	if op.IsControl() && length > MaxControlPayload {
		return kephasws.NewError(kephasws.KindPayloadLengthControlFrame,
			fmt.Sprintf("%s (%d)", kephasws.ErrMsgPayloadLengthControlFrame, length))
	}
	if length > uint64(limit) {
		return kephasws.NewError(kephasws.KindMessageTooBig,
			fmt.Sprintf("%s: %d > %d", kephasws.ErrMsgMessageTooBig, length, limit))
	}
	return nil
}

// ReadFrom decodes the next frame from r.
func ReadFrom(ctx context.Context, r Reader) (*Frame, error) {
	return ReadFromLimit(ctx, r, MaxPayloadLength)
}

// ReadFromLimit decodes the next frame from r, failing with MessageTooBig
// when the declared payload length exceeds limit. A limit <= 0 or above
// MaxPayloadLength means MaxPayloadLength.
//
// Fields are consumed in wire order: base header, extended length, masking
// key, payload. A masked payload is unmasked in place.
func ReadFromLimit(ctx context.Context, r Reader, limit int64) (*Frame, error) {
	if limit <= 0 || limit > MaxPayloadLength {
		limit = MaxPayloadLength
	}

	header, err := r.ReadExactly(ctx, 2)
	if err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	f := &Frame{
		Fin:    header[0]&finBit != 0,
		RSV1:   header[0]&rsv1Bit != 0,
		RSV2:   header[0]&rsv2Bit != 0,
		RSV3:   header[0]&rsv3Bit != 0,
		Opcode: Opcode(header[0] & opcodeMask),
		Masked: header[1]&maskBit != 0,
	}
	if err := checkHeader(f.Opcode, f.Fin, f.RSV1); err != nil {
		return nil, err
	}

	length := uint64(header[1] & lengthMask)
	switch length {
	case length16:
		ext, err := r.ReadExactly(ctx, 2)
		if err != nil {
			return nil, fmt.Errorf("read extended length: %w", err)
		}
		length = uint64(binary.BigEndian.Uint16(ext))
	case length64:
		ext, err := r.ReadExactly(ctx, 8)
		if err != nil {
			return nil, fmt.Errorf("read extended length: %w", err)
		}
		length = binary.BigEndian.Uint64(ext)
	}
	if err := checkLength(f.Opcode, length, limit); err != nil {
		return nil, err
	}

	if f.Masked {
		key, err := r.ReadExactly(ctx, 4)
		if err != nil {
			return nil, fmt.Errorf("read masking key: %w", err)
		}
		copy(f.MaskingKey[:], key)
	}

	if length == 0 {
		f.Payload = []byte{}
		return f, nil
	}

	f.Payload, err = readPayload(ctx, r, int(length))
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if f.Masked {
		Mask(f.MaskingKey, 0, f.Payload)
	}
	return f, nil
}

func readPayload(ctx context.Context, r Reader, n int) ([]byte, error) {
	if n <= readChunk {
		return r.ReadExactly(ctx, n)
	}
	buf := make([]byte, 0, readChunk)
	for len(buf) < n {
		chunk, err := r.ReadExactly(ctx, min(readChunk, n-len(buf)))
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
	}
	return buf, nil
}

// WriteTo encodes f to w. The frame is validated first; an invalid frame
// writes nothing.
//
// The base header, extended length and masking key go out in a single write.
// A masked payload is streamed through a bounded scratch buffer so f.Payload
// is left untouched.
func (f *Frame) WriteTo(ctx context.Context, w Writer) error {
	if err := f.Validate(); err != nil {
		return err
	}

	n := len(f.Payload)
	b0 := byte(f.Opcode) & opcodeMask
	if f.Fin {
		b0 |= finBit
	}
	if f.RSV1 {
		b0 |= rsv1Bit
	}
	if f.RSV2 {
		b0 |= rsv2Bit
	}
	if f.RSV3 {
		b0 |= rsv3Bit
	}
	var b1 byte
	if f.Masked {
		b1 |= maskBit
	}

	header := make([]byte, 0, maxHeaderSize)
	switch {
	case n < length16:
		header = append(header, b0, b1|byte(n))
	case n < 65536:
		header = append(header, b0, b1|length16)
		header = binary.BigEndian.AppendUint16(header, uint16(n))
	default:
		header = append(header, b0, b1|length64)
		header = binary.BigEndian.AppendUint64(header, uint64(n))
	}
	if f.Masked {
		header = append(header, f.MaskingKey[:]...)
	}

	if err := w.Write(ctx, header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if n == 0 {
		return nil
	}

	if !f.Masked {
		if err := w.Write(ctx, f.Payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
		return nil
	}

	scratch := make([]byte, min(n, scratchSize))
	pos := 0
	for off := 0; off < n; {
		c := copy(scratch, f.Payload[off:])
		pos = Mask(f.MaskingKey, pos, scratch[:c])
		if err := w.Write(ctx, scratch[:c]); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
		off += c
	}
	return nil
}
