package frame

// scratchSize bounds the buffer used to mask outgoing payloads.
const scratchSize = 4096

// Mask XORs b in place with key, starting at key index pos, and returns the
// key index following the last byte. Masking and unmasking are the same
// operation.
func Mask(key [4]byte, pos int, b []byte) int {
	for i := range b {
		b[i] ^= key[pos&3]
		pos++
	}
	return pos & 3
}
