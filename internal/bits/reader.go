// Package bits implements the bit-level reading and writing used by the
// frame payload: a two-word look-ahead reader, a mirror writer, and the
// adaptive Rice coder layered on top of them.
package bits

// Reader reads bits from a frame buffer.
//
// The buffer is a sequence of 32-bit little-endian words whose bits are
// consumed most-significant first. Two words are kept loaded:
//   - bufa holds the current 32 bits being read from
//   - bufb pre-loads the next 32 bits for look-ahead
//
// Reading past the end of the buffer does not panic; it yields zero bits
// and sets the error flag, which callers check once per frame.
type Reader struct {
	buffer     []byte // Original buffer
	bufa       uint32 // Current 32-bit word
	bufb       uint32 // Next 32-bit word (look-ahead)
	bitsLeft   uint32 // Bits remaining in bufa (0-32)
	pos        int    // Byte position of the next word to load
	bufferSize int    // Total buffer size in bytes
	err        bool   // Error flag (buffer overrun)
}

// NewReader creates a Reader from a byte slice.
//
// The reader pre-loads the first 64 bits (or as many as available).
// Empty or nil buffers set the error flag.
func NewReader(data []byte) *Reader {
	r := &Reader{}
	r.Reset(data)
	return r
}

// Reset rewinds the reader onto a new buffer, clearing the error flag.
// Frames reuse one Reader to avoid an allocation per frame.
func (r *Reader) Reset(data []byte) {
	r.buffer = data
	r.bufferSize = len(data)
	r.err = len(data) == 0
	r.bufa = r.loadWord(0)
	r.bufb = r.loadWord(4)
	r.pos = 8
	r.bitsLeft = 32
}

// loadWord loads up to 4 bytes from buffer position as a little-endian
// uint32. A partial word at the end of the buffer is padded with zeros
// in its high-order bytes.
func (r *Reader) loadWord(offset int) uint32 {
	if offset >= len(r.buffer) {
		return 0
	}

	remaining := len(r.buffer) - offset
	if remaining >= 4 {
		return uint32(r.buffer[offset]) |
			uint32(r.buffer[offset+1])<<8 |
			uint32(r.buffer[offset+2])<<16 |
			uint32(r.buffer[offset+3])<<24
	}

	var result uint32
	for i := remaining - 1; i >= 0; i-- {
		result = result<<8 | uint32(r.buffer[offset+i])
	}
	return result
}

// Error returns true if a buffer overrun occurred, that is, if more bits
// were consumed than the buffer holds.
func (r *Reader) Error() bool {
	return r.err || r.GetProcessedBits() > r.bufferSize*8
}

// BitsLeft returns the number of unread bits in the current word.
func (r *Reader) BitsLeft() uint32 {
	return r.bitsLeft
}

// ShowBits returns the next n bits without consuming them.
// n must be 0-32.
func (r *Reader) ShowBits(n uint) uint32 {
	if n == 0 {
		return 0
	}

	if n <= uint(r.bitsLeft) {
		return (r.bufa << (32 - r.bitsLeft)) >> (32 - n)
	}

	// Need bits from both bufa and bufb
	bitsFromBufb := n - uint(r.bitsLeft)
	var hi uint32
	if r.bitsLeft > 0 {
		hi = (r.bufa & ((1 << r.bitsLeft) - 1)) << bitsFromBufb
	}
	return hi | (r.bufb >> (32 - bitsFromBufb))
}

// FlushBits discards n bits from the stream. n must be 0-32.
func (r *Reader) FlushBits(n uint) {
	if r.err {
		return
	}

	if n < uint(r.bitsLeft) {
		r.bitsLeft -= uint32(n)
		return
	}

	r.flushBitsEx(n)
}

// flushBitsEx handles flushing across a word boundary.
func (r *Reader) flushBitsEx(n uint) {
	r.bufa = r.bufb
	r.bufb = r.loadWord(r.pos)
	r.pos += 4

	r.bitsLeft += 32 - uint32(n)

	if r.pos > r.bufferSize+8 {
		r.err = true
	}
}

// GetBits reads and returns n bits from the stream.
// n must be 0-32.
func (r *Reader) GetBits(n uint) uint32 {
	if n == 0 {
		return 0
	}

	ret := r.ShowBits(n)
	r.FlushBits(n)
	return ret
}

// Get1Bit reads and returns a single bit from the stream.
func (r *Reader) Get1Bit() uint8 {
	if r.bitsLeft > 1 {
		r.bitsLeft--
		return uint8((r.bufa >> r.bitsLeft) & 1)
	}

	return uint8(r.GetBits(1))
}

// GetProcessedBits returns the number of bits consumed since the last Reset.
func (r *Reader) GetProcessedBits() int {
	return (r.pos-8)*8 + 32 - int(r.bitsLeft)
}

// AlignWord skips to the start of the next 32-bit word unless the reader
// is already word aligned.
func (r *Reader) AlignWord() {
	if r.bitsLeft < 32 {
		r.FlushBits(uint(r.bitsLeft))
	}
}
