package bits

import "encoding/binary"

// Writer is the inverse of Reader: it packs bits most-significant first
// into 32-bit little-endian words.
//
// It exists for building frame payloads in tests and tooling; the
// decoder itself never writes bits.
type Writer struct {
	out   []byte
	acc   uint32 // Partially filled word
	nbits uint   // Bits used in acc (0-31)
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// PutBits appends the low n bits of v. n must be 0-32.
func (w *Writer) PutBits(v uint32, n uint) {
	if n == 0 {
		return
	}
	if n < 32 {
		v &= (1 << n) - 1
	}

	free := 32 - w.nbits
	if n < free {
		w.acc |= v << (free - n)
		w.nbits += n
		return
	}

	// Fill the current word, then start the next one with the remainder
	rest := n - free
	w.acc |= v >> rest
	w.flushWord()
	if rest > 0 {
		w.acc = v << (32 - rest)
		w.nbits = rest
	}
}

// PutZeros appends n zero bits.
func (w *Writer) PutZeros(n uint) {
	for n > 32 {
		w.PutBits(0, 32)
		n -= 32
	}
	w.PutBits(0, n)
}

func (w *Writer) flushWord() {
	w.out = binary.LittleEndian.AppendUint32(w.out, w.acc)
	w.acc = 0
	w.nbits = 0
}

// BitsWritten returns the number of bits appended so far.
func (w *Writer) BitsWritten() int {
	return len(w.out)*8 + int(w.nbits)
}

// Bytes pads the stream to a word boundary and returns the packed bytes.
// The Writer must not be used afterwards.
func (w *Writer) Bytes() []byte {
	if w.nbits > 0 {
		w.flushWord()
	}
	return w.out
}
