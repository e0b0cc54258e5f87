// Package circle implements a fixed-capacity ring of PCM blocks.
//
// The ring sits between frame-sized decode batches and caller-sized reads.
// Writes never overwrite unread data: a write that does not fit is
// rejected whole.
package circle

import "errors"

var (
	// ErrOverflow indicates a write larger than the free space.
	ErrOverflow = errors.New("circle: write exceeds free space")

	// ErrMisaligned indicates a write that is not a whole number of blocks.
	ErrMisaligned = errors.New("circle: write is not block aligned")
)

// Buffer is a ring of blocks of blockAlign bytes each.
//
// Invariant: 0 <= Len() <= Cap(), and Len() equals the number of blocks
// written minus the number of blocks read, discarded or removed.
type Buffer struct {
	data       []byte
	blockAlign int
	head       int // Read offset in bytes
	size       int // Unread bytes
}

// New allocates a Buffer holding up to blocks blocks.
func New(blocks, blockAlign int) *Buffer {
	return &Buffer{
		data:       make([]byte, blocks*blockAlign),
		blockAlign: blockAlign,
	}
}

// Cap returns the capacity in blocks.
func (b *Buffer) Cap() int { return len(b.data) / b.blockAlign }

// Len returns the number of unread blocks.
func (b *Buffer) Len() int { return b.size / b.blockAlign }

// Free returns the number of blocks that can be written.
func (b *Buffer) Free() int { return b.Cap() - b.Len() }

// BlockAlign returns the block size in bytes.
func (b *Buffer) BlockAlign() int { return b.blockAlign }

// Write appends p, which must be a whole number of blocks no larger than
// the free space.
func (b *Buffer) Write(p []byte) error {
	if len(p)%b.blockAlign != 0 {
		return ErrMisaligned
	}
	if len(p) > len(b.data)-b.size {
		return ErrOverflow
	}
	if len(p) == 0 {
		return nil
	}

	tail := (b.head + b.size) % len(b.data)
	n := copy(b.data[tail:], p)
	copy(b.data, p[n:])
	b.size += len(p)
	return nil
}

// Read copies up to maxBlocks blocks into p and consumes them. It returns
// the number of blocks copied, limited by the unread count and len(p).
func (b *Buffer) Read(p []byte, maxBlocks int) int {
	blocks := min(maxBlocks, b.Len(), len(p)/b.blockAlign)
	if blocks <= 0 {
		return 0
	}

	want := blocks * b.blockAlign
	n := copy(p[:want], b.data[b.head:min(b.head+want, len(b.data))])
	copy(p[n:want], b.data)
	b.advance(want)
	return blocks
}

// Discard drops up to n unread blocks from the front and returns how many
// were dropped.
func (b *Buffer) Discard(n int) int {
	n = max(0, min(n, b.Len()))
	b.advance(n * b.blockAlign)
	return n
}

// RemoveTail drops up to n of the most recently written blocks and returns
// how many were dropped.
func (b *Buffer) RemoveTail(n int) int {
	n = max(0, min(n, b.Len()))
	b.size -= n * b.blockAlign
	return n
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.head = 0
	b.size = 0
}

func (b *Buffer) advance(bytes int) {
	b.size -= bytes
	if b.size == 0 {
		b.head = 0
		return
	}
	b.head = (b.head + bytes) % len(b.data)
}
