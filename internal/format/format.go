// Package format reads and writes the container header that precedes the
// compressed frames: fixed descriptor fields, the frame seek table, and the
// location of the stored WAV header and trailer.
//
// Layout (all integers little-endian):
//
//	magic "MAC " | descriptor (44 bytes) | seek table (u32 per frame)
//	| WAV header blob | frames ... | WAV terminating blob
package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic identifies a stream.
var Magic = [4]byte{'M', 'A', 'C', ' '}

// FixedSize is the size of the fixed part of the header in bytes.
const FixedSize = 48

// Format versions.
const (
	// MinVersion is the oldest version the decoder understands.
	MinVersion = 3930
	// LegacyBelow is the first version using the current predictor.
	// Streams with a lower version decode in legacy mode.
	LegacyBelow = 3950
	// CurrentVersion is the newest version and the one writers emit.
	CurrentVersion = 3990
)

// FlagCreateWAVHeader means no WAV header blob is stored; a canonical
// header must be synthesized when re-muxing.
const FlagCreateWAVHeader = 0x20

// maxSeekEntries bounds the seek table allocation before the file size
// has been checked.
const maxSeekEntries = 1 << 24

var (
	// ErrBadMagic indicates the stream does not start with the magic.
	ErrBadMagic = errors.New("format: bad magic")

	// ErrTruncated indicates the stream ends inside the header.
	ErrTruncated = errors.New("format: truncated header")

	// ErrInvalidHeader indicates header fields that contradict each other
	// or the stream size.
	ErrInvalidHeader = errors.New("format: invalid header")
)

// descriptor is the on-disk fixed header after the magic.
type descriptor struct {
	Version             uint16
	CompressionLevel    uint16
	Flags               uint16
	Channels            uint16
	SampleRate          uint32
	BitsPerSample       uint16
	Reserved            uint16
	BlocksPerFrame      uint32
	FinalFrameBlocks    uint32
	TotalFrames         uint32
	ResyncInterval      uint32
	WAVHeaderBytes      uint32
	WAVTerminatingBytes uint32
	SeekTableEntries    uint32
}

// Header is a parsed container header.
type Header struct {
	Version          uint16
	CompressionLevel uint16
	Flags            uint16
	Channels         uint16
	SampleRate       uint32
	BitsPerSample    uint16
	BlocksPerFrame   uint32
	FinalFrameBlocks uint32
	TotalFrames      uint32
	ResyncInterval   uint32

	// SeekTable holds the absolute byte offset of every frame.
	SeekTable []uint32

	// WAV header blob, reproduced verbatim when re-muxing.
	HeaderOffset int64
	HeaderLength int64

	// Compressed frames.
	PayloadOffset int64
	PayloadLength int64

	// WAV terminating blob.
	TrailerOffset int64
	TrailerLength int64
}

// TotalBlocks returns the number of blocks in the stream.
func (h *Header) TotalBlocks() int64 {
	if h.TotalFrames == 0 {
		return 0
	}
	return int64(h.TotalFrames-1)*int64(h.BlocksPerFrame) + int64(h.FinalFrameBlocks)
}

// HasWAVHeader reports whether a WAV header blob is stored.
func (h *Header) HasWAVHeader() bool {
	return h.Flags&FlagCreateWAVHeader == 0
}

// Parse reads the header from the start of rs and locates the stored blobs
// and payload using the size of rs. On return rs is positioned at the
// first frame.
func Parse(rs io.ReadSeeker) (*Header, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var fixed [FixedSize]byte
	if _, err := io.ReadFull(rs, fixed[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	if !bytes.Equal(fixed[:4], Magic[:]) {
		return nil, ErrBadMagic
	}

	var d descriptor
	// Cannot fail: the struct is fixed size and the buffer is long enough.
	_ = binary.Read(bytes.NewReader(fixed[4:]), binary.LittleEndian, &d)

	if d.SeekTableEntries != d.TotalFrames {
		return nil, fmt.Errorf("%w: %d seek table entries for %d frames",
			ErrInvalidHeader, d.SeekTableEntries, d.TotalFrames)
	}
	if d.SeekTableEntries > maxSeekEntries || int64(d.SeekTableEntries)*4 > size-FixedSize {
		return nil, ErrTruncated
	}
	if d.TotalFrames > 0 && (d.FinalFrameBlocks == 0 || d.FinalFrameBlocks > d.BlocksPerFrame) {
		return nil, fmt.Errorf("%w: final frame holds %d of %d blocks",
			ErrInvalidHeader, d.FinalFrameBlocks, d.BlocksPerFrame)
	}

	h := &Header{
		Version:          d.Version,
		CompressionLevel: d.CompressionLevel,
		Flags:            d.Flags,
		Channels:         d.Channels,
		SampleRate:       d.SampleRate,
		BitsPerSample:    d.BitsPerSample,
		BlocksPerFrame:   d.BlocksPerFrame,
		FinalFrameBlocks: d.FinalFrameBlocks,
		TotalFrames:      d.TotalFrames,
		ResyncInterval:   d.ResyncInterval,
		SeekTable:        make([]uint32, d.SeekTableEntries),
	}
	if err := binary.Read(rs, binary.LittleEndian, h.SeekTable); err != nil {
		return nil, ErrTruncated
	}

	h.HeaderOffset = FixedSize + 4*int64(d.SeekTableEntries)
	if h.HasWAVHeader() {
		h.HeaderLength = int64(d.WAVHeaderBytes)
	} else if d.WAVHeaderBytes != 0 {
		return nil, fmt.Errorf("%w: WAV header bytes stored with create-header flag", ErrInvalidHeader)
	}

	h.PayloadOffset = h.HeaderOffset + h.HeaderLength
	if len(h.SeekTable) > 0 && int64(h.SeekTable[0]) != h.PayloadOffset {
		return nil, fmt.Errorf("%w: first frame at %d, payload starts at %d",
			ErrInvalidHeader, h.SeekTable[0], h.PayloadOffset)
	}

	h.TrailerLength = int64(d.WAVTerminatingBytes)
	h.TrailerOffset = size - h.TrailerLength
	h.PayloadLength = h.TrailerOffset - h.PayloadOffset
	if h.PayloadLength < 0 {
		return nil, ErrTruncated
	}

	if _, err := rs.Seek(h.PayloadOffset, io.SeekStart); err != nil {
		return nil, err
	}
	return h, nil
}

// AppendHeader appends the fixed header and seek table of h to dst.
// The blob and payload locations of h are ignored except for the lengths
// of the WAV header and trailer.
func AppendHeader(dst []byte, h *Header) []byte {
	d := descriptor{
		Version:             h.Version,
		CompressionLevel:    h.CompressionLevel,
		Flags:               h.Flags,
		Channels:            h.Channels,
		SampleRate:          h.SampleRate,
		BitsPerSample:       h.BitsPerSample,
		BlocksPerFrame:      h.BlocksPerFrame,
		FinalFrameBlocks:    h.FinalFrameBlocks,
		TotalFrames:         h.TotalFrames,
		ResyncInterval:      h.ResyncInterval,
		WAVHeaderBytes:      uint32(h.HeaderLength),
		WAVTerminatingBytes: uint32(h.TrailerLength),
		SeekTableEntries:    uint32(len(h.SeekTable)),
	}

	var buf bytes.Buffer
	buf.Write(Magic[:])
	_ = binary.Write(&buf, binary.LittleEndian, &d)
	_ = binary.Write(&buf, binary.LittleEndian, h.SeekTable)
	return append(dst, buf.Bytes()...)
}
