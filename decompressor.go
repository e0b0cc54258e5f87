package ape

import (
	"fmt"
	"io"

	"github.com/llehouerou/go-ape/internal/bits"
	"github.com/llehouerou/go-ape/internal/circle"
	"github.com/llehouerou/go-ape/internal/format"
	"github.com/llehouerou/go-ape/internal/predictor"
	"github.com/llehouerou/go-ape/internal/prepare"
)

// maxValueBytes bounds the coded size of one value: a 32-bit escape run,
// a 6-bit width and up to 63 raw bits.
const maxValueBytes = 13

// frameHeadBytes is the size of the checksum and special codes words.
const frameHeadBytes = 8

// Decompressor decodes a compressed stream into PCM blocks.
//
// A Decompressor is a single sequential decoding session. It is NOT safe
// for concurrent use; independent Decompressors over independent sources
// may run in parallel.
type Decompressor struct {
	src    io.ReadSeeker
	closer io.Closer // Set when the Decompressor opened the source itself

	desc   StreamDescriptor
	start  int64 // Range start, absolute block
	finish int64 // Range end (exclusive), absolute block
	legacy bool

	// Per-channel state
	preds []*predictor.Predictor
	rice  []bits.RiceState

	reader   bits.Reader
	ring     *circle.Buffer
	frameBuf []byte  // Compressed frame
	pcmBuf   []byte  // Decoded frame
	values   []int64 // One block of predictor outputs
	wavBuf   []byte  // PCMBuffer scratch

	// Decode cursor
	nextFrame    int64 // Next frame to decode
	currentBlock int64 // Absolute block of the next block handed out
	needResync   bool  // Predictor state unknown after an I/O failure

	// Error state
	hadErrors    bool
	errorFrames  int64
	lastFrameErr error
}

// NewDecompressor creates a Decompressor over src for the whole stream.
//
// src is borrowed: Close does not close it.
func NewDecompressor(src io.ReadSeeker, desc *StreamDescriptor) (*Decompressor, error) {
	return NewDecompressorWithConfig(src, desc, DefaultConfig())
}

// NewDecompressorWithConfig creates a Decompressor restricted to the block
// range of cfg. Block offsets seen through the returned Decompressor are
// relative to cfg.StartBlock.
//
// The descriptor is validated and the first frame of the range is decoded,
// so a stream whose first frame cannot be read fails here.
func NewDecompressorWithConfig(src io.ReadSeeker, desc *StreamDescriptor, cfg Config) (*Decompressor, error) {
	if src == nil || desc == nil {
		return nil, fmt.Errorf("%w: nil source or descriptor", ErrBadParameter)
	}
	if err := validateDescriptor(desc); err != nil {
		return nil, err
	}

	finish := cfg.FinishBlock
	if finish == -1 {
		finish = desc.TotalBlocks
	}
	if cfg.StartBlock < 0 || finish < cfg.StartBlock || finish > desc.TotalBlocks {
		return nil, fmt.Errorf("%w: range [%d, %d) outside stream of %d blocks",
			ErrBadParameter, cfg.StartBlock, cfg.FinishBlock, desc.TotalBlocks)
	}

	d := &Decompressor{
		src:    src,
		desc:   *desc,
		start:  cfg.StartBlock,
		finish: finish,
		legacy: desc.Legacy(),
	}
	d.desc.FrameOffsets = append([]int64(nil), desc.FrameOffsets...)

	channels := desc.Channels
	d.preds = make([]*predictor.Predictor, channels)
	for ch := range d.preds {
		p, err := predictor.New(int(desc.CompressionLevel), d.legacy)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidStream, err)
		}
		d.preds[ch] = p
	}
	d.rice = make([]bits.RiceState, channels)
	d.values = make([]int64, channels)
	d.ring = circle.New(desc.BlocksPerFrame, desc.BlockAlign)
	d.pcmBuf = make([]byte, desc.BlocksPerFrame*desc.BlockAlign)

	d.currentBlock = d.start
	if d.start < d.finish {
		if err := d.seekAbsolute(d.start); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func validateDescriptor(desc *StreamDescriptor) error {
	invalid := func(msg string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidStream, fmt.Sprintf(msg, args...))
	}

	switch {
	case desc.Version < MinVersion || desc.Version > CurrentVersion:
		return invalid("unsupported version %d", desc.Version)
	case desc.Channels < 1 || desc.Channels > MaxChannels:
		return invalid("unsupported channel count %d", desc.Channels)
	case !prepare.Valid(desc.BitsPerSample):
		return invalid("unsupported bits per sample %d", desc.BitsPerSample)
	case desc.BlockAlign != desc.Channels*desc.BitsPerSample/8:
		return invalid("block align %d for %d channels of %d bits",
			desc.BlockAlign, desc.Channels, desc.BitsPerSample)
	case desc.SampleRate <= 0:
		return invalid("sample rate %d", desc.SampleRate)
	case desc.BlocksPerFrame <= 0 || desc.BlocksPerFrame > MaxBlocksPerFrame:
		return invalid("blocks per frame %d", desc.BlocksPerFrame)
	case desc.TotalBlocks < 0:
		return invalid("total blocks %d", desc.TotalBlocks)
	case desc.ResyncInterval < 0:
		return invalid("resync interval %d", desc.ResyncInterval)
	case !predictor.Valid(int(desc.CompressionLevel), desc.Legacy()):
		return invalid("compression level %d not supported by version %d",
			desc.CompressionLevel, desc.Version)
	}

	frames := desc.TotalFrames()
	if int64(len(desc.FrameOffsets)) != frames {
		return invalid("%d frame offsets for %d frames", len(desc.FrameOffsets), frames)
	}

	end := desc.PayloadOffset + desc.PayloadLength
	maxFrame := int64(frameHeadBytes + desc.BlocksPerFrame*desc.Channels*maxValueBytes)
	prev := desc.PayloadOffset
	for i, off := range desc.FrameOffsets {
		if off < prev || (i > 0 && off == prev) || off >= end {
			return invalid("frame %d offset %d out of order or outside payload", i, off)
		}
		if i > 0 && off-prev > maxFrame {
			return invalid("frame %d is %d bytes", i-1, off-prev)
		}
		prev = off
	}
	if frames > 0 && end-prev > maxFrame {
		return invalid("frame %d is %d bytes", frames-1, end-prev)
	}
	return nil
}

// GetData decodes up to blocks blocks into buf, which must hold
// blocks*BlockAlign() bytes, and returns the number of blocks written.
//
// Fewer blocks than requested are returned only at the end of the range,
// together with io.EOF. Frames that fail their checksum or cannot be
// decoded come out as silence and are reported through HadErrors rather
// than as an error. An I/O failure returns the blocks decoded so far and an
// error wrapping ErrIO; the next call re-synchronizes at the current
// position.
func (d *Decompressor) GetData(buf []byte, blocks int) (int, error) {
	if d == nil || d.ring == nil {
		return 0, ErrUninitialized
	}
	if blocks < 0 || blocks > len(buf)/d.desc.BlockAlign {
		return 0, fmt.Errorf("%w: buffer of %d bytes for %d blocks", ErrBadParameter, len(buf), blocks)
	}

	if d.needResync && d.currentBlock < d.finish {
		if err := d.seekAbsolute(d.currentBlock); err != nil {
			return 0, err
		}
	}

	align := d.desc.BlockAlign
	retrieved := 0
	for retrieved < blocks {
		if d.ring.Len() == 0 {
			if d.currentBlock >= d.finish {
				break
			}
			if err := d.fillFrameBuffer(); err != nil {
				return retrieved, err
			}
		}
		n := d.ring.Read(buf[retrieved*align:], blocks-retrieved)
		if n == 0 {
			break
		}
		retrieved += n
		d.currentBlock += int64(n)
	}

	if retrieved < blocks {
		return retrieved, io.EOF
	}
	return retrieved, nil
}

// Seek positions the Decompressor at blockOffset, relative to the start of
// the range.
//
// Predictor state can only be rebuilt by decoding forward from a
// resynchronization point, so a seek outside the buffered frame decodes and
// discards every frame between the nearest preceding resynchronization point
// (or the current position, when that is closer) and the target. Its cost
// is O(distance from that point), up to O(blockOffset) for streams that
// resynchronize only at the first frame.
func (d *Decompressor) Seek(blockOffset int64) error {
	if d == nil || d.ring == nil {
		return ErrUninitialized
	}
	if blockOffset < 0 || blockOffset >= d.finish-d.start {
		return fmt.Errorf("%w: seek to block %d outside range of %d blocks",
			ErrBadParameter, blockOffset, d.finish-d.start)
	}
	return d.seekAbsolute(d.start + blockOffset)
}

// GetInfo returns the value of field. param1 is the frame index for
// FieldFrameBlocks and is ignored otherwise; param2 is reserved.
// GetInfo never changes the decoding position.
func (d *Decompressor) GetInfo(field Field, param1, param2 int64) (int64, error) {
	if d == nil || d.ring == nil {
		return 0, ErrUninitialized
	}
	desc := &d.desc
	switch field {
	case FieldChannels:
		return int64(desc.Channels), nil
	case FieldSampleRate:
		return int64(desc.SampleRate), nil
	case FieldBitsPerSample:
		return int64(desc.BitsPerSample), nil
	case FieldBlockAlign:
		return int64(desc.BlockAlign), nil
	case FieldTotalBlocks:
		return d.finish - d.start, nil
	case FieldCurrentBlock:
		return d.currentBlock - d.start, nil
	case FieldCompressionLevel:
		return int64(desc.CompressionLevel), nil
	case FieldHadErrors:
		return boolInfo(d.hadErrors), nil
	case FieldVersion:
		return int64(desc.Version), nil
	case FieldLegacyMode:
		return boolInfo(d.legacy), nil
	case FieldBlocksPerFrame:
		return int64(desc.BlocksPerFrame), nil
	case FieldTotalFrames:
		return desc.TotalFrames(), nil
	case FieldFrameBlocks:
		if param1 < 0 || param1 >= desc.TotalFrames() {
			return 0, fmt.Errorf("%w: frame %d outside stream", ErrBadParameter, param1)
		}
		return int64(desc.FrameBlocks(param1)), nil
	case FieldStartBlock:
		return d.start, nil
	case FieldFinishBlock:
		return d.finish, nil
	case FieldLengthMS:
		return (d.finish - d.start) * 1000 / int64(desc.SampleRate), nil
	case FieldAverageBitrate:
		ms := desc.TotalBlocks * 1000 / int64(desc.SampleRate)
		if ms == 0 {
			return 0, nil
		}
		return desc.PayloadLength * 8 / ms, nil
	case FieldDecompressedBitrate:
		return int64(desc.BitsPerSample) * int64(desc.Channels) * int64(desc.SampleRate) / 1000, nil
	case FieldWAVHeaderBytes:
		return desc.HeaderLength, nil
	case FieldWAVTerminatingBytes:
		return desc.TrailerLength, nil
	case FieldErrorFrames:
		return d.errorFrames, nil
	}
	return 0, fmt.Errorf("%w: unknown field %d", ErrBadParameter, field)
}

func boolInfo(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Channels returns the channel count. The accessors below return zero
// values on a nil Decompressor.
func (d *Decompressor) Channels() int {
	if d == nil {
		return 0
	}
	return d.desc.Channels
}

// SampleRate returns the sample rate in Hz.
func (d *Decompressor) SampleRate() int {
	if d == nil {
		return 0
	}
	return d.desc.SampleRate
}

// BitsPerSample returns the sample size in bits.
func (d *Decompressor) BitsPerSample() int {
	if d == nil {
		return 0
	}
	return d.desc.BitsPerSample
}

// BlockAlign returns the size in bytes of one decoded block.
func (d *Decompressor) BlockAlign() int {
	if d == nil {
		return 0
	}
	return d.desc.BlockAlign
}

// TotalBlocks returns the number of blocks in the decoded range.
func (d *Decompressor) TotalBlocks() int64 {
	if d == nil {
		return 0
	}
	return d.finish - d.start
}

// CurrentBlock returns the position relative to the start of the range.
func (d *Decompressor) CurrentBlock() int64 {
	if d == nil {
		return 0
	}
	return d.currentBlock - d.start
}

// CompressionLevel returns the level the stream was compressed with.
func (d *Decompressor) CompressionLevel() CompressionLevel {
	if d == nil {
		return 0
	}
	return d.desc.CompressionLevel
}

// Version returns the stream version.
func (d *Decompressor) Version() int {
	if d == nil {
		return 0
	}
	return d.desc.Version
}

// Legacy reports whether the stream is decoded in legacy mode.
func (d *Decompressor) Legacy() bool {
	if d == nil {
		return false
	}
	return d.legacy
}

// HadErrors reports whether any frame decoded so far was replaced by
// silence.
func (d *Decompressor) HadErrors() bool {
	if d == nil {
		return false
	}
	return d.hadErrors
}

// ErrorFrames returns the number of frames replaced by silence.
func (d *Decompressor) ErrorFrames() int64 {
	if d == nil {
		return 0
	}
	return d.errorFrames
}

// LastFrameError returns the cause of the most recent frame replaced by
// silence, wrapping ErrChecksumMismatch or ErrInvalidStream, or nil.
func (d *Decompressor) LastFrameError() error {
	if d == nil {
		return nil
	}
	return d.lastFrameErr
}

// Descriptor returns a copy of the stream descriptor.
func (d *Decompressor) Descriptor() StreamDescriptor {
	if d == nil {
		return StreamDescriptor{}
	}
	desc := d.desc
	desc.FrameOffsets = append([]int64(nil), d.desc.FrameOffsets...)
	return desc
}

// Close releases the Decompressor. The source is closed only if the
// Decompressor opened it (OpenFile). Methods called after Close return
// ErrUninitialized.
func (d *Decompressor) Close() error {
	if d == nil {
		return nil
	}

	var err error
	if d.closer != nil {
		err = d.closer.Close()
		d.closer = nil
	}
	d.src = nil
	d.ring = nil
	d.preds = nil
	d.frameBuf = nil
	d.pcmBuf = nil
	d.wavBuf = nil
	return err
}

// HeaderData returns the stored WAV header blob, or nil if the stream
// stores none.
func (d *Decompressor) HeaderData() ([]byte, error) {
	if d == nil || d.ring == nil {
		return nil, ErrUninitialized
	}
	return d.readBlob(d.desc.HeaderOffset, d.desc.HeaderLength)
}

// TerminatingData returns the stored WAV terminating blob, or nil if the
// stream stores none.
func (d *Decompressor) TerminatingData() ([]byte, error) {
	if d == nil || d.ring == nil {
		return nil, ErrUninitialized
	}
	return d.readBlob(d.desc.TrailerOffset, d.desc.TrailerLength)
}

// readBlob reads n bytes at off, restoring the source position.
func (d *Decompressor) readBlob(off, n int64) (data []byte, err error) {
	if n == 0 {
		return nil, nil
	}

	pos, err := d.src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() {
		if _, serr := d.src.Seek(pos, io.SeekStart); serr != nil && err == nil {
			data, err = nil, fmt.Errorf("%w: %w", ErrIO, serr)
		}
	}()

	if _, err := d.src.Seek(off, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	data = make([]byte, n)
	if _, err := io.ReadFull(d.src, data); err != nil {
		return nil, fmt.Errorf("%w: reading %d bytes at %d: %w", ErrIO, n, off, err)
	}
	return data, nil
}

// descriptorFromHeader converts a parsed container header.
func descriptorFromHeader(h *format.Header) *StreamDescriptor {
	desc := &StreamDescriptor{
		Version:          int(h.Version),
		CompressionLevel: CompressionLevel(h.CompressionLevel),
		Channels:         int(h.Channels),
		SampleRate:       int(h.SampleRate),
		BitsPerSample:    int(h.BitsPerSample),
		BlockAlign:       int(h.Channels) * int(h.BitsPerSample) / 8,
		TotalBlocks:      h.TotalBlocks(),
		BlocksPerFrame:   int(h.BlocksPerFrame),
		ResyncInterval:   int(h.ResyncInterval),
		FrameOffsets:     make([]int64, len(h.SeekTable)),
		PayloadOffset:    h.PayloadOffset,
		PayloadLength:    h.PayloadLength,
		HeaderOffset:     h.HeaderOffset,
		HeaderLength:     h.HeaderLength,
		TrailerOffset:    h.TrailerOffset,
		TrailerLength:    h.TrailerLength,
	}
	for i, off := range h.SeekTable {
		desc.FrameOffsets[i] = int64(off)
	}
	return desc
}
