package ape

import (
	"github.com/llehouerou/go-ape/internal/format"
	"github.com/llehouerou/go-ape/internal/predictor"
)

// CompressionLevel selects the predictor configuration a stream was
// written with.
type CompressionLevel int

// Compression levels.
const (
	CompressionFast      CompressionLevel = predictor.LevelFast
	CompressionNormal    CompressionLevel = predictor.LevelNormal
	CompressionHigh      CompressionLevel = predictor.LevelHigh
	CompressionExtraHigh CompressionLevel = predictor.LevelExtraHigh
	CompressionInsane    CompressionLevel = predictor.LevelInsane
)

// String returns the level name.
func (l CompressionLevel) String() string {
	switch l {
	case CompressionFast:
		return "fast"
	case CompressionNormal:
		return "normal"
	case CompressionHigh:
		return "high"
	case CompressionExtraHigh:
		return "extra high"
	case CompressionInsane:
		return "insane"
	}
	return "unknown"
}

// Stream versions.
const (
	// MinVersion is the oldest supported stream version.
	MinVersion = format.MinVersion
	// LegacyVersion is the first version decoded with the current
	// predictor; older streams use legacy mode.
	LegacyVersion = format.LegacyBelow
	// CurrentVersion is the newest supported stream version.
	CurrentVersion = format.CurrentVersion
)

// Limits.
const (
	// MaxChannels is the largest supported channel count.
	MaxChannels = 32
	// MaxBlocksPerFrame is the largest supported frame size.
	MaxBlocksPerFrame = 1 << 20
)

// StreamDescriptor describes a compressed stream. It is produced by the
// container parser (see Open) or supplied directly to NewDecompressor.
type StreamDescriptor struct {
	Version          int
	CompressionLevel CompressionLevel

	Channels      int
	SampleRate    int
	BitsPerSample int
	// BlockAlign is the size in bytes of one block: one sample of every
	// channel.
	BlockAlign int

	TotalBlocks    int64
	BlocksPerFrame int
	// ResyncInterval is the distance in frames between points where the
	// predictors are flushed. Zero means only the first frame.
	ResyncInterval int

	// FrameOffsets holds the absolute byte offset of every frame.
	FrameOffsets []int64

	// Compressed payload. The last frame ends at PayloadOffset+PayloadLength.
	PayloadOffset int64
	PayloadLength int64

	// Stored WAV header and terminating blobs, reproduced verbatim when
	// re-muxing. A zero HeaderLength means the header must be synthesized.
	HeaderOffset  int64
	HeaderLength  int64
	TrailerOffset int64
	TrailerLength int64
}

// TotalFrames returns the number of frames in the stream.
func (s *StreamDescriptor) TotalFrames() int64 {
	if s.BlocksPerFrame <= 0 {
		return 0
	}
	bpf := int64(s.BlocksPerFrame)
	return (s.TotalBlocks + bpf - 1) / bpf
}

// FrameBlocks returns the number of blocks in frame; only the last frame
// may be shorter than BlocksPerFrame. It returns 0 for frames outside the
// stream.
func (s *StreamDescriptor) FrameBlocks(frame int64) int {
	total := s.TotalFrames()
	switch {
	case frame < 0 || frame >= total:
		return 0
	case frame == total-1:
		return int(s.TotalBlocks - frame*int64(s.BlocksPerFrame))
	}
	return s.BlocksPerFrame
}

// Legacy reports whether the stream decodes in legacy mode.
func (s *StreamDescriptor) Legacy() bool {
	return s.Version < LegacyVersion
}

// Config holds decompressor session settings.
type Config struct {
	// StartBlock is the first block of the decoded range.
	StartBlock int64
	// FinishBlock is the block after the last one of the decoded range;
	// -1 means the end of the stream.
	FinishBlock int64
}

// DefaultConfig returns a Config covering the whole stream.
func DefaultConfig() Config {
	return Config{
		StartBlock:  0,
		FinishBlock: -1,
	}
}

// Field selects a value returned by Decompressor.GetInfo.
type Field int

// GetInfo fields.
const (
	FieldChannels Field = iota
	FieldSampleRate
	FieldBitsPerSample
	FieldBlockAlign
	// FieldTotalBlocks is the number of blocks in the decoded range.
	FieldTotalBlocks
	// FieldCurrentBlock is the position relative to the range start.
	FieldCurrentBlock
	FieldCompressionLevel
	// FieldHadErrors is 1 once any frame failed its checksum or could not
	// be entropy decoded, 0 otherwise.
	FieldHadErrors
	FieldVersion
	// FieldLegacyMode is 1 for streams decoded in legacy mode.
	FieldLegacyMode
	FieldBlocksPerFrame
	FieldTotalFrames
	// FieldFrameBlocks is the number of blocks in frame param1.
	FieldFrameBlocks
	FieldStartBlock
	FieldFinishBlock
	// FieldLengthMS is the duration of the decoded range in milliseconds.
	FieldLengthMS
	// FieldAverageBitrate is the compressed bitrate of the stream in kbps.
	FieldAverageBitrate
	// FieldDecompressedBitrate is the PCM bitrate in kbps.
	FieldDecompressedBitrate
	FieldWAVHeaderBytes
	FieldWAVTerminatingBytes
	// FieldErrorFrames is the number of frames replaced by silence.
	FieldErrorFrames
)
