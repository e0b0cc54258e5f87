// Package apetest builds compressed streams for tests.
//
// The builder runs the inverse of every decoder stage: mid/difference
// preparation, the predictor chain in compress mode and the adaptive Rice
// coder. It also offers hooks to produce damaged streams.
package apetest

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"math/rand"

	"github.com/llehouerou/go-ape/internal/bits"
	"github.com/llehouerou/go-ape/internal/format"
	"github.com/llehouerou/go-ape/internal/predictor"
	"github.com/llehouerou/go-ape/internal/prepare"
	"github.com/llehouerou/go-ape/internal/wavsrc"
)

// Frame special codes.
const (
	CodeSilenceLeft  = 1 // Also mono or multichannel silence
	CodeSilenceRight = 2
	CodePseudoStereo = 4

	// CodeSilenceStereo marks a stereo frame with both channels silent.
	CodeSilenceStereo = CodeSilenceLeft | CodeSilenceRight

	// specialCodesPresent is set in the stored CRC word when a special
	// codes word follows.
	specialCodesPresent = 1 << 31
)

// Options controls the generated stream.
type Options struct {
	// Version stored in the header. Zero means format.CurrentVersion.
	Version uint16
	// CompressionLevel; zero means predictor.LevelNormal.
	CompressionLevel int
	// BlocksPerFrame; zero means 4096.
	BlocksPerFrame int
	// ResyncInterval is the distance between frames at which predictors are
	// flushed. Zero flushes only at frame 0.
	ResyncInterval int

	// Header and Trailer are stored verbatim as the WAV blobs. A nil
	// Header sets format.FlagCreateWAVHeader.
	Header  []byte
	Trailer []byte

	// NoSpecialCodes disables silence and pseudo-stereo detection.
	NoSpecialCodes bool
	// ForceCodes sets special codes on given frames regardless of content.
	// A forced silence code drops the frame's content.
	ForceCodes map[int]uint32
	// CorruptCRC lists frames whose stored checksum is altered.
	CorruptCRC map[int]bool
	// Truncate lists frames whose payload is cut to the first n bytes.
	Truncate map[int]int
}

// Stream is an encoded stream and its layout.
type Stream struct {
	Data         []byte
	FrameOffsets []uint32
	TotalBlocks  int64
	// PayloadEnd is the offset of the first byte after the last frame.
	PayloadEnd int64
}

// Encode compresses interleaved little-endian PCM (8-bit unsigned,
// otherwise signed).
func Encode(pcm []byte, channels, bitsPerSample, sampleRate int, opt Options) (*Stream, error) {
	if channels <= 0 || !prepare.Valid(bitsPerSample) {
		return nil, fmt.Errorf("apetest: unsupported format %d channels %d bits", channels, bitsPerSample)
	}
	blockAlign := channels * bitsPerSample / 8
	if len(pcm)%blockAlign != 0 {
		return nil, errors.New("apetest: partial block")
	}

	if opt.Version == 0 {
		opt.Version = format.CurrentVersion
	}
	if opt.CompressionLevel == 0 {
		opt.CompressionLevel = predictor.LevelNormal
	}
	if opt.BlocksPerFrame == 0 {
		opt.BlocksPerFrame = 4096
	}
	legacy := opt.Version < format.LegacyBelow

	preds := make([]*predictor.Predictor, channels)
	for ch := range preds {
		p, err := predictor.New(opt.CompressionLevel, legacy)
		if err != nil {
			return nil, err
		}
		preds[ch] = p
	}

	totalBlocks := len(pcm) / blockAlign
	bpf := opt.BlocksPerFrame
	totalFrames := (totalBlocks + bpf - 1) / bpf

	var frames [][]byte
	for f := 0; f < totalFrames; f++ {
		start := f * bpf
		end := min(start+bpf, totalBlocks)
		resync := f == 0 || (opt.ResyncInterval > 0 && f%opt.ResyncInterval == 0)
		if resync {
			for _, p := range preds {
				p.Flush()
			}
		}

		frame := encodeFrame(pcm[start*blockAlign:end*blockAlign], channels, bitsPerSample, preds, f, &opt)
		frames = append(frames, frame)
	}

	h := &format.Header{
		Version:          opt.Version,
		CompressionLevel: uint16(opt.CompressionLevel),
		Channels:         uint16(channels),
		SampleRate:       uint32(sampleRate),
		BitsPerSample:    uint16(bitsPerSample),
		BlocksPerFrame:   uint32(bpf),
		TotalFrames:      uint32(totalFrames),
		ResyncInterval:   uint32(opt.ResyncInterval),
		HeaderLength:     int64(len(opt.Header)),
		TrailerLength:    int64(len(opt.Trailer)),
		SeekTable:        make([]uint32, totalFrames),
	}
	if totalFrames > 0 {
		h.FinalFrameBlocks = uint32(totalBlocks - (totalFrames-1)*bpf)
	}
	if opt.Header == nil {
		h.Flags |= format.FlagCreateWAVHeader
	}

	off := uint32(format.FixedSize + 4*totalFrames + len(opt.Header))
	for i, fr := range frames {
		h.SeekTable[i] = off
		off += uint32(len(fr))
	}

	data := format.AppendHeader(nil, h)
	data = append(data, opt.Header...)
	for _, fr := range frames {
		data = append(data, fr...)
	}
	payloadEnd := int64(len(data))
	data = append(data, opt.Trailer...)

	return &Stream{
		Data:         data,
		FrameOffsets: h.SeekTable,
		TotalBlocks:  int64(totalBlocks),
		PayloadEnd:   payloadEnd,
	}, nil
}

// EncodeWAV compresses a WAV file, storing its header and trailer.
func EncodeWAV(rs io.ReadSeeker, opt Options) (*Stream, error) {
	src, err := wavsrc.Analyze(rs)
	if err != nil {
		return nil, err
	}

	pcm := make([]byte, src.TotalBlocks()*int64(src.BlockAlign()))
	n, err := src.ReadBlocks(pcm)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	pcm = pcm[:n*src.BlockAlign()]

	trailer, err := src.TerminatingData()
	if err != nil {
		return nil, err
	}
	opt.Header = src.HeaderData()
	opt.Trailer = trailer

	return Encode(pcm, src.Channels(), src.BitsPerSample(), src.SampleRate(), opt)
}

func encodeFrame(pcm []byte, channels, bitsPerSample int, preds []*predictor.Predictor, index int, opt *Options) []byte {
	blockAlign := channels * bitsPerSample / 8
	blocks := len(pcm) / blockAlign

	values := make([][]int64, blocks)
	silent, pseudo := true, channels == 2
	for b := range values {
		values[b] = make([]int64, channels)
		prepare.Prepare(pcm[b*blockAlign:], bitsPerSample, values[b])
		for ch, v := range values[b] {
			if v != 0 {
				silent = false
				if ch == 1 {
					pseudo = false
				}
			}
		}
	}

	var codes uint32
	if !opt.NoSpecialCodes {
		switch {
		case silent && channels == 2:
			codes = CodeSilenceStereo
		case silent:
			codes = CodeSilenceLeft
		case pseudo:
			codes = CodePseudoStereo
		}
	}
	if c, ok := opt.ForceCodes[index]; ok {
		codes = c
	}

	checked := pcm
	if frameSilent(codes, channels) {
		checked = Silence(blocks, channels, bitsPerSample)
	}
	crc := crc32.ChecksumIEEE(checked) >> 1
	if opt.CorruptCRC[index] {
		crc ^= 0x5A5A5A5A >> 1
	}

	w := bits.NewWriter()
	if codes != 0 {
		w.PutBits(crc|specialCodesPresent, 32)
		w.PutBits(codes, 32)
	} else {
		w.PutBits(crc, 32)
	}

	if !frameSilent(codes, channels) {
		coded := channels
		if channels == 2 && codes&CodePseudoStereo != 0 {
			coded = 1
		}
		rice := make([]bits.RiceState, coded)
		for ch := range rice {
			rice[ch].Reset()
		}
		for b := range values {
			for ch := 0; ch < coded; ch++ {
				r := preds[ch].Compress(values[b][ch])
				bits.EncodeValue(w, &rice[ch], bits.Fold(r))
			}
		}
	}

	out := w.Bytes()
	if n, ok := opt.Truncate[index]; ok && n < len(out) {
		out = out[:n]
	}
	return out
}

func frameSilent(codes uint32, channels int) bool {
	if channels == 2 {
		return codes&CodeSilenceStereo == CodeSilenceStereo
	}
	return codes&CodeSilenceLeft != 0
}

// Signal returns deterministic interleaved PCM: a per-channel sine with
// noise at half scale. 8-bit output is unsigned.
func Signal(blocks, channels, bitsPerSample int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	size := bitsPerSample / 8
	out := make([]byte, blocks*channels*size)
	amplitude := math.Ldexp(1, bitsPerSample-2)

	values := make([]int64, channels)
	for b := 0; b < blocks; b++ {
		for ch := range values {
			period := 40 + 17*float64(ch)
			v := amplitude*math.Sin(2*math.Pi*float64(b)/period) +
				amplitude/16*rng.NormFloat64()
			values[ch] = int64(math.Max(-2*amplitude, math.Min(2*amplitude-1, v)))
		}
		putBlock(out[b*channels*size:], bitsPerSample, values)
	}
	return out
}

// putBlock packs raw sample values without any channel transform.
func putBlock(out []byte, bitsPerSample int, values []int64) {
	size := bitsPerSample / 8
	for ch, v := range values {
		o := out[ch*size:]
		if bitsPerSample == 8 {
			o[0] = byte(v + 128)
			continue
		}
		for i := 0; i < size; i++ {
			o[i] = byte(v >> (8 * i))
		}
	}
}

// Silence returns blocks of silent PCM.
func Silence(blocks, channels, bitsPerSample int) []byte {
	out := make([]byte, blocks*channels*bitsPerSample/8)
	if s := prepare.Silence(bitsPerSample); s != 0 {
		for i := range out {
			out[i] = s
		}
	}
	return out
}
