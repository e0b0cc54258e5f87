// Package wavsrc analyzes a WAV file as the input of a stream writer: it
// locates the PCM payload and keeps the bytes before and after it so they
// can be stored and reproduced verbatim.
package wavsrc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/riff"
)

// Accepted fmt chunk format tags.
const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

// chunkHeaderSize is the size of a RIFF chunk id plus its length field.
const chunkHeaderSize = 8

var (
	// ErrNotWAV indicates the input is not a RIFF/WAVE file.
	ErrNotWAV = errors.New("wavsrc: not a RIFF WAVE file")

	// ErrUnsupportedFormat indicates a fmt chunk this package cannot read,
	// or a data chunk before any fmt chunk.
	ErrUnsupportedFormat = errors.New("wavsrc: unsupported format")

	// ErrNoData indicates the file has no data chunk.
	ErrNoData = errors.New("wavsrc: no data chunk")

	// ErrPartialBlock indicates a data chunk that is not a whole number of
	// blocks.
	ErrPartialBlock = errors.New("wavsrc: data is not a whole number of blocks")
)

// Source is an analyzed WAV input positioned on its PCM data.
type Source struct {
	rs io.ReadSeeker

	channels      int
	sampleRate    int
	bitsPerSample int
	blockAlign    int

	header           []byte
	dataBytes        int64
	terminatingBytes int64

	readBytes int64 // PCM bytes consumed by ReadBlocks
}

// Analyze walks the RIFF chunks of rs up to the start of the data chunk.
// On success rs is positioned on the first PCM byte.
func Analyze(rs io.ReadSeeker) (*Source, error) {
	fileBytes, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var header bytes.Buffer
	p := riff.New(io.TeeReader(rs, &header))
	if err := p.ParseHeaders(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotWAV, err)
	}
	if p.Format != riff.WavFormatID {
		return nil, ErrNotWAV
	}

	var haveFmt bool
	for {
		ch, err := p.NextChunk()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrNoData
			}
			return nil, err
		}

		switch ch.ID {
		case riff.FmtID:
			if ch.Size < 16 {
				return nil, fmt.Errorf("%w: fmt chunk of %d bytes", ErrUnsupportedFormat, ch.Size)
			}
			if err := ch.DecodeWavHeader(p); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
			}
			if p.WavAudioFormat != formatPCM && p.WavAudioFormat != formatExtensible {
				return nil, fmt.Errorf("%w: format tag %d", ErrUnsupportedFormat, p.WavAudioFormat)
			}
			haveFmt = true
			continue
		case riff.DataFormatID:
		default:
			ch.Drain()
			continue
		}

		if !haveFmt {
			return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedFormat)
		}
		break
	}

	s := &Source{
		rs:            rs,
		channels:      int(p.NumChannels),
		sampleRate:    int(p.SampleRate),
		bitsPerSample: int(p.BitsPerSample),
		header:        header.Bytes(),
	}
	if s.channels == 0 || s.bitsPerSample == 0 || s.bitsPerSample%8 != 0 {
		return nil, fmt.Errorf("%w: %d channels of %d bits", ErrUnsupportedFormat, s.channels, s.bitsPerSample)
	}
	s.blockAlign = s.channels * s.bitsPerSample / 8

	// The parser rounds odd chunk sizes up; the stored field is exact.
	headerBytes := int64(len(s.header))
	s.dataBytes = int64(binary.LittleEndian.Uint32(s.header[headerBytes-4:]))
	s.dataBytes = min(s.dataBytes, fileBytes-headerBytes)
	if s.dataBytes%int64(s.blockAlign) != 0 {
		return nil, ErrPartialBlock
	}
	s.terminatingBytes = fileBytes - headerBytes - s.dataBytes

	if _, err := rs.Seek(headerBytes, io.SeekStart); err != nil {
		return nil, err
	}
	return s, nil
}

// Channels returns the channel count.
func (s *Source) Channels() int { return s.channels }

// SampleRate returns the sample rate in Hz.
func (s *Source) SampleRate() int { return s.sampleRate }

// BitsPerSample returns the sample size in bits.
func (s *Source) BitsPerSample() int { return s.bitsPerSample }

// BlockAlign returns the size of one block (one sample of every channel).
func (s *Source) BlockAlign() int { return s.blockAlign }

// TotalBlocks returns the number of blocks in the data chunk.
func (s *Source) TotalBlocks() int64 { return s.dataBytes / int64(s.blockAlign) }

// HeaderBytes returns the number of bytes before the PCM data.
func (s *Source) HeaderBytes() int64 { return int64(len(s.header)) }

// TerminatingBytes returns the number of bytes after the PCM data.
func (s *Source) TerminatingBytes() int64 { return s.terminatingBytes }

// Format returns the audio format of the data.
func (s *Source) Format() *audio.Format {
	return &audio.Format{NumChannels: s.channels, SampleRate: s.sampleRate}
}

// HeaderData returns every byte before the PCM data, including the data
// chunk header.
func (s *Source) HeaderData() []byte {
	return s.header
}

// ReadBlocks reads up to len(p)/BlockAlign() blocks of PCM into p and
// returns the number of whole blocks read. It returns io.EOF once the data
// chunk is exhausted.
func (s *Source) ReadBlocks(p []byte) (int, error) {
	remaining := s.dataBytes - s.readBytes
	if remaining == 0 {
		return 0, io.EOF
	}

	want := min(int64(len(p)/s.blockAlign*s.blockAlign), remaining)
	n, err := io.ReadFull(s.rs, p[:want])
	s.readBytes += int64(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n / s.blockAlign, err
}

// TerminatingData returns the bytes after the PCM data. The read position
// of the underlying reader is restored.
func (s *Source) TerminatingData() (data []byte, err error) {
	if s.terminatingBytes == 0 {
		return nil, nil
	}

	pos, err := s.rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	defer func() {
		if _, serr := s.rs.Seek(pos, io.SeekStart); serr != nil && err == nil {
			data, err = nil, serr
		}
	}()

	if _, err := s.rs.Seek(-s.terminatingBytes, io.SeekEnd); err != nil {
		return nil, err
	}
	data = make([]byte, s.terminatingBytes)
	if _, err := io.ReadFull(s.rs, data); err != nil {
		return nil, err
	}
	return data, nil
}
