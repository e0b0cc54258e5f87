package ape

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAV format tag of integer PCM.
const wavFormatPCM = 1

// Format returns the audio format of the decoded stream, or nil on a nil
// Decompressor.
func (d *Decompressor) Format() *audio.Format {
	if d == nil {
		return nil
	}
	return &audio.Format{
		NumChannels: d.desc.Channels,
		SampleRate:  d.desc.SampleRate,
	}
}

// PCMBuffer decodes into buf.Data as many whole blocks as it holds and
// returns the number of samples written (blocks times channels).
//
// Samples follow the go-audio convention: 8-bit samples are unsigned
// (0..255, silence at 128), wider samples are signed. buf.Format is set if
// nil and buf.SourceBitDepth is set to the stream bit depth. Errors follow
// GetData, including io.EOF at the end of the range.
func (d *Decompressor) PCMBuffer(buf *audio.IntBuffer) (int, error) {
	if d == nil || d.ring == nil {
		return 0, ErrUninitialized
	}
	if buf == nil {
		return 0, fmt.Errorf("%w: nil buffer", ErrBadParameter)
	}

	channels := d.desc.Channels
	align := d.desc.BlockAlign
	blocks := len(buf.Data) / channels

	if need := blocks * align; cap(d.wavBuf) < need {
		d.wavBuf = make([]byte, need)
	}
	raw := d.wavBuf[:blocks*align]

	n, err := d.GetData(raw, blocks)
	samples := n * channels
	bytesToInts(raw[:n*align], d.desc.BitsPerSample, buf.Data[:samples])

	if buf.Format == nil {
		buf.Format = d.Format()
	}
	buf.SourceBitDepth = d.desc.BitsPerSample
	return samples, err
}

func bytesToInts(raw []byte, bitsPerSample int, out []int) {
	switch bitsPerSample {
	case 8:
		for i, b := range raw {
			out[i] = int(b)
		}
	case 16:
		for i := range out {
			out[i] = int(int16(binary.LittleEndian.Uint16(raw[2*i:])))
		}
	case 24:
		for i := range out {
			out[i] = int(audio.Int24LETo32(raw[3*i : 3*i+3]))
		}
	case 32:
		for i := range out {
			out[i] = int(int32(binary.LittleEndian.Uint32(raw[4*i:])))
		}
	}
}

// WriteWAV decodes the range from its start and writes it as a WAV file.
//
// When the range covers the whole stream and a WAV header was stored, the
// original file is reproduced byte for byte: stored header, PCM, stored
// terminating data. Otherwise a canonical PCM WAV file is written.
// The Decompressor is left at the end of the range.
func (d *Decompressor) WriteWAV(w io.WriteSeeker) error {
	if d == nil || d.ring == nil {
		return ErrUninitialized
	}
	if w == nil {
		return fmt.Errorf("%w: nil writer", ErrBadParameter)
	}
	if d.TotalBlocks() > 0 {
		if err := d.Seek(0); err != nil {
			return err
		}
	}

	if d.start == 0 && d.finish == d.desc.TotalBlocks && d.desc.HeaderLength > 0 {
		return d.remuxWAV(w)
	}
	return d.synthesizeWAV(w)
}

// remuxWAV writes the stored blobs around the decoded PCM.
func (d *Decompressor) remuxWAV(w io.Writer) error {
	header, err := d.HeaderData()
	if err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("%w: writing WAV header: %w", ErrIO, err)
	}

	buf := make([]byte, d.desc.BlocksPerFrame*d.desc.BlockAlign)
	for {
		n, err := d.GetData(buf, d.desc.BlocksPerFrame)
		if _, werr := w.Write(buf[:n*d.desc.BlockAlign]); werr != nil {
			return fmt.Errorf("%w: writing PCM: %w", ErrIO, werr)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}

	trailer, err := d.TerminatingData()
	if err != nil {
		return err
	}
	if _, err := w.Write(trailer); err != nil {
		return fmt.Errorf("%w: writing WAV trailer: %w", ErrIO, err)
	}
	return nil
}

// synthesizeWAV encodes the decoded PCM with a generated header.
func (d *Decompressor) synthesizeWAV(w io.WriteSeeker) error {
	// The encoder patches sizes at absolute offsets.
	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	enc := wav.NewEncoder(w, d.desc.SampleRate, d.desc.BitsPerSample, d.desc.Channels, wavFormatPCM)
	buf := &audio.IntBuffer{
		Format:         d.Format(),
		Data:           make([]int, d.desc.BlocksPerFrame*d.desc.Channels),
		SourceBitDepth: d.desc.BitsPerSample,
	}
	chunk := &audio.IntBuffer{Format: buf.Format, SourceBitDepth: buf.SourceBitDepth}

	// The first Write emits the header, so it runs even for an empty range.
	for {
		n, err := d.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		chunk.Data = buf.Data[:n]
		if werr := enc.Write(chunk); werr != nil {
			return fmt.Errorf("%w: encoding WAV: %w", ErrIO, werr)
		}
		if err != nil {
			break
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("%w: finishing WAV: %w", ErrIO, err)
	}
	return nil
}
