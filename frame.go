package ape

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/llehouerou/go-ape/internal/bits"
	"github.com/llehouerou/go-ape/internal/prepare"
)

// Frame special codes.
const (
	specialSilenceLeft  = 1 // Also mono and multichannel silence
	specialSilenceRight = 2
	specialPseudoStereo = 4

	// specialCodesPresent is set in the stored checksum word when a
	// special codes word follows.
	specialCodesPresent = 1 << 31
)

// frameHead is the decoded head of a frame.
type frameHead struct {
	crc   uint32 // Stored checksum, 31 bits
	codes uint32
}

func (d *Decompressor) isResyncFrame(frame int64) bool {
	if frame == 0 {
		return true
	}
	interval := int64(d.desc.ResyncInterval)
	return interval > 0 && frame%interval == 0
}

// resyncFrameFor returns the nearest resynchronization frame at or before
// frame.
func (d *Decompressor) resyncFrameFor(frame int64) int64 {
	interval := int64(d.desc.ResyncInterval)
	if interval <= 0 {
		return 0
	}
	return frame - frame%interval
}

// silent reports whether the special codes declare the whole frame silent.
func (d *Decompressor) silent(codes uint32) bool {
	if d.desc.Channels == 2 {
		return codes&(specialSilenceLeft|specialSilenceRight) == specialSilenceLeft|specialSilenceRight
	}
	return codes&specialSilenceLeft != 0
}

// readFrame loads the compressed bytes of frame. A stream that ends early
// yields the bytes that could be read; the frame then fails to decode.
func (d *Decompressor) readFrame(frame int64) ([]byte, error) {
	off := d.desc.FrameOffsets[frame]
	end := d.desc.PayloadOffset + d.desc.PayloadLength
	if frame+1 < int64(len(d.desc.FrameOffsets)) {
		end = d.desc.FrameOffsets[frame+1]
	}

	size := int(end - off)
	if cap(d.frameBuf) < size {
		d.frameBuf = make([]byte, size)
	}
	buf := d.frameBuf[:size]

	if _, err := d.src.Seek(off, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seeking to frame %d: %w", ErrIO, frame, err)
	}
	n, err := io.ReadFull(d.src, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: reading frame %d: %w", ErrIO, frame, err)
	}
	return buf[:n], nil
}

// startFrame resets the intra-frame state and reads the frame head.
// Predictors are flushed when frame is a resynchronization point.
func (d *Decompressor) startFrame(frame int64, data []byte) frameHead {
	d.reader.Reset(data)

	var h frameHead
	word := d.reader.GetBits(32)
	if word&specialCodesPresent != 0 {
		h.codes = d.reader.GetBits(32)
	}
	h.crc = word &^ specialCodesPresent

	if d.isResyncFrame(frame) {
		for _, p := range d.preds {
			p.Flush()
		}
	}
	for ch := range d.rice {
		d.rice[ch].Reset()
	}
	return h
}

// endFrame verifies the checksum of the decoded frame. A frame that fails
// it, or whose data ended early, is replaced by silence and recorded.
func (d *Decompressor) endFrame(frame int64, h frameHead, crc uint32, pcm []byte) {
	var cause error
	switch {
	case d.reader.Error():
		cause = fmt.Errorf("%w: frame %d: premature end of frame data", ErrInvalidStream, frame)
	case crc != h.crc:
		cause = fmt.Errorf("%w: frame %d: stored 0x%08X, computed 0x%08X",
			ErrChecksumMismatch, frame, h.crc, crc)
	default:
		return
	}

	if !d.silent(h.codes) {
		fillSilence(pcm, d.desc.BitsPerSample)
	}
	d.hadErrors = true
	d.errorFrames++
	d.lastFrameErr = cause
}

// decodeFrame decodes frame into pcmBuf and returns its block count. Only
// I/O failures are returned; damaged frames decode to silence.
func (d *Decompressor) decodeFrame(frame int64) (int, error) {
	data, err := d.readFrame(frame)
	if err != nil {
		return 0, err
	}

	blocks := d.desc.FrameBlocks(frame)
	align := d.desc.BlockAlign
	bps := d.desc.BitsPerSample
	pcm := d.pcmBuf[:blocks*align]

	h := d.startFrame(frame, data)

	var crc uint32
	if d.silent(h.codes) {
		fillSilence(pcm, bps)
		crc = crc32.ChecksumIEEE(pcm)
	} else {
		coded := d.desc.Channels
		pseudo := coded == 2 && h.codes&specialPseudoStereo != 0
		if pseudo {
			coded = 1
			d.values[1] = 0
		}

		for b := 0; b < blocks; b++ {
			for ch := 0; ch < coded; ch++ {
				r := bits.Unfold(bits.DecodeValue(&d.reader, &d.rice[ch]))
				d.values[ch] = d.preds[ch].Decompress(r)
			}
			block := pcm[b*align : (b+1)*align]
			prepare.Unprepare(d.values, bps, block)
			crc = crc32.Update(crc, crc32.IEEETable, block)
		}
	}

	d.endFrame(frame, h, crc>>1, pcm)
	return blocks, nil
}

// fillFrameBuffer decodes the next frame into the ring, dropping blocks past
// the end of the range. The ring must be empty.
func (d *Decompressor) fillFrameBuffer() error {
	frame := d.nextFrame
	blocks, err := d.decodeFrame(frame)
	if err != nil {
		d.needResync = true
		return err
	}
	d.nextFrame = frame + 1

	if err := d.ring.Write(d.pcmBuf[:blocks*d.desc.BlockAlign]); err != nil {
		return fmt.Errorf("ape: frame %d: %w", frame, err)
	}
	if end := frame*int64(d.desc.BlocksPerFrame) + int64(blocks); end > d.finish {
		d.ring.RemoveTail(int(end - d.finish))
	}
	return nil
}

// seekAbsolute positions the decoder at the absolute block target, which
// must lie inside the range.
func (d *Decompressor) seekAbsolute(target int64) error {
	if !d.needResync {
		buffered := int64(d.ring.Len())
		if target >= d.currentBlock && target < d.currentBlock+buffered {
			d.ring.Discard(int(target - d.currentBlock))
			d.currentBlock = target
			return nil
		}
	}

	bpf := int64(d.desc.BlocksPerFrame)
	frame := target / bpf
	skip := int(target - frame*bpf)

	// Continue from the current position when it lies between the
	// resynchronization point and the target.
	from := d.resyncFrameFor(frame)
	if !d.needResync && d.nextFrame > from && d.nextFrame <= frame {
		from = d.nextFrame
	}

	d.ring.Reset()
	d.needResync = true
	for f := from; f < frame; f++ {
		if _, err := d.decodeFrame(f); err != nil {
			return err
		}
	}

	d.nextFrame = frame
	if err := d.fillFrameBuffer(); err != nil {
		return err
	}
	d.ring.Discard(skip)
	d.currentBlock = target
	d.needResync = false
	return nil
}

func fillSilence(pcm []byte, bitsPerSample int) {
	s := prepare.Silence(bitsPerSample)
	for i := range pcm {
		pcm[i] = s
	}
}
