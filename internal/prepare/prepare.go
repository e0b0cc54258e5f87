// Package prepare converts between per-channel predictor values and
// interleaved little-endian PCM.
//
// Stereo material is coded as a mid/difference pair: X carries the right
// channel plus half the difference, Y the difference L-R. Mono and
// multichannel material is coded channel by channel.
package prepare

import "errors"

// ErrUnsupportedBits indicates a sample size other than 8, 16, 24 or 32 bits.
var ErrUnsupportedBits = errors.New("prepare: unsupported bits per sample")

// Valid reports whether bitsPerSample can be packed.
func Valid(bitsPerSample int) bool {
	switch bitsPerSample {
	case 8, 16, 24, 32:
		return true
	}
	return false
}

// BytesPerSample returns the packed size of one sample.
func BytesPerSample(bitsPerSample int) int {
	return bitsPerSample / 8
}

// Silence returns the byte value of a silent sample. 8-bit PCM is unsigned,
// so its silence is the midpoint.
func Silence(bitsPerSample int) byte {
	if bitsPerSample == 8 {
		return 0x80
	}
	return 0
}

// Unprepare reconstructs one block from the predictor outputs of all
// channels and packs it into out, which must hold len(values) samples.
// Values outside the sample range wrap, keeping only the low bits.
func Unprepare(values []int64, bitsPerSample int, out []byte) {
	if len(values) == 2 {
		x, y := values[0], values[1]
		r := x - y/2
		l := r + y
		putSample(out, bitsPerSample, l)
		putSample(out[bitsPerSample/8:], bitsPerSample, r)
		return
	}

	size := bitsPerSample / 8
	for ch, v := range values {
		putSample(out[ch*size:], bitsPerSample, v)
	}
}

// Prepare is the inverse of Unprepare: it unpacks one block of PCM into
// values, applying the mid/difference transform for stereo.
func Prepare(block []byte, bitsPerSample int, values []int64) {
	size := bitsPerSample / 8
	for ch := range values {
		values[ch] = getSample(block[ch*size:], bitsPerSample)
	}

	if len(values) == 2 {
		l, r := values[0], values[1]
		y := l - r
		values[0] = r + y/2
		values[1] = y
	}
}

func putSample(out []byte, bitsPerSample int, v int64) {
	switch bitsPerSample {
	case 8:
		out[0] = byte(v + 128)
	case 16:
		out[0] = byte(v)
		out[1] = byte(v >> 8)
	case 24:
		out[0] = byte(v)
		out[1] = byte(v >> 8)
		out[2] = byte(v >> 16)
	case 32:
		out[0] = byte(v)
		out[1] = byte(v >> 8)
		out[2] = byte(v >> 16)
		out[3] = byte(v >> 24)
	}
}

func getSample(in []byte, bitsPerSample int) int64 {
	switch bitsPerSample {
	case 8:
		return int64(in[0]) - 128
	case 16:
		return int64(int16(uint16(in[0]) | uint16(in[1])<<8))
	case 24:
		v := int32(uint32(in[0])<<8 | uint32(in[1])<<16 | uint32(in[2])<<24)
		return int64(v >> 8)
	case 32:
		return int64(int32(uint32(in[0]) | uint32(in[1])<<8 | uint32(in[2])<<16 | uint32(in[3])<<24))
	}
	return 0
}
