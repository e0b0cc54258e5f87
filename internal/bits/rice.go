package bits

import "math/bits"

// Adaptive Rice coding parameters.
const (
	initialK    = 10
	initialKSum = 1 << 14
	maxK        = 24

	// escapeZeros is the unary run length that introduces an escaped value.
	escapeZeros = 32
	// escapeWidthBits is the size of the bit-width field of an escaped value.
	escapeWidthBits = 6

	// adaptCap bounds the contribution of a single value to kSum so that
	// one outlier cannot push k off the scale.
	adaptCap = 1 << 40
)

// RiceState is the adaptive state of one channel's Rice coder.
//
// k is the number of raw low bits sent after the unary prefix; kSum is a
// decaying average of recent values from which k is re-derived after every
// symbol. The state is reset at the start of each frame so frames can be
// decoded independently of the entropy history.
type RiceState struct {
	k    uint
	kSum uint64
}

// NewRiceState returns a RiceState in its initial configuration.
func NewRiceState() RiceState {
	return RiceState{k: initialK, kSum: initialKSum}
}

// Reset restores the initial configuration.
func (s *RiceState) Reset() {
	*s = NewRiceState()
}

// K returns the current raw-bit count.
func (s *RiceState) K() uint {
	return s.k
}

func minSum(k uint) uint64 {
	if k == 0 {
		return 0
	}
	return 1 << (k + 4)
}

// adapt folds v into the running average and moves k by at most one step.
func (s *RiceState) adapt(v uint64) {
	s.kSum += (min(v, adaptCap)+1)/2 - (s.kSum+16)>>5

	if s.kSum < minSum(s.k) {
		s.k--
	} else if s.k < maxK && s.kSum >= minSum(s.k+1) {
		s.k++
	}
}

// DecodeValue reads one unsigned Rice symbol and adapts s.
//
// A run of 32 zero bits introduces an escaped value: a 6-bit width w
// followed by w raw bits. Truncated input yields zero bits and leaves the
// Reader's error flag set.
func DecodeValue(r *Reader, s *RiceState) uint64 {
	var v uint64

	q := uint(bits.LeadingZeros32(r.ShowBits(32)))
	if q >= escapeZeros {
		r.FlushBits(escapeZeros)
		w := uint(r.GetBits(escapeWidthBits))
		if w > 32 {
			v = uint64(r.GetBits(w-32)) << 32
			w = 32
		}
		v |= uint64(r.GetBits(w))
	} else {
		r.FlushBits(q + 1)
		v = uint64(q)<<s.k | uint64(r.GetBits(s.k))
	}

	s.adapt(v)
	return v
}

// EncodeValue writes v as one Rice symbol and adapts s exactly as
// DecodeValue does. v must fit in 63 bits.
func EncodeValue(w *Writer, s *RiceState, v uint64) {
	if q := v >> s.k; q < escapeZeros {
		w.PutZeros(uint(q))
		w.PutBits(1, 1)
		w.PutBits(uint32(v)&(1<<s.k-1), s.k)
	} else {
		width := uint(bits.Len64(v))
		w.PutZeros(escapeZeros)
		w.PutBits(uint32(width), escapeWidthBits)
		if width > 32 {
			w.PutBits(uint32(v>>32), width-32)
			width = 32
		}
		w.PutBits(uint32(v), width)
	}

	s.adapt(v)
}

// Fold maps a signed residual onto the unsigned symbol alphabet:
// positive r becomes 2r-1, zero and negative r become -2r.
func Fold(r int64) uint64 {
	if r > 0 {
		return uint64(r)*2 - 1
	}
	return uint64(-r) * 2
}

// Unfold is the inverse of Fold.
func Unfold(v uint64) int64 {
	if v&1 != 0 {
		return int64(v>>1) + 1
	}
	return -int64(v >> 1)
}
