package predictor

// Roll buffer length between compactions, in samples.
const nnWindow = 512

// nnFilter is a sign-LMS FIR stage operating on saturated 16-bit history.
//
// Both the coefficients and the adaptation deltas are int16 and wrap on
// overflow; the dot product is accumulated in 64 bits and then scaled by
// shift with rounding.
type nnFilter struct {
	order    int
	shift    uint
	roundAdd int64
	legacy   bool

	runningAverage int64

	coeffs []int16
	input  []int16 // Roll buffer: history is input[pos-order : pos]
	delta  []int16 // Adaptation deltas aligned with input
	pos    int
}

func newNNFilter(order int, shift uint, legacy bool) *nnFilter {
	f := &nnFilter{
		order:    order,
		shift:    shift,
		roundAdd: 1 << (shift - 1),
		legacy:   legacy,
		coeffs:   make([]int16, order),
		input:    make([]int16, nnWindow+order),
		delta:    make([]int16, nnWindow+order),
	}
	f.flush()
	return f
}

// flush zeroes coefficients and history.
func (f *nnFilter) flush() {
	clear(f.coeffs)
	clear(f.input)
	clear(f.delta)
	f.runningAverage = 0
	f.pos = f.order
}

func (f *nnFilter) dot() int64 {
	hist := f.input[f.pos-f.order : f.pos]
	var sum int64
	for i, c := range f.coeffs {
		sum += int64(hist[i]) * int64(c)
	}
	return sum
}

// adapt moves every coefficient by its delta against the sign of the
// residual.
func (f *nnFilter) adapt(residual int64) {
	deltas := f.delta[f.pos-f.order : f.pos]
	switch {
	case residual < 0:
		for i, d := range deltas {
			f.coeffs[i] += d
		}
	case residual > 0:
		for i, d := range deltas {
			f.coeffs[i] -= d
		}
	}
}

// push appends the reconstructed sample v to the history and derives its
// adaptation delta.
func (f *nnFilter) push(v int64) {
	p := f.pos
	if f.legacy {
		switch {
		case v > 0:
			f.delta[p] = -4
		case v < 0:
			f.delta[p] = 4
		default:
			f.delta[p] = 0
		}
		f.delta[p-4] >>= 1
		f.delta[p-8] >>= 1
	} else {
		abs := v
		if abs < 0 {
			abs = -abs
		}
		var d int16
		switch {
		case abs > f.runningAverage*3:
			d = 32
		case abs > f.runningAverage*4/3:
			d = 16
		case abs > 0:
			d = 8
		}
		if v > 0 {
			d = -d
		}
		f.delta[p] = d
		f.runningAverage += (abs - f.runningAverage) / 16

		f.delta[p-1] >>= 1
		f.delta[p-2] >>= 1
		f.delta[p-8] >>= 1
	}

	f.input[p] = saturate16(v)

	f.pos++
	if f.pos == len(f.input) {
		copy(f.input, f.input[f.pos-f.order:f.pos])
		copy(f.delta, f.delta[f.pos-f.order:f.pos])
		f.pos = f.order
	}
}

// compress turns a sample into the residual of this stage.
func (f *nnFilter) compress(v int64) int64 {
	out := v - (f.dot()+f.roundAdd)>>f.shift
	f.adapt(out)
	f.push(v)
	return out
}

// decompress is the inverse of compress.
func (f *nnFilter) decompress(residual int64) int64 {
	dot := f.dot()
	f.adapt(residual)
	out := residual + (dot+f.roundAdd)>>f.shift
	f.push(out)
	return out
}

func saturate16(v int64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
