// Package predictor implements the per-channel adaptive prediction chain.
//
// A Predictor turns residuals decoded from the bitstream back into samples.
// The chain has three parts, applied in this order when compressing and in
// reverse when decompressing:
//
//   - stage 1: a fixed first-order filter, x[n] - 31/32 * x[n-1]
//   - stage 2: a short adaptive predictor over the last value and its
//     first differences, with sign-sign coefficient updates
//   - zero to three NN stages: long sign-LMS FIR filters whose order
//     depends on the compression level
//
// Every stage adapts after every sample, so the state at frame N can only
// be obtained by running all samples since the last Flush.
package predictor

import "errors"

// Compression levels as stored in the stream header.
const (
	LevelFast      = 1000
	LevelNormal    = 2000
	LevelHigh      = 3000
	LevelExtraHigh = 4000
	LevelInsane    = 5000
)

// ErrUnsupportedLevel indicates a compression level with no filter
// configuration for the requested mode.
var ErrUnsupportedLevel = errors.New("predictor: unsupported compression level")

type nnConfig struct {
	order int
	shift uint
}

// nnConfigs lists the NN stages per level, first stage first.
var nnConfigs = map[int][]nnConfig{
	LevelFast:      nil,
	LevelNormal:    {{16, 11}},
	LevelHigh:      {{64, 11}},
	LevelExtraHigh: {{256, 13}, {32, 10}},
	LevelInsane:    {{1280, 15}, {256, 13}, {16, 11}},
}

// legacyNNConfigs is used for streams written by older format versions.
var legacyNNConfigs = map[int][]nnConfig{
	LevelFast:      nil,
	LevelNormal:    {{16, 11}},
	LevelHigh:      {{64, 11}},
	LevelExtraHigh: {{256, 13}},
}

// Stage 1 and stage 2 constants.
const (
	stage1Shift = 5
	stage1Scale = 31

	stage2Shift = 10
)

var (
	stage2Init       = [4]int64{360, 317, -109, 98}
	legacyStage2Taps = 2
)

// Predictor reconstructs one channel.
type Predictor struct {
	level  int
	legacy bool

	filters []*nnFilter

	// Stage 2
	taps  int
	coefs [4]int64
	hist  [4]int64 // last value, then first differences newest first

	// Stage 1
	last int64
}

// New returns a Predictor configured for the given compression level.
// legacy selects the reduced filter set of older stream versions.
func New(level int, legacy bool) (*Predictor, error) {
	table := nnConfigs
	if legacy {
		table = legacyNNConfigs
	}
	cfgs, ok := table[level]
	if !ok {
		return nil, ErrUnsupportedLevel
	}

	p := &Predictor{
		level:  level,
		legacy: legacy,
		taps:   len(stage2Init),
	}
	if legacy {
		p.taps = legacyStage2Taps
	}
	for _, c := range cfgs {
		p.filters = append(p.filters, newNNFilter(c.order, c.shift, legacy))
	}
	p.Flush()
	return p, nil
}

// Valid reports whether level is decodable in the given mode.
func Valid(level int, legacy bool) bool {
	if legacy {
		_, ok := legacyNNConfigs[level]
		return ok
	}
	_, ok := nnConfigs[level]
	return ok
}

// Level returns the configured compression level.
func (p *Predictor) Level() int { return p.level }

// Legacy reports whether the predictor runs in legacy mode.
func (p *Predictor) Legacy() bool { return p.legacy }

// Stages returns the number of NN stages.
func (p *Predictor) Stages() int { return len(p.filters) }

// Flush resets every stage to its initial state. It is called at
// resynchronization points.
func (p *Predictor) Flush() {
	for _, f := range p.filters {
		f.flush()
	}
	p.coefs = stage2Init
	p.hist = [4]int64{}
	p.last = 0
}

func (p *Predictor) stage2Predict() int64 {
	var sum int64
	for i := 0; i < p.taps; i++ {
		sum += p.coefs[i] * p.hist[i]
	}
	return sum >> stage2Shift
}

// stage2Update adapts the coefficients against the prediction error e and
// pushes the new stage-1 value s into the history.
func (p *Predictor) stage2Update(s, e int64) {
	if e != 0 {
		for i := 0; i < p.taps; i++ {
			switch {
			case p.hist[i] == 0:
			case (p.hist[i] > 0) == (e > 0):
				p.coefs[i]++
			default:
				p.coefs[i]--
			}
		}
	}

	d := s - p.hist[0]
	copy(p.hist[2:], p.hist[1:3])
	p.hist[1] = d
	p.hist[0] = s
}

// Compress converts a sample into a residual. It is the exact inverse of
// Decompress and exists for producing test streams.
func (p *Predictor) Compress(x int64) int64 {
	s := x - (p.last*stage1Scale)>>stage1Shift
	p.last = x

	e := s - p.stage2Predict()
	p.stage2Update(s, e)

	for _, f := range p.filters {
		e = f.compress(e)
	}
	return e
}

// Decompress converts a residual read from the bitstream into a sample.
// Overflow wraps; no input is rejected.
func (p *Predictor) Decompress(r int64) int64 {
	for i := len(p.filters) - 1; i >= 0; i-- {
		r = p.filters[i].decompress(r)
	}

	s := r + p.stage2Predict()
	p.stage2Update(s, r)

	x := s + (p.last*stage1Scale)>>stage1Shift
	p.last = x
	return x
}
