// Package firfilter implements C1, the symmetric linear-phase FIR filter
// engine used throughout the resampling chain. It is a restartable
// streaming transform: processing the concatenation of several chunks in
// one call produces the same output, sample for sample, as processing
// those chunks individually back to back.
//
// The implementation follows the "IEEE Programs for Digital Signal
// Processing" (Wiley & Sons 1979, program 8.2) upsample/convolve/downsample
// scheme: interpolate linearly between input samples at up sub-positions,
// convolve with the symmetric kernel by folding the left and right taps
// around the center, then keep every down-th output starting from a
// carried-over phase so that emissions stay equidistant across calls.
package firfilter

import (
	"math"

	"github.com/fmewatch/fmewatch/internal/errs"
)

// Filter is a single active FIR filter instance. Zero value is not usable;
// construct with New.
type Filter struct {
	b    []float64 // symmetric kernel, odd length
	up   int
	down int

	initialized bool

	// previousSignal holds the last len(b)-1 samples of the upsampled
	// input stream, carried across calls so convolution has the
	// history it needs at the start of the next call.
	previousSignal []float64

	// previousDatapointUpsampling holds the last raw input sample from
	// the previous call, used to seed linear interpolation of the
	// upsampled points that fall before this call's first sample.
	previousDatapointUpsampling []float64
	haveUpsamplingSeed          bool

	// firstDatapoint is the index (into the concatenated
	// previousSignal+upsampled-input stream) of the next sample that
	// should be emitted, keeping output equidistant across calls.
	firstDatapoint int
}

// gcd returns the greatest common divisor of two positive integers.
func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// New constructs a FIR filter. b must have odd length and be symmetric
// within symTol (element i must match element len(b)-1-i). up and down
// are reduced by their GCD.
func New(b []float64, up, down int, symTol float64) (*Filter, error) {
	if len(b) == 0 {
		return nil, errs.ErrInvalidFilter
	}
	if up < 1 || down < 1 {
		return nil, errs.ErrInvalidFilter
	}
	if len(b)%2 != 1 {
		return nil, errs.ErrInvalidFilter
	}
	maxDev := 0.0
	for i := range b {
		d := math.Abs(b[i] - b[len(b)-1-i])
		if d > maxDev {
			maxDev = d
		}
	}
	if maxDev > symTol {
		return nil, errs.ErrInvalidFilter
	}

	g := gcd(up, down)
	f := &Filter{
		b:              append([]float64(nil), b...),
		up:             up / g,
		down:           down / g,
		previousSignal: make([]float64, len(b)-1),
		initialized:    true,
	}
	return f, nil
}

// upsamplingLength reports the number of upsampled points produced from
// dataLength raw input samples, accounting for whether an interpolation
// seed from a previous call is carried.
func (f *Filter) upsamplingLength(dataLength int) int {
	if dataLength < 1 {
		return 0
	}
	n := (dataLength-1)*f.up + 1
	if f.haveUpsamplingSeed {
		n += f.up - 1
	}
	return n
}

// downsamplingLength reports how many output samples a downsampling pass
// over a stream of the given length, with the current carried phase,
// will produce.
func (f *Filter) downsamplingLength(dataLength int) int {
	if dataLength < f.firstDatapoint {
		return 0
	}
	return int(math.Ceil(float64(dataLength-f.firstDatapoint) / float64(f.down)))
}

// ProcessedLength predicts len(Process(x)) for |x| == nIn, without
// mutating filter state. It must be called before Process for the same
// call so the caller can preallocate; calling it does not itself advance
// state.
func (f *Filter) ProcessedLength(nIn int) int {
	up := f.upsamplingLength(nIn)
	if f.down > 1 || (f.down == 1 && f.up == 1) {
		return f.downsamplingLength(up)
	}
	return up
}

func (f *Filter) upsample(x []float64) []float64 {
	if f.up == 1 {
		return x
	}
	n := f.upsamplingLength(len(x))
	if len(x) == 0 {
		return make([]float64, n)
	}

	data := x
	size := n
	if f.haveUpsamplingSeed {
		// One extra slot for the seed sample; it is sliced off below
		// once it has served its purpose of anchoring the first
		// interpolated run.
		size = n + 1
		data = append(append([]float64(nil), f.previousDatapointUpsampling...), x...)
	}

	out := make([]float64, size)
	for i, v := range data {
		out[f.up*i] = v
	}
	if len(data) > 1 {
		inv := 1.0 / float64(f.up)
		for i := 0; i < len(data)-1; i++ {
			slope := (data[i+1] - data[i]) * inv
			for j := 1; j < f.up; j++ {
				out[f.up*i+j] = data[i] + slope*float64(j)
			}
		}
	}
	if size == n+1 {
		out = out[1:]
	}

	f.previousDatapointUpsampling = []float64{x[len(x)-1]}
	f.haveUpsamplingSeed = true
	return out
}

// convolveDownsample runs the symmetric-fold convolution over signal
// (which already has the carried previousSignal tail prepended) and picks
// every down-th output starting at firstDatapoint, updating the carried
// tail and phase for the next call.
func (f *Filter) convolveDownsample(signal []float64) []float64 {
	M := len(f.b)
	out := make([]float64, f.downsamplingLength(len(signal)))

	center := M / 2
	signalWithTail := append(append([]float64(nil), f.previousSignal...), signal...)

	for outIdx := range out {
		// position in signalWithTail of the "center" sample for this
		// output point.
		pos := f.firstDatapoint + outIdx*f.down + (M - 1)
		var acc float64
		for k := 0; k < center; k++ {
			left := pos - (M - 1) + k
			right := pos - k
			acc += f.b[k] * (signalWithTail[left] + signalWithTail[right])
		}
		acc += f.b[center] * signalWithTail[pos-(M-1)+center]
		out[outIdx] = acc
	}

	maxIndex := f.downsamplingLength(len(signal))*f.down + f.firstDatapoint - f.down
	f.firstDatapoint = maxIndex + f.down - len(signal)

	tailLen := M - 1
	if len(signal) >= tailLen {
		f.previousSignal = append([]float64(nil), signal[len(signal)-tailLen:]...)
	} else {
		combined := append(append([]float64(nil), f.previousSignal...), signal...)
		if len(combined) > tailLen {
			combined = combined[len(combined)-tailLen:]
		}
		f.previousSignal = combined
	}

	return out
}

// Process streams x through the filter, returning the resampled output.
// State (the input tail, the interpolation seed, and the downsampling
// phase) persists across calls so that Process(x1) followed by Process(x2)
// yields the same result as Process(concat(x1, x2)).
func (f *Filter) Process(x []float64) []float64 {
	if !f.initialized {
		return nil
	}
	if len(x) == 0 {
		return nil
	}

	signal := f.upsample(x)

	if f.down > 1 || (f.down == 1 && f.up == 1) {
		return f.convolveDownsample(signal)
	}
	return signal
}

// DecimateIndices decimates a parallel time stream in lock-step with Process,
// without filtering the times themselves: it decimates the stream, not
// the values, by picking the same raw-input indices Process would have
// picked. Since a time companion stream is never upsampled (only the
// signal is), the indices are taken directly against the raw input at
// the phase firstDatapoint held before the paired Process call mutated
// it — snapshot that phase with Phase() first.
//
// n must equal the length of the raw (pre-upsampling) input x that was
// passed to the paired Process call.
func (f *Filter) DecimateIndices(phaseBefore, n int) []int {
	if f.up > 1 {
		// Times live in the raw (non-upsampled) domain; when
		// upsampling the phase is counted in the upsampled domain,
		// so converting back requires dividing by up. Every filter
		// this module builds (cmd/fmewatch's resampler, the recording
		// buffer) has up == 1, so this path only needs to handle
		// down-only filters precisely.
		phaseBefore /= f.up
	}
	idx := make([]int, 0, (n-phaseBefore)/f.down+1)
	for i := phaseBefore; i < n; i += f.down {
		idx = append(idx, i)
	}
	return idx
}

// Phase returns the current carried downsampling phase (the index, in
// [0, down), of the next sample to retain), for snapshotting before a
// Process call whose companion time stream needs decimating with
// DecimateIndices.
func (f *Filter) Phase() int {
	return f.firstDatapoint
}
