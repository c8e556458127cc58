// Package iirfilter implements C2, the causal direct-form IIR filter
// engine. It mirrors firfilter's restartable streaming contract (continuity
// across call boundaries) but additionally carries an output tail, and has
// no symmetry requirement. It is used only where an IIR (typically a
// Chebyshev type I) filter is explicitly configured in place of the
// default FIR chain; C5 picks FIR unless told otherwise.
package iirfilter

import "github.com/fmewatch/fmewatch/internal/errs"

// Filter is a single active IIR filter instance.
type Filter struct {
	a []float64 // feedback coefficients, a[0] is the leading (divisor) term
	b []float64 // feedforward coefficients

	up   int
	down int

	initialized bool

	previousSignal         []float64 // tail of len(b)-1 previous inputs
	previousFilteredSignal []float64 // tail of len(a)-1 previous outputs

	firstDatapoint int
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// New constructs an IIR filter from feedback coefficients a and
// feedforward coefficients b. Neither may be empty. up and down are
// reduced by their GCD.
func New(a, b []float64, up, down int) (*Filter, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, errs.ErrInvalidFilter
	}
	if up < 1 || down < 1 {
		return nil, errs.ErrInvalidFilter
	}
	g := gcd(up, down)
	return &Filter{
		a:                      append([]float64(nil), a...),
		b:                      append([]float64(nil), b...),
		up:                     up / g,
		down:                   down / g,
		previousSignal:         make([]float64, len(b)-1),
		previousFilteredSignal: make([]float64, len(a)-1),
		initialized:            true,
	}, nil
}

func (f *Filter) upsamplingLength(n int) int {
	if n < 1 {
		return 0
	}
	return (n-1)*f.up + 1
}

func (f *Filter) downsamplingLength(n int) int {
	if n < f.firstDatapoint {
		return 0
	}
	if f.firstDatapoint >= n {
		return 0
	}
	count := 0
	for i := f.firstDatapoint; i < n; i += f.down {
		count++
	}
	return count
}

// ProcessedLength predicts len(Process(x)) for |x| == nIn.
func (f *Filter) ProcessedLength(nIn int) int {
	up := f.upsamplingLength(nIn)
	if f.up == 1 {
		up = nIn
	}
	if f.down > 1 {
		return f.downsamplingLength(up)
	}
	return up
}

// Process streams x through the direct-form IIR recurrence
//
//	y[n] = (Σ_k b[k]·x[n-k] − Σ_{l=1}^{len(a)-1} a[l]·y[n-l]) / a[0]
//
// maintaining the input and output tails across calls so the result is
// identical whether x arrives in one call or split across many, as long as
// up == 1. With up > 1 each call is interpolated on its own, with no
// interpolation seed carried over from the previous call, so split input
// yields fewer output samples than the same input in one call.
func (f *Filter) Process(x []float64) []float64 {
	if !f.initialized || len(x) == 0 {
		return nil
	}
	if f.up > 1 {
		x = upsampleLinear(x, f.up)
	}

	B := len(f.b)
	A := len(f.a)

	signal := append(append([]float64(nil), f.previousSignal...), x...)
	filtered := append(make([]float64, 0, len(f.previousFilteredSignal)+len(x)), f.previousFilteredSignal...)

	start := len(filtered)
	signalIndex := B - 1 + (start - len(f.previousFilteredSignal))
	for i := start; i < len(f.previousFilteredSignal)+len(x); i++ {
		var acc float64
		for k := 0; k < B; k++ {
			acc += f.b[k] * signal[signalIndex-(B-1)+k]
		}
		for l := 1; l < A; l++ {
			acc -= f.a[l] * filtered[i-l]
		}
		acc /= f.a[0]
		filtered = append(filtered, acc)
		signalIndex++
	}

	newSignalOnly := signal[len(f.previousSignal):]
	if len(newSignalOnly) >= B {
		f.previousSignal = append([]float64(nil), newSignalOnly[len(newSignalOnly)-(B-1):]...)
	} else {
		combined := append(append([]float64(nil), f.previousSignal...), newSignalOnly...)
		if len(combined) > B-1 {
			combined = combined[len(combined)-(B-1):]
		}
		f.previousSignal = combined
	}

	newFilteredOnly := filtered[len(f.previousFilteredSignal):]
	if len(newFilteredOnly) >= A {
		f.previousFilteredSignal = append([]float64(nil), newFilteredOnly[len(newFilteredOnly)-(A-1):]...)
	} else {
		combined := append(append([]float64(nil), f.previousFilteredSignal...), newFilteredOnly...)
		if len(combined) > A-1 {
			combined = combined[len(combined)-(A-1):]
		}
		f.previousFilteredSignal = combined
	}

	if f.down > 1 {
		out := make([]float64, 0, f.downsamplingLength(len(newFilteredOnly)))
		for i := f.firstDatapoint; i < len(newFilteredOnly); i += f.down {
			out = append(out, newFilteredOnly[i])
		}
		n := len(newFilteredOnly)
		maxIndex := len(out)*f.down + f.firstDatapoint - f.down
		f.firstDatapoint = maxIndex + f.down - n
		return out
	}
	return newFilteredOnly
}

func upsampleLinear(x []float64, up int) []float64 {
	if len(x) == 0 {
		return nil
	}
	n := (len(x)-1)*up + 1
	out := make([]float64, n)
	for i, v := range x {
		out[up*i] = v
	}
	inv := 1.0 / float64(up)
	for i := 0; i < len(x)-1; i++ {
		slope := (x[i+1] - x[i]) * inv
		for j := 1; j < up; j++ {
			out[up*i+j] = x[i] + slope*float64(j)
		}
	}
	return out
}
