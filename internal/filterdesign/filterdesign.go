// Package filterdesign implements C3 and C3a: Hamming-windowed low-pass
// FIR design, and the non-linear solver that picks the smallest even
// filter order matching a requested transition width.
package filterdesign

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/optimize"

	"github.com/fmewatch/fmewatch/internal/errs"
)

// NextLargerEven rounds x up to the next even integer (x itself if already
// even).
func NextLargerEven(x float64) int {
	n := int(math.Ceil(x))
	if n%2 != 0 {
		n++
	}
	return n
}

// NextSmallerEven rounds x down to the next even integer.
func NextSmallerEven(x float64) int {
	n := int(math.Floor(x))
	if n%2 != 0 {
		n--
	}
	return n
}

func makeEven(x float64) int {
	n := int(math.Round(x))
	if n%2 != 0 {
		n++
	}
	return n
}

// DesignLowpassFromOrder builds a Hamming-windowed sinc low-pass filter of
// the given even order. normalizedFc is the REAL cutoff (the frequency
// where the first stop-band side-lobe peaks), normalized to the Nyquist
// frequency; it is shifted internally by 3.3/(order+1) to obtain the ideal
// sinc cutoff. The returned kernel is normalized to unity DC gain.
func DesignLowpassFromOrder(order int, normalizedFc float64) ([]float64, error) {
	if order%2 != 0 {
		return nil, errs.ErrOrderParity
	}
	idealFc := normalizedFc - 3.3/float64(order+1)
	if idealFc <= 0 || idealFc > 1 {
		return nil, errs.ErrFcOutOfRange
	}

	n := order + 1
	b := make([]float64, n)
	center := order / 2
	for i := -center; i <= center; i++ {
		var v float64
		if i == 0 {
			v = idealFc
		} else {
			v = math.Sin(float64(i)*math.Pi*idealFc) / (float64(i) * math.Pi)
		}
		b[i+center] = v
	}
	hammingWindow(b)

	sum := 0.0
	for _, v := range b {
		sum += v
	}
	for i := range b {
		b[i] /= sum
	}
	return b, nil
}

func hammingWindow(b []float64) {
	n := len(b)
	for i := range b {
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		b[i] *= w
	}
}

// digitalFilterGain evaluates |H(f)| for an all-zero (FIR) filter at
// pointNum equally spaced frequencies between 0 and fs/2, using a single
// forward FFT of the zero-padded kernel — the "numerator from b,
// denominator = 1" construction spec.md §4.3 describes.
func digitalFilterGain(b []float64, pointNum int, fs float64) (freqs, gain []float64) {
	n := 2 * (pointNum - 1)
	if n < 1 {
		n = 1
	}
	stride := 1
	for n < len(b) {
		n *= 2
		stride *= 2
	}
	padded := make([]float64, n)
	copy(padded, b)

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, padded)

	freqs = make([]float64, pointNum)
	gain = make([]float64, pointNum)
	for i := 0; i < pointNum; i++ {
		freqs[i] = float64(i*stride) * fs / float64(n)
		c := coeffs[i*stride]
		gain[i] = math.Hypot(real(c), imag(c))
	}
	return freqs, gain
}

func nextPow2(x int) int {
	p := 1
	for p < x {
		p *= 2
	}
	return p
}

// transitionWidth computes the transition width of a filter of the given
// even order, normalized by fs (the caller multiplies by fs to get Hz):
// the distance between the real cutoff fc and the frequency where a
// monotone cubic spline through the measured |H(f)| first drops below
// hLimit.
func transitionWidth(order int, fc, fs, hLimit, deltaF float64) (float64, error) {
	normalizedFc := fc / fs * 2.0
	b, err := DesignLowpassFromOrder(order, normalizedFc)
	if err != nil {
		return 0, err
	}

	pointNum := int(fs/2/deltaF) + 1
	freqs, gain := digitalFilterGain(b, pointNum, fs)

	fc2 := &interp.FritschButland{}
	if err := fc2.Fit(freqs, gain); err != nil {
		return 0, err
	}

	lo, hi := freqs[0], freqs[len(freqs)-1]
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		if fc2.Predict(mid) > hLimit {
			lo = mid
		} else {
			hi = mid
		}
	}
	crossing := (lo + hi) / 2
	return (fc - crossing) / fs, nil
}

// DesignLowpassFromTransition solves for the smallest even filter order
// whose measured transition width matches Δf, then returns the
// corresponding Hamming-windowed kernel. orderStart seeds the search;
// orderMax bounds it.
func DesignLowpassFromTransition(deltaF, cutoffFreq, samplingFreq float64, orderStart, orderMax int) ([]float64, error) {
	if samplingFreq <= 0 {
		return nil, errs.ErrSamplingTooLow
	}
	if deltaF <= 0 || cutoffFreq <= 0 || deltaF > cutoffFreq {
		return nil, errs.ErrFcOutOfRange
	}
	normalizedFc := cutoffFreq / samplingFreq * 2.0
	if normalizedFc > 1.0 {
		return nil, errs.ErrFcOutOfRange
	}

	lowerBound := float64(NextLargerEven(3.3/normalizedFc-1) + 2)
	upperBound := float64(orderMax)
	if lowerBound > upperBound {
		return nil, errs.ErrOrderTooLargeForCutoff
	}
	if orderStart < int(lowerBound) || orderStart > orderMax {
		orderStart = int(lowerBound)
	}

	objective := func(p []float64) float64 {
		order := makeEven(clamp(p[0], lowerBound, upperBound))
		w, err := transitionWidth(order, cutoffFreq, samplingFreq, 0.975, 20)
		if err != nil {
			return math.Inf(1)
		}
		return math.Abs(w*samplingFreq - deltaF)
	}

	problem := optimize.Problem{Func: objective}
	result, err := optimize.Minimize(problem, []float64{float64(orderStart)}, &optimize.Settings{
		MajorIterations: 200,
	}, &optimize.NelderMead{})
	finalOrder := orderStart
	if err == nil && result != nil {
		finalOrder = makeEven(clamp(result.X[0], lowerBound, upperBound))
	}

	return DesignLowpassFromOrder(finalOrder, normalizedFc)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
