// Package speckit implements C4: the real-FFT and spectrogram toolkit the
// frequency-search stage builds on. It wraps gonum's FFT with the specific
// one-sided, Hamming-windowed, DC/Nyquist-halved conventions the detector
// needs, plus Billauer's peak-finding algorithm and the small numeric
// helpers (GCD, even-rounding, data-range clamps) the rest of the pipeline
// shares.
package speckit

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/fmewatch/fmewatch/internal/errs"
)

// HammingWindow returns a Hamming window of length n.
func HammingWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// AmplitudeFFT returns the one-sided amplitude spectrum of x (length
// len(x)/2+1), windowed with a Hamming window first.
func AmplitudeFFT(x []float64) []float64 {
	return amplitudeSpectrum(x, len(x))
}

// amplitudeSpectrum Hamming-windows seg (using a window the length of seg
// itself) and zero-pads it up to fftSize before taking the one-sided real
// FFT, normalizing by the window length rather than the padded size so
// padding only sharpens frequency resolution without changing amplitude
// scale. AmplitudeFFT and Spectrogram both funnel through this.
func amplitudeSpectrum(seg []float64, fftSize int) []float64 {
	windowLen := len(seg)
	w := HammingWindow(windowLen)
	windowed := make([]float64, fftSize)
	for i, v := range seg {
		windowed[i] = v * w[i]
	}

	fft := fourier.NewFFT(fftSize)
	coeffs := fft.Coefficients(nil, windowed)

	out := make([]float64, len(coeffs))
	for i, c := range coeffs {
		out[i] = math.Hypot(real(c), imag(c)) / float64(windowLen)
	}
	return out
}

// ComplexFFT returns the one-sided complex FFT of x (length len(x)/2+1,
// same bin convention as AmplitudeFFT/PSD) alongside the frequency each
// bin corresponds to at sampling rate fs. Unlike AmplitudeFFT it applies
// no window and keeps phase, for callers (e.g. filter-response analysis)
// that need the complex coefficients themselves.
func ComplexFFT(x []float64, fs float64) (freqs []float64, coeffs []complex128) {
	n := len(x)
	fft := fourier.NewFFT(n)
	coeffs = fft.Coefficients(nil, x)
	freqs = make([]float64, len(coeffs))
	for i := range freqs {
		freqs[i] = float64(i) * fs / float64(n)
	}
	return freqs, coeffs
}

// InverseFFT reconstructs a real time-domain signal from a one-sided
// complex spectrum X, as produced by ComplexFFT, and the time axis at
// sampling rate fs. The original sequence length is assumed even (2*
// (len(X)-1)), matching the convention ComplexFFT produces.
func InverseFFT(X []complex128, fs float64) (t []float64, x []float64, err error) {
	if len(X) == 0 {
		return nil, nil, errs.ErrEmptySpectrum
	}
	n := 2 * (len(X) - 1)
	fft := fourier.NewFFT(n)
	x = fft.Sequence(nil, X)
	// gonum's transform pair is unnormalized: Sequence(Coefficients(x))
	// is n*x, so scale back by 1/n.
	for i := range x {
		x[i] /= float64(n)
	}
	t = make([]float64, n)
	for i := range t {
		t[i] = float64(i) / fs
	}
	return t, x, nil
}

// PSD converts a one-sided amplitude spectrum (as from AmplitudeFFT) to a
// power spectral density, halving the DC and (if present) the Nyquist
// bin so that summing the two-sided spectrum would recover total power.
func PSD(amp []float64, fullLength int) []float64 {
	out := make([]float64, len(amp))
	for i, a := range amp {
		out[i] = a * a
	}
	for i := range out {
		out[i] *= 2
	}
	out[0] /= 2
	if fullLength%2 == 0 && len(out) > 1 {
		out[len(out)-1] /= 2
	}
	return out
}

// NumSpectrogramTimesteps reports how many STFT frames a signal of length
// signalLength produces with the given window length and overlap fraction.
// Frames are allowed to run past the end of the signal (Spectrogram
// zero-pads the tail), so this is a ceiling over the step count rather
// than a floor over whole, unpadded windows — otherwise a signal exactly
// one window long would always report a single frame regardless of
// overlap.
func NumSpectrogramTimesteps(signalLength, windowLength int, overlap float64) int {
	if signalLength <= 0 || windowLength <= 0 {
		return 0
	}
	step := int(float64(windowLength) * (1 - overlap))
	if step < 1 {
		step = 1
	}
	return (signalLength-1)/step + 1
}

// Spectrogram computes a short-time Fourier transform of x: a sequence of
// one-sided PSD frames, each from a Hamming-windowed segment of length
// windowLength, stepped by windowLength*(1-overlap) samples, and FFT'd at
// fftSize (zero-padded up from windowLength for finer frequency
// resolution; fftSize==0 defaults to windowLength). A segment that runs
// past the end of x is zero-padded at the tail rather than dropped, so
// overlap still produces additional frames even when x is exactly one
// window long. Returns the per-frame PSD frames and the frequency bins
// each one shares.
func Spectrogram(x []float64, windowLength int, overlap, samplingFreq float64, fftSize int) (frames [][]float64, freqs []float64, err error) {
	if overlap < 0 || overlap >= 1 {
		return nil, nil, errs.ErrOverlapOutOfRange
	}
	if fftSize == 0 {
		fftSize = windowLength
	}
	if fftSize < windowLength {
		return nil, nil, errs.ErrFFTSizeTooSmall
	}
	step := int(float64(windowLength) * (1 - overlap))
	if step < 1 {
		step = 1
	}
	n := NumSpectrogramTimesteps(len(x), windowLength, overlap)
	frames = make([][]float64, 0, n)
	seg := make([]float64, windowLength)
	for i := 0; i < n; i++ {
		start := i * step
		for j := range seg {
			if idx := start + j; idx < len(x) {
				seg[j] = x[idx]
			} else {
				seg[j] = 0
			}
		}
		amp := amplitudeSpectrum(seg, fftSize)
		frames = append(frames, PSD(amp, fftSize))
	}

	binCount := fftSize/2 + 1
	freqs = make([]float64, binCount)
	for i := range freqs {
		freqs[i] = float64(i) * samplingFreq / float64(fftSize)
	}
	return frames, freqs, nil
}

// Peak is a single local maximum found by FindPeaks.
type Peak struct {
	Index int
	Value float64
}

// FindPeaks implements Billauer's peak-detection algorithm: the running
// maximum is reported as a peak once the signal falls more than delta below
// it; the search for the next peak then resumes only after the signal has
// risen more than delta above the lowest value seen since. delta must be
// non-negative.
func FindPeaks(x []float64, delta float64) ([]Peak, error) {
	if delta < 0 {
		return nil, errs.ErrDeltaNegative
	}
	if len(x) == 0 {
		return nil, nil
	}

	var peaks []Peak
	mn, mx := x[0], x[0]
	mnPos, mxPos := 0, 0
	lookForMax := true

	for i, v := range x {
		if v > mx {
			mx = v
			mxPos = i
		}
		if v < mn {
			mn = v
			mnPos = i
		}

		if lookForMax {
			if v < mx-delta {
				peaks = append(peaks, Peak{Index: mxPos, Value: mx})
				mn = v
				mnPos = i
				lookForMax = false
			}
		} else {
			if v > mn+delta {
				mx = v
				mxPos = i
				lookForMax = true
			}
		}
	}
	return peaks, nil
}

// NormalizeToMax rescales x in place so its maximum absolute value is 1.
// A signal that is identically zero is left untouched.
func NormalizeToMax(x []float64) {
	max := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > max {
			max = a
		}
	}
	if max == 0 {
		return
	}
	for i := range x {
		x[i] /= max
	}
}

// SubtractBaseline subtracts the mean of x from every element, in place.
func SubtractBaseline(x []float64) {
	if len(x) == 0 {
		return
	}
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	mean := sum / float64(len(x))
	for i := range x {
		x[i] -= mean
	}
}

// LimitRange clamps every element of x to [lo, hi], in place.
func LimitRange(x []float64, lo, hi float64) {
	for i, v := range x {
		if v < lo {
			x[i] = lo
		} else if v > hi {
			x[i] = hi
		}
	}
}

// GCD returns the greatest common divisor of a and b.
func GCD(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// NextEven rounds x up to the nearest even integer.
func NextEven(x int) int {
	if x%2 != 0 {
		return x + 1
	}
	return x
}

// IsPrime reports whether n is prime, a check for FFT-friendly window
// lengths (a highly composite length keeps the underlying FFT fast; a
// prime one does not). No code in this module calls it outside its test.
func IsPrime(n int) bool {
	if n < 2 {
		return false
	}
	for i := 2; i*i <= n; i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}
