package resample

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmewatch/fmewatch/internal/sample"
)

func symmetricKernel(n int) []float64 {
	b := make([]float64, n)
	center := n / 2
	for i := range b {
		b[i] = 1 - math.Abs(float64(i-center))/float64(center+1)
	}
	return b
}

func chunkFromSignal(x []float64) sample.Chunk {
	calc := make([]time.Duration, len(x))
	ref := make([]time.Time, len(x))
	base := time.Unix(0, 0)
	for i := range x {
		calc[i] = time.Duration(i) * time.Millisecond
		ref[i] = base.Add(calc[i])
	}
	return sample.Chunk{Calc: calc, Ref: ref, Signal: x}
}

// TestProcessedLengths checks invariant 2: the length predictor matches
// what Process actually emits, for every decision-matrix strategy.
func TestProcessedLengths(t *testing.T) {
	k := symmetricKernel(7)
	cases := []Params{
		{ProcKernel: k, ProcUp: 1, ProcDown: 4, RecKernel: k, RecUp: 1, RecDown: 2, SymTol: 1e-9}, // rec chains to proc
		{ProcKernel: k, ProcUp: 1, ProcDown: 2, RecKernel: k, RecUp: 1, RecDown: 6, SymTol: 1e-9}, // proc chains to rec
		{ProcKernel: k, ProcUp: 1, ProcDown: 3, RecKernel: k, RecUp: 1, RecDown: 5, SymTol: 1e-9}, // independent
	}

	for _, p := range cases {
		d, err := New(p)
		require.NoError(t, err)

		x := make([]float64, 401)
		for i := range x {
			x[i] = math.Sin(float64(i) * 0.05)
		}
		in := chunkFromSignal(x)

		predicted := d.ProcessedLengths(in.Len())
		out := d.Process(in)
		assert.Equal(t, predicted.Proc, out.Proc.Len())
		assert.Equal(t, predicted.Rec, out.Rec.Len())
	}
}

// TestContinuity checks scenario S7: feeding noise through the downsampler
// in small chunks must match feeding it in a single call, sample for
// sample, on both derived streams.
func TestContinuity(t *testing.T) {
	k := symmetricKernel(9)
	p := Params{ProcKernel: k, ProcUp: 1, ProcDown: 4, RecKernel: k, RecUp: 1, RecDown: 2, SymTol: 1e-9}

	whole, err := New(p)
	require.NoError(t, err)
	split, err := New(p)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	n := 10 * 1000 // 10s worth at a nominal 1kHz pretend rate, just needs to be long
	x := make([]float64, n)
	for i := range x {
		x[i] = rng.Float64()*2 - 1
	}
	in := chunkFromSignal(x)

	wholeOut := whole.Process(in)

	var splitProc, splitRec []float64
	for i := 0; i < n; {
		chunkLen := 23
		if i+chunkLen > n {
			chunkLen = n - i
		}
		out := split.Process(in.Slice(i, i+chunkLen))
		splitProc = append(splitProc, out.Proc.Signal...)
		splitRec = append(splitRec, out.Rec.Signal...)
		i += chunkLen
	}

	require.Equal(t, len(wholeOut.Proc.Signal), len(splitProc))
	for i := range wholeOut.Proc.Signal {
		assert.InDelta(t, wholeOut.Proc.Signal[i], splitProc[i], 1e-7)
	}

	require.Equal(t, len(wholeOut.Rec.Signal), len(splitRec))
	for i := range wholeOut.Rec.Signal {
		assert.InDelta(t, wholeOut.Rec.Signal[i], splitRec[i], 1e-7)
	}
}

func TestNew_IndependentStrategyPassesThroughWhenNoFactors(t *testing.T) {
	p := Params{ProcKernel: nil, ProcUp: 1, ProcDown: 1, RecKernel: nil, RecUp: 1, RecDown: 1, SymTol: 1e-9}
	d, err := New(p)
	require.NoError(t, err)

	x := make([]float64, 10)
	for i := range x {
		x[i] = float64(i)
	}
	in := chunkFromSignal(x)
	out := d.Process(in)
	assert.Equal(t, in.Signal, out.Proc.Signal)
	assert.Equal(t, in.Signal, out.Rec.Signal)
}
