package freqsearch

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmewatch/fmewatch/internal/errs"
)

func baseParams() Params {
	return Params{
		SampleLengthMS:  10,
		FreqResolutionN: 256,
		Fs:              8000,
		MaxNumPeaks:     5,
		Overlap:         0,
		Delta:           0.3,
		SearchFreqs:     []float64{1000, 1100, 1200},
	}
}

func TestNew_RejectsBadOverlap(t *testing.T) {
	p := baseParams()
	p.Overlap = 1.5
	_, err := New(p)
	assert.ErrorIs(t, err, errs.ErrOverlapOutOfRange)
}

func TestNew_RejectsEmptySearchFreqs(t *testing.T) {
	p := baseParams()
	p.SearchFreqs = nil
	_, err := New(p)
	assert.ErrorIs(t, err, errs.ErrSearchFreqsEmpty)
}

func TestNew_RejectsFreqResolutionSmallerThanWindow(t *testing.T) {
	p := baseParams()
	p.FreqResolutionN = 10 // smaller than the 80-sample STFT window at 10ms/8kHz
	_, err := New(p)
	assert.ErrorIs(t, err, errs.ErrFFTSizeTooSmall)
}

func TestNew_ZeroFreqResolutionDefaultsToWindowLength(t *testing.T) {
	p := baseParams()
	p.FreqResolutionN = 0
	_, err := New(p)
	assert.NoError(t, err)
}

func TestPeakFrame_DetectsTone(t *testing.T) {
	p := baseParams()
	s, err := New(p)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	freq := 1000.0
	base := time.Unix(0, 0)
	for i := 0; i < s.nStep; i++ {
		v := math.Sin(2 * math.Pi * freq * float64(i) / p.Fs)
		calc := time.Duration(i) * time.Microsecond * 125 // 1/8000 s steps
		s.Put(calc, base.Add(calc), v)
	}

	var frames []PeakFrame
	require.Eventually(t, func() bool {
		frames = append(frames, s.TakePeaks()...)
		return len(frames) > 0
	}, time.Second, 5*time.Millisecond)

	// 256-point FFT at 8kHz: 31.25 Hz bins, 1000 Hz falls on bin 32.
	require.NotEmpty(t, frames[0].Peaks)
	assert.InDelta(t, freq, frames[0].Peaks[0], 31.25)
}

func TestStop_StopsWorkerPromptly(t *testing.T) {
	p := baseParams()
	s, err := New(p)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return in time")
	}
}
