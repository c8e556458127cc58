// Package freqsearch implements C6: a worker that consumes chunks of the
// processing stream and emits timestamped peak-frequency vectors, one per
// STFT page, built on internal/speckit's FFT and peak-finding primitives.
package freqsearch

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/fmewatch/fmewatch/internal/errs"
	"github.com/fmewatch/fmewatch/internal/speckit"
)

// Params are admission-time, immutable once the worker is running.
type Params struct {
	SampleLengthMS  float64
	FreqResolutionN int
	Fs              float64
	MaxNumPeaks     int
	Overlap         float64
	Delta           float64
	SearchFreqs     []float64

	// OnRuntimeError receives a fatal worker error, wrapped as
	// *errs.StageError, exactly once, just before the worker exits.
	OnRuntimeError func(error)
}

// PeakFrame is C6's output unit: one STFT page's surviving peaks.
type PeakFrame struct {
	TCalc  time.Duration
	TRef   time.Time
	Peaks  []float64
	Levels []float64
}

type inputSample struct {
	calc   time.Duration
	ref    time.Time
	signal float64
}

// Stage owns the input queue and the single worker goroutine.
type Stage struct {
	params Params
	nStep  int

	mu        sync.Mutex
	cond      *sync.Cond
	input     []inputSample
	results   []PeakFrame
	interrupt bool
	running   bool

	wg sync.WaitGroup
}

// New validates params and constructs an idle stage; call Start to spawn
// the worker.
func New(p Params) (*Stage, error) {
	if p.Overlap < 0 || p.Overlap >= 1 {
		return nil, errs.ErrOverlapOutOfRange
	}
	if p.Delta < 0 {
		return nil, errs.ErrDeltaNegative
	}
	if len(p.SearchFreqs) == 0 {
		return nil, errs.ErrSearchFreqsEmpty
	}
	nStep := int(math.Round(p.SampleLengthMS * 1e-3 * p.Fs))
	if p.FreqResolutionN != 0 && p.FreqResolutionN < nStep {
		return nil, errs.ErrFFTSizeTooSmall
	}
	s := &Stage{
		params: p,
		nStep:  nStep,
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Put appends one sample to the input queue and wakes the worker. It
// never blocks beyond acquiring the queue mutex.
func (s *Stage) Put(calc time.Duration, ref time.Time, signal float64) {
	s.mu.Lock()
	s.input = append(s.input, inputSample{calc, ref, signal})
	s.mu.Unlock()
	s.cond.Signal()
}

// PutChunk is a convenience wrapper over Put for an entire parallel
// calc/ref/signal triple.
func (s *Stage) PutChunk(calc []time.Duration, ref []time.Time, signal []float64) {
	s.mu.Lock()
	for i := range signal {
		s.input = append(s.input, inputSample{calc[i], ref[i], signal[i]})
	}
	s.mu.Unlock()
	s.cond.Signal()
}

// TakePeaks drains and returns the accumulated result buffer.
func (s *Stage) TakePeaks() []PeakFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.results
	s.results = nil
	return out
}

// Start spawns the worker goroutine. Calling Start twice on a running
// stage is a no-op.
func (s *Stage) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.interrupt = false
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop requests the worker interrupt, wakes it, and waits for it to
// return.
func (s *Stage) Stop() {
	s.mu.Lock()
	s.interrupt = true
	s.mu.Unlock()
	s.cond.Broadcast()
	s.wg.Wait()
}

func (s *Stage) run(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		for len(s.input) < s.nStep && !s.interrupt {
			s.cond.Wait()
		}
		if s.interrupt {
			s.mu.Unlock()
			return
		}

		window := append([]inputSample(nil), s.input[:s.nStep]...)
		s.input = s.input[s.nStep:]
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		default:
		}

		frames, err := s.processWindow(window)
		if err != nil {
			if s.params.OnRuntimeError != nil {
				s.params.OnRuntimeError(&errs.StageError{Stage: "freqsearch", Err: err})
			}
			return
		}

		s.mu.Lock()
		s.results = append(s.results, frames...)
		s.mu.Unlock()
	}
}

func (s *Stage) processWindow(window []inputSample) ([]PeakFrame, error) {
	signal := make([]float64, len(window))
	for i, w := range window {
		signal[i] = w.signal
	}

	pages, freqs, err := speckit.Spectrogram(signal, s.nStep, s.params.Overlap, s.params.Fs, s.params.FreqResolutionN)
	if err != nil {
		return nil, err
	}

	step := int(float64(s.nStep) * (1 - s.params.Overlap))
	if step < 1 {
		step = 1
	}

	out := make([]PeakFrame, 0, len(pages))
	for pageIdx, psd := range pages {
		raw := append([]float64(nil), psd...)
		normalized := append([]float64(nil), psd...)
		speckit.NormalizeToMax(normalized)

		peaks, err := speckit.FindPeaks(normalized, s.params.Delta)
		if err != nil {
			return nil, err
		}

		var freqList, levelList []float64
		if len(peaks) <= s.params.MaxNumPeaks {
			for _, p := range peaks {
				freqList = append(freqList, freqs[p.Index])
				levelList = append(levelList, raw[p.Index])
			}
		}

		centerIdx := pageIdx*step + s.nStep/2
		var tOff time.Duration
		var tRefOff time.Duration
		if centerIdx < len(window) {
			tOff = window[centerIdx].calc
			tRefOff = window[centerIdx].ref.Sub(window[0].ref)
		} else {
			tOff = window[len(window)-1].calc
		}

		out = append(out, PeakFrame{
			TCalc:  tOff,
			TRef:   window[0].ref.Add(tRefOff),
			Peaks:  freqList,
			Levels: levelList,
		})
	}
	return out, nil
}
