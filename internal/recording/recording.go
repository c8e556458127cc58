// Package recording implements C8: a ring buffer over the rec-stream that
// slices a bounded audio excerpt anchored on each confirmed sequence.
package recording

import (
	"math"
	"sync"
	"time"

	"github.com/fmewatch/fmewatch/internal/filterdesign"
	"github.com/fmewatch/fmewatch/internal/firfilter"
	"github.com/fmewatch/fmewatch/internal/tone"
)

// Params are admission-time parameters for the ring.
type Params struct {
	// RecordTimeLower is the pre-anchor guard: how much audio before the
	// anchor must already be buffered.
	RecordTimeLower time.Duration
	// RecordTimeUpper is the total excerpt duration.
	RecordTimeUpper time.Duration
	StoringFs       float64
	// SourceFs is the rate of the rec-stream samples pushed via Push. If
	// it exceeds StoringFs, Slice resamples each excerpt down to
	// StoringFs before handing it to onRecorded.
	SourceFs float64
	// RecordTimeBuffer bounds how much history the ring retains beyond
	// what a single excerpt needs.
	RecordTimeBuffer time.Duration
}

// Excerpt is the sliced audio handed to the audio-sink collaborator,
// together with whether it had to be truncated for lack of data.
type Excerpt struct {
	Sequence  tone.Sequence
	Samples   []float64
	Truncated bool
}

type ringSample struct {
	calc   time.Duration
	signal float64
}

// Buffer owns the ring and blocks sequence slicing behind a bounded wait
// when the ring has not yet accumulated enough post-anchor audio.
//
// The bounded-wait policy this spec leaves open is resolved here as: wait
// up to RecordTimeUpper-RecordTimeLower of wall-clock time for enough
// post-anchor samples to arrive, polling every 10ms; if the deadline
// passes first, emit whatever is available and mark Truncated.
type Buffer struct {
	mu   sync.Mutex
	ring []ringSample
	p    Params

	// storingKernel/storingDown are populated when SourceFs exceeds
	// StoringFs; each Slice call builds a fresh one-shot FIR filter from
	// this kernel, since an excerpt is an independent slice of audio
	// rather than a continuous stream that should carry filter state
	// across calls.
	storingKernel []float64
	storingDown   int

	onRecorded func(Excerpt)
}

// New constructs a Buffer. onRecorded is called once per confirmed
// sequence handed to Slice, delivering the recording excerpt.
//
// Per spec.md §4.8 step 1, if SourceFs exceeds StoringFs, the ring
// contents are resampled to StoringFs before being handed to
// onRecorded. The anti-aliasing kernel is designed once here, the way
// C3/C5 are wired elsewhere: a Hamming-windowed low-pass (C3) sized by
// the decimation factor, fed to a fresh C1 FIR filter per excerpt.
func New(p Params, onRecorded func(Excerpt)) *Buffer {
	b := &Buffer{p: p, onRecorded: onRecorded}
	if p.StoringFs > 0 && p.SourceFs > p.StoringFs {
		down := int(math.Round(p.SourceFs / p.StoringFs))
		if down < 1 {
			down = 1
		}
		order := 8 * down
		if order < 40 {
			order = 40
		}
		if order%2 != 0 {
			order++
		}
		if kernel, err := filterdesign.DesignLowpassFromOrder(order, 1/float64(down)); err == nil {
			b.storingKernel = kernel
			b.storingDown = down
		}
	}
	return b
}

// resample decimates samples to StoringFs using the anti-aliasing kernel
// built in New, or returns samples unchanged if no resampling is needed
// (or the kernel could not be designed).
func (b *Buffer) resample(samples []float64) []float64 {
	if b.storingKernel == nil || b.storingDown <= 1 {
		return samples
	}
	f, err := firfilter.New(b.storingKernel, 1, b.storingDown, 1e-6)
	if err != nil {
		return samples
	}
	return f.Process(samples)
}

// Push appends rec-stream samples to the ring, trimming anything older
// than RecordTimeBuffer+RecordTimeUpper before the newest sample.
func (b *Buffer) Push(calc []time.Duration, signal []float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range signal {
		b.ring = append(b.ring, ringSample{calc[i], signal[i]})
	}
	if len(b.ring) == 0 {
		return
	}
	horizon := b.p.RecordTimeBuffer + b.p.RecordTimeUpper
	cutoff := b.ring[len(b.ring)-1].calc - horizon
	i := 0
	for i < len(b.ring) && b.ring[i].calc < cutoff {
		i++
	}
	if i > 0 {
		b.ring = append([]ringSample(nil), b.ring[i:]...)
	}
}

// Slice anchors a recording excerpt on seq's first-tone start and
// delivers it through onRecorded once the ring holds enough post-anchor
// audio or the bounded wait expires, whichever comes first.
//
// anchor is the CalcStart of the sequence's first tone (a calc time rather
// than the wall-clock RefStart, since the ring is indexed by calc time for
// precision).
func (b *Buffer) Slice(seq tone.Sequence, anchor time.Duration) {
	deadline := time.Now().Add(b.p.RecordTimeUpper - b.p.RecordTimeLower)
	windowStart := anchor - b.p.RecordTimeLower
	windowEnd := windowStart + b.p.RecordTimeUpper

	for {
		b.mu.Lock()
		if len(b.ring) > 0 && b.ring[len(b.ring)-1].calc >= windowEnd {
			samples := b.resample(b.extractLocked(windowStart, windowEnd))
			b.mu.Unlock()
			if b.onRecorded != nil {
				b.onRecorded(Excerpt{Sequence: seq, Samples: samples, Truncated: false})
			}
			return
		}
		timedOut := time.Now().After(deadline)
		if timedOut {
			samples := b.resample(b.extractLocked(windowStart, windowEnd))
			b.mu.Unlock()
			if b.onRecorded != nil {
				b.onRecorded(Excerpt{Sequence: seq, Samples: samples, Truncated: true})
			}
			return
		}
		b.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
}

func (b *Buffer) extractLocked(start, end time.Duration) []float64 {
	var out []float64
	for _, s := range b.ring {
		if s.calc >= start && s.calc < end {
			out = append(out, s.signal)
		}
	}
	return out
}
