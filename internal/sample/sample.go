// Package sample holds the detector's smallest data-model types: the
// dual-clock audio sample and the chunk of samples a capture callback
// hands to the pipeline.
//
// Every sample carries two timestamps instead of one because the capture
// device's wall clock drifts and jitters at millisecond scale while
// ordering and duration measurements need sub-millisecond accuracy.
// Downsampling must decimate both clocks in lock-step with the signal;
// none of the filters below ever synthesize one from the other.
package sample

import "time"

// Chunk is an ordered, FIFO sequence of samples produced by a single
// capture callback. Capture callbacks do not promise a fixed size.
type Chunk struct {
	// Calc is the host monotonic clock, one entry per sample, strictly
	// increasing. Valid only for relative (duration) arithmetic.
	Calc []time.Duration

	// Ref is the wall clock (UTC), one entry per sample, used only for
	// user-facing labeling. Device-dependent precision: do not assume
	// it increases by exactly 1/fs between samples.
	Ref []time.Time

	// Signal holds the audio samples themselves, in [-1, 1].
	Signal []float64
}

// Len reports the number of samples in the chunk. A Chunk's three slices
// must always have equal length; callers constructing a Chunk are
// responsible for that invariant, there is no defensive check in the hot
// path.
func (c Chunk) Len() int {
	return len(c.Signal)
}

// Slice returns the sub-chunk [i:j), sharing the underlying arrays.
func (c Chunk) Slice(i, j int) Chunk {
	return Chunk{
		Calc:   c.Calc[i:j],
		Ref:    c.Ref[i:j],
		Signal: c.Signal[i:j],
	}
}

// Append concatenates two chunks into freshly allocated slices, so the
// result shares no backing array with a or b.
func Append(a, b Chunk) Chunk {
	return Chunk{
		Calc:   append(append([]time.Duration{}, a.Calc...), b.Calc...),
		Ref:    append(append([]time.Time{}, a.Ref...), b.Ref...),
		Signal: append(append([]float64{}, a.Signal...), b.Signal...),
	}
}
