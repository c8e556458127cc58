// Package capture is the audio-capture collaborator (spec.md §6): it
// opens a sound input device and delivers timestamped PCM chunks to the
// pipeline through a callback. Device opens the stream at the rate its
// caller passes and does not choose one itself; MaxStandardRate is the
// helper that picks the largest standard rate a device supports.
package capture

import (
	"time"

	"github.com/fmewatch/fmewatch/internal/sample"
)

// StandardRates is the set of sampling rates the "max standard sampling
// rate" enumerator picks from, per spec.md §6.
var StandardRates = []float64{11025, 22050, 44100, 48000, 88200, 96000}

// MaxStandardRate returns the largest entry of StandardRates that does
// not exceed deviceMax, or 0 if none fit.
func MaxStandardRate(deviceMax float64) float64 {
	best := 0.0
	for _, r := range StandardRates {
		if r <= deviceMax && r > best {
			best = r
		}
	}
	return best
}

// Collaborator is the capture-side interface; Device (built on portaudio)
// is its only implementation in this module.
type Collaborator interface {
	Start() error
	Stop() error
	IsRunning() bool
	// OnChunk registers the callback invoked with every captured chunk.
	// Must be called before Start.
	OnChunk(func(sample.Chunk))
}

// ClockSource abstracts the two clocks a Collaborator must stamp every
// sample with, so tests can inject a deterministic one.
type ClockSource interface {
	Calc() time.Duration
	Ref() time.Time
}

// SystemClock stamps with time.Since of a fixed epoch for Calc and
// time.Now for Ref, the production ClockSource.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock returns a ClockSource anchored at the current instant.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

func (c *SystemClock) Calc() time.Duration { return time.Since(c.epoch) }
func (c *SystemClock) Ref() time.Time      { return time.Now() }
