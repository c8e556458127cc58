// Package tone holds the detector's tone-level data model: the FME tone
// table and the three structures that accumulate from a raw spectral peak
// into a validated member of a five-tone sequence.
package tone

import "time"

// Special tone indices in the FME table, beyond the ten digits 0-9.
const (
	LongZero   = 10 // "0̂", rewritten to digit 0 once a sequence is confirmed
	Repetition = 11 // "R", rewritten to the immediately preceding tone's index
)

// DefaultFrequencies is the standard TR-BOS FME tone-frequency table,
// index i maps to the frequency (Hz) of tone_index i. Index 11
// (repetition) conventionally sits at 2600 Hz in the field; index 10
// (long zero) shares digit 0's frequency band in most deployments but is
// kept distinct here because it is matched and rewritten separately.
var DefaultFrequencies = map[int]float64{
	0: 2400, 1: 1060, 2: 1160, 3: 1270, 4: 1400,
	5: 1530, 6: 1670, 7: 1830, 8: 2000, 9: 2200,
	LongZero: 1015, Repetition: 2600,
}

// Event is a candidate tone of interest, produced by the supervisor
// mapping a peak-frame's peaks against the configured frequency table
// before handing it to the tone-assembler.
type Event struct {
	ToneIndex  int
	RefStart   time.Time
	CalcStart  time.Duration
	CalcEnd    time.Duration
	Frequency  float64
	AbsLevel   float64
}

// Duration is the raw duration of the event before the excess-time fudge
// is added.
func (e Event) Duration() time.Duration {
	return e.CalcEnd - e.CalcStart
}

// Record is the output of the per-event length/period check: an Event
// that passed the length band, annotated with its period to the next
// event in sort order.
type Record struct {
	RefStart  time.Time
	CalcStart time.Duration
	ToneIndex int
	Length    time.Duration
	Period    time.Duration
	Frequency float64
	AbsLevel  float64
}

// Sequence is L validated, ordered Records with the special-tone rewrite
// already applied to ToneIndex.
type Sequence struct {
	RefStart time.Time
	Tones    []Record
}

// Code returns the rewritten tone-index digits of the sequence, in order.
func (s Sequence) Code() []int {
	code := make([]int, len(s.Tones))
	for i, t := range s.Tones {
		code[i] = t.ToneIndex
	}
	return code
}

// RewriteSpecial applies the two special-tone rules in place: LongZero
// becomes 0, Repetition becomes the preceding (already-rewritten) tone's
// index. Returns false (and leaves tones unrewritten from that point on)
// if Repetition is the first tone, since there is no preceding tone to
// copy — callers must discard such a sequence.
func RewriteSpecial(tones []Record) bool {
	for i := range tones {
		switch tones[i].ToneIndex {
		case LongZero:
			tones[i].ToneIndex = 0
		case Repetition:
			if i == 0 {
				return false
			}
			tones[i].ToneIndex = tones[i-1].ToneIndex
		}
	}
	return true
}
