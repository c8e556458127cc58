// Package notify holds the notification collaborators (spec.md §6):
// consumers of on_found_sequence (delivered right after C7 emission) and
// on_recorded_data (delivered after C8 completes an excerpt).
package notify

import (
	"github.com/fmewatch/fmewatch/internal/tone"
)

// FoundSequence is the payload of on_found_sequence.
type FoundSequence struct {
	RefStart string
	Code     []int
}

// RecordedData is the payload of on_recorded_data.
type RecordedData struct {
	Sequence    FoundSequence
	AudioFileRef string
	Truncated   bool
}

// SequenceListener receives a confirmed sequence immediately after C7
// emits it, before any recording excerpt exists.
type SequenceListener interface {
	OnFoundSequence(FoundSequence)
}

// RecordingListener receives the paired sequence and excerpt reference
// once C8 finishes slicing.
type RecordingListener interface {
	OnRecordedData(RecordedData)
}

// FromSequence converts a tone.Sequence into the wire-shaped
// notification payload.
func FromSequence(s tone.Sequence) FoundSequence {
	return FoundSequence{RefStart: s.RefStart.Format("2006-01-02T15:04:05.000Z07:00"), Code: s.Code()}
}
