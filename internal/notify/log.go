package notify

import "github.com/charmbracelet/log"

// LogNotifier is a SequenceListener/RecordingListener pair that simply
// logs — the console-output ambient concern from spec.md §1, using the
// supervisor's already-constructed logger handle rather than process-wide
// stdout state.
type LogNotifier struct {
	Logger *log.Logger
}

func (n *LogNotifier) OnFoundSequence(s FoundSequence) {
	n.Logger.Info("sequence found", "t_ref_start", s.RefStart, "code", s.Code)
}

func (n *LogNotifier) OnRecordedData(r RecordedData) {
	if r.Truncated {
		n.Logger.Warn("recording truncated", "code", r.Sequence.Code, "file", r.AudioFileRef)
		return
	}
	n.Logger.Info("recording saved", "code", r.Sequence.Code, "file", r.AudioFileRef)
}
