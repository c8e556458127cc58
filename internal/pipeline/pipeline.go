// Package pipeline implements C9, the supervisor: it wires the resample,
// frequency-search, tone-assembler, and recording stages together,
// propagates fatal worker errors into a pipeline stop, and enforces the
// blacklist/whitelist policy spec.md §4.9 describes. Admission-time
// parameter validation is left to each stage's own constructor.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/fmewatch/fmewatch/internal/audiosink"
	"github.com/fmewatch/fmewatch/internal/freqsearch"
	"github.com/fmewatch/fmewatch/internal/notify"
	"github.com/fmewatch/fmewatch/internal/recording"
	"github.com/fmewatch/fmewatch/internal/resample"
	"github.com/fmewatch/fmewatch/internal/sample"
	"github.com/fmewatch/fmewatch/internal/tone"
	"github.com/fmewatch/fmewatch/internal/toneassembler"
)

// blacklistEntry is one recently admitted sequence (notified or
// suppressed), pruned on
// each admission once it is older than max(MinDistanceRepetition,
// RecordTimeUpper) * 2 (spec.md §4.9).
type blacklistEntry struct {
	t    time.Duration
	code string
}

// Params bundles every admission-time knob C9 needs beyond what it
// forwards verbatim to C6/C7/C8.
type Params struct {
	MinDistanceRepetition time.Duration
	RecordTimeUpper       time.Duration
	Whitelist             []string // empty = all codes allowed

	// RecordingsDir is where RecordingCompleted asks the audio sink to
	// write each excerpt; created on demand.
	RecordingsDir string

	SearchFreqs map[int]float64 // tone_index -> Hz, for peak-to-tone matching
	FreqTolHz   float64

	// FrameDuration is one STFT page's time span, used to give each
	// mapped tone event a non-zero extent so the tone-assembler's
	// overlap-condensing step can merge consecutive frames of the same
	// tone into one event before the duration test.
	FrameDuration time.Duration
}

// Supervisor owns the four stages and the blacklist.
type Supervisor struct {
	logger *log.Logger
	params Params

	downsampler *resample.Downsampler
	freqSearch  *freqsearch.Stage
	assembler   *toneassembler.Stage
	recBuffer   *recording.Buffer
	sink        audiosink.Sink

	seqListeners []notify.SequenceListener
	recListeners []notify.RecordingListener

	mu        sync.Mutex
	blacklist []blacklistEntry

	fatalErr error
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// New wires a Supervisor around already-constructed stages. Stage
// construction (and therefore configuration-error reporting) happens in
// the caller, one admission call per stage, exactly as spec.md §7
// prescribes: "configuration errors are reported synchronously from the
// admission call that introduced them."
func New(logger *log.Logger, params Params, ds *resample.Downsampler, fs *freqsearch.Stage, ta *toneassembler.Stage, rb *recording.Buffer, sink audiosink.Sink) *Supervisor {
	return &Supervisor{
		logger:      logger,
		params:      params,
		downsampler: ds,
		freqSearch:  fs,
		assembler:   ta,
		recBuffer:   rb,
		sink:        sink,
	}
}

// AddSequenceListener registers a collaborator for on_found_sequence.
func (sup *Supervisor) AddSequenceListener(l notify.SequenceListener) {
	sup.seqListeners = append(sup.seqListeners, l)
}

// AddRecordingListener registers a collaborator for on_recorded_data.
func (sup *Supervisor) AddRecordingListener(l notify.RecordingListener) {
	sup.recListeners = append(sup.recListeners, l)
}

// Start spawns the worker stages and the supervisor's own drain loop.
func (sup *Supervisor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	sup.cancel = cancel

	sup.freqSearch.Start(ctx)
	if err := sup.assembler.Start(ctx); err != nil {
		cancel()
		return err
	}

	go sup.drainLoop(ctx)
	return nil
}

// Stop triggers cooperative shutdown of every worker and waits for them
// to return.
func (sup *Supervisor) Stop() {
	sup.stopOnce.Do(func() {
		if sup.cancel != nil {
			sup.cancel()
		}
		sup.freqSearch.Stop()
		sup.assembler.Stop()
	})
}

// Err returns the fatal error that triggered shutdown, if any.
func (sup *Supervisor) Err() error {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	return sup.fatalErr
}

// Fail reports a fatal error raised outside the supervisor's own workers
// (e.g. a stage's runtime_error_callback) and triggers the same shutdown
// path a worker-fatal error would.
func (sup *Supervisor) Fail(err error) {
	sup.onFatal(err)
}

func (sup *Supervisor) onFatal(err error) {
	sup.mu.Lock()
	if sup.fatalErr == nil {
		sup.fatalErr = err
	}
	sup.mu.Unlock()
	sup.logger.Error("stage failed, stopping pipeline", "err", err)
	sup.Stop()
}

// Feed runs one captured chunk through the downsampler and pushes the
// results into the frequency-search queue and the recording ring. Draining
// peaks and confirmed sequences happens separately in drainLoop. This is
// the per-capture-callback entry point a cmd/fmewatch main loop calls.
func (sup *Supervisor) Feed(chunk sample.Chunk) {
	out := sup.downsampler.Process(chunk)
	sup.freqSearch.PutChunk(out.Proc.Calc, out.Proc.Ref, out.Proc.Signal)
	sup.recBuffer.Push(out.Rec.Calc, out.Rec.Signal)
}

// RecordingCompleted is recording.Buffer's completion callback, wired up
// by the caller constructing the Buffer (see cmd/fmewatch's pattern of
// forward-declaring sup for OnRuntimeError callbacks). It persists the
// excerpt through the configured audio sink and dispatches on_recorded_data
// (spec.md §6) to every registered RecordingListener, centralizing both
// concerns here rather than in main.go.
func (sup *Supervisor) RecordingCompleted(e recording.Excerpt) {
	payload := notify.RecordedData{
		Sequence:  notify.FromSequence(e.Sequence),
		Truncated: e.Truncated,
	}

	if sup.sink != nil {
		dir := sup.params.RecordingsDir
		if dir == "" {
			dir = "recordings"
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			sup.logger.Error("failed to create recordings directory", "err", err)
		} else {
			name := e.Sequence.RefStart.Format("20060102-150405.000") + sup.sink.FileExtension()
			path := filepath.Join(dir, name)
			if err := sup.sink.Save(path, e.Samples, false); err != nil {
				sup.logger.Error("failed to save recording excerpt", "err", err, "path", path)
			} else {
				payload.AudioFileRef = path
			}
		}
	}

	for _, l := range sup.recListeners {
		l.OnRecordedData(payload)
	}
}

// drainLoop periodically drains peak frames into tone events, feeds the
// tone-assembler, and drains confirmed sequences into the notification
// and recording pipeline. It is a polling loop rather than another
// condition-variable wait because its two upstream sources (C6's and
// C7's result buffers) are drained independently of their own wake
// points; spec.md leaves the supervisor's own scheduling unspecified.
func (sup *Supervisor) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sup.drainOnce()
		}
	}
}

func (sup *Supervisor) drainOnce() {
	for _, frame := range sup.freqSearch.TakePeaks() {
		for i, freq := range frame.Peaks {
			idx, ok := sup.matchTone(freq)
			if !ok {
				continue
			}
			sup.assembler.Put(tone.Event{
				ToneIndex: idx,
				RefStart:  frame.TRef,
				CalcStart: frame.TCalc,
				CalcEnd:   frame.TCalc + sup.params.FrameDuration,
				Frequency: freq,
				AbsLevel:  frame.Levels[i],
			})
		}
	}

	for _, seq := range sup.assembler.TakeSequences() {
		sup.admit(seq)
	}
}

func (sup *Supervisor) matchTone(freq float64) (int, bool) {
	best := -1
	bestDiff := sup.params.FreqTolHz
	for idx, f := range sup.params.SearchFreqs {
		d := f - freq
		if d < 0 {
			d = -d
		}
		if d <= bestDiff {
			bestDiff = d
			best = idx
		}
	}
	return best, best >= 0
}

// admit applies the blacklist/whitelist policy, emits on_found_sequence,
// prunes the blacklist, and kicks off the paired recording excerpt.
func (sup *Supervisor) admit(seq tone.Sequence) {
	code := codeKey(seq.Code())

	sup.mu.Lock()
	sup.pruneBlacklistLocked(seq.Tones[0].CalcStart)
	suppressed := sup.isBlacklistedLocked(code, seq.Tones[0].CalcStart)
	sup.blacklist = append(sup.blacklist, blacklistEntry{t: seq.Tones[0].CalcStart, code: code})
	sup.mu.Unlock()

	if suppressed {
		return
	}
	if !sup.whitelisted(code) {
		return
	}

	payload := notify.FromSequence(seq)
	for _, l := range sup.seqListeners {
		l.OnFoundSequence(payload)
	}

	sup.recBuffer.Slice(seq, seq.Tones[0].CalcStart)
}

func (sup *Supervisor) whitelisted(code string) bool {
	if len(sup.params.Whitelist) == 0 {
		return true
	}
	for _, c := range sup.params.Whitelist {
		if c == code {
			return true
		}
	}
	return false
}

// pruneBlacklistLocked drops entries older than
// max(MinDistanceRepetition, RecordTimeUpper) * 2 relative to now,
// called on every admission rather than on a timer (spec.md §4.9,
// original_source/Middleware/ExecutionDetectorRuntime.cpp ties it to
// admission the same way).
func (sup *Supervisor) pruneBlacklistLocked(now time.Duration) {
	horizon := sup.params.MinDistanceRepetition
	if sup.params.RecordTimeUpper > horizon {
		horizon = sup.params.RecordTimeUpper
	}
	horizon *= 2

	kept := sup.blacklist[:0]
	for _, e := range sup.blacklist {
		if now-e.t <= horizon {
			kept = append(kept, e)
		}
	}
	sup.blacklist = kept
}

func (sup *Supervisor) isBlacklistedLocked(code string, now time.Duration) bool {
	for _, e := range sup.blacklist {
		if e.code == code && now-e.t <= sup.params.MinDistanceRepetition {
			return true
		}
	}
	return false
}

func codeKey(code []int) string {
	b := make([]byte, 0, len(code)*2)
	for _, c := range code {
		b = append(b, byte('0'+c), ',')
	}
	return string(b)
}
