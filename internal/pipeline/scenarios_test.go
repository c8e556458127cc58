package pipeline

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmewatch/fmewatch/internal/freqsearch"
	"github.com/fmewatch/fmewatch/internal/notify"
	"github.com/fmewatch/fmewatch/internal/recording"
	"github.com/fmewatch/fmewatch/internal/tone"
	"github.com/fmewatch/fmewatch/internal/toneassembler"
)

type fakeSeqListener struct {
	got []notify.FoundSequence
}

func (f *fakeSeqListener) OnFoundSequence(s notify.FoundSequence) { f.got = append(f.got, s) }

type fakeRecListener struct {
	got []notify.RecordedData
}

func (f *fakeRecListener) OnRecordedData(r notify.RecordedData) { f.got = append(f.got, r) }

func taParams() toneassembler.Params {
	return toneassembler.Params{
		CodeLength:        5,
		ExcessTime:        5 * time.Millisecond,
		DtMaxTwice:        200 * time.Millisecond,
		MinLength:         40 * time.Millisecond,
		MaxLength:         200 * time.Millisecond,
		MaxToneLevelRatio: 2.0,
	}
}

func mkEvent(idx int, startMs int, level float64) tone.Event {
	return mkEventWithDuration(idx, startMs, level, 70)
}

func mkEventWithDuration(idx int, startMs int, level float64, durMs int) tone.Event {
	start := time.Duration(startMs) * time.Millisecond
	return tone.Event{
		ToneIndex: idx,
		CalcStart: start,
		CalcEnd:   start + time.Duration(durMs)*time.Millisecond,
		RefStart:  time.Unix(0, 0).Add(start),
		Frequency: 1000,
		AbsLevel:  level,
	}
}

func newTestSupervisor(t *testing.T, p Params) (*Supervisor, *fakeSeqListener, *fakeRecListener) {
	t.Helper()

	ta := toneassembler.New()
	require.NoError(t, ta.SetParams(taParams()))

	var recorded []recording.Excerpt
	rb := recording.New(recording.Params{
		RecordTimeLower:  10 * time.Millisecond,
		RecordTimeUpper:  20 * time.Millisecond,
		RecordTimeBuffer: time.Second,
	}, func(e recording.Excerpt) { recorded = append(recorded, e) })
	_ = recorded

	fs, err := freqsearch.New(freqsearch.Params{
		SampleLengthMS:  10,
		FreqResolutionN: 128,
		Fs:              8000,
		MaxNumPeaks:     5,
		Overlap:         0,
		Delta:           0.3,
		SearchFreqs:     []float64{1000},
	})
	require.NoError(t, err)

	sup := &Supervisor{
		logger:     log.New(io.Discard),
		params:     p,
		assembler:  ta,
		recBuffer:  rb,
		freqSearch: fs,
	}

	sl := &fakeSeqListener{}
	rl := &fakeRecListener{}
	sup.AddSequenceListener(sl)
	sup.AddRecordingListener(rl)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, ta.Start(ctx))
	t.Cleanup(ta.Stop)

	return sup, sl, rl
}

// TestScenario_CleanCode checks S1: five well-formed, evenly spaced tones
// produce exactly one on_found_sequence with the expected code.
func TestScenario_CleanCode(t *testing.T) {
	sup, sl, _ := newTestSupervisor(t, Params{
		MinDistanceRepetition: time.Second,
		RecordTimeUpper:       20 * time.Millisecond,
		FrameDuration:         70 * time.Millisecond,
	})

	for i, idx := range []int{1, 2, 3, 4, 5} {
		sup.assembler.Put(mkEvent(idx, i*70, 0.5))
	}

	require.Eventually(t, func() bool {
		sup.drainOnce()
		return len(sl.got) > 0
	}, time.Second, 5*time.Millisecond)

	require.Len(t, sl.got, 1)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, sl.got[0].Code)
}

// TestScenario_LongZeroRewrite checks S3: a long-zero tone in the code is
// rewritten to digit 0 before notification.
func TestScenario_LongZeroRewrite(t *testing.T) {
	sup, sl, _ := newTestSupervisor(t, Params{
		MinDistanceRepetition: time.Second,
		RecordTimeUpper:       20 * time.Millisecond,
		FrameDuration:         70 * time.Millisecond,
	})

	codes := []int{tone.LongZero, 2, 3, 4, 5}
	for i, idx := range codes {
		sup.assembler.Put(mkEvent(idx, i*70, 0.5))
	}

	require.Eventually(t, func() bool {
		sup.drainOnce()
		return len(sl.got) > 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []int{0, 2, 3, 4, 5}, sl.got[0].Code)
}

// TestScenario_RepetitionRewrite checks S2: a repetition tone in the code
// is rewritten to copy the immediately preceding (already-rewritten)
// tone's index before notification.
func TestScenario_RepetitionRewrite(t *testing.T) {
	sup, sl, _ := newTestSupervisor(t, Params{
		MinDistanceRepetition: time.Second,
		RecordTimeUpper:       20 * time.Millisecond,
		FrameDuration:         70 * time.Millisecond,
	})

	codes := []int{1, tone.Repetition, 3, 4, 5}
	for i, idx := range codes {
		sup.assembler.Put(mkEvent(idx, i*70, 0.5))
	}

	require.Eventually(t, func() bool {
		sup.drainOnce()
		return len(sl.got) > 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []int{1, 1, 3, 4, 5}, sl.got[0].Code)
}

// TestScenario_AmplitudeDropoutRejected checks S4: a tone whose level
// falls outside MaxToneLevelRatio of the sequence's first tone fails the
// relative-level gate, so the whole candidate is discarded rather than
// notified.
func TestScenario_AmplitudeDropoutRejected(t *testing.T) {
	sup, sl, _ := newTestSupervisor(t, Params{
		MinDistanceRepetition: time.Second,
		RecordTimeUpper:       20 * time.Millisecond,
		FrameDuration:         70 * time.Millisecond,
	})

	levels := []float64{0.5, 0.5, 5.0, 0.5, 0.5} // MaxToneLevelRatio is 2.0
	for i, idx := range []int{1, 2, 3, 4, 5} {
		sup.assembler.Put(mkEvent(idx, i*70, levels[i]))
	}

	for i := 0; i < 20; i++ {
		sup.drainOnce()
		time.Sleep(5 * time.Millisecond)
	}
	assert.Empty(t, sl.got)
}

// TestScenario_NearDuplicateSuppressed checks S5: a second occurrence of
// the same code within DtMaxTwice of the first is suppressed by the
// tone-assembler's own dedup state, never reaching on_found_sequence a
// second time.
func TestScenario_NearDuplicateSuppressed(t *testing.T) {
	sup, sl, _ := newTestSupervisor(t, Params{
		MinDistanceRepetition: time.Second,
		RecordTimeUpper:       20 * time.Millisecond,
		FrameDuration:         70 * time.Millisecond,
	})

	codes := []int{1, 2, 3, 4, 5}
	for i, idx := range codes {
		sup.assembler.Put(mkEvent(idx, i*70, 0.5))
	}
	require.Eventually(t, func() bool {
		sup.drainOnce()
		return len(sl.got) > 0
	}, time.Second, 5*time.Millisecond)
	require.Len(t, sl.got, 1)

	// A near-duplicate 10ms after the first sequence's start, well within
	// DtMaxTwice (200ms), must not produce a second notification.
	for i, idx := range codes {
		sup.assembler.Put(mkEvent(idx, 10+i*70, 0.5))
	}
	for i := 0; i < 20; i++ {
		sup.drainOnce()
		time.Sleep(5 * time.Millisecond)
	}
	assert.Len(t, sl.got, 1)
}

// TestScenario_TooShortToneRejected checks S6: tones shorter than
// MinLength (even after the excess-time fudge) are filtered out of
// consideration entirely, so a window built entirely of them never
// assembles a candidate sequence.
func TestScenario_TooShortToneRejected(t *testing.T) {
	sup, sl, _ := newTestSupervisor(t, Params{
		MinDistanceRepetition: time.Second,
		RecordTimeUpper:       20 * time.Millisecond,
		FrameDuration:         70 * time.Millisecond,
	})

	for i, idx := range []int{1, 2, 3, 4, 5} {
		sup.assembler.Put(mkEventWithDuration(idx, i*70, 0.5, 20)) // + 5ms excess = 25ms, below 40ms MinLength
	}

	for i := 0; i < 20; i++ {
		sup.drainOnce()
		time.Sleep(5 * time.Millisecond)
	}
	assert.Empty(t, sl.got)
}

func TestMatchTone_ExactAndWithinTolerance(t *testing.T) {
	sup := &Supervisor{params: Params{
		SearchFreqs: map[int]float64{0: 1000, 1: 1100},
		FreqTolHz:   10,
	}}

	idx, ok := sup.matchTone(1000)
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	idx, ok = sup.matchTone(1005)
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	_, ok = sup.matchTone(2000)
	assert.False(t, ok)
}

func TestBlacklist_SuppressesRepetitionWithinWindow(t *testing.T) {
	sup := &Supervisor{params: Params{MinDistanceRepetition: time.Second, RecordTimeUpper: time.Second}}

	sup.mu.Lock()
	sup.pruneBlacklistLocked(0)
	suppressed := sup.isBlacklistedLocked("1,2,3,", 0)
	sup.blacklist = append(sup.blacklist, blacklistEntry{t: 0, code: "1,2,3,"})
	sup.mu.Unlock()
	assert.False(t, suppressed)

	sup.mu.Lock()
	sup.pruneBlacklistLocked(500 * time.Millisecond)
	suppressed = sup.isBlacklistedLocked("1,2,3,", 500*time.Millisecond)
	sup.mu.Unlock()
	assert.True(t, suppressed)
}

func TestBlacklist_PrunesOldEntries(t *testing.T) {
	sup := &Supervisor{params: Params{MinDistanceRepetition: time.Second, RecordTimeUpper: time.Second}}
	sup.blacklist = []blacklistEntry{{t: 0, code: "1,"}}

	sup.mu.Lock()
	sup.pruneBlacklistLocked(10 * time.Second) // well past max(1s,1s)*2 = 2s
	sup.mu.Unlock()

	assert.Empty(t, sup.blacklist)
}

func TestWhitelisted_EmptyMeansAllAllowed(t *testing.T) {
	sup := &Supervisor{}
	assert.True(t, sup.whitelisted("1,2,3,"))
}

func TestWhitelisted_RestrictsToListedCodes(t *testing.T) {
	sup := &Supervisor{params: Params{Whitelist: []string{"1,2,3,"}}}
	assert.True(t, sup.whitelisted("1,2,3,"))
	assert.False(t, sup.whitelisted("9,9,9,"))
}
