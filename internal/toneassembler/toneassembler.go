// Package toneassembler implements C7: the sliding-window state machine
// that groups tone events into validated five-tone sequences, applying
// the length/period filter, the relative-amplitude gate, the long-zero
// and repetition rewrites, and near-duplicate suppression.
package toneassembler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fmewatch/fmewatch/internal/errs"
	"github.com/fmewatch/fmewatch/internal/tone"
)

// state is C7's per-stage lifecycle, per spec.md §4.7's Idle/Running/
// Stopping machine.
type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopping
)

// Params are admission-time parameters; SetParams fails with ErrInUse if
// the stage is Running.
type Params struct {
	CodeLength         int
	ExcessTime         time.Duration
	DtMaxTwice         time.Duration
	MinLength          time.Duration
	MaxLength          time.Duration
	MaxToneLevelRatio  float64

	// OnRuntimeError receives a fatal worker error, wrapped as
	// *errs.StageError, exactly once, just before the worker exits.
	OnRuntimeError func(error)
}

// Stage owns the input queue of tone events and the worker goroutine
// that slides a length-L analysis window across it.
type Stage struct {
	mu     sync.Mutex
	cond   *sync.Cond
	state  state
	params Params

	buffer    []tone.Event
	lastCode  []int
	lastStart time.Duration
	haveLast  bool

	sequences []tone.Sequence
	interrupt bool

	wg sync.WaitGroup
}

// New constructs an Idle stage.
func New() *Stage {
	s := &Stage{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetParams admits parameters and transitions Idle -> Running is done
// separately by Start; SetParams itself only stores parameters and fails
// if the stage is currently Running.
func (s *Stage) SetParams(p Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateRunning {
		return errs.ErrInUse
	}
	s.params = p
	return nil
}

// Put appends a tone event to the input buffer and wakes the worker.
func (s *Stage) Put(e tone.Event) {
	s.mu.Lock()
	s.buffer = append(s.buffer, e)
	s.mu.Unlock()
	s.cond.Signal()
}

// TakeSequences drains and returns confirmed sequences emitted so far.
func (s *Stage) TakeSequences() []tone.Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sequences
	s.sequences = nil
	return out
}

// Start transitions Idle -> Running and spawns the worker.
func (s *Stage) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return errs.ErrInUse
	}
	if s.params.CodeLength == 0 {
		s.mu.Unlock()
		return errs.ErrNotInitialized
	}
	s.state = stateRunning
	s.interrupt = false
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop transitions Running -> Stopping -> Idle: requests interruption,
// wakes the worker, and waits for it to return.
func (s *Stage) Stop() {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.state = stateStopping
	s.interrupt = true
	s.mu.Unlock()
	s.cond.Broadcast()
	s.wg.Wait()

	s.mu.Lock()
	s.state = stateIdle
	s.mu.Unlock()
}

func (s *Stage) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		L := s.params.CodeLength
		for len(s.buffer) < L && !s.interrupt {
			s.cond.Wait()
		}
		if s.interrupt {
			s.mu.Unlock()
			return
		}
		window := append([]tone.Event(nil), s.buffer[:L]...)
		s.buffer = s.buffer[1:]
		params := s.params
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		default:
		}

		seq, ok, err := s.analyze(window, params)
		if err != nil {
			if params.OnRuntimeError != nil {
				params.OnRuntimeError(&errs.StageError{Stage: "toneassembler", Err: err})
			}
			return
		}
		if !ok {
			continue
		}

		s.mu.Lock()
		s.sequences = append(s.sequences, seq)
		s.mu.Unlock()
	}
}

// analyze runs the seven-step algorithm of spec.md §4.7 over one
// analysis window, returning the confirmed sequence (if any survived
// every gate).
func (s *Stage) analyze(window []tone.Event, p Params) (tone.Sequence, bool, error) {
	// 1. Group by tone index, sorted within each group by start time —
	// used only to condense overlapping same-index events; since the
	// window already holds distinct events in arrival order here, the
	// condensing step is a pass that merges time-overlapping entries of
	// the same tone_index before the length test.
	byIndex := map[int][]tone.Event{}
	for _, e := range window {
		byIndex[e.ToneIndex] = append(byIndex[e.ToneIndex], e)
	}
	condensed := make([]tone.Event, 0, len(window))
	for _, group := range byIndex {
		sort.Slice(group, func(i, j int) bool { return group[i].CalcStart < group[j].CalcStart })
		condensed = append(condensed, condenseOverlapping(group)...)
	}
	sort.Slice(condensed, func(i, j int) bool { return condensed[i].CalcStart < condensed[j].CalcStart })

	// 2. Per-event period.
	records := make([]tone.Record, len(condensed))
	for i, e := range condensed {
		length := e.Duration() + p.ExcessTime
		period := length
		if i+1 < len(condensed) {
			gap := condensed[i+1].CalcStart - e.CalcStart
			if gap > length {
				period = gap
			}
		}
		records[i] = tone.Record{
			RefStart:  e.RefStart,
			CalcStart: e.CalcStart,
			ToneIndex: e.ToneIndex,
			Length:    length,
			Period:    period,
			Frequency: e.Frequency,
			AbsLevel:  e.AbsLevel,
		}
	}

	// 3. Filter by length.
	filtered := records[:0:0]
	for _, r := range records {
		if r.Length > p.MinLength && r.Length < p.MaxLength {
			filtered = append(filtered, r)
		}
	}

	// 4. Emit candidate sequences by walking the ordered list.
	var candidate []tone.Record
	var best []tone.Record
	for _, r := range filtered {
		if candidate == nil {
			candidate = []tone.Record{r}
			continue
		}
		candidate = append(candidate, r)
		periodOK := r.Period > p.MinLength && r.Period < p.MaxLength
		if len(candidate) == p.CodeLength {
			best = append([]tone.Record(nil), candidate...)
			candidate = nil
			continue
		}
		if !periodOK {
			candidate = nil
		}
	}
	if len(best) != p.CodeLength {
		return tone.Sequence{}, false, nil
	}

	// 5. Relative-level gate.
	R := p.MaxToneLevelRatio
	for i := 1; i < len(best); i++ {
		ratio := best[i].AbsLevel / best[0].AbsLevel
		if ratio < 1/R || ratio > R {
			return tone.Sequence{}, false, nil
		}
	}

	// 6. Special-tone rewriting.
	rewritten := append([]tone.Record(nil), best...)
	if !tone.RewriteSpecial(rewritten) {
		return tone.Sequence{}, false, nil
	}

	seq := tone.Sequence{RefStart: rewritten[0].RefStart, Tones: rewritten}
	code := seq.Code()

	// 7. Near-duplicate suppression.
	s.mu.Lock()
	suppress := s.haveLast && equalCode(code, s.lastCode) && rewritten[0].CalcStart-s.lastStart <= p.DtMaxTwice
	if !suppress {
		s.lastCode = code
		s.lastStart = rewritten[0].CalcStart
		s.haveLast = true
	}
	s.mu.Unlock()
	if suppress {
		return tone.Sequence{}, false, nil
	}

	return seq, true, nil
}

// condenseOverlapping merges same-tone-index events whose time spans
// overlap into a single event spanning the union, keeping the earliest
// start and the highest level as representative.
func condenseOverlapping(group []tone.Event) []tone.Event {
	if len(group) == 0 {
		return nil
	}
	out := []tone.Event{group[0]}
	for _, e := range group[1:] {
		last := &out[len(out)-1]
		if e.CalcStart <= last.CalcEnd {
			if e.CalcEnd > last.CalcEnd {
				last.CalcEnd = e.CalcEnd
			}
			if e.AbsLevel > last.AbsLevel {
				last.AbsLevel = e.AbsLevel
				last.Frequency = e.Frequency
			}
			continue
		}
		out = append(out, e)
	}
	return out
}

func equalCode(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
