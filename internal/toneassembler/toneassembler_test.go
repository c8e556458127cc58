package toneassembler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmewatch/fmewatch/internal/tone"
)

func baseParams() Params {
	return Params{
		CodeLength:        5,
		ExcessTime:        5 * time.Millisecond,
		DtMaxTwice:        200 * time.Millisecond,
		MinLength:         40 * time.Millisecond,
		MaxLength:         200 * time.Millisecond,
		MaxToneLevelRatio: 2.0,
	}
}

func mkEvent(idx int, startMs int, durMs int, level float64) tone.Event {
	start := time.Duration(startMs) * time.Millisecond
	end := start + time.Duration(durMs)*time.Millisecond
	return tone.Event{
		ToneIndex: idx,
		CalcStart: start,
		CalcEnd:   end,
		RefStart:  time.Unix(0, 0).Add(start),
		Frequency: 1000,
		AbsLevel:  level,
	}
}

func TestCleanSequence(t *testing.T) {
	s := New()
	require.NoError(t, s.SetParams(baseParams()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	events := []tone.Event{
		mkEvent(1, 0, 70, 0.5),
		mkEvent(2, 70, 70, 0.5),
		mkEvent(3, 140, 70, 0.5),
		mkEvent(4, 210, 70, 0.5),
		mkEvent(5, 280, 70, 0.5),
	}
	for _, e := range events {
		s.Put(e)
	}

	var got []tone.Sequence
	require.Eventually(t, func() bool {
		got = append(got, s.TakeSequences()...)
		return len(got) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got[0].Code())
}

// TestRewriteIdempotence checks invariant 11: re-applying the rewrite
// rules to an already-rewritten sequence changes nothing.
func TestRewriteIdempotence(t *testing.T) {
	records := []tone.Record{
		{ToneIndex: tone.LongZero},
		{ToneIndex: 3},
		{ToneIndex: tone.Repetition},
		{ToneIndex: 4},
		{ToneIndex: 5},
	}
	ok := tone.RewriteSpecial(records)
	require.True(t, ok)
	first := append([]tone.Record(nil), records...)

	ok = tone.RewriteSpecial(records)
	require.True(t, ok)
	assert.Equal(t, first, records)
}

func TestRewriteSpecial_RepetitionFirstIsRejected(t *testing.T) {
	records := []tone.Record{{ToneIndex: tone.Repetition}, {ToneIndex: 1}}
	ok := tone.RewriteSpecial(records)
	assert.False(t, ok)
}

func TestSetParams_FailsWhileRunning(t *testing.T) {
	s := New()
	require.NoError(t, s.SetParams(baseParams()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	err := s.SetParams(baseParams())
	assert.Error(t, err)
}
