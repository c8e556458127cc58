package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMaxStandardRate(t *testing.T) {
	assert.Equal(t, 48000.0, MaxStandardRate(48000))
	assert.Equal(t, 44100.0, MaxStandardRate(47999))
	assert.Equal(t, 96000.0, MaxStandardRate(200000))
	assert.Equal(t, 0.0, MaxStandardRate(100))
}

func TestSystemClock_CalcIsMonotonicFromEpoch(t *testing.T) {
	c := NewSystemClock()
	first := c.Calc()
	time.Sleep(time.Millisecond)
	second := c.Calc()
	assert.Greater(t, second, first)
}

func TestSystemClock_RefIsWallClock(t *testing.T) {
	c := NewSystemClock()
	before := time.Now()
	r := c.Ref()
	after := time.Now()
	assert.True(t, !r.Before(before) && !r.After(after.Add(time.Second)))
}
