package filterdesign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmewatch/fmewatch/internal/errs"
)

func TestDesignLowpassFromOrder_RejectsOddOrder(t *testing.T) {
	_, err := DesignLowpassFromOrder(101, 0.3)
	assert.ErrorIs(t, err, errs.ErrOrderParity)
}

func TestDesignLowpassFromOrder_RejectsCutoffOutOfRange(t *testing.T) {
	_, err := DesignLowpassFromOrder(10, 0.01)
	assert.ErrorIs(t, err, errs.ErrFcOutOfRange)
}

// TestDCGain checks invariant 4: the kernel sums to 1.0 within tolerance.
func TestDCGain(t *testing.T) {
	b, err := DesignLowpassFromOrder(100, 0.3)
	require.NoError(t, err)

	sum := 0.0
	for _, v := range b {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestDesignLowpassFromOrder_KernelIsSymmetric(t *testing.T) {
	b, err := DesignLowpassFromOrder(40, 0.25)
	require.NoError(t, err)
	for i := range b {
		assert.InDelta(t, b[i], b[len(b)-1-i], 1e-12)
	}
}

func TestNextLargerEven(t *testing.T) {
	assert.Equal(t, 4, NextLargerEven(3.1))
	assert.Equal(t, 4, NextLargerEven(4.0))
	assert.Equal(t, 6, NextLargerEven(5.0001))
}
