package audiosink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmplify_RescalesToFullScale(t *testing.T) {
	x := []float64{0.1, -0.2, 0.05}
	Amplify(x)
	assert.Equal(t, -1.0, x[1])
	assert.InDelta(t, 0.5, x[0], 1e-9)
}

func TestAmplify_LeavesSilenceUntouched(t *testing.T) {
	x := []float64{0, 0, 0}
	Amplify(x)
	assert.Equal(t, []float64{0, 0, 0}, x)
}

func TestWAVSink_SavesNonEmptyFile(t *testing.T) {
	s := NewWAVSink(8000)
	assert.Equal(t, "wav", s.Name())
	assert.Equal(t, ".wav", s.FileExtension())

	path := filepath.Join(t.TempDir(), "excerpt.wav")
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = 0.5
	}
	require.NoError(t, s.Save(path, samples, true))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestRawSink_SavesExpectedByteCount(t *testing.T) {
	var s RawSink
	assert.Equal(t, "raw-f32", s.Name())
	assert.Equal(t, ".f32", s.FileExtension())

	path := filepath.Join(t.TempDir(), "excerpt.f32")
	samples := make([]float64, 50)
	require.NoError(t, s.Save(path, samples, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(samples)*4), info.Size())
}
