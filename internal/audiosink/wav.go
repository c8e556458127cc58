package audiosink

import (
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSink is the default Sink, encoding 16-bit PCM mono WAV files.
type WAVSink struct {
	SampleRate int
}

// NewWAVSink constructs a WAVSink at the given sample rate (the
// recording buffer's storing_fs).
func NewWAVSink(sampleRate int) *WAVSink {
	return &WAVSink{SampleRate: sampleRate}
}

func (s *WAVSink) Name() string          { return "wav" }
func (s *WAVSink) FileExtension() string { return ".wav" }

// Save encodes samples as 16-bit PCM mono WAV.
func (s *WAVSink) Save(path string, samples []float64, amplify bool) error {
	if amplify {
		samples = append([]float64(nil), samples...)
		Amplify(samples)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, s.SampleRate, 16, 1, 1)

	ints := make([]int, len(samples))
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		ints[i] = int(v * 32767)
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: s.SampleRate},
		Data:   ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}
