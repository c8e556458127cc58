package audiosink

import (
	"encoding/binary"
	"math"
	"os"
)

// RawSink is a dependency-free second sink, encoding samples as raw
// little-endian 32-bit float PCM with no header — standing in for the
// original's second (OGG) plugin without pulling a Vorbis dependency
// nothing else in this module needs.
type RawSink struct{}

func (RawSink) Name() string          { return "raw-f32" }
func (RawSink) FileExtension() string { return ".f32" }

// Save writes samples as consecutive little-endian float32 values.
func (RawSink) Save(path string, samples []float64, amplify bool) error {
	if amplify {
		samples = append([]float64(nil), samples...)
		Amplify(samples)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 4)
	for _, v := range samples {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		if _, err := f.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
