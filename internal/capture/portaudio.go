// Device is the production Collaborator, backed by portaudio.
package capture

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/fmewatch/fmewatch/internal/errs"
	"github.com/fmewatch/fmewatch/internal/sample"
)

// Device opens a portaudio input stream on the host's default (or
// caller-chosen) input device and delivers chunks through a
// stream-callback, stamping every sample with both clocks as it arrives.
type Device struct {
	deviceIndex int // -1 selects the default input device
	sampleRate  float64
	framesPerBuffer int

	clock ClockSource

	mu      sync.Mutex
	onChunk func(sample.Chunk)

	stream  *portaudio.Stream
	running atomic.Bool
}

// ResolveDeviceIndex looks up the portaudio device index whose name
// contains name (case-insensitive), for turning the CLI's --device flag
// into the index NewDevice expects. Returns ErrNoInputDevice if no
// input-capable device matches.
func ResolveDeviceIndex(name string) (int, error) {
	if err := portaudio.Initialize(); err != nil {
		return -1, errs.ErrDeviceUnavailable
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return -1, errs.ErrNoInputDevice
	}

	want := strings.ToLower(name)
	for i, d := range devices {
		if d.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), want) {
			return i, nil
		}
	}
	return -1, errs.ErrNoInputDevice
}

// NewDevice constructs a Device. sampleRate should be chosen with
// MaxStandardRate against the device's reported maximum; a zero
// framesPerBuffer lets portaudio pick its own buffer size.
func NewDevice(deviceIndex int, sampleRate float64, framesPerBuffer int, clock ClockSource) *Device {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &Device{
		deviceIndex:     deviceIndex,
		sampleRate:      sampleRate,
		framesPerBuffer: framesPerBuffer,
		clock:           clock,
	}
}

// OnChunk registers the chunk callback; must be called before Start.
func (d *Device) OnChunk(f func(sample.Chunk)) {
	d.mu.Lock()
	d.onChunk = f
	d.mu.Unlock()
}

// Start initializes portaudio, resolves the input device, and opens and
// starts a stream. Returns ErrNoInputDevice if no input device is
// present, ErrDeviceUnavailable if opening the stream fails.
func (d *Device) Start() error {
	if err := portaudio.Initialize(); err != nil {
		return errs.ErrDeviceUnavailable
	}

	devices, err := portaudio.Devices()
	if err != nil || len(devices) == 0 {
		portaudio.Terminate()
		return errs.ErrNoInputDevice
	}

	var in *portaudio.DeviceInfo
	if d.deviceIndex >= 0 && d.deviceIndex < len(devices) {
		in = devices[d.deviceIndex]
	} else {
		def, err := portaudio.DefaultInputDevice()
		if err != nil {
			portaudio.Terminate()
			return errs.ErrNoInputDevice
		}
		in = def
	}
	if in.MaxInputChannels < 1 {
		portaudio.Terminate()
		return errs.ErrNoInputDevice
	}

	params := portaudio.LowLatencyParameters(in, nil)
	params.Input.Channels = 1
	params.SampleRate = d.sampleRate
	if d.framesPerBuffer > 0 {
		params.FramesPerBuffer = d.framesPerBuffer
	}

	stream, err := portaudio.OpenStream(params, d.callback)
	if err != nil {
		portaudio.Terminate()
		return errs.ErrDeviceUnavailable
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return errs.ErrDeviceUnavailable
	}

	d.stream = stream
	d.running.Store(true)
	return nil
}

func (d *Device) callback(in []float32) {
	d.mu.Lock()
	cb := d.onChunk
	d.mu.Unlock()
	if cb == nil {
		return
	}

	n := len(in)
	chunk := sample.Chunk{
		Calc:   make([]time.Duration, n),
		Ref:    make([]time.Time, n),
		Signal: make([]float64, n),
	}
	calcBase := d.clock.Calc()
	refBase := d.clock.Ref()
	step := time.Duration(float64(time.Second) / d.sampleRate)
	for i, v := range in {
		chunk.Signal[i] = float64(v)
		chunk.Calc[i] = calcBase + step*time.Duration(i)
		chunk.Ref[i] = refBase.Add(step * time.Duration(i))
	}
	cb(chunk)
}

// Stop stops and closes the stream and terminates portaudio.
func (d *Device) Stop() error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}
	err := d.stream.Stop()
	d.stream.Close()
	portaudio.Terminate()
	return err
}

// IsRunning reports whether the stream is active.
func (d *Device) IsRunning() bool {
	return d.running.Load()
}
