package notify

import (
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// GPIONotifier is a concrete SequenceListener that pulses a GPIO line on
// every confirmed sequence — the real-world sibling of an "external
// program launcher" gateway: switching a siren or relay rather than
// shelling out.
type GPIONotifier struct {
	line        *gpiocdev.Line
	pulseLength time.Duration
}

// NewGPIONotifier requests chipName/offset as an output line, initially
// low.
func NewGPIONotifier(chipName string, offset int, pulseLength time.Duration) (*GPIONotifier, error) {
	line, err := gpiocdev.RequestLine(chipName, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return &GPIONotifier{line: line, pulseLength: pulseLength}, nil
}

// OnFoundSequence drives the line high for pulseLength, then low again.
func (g *GPIONotifier) OnFoundSequence(FoundSequence) {
	g.line.SetValue(1)
	time.AfterFunc(g.pulseLength, func() {
		g.line.SetValue(0)
	})
}

// Close releases the underlying GPIO line.
func (g *GPIONotifier) Close() error {
	return g.line.Close()
}
