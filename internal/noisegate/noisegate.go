// Package noisegate implements a hard noise gate for the capture path.
//
// Frames whose RMS falls below the threshold are zeroed entirely once a short
// hold period expires; the hold keeps the gate from chopping speech during
// breath pauses. The gate runs before encoding so silence costs no bitrate.
package noisegate

import "github.com/wjrichards713/audio-demo/internal/vad"

const (
	// DefaultThreshold is the RMS level below which audio is gated (~-40 dBFS).
	DefaultThreshold = float32(0.01)

	// DefaultHold is how many frames the gate stays open after the signal
	// drops under threshold (200 ms at 40 ms per frame).
	DefaultHold = 5
)

// Gate zeroes capture frames that are indistinguishable from background
// noise. Not safe for concurrent use; the transmit goroutine is the sole
// caller.
type Gate struct {
	threshold float32
	hold      int
	remaining int
}

// New returns a Gate with the default threshold and hold.
func New() *Gate {
	return &Gate{threshold: DefaultThreshold, hold: DefaultHold}
}

// SetThreshold maps level in [0, 100] onto an RMS threshold of
// [0.001, 0.10]. Lower levels open the gate more easily.
func (g *Gate) SetThreshold(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	g.threshold = 0.001 + float32(level)/100.0*0.099
}

// Process applies the gate to frame in place and returns the frame RMS
// before gating, which drives the input level meter.
func (g *Gate) Process(frame []float32) float32 {
	rms := vad.RMS(frame)

	if rms >= g.threshold {
		g.remaining = g.hold
		return rms
	}
	if g.remaining > 0 {
		g.remaining--
		return rms
	}
	for i := range frame {
		frame[i] = 0
	}
	return rms
}

// Reset clears the hold counter.
func (g *Gate) Reset() {
	g.remaining = 0
}
