// Package agc implements automatic gain control for the capture path: mono
// float32 PCM at 48 kHz, 1920-sample (40 ms) frames.
//
// The controller tracks each frame's RMS and steers a multiplicative gain
// toward a target loudness with asymmetric attack/release smoothing: gain
// drops fast on loud input and recovers slowly, which avoids pumping.
package agc

import "github.com/wjrichards713/audio-demo/internal/vad"

const (
	// DefaultTarget is the desired RMS level (~-14 dBFS, linear).
	DefaultTarget = 0.20

	// MinGain and MaxGain bound the correction to ±20 dB so silence never
	// gets amplified into the noise floor.
	MinGain = 0.1
	MaxGain = 10.0

	// attackCoeff moves gain down quickly when the level exceeds target;
	// releaseCoeff recovers it slowly afterwards.
	attackCoeff  = 0.80
	releaseCoeff = 0.02

	// minRMS suppresses gain updates on near-silent frames.
	minRMS = 0.001
)

// AGC is a single-channel gain controller. Not safe for concurrent use; the
// transmit goroutine is the sole caller.
type AGC struct {
	target float64
	gain   float64
}

// New returns an AGC at DefaultTarget with unity gain.
func New() *AGC {
	return &AGC{target: DefaultTarget, gain: 1.0}
}

// SetTarget maps level in [0, 100] onto a target RMS of [0.01, 0.50].
func (a *AGC) SetTarget(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	a.target = 0.01 + float64(level)/100.0*0.49
}

// Process applies the current gain to frame in place, clamps to [-1, 1],
// and updates the gain estimate from the frame's RMS.
func (a *AGC) Process(frame []float32) {
	if len(frame) == 0 {
		return
	}
	rms := float64(vad.RMS(frame))

	for i, s := range frame {
		v := s * float32(a.gain)
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		frame[i] = v
	}

	if rms < minRMS {
		return
	}
	desired := a.target / rms
	if desired < MinGain {
		desired = MinGain
	} else if desired > MaxGain {
		desired = MaxGain
	}
	coeff := releaseCoeff
	if desired < a.gain {
		coeff = attackCoeff
	}
	a.gain += coeff * (desired - a.gain)
}

// Gain returns the current linear gain multiplier.
func (a *AGC) Gain() float64 { return a.gain }

// Reset restores unity gain without changing the target.
func (a *AGC) Reset() { a.gain = 1.0 }
