package mixer

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/wjrichards713/audio-demo/internal/codec"
	"github.com/wjrichards713/audio-demo/internal/jitter"
)

// Pan routes a mono channel into the stereo output.
type Pan int32

const (
	// PanCenter duplicates the channel into both stereo slots.
	PanCenter Pan = iota
	// PanLeft routes the channel into the left slot only.
	PanLeft
	// PanRight routes the channel into the right slot only.
	PanRight
)

// String returns the lower-case name of the pan position.
func (p Pan) String() string {
	switch p {
	case PanLeft:
		return "left"
	case PanRight:
		return "right"
	default:
		return "center"
	}
}

// ParsePan converts a pan name ("left", "center", "right") to a Pan.
func ParsePan(s string) (Pan, error) {
	switch s {
	case "left":
		return PanLeft, nil
	case "center", "":
		return PanCenter, nil
	case "right":
		return PanRight, nil
	}
	return PanCenter, fmt.Errorf("mixer: unknown pan %q", s)
}

// Channel is the runtime state for one inbound voice stream.
//
// The receiver goroutine writes the jitter queue, the ingress counters, and
// the activity timestamp. Volume and pan are atomics so control operations
// can mutate them concurrently with mixing. Everything else is mixer-private:
// only the mixer goroutine touches it once the channel is published.
type Channel struct {
	id      string
	queue   *jitter.Queue
	decoder codec.Decoder // used only by the receiver goroutine

	volume atomic.Uint64 // float64 bits, clamped to [0.0, 1.0]
	pan    atomic.Int32

	// Ingress counters, written by the receiver.
	packets      atomic.Uint64
	authErrors   atomic.Uint64
	decodeErrors atomic.Uint64
	lastActivity atomic.Int64 // Unix nanoseconds

	// gateOpen latches once the jitter queue first reaches the gate depth.
	// It never re-closes: re-gating after a brief underrun turned 20 ms gaps
	// into 200-300 ms dropouts, whereas an open gate renders gaps as silence.
	gateOpen atomic.Bool

	// underflows counts cycles where the channel had been contributing but
	// lacked a full frame. Written by the mixer, read by Stats.
	underflows atomic.Uint64

	// Mixer-private, no synchronisation.
	hadData    bool
	lastSample int32 // post-gain value of the final sample mixed last cycle
	acc        []int16
	accLen     int
}

func newChannel(id string, dec codec.Decoder, volume float64, pan Pan, queueFrames int) *Channel {
	ch := &Channel{
		id:      id,
		queue:   jitter.New(queueFrames),
		decoder: dec,
		// Two maximum-size decoded frames: a pending near-full mixer frame
		// plus one freshly popped decoder frame always fit.
		acc: make([]int16, 2*codec.MaxFrameSamples),
	}
	ch.SetVolume(volume)
	ch.SetPan(pan)
	ch.touch()
	return ch
}

// ID returns the channel identifier.
func (c *Channel) ID() string { return c.id }

// Decoder returns the channel's voice decoder. Receiver goroutine only.
func (c *Channel) Decoder() codec.Decoder { return c.decoder }

// SetVolume sets the channel gain, clamped to [0.0, 1.0].
func (c *Channel) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.volume.Store(math.Float64bits(v))
}

// Volume returns the current channel gain.
func (c *Channel) Volume() float64 {
	return math.Float64frombits(c.volume.Load())
}

// SetPan sets the stereo routing for the channel.
func (c *Channel) SetPan(p Pan) {
	c.pan.Store(int32(p))
}

// Pan returns the current stereo routing.
func (c *Channel) Pan() Pan {
	return Pan(c.pan.Load())
}

// Enqueue hands a decoded PCM frame to the mixer via the jitter queue and
// stamps channel activity. Called by the receiver goroutine only.
func (c *Channel) Enqueue(samples []int16) {
	c.queue.Push(jitter.Frame{Samples: samples})
	c.packets.Add(1)
	c.touch()
}

// CountAuthError records a decryption failure for this channel.
func (c *Channel) CountAuthError() { c.authErrors.Add(1) }

// CountDecodeError records a voice decode failure for this channel.
func (c *Channel) CountDecodeError() { c.decodeErrors.Add(1) }

func (c *Channel) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Stats is a point-in-time snapshot of a channel's counters.
type Stats struct {
	Packets      uint64    // datagrams decoded and enqueued
	AuthErrors   uint64    // decryption failures
	DecodeErrors uint64    // voice decode failures
	Dropped      uint64    // frames discarded on jitter queue overflow
	QueueFrames  int       // current jitter queue depth
	Underflows   uint64    // gaps: cycles lacking a full frame right after contributing
	GateOpen     bool      // false while still buffering toward the gate
	LastActivity time.Time // time of the last successfully decoded datagram, or of creation before any
}

// Stats returns the channel's current counters.
func (c *Channel) Stats() Stats {
	return Stats{
		Packets:      c.packets.Load(),
		AuthErrors:   c.authErrors.Load(),
		DecodeErrors: c.decodeErrors.Load(),
		Dropped:      c.queue.Dropped(),
		QueueFrames:  c.queue.Len(),
		Underflows:   c.underflows.Load(),
		GateOpen:     c.gateOpen.Load(),
		LastActivity: time.Unix(0, c.lastActivity.Load()),
	}
}
