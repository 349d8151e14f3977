// Package mixer implements the fixed-rate software mixer at the heart of the
// receive path. One mixer goroutine drains every channel's jitter queue,
// applies gain, fades, and pan, sums the channels into a 32-bit stereo
// accumulator, limits the peak, and writes 16-bit interleaved stereo to the
// output sink.
//
// The sink's blocking write against a finite device buffer is the mixer's
// only clock: there is no timer. Decoded frames arrive at whatever size the
// decoder produced (up to 100 ms), so each channel owns an accumulation
// buffer that carries residual samples across cycles — every emitted mixer
// frame contains exactly FrameSamples from each contributing channel, never a
// partial frame padded with silence mid-cycle.
package mixer

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wjrichards713/audio-demo/internal/codec"
)

const (
	// SampleRate is the fixed playback rate.
	SampleRate = 48000

	// FrameSamples is the number of mono samples mixed from each
	// contributing channel per cycle: 40 ms at 48 kHz.
	FrameSamples = 1920

	// OutputShorts is the interleaved stereo output frame length.
	OutputShorts = 2 * FrameSamples

	// DefaultGateFrames is the jitter queue depth a channel must reach
	// before its gate opens and it starts contributing. 5 frames trades a
	// little startup latency for resilience against arrival burstiness;
	// 3 works on quiet networks.
	DefaultGateFrames = 5

	// DefaultFadeSamples is the linear fade length applied on the first
	// frame after a gap and on the fade-out covering an underflow
	// (~1.3 ms at 48 kHz).
	DefaultFadeSamples = 64

	// idleSleep is the retry pause when no channel contributed to a cycle.
	// Without it an all-idle mixer would spin; with it the sink simply
	// stays unfed until audio returns.
	idleSleep = 5 * time.Millisecond

	// statsInterval is the cycle period of the periodic stats log line.
	statsInterval = 50
)

// Sink is the stereo output device. Write blocks until the device has
// consumed the frame; that back-pressure paces the mixer at hardware
// playback rate.
type Sink interface {
	Write(frame []int16) error
}

// Config carries the tunable mixer parameters.
type Config struct {
	GateFrames  int // queue depth before a channel's gate opens
	QueueFrames int // jitter queue bound per channel
	FadeSamples int // linear fade length for gap transitions
}

func (c Config) withDefaults() Config {
	if c.GateFrames <= 0 {
		c.GateFrames = DefaultGateFrames
	}
	if c.FadeSamples <= 0 {
		c.FadeSamples = DefaultFadeSamples
	}
	return c
}

// Mixer owns the channel registry and renders one stereo frame per cycle
// into the sink.
type Mixer struct {
	sink Sink
	cfg  Config

	// channels is a copy-on-write snapshot: control operations build a new
	// map under mu and swap the pointer, so the receiver (per packet) and
	// the mixer (per cycle) read without locks. Channels added mid-cycle
	// begin contributing the next cycle.
	mu       sync.Mutex
	channels atomic.Pointer[map[string]*Channel]

	cycles         uint64
	underflowTotal atomic.Uint64

	acc []int32
	out []int16
}

// New returns a Mixer writing to sink.
func New(sink Sink, cfg Config) *Mixer {
	m := &Mixer{
		sink: sink,
		cfg:  cfg.withDefaults(),
		acc:  make([]int32, OutputShorts),
		out:  make([]int16, OutputShorts),
	}
	empty := make(map[string]*Channel)
	m.channels.Store(&empty)
	return m
}

// Add registers a new channel with its decoder. The channel starts gated and
// contributes once its jitter queue reaches the configured depth.
func (m *Mixer) Add(id string, dec codec.Decoder, volume float64, pan Pan) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := *m.channels.Load()
	if _, ok := cur[id]; ok {
		return nil, fmt.Errorf("mixer: channel %q already exists", id)
	}
	ch := newChannel(id, dec, volume, pan, m.cfg.QueueFrames)
	next := make(map[string]*Channel, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[id] = ch
	m.channels.Store(&next)
	return ch, nil
}

// Remove unregisters a channel and drains its queue. Returns false if the
// channel does not exist.
func (m *Mixer) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := *m.channels.Load()
	ch, ok := cur[id]
	if !ok {
		return false
	}
	next := make(map[string]*Channel, len(cur)-1)
	for k, v := range cur {
		if k != id {
			next[k] = v
		}
	}
	m.channels.Store(&next)
	ch.queue.Drain()
	return true
}

// Channel returns the registered channel, or nil. Lock-free; called by the
// receiver on every packet.
func (m *Mixer) Channel(id string) *Channel {
	return (*m.channels.Load())[id]
}

// Channels returns the current channel snapshot.
func (m *Mixer) Channels() []*Channel {
	cur := *m.channels.Load()
	out := make([]*Channel, 0, len(cur))
	for _, ch := range cur {
		out = append(out, ch)
	}
	return out
}

// Underflows returns the cumulative underflow count across all channels.
func (m *Mixer) Underflows() uint64 {
	return m.underflowTotal.Load()
}

// Run executes mix cycles until stop is closed. It blocks inside the sink
// write and exits after at most one more write once stopped.
func (m *Mixer) Run(stop <-chan struct{}) {
	log.Printf("[mixer] running gate=%d frames fade=%d samples", m.cfg.GateFrames, m.cfg.FadeSamples)
	for {
		select {
		case <-stop:
			log.Printf("[mixer] stopped after %d cycles", m.cycles)
			return
		default:
		}
		if !m.cycle() {
			time.Sleep(idleSleep)
		}
	}
}

// cycle mixes one frame from every contributing channel and writes it to the
// sink. Returns false when no channel contributed (nothing was written).
func (m *Mixer) cycle() bool {
	for i := range m.acc {
		m.acc[i] = 0
	}

	snapshot := *m.channels.Load()
	active := 0
	for _, ch := range snapshot {
		if m.mixChannel(ch) {
			active++
		}
	}
	if active == 0 {
		return false
	}

	// Whole-frame peak limiter: per-sample clamping distorts audibly, so the
	// entire frame is scaled uniformly and only when the sum actually exceeds
	// 16-bit range. Integer scaling keeps the peak at exactly MaxInt16.
	peak := peakAbs(m.acc)
	limited := peak > math.MaxInt16
	if limited {
		for i, v := range m.acc {
			m.acc[i] = int32(int64(v) * math.MaxInt16 / int64(peak))
		}
	}
	for i, v := range m.acc {
		m.out[i] = int16(v)
	}

	if err := m.sink.Write(m.out); err != nil {
		// A short or failed device write is not fatal; the next cycle
		// re-paces against the device.
		log.Printf("[mixer] sink write: %v", err)
	}

	m.cycles++
	if m.cycles%statsInterval == 0 {
		m.logStats(snapshot, active, peak, limited)
	}
	return true
}

// mixChannel renders one channel into the stereo accumulator. Returns true
// if the channel contributed samples this cycle.
func (m *Mixer) mixChannel(ch *Channel) bool {
	if !ch.gateOpen.Load() {
		if ch.queue.Len() < m.cfg.GateFrames {
			return false
		}
		ch.gateOpen.Store(true)
	}

	// Pull decoded frames until a full mixer frame is pending or the queue
	// runs dry. Residuals from oversized decoder frames stay in acc.
	for ch.accLen < FrameSamples {
		f, ok := ch.queue.Pop()
		if !ok {
			break
		}
		ch.accLen += copy(ch.acc[ch.accLen:], f.Samples)
	}

	vol := ch.Volume()
	pan := ch.Pan()

	if ch.accLen >= FrameSamples {
		fadeIn := !ch.hadData
		var last int32
		for i := 0; i < FrameSamples; i++ {
			s := float64(ch.acc[i]) * vol
			if fadeIn && i < m.cfg.FadeSamples {
				s *= float64(i) / float64(m.cfg.FadeSamples)
			}
			v := int32(s)
			route(m.acc, i, v, pan)
			last = v
		}
		copy(ch.acc, ch.acc[FrameSamples:ch.accLen])
		ch.accLen -= FrameSamples
		ch.hadData = true
		ch.lastSample = last
		return true
	}

	if !ch.hadData {
		return false
	}

	// The channel was live last cycle but lacks a full frame now: an
	// underflow. Ramp the dangling sample to zero so the stream ends
	// without a click; subsequent cycles render plain silence.
	ch.hadData = false
	last := ch.lastSample
	ch.lastSample = 0
	n := ch.underflows.Add(1)
	m.underflowTotal.Add(1)
	log.Printf("[mixer] underflow channel=%s count=%d last=%d pending=%d",
		ch.id, n, last, ch.accLen)
	if last == 0 {
		return false
	}
	for i := 0; i < m.cfg.FadeSamples; i++ {
		v := int32(float64(last) * (1 - float64(i)/float64(m.cfg.FadeSamples)))
		route(m.acc, i, v, pan)
	}
	return true
}

// route adds mono sample v at index i into the stereo accumulator according
// to the channel's pan.
func route(acc []int32, i int, v int32, pan Pan) {
	switch pan {
	case PanLeft:
		acc[2*i] += v
	case PanRight:
		acc[2*i+1] += v
	default:
		acc[2*i] += v
		acc[2*i+1] += v
	}
}

func peakAbs(acc []int32) int32 {
	var peak int32
	for _, v := range acc {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

func (m *Mixer) logStats(snapshot map[string]*Channel, active int, peak int32, limited bool) {
	depths := make([]string, 0, len(snapshot))
	for id, ch := range snapshot {
		depths = append(depths, fmt.Sprintf("%s=%d", id, ch.queue.Len()))
	}
	sort.Strings(depths)
	log.Printf("[mixer] cycle=%d active=%d samples=%d peak=%d limited=%v queues=[%s] underflows=%d",
		m.cycles, active, OutputShorts, peak, limited,
		strings.Join(depths, " "), m.underflowTotal.Load())
}
