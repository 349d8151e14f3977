// Package session owns the datagram socket, the set of active channels, and
// the lifecycle of the receiver, mixer, transmitter, and keep-alive workers.
//
// One session is one conversation: a single UDP socket to the peer, a single
// stereo output device, any number of inbound channels, and at most one
// outbound microphone stream.
package session

import (
	"fmt"
	"log"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wjrichards713/audio-demo/internal/audio"
	"github.com/wjrichards713/audio-demo/internal/codec"
	"github.com/wjrichards713/audio-demo/internal/config"
	"github.com/wjrichards713/audio-demo/internal/crypto"
	"github.com/wjrichards713/audio-demo/internal/mixer"
)

// Session drives one voice conversation end to end.
type Session struct {
	cfg    config.Config
	cipher *crypto.Cipher

	mu   sync.Mutex // guards start/stop/transmit transitions
	conn *net.UDPConn
	sink *audio.Sink
	mix  *mixer.Mixer
	tx   *transmitter

	running      atomic.Bool
	transmitting atomic.Bool
	muted        atomic.Bool

	gateEnabled atomic.Bool
	agcEnabled  atomic.Bool
	vadEnabled  atomic.Bool

	// inputLevel holds the most recent pre-gate capture RMS (float32 bits)
	// for level metering.
	inputLevel     atomic.Uint32
	currentBitrate atomic.Int32 // kbps

	// Session-wide ingress drop counters. Per-channel failures live on the
	// channels themselves.
	malformed      atomic.Uint64
	ignored        atomic.Uint64
	unknownChannel atomic.Uint64

	stopCh chan struct{}
	recvWG sync.WaitGroup
	mixWG  sync.WaitGroup
	kaWG   sync.WaitGroup

	// pcm is the receiver-only decode scratch; the receiver goroutine is
	// the sole user.
	pcm []int16

	// Factories, swappable in tests so the pipelines run without libopus
	// or PortAudio.
	newDecoder func() (codec.Decoder, error)
	newEncoder func() (codec.Encoder, error)
	newCapture func() (captureStream, error)
	newSink    func() (*audio.Sink, error)
}

// Totals is a snapshot of session-wide counters.
type Totals struct {
	Malformed      uint64 // datagrams dropped before reaching any channel
	Ignored        uint64 // well-formed datagrams of non-audio types
	UnknownChannel uint64 // audio datagrams for channels not in the set
	Underflows     uint64 // mixer underflows across all channels
}

// New builds a session from cfg. The wire key must decode to 256 bits;
// a bad key is fatal here, before any socket or device is touched.
func New(cfg config.Config) (*Session, error) {
	cfg = cfg.Normalize()
	cipher, err := crypto.NewFromBase64(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("session: wire key: %w", err)
	}
	s := &Session{
		cfg:        cfg,
		cipher:     cipher,
		pcm:        make([]int16, codec.MaxFrameSamples),
		newDecoder: codec.NewDecoder,
		newEncoder: codec.NewEncoder,
		newCapture: func() (captureStream, error) { return audio.NewCapture() },
		newSink:    audio.NewSink,
	}
	s.gateEnabled.Store(cfg.NoiseGate)
	s.agcEnabled.Store(cfg.AGC)
	s.vadEnabled.Store(cfg.VAD)
	s.currentBitrate.Store(int32(cfg.EncodeBitrate))
	return s, nil
}

// Start opens the socket and the output device and launches the receiver,
// mixer, and keep-alive workers. Idempotent while running.
func (s *Session) Start(destHost string, destPort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return nil
	}

	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(destHost, strconv.Itoa(destPort)))
	if err != nil {
		return fmt.Errorf("session: resolve %s:%d: %w", destHost, destPort, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("session: dial: %w", err)
	}

	if err := audio.Initialize(); err != nil {
		conn.Close()
		return err
	}
	sink, err := s.newSink()
	if err != nil {
		audio.Terminate()
		conn.Close()
		return err
	}

	s.conn = conn
	s.sink = sink
	s.mix = mixer.New(sink, mixer.Config{
		GateFrames:  s.cfg.JitterGateFrames,
		QueueFrames: s.cfg.MaxQueueFrames,
		FadeSamples: s.cfg.FadeSamples,
	})
	s.stopCh = make(chan struct{})
	s.running.Store(true)

	s.recvWG.Add(1)
	go func() { defer s.recvWG.Done(); s.receiveLoop() }()
	s.mixWG.Add(1)
	go func() { defer s.mixWG.Done(); s.mix.Run(s.stopCh) }()
	s.kaWG.Add(1)
	go func() { defer s.kaWG.Done(); s.keepAliveLoop() }()

	log.Printf("[session] started dest=%s", raddr)
	return nil
}

// Stop tears the session down: transmitter, then receiver, then mixer, then
// the output device and socket. Channel decoders are released with the
// channel set. Idempotent.
func (s *Session) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.EndTransmit()

	s.mu.Lock()
	conn := s.conn
	sink := s.sink
	mix := s.mix
	stopCh := s.stopCh
	s.mu.Unlock()

	// Wake the receiver out of its blocking read; it sees running=false
	// and exits. The socket itself stays open until the mixer is down.
	conn.SetReadDeadline(time.Now()) //nolint:errcheck
	s.recvWG.Wait()

	close(stopCh)
	s.mixWG.Wait()
	s.kaWG.Wait()

	if err := sink.Close(); err != nil {
		log.Printf("[session] close sink: %v", err)
	}
	audio.Terminate()
	conn.Close()

	for _, ch := range mix.Channels() {
		mix.Remove(ch.ID())
	}
	log.Printf("[session] stopped")
}

// AddChannel registers a new inbound stream with its own decoder. The
// channel starts gated and begins contributing once its jitter queue reaches
// the configured depth. A decoder init failure refuses the add.
func (s *Session) AddChannel(id string, volume float64, pan mixer.Pan) error {
	if id == "" {
		return fmt.Errorf("session: empty channel id")
	}
	if !s.running.Load() {
		return fmt.Errorf("session: not started")
	}
	dec, err := s.newDecoder()
	if err != nil {
		return fmt.Errorf("session: decoder for %q: %w", id, err)
	}
	if _, err := s.mix.Add(id, dec, volume, pan); err != nil {
		return err
	}
	log.Printf("[session] channel added id=%s volume=%.2f pan=%s", id, volume, pan)
	return nil
}

// RemoveChannel drains and unregisters a channel, releasing its decoder.
func (s *Session) RemoveChannel(id string) error {
	if !s.running.Load() {
		return fmt.Errorf("session: not started")
	}
	if !s.mix.Remove(id) {
		return fmt.Errorf("session: unknown channel %q", id)
	}
	log.Printf("[session] channel removed id=%s", id)
	return nil
}

// SetVolume sets a channel's gain, clamped to [0.0, 1.0]. Takes effect by
// the next mixer cycle.
func (s *Session) SetVolume(id string, v float64) error {
	ch := s.channel(id)
	if ch == nil {
		return fmt.Errorf("session: unknown channel %q", id)
	}
	ch.SetVolume(v)
	return nil
}

// SetPan sets a channel's stereo routing. Takes effect by the next cycle.
func (s *Session) SetPan(id string, p mixer.Pan) error {
	ch := s.channel(id)
	if ch == nil {
		return fmt.Errorf("session: unknown channel %q", id)
	}
	ch.SetPan(p)
	return nil
}

// Stats returns the counters for one channel.
func (s *Session) Stats(id string) (mixer.Stats, error) {
	ch := s.channel(id)
	if ch == nil {
		return mixer.Stats{}, fmt.Errorf("session: unknown channel %q", id)
	}
	return ch.Stats(), nil
}

// Totals returns the session-wide counters.
func (s *Session) Totals() Totals {
	t := Totals{
		Malformed:      s.malformed.Load(),
		Ignored:        s.ignored.Load(),
		UnknownChannel: s.unknownChannel.Load(),
	}
	if s.mix != nil {
		t.Underflows = s.mix.Underflows()
	}
	return t
}

// SetMuted suppresses outbound audio while keeping the capture loop and its
// processors primed.
func (s *Session) SetMuted(muted bool) {
	s.muted.Store(muted)
}

// SetNoiseGate enables or disables the capture noise gate.
func (s *Session) SetNoiseGate(enabled bool) {
	s.gateEnabled.Store(enabled)
}

// SetAGC enables or disables automatic gain control on the capture path.
func (s *Session) SetAGC(enabled bool) {
	s.agcEnabled.Store(enabled)
}

// SetVAD enables or disables voice activity detection on the capture path.
// When enabled, silent frames are not encoded or sent.
func (s *Session) SetVAD(enabled bool) {
	s.vadEnabled.Store(enabled)
}

// InputLevel returns the most recent pre-gate capture RMS (0.0-1.0),
// suitable for a level meter.
func (s *Session) InputLevel() float32 {
	return math.Float32frombits(s.inputLevel.Load())
}

// channel looks up a channel by id; nil when absent or not started.
func (s *Session) channel(id string) *mixer.Channel {
	if !s.running.Load() || s.mix == nil {
		return nil
	}
	return s.mix.Channel(id)
}
