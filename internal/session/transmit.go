package session

import (
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/wjrichards713/audio-demo/internal/agc"
	"github.com/wjrichards713/audio-demo/internal/audio"
	"github.com/wjrichards713/audio-demo/internal/codec"
	"github.com/wjrichards713/audio-demo/internal/noisegate"
	"github.com/wjrichards713/audio-demo/internal/vad"
	"github.com/wjrichards713/audio-demo/internal/wire"
)

// captureStream abstracts the microphone stream so the transmit pipeline can
// be exercised in tests without PortAudio.
type captureStream interface {
	Read() ([]float32, error)
	Close() error
}

// transmitter is the state of one outbound microphone stream.
type transmitter struct {
	channelID string
	encoder   codec.Encoder
	capture   captureStream
	gate      *noisegate.Gate
	agc       *agc.AGC
	vad       *vad.Detector
	stop      atomic.Bool
	wg        sync.WaitGroup
}

// BeginTransmit starts the capture → encode → encrypt → send pipeline for
// channelID. Only one transmit stream may be active at a time.
func (s *Session) BeginTransmit(channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return fmt.Errorf("session: not started")
	}
	if s.tx != nil {
		return fmt.Errorf("session: already transmitting")
	}
	if channelID == "" {
		return fmt.Errorf("session: empty channel id")
	}

	enc, err := s.newEncoder()
	if err != nil {
		return fmt.Errorf("session: encoder: %w", err)
	}
	if err := enc.SetBitrate(int(s.currentBitrate.Load()) * 1000); err != nil {
		log.Printf("[session] set bitrate: %v", err)
	}
	capture, err := s.newCapture()
	if err != nil {
		return fmt.Errorf("session: capture: %w", err)
	}

	t := &transmitter{
		channelID: channelID,
		encoder:   enc,
		capture:   capture,
		gate:      noisegate.New(),
		agc:       agc.New(),
		vad:       vad.New(),
	}
	t.gate.SetThreshold(s.cfg.NoiseGateThreshold)
	t.agc.SetTarget(s.cfg.AGCLevel)
	t.vad.SetThreshold(s.cfg.VADThreshold)

	s.tx = t
	s.transmitting.Store(true)
	t.wg.Add(1)
	go func() { defer t.wg.Done(); s.transmitLoop(t) }()

	log.Printf("[session] transmit started channel=%s", channelID)
	return nil
}

// EndTransmit stops the capture pipeline and releases the encoder.
// Idempotent; safe to call when nothing is transmitting.
func (s *Session) EndTransmit() {
	s.mu.Lock()
	t := s.tx
	s.tx = nil
	s.mu.Unlock()
	if t == nil {
		return
	}
	t.stop.Store(true)
	// Closing the stream unblocks a pending Read so the loop can exit.
	t.capture.Close() //nolint:errcheck
	t.wg.Wait()
	s.transmitting.Store(false)
	log.Printf("[session] transmit stopped channel=%s", t.channelID)
}

// SetBitrate changes the encoder target bitrate (kbps), clamped to the valid
// Opus range [6, 510]. Applies to a live encoder immediately and to future
// transmit streams.
func (s *Session) SetBitrate(kbps int) {
	if kbps < 6 {
		kbps = 6
	}
	if kbps > 510 {
		kbps = 510
	}
	s.currentBitrate.Store(int32(kbps))
	s.mu.Lock()
	if s.tx != nil {
		if err := s.tx.encoder.SetBitrate(kbps * 1000); err != nil {
			log.Printf("[session] set bitrate %d kbps: %v", kbps, err)
		}
	}
	s.mu.Unlock()
}

// transmitLoop captures 40 ms mono frames, runs the enabled enhancement
// processors, encodes, encrypts, wraps, and sends — one datagram per frame.
func (s *Session) transmitLoop(t *transmitter) {
	pcm := make([]int16, audio.CaptureFrameSamples)
	pkt := make([]byte, codec.MaxPacketBytes)

	for !t.stop.Load() {
		frame, err := t.capture.Read()
		if err != nil {
			if !t.stop.Load() {
				log.Printf("[session] capture read: %v", err)
			}
			return
		}

		// Level meter reads the signal before any gating.
		if s.gateEnabled.Load() {
			s.inputLevel.Store(math.Float32bits(t.gate.Process(frame)))
		} else {
			s.inputLevel.Store(math.Float32bits(vad.RMS(frame)))
		}
		if s.agcEnabled.Load() {
			t.agc.Process(frame)
		}
		if s.vadEnabled.Load() && !t.vad.ShouldSend(vad.RMS(frame)) {
			continue
		}
		if s.muted.Load() {
			continue
		}

		for i, v := range frame {
			pcm[i] = int16(clampFloat32(v) * 32767)
		}
		n, err := t.encoder.Encode(pcm, pkt)
		if err != nil {
			log.Printf("[session] encode: %v", err)
			continue
		}
		sealed, err := s.cipher.Seal(pkt[:n])
		if err != nil {
			log.Printf("[session] encrypt: %v", err)
			continue
		}
		dgram, err := wire.PackAudio(t.channelID, sealed)
		if err != nil {
			log.Printf("[session] pack: %v", err)
			continue
		}
		if _, err := s.conn.Write(dgram); err != nil {
			if s.running.Load() && !t.stop.Load() {
				log.Printf("[session] send: %v", err)
			}
		}
	}
}

// clampFloat32 clamps v to [-1.0, 1.0].
func clampFloat32(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}
