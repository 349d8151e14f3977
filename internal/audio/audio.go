// Package audio owns the PortAudio devices: the stereo playback sink whose
// blocking writes pace the mixer, and the mono capture stream feeding the
// transmit pipeline.
package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/wjrichards713/audio-demo/internal/mixer"
)

// CaptureFrameSamples is the mono capture frame: 40 ms at 48 kHz.
const CaptureFrameSamples = 1920

const outputChannels = 2

// PortAudio is initialised once per process and reference-counted so the
// sink and capture stream can be opened and closed independently.
var (
	initMu    sync.Mutex
	initCount int
)

// Initialize acquires the PortAudio backend.
func Initialize() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initCount == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("audio: initialize: %w", err)
		}
	}
	initCount++
	return nil
}

// Terminate releases the PortAudio backend once all holders are done.
func Terminate() {
	initMu.Lock()
	defer initMu.Unlock()
	if initCount == 0 {
		return
	}
	initCount--
	if initCount == 0 {
		portaudio.Terminate() //nolint:errcheck // nothing to do on teardown failure
	}
}

// Sink is the single stereo output device. Write blocks until the device has
// consumed the frame; the device's internal buffering gives the mixer a few
// frames of headroom before a write actually blocks.
type Sink struct {
	stream *portaudio.Stream
	buf    []int16
}

// Compile-time check that Sink paces the mixer.
var _ mixer.Sink = (*Sink)(nil)

// NewSink opens and starts the default stereo output stream at 48 kHz with
// one mixer frame per buffer.
func NewSink() (*Sink, error) {
	buf := make([]int16, mixer.OutputShorts)
	stream, err := portaudio.OpenDefaultStream(0, outputChannels, mixer.SampleRate, mixer.FrameSamples, buf)
	if err != nil {
		return nil, fmt.Errorf("audio: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("audio: start output: %w", err)
	}
	return &Sink{stream: stream, buf: buf}, nil
}

// Write copies frame into the stream buffer and blocks until the device
// accepts it.
func (s *Sink) Write(frame []int16) error {
	copy(s.buf, frame)
	return s.stream.Write()
}

// Close stops and releases the device. Stop comes first: it is thread-safe
// and unblocks a pending Write, so the mixer goroutine is out of the stream
// before the native object is freed.
func (s *Sink) Close() error {
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return fmt.Errorf("audio: stop output: %w", err)
	}
	return s.stream.Close()
}

// Capture is the mono microphone stream feeding the transmit pipeline.
type Capture struct {
	stream *portaudio.Stream
	buf    []float32
}

// NewCapture opens and starts the default mono input stream at 48 kHz with
// 40 ms frames.
func NewCapture() (*Capture, error) {
	buf := make([]float32, CaptureFrameSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, mixer.SampleRate, CaptureFrameSamples, buf)
	if err != nil {
		return nil, fmt.Errorf("audio: open input: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("audio: start input: %w", err)
	}
	return &Capture{stream: stream, buf: buf}, nil
}

// Read blocks until a full capture frame is available and returns the
// stream-owned buffer. The slice is valid until the next Read.
func (c *Capture) Read() ([]float32, error) {
	if err := c.stream.Read(); err != nil {
		return nil, err
	}
	return c.buf, nil
}

// Close stops and releases the device. Stopping first unblocks a pending
// Read so the transmit goroutine exits before the stream object is freed.
func (c *Capture) Close() error {
	if err := c.stream.Stop(); err != nil {
		c.stream.Close()
		return fmt.Errorf("audio: stop input: %w", err)
	}
	return c.stream.Close()
}
