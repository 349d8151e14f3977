// Package codec adapts the Opus voice codec for the receive and transmit
// pipelines: 48 kHz mono, 16-bit PCM on the application side.
//
// The Encoder and Decoder interfaces exist so the pipelines can be exercised
// in tests with fake codecs instead of a real Opus stream; the real
// implementations are thin wrappers over gopkg.in/hraban/opus.v2, so this
// package (and everything importing it) still builds with cgo and libopus.
package codec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

const (
	// SampleRate is the only sample rate carried on the wire.
	SampleRate = 48000
	// Channels is the wire channel count; stereo happens at the mixer.
	Channels = 1

	// MaxFrameSamples is the largest PCM frame a single decoded packet may
	// produce: 100 ms at 48 kHz mono. The mixer's accumulation buffers are
	// sized from this, not from any configured frame duration — the decoder's
	// output governs.
	MaxFrameSamples = 4800

	// MaxPacketBytes is the RFC 6716 maximum Opus packet size.
	MaxPacketBytes = 1275

	// DefaultBitrate is the encoder target in bits per second.
	DefaultBitrate = 32000
)

// Decoder decodes compressed voice packets into 16-bit PCM.
// One decoder per inbound channel; decoders are stateful and must not be
// shared across streams.
type Decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// Encoder encodes 16-bit PCM frames into compressed voice packets.
type Encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
	SetBitrate(bps int) error
}

// NewDecoder returns a 48 kHz mono Opus decoder.
func NewDecoder() (Decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("codec: new decoder: %w", err)
	}
	return dec, nil
}

// NewEncoder returns a 48 kHz mono VoIP-tuned Opus encoder at DefaultBitrate.
func NewEncoder() (Encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("codec: new encoder: %w", err)
	}
	if err := enc.SetBitrate(DefaultBitrate); err != nil {
		return nil, fmt.Errorf("codec: set bitrate: %w", err)
	}
	return enc, nil
}
