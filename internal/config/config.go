// Package config manages persistent settings for the audiodemo client.
// Settings are stored as JSON at os.UserConfigDir()/audiodemo/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all persistent settings.
type Config struct {
	// Key is the base64-encoded 256-bit wire key shared with the peer.
	Key string `json:"key"`

	DestHost string `json:"dest_host"`
	DestPort int    `json:"dest_port"`

	// JitterGateFrames is the queue depth a channel buffers before it
	// starts playing. Supported values are 3 and 5.
	JitterGateFrames int `json:"jitter_gate_frames"`
	MaxQueueFrames   int `json:"max_queue_frames"`
	FadeSamples      int `json:"fade_samples"`

	KeepAliveMs int `json:"keepalive_interval_ms"`

	// Capture enhancement toggles for the transmit path.
	NoiseGate          bool `json:"noise_gate"`
	NoiseGateThreshold int  `json:"noise_gate_threshold"`
	AGC                bool `json:"agc"`
	AGCLevel           int  `json:"agc_level"`
	VAD                bool `json:"vad"`
	VADThreshold       int  `json:"vad_threshold"`
	EncodeBitrate      int  `json:"encode_bitrate_kbps"`
}

// Default returns a Config populated with sensible defaults. The key is
// intentionally empty; sessions refuse to start without one.
func Default() Config {
	return Config{
		DestPort:           5005,
		JitterGateFrames:   5,
		MaxQueueFrames:     20,
		FadeSamples:        64,
		KeepAliveMs:        10000,
		NoiseGate:          true,
		NoiseGateThreshold: 10,
		AGCLevel:           50,
		VADThreshold:       40,
		EncodeBitrate:      32,
	}
}

// Normalize clamps fields to supported values: the jitter gate accepts only
// 3 or 5, and zeroed tunables fall back to their defaults.
func (c Config) Normalize() Config {
	def := Default()
	if c.JitterGateFrames != 3 && c.JitterGateFrames != 5 {
		c.JitterGateFrames = def.JitterGateFrames
	}
	if c.MaxQueueFrames <= 0 {
		c.MaxQueueFrames = def.MaxQueueFrames
	}
	if c.FadeSamples <= 0 {
		c.FadeSamples = def.FadeSamples
	}
	if c.KeepAliveMs <= 0 {
		c.KeepAliveMs = def.KeepAliveMs
	}
	if c.EncodeBitrate <= 0 {
		c.EncodeBitrate = def.EncodeBitrate
	}
	return c
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audiodemo", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg.Normalize()
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
