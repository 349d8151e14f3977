// Package wire implements the JSON datagram envelope carried over UDP.
//
// Audio datagrams look like:
//
//	{"type":"audio","channel_id":"<id>","data":"<base64>"}
//
// where data decodes to nonce || ciphertext || tag (see the crypto package).
// Keep-alives are {"type":"KEEP_ALIVE"} with no other fields. Envelopes with
// any other type belong to the control plane and are ignored by this client.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	// TypeAudio marks a voice payload datagram.
	TypeAudio = "audio"
	// TypeKeepAlive marks the NAT keep-alive datagram.
	TypeKeepAlive = "KEEP_ALIVE"

	// MaxDatagramBytes is the largest datagram either direction will carry.
	MaxDatagramBytes = 8192
)

// Envelope is the JSON shape of every datagram.
type Envelope struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id,omitempty"`
	Data      string `json:"data,omitempty"`
}

// PackAudio builds an audio datagram for channelID carrying the sealed payload.
func PackAudio(channelID string, payload []byte) ([]byte, error) {
	data, err := json.Marshal(Envelope{
		Type:      TypeAudio,
		ChannelID: channelID,
		Data:      base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("wire: pack: %w", err)
	}
	return data, nil
}

// KeepAlive returns the keep-alive datagram.
func KeepAlive() []byte {
	data, _ := json.Marshal(Envelope{Type: TypeKeepAlive})
	return data
}

// Parse interprets a datagram as a JSON envelope.
func Parse(datagram []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(datagram, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: parse: %w", err)
	}
	return env, nil
}

// Payload base64-decodes the envelope's data field.
func (e Envelope) Payload() ([]byte, error) {
	payload, err := base64.StdEncoding.DecodeString(e.Data)
	if err != nil {
		return nil, fmt.Errorf("wire: payload: %w", err)
	}
	return payload, nil
}
