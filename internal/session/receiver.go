package session

import (
	"errors"
	"log"
	"net"

	"github.com/wjrichards713/audio-demo/internal/wire"
)

// recvBufBytes bounds a single datagram read; larger datagrams are truncated
// by the kernel, which the envelope parse then rejects.
const recvBufBytes = 8192

// receiveLoop is the single blocking datagram reader. It classifies each
// datagram and pushes audio through the ingress pipeline; it never blocks
// the mixer and nothing it reads can abort the session short of a hard
// socket failure.
func (s *Session) receiveLoop() {
	buf := make([]byte, recvBufBytes)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			if !s.running.Load() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			// Unrecoverable socket error: surface by winding the whole
			// session down. Stop waits for this goroutine, so it runs
			// detached and we return immediately.
			log.Printf("[session] recv: %v", err)
			go s.Stop()
			return
		}
		s.handleDatagram(buf[:n])
	}
}

// handleDatagram runs the ingress pipeline for one datagram: envelope parse,
// channel lookup, base64 decode, decrypt, voice decode, jitter enqueue.
// Every failure is counted and the datagram discarded.
func (s *Session) handleDatagram(data []byte) {
	env, err := wire.Parse(data)
	if err != nil {
		s.malformed.Add(1)
		return
	}
	if env.Type != wire.TypeAudio {
		// Control traffic and keep-alives are not ours to handle.
		s.ignored.Add(1)
		return
	}
	if env.ChannelID == "" {
		s.malformed.Add(1)
		return
	}
	ch := s.mix.Channel(env.ChannelID)
	if ch == nil {
		s.unknownChannel.Add(1)
		return
	}
	payload, err := env.Payload()
	if err != nil {
		s.malformed.Add(1)
		return
	}
	plain, err := s.cipher.Open(payload)
	if err != nil {
		ch.CountAuthError()
		return
	}
	n, err := ch.Decoder().Decode(plain, s.pcm)
	if err != nil || n <= 0 {
		ch.CountDecodeError()
		return
	}
	samples := make([]int16, n)
	copy(samples, s.pcm[:n])
	ch.Enqueue(samples)
}
