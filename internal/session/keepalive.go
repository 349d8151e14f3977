package session

import (
	"log"
	"time"

	"github.com/wjrichards713/audio-demo/internal/wire"
)

// keepAliveLoop emits a keep-alive datagram on a fixed interval while no
// microphone transmission is in progress. Outbound voice traffic refreshes
// the NAT mapping by itself; the keep-alive only covers the quiet periods.
func (s *Session) keepAliveLoop() {
	ticker := time.NewTicker(time.Duration(s.cfg.KeepAliveMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.transmitting.Load() {
				continue
			}
			if _, err := s.conn.Write(wire.KeepAlive()); err != nil {
				log.Printf("[session] keep-alive: %v", err)
			}
		}
	}
}
