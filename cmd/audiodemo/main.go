// Command audiodemo joins encrypted voice channels over UDP, mixes them into
// the default output device, and optionally transmits the microphone to one
// of them.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/wjrichards713/audio-demo/internal/config"
	"github.com/wjrichards713/audio-demo/internal/mixer"
	"github.com/wjrichards713/audio-demo/internal/session"
)

func main() {
	cfg := config.Load()

	dest := flag.String("dest", "", "destination host:port (overrides config)")
	key := flag.String("key", "", "base64 256-bit wire key (overrides config)")
	channels := flag.StringArray("channel", nil, "channel to join as id[:volume[:pan]] (repeatable)")
	transmit := flag.String("transmit", "", "channel id to transmit the microphone to")
	flag.Parse()

	if *key != "" {
		cfg.Key = *key
	}
	if *dest != "" {
		host, port, err := splitDest(*dest)
		if err != nil {
			log.Fatalf("[main] %v", err)
		}
		cfg.DestHost = host
		cfg.DestPort = port
	}
	if cfg.DestHost == "" {
		log.Fatal("[main] no destination: set --dest or dest_host in the config file")
	}

	sess, err := session.New(cfg)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	if err := sess.Start(cfg.DestHost, cfg.DestPort); err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer sess.Stop()

	for _, arg := range *channels {
		id, volume, pan, err := parseChannelArg(arg)
		if err != nil {
			log.Fatalf("[main] %v", err)
		}
		if err := sess.AddChannel(id, volume, pan); err != nil {
			log.Fatalf("[main] %v", err)
		}
	}
	if *transmit != "" {
		if err := sess.BeginTransmit(*transmit); err != nil {
			log.Fatalf("[main] %v", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("[main] shutting down")
}

// splitDest parses a host:port destination argument.
func splitDest(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("parse dest %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("parse dest %q: bad port", s)
	}
	return host, port, nil
}

// parseChannelArg parses a --channel argument of the form id[:volume[:pan]],
// e.g. "alpha", "alpha:0.8", "alpha:1.0:left".
func parseChannelArg(s string) (string, float64, mixer.Pan, error) {
	parts := strings.Split(s, ":")
	id := parts[0]
	if id == "" {
		return "", 0, mixer.PanCenter, fmt.Errorf("parse channel %q: empty id", s)
	}
	volume := 1.0
	pan := mixer.PanCenter
	if len(parts) > 1 && parts[1] != "" {
		v, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return "", 0, mixer.PanCenter, fmt.Errorf("parse channel %q: bad volume: %w", s, err)
		}
		volume = v
	}
	if len(parts) > 2 {
		p, err := mixer.ParsePan(parts[2])
		if err != nil {
			return "", 0, mixer.PanCenter, fmt.Errorf("parse channel %q: %w", s, err)
		}
		pan = p
	}
	if len(parts) > 3 {
		return "", 0, mixer.PanCenter, fmt.Errorf("parse channel %q: too many fields", s)
	}
	return id, volume, pan, nil
}
