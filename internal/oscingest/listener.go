// Package oscingest runs the UDP listener that decodes OSC 1.0 packets into
// voice-state mutations.
package oscingest

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/hypebeast/go-osc/osc"

	"github.com/quasar-relay/quasar/internal/logger"
	"github.com/quasar-relay/quasar/internal/voice"
)

// DeltaHandler is invoked with every non-empty delta produced by a decoded
// OSC message, for broadcast to browser peers.
type DeltaHandler func(voice.Delta)

// Listener owns the UDP socket and counters for incoming OSC traffic.
type Listener struct {
	state   *voice.State
	onDelta DeltaHandler

	Messages    atomic.Int64
	Malformed   atomic.Int64
	SocketError atomic.Int64
}

// New returns a Listener that mutates state and forwards non-empty deltas
// to onDelta.
func New(state *voice.State, onDelta DeltaHandler) *Listener {
	return &Listener{state: state, onDelta: onDelta}
}

// MessagesCount and MalformedCount back the /metrics surface's
// quasar_osc_messages_total and quasar_osc_malformed_total series.
func (l *Listener) MessagesCount() int64  { return l.Messages.Load() }
func (l *Listener) MalformedCount() int64 { return l.Malformed.Load() }

// Run listens on addr (e.g. ":1986") until ctx is cancelled. Read errors
// are counted, logged, and do not stop the listener; Run returns nil on ctx
// cancellation and an error only if resolving or binding addr fails.
func (l *Listener) Run(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("oscingest: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("oscingest: listen %s: %w", addr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 65536)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			l.SocketError.Add(1)
			logger.Warn("oscingest: read error", "error", err)
			continue
		}
		l.handlePacket(buf[:n])
	}
}

func (l *Listener) handlePacket(data []byte) {
	packet, err := osc.ParsePacket(string(data))
	if err != nil {
		l.Malformed.Add(1)
		logger.Debug("oscingest: decode failed", "error", err)
		return
	}
	for _, msg := range flattenMessages(packet) {
		l.Messages.Add(1)
		delta := l.state.ApplyOSCMessage(msg.Address, msg.Arguments)
		if !delta.IsEmpty() && l.onDelta != nil {
			l.onDelta(delta)
		}
	}
}

// flattenMessages walks a Packet (a lone Message, or a Bundle of Messages
// and nested Bundles) into a flat slice, since VoiceState mutation happens
// one OSC message at a time regardless of how they arrived.
func flattenMessages(p osc.Packet) []*osc.Message {
	switch v := p.(type) {
	case *osc.Message:
		return []*osc.Message{v}
	case *osc.Bundle:
		var out []*osc.Message
		for _, m := range v.Messages {
			out = append(out, m)
		}
		for _, b := range v.Bundles {
			out = append(out, flattenMessages(b)...)
		}
		return out
	default:
		return nil
	}
}
