package oscingest

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/quasar-relay/quasar/internal/voice"
)

func TestListenerAppliesSetMessage(t *testing.T) {
	state := voice.New("")
	deltas := make(chan voice.Delta, 8)
	l := New(state, func(d voice.Delta) { deltas <- d })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.LocalAddr().String()
	ln.Close()

	go l.Run(ctx, addr)
	time.Sleep(20 * time.Millisecond)

	client, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	msg := osc.NewMessage("/quasar/0/set")
	msg.Append(int32(1), int32(10), int32(2), int32(8))
	packed, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := client.Write(packed); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case d := <-deltas:
		if d.Voices == nil || (*d.Voices)[0].Freq != 10 {
			t.Errorf("delta = %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delta")
	}
	if l.Messages.Load() != 1 {
		t.Errorf("Messages = %d, want 1", l.Messages.Load())
	}
}

func TestHandlePacketMalformedIncrementsCounter(t *testing.T) {
	state := voice.New("")
	l := New(state, nil)
	l.handlePacket([]byte("not an osc packet"))
	if l.Malformed.Load() != 1 {
		t.Errorf("Malformed = %d, want 1", l.Malformed.Load())
	}
}
