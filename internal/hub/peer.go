package hub

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// Role tags a peer exactly once, at handshake, and is never mutated
// afterward — a plain field rather than a type switch, matching the
// teacher's ConnectedWing/PTYRoute "tagged struct in a registry" idiom.
type Role int

const (
	RoleBrowser Role = iota
	RoleGameSource
)

func (r Role) String() string {
	if r == RoleBrowser {
		return "browser"
	}
	return "game_source"
}

// outboxSize bounds each browser peer's write buffer. A peer whose outbox
// fills up is dropped rather than allowed to stall the broadcaster.
const outboxSize = 64

// Peer is one connected WebSocket client, either a browser or a
// game-source. Browsers get a dedicated outbox channel and writer
// goroutine; game-sources are written to synchronously, since the only
// traffic they receive is input fan-out, sent directly off the browser's
// read loop rather than through a buffered broadcaster.
type Peer struct {
	ID   string
	Role Role
	Conn *websocket.Conn

	// GameSource-only.
	GameType string
	Slot     int
	hasSlot  bool

	// Browser-only.
	outbox chan []byte
}

func newBrowserPeer(id string, conn *websocket.Conn) *Peer {
	return &Peer{ID: id, Role: RoleBrowser, Conn: conn, outbox: make(chan []byte, outboxSize)}
}

func newGameSourcePeer(id string, conn *websocket.Conn) *Peer {
	return &Peer{ID: id, Role: RoleGameSource, Conn: conn, GameType: "unknown"}
}

// enqueue attempts a non-blocking send to the peer's outbox. Returns false
// if the outbox was full and the message was dropped — the Go expression of
// "back-pressure: peer-drop over producer-stall", mirroring the teacher's
// `select { case ch <- v: default: }` idiom used throughout ws/client.go.
func (p *Peer) enqueue(data []byte) bool {
	select {
	case p.outbox <- data:
		return true
	default:
		return false
	}
}

// writeLoop drains the browser peer's outbox onto its WebSocket connection
// until the outbox is closed or a write fails.
func (p *Peer) writeLoop(ctx context.Context) {
	for data := range p.outbox {
		writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.Conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			return
		}
	}
}
