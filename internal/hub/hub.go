// Package hub implements the WebSocket fan-out hub: the single relay point
// between game-source processes (managed PULSAR slots or external
// game-source connections) and browser rendering clients.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/quasar-relay/quasar/internal/logger"
	"github.com/quasar-relay/quasar/internal/slots"
	"github.com/quasar-relay/quasar/internal/voice"
)

// builtinGameTypes never touch PULSAR — bridge.spawn for one of these
// answers bridge.ready{status:"builtin"} immediately.
var builtinGameTypes = map[string]bool{
	"echo": true,
}

// ScreenSink receives a browser's reported screen state. The Control/Query
// Surface implements this; hub cannot import control directly since control
// already imports hub, so the dependency is inverted through this interface.
type ScreenSink interface {
	SetScreen(string)
}

// Hub owns the browser and game-source peer registries, the shared voice
// state, and the slot scheduler those peers drive.
type Hub struct {
	voice     *voice.State
	scheduler *slots.Scheduler
	stats     *Stats
	screen    ScreenSink

	mu          sync.RWMutex
	browsers    map[*websocket.Conn]*Peer
	gameSources map[*websocket.Conn]*Peer
}

// New returns a Hub wired to the given voice state and slot scheduler.
func New(state *voice.State, scheduler *slots.Scheduler, stats *Stats) *Hub {
	return &Hub{
		voice:       state,
		scheduler:   scheduler,
		stats:       stats,
		browsers:    make(map[*websocket.Conn]*Peer),
		gameSources: make(map[*websocket.Conn]*Peer),
	}
}

// SetScreenSink wires the Control/Query Surface so browser "screen" reports
// update /api/screen. Called once during startup, after both are built.
func (h *Hub) SetScreenSink(sink ScreenSink) {
	h.screen = sink
}

// BroadcastVoiceDelta is the OSC Ingest listener's callback: wrap a voice
// delta as a "snd" message and fan it out to every connected browser.
func (h *Hub) BroadcastVoiceDelta(delta voice.Delta) {
	data, err := json.Marshal(soundMsg{Type: msgSound, Delta: delta})
	if err != nil {
		return
	}
	h.broadcastToBrowsers(data)
}

// BroadcastFrame is the frame parser's emit callback for managed PULSAR
// slots: wrap a completed frame as a "frame" message and fan it out.
func (h *Hub) BroadcastFrame(slot int, body string) {
	h.stats.FramesRelayed.Add(1)
	data, err := json.Marshal(frameMsg{Type: msgFrame, Slot: slot, Display: body, Ts: nowMillis()})
	if err != nil {
		return
	}
	h.broadcastToBrowsers(data)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func (h *Hub) broadcastToBrowsers(data []byte) {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.browsers))
	for _, p := range h.browsers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		if !p.enqueue(data) {
			logger.Warn("hub: dropping slow browser", "peer", p.ID)
			p.Conn.CloseNow()
		}
	}
}

// ServeHTTP upgrades the connection and classifies it by the `role` query
// parameter: role=game -> GameSource, anything else -> BrowserClient.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		logger.Warn("hub: accept failed", "error", err)
		return
	}
	conn.SetReadLimit(1024 * 1024)
	defer conn.CloseNow()

	ctx := r.Context()
	if r.URL.Query().Get("role") == "game" {
		h.handleGameSource(ctx, conn)
		return
	}
	h.handleBrowser(ctx, conn)
}

func (h *Hub) handleBrowser(ctx context.Context, conn *websocket.Conn) {
	peer := newBrowserPeer(uuid.New().String(), conn)

	h.mu.Lock()
	h.browsers[conn] = peer
	h.mu.Unlock()
	h.stats.ClientsConnected.Add(1)

	defer func() {
		h.mu.Lock()
		delete(h.browsers, conn)
		h.mu.Unlock()
		h.stats.ClientsConnected.Add(-1)
		close(peer.outbox)
	}()

	go peer.writeLoop(ctx)

	sync, err := json.Marshal(syncMsg{Type: msgSync, Voice: h.voice.Snapshot()})
	if err == nil {
		peer.enqueue(sync)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		h.handleBrowserMessage(ctx, peer, data)
	}
}

func (h *Hub) handleBrowserMessage(ctx context.Context, peer *Peer, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	switch env.Type {
	case msgInput:
		h.forwardInput(ctx, data)
	case msgScreen:
		var msg screenMsg
		if json.Unmarshal(data, &msg) != nil {
			return
		}
		if h.screen != nil {
			h.screen.SetScreen(msg.Screen)
		}
	case msgBridgeSpawn:
		var msg bridgeSpawnMsg
		if json.Unmarshal(data, &msg) != nil {
			return
		}
		h.handleBridgeSpawn(ctx, peer, msg)
	case msgPing:
		pong, err := json.Marshal(pongMsg{Type: msgPong, Ts: nowMillis()})
		if err == nil {
			peer.enqueue(pong)
		}
	}
}

// forwardInput broadcasts a browser's raw input message, unchanged, to
// every connected game-source — any of them may be driving the slot the
// browser has in view.
func (h *Hub) forwardInput(ctx context.Context, data []byte) {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.gameSources))
	for _, p := range h.gameSources {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for _, p := range peers {
		_ = p.Conn.Write(writeCtx, websocket.MessageText, data)
	}
}

// Fixed PULSAR slot geometry. Bridge-spawn requests never negotiate this;
// every slot runs at the same 60x24 display, ticking 15 times a second.
const (
	pulsarCols = 60
	pulsarRows = 24
	pulsarFPS  = 15
)

// handleBridgeSpawn answers built-in game types directly; anything else
// initializes the requested slot on PULSAR at the fixed geometry and spawns
// two demo sprites to seed the scene.
func (h *Hub) handleBridgeSpawn(ctx context.Context, peer *Peer, msg bridgeSpawnMsg) {
	if builtinGameTypes[msg.Game] {
		reply, err := json.Marshal(bridgeReadyMsg{Type: msgBridgeReady, Game: msg.Game, Slot: msg.Channel, Status: "builtin"})
		if err == nil {
			peer.enqueue(reply)
		}
		return
	}

	slot := msg.Channel
	if err := h.scheduler.InitSlot(ctx, slot, pulsarCols, pulsarRows, pulsarFPS); err != nil {
		h.replyBridgeError(peer, msg.Game, slot, err.Error())
		return
	}
	if err := h.scheduler.SpawnSprite(ctx, slot, uuid.New().String(), "orbiter", 10, 10, 6, 0.2, 0.5); err != nil {
		h.replyBridgeError(peer, msg.Game, slot, err.Error())
		return
	}
	if err := h.scheduler.SpawnSprite(ctx, slot, uuid.New().String(), "orbiter", 40, 14, 4, -0.15, 0.8); err != nil {
		h.replyBridgeError(peer, msg.Game, slot, err.Error())
		return
	}

	h.stats.BridgesSpawned.Add(1)
	reply, err := json.Marshal(bridgeReadyMsg{Type: msgBridgeReady, Game: msg.Game, Slot: slot, Status: "ok"})
	if err == nil {
		peer.enqueue(reply)
	}
}

func (h *Hub) replyBridgeError(peer *Peer, game string, slot int, reason string) {
	reply, err := json.Marshal(bridgeErrorMsg{Type: msgBridgeError, Game: game, Slot: slot, Error: reason})
	if err == nil {
		peer.enqueue(reply)
	}
}

func (h *Hub) handleGameSource(ctx context.Context, conn *websocket.Conn) {
	peer := newGameSourcePeer(uuid.New().String(), conn)

	h.mu.Lock()
	h.gameSources[conn] = peer
	h.mu.Unlock()
	h.stats.ClientsConnected.Add(1)

	defer func() {
		h.mu.Lock()
		delete(h.gameSources, conn)
		h.mu.Unlock()
		h.stats.ClientsConnected.Add(-1)
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		h.handleGameSourceMessage(peer, data)
	}
}

func (h *Hub) handleGameSourceMessage(peer *Peer, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	switch env.Type {
	case msgRegister:
		var msg registerMsg
		if json.Unmarshal(data, &msg) != nil {
			return
		}
		if msg.GameType != "" {
			peer.GameType = msg.GameType
		}
	case msgFrame:
		var msg gameFrameMsg
		if json.Unmarshal(data, &msg) != nil {
			return
		}
		if !peer.hasSlot {
			h.claimSlot(peer, msg.Slot)
		}
		if msg.Snd != nil {
			if applied := h.voice.ApplyDelta(*msg.Snd); !applied.IsEmpty() {
				h.BroadcastVoiceDelta(applied)
			}
		}
		h.BroadcastFrame(msg.Slot, msg.Body)
	}
}

func (h *Hub) claimSlot(peer *Peer, slot int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peer.Slot = slot
	peer.hasSlot = true
}

// StatsSnapshot exposes Stats for the Control/Query Surface and the
// metrics surface.
func (h *Hub) StatsSnapshot() Snapshot {
	return h.stats.Snapshot()
}

// Stats returns the underlying counters, for the Prometheus metrics
// collector to read directly rather than through a JSON-shaped snapshot.
func (h *Hub) Stats() *Stats {
	return h.stats
}

// BrowserCount and GameSourceCount back the Control/Query Surface's status
// response.
func (h *Hub) BrowserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.browsers)
}

func (h *Hub) GameSourceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.gameSources)
}

// CloseAll closes every connected peer, browsers and game-sources alike,
// for graceful shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.browsers)+len(h.gameSources))
	for c := range h.browsers {
		conns = append(conns, c)
	}
	for c := range h.gameSources {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
