package hub

import "github.com/quasar-relay/quasar/internal/voice"

// Envelope is the discriminator every WS message is unmarshaled through
// first, mirroring the teacher's ws.Envelope{Type string} pattern: decode
// the type, then re-unmarshal into the concrete struct the type names.
type Envelope struct {
	Type string `json:"t"`
}

const (
	// Game-source -> hub.
	msgRegister = "register"
	msgFrame    = "frame"

	// Browser -> hub.
	msgInput       = "input"
	msgScreen      = "screen"
	msgBridgeSpawn = "bridge.spawn"
	msgPing        = "ping"

	// Hub -> browser.
	msgSync        = "sync"
	msgSound       = "snd"
	msgBridgeReady = "bridge.ready"
	msgBridgeError = "bridge.error"
	msgPong        = "pong"
)

// registerMsg classifies a freshly connected game-source.
type registerMsg struct {
	Type     string `json:"t"`
	GameType string `json:"gameType"`
}

// gameFrameMsg is what a game-source sends: an ASCII frame body plus an
// optional voice-state delta riding along on the same message.
type gameFrameMsg struct {
	Type string       `json:"t"`
	Slot int          `json:"slot"`
	Body string       `json:"body"`
	Snd  *voice.Delta `json:"snd,omitempty"`
}

// frameMsg is what the hub broadcasts to browsers: a completed frame,
// either forwarded from a game-source or emitted by the managed PULSAR
// frame parser.
type frameMsg struct {
	Type    string `json:"t"`
	Slot    int    `json:"slot"`
	Display string `json:"display"`
	Ts      int64  `json:"ts"`
}

// inputMsg is browser keyboard/control input. Forwarded unchanged to every
// connected game-source.
type inputMsg struct {
	Type string `json:"t"`
	Slot int    `json:"slot"`
	Data string `json:"data"`
}

// screenMsg is a browser's report of the currently rendered screen, stored
// for the Control/Query Surface's /api/screen.
type screenMsg struct {
	Type   string `json:"t"`
	Screen string `json:"screen"`
}

// bridgeSpawnMsg requests a new slot for Game, at the requested Channel.
// Built-in game types are answered directly by the hub without touching
// PULSAR; everything else is spawned at the fixed PULSAR geometry.
type bridgeSpawnMsg struct {
	Type    string `json:"t"`
	Game    string `json:"game"`
	Channel int    `json:"channel"`
}

type bridgeReadyMsg struct {
	Type   string `json:"t"`
	Game   string `json:"game"`
	Slot   int    `json:"slot"`
	Status string `json:"status"` // "ok" or "builtin"
}

type bridgeErrorMsg struct {
	Type  string `json:"t"`
	Game  string `json:"game"`
	Slot  int    `json:"slot"`
	Error string `json:"error"`
}

// syncMsg is sent once, immediately after a browser connects, carrying the
// full current voice-state snapshot.
type syncMsg struct {
	Type  string         `json:"t"`
	Voice voice.Snapshot `json:"snd"`
}

// soundMsg carries an incremental voice-state delta.
type soundMsg struct {
	Type  string      `json:"t"`
	Delta voice.Delta `json:"snd"`
}

type pongMsg struct {
	Type string `json:"t"`
	Ts   int64  `json:"ts"`
}
