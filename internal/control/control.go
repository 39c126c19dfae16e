// Package control implements the status/screen/health HTTP surface:
// read-only snapshots of relay state for operators and monitoring.
package control

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/quasar-relay/quasar/internal/hub"
	"github.com/quasar-relay/quasar/internal/voice"
)

// ScreenProvider exposes the current screen snapshot for /api/screen.
type ScreenProvider interface {
	CurrentScreen() string
}

// Surface serves the control/query endpoints against a Hub and a voice
// State without sharing any mutable state of its own beyond the screen
// holder below.
type Surface struct {
	hub       *hub.Hub
	voice     *voice.State
	startedAt time.Time

	mu     sync.RWMutex
	screen string
}

// New returns a Surface backed by the given hub and voice state.
func New(h *hub.Hub, state *voice.State) *Surface {
	return &Surface{hub: h, voice: state, startedAt: time.Now()}
}

// SetScreen updates the screen snapshot /api/screen serves. Called by the
// hub when a browser reports its screen with a "screen" message.
func (s *Surface) SetScreen(body string) {
	s.mu.Lock()
	s.screen = body
	s.mu.Unlock()
}

func (s *Surface) CurrentScreen() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.screen
}

type statusResponse struct {
	Status          string         `json:"status"`
	UptimeMS        int64          `json:"uptime_ms"`
	ClientsCount    int            `json:"clients_count"`
	GameSourceCount int            `json:"gameSources_count"`
	Stats           hub.Snapshot   `json:"stats"`
	SoundState      voice.Snapshot `json:"soundState"`
}

// RegisterRoutes wires the three endpoints onto mux, following the teacher's
// `mux.HandleFunc("GET /path", handler)` registration style.
func (s *Surface) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/screen", s.handleScreen)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
}

func (s *Surface) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:          "ok",
		UptimeMS:        time.Since(s.startedAt).Milliseconds(),
		ClientsCount:    s.hub.BrowserCount(),
		GameSourceCount: s.hub.GameSourceCount(),
		Stats:           s.hub.StatsSnapshot(),
		SoundState:      s.voice.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Surface) handleScreen(w http.ResponseWriter, r *http.Request) {
	screen := s.CurrentScreen()
	if screen == "" {
		screen = "(no frame yet)"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(screen))
}

func (s *Surface) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}
