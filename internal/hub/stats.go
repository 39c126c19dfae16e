package hub

import (
	"sync/atomic"
	"time"
)

// Stats holds process-wide counters, updated with atomic adds on the hot
// path and read by the Control/Query Surface and the Prometheus metrics
// surface. Not a teacher pattern verbatim (the teacher doesn't use atomics)
// but the idiomatic Go choice for monotonic counters touched from many
// goroutines without a registry-wide lock.
type Stats struct {
	FramesRelayed    atomic.Int64
	ClientsConnected atomic.Int64
	BridgesSpawned   atomic.Int64
	StartedAt        time.Time
}

// NewStats returns a Stats with StartedAt set to now.
func NewStats() *Stats {
	return &Stats{StartedAt: time.Now()}
}

// Snapshot is the plain-value view of Stats suitable for JSON encoding.
type Snapshot struct {
	FramesRelayed    int64     `json:"frames_relayed"`
	ClientsConnected int64     `json:"clients_connected"`
	BridgesSpawned   int64     `json:"bridges_spawned"`
	StartedAt        time.Time `json:"started_at"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		FramesRelayed:    s.FramesRelayed.Load(),
		ClientsConnected: s.ClientsConnected.Load(),
		BridgesSpawned:   s.BridgesSpawned.Load(),
		StartedAt:        s.StartedAt,
		UptimeSeconds:    time.Since(s.StartedAt).Seconds(),
	}
}
