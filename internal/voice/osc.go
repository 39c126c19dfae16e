package voice

import (
	"strconv"
	"strings"
)

// ApplyOSCMessage recognizes the /quasar/... address schema and mutates the
// state accordingly, returning the delta to broadcast (possibly empty for
// no-ops and malformed messages — both are silent by design, OSC is a
// best-effort control plane).
func (s *State) ApplyOSCMessage(address string, args []any) Delta {
	switch {
	case address == "/quasar/mode":
		return s.applyMode(args)
	case strings.HasPrefix(address, "/quasar/trigger/"):
		return s.applyTrigger(strings.TrimPrefix(address, "/quasar/trigger/"), args)
	case strings.HasSuffix(address, "/set") && strings.HasPrefix(address, "/quasar/"):
		return s.applySet(address, args)
	case strings.HasSuffix(address, "/gate") && strings.HasPrefix(address, "/quasar/"):
		return s.applyGate(address, args)
	default:
		return Delta{}
	}
}

func (s *State) applyMode(args []any) Delta {
	if len(args) != 1 {
		return Delta{}
	}
	mode, ok := args[0].(string)
	if !ok {
		return Delta{}
	}
	return s.ApplyDelta(Delta{Mode: &mode})
}

func (s *State) applyTrigger(name string, args []any) Delta {
	if name == "" {
		return Delta{}
	}
	trig := Trigger{Name: name}
	if len(args) == 1 {
		if n, ok := asInt(args[0]); ok {
			trig.Voice = n
		}
	} else if len(args) > 1 {
		return Delta{}
	}
	// Broadcast-only: never persisted to the snapshot.
	return Delta{Trigger: []Trigger{trig}}
}

// voiceIndex parses the "<n>" segment out of an address shaped like
// "/quasar/<n>/set" or "/quasar/<n>/gate".
func voiceIndex(address string) (int, bool) {
	parts := strings.Split(strings.Trim(address, "/"), "/")
	if len(parts) != 3 || parts[0] != "quasar" {
		return 0, false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 0 || n >= 4 {
		return 0, false
	}
	return n, true
}

func (s *State) applySet(address string, args []any) Delta {
	n, ok := voiceIndex(address)
	if !ok || len(args) != 4 {
		return Delta{}
	}
	gate, ok1 := asInt(args[0])
	freq, ok2 := asInt(args[1])
	wave, ok3 := asInt(args[2])
	vol, ok4 := asInt(args[3])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Delta{}
	}
	delta, ok := s.ReplaceVoice(n, Voice{Gate: gate, Freq: freq, Wave: wave, Vol: vol})
	if !ok {
		return Delta{}
	}
	return delta
}

func (s *State) applyGate(address string, args []any) Delta {
	n, ok := voiceIndex(address)
	if !ok || len(args) != 1 {
		return Delta{}
	}
	gate, ok := asInt(args[0])
	if !ok {
		return Delta{}
	}
	current, ok := s.Voice(n)
	if !ok {
		return Delta{}
	}
	current.Gate = gate
	delta, ok := s.ReplaceVoice(n, current)
	if !ok {
		return Delta{}
	}
	return delta
}

// asInt coerces common OSC numeric argument types (int32, int64, float32,
// float64 — decoder-dependent) into an int.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
