// Package frame turns the interleaved lines PULSAR writes on stdout into
// complete per-slot ASCII frames.
package frame

import (
	"strings"
	"sync"

	"github.com/quasar-relay/quasar/internal/logger"
)

// Emitter receives one completed frame, tagged with the slot it belongs to.
type Emitter func(slot int, body string)

// state is the parser's Idle/Accumulating position.
type state int

const (
	stateIdle state = iota
	stateAccumulating
)

// Parser is the single process-wide frame-accumulation state machine. It is
// fed line-by-line, in order, from the PULSAR channel's stdout reader
// goroutine — callers must not call Feed concurrently from more than one
// goroutine, since frame ordering depends on it.
type Parser struct {
	emit Emitter

	mu       sync.Mutex
	st       state
	slot     int
	lines    []string
	Protocol ProtocolCounters
}

// ProtocolCounters tracks malformed-input conditions. They are not exported
// on /metrics.
type ProtocolCounters struct {
	UnexpectedEndFrame int
	DroppedIdleLines   int
}

// New returns a Parser that calls emit for each completed frame.
func New(emit Emitter) *Parser {
	return &Parser{emit: emit}
}

// SetCurrentSlot records which slot the next frame belongs to. The Slot
// Scheduler calls this immediately before sending a TICK+RENDER pair, under
// the same single-writer section that serializes PULSAR commands — this is
// the side channel the parser depends on to attribute frames to slots, since
// PULSAR's own output carries no slot tag.
func (p *Parser) SetCurrentSlot(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slot = slot
}

// Feed processes one line of PULSAR stdout.
func (p *Parser) Feed(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.st {
	case stateIdle:
		if line == "END_FRAME" {
			p.Protocol.UnexpectedEndFrame++
			return
		}
		if isFrameStart(line) {
			p.st = stateAccumulating
			p.lines = append(p.lines[:0], line)
			return
		}
		p.Protocol.DroppedIdleLines++
		logger.Debug("frame: dropped idle line", "line", line)

	case stateAccumulating:
		if line == "END_FRAME" {
			body := strings.Join(p.lines, "\n")
			slot := p.slot
			p.lines = nil
			p.st = stateIdle
			if p.emit != nil {
				p.emit(slot, body)
			}
			return
		}
		p.lines = append(p.lines, line)
	}
}

// isFrameStart reports whether line opens a new frame: the first line after
// a RENDER whose first byte is '|' or '='.
func isFrameStart(line string) bool {
	if line == "" {
		return false
	}
	return line[0] == '|' || line[0] == '='
}
