// Package slots implements the 256-slot PULSAR scheduler: each allocated
// slot owns a periodic TICK+RENDER ticker, serialized through a single
// writer onto the PULSAR command channel.
package slots

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quasar-relay/quasar/internal/frame"
	"github.com/quasar-relay/quasar/internal/logger"
	"github.com/quasar-relay/quasar/internal/pulsarchan"
)

const maxSlots = 256

// Sprite is a single spawned entity within a slot, carrying exactly the
// fields PULSAR's SPAWN grammar defines.
type Sprite struct {
	ID      string
	Kind    string
	X, Y    int
	Len0    float64
	Dtheta  float64
	Valence float64
}

// Slot is one allocated PULSAR partition.
type Slot struct {
	FPS, Cols, Rows int
	TickMS          int
	Sprites         []Sprite

	ticker *time.Ticker
	stop   chan struct{}
}

// command is a unit of work the single writer goroutine executes in order.
// Bundling "set current slot" with the TICK/RENDER send as one closure is
// what gives the pairing its atomicity: no other slot's command can
// interleave between the two lines.
type command func() error

// Scheduler owns the 256-slot array and the single writer goroutine that
// serializes all outbound PULSAR commands (slot ticks as well as
// control-path sends like bridge-spawn INIT/DESTROY).
type Scheduler struct {
	channel pulsarchan.Channel
	parser  *frame.Parser

	mu    sync.RWMutex
	slots [maxSlots]*Slot

	cmdCh chan command
	done  chan struct{}
}

// New starts the single writer goroutine and returns a ready Scheduler.
func New(ctx context.Context, channel pulsarchan.Channel, parser *frame.Parser) *Scheduler {
	s := &Scheduler{
		channel: channel,
		parser:  parser,
		cmdCh:   make(chan command, 256),
		done:    make(chan struct{}),
	}
	go s.writeLoop(ctx)
	return s
}

func (s *Scheduler) writeLoop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case cmd := <-s.cmdCh:
			if err := cmd(); err != nil {
				logger.Warn("slots: command failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// post enqueues cmd for the writer goroutine and returns once it is queued
// (or ctx was cancelled first). It does not wait for cmd to run; callers
// that need the outcome wait on a channel the command itself signals.
func (s *Scheduler) post(ctx context.Context, cmd command) error {
	select {
	case s.cmdCh <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) sendLine(ctx context.Context, line string) error {
	return s.channel.SendCommand(ctx, line)
}

// InitSlot allocates slot n, sends INIT, and starts its ticker goroutine.
func (s *Scheduler) InitSlot(ctx context.Context, n, cols, rows, fps int) error {
	if n < 0 || n >= maxSlots {
		return fmt.Errorf("slots: index %d out of range", n)
	}
	if fps <= 0 {
		return fmt.Errorf("slots: invalid fps %d", fps)
	}

	s.mu.Lock()
	if s.slots[n] != nil {
		s.mu.Unlock()
		return fmt.Errorf("slots: slot %d already allocated", n)
	}
	tickMS := 1000 / fps
	slot := &Slot{FPS: fps, Cols: cols, Rows: rows, TickMS: tickMS, stop: make(chan struct{})}
	s.slots[n] = slot
	s.mu.Unlock()

	line := fmt.Sprintf("%d INIT %d %d %d", n, cols, rows, fps)
	sent := make(chan error, 1)
	if err := s.post(ctx, func() error {
		err := s.sendLine(ctx, line)
		sent <- err
		return err
	}); err != nil {
		s.mu.Lock()
		s.slots[n] = nil
		s.mu.Unlock()
		return err
	}
	if err := <-sent; err != nil {
		s.mu.Lock()
		s.slots[n] = nil
		s.mu.Unlock()
		return err
	}

	interval := time.Duration(tickMS) * time.Millisecond
	slot.ticker = time.NewTicker(interval)
	go s.tickLoop(ctx, n, slot)
	return nil
}

func (s *Scheduler) tickLoop(ctx context.Context, n int, slot *Slot) {
	defer slot.ticker.Stop()
	for {
		select {
		case <-slot.ticker.C:
			s.tickSlot(ctx, n, slot.TickMS)
		case <-slot.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tickSlot posts a single command that atomically sets the frame parser's
// current-slot tag and sends TICK then RENDER — this ordering guarantee is
// what lets the frame parser attribute each emitted frame to the right slot.
func (s *Scheduler) tickSlot(ctx context.Context, n, tickMS int) {
	_ = s.post(ctx, func() error {
		s.parser.SetCurrentSlot(n)
		if err := s.sendLine(ctx, fmt.Sprintf("%d TICK %d", n, tickMS)); err != nil {
			return err
		}
		return s.sendLine(ctx, fmt.Sprintf("%d RENDER", n))
	})
}

// DestroySlot idempotently stops slot n's ticker, sends DESTROY, and frees
// the array entry.
func (s *Scheduler) DestroySlot(ctx context.Context, n int) {
	if n < 0 || n >= maxSlots {
		return
	}
	s.mu.Lock()
	slot := s.slots[n]
	s.slots[n] = nil
	s.mu.Unlock()
	if slot == nil {
		return
	}
	close(slot.stop)

	line := fmt.Sprintf("%d DESTROY", n)
	done := make(chan struct{})
	_ = s.post(ctx, func() error {
		defer close(done)
		return s.sendLine(ctx, line)
	})
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// SpawnSprite adds a sprite to slot n and sends the SPAWN command, carrying
// the sprite's initial length, angular velocity, and valence. No-op if n is
// unallocated.
func (s *Scheduler) SpawnSprite(ctx context.Context, n int, id, kind string, x, y int, len0, dtheta, valence float64) error {
	if n < 0 || n >= maxSlots {
		return fmt.Errorf("slots: index %d out of range", n)
	}
	s.mu.Lock()
	slot := s.slots[n]
	if slot != nil {
		slot.Sprites = append(slot.Sprites, Sprite{ID: id, Kind: kind, X: x, Y: y, Len0: len0, Dtheta: dtheta, Valence: valence})
	}
	s.mu.Unlock()
	if slot == nil {
		return nil
	}

	line := fmt.Sprintf("%d SPAWN %s %d %d %g %g %g", n, kind, x, y, len0, dtheta, valence)
	errCh := make(chan error, 1)
	if err := s.post(ctx, func() error {
		err := s.sendLine(ctx, line)
		errCh <- err
		return err
	}); err != nil {
		return err
	}
	return <-errCh
}

// AllocatedCount reports how many of the 256 slots are currently in use,
// for the metrics surface's quasar_slots_allocated gauge.
func (s *Scheduler) AllocatedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, slot := range s.slots {
		if slot != nil {
			n++
		}
	}
	return n
}

// Shutdown stops every allocated slot's ticker without sending DESTROY
// (used on process shutdown, where the whole PULSAR channel is about to
// close anyway).
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, slot := range s.slots {
		if slot == nil {
			continue
		}
		close(slot.stop)
		s.slots[i] = nil
	}
}
