// Package pulsarchan implements the bidirectional line-oriented link to the
// external PULSAR synth engine, in either of its two transports.
package pulsarchan

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by SendCommand when the channel could not be
// established (and the command was dropped rather than queued).
var ErrUnavailable = errors.New("pulsarchan: channel unavailable")

// LineHandler receives one line of PULSAR output at a time, in order.
// Implemented by the frame parser. Only invoked by the subprocess
// transport — the FIFO transport never reads PULSAR output (see the
// specification's open question on FIFO frame ingestion).
type LineHandler func(line string)

// ExitHandler is invoked once, from the subprocess transport's reader
// goroutine, when PULSAR exits unexpectedly (i.e. not as a result of a
// QUIT the channel itself issued).
type ExitHandler func(err error)

// Channel is the hub's view of the PULSAR link: a place to send command
// lines, regardless of which transport is backing it.
type Channel interface {
	// SendCommand writes one command line to PULSAR. It returns
	// ErrUnavailable if the channel is down and the command was dropped.
	SendCommand(ctx context.Context, line string) error

	// Quit sends the QUIT command. The subprocess transport then waits for
	// the process to exit until ctx is done (at most 5s) and kills it
	// otherwise; the FIFO transport returns as soon as QUIT is written.
	Quit(ctx context.Context) error

	// Close tears down the channel unconditionally (used on forced
	// shutdown after the grace period elapses).
	Close() error
}
