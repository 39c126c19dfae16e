package pulsarchan

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/quasar-relay/quasar/internal/logger"
)

// FIFO is the alternative PULSAR transport: an externally supervised PULSAR
// process (registered with the TSM, started and restarted outside quasard's
// process tree) reads commands from a named pipe on disk. quasard never
// reads PULSAR's output in this mode — frame data must reach the hub by
// some other route the external supervisor configures, which is why the
// frame parser is only ever wired to the subprocess transport.
type FIFO struct {
	path string

	mu     sync.Mutex
	f      *os.File
	closed bool
}

// OpenFIFO creates path as a named pipe if it does not already exist, then
// opens it for writing. The open blocks until PULSAR (or whatever the TSM
// has started against that path) opens the read end, so callers should run
// this in a goroutine rather than on the startup critical path.
func OpenFIFO(ctx context.Context, path string) (*FIFO, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := unix.Mkfifo(path, 0o600); err != nil {
			return nil, fmt.Errorf("pulsarchan: mkfifo %s: %w", path, err)
		}
	}

	type openResult struct {
		f   *os.File
		err error
	}
	resultCh := make(chan openResult, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_WRONLY, os.ModeNamedPipe)
		resultCh <- openResult{f, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("pulsarchan: open fifo %s: %w", path, res.err)
		}
		logger.Info("pulsarchan: fifo opened", "path", path)
		return &FIFO{path: path, f: res.f}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendCommand writes line to the pipe, reopening the write end first if a
// prior write invalidated the cached descriptor. A reopen is attempted
// non-blocking, since there is no reader to wait for if PULSAR is down;
// callers see ErrUnavailable immediately rather than stalling.
func (fi *FIFO) SendCommand(ctx context.Context, line string) error {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if fi.closed {
		return ErrUnavailable
	}

	if fi.f == nil {
		f, err := os.OpenFile(fi.path, os.O_WRONLY|os.O_NONBLOCK, os.ModeNamedPipe)
		if err != nil {
			return fmt.Errorf("%w: reopen %s: %v", ErrUnavailable, fi.path, err)
		}
		fi.f = f
		logger.Info("pulsarchan: fifo reopened", "path", fi.path)
	}

	if _, err := fi.f.WriteString(line + "\n"); err != nil {
		fi.f.Close()
		fi.f = nil
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (fi *FIFO) Quit(ctx context.Context) error {
	return fi.SendCommand(ctx, "QUIT")
}

func (fi *FIFO) Close() error {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.closed = true
	if fi.f == nil {
		return nil
	}
	err := fi.f.Close()
	fi.f = nil
	return err
}
