// Package daemon wires every component together and runs the relay
// process end to end: HTTP listener, OSC UDP listener, PULSAR channel,
// slot scheduler, and supervisor registration, with coordinated shutdown.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quasar-relay/quasar/internal/config"
	"github.com/quasar-relay/quasar/internal/control"
	"github.com/quasar-relay/quasar/internal/frame"
	"github.com/quasar-relay/quasar/internal/hub"
	"github.com/quasar-relay/quasar/internal/logger"
	"github.com/quasar-relay/quasar/internal/oscingest"
	"github.com/quasar-relay/quasar/internal/pulsarchan"
	"github.com/quasar-relay/quasar/internal/slots"
	"github.com/quasar-relay/quasar/internal/supervisor"
	"github.com/quasar-relay/quasar/internal/voice"
)

const (
	shutdownDeadline = 5 * time.Second
	pulsarGrace      = 1 * time.Second
)

// pulsarHealth tracks whether the PULSAR channel is believed connected, for
// the quasar_pulsar_up metric.
type pulsarHealth struct {
	mu sync.Mutex
	up bool
}

func (h *pulsarHealth) setDown() {
	h.mu.Lock()
	h.up = false
	h.mu.Unlock()
}

func (h *pulsarHealth) isUp() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.up
}

// Run starts every listener and blocks until a signal or an unrecoverable
// listener error, then shuts everything down in the documented order:
// cancel scheduler context (stops all tickers) -> close OSC listener ->
// close every peer connection -> close the PULSAR channel (QUIT + grace
// period) -> remove the supervisor entry -> HTTP server shutdown.
func Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := voice.New("")
	reg := supervisor.New(cfg.RuntimeDir, "pulsar")
	health := &pulsarHealth{up: true}

	var h *hub.Hub
	var sched *slots.Scheduler
	parser := frame.New(func(slot int, body string) { h.BroadcastFrame(slot, body) })

	onExit := func(err error) {
		logger.Error("daemon: pulsar exited unexpectedly", "error", err)
		health.setDown()
		if sched != nil {
			sched.Shutdown()
		}
		reg.Deregister()
	}

	channel, err := pulsarchan.Open(ctx, cfg, parser.Feed, onExit)
	if err != nil {
		return fmt.Errorf("daemon: open pulsar channel: %w", err)
	}

	commType := "pipe"
	commPath := ""
	if cfg.PulsarMode == config.PulsarModeFIFO {
		commType = "fifo"
		commPath = cfg.PulsarFIFOPath
	}
	reg.Register(os.Getpid(), commType, commPath)

	sched = slots.New(ctx, channel, parser)
	stats := hub.NewStats()
	h = hub.New(state, sched, stats)

	oscListener := oscingest.New(state, h.BroadcastVoiceDelta)

	surface := control.New(h, state)
	h.SetScreenSink(surface)
	mux := http.NewServeMux()
	surface.RegisterRoutes(mux)
	control.RegisterMetrics(mux, h, sched, oscListener, health.isUp)
	mux.Handle("/ws", h)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr(), Handler: mux}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("daemon: http listening", "addr", cfg.HTTPAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http listener: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("daemon: osc listening", "addr", cfg.OSCAddr())
		if err := oscListener.Run(gctx, cfg.OSCAddr()); err != nil {
			return fmt.Errorf("osc listener: %w", err)
		}
		return nil
	})

	select {
	case <-ctx.Done():
		logger.Info("daemon: shutdown signal received")
	case <-gctx.Done():
		logger.Warn("daemon: listener failed, shutting down")
	}

	sched.Shutdown()
	h.CloseAll()

	quitCtx, cancel := context.WithTimeout(context.Background(), pulsarGrace)
	channel.Quit(quitCtx)
	cancel()

	reg.Deregister()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("daemon: http shutdown error", "error", err)
	}

	if err := group.Wait(); err != nil {
		return err
	}
	return nil
}
