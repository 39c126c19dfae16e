package pulsarchan

import (
	"context"
	"fmt"

	"github.com/quasar-relay/quasar/internal/config"
)

// Open establishes a Channel according to cfg's configured transport.
func Open(ctx context.Context, cfg *config.Config, onLine LineHandler, onExit ExitHandler) (Channel, error) {
	switch cfg.PulsarMode {
	case config.PulsarModeSubprocess:
		return StartSubprocess(ctx, cfg.PulsarBinPath, onLine, onExit)
	case config.PulsarModeFIFO:
		return OpenFIFO(ctx, cfg.PulsarFIFOPath)
	default:
		return nil, fmt.Errorf("pulsarchan: unknown mode %q", cfg.PulsarMode)
	}
}
