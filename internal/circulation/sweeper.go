package circulation

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the sweeper expires reservations.
const DefaultSweepInterval = time.Minute

// Sweeper periodically expires lapsed reservations.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. A non-positive interval uses the default.
func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{manager: m, interval: interval, logger: m.logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
// Failed sweeps are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("reservation sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("reservation sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.manager.ExpireReservations(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("expiring reservations", "error", err)
		return
	}
	if len(expired) > 0 {
		s.logger.Debug("sweep complete", "expired", len(expired))
	}
}
