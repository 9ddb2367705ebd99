package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"splitmate-scan/internal/infra/logging"
)

// Sweeper removes stale entries and reports how many were dropped.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// SweepFunc adapts a function to Sweeper.
type SweepFunc func(ctx context.Context) (int, error)

func (f SweepFunc) SweepExpired(ctx context.Context) (int, error) { return f(ctx) }

// ExpiryWorker runs a Sweeper on a fixed interval until ctx ends.
type ExpiryWorker struct {
	name     string
	interval time.Duration
	sweeper  Sweeper
	log      *zerolog.Logger
}

func NewExpiryWorker(name string, interval time.Duration, sweeper Sweeper, logger *zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logging.Component(logger, "ExpiryWorker").With().Str("sweeper", name).Logger()
	return &ExpiryWorker{
		name:     name,
		interval: interval,
		sweeper:  sweeper,
		log:      &l,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of removed entries.
func (w *ExpiryWorker) RunOnce(ctx context.Context) int {
	n, err := w.sweeper.SweepExpired(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("expiry worker error")
		return 0
	}
	if n > 0 {
		w.log.Debug().Int("count", n).Msg("expired entries removed")
	}
	return n
}
