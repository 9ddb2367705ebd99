package ratelimit

import (
	"context"

	"github.com/rs/zerolog"

	"splitmate-scan/internal/infra/logging"
	"splitmate-scan/internal/infra/metrics"
)

var _ Strategy = (*Fallback)(nil)

// Fallback prefers the durable strategy and answers from the local one when
// the durable store fails, so a store outage never rejects requests by itself.
type Fallback struct {
	primary Strategy
	local   Strategy
	log     *zerolog.Logger
}

func NewFallback(primary, local Strategy, logger *zerolog.Logger) *Fallback {
	return &Fallback{primary: primary, local: local, log: logging.Component(logger, "RateLimitFallback")}
}

func (f *Fallback) Name() string { return f.primary.Name() }

func (f *Fallback) Limit(ctx context.Context, clientID string) (Result, error) {
	res, err := f.primary.Limit(ctx, clientID)
	if err == nil {
		return res, nil
	}
	metrics.IncRateLimitFallback()
	f.log.Warn().Err(err).Str("primary", f.primary.Name()).Msg("rate limit store failed, using in-process window")
	return f.local.Limit(ctx, clientID)
}
