package ai

import (
	"context"

	"golang.org/x/time/rate"

	"splitmate-scan/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.VisionAdapter = (*limitedVision)(nil)

// limitedVision bounds concurrent upstream calls and, optionally, their rate.
// Waiting respects ctx, so a caller's deadline also covers queueing.
type limitedVision struct {
	inner   adapter.VisionAdapter
	sem     chan struct{}
	limiter *rate.Limiter
}

func NewLimitedVision(inner adapter.VisionAdapter, maxConcurrent int, perSecond float64) adapter.VisionAdapter {
	if maxConcurrent <= 0 && perSecond <= 0 {
		return inner
	}
	l := &limitedVision{inner: inner}
	if maxConcurrent > 0 {
		l.sem = make(chan struct{}, maxConcurrent)
	}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return l
}

func (l *limitedVision) Info() adapter.ModelInfo { return l.inner.Info() }

func (l *limitedVision) Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return l.inner.Generate(ctx, prompt, image, mimeType)
}

// Ping forwards to the wrapped adapter when it supports health checks.
func (l *limitedVision) Ping(ctx context.Context) error {
	if hc, ok := l.inner.(adapter.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}
