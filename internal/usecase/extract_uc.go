// File: internal/usecase/extract_uc.go
package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"splitmate-scan/internal/domain"
	"splitmate-scan/internal/domain/model"
	"splitmate-scan/internal/domain/ports/adapter"
	"splitmate-scan/internal/infra/logging"
	"splitmate-scan/internal/infra/metrics"
	"splitmate-scan/internal/retry"
)

type ExtractionOptions struct {
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	RetryFactor float64
	MaxDelay    time.Duration
}

// RetryHooks lets the caller follow the attempts of AnalyzeWithRetry.
type RetryHooks struct {
	OnAttempt func(attempt int)
	OnRetry   func(attempt int, err error, delay time.Duration)
}

// ExtractionClient turns a receipt image into line items through a vision
// model. Every error it returns is a *domain.ScanError.
type ExtractionClient struct {
	vision adapter.VisionAdapter
	opts   ExtractionOptions
	log    *zerolog.Logger
}

func NewExtractionClient(vision adapter.VisionAdapter, opts ExtractionOptions, logger *zerolog.Logger) *ExtractionClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = retry.DefaultMaxAttempts
	}
	return &ExtractionClient{
		vision: vision,
		opts:   opts,
		log:    logging.Component(logger, "ExtractionClient"),
	}
}

// Provider describes the backend for health reporting.
func (c *ExtractionClient) Provider() adapter.ModelInfo { return c.vision.Info() }

// Ping reports whether the vision backend is reachable, when it can tell.
func (c *ExtractionClient) Ping(ctx context.Context) error {
	if hc, ok := c.vision.(adapter.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

type visionReply struct {
	text string
	err  error
}

// Analyze makes a single attempt: call under the timeout, parse, validate.
func (c *ExtractionClient) Analyze(ctx context.Context, buf []byte, mimeType string) ([]model.LineItem, error) {
	defer logging.TraceDuration(c.log, "ExtractionClient.Analyze")()
	info := c.vision.Info()
	start := time.Now()

	items, err := c.analyze(ctx, buf, mimeType)

	outcome := "ok"
	if err != nil {
		err = Categorize(err)
		outcome = string(err.(*domain.ScanError).Code)
	}
	metrics.ObserveExtraction(info.Provider, info.Name, outcome, time.Since(start).Milliseconds(), err == nil)
	return items, err
}

func (c *ExtractionClient) analyze(ctx context.Context, buf []byte, mimeType string) ([]model.LineItem, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	// Buffered so the goroutine can always deliver and exit after we stop
	// listening; cancel() tells the SDK to abandon the request.
	ch := make(chan visionReply, 1)
	go func() {
		text, err := c.vision.Generate(callCtx, ReceiptPrompt, buf, mimeType)
		ch <- visionReply{text: text, err: err}
	}()

	var reply visionReply
	select {
	case reply = <-ch:
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, domain.NewScanError(domain.CodeServerError, ctx.Err())
		}
		return nil, domain.NewScanError(domain.CodeGeminiTimeout, callCtx.Err())
	}
	if reply.err != nil {
		return nil, reply.err
	}

	items, err := ParseLineItems(reply.text)
	if err != nil {
		c.log.Debug().Str("reply", logging.Redact(reply.text, false)).Msg("unparsable model reply")
		return nil, err
	}
	if err := ValidateLineItems(items); err != nil {
		return nil, err
	}
	return items, nil
}

// AnalyzeWithRetry repeats Analyze with exponential backoff and jitter.
// INVALID_RECEIPT is final on the first occurrence.
func (c *ExtractionClient) AnalyzeWithRetry(ctx context.Context, buf []byte, mimeType string, hooks RetryHooks) ([]model.LineItem, error) {
	opts := retry.Options{
		MaxAttempts:  c.opts.MaxRetries,
		InitialDelay: c.opts.RetryDelay,
		Factor:       c.opts.RetryFactor,
		MaxDelay:     c.opts.MaxDelay,
		Jitter:       true,
		ShouldRetry:  func(err error) bool { return !domain.HasCode(err, domain.CodeInvalidReceipt) },
		OnAttempt:    hooks.OnAttempt,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			code := "unknown"
			if se, ok := domain.AsScanError(err); ok {
				code = string(se.Code)
			}
			metrics.IncExtractionRetry(code)
			logging.With(ctx, c.log).Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("extraction attempt failed, retrying")
			if hooks.OnRetry != nil {
				hooks.OnRetry(attempt, err, delay)
			}
		},
	}

	items, err := retry.Do(ctx, opts, func(ctx context.Context, attempt int) ([]model.LineItem, error) {
		return c.Analyze(ctx, buf, mimeType)
	})
	if err != nil {
		return nil, Categorize(err)
	}
	return items, nil
}

// Categorize maps any error onto the public taxonomy. Errors that already
// carry a code keep it; the rest are classified by type, then by message.
func Categorize(err error) error {
	if err == nil {
		return nil
	}
	if se, ok := domain.AsScanError(err); ok {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewScanError(domain.CodeGeminiTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "429", "quota", "resource_exhausted", "resource exhausted", "rate limit", "too many requests"):
		return domain.NewScanError(domain.CodeRateLimited, err).
			WithMessage("The receipt analysis service is busy. Please try again shortly.")
	case containsAny(msg, "timeout", "timed out", "deadline"):
		return domain.NewScanError(domain.CodeGeminiTimeout, err)
	case containsAny(msg, "json", "unmarshal", "parse"):
		return domain.NewScanError(domain.CodeParseFailed, err)
	case containsAny(msg, "api", "gemini", "openai", "upstream", "status", "http", "connection"):
		return domain.NewScanError(domain.CodeGeminiAPI, err)
	default:
		return domain.NewScanError(domain.CodeServerError, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
