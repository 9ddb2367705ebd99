package ai

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"splitmate-scan/internal/domain/ports/adapter"
	"splitmate-scan/internal/infra/logging"
)

var _ adapter.VisionAdapter = (*NoopVisionAdapter)(nil)

// NoopCannedReceipt is what the noop adapter answers for every image.
const NoopCannedReceipt = `Here are the items:
[{"name":"Margherita Pizza","price":12.5},{"name":"Sparkling Water","price":"3.00"},{"name":"VAT 10%","price":1.55}]`

// NoopVisionAdapter serves local/dev runs without a provider key. It waits a
// little and returns a fixed receipt.
type NoopVisionAdapter struct {
	delay time.Duration
	log   *zerolog.Logger
}

func NewNoopVisionAdapter(delay time.Duration, logger *zerolog.Logger) *NoopVisionAdapter {
	return &NoopVisionAdapter{delay: delay, log: logging.Component(logger, "NoopVision")}
}

func (a *NoopVisionAdapter) Info() adapter.ModelInfo {
	return adapter.ModelInfo{Provider: "noop", Name: "noop-vision"}
}

func (a *NoopVisionAdapter) Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	a.log.Debug().Int("bytes", len(image)).Str("mime", mimeType).Msg("noop vision call")
	return NoopCannedReceipt, nil
}
