package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"splitmate-scan/internal/config"
	"splitmate-scan/internal/domain/ports/adapter"
)

const maxOutputTokens = 2048

// NewVisionFromConfig builds every provider that has a key, orders them with
// cfg.Provider first and wraps the result with the call limiter. The noop
// adapter is used when explicitly selected, or in dev mode when no key is set.
func NewVisionFromConfig(ctx context.Context, cfg config.AIConfig, dev bool, logger *zerolog.Logger) (adapter.VisionAdapter, error) {
	byProvider := map[string]adapter.VisionAdapter{}

	if cfg.Provider == "noop" {
		byProvider["noop"] = NewNoopVisionAdapter(500*time.Millisecond, logger)
	} else {
		if cfg.GeminiKey != "" {
			g, err := NewGeminiAdapter(ctx, cfg.GeminiKey, cfg.GeminiURL, cfg.GeminiModel, maxOutputTokens)
			if err != nil {
				return nil, fmt.Errorf("gemini adapter: %w", err)
			}
			byProvider["gemini"] = g
		}
		if cfg.OpenAIKey != "" {
			o, err := NewOpenAIAdapter(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, maxOutputTokens)
			if err != nil {
				return nil, fmt.Errorf("openai adapter: %w", err)
			}
			byProvider["openai"] = o
		}
		if len(byProvider) == 0 {
			if !dev {
				return nil, errors.New("no vision provider key configured (GEMINI_API_KEY or OPENAI_API_KEY)")
			}
			byProvider["noop"] = NewNoopVisionAdapter(500*time.Millisecond, logger)
		}
	}

	preferred := cfg.Provider
	if preferred == "" {
		preferred = "gemini"
	}
	multi, err := NewMultiVisionAdapter(preferred, byProvider, logger)
	if err != nil {
		return nil, err
	}
	return NewLimitedVision(multi, cfg.ConcurrentLimit, cfg.RequestsPerSecond), nil
}
