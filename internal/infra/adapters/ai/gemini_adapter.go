// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"splitmate-scan/internal/domain/ports/adapter"
)

var (
	_ adapter.VisionAdapter = (*GeminiAdapter)(nil)
	_ adapter.HealthChecker = (*GeminiAdapter)(nil)
)

type GeminiAdapter struct {
	client *genai.Client
	model  string
	maxOut int
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, model string, maxOut int) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiAdapter{client: c, model: model, maxOut: maxOut}, nil
}

func (g *GeminiAdapter) Info() adapter.ModelInfo {
	return adapter.ModelInfo{Provider: "gemini", Name: g.model}
}

// Generate sends the image inline next to the instruction. Errors keep the
// SDK's text ("Error 429 ... RESOURCE_EXHAUSTED") so callers can classify.
func (g *GeminiAdapter) Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", errors.New("gemini: empty image")
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = int32(g.maxOut)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini api: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini api: empty response")
	}
	return text, nil
}

// Ping checks that the configured model is reachable with this key.
func (g *GeminiAdapter) Ping(ctx context.Context) error {
	_, err := g.client.Models.Get(ctx, g.model, nil)
	return err
}
