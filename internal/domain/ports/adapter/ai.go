package adapter

import "context"

// ModelInfo describes the model behind a vision adapter.
type ModelInfo struct {
	Provider string
	Name     string
}

// VisionAdapter is the port for image-understanding LLM calls.
type VisionAdapter interface {
	// Info names the provider and model, used for logs and metrics.
	Info() ModelInfo

	// Generate sends prompt together with one image (or PDF) and returns the
	// model's raw text answer.
	Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// HealthChecker is implemented by adapters that can report reachability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
