// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"splitmate-scan/internal/domain/ports/adapter"
	"splitmate-scan/internal/infra/logging"
)

var (
	_ adapter.VisionAdapter = (*MultiVisionAdapter)(nil)
	_ adapter.HealthChecker = (*MultiVisionAdapter)(nil)
)

// MultiVisionAdapter sends each call to the preferred provider and fails over
// to the remaining ones, in name order, when it errors.
type MultiVisionAdapter struct {
	order      []string
	byProvider map[string]adapter.VisionAdapter
	log        *zerolog.Logger
}

func NewMultiVisionAdapter(preferred string, byProvider map[string]adapter.VisionAdapter, logger *zerolog.Logger) (*MultiVisionAdapter, error) {
	preferred = strings.ToLower(preferred)
	var rest []string
	for name, a := range byProvider {
		if a == nil || name == preferred {
			continue
		}
		rest = append(rest, name)
	}
	sort.Strings(rest)

	var order []string
	if byProvider[preferred] != nil {
		order = append(order, preferred)
	}
	order = append(order, rest...)
	if len(order) == 0 {
		return nil, errors.New("no vision provider configured")
	}
	return &MultiVisionAdapter{
		order:      order,
		byProvider: byProvider,
		log:        logging.Component(logger, "MultiVision"),
	}, nil
}

// Providers lists provider names in the order they are tried.
func (m *MultiVisionAdapter) Providers() []string {
	return append([]string(nil), m.order...)
}

func (m *MultiVisionAdapter) Info() adapter.ModelInfo {
	return m.byProvider[m.order[0]].Info()
}

func (m *MultiVisionAdapter) Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	var firstErr error
	for i, name := range m.order {
		out, err := m.byProvider[name].Generate(ctx, prompt, image, mimeType)
		if err == nil {
			return out, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
		if i+1 < len(m.order) {
			m.log.Warn().Err(err).Str("provider", name).Str("next", m.order[i+1]).Msg("vision provider failed, trying next")
		}
	}
	return "", firstErr
}

// Ping succeeds when at least one provider is healthy.
func (m *MultiVisionAdapter) Ping(ctx context.Context) error {
	var errs []error
	for _, name := range m.order {
		hc, ok := m.byProvider[name].(adapter.HealthChecker)
		if !ok {
			return nil
		}
		err := hc.Ping(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
