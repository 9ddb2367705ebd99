package repository

import (
	"context"

	"splitmate-scan/internal/domain/model"
)

// ScanOutcomeRepository archives terminal jobs after they leave the store.
type ScanOutcomeRepository interface {
	Save(ctx context.Context, o *model.ScanOutcome) error
	CountByStatus(ctx context.Context) (map[model.ScanJobStatus]int, error)
	Ping(ctx context.Context) error
}
