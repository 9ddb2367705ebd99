package repository

import (
	"context"

	"splitmate-scan/internal/domain/model"
)

// ScanJobStore owns every scan job for its whole lifetime.
//
// Mutators called with an id that no longer exists (evicted or expired while
// the worker was running) log and return nil.
type ScanJobStore interface {
	Create(ctx context.Context, meta model.FileMeta, buf []byte) (*model.ScanJob, error)
	Get(ctx context.Context, id string) (*model.ScanJob, error)
	GetStatus(ctx context.Context, id string) (*model.ScanJobView, error)

	MarkScanning(ctx context.Context, id string, attempt int) error
	MarkRetrying(ctx context.Context, id string, attempt int) error
	MarkSuccess(ctx context.Context, id string, items []model.LineItem) error
	MarkFailed(ctx context.Context, id string, jobErr model.JobError) error

	Stats(ctx context.Context) (model.JobStats, error)

	// SweepExpired deletes jobs older than the configured expiration and
	// returns how many were removed.
	SweepExpired(ctx context.Context) (int, error)
}
