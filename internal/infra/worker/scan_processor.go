// File: internal/infra/worker/scan_processor.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"splitmate-scan/internal/domain"
	"splitmate-scan/internal/domain/model"
	"splitmate-scan/internal/domain/ports/repository"
	"splitmate-scan/internal/infra/logging"
	"splitmate-scan/internal/infra/metrics"
	"splitmate-scan/internal/usecase"
)

// Extractor is the part of usecase.ExtractionClient the processor needs.
type Extractor interface {
	AnalyzeWithRetry(ctx context.Context, buf []byte, mimeType string, hooks usecase.RetryHooks) ([]model.LineItem, error)
}

var _ usecase.Dispatcher = (*ScanProcessor)(nil)

// ScanProcessor owns a job from dispatch to its terminal state. Every path,
// panics included, ends in MarkSuccess or MarkFailed.
type ScanProcessor struct {
	store     repository.ScanJobStore
	extractor Extractor
	archive   repository.ScanOutcomeRepository // optional
	pool      *Pool
	dev       bool
	log       *zerolog.Logger
}

func NewScanProcessor(
	store repository.ScanJobStore,
	extractor Extractor,
	archive repository.ScanOutcomeRepository,
	pool *Pool,
	dev bool,
	logger *zerolog.Logger,
) *ScanProcessor {
	return &ScanProcessor{
		store:     store,
		extractor: extractor,
		archive:   archive,
		pool:      pool,
		dev:       dev,
		log:       logging.Component(logger, "ScanProcessor"),
	}
}

// Dispatch schedules Process on the pool and returns immediately.
func (p *ScanProcessor) Dispatch(jobID string) error {
	return p.pool.Submit(func(ctx context.Context) error {
		p.Process(ctx, jobID)
		return nil
	})
}

func (p *ScanProcessor) Process(ctx context.Context, jobID string) {
	ctx = logging.WithJobID(ctx, jobID)
	log := logging.With(ctx, p.log)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("scan task panicked")
			p.fail(ctx, jobID, domain.NewScanError(domain.CodeServerError, fmt.Errorf("panic: %v", r)))
		}
	}()

	job, err := p.store.Get(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		log.Warn().Msg("job gone before processing (expired or evicted)")
		return
	}
	if err != nil {
		p.fail(ctx, jobID, domain.NewScanError(domain.CodeServerError, fmt.Errorf("load job: %w", err)))
		return
	}
	if job.Status.IsTerminal() {
		return
	}

	log.Info().Str("mime", job.MimeType).Int64("size", job.FileSize).Msg("scan started")
	items, err := p.extractor.AnalyzeWithRetry(ctx, job.FileBuffer, job.MimeType, usecase.RetryHooks{
		OnAttempt: func(attempt int) {
			if err := p.store.MarkScanning(ctx, jobID, attempt); err != nil {
				log.Warn().Err(err).Int("attempt", attempt).Msg("mark scanning failed")
			}
		},
		OnRetry: func(attempt int, _ error, _ time.Duration) {
			if err := p.store.MarkRetrying(ctx, jobID, attempt); err != nil {
				log.Warn().Err(err).Int("attempt", attempt).Msg("mark retrying failed")
			}
		},
	})
	if err != nil {
		p.fail(ctx, jobID, err)
		return
	}

	final := context.WithoutCancel(ctx)
	if err := p.store.MarkSuccess(final, jobID, items); err != nil {
		p.fail(ctx, jobID, domain.NewScanError(domain.CodeServerError, fmt.Errorf("store result: %w", err)))
		return
	}
	if p.finish(final, jobID, model.ScanStatusScanned, "") {
		log.Info().Int("items", len(items)).Dur("duration", time.Since(start)).Msg("scan finished")
	}
}

// fail records err on the job. Terminal writes use a context detached from
// cancellation so shutdown does not leave jobs half-finished.
func (p *ScanProcessor) fail(ctx context.Context, jobID string, err error) {
	final := context.WithoutCancel(ctx)
	log := logging.With(ctx, p.log)

	se, _ := domain.AsScanError(usecase.Categorize(err))
	jobErr := model.JobError{Code: string(se.Code), Message: se.Message, Retryable: se.Retryable}
	if p.dev && se.Err != nil {
		jobErr.Details = se.Err.Error()
	}
	if merr := p.store.MarkFailed(final, jobID, jobErr); merr != nil {
		log.Error().Err(merr).Msg("mark failed failed")
		return
	}
	if p.finish(final, jobID, model.ScanStatusFailed, jobErr.Code) {
		log.Warn().Err(err).Str("code", jobErr.Code).Bool("retryable", jobErr.Retryable).Msg("scan failed")
	}
}

// finish reports whether the terminal write for want actually landed. The
// store ignores writes for evicted jobs and for jobs that are already
// terminal, and neither case is counted or archived.
func (p *ScanProcessor) finish(ctx context.Context, jobID string, want model.ScanJobStatus, code string) bool {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		logging.With(ctx, p.log).Warn().Err(err).Str("status", string(want)).Msg("job gone before its outcome was recorded")
		return false
	}
	if job.Status != want {
		return false
	}
	metrics.ObserveScanJobFinished(string(want), code, time.Since(job.CreatedAt).Seconds())
	p.archiveOutcome(ctx, job)
	return true
}

func (p *ScanProcessor) archiveOutcome(ctx context.Context, job *model.ScanJob) {
	if p.archive == nil {
		return
	}
	if err := p.archive.Save(ctx, model.NewScanOutcome(job)); err != nil {
		metrics.IncArchiveWrite("error")
		logging.With(ctx, p.log).Error().Err(err).Msg("archive outcome failed")
		return
	}
	metrics.IncArchiveWrite("ok")
}
