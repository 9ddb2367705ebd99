// File: internal/usecase/scan_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"splitmate-scan/internal/domain"
	"splitmate-scan/internal/domain/model"
	"splitmate-scan/internal/domain/ports/repository"
	"splitmate-scan/internal/infra/logging"
	"splitmate-scan/internal/infra/metrics"
)

// Compile-time check
var _ ScanUseCase = (*scanUC)(nil)

type ScanUseCase interface {
	CreateScan(ctx context.Context, up model.Upload) (*model.ScanJob, error)
	GetStatus(ctx context.Context, jobID string) (*model.ScanJobView, error)
	Stats(ctx context.Context) (model.JobStats, error)
}

// Dispatcher starts background processing of a stored job. It must not block
// on the processing itself.
type Dispatcher interface {
	Dispatch(jobID string) error
}

type UploadPolicy struct {
	MaxBytes         int64
	AllowedMimeTypes []string
}

type scanUC struct {
	store      repository.ScanJobStore
	dispatcher Dispatcher
	maxBytes   int64
	allowed    map[string]struct{}
	log        *zerolog.Logger
}

func NewScanUseCase(store repository.ScanJobStore, dispatcher Dispatcher, policy UploadPolicy, logger *zerolog.Logger) *scanUC {
	allowed := make(map[string]struct{}, len(policy.AllowedMimeTypes))
	for _, m := range policy.AllowedMimeTypes {
		allowed[normalizeMime(m)] = struct{}{}
	}
	return &scanUC{
		store:      store,
		dispatcher: dispatcher,
		maxBytes:   policy.MaxBytes,
		allowed:    allowed,
		log:        logging.Component(logger, "ScanUseCase"),
	}
}

// CreateScan validates the upload, stores a QUEUED job and hands it to the
// dispatcher. It returns as soon as the job is queued.
func (s *scanUC) CreateScan(ctx context.Context, up model.Upload) (*model.ScanJob, error) {
	if len(up.Data) == 0 {
		return nil, domain.NewScanError(domain.CodeNoFile, nil)
	}
	if s.maxBytes > 0 && up.Size() > s.maxBytes {
		return nil, domain.NewScanError(domain.CodeFileTooLarge, nil).
			WithMessage(fmt.Sprintf("File too large. Maximum size is %dMB.", s.maxBytes/(1024*1024)))
	}
	mt := s.resolveMime(up)
	if _, ok := s.allowed[mt]; !ok {
		return nil, domain.NewScanError(domain.CodeInvalidFileType, fmt.Errorf("mime type %q", mt))
	}

	meta := model.FileMeta{FileName: up.FileName, FileSize: up.Size(), MimeType: mt}
	job, err := s.store.Create(ctx, meta, up.Data)
	if err != nil {
		return nil, domain.NewScanError(domain.CodeServerError, fmt.Errorf("store job: %w", err))
	}
	metrics.IncScanJobCreated()

	log := logging.With(logging.WithJobID(ctx, job.ID), s.log)
	if err := s.dispatcher.Dispatch(job.ID); err != nil {
		log.Error().Err(err).Msg("dispatch failed")
		_ = s.store.MarkFailed(ctx, job.ID, model.JobError{
			Code:      string(domain.CodeServerError),
			Message:   domain.DefaultMessage(domain.CodeServerError),
			Retryable: true,
		})
		return nil, domain.NewScanError(domain.CodeServerError, err)
	}
	log.Info().Str("file", up.FileName).Int64("size", meta.FileSize).Str("mime", mt).Msg("scan job queued")
	return job, nil
}

// resolveMime trusts the declared type unless it is missing or generic, in
// which case the content is sniffed.
func (s *scanUC) resolveMime(up model.Upload) string {
	mt := normalizeMime(up.MimeType)
	if mt == "" || mt == "application/octet-stream" {
		mt = normalizeMime(http.DetectContentType(up.Data))
	}
	return mt
}

func normalizeMime(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(v); err == nil {
		v = mt
	}
	if v == "image/jpg" {
		return "image/jpeg"
	}
	return v
}

func (s *scanUC) GetStatus(ctx context.Context, jobID string) (*model.ScanJobView, error) {
	if err := checkJobID(jobID); err != nil {
		return nil, domain.NewScanError(domain.CodeInvalidJobID, err)
	}
	view, err := s.store.GetStatus(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, domain.NewScanError(domain.CodeJobNotFound, err)
	}
	if err != nil {
		return nil, domain.NewScanError(domain.CodeServerError, err)
	}
	return view, nil
}

func (s *scanUC) Stats(ctx context.Context) (model.JobStats, error) {
	return s.store.Stats(ctx)
}

// checkJobID accepts only the canonical 8-4-4-4-12 form that Create hands
// out. uuid.Parse alone also takes urn:uuid:, braced and bare-hex spellings.
func checkJobID(id string) error {
	if len(id) != 36 {
		return fmt.Errorf("job id %q is not a canonical uuid", id)
	}
	_, err := uuid.Parse(id)
	return err
}
