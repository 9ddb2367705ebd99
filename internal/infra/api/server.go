// File: internal/infra/api/server.go
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"splitmate-scan/internal/domain"
	"splitmate-scan/internal/domain/model"
	"splitmate-scan/internal/domain/ports/adapter"
	"splitmate-scan/internal/domain/ports/repository"
	"splitmate-scan/internal/infra/logging"
	"splitmate-scan/internal/infra/metrics"
	"splitmate-scan/internal/infra/ratelimit"
	"splitmate-scan/internal/usecase"
)

// UploadField is the multipart field carrying the receipt file.
const UploadField = "receipt"

// multipart framing allowance on top of the file limit, so an oversized file
// is reported by the use case with its exact limit instead of a torn body.
const multipartOverhead = 1 << 20

// Pinger is anything with a cheap reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ExtractionBackend is what the detailed health check needs from the
// extraction client.
type ExtractionBackend interface {
	Provider() adapter.ModelInfo
	Ping(ctx context.Context) error
}

type Options struct {
	Scans      usecase.ScanUseCase
	Limiter    ratelimit.Strategy
	LimiterDB  Pinger                           // optional; the durable limiter store
	Extraction ExtractionBackend                // optional
	Archive    repository.ScanOutcomeRepository // optional

	MaxUploadBytes int64
	AllowedOrigins []string
	TrustProxy     bool
	RequestTimeout time.Duration
	Dev            bool
	Version        string
}

type Server struct {
	opts    Options
	log     *zerolog.Logger
	started time.Time
	now     func() time.Time
	server  *http.Server
}

func NewServer(opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{
		opts:    opts,
		log:     logging.Component(logger, "HTTPServer"),
		started: time.Now(),
		now:     time.Now,
	}
}

// Routes builds the full handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	if s.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(
		TraceID(s.log),
		RequestLog(s.log),
		Recover(s.log),
		CORS(s.opts.AllowedOrigins),
	)

	r.Get("/health", s.handleHealth)
	r.Get("/health/detailed", s.handleHealthDetailed)
	r.Handle("/metrics", metrics.Handler())

	scan := r.With(Timeout(s.opts.RequestTimeout))
	if s.opts.Limiter != nil {
		scan.With(RateLimit(s.opts.Limiter, s.log)).Post("/api/scan", s.handleCreateScan)
	} else {
		scan.Post("/api/scan", s.handleCreateScan)
	}
	scan.Get("/api/scan/{scanJobId}", s.handleGetScan)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "Route not found."})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, http.StatusMethodNotAllowed, errorBody{Code: "METHOD_NOT_ALLOWED", Message: "Method not allowed."})
	})
	return r
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type createScanResponse struct {
	ScanJobID string              `json:"scanJobId"`
	Status    model.ScanJobStatus `json:"status"`
	Message   string              `json:"message"`
}

func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	l := logging.With(r.Context(), s.log)

	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+multipartOverhead)
	}
	up, err := s.readUpload(r)
	if err != nil {
		l.Debug().Err(err).Msg("upload rejected")
		writeError(w, err, s.opts.Dev)
		return
	}
	up.ClientID = clientIP(r)

	job, err := s.opts.Scans.CreateScan(r.Context(), up)
	if err != nil {
		if se, ok := domain.AsScanError(err); !ok || se.HTTPStatus() >= 500 {
			l.Error().Err(err).Msg("create scan failed")
		}
		writeError(w, err, s.opts.Dev)
		return
	}
	writeData(w, http.StatusCreated, createScanResponse{
		ScanJobID: job.ID,
		Status:    job.Status,
		Message:   "Receipt uploaded. Processing has started.",
	})
}

// readUpload pulls the receipt part out of the multipart body. Size and type
// checks beyond the transport limit belong to the use case.
func (s *Server) readUpload(r *http.Request) (model.Upload, error) {
	maxMem := s.opts.MaxUploadBytes + multipartOverhead
	if s.opts.MaxUploadBytes <= 0 {
		maxMem = 32 << 20
	}
	if err := r.ParseMultipartForm(maxMem); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || (s.opts.MaxUploadBytes > 0 && r.ContentLength > maxMem) {
			return model.Upload{}, s.tooLarge(err)
		}
		return model.Upload{}, domain.NewScanError(domain.CodeNoFile, fmt.Errorf("parse multipart: %w", err))
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, hdr, err := r.FormFile(UploadField)
	if err != nil {
		return model.Upload{}, domain.NewScanError(domain.CodeNoFile, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return model.Upload{}, s.tooLarge(err)
		}
		return model.Upload{}, domain.NewScanError(domain.CodeServerError, fmt.Errorf("read upload: %w", err))
	}
	return model.Upload{
		FileName: hdr.Filename,
		MimeType: hdr.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

func (s *Server) tooLarge(cause error) error {
	return domain.NewScanError(domain.CodeFileTooLarge, cause).
		WithMessage(fmt.Sprintf("File too large. Maximum size is %dMB.", s.opts.MaxUploadBytes/(1024*1024)))
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scanJobId")
	view, err := s.opts.Scans.GetStatus(r.Context(), id)
	if err != nil {
		if se, ok := domain.AsScanError(err); !ok || se.HTTPStatus() >= 500 {
			l := logging.With(logging.WithJobID(r.Context(), id), s.log)
			l.Error().Err(err).Msg("get scan status failed")
		}
		writeError(w, err, s.opts.Dev)
		return
	}
	writeData(w, http.StatusOK, view)
}
