//go:build !integration

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"splitmate-scan/internal/domain/model"
	"splitmate-scan/internal/domain/ports/adapter"
	"splitmate-scan/internal/infra/memstore"
	"splitmate-scan/internal/infra/ratelimit"
	"splitmate-scan/internal/infra/worker"
	"splitmate-scan/internal/usecase"
)

// gatedVision answers only once release is closed.
type gatedVision struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedVision() *gatedVision {
	return &gatedVision{started: make(chan struct{}), release: make(chan struct{})}
}

func (v *gatedVision) Info() adapter.ModelInfo {
	return adapter.ModelInfo{Provider: "gemini", Name: "gemini-2.0-flash"}
}

func (v *gatedVision) Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	v.once.Do(func() { close(v.started) })
	select {
	case <-v.release:
		return "```json\n[{\"name\":\"Coffee\",\"price\":3.5},{\"name\":\"Croissant\",\"price\":2.25}]\n```", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestScanPipeline_RespondsBeforeExtractionFinishes(t *testing.T) {
	logger := newTestLogger()
	store := memstore.NewScanJobStore(memstore.Options{MaxStoredJobs: 100, JobExpiration: time.Hour}, logger)
	vision := newGatedVision()
	extraction := usecase.NewExtractionClient(vision, usecase.ExtractionOptions{
		Timeout:     5 * time.Second,
		MaxRetries:  1,
		RetryDelay:  time.Millisecond,
		RetryFactor: 2,
		MaxDelay:    10 * time.Millisecond,
	}, logger)
	pool := worker.NewPool(4, logger)
	processor := worker.NewScanProcessor(store, extraction, nil, pool, false, logger)
	scans := usecase.NewScanUseCase(store, processor, usecase.UploadPolicy{
		MaxBytes:         1 << 20,
		AllowedMimeTypes: []string{"image/jpeg", "image/png", "application/pdf"},
	}, logger)
	handler := NewServer(Options{
		Scans:          scans,
		Limiter:        ratelimit.NewMemory(time.Minute, 5),
		Extraction:     extraction,
		MaxUploadBytes: 1 << 20,
		RequestTimeout: 5 * time.Second,
	}, logger).Routes()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest(t, UploadField, "lunch.png", "image/png", pngBytes))
	if rec.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d, body=%s", rec.Code, rec.Body.String())
	}
	var created createScanResponse
	if err := json.Unmarshal(decode(t, rec).Data, &created); err != nil {
		t.Fatalf("decode data: %v", err)
	}

	select {
	case <-vision.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("extraction never started")
	}
	getView := func() model.ScanJobView {
		t.Helper()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scan/"+created.ScanJobID, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
		}
		var view model.ScanJobView
		if err := json.Unmarshal(decode(t, rec).Data, &view); err != nil {
			t.Fatalf("decode view: %v", err)
		}
		return view
	}

	if view := getView(); view.Status != model.ScanStatusScanning || view.Result != nil {
		t.Fatalf("want scanning without result while blocked, got %+v", view)
	}

	close(vision.release)

	deadline := time.Now().Add(5 * time.Second)
	var view model.ScanJobView
	for {
		view = getView()
		if view.Status.IsTerminal() || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if view.Status != model.ScanStatusScanned {
		t.Fatalf("want scanned, got %+v", view)
	}
	if len(view.Result) != 2 || view.Result[0].Name != "Coffee" || view.Result[1].Price != 2.25 {
		t.Fatalf("unexpected result: %+v", view.Result)
	}
	job, err := store.Get(context.Background(), created.ScanJobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if len(job.FileBuffer) != 0 {
		t.Fatalf("buffer not released after scan, %d bytes left", len(job.FileBuffer))
	}
}
