// File: internal/usecase/mock_test.go
package usecase_test

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"splitmate-scan/internal/domain"
	"splitmate-scan/internal/domain/model"
	"splitmate-scan/internal/domain/ports/adapter"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// --- Mock VisionAdapter

type MockVision struct {
	mu           sync.Mutex
	calls        int
	GenerateFunc func(ctx context.Context, call int) (string, error)
}

func (m *MockVision) Info() adapter.ModelInfo {
	return adapter.ModelInfo{Provider: "mock", Name: "mock-vision"}
}

func (m *MockVision) Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()
	return m.GenerateFunc(ctx, n)
}

func (m *MockVision) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Mock ScanJobStore

type MockScanJobStore struct {
	mu        sync.Mutex
	jobs      map[string]*model.ScanJob
	nextID    string
	CreateErr error
}

func NewMockScanJobStore(nextID string) *MockScanJobStore {
	return &MockScanJobStore{jobs: map[string]*model.ScanJob{}, nextID: nextID}
}

func (m *MockScanJobStore) Create(ctx context.Context, meta model.FileMeta, buf []byte) (*model.ScanJob, error) {
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j := model.NewScanJob(m.nextID, meta, buf, testNow)
	m.jobs[j.ID] = j
	return j.Clone(), nil
}

func (m *MockScanJobStore) Get(ctx context.Context, id string) (*model.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (m *MockScanJobStore) GetStatus(ctx context.Context, id string) (*model.ScanJobView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.View(), nil
}

func (m *MockScanJobStore) with(id string, fn func(j *model.ScanJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		fn(j)
	}
	return nil
}

func (m *MockScanJobStore) MarkScanning(ctx context.Context, id string, attempt int) error {
	return m.with(id, func(j *model.ScanJob) { j.MarkScanning(attempt, testNow) })
}

func (m *MockScanJobStore) MarkRetrying(ctx context.Context, id string, attempt int) error {
	return m.with(id, func(j *model.ScanJob) { j.MarkRetrying(attempt, testNow) })
}

func (m *MockScanJobStore) MarkSuccess(ctx context.Context, id string, items []model.LineItem) error {
	return m.with(id, func(j *model.ScanJob) { j.MarkSuccess(items, testNow) })
}

func (m *MockScanJobStore) MarkFailed(ctx context.Context, id string, jobErr model.JobError) error {
	return m.with(id, func(j *model.ScanJob) { j.MarkFailed(jobErr, testNow) })
}

func (m *MockScanJobStore) Stats(ctx context.Context) (model.JobStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := model.NewJobStats()
	for _, j := range m.jobs {
		st.Add(j.Status)
	}
	return st, nil
}

func (m *MockScanJobStore) SweepExpired(ctx context.Context) (int, error) { return 0, nil }

// --- Mock Dispatcher

type MockDispatcher struct {
	Dispatched []string
	Err        error
}

func (d *MockDispatcher) Dispatch(jobID string) error {
	if d.Err != nil {
		return d.Err
	}
	d.Dispatched = append(d.Dispatched, jobID)
	return nil
}
