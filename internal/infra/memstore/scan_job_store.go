// File: internal/infra/memstore/scan_job_store.go
package memstore

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"splitmate-scan/internal/domain"
	"splitmate-scan/internal/domain/model"
	"splitmate-scan/internal/domain/ports/repository"
	"splitmate-scan/internal/infra/logging"
	"splitmate-scan/internal/infra/metrics"
)

var _ repository.ScanJobStore = (*ScanJobStore)(nil)

const backendName = "memory"

type Options struct {
	MaxStoredJobs int
	JobExpiration time.Duration
	Now           func() time.Time
}

type entry struct {
	job  *model.ScanJob
	elem *list.Element // position in creation order
}

// ScanJobStore keeps jobs in a map plus a creation-ordered list, so capacity
// eviction drops the oldest job in O(1).
type ScanJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*entry
	order   *list.List // front = oldest; values are job ids
	maxJobs int
	ttl     time.Duration
	now     func() time.Time
	log     *zerolog.Logger
}

func NewScanJobStore(opts Options, logger *zerolog.Logger) *ScanJobStore {
	if opts.MaxStoredJobs <= 0 {
		opts.MaxStoredJobs = 1000
	}
	if opts.JobExpiration <= 0 {
		opts.JobExpiration = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ScanJobStore{
		jobs:    make(map[string]*entry),
		order:   list.New(),
		maxJobs: opts.MaxStoredJobs,
		ttl:     opts.JobExpiration,
		now:     opts.Now,
		log:     logging.Component(logger, "ScanJobStore"),
	}
}

func (s *ScanJobStore) Create(ctx context.Context, meta model.FileMeta, buf []byte) (*model.ScanJob, error) {
	job := model.NewScanJob(uuid.NewString(), meta, buf, s.now())

	s.mu.Lock()
	e := &entry{job: job}
	e.elem = s.order.PushBack(job.ID)
	s.jobs[job.ID] = e
	evicted := s.evictLocked()
	s.mu.Unlock()

	if evicted > 0 {
		metrics.AddScanJobsRemoved("evicted", evicted)
		s.log.Warn().Int("evicted", evicted).Int("max_stored_jobs", s.maxJobs).Msg("job store at capacity, evicted oldest jobs")
	}
	metrics.IncStoreOp(backendName, "create", "ok")
	return job.Clone(), nil
}

// evictLocked removes the oldest-created jobs until the bound holds.
func (s *ScanJobStore) evictLocked() int {
	n := 0
	for len(s.jobs) > s.maxJobs {
		front := s.order.Front()
		if front == nil {
			break
		}
		s.removeLocked(front.Value.(string))
		n++
	}
	return n
}

func (s *ScanJobStore) removeLocked(id string) {
	e, ok := s.jobs[id]
	if !ok {
		return
	}
	s.order.Remove(e.elem)
	delete(s.jobs, id)
}

func (s *ScanJobStore) Get(ctx context.Context, id string) (*model.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		metrics.IncStoreOp(backendName, "get", "miss")
		return nil, domain.ErrJobNotFound
	}
	metrics.IncStoreOp(backendName, "get", "hit")
	return e.job.Clone(), nil
}

func (s *ScanJobStore) GetStatus(ctx context.Context, id string) (*model.ScanJobView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return e.job.View(), nil
}

// update applies fn to the live job under the lock. A missing id is the
// expected outcome of racing with eviction or expiry; fn returning false means
// the job was already terminal and nothing changed.
func (s *ScanJobStore) update(id, op string, fn func(j *model.ScanJob, now time.Time) bool) error {
	s.mu.Lock()
	e, ok := s.jobs[id]
	applied := false
	var status model.ScanJobStatus
	if ok {
		applied = fn(e.job, s.now())
		status = e.job.Status
	}
	s.mu.Unlock()

	switch {
	case !ok:
		metrics.IncStoreOp(backendName, op, "miss")
		s.log.Warn().Str("job_id", id).Str("op", op).Msg("job vanished before update (expired or evicted)")
	case !applied:
		metrics.IncStoreOp(backendName, op, "terminal")
		s.log.Warn().Str("job_id", id).Str("op", op).Str("status", string(status)).Msg("job already terminal, transition ignored")
	default:
		metrics.IncStoreOp(backendName, op, "ok")
	}
	return nil
}

func (s *ScanJobStore) MarkScanning(ctx context.Context, id string, attempt int) error {
	return s.update(id, "mark_scanning", func(j *model.ScanJob, now time.Time) bool {
		return j.MarkScanning(attempt, now)
	})
}

func (s *ScanJobStore) MarkRetrying(ctx context.Context, id string, attempt int) error {
	return s.update(id, "mark_retrying", func(j *model.ScanJob, now time.Time) bool {
		return j.MarkRetrying(attempt, now)
	})
}

func (s *ScanJobStore) MarkSuccess(ctx context.Context, id string, items []model.LineItem) error {
	items = append([]model.LineItem(nil), items...)
	return s.update(id, "mark_success", func(j *model.ScanJob, now time.Time) bool {
		return j.MarkSuccess(items, now)
	})
}

func (s *ScanJobStore) MarkFailed(ctx context.Context, id string, jobErr model.JobError) error {
	return s.update(id, "mark_failed", func(j *model.ScanJob, now time.Time) bool {
		return j.MarkFailed(jobErr, now)
	})
}

func (s *ScanJobStore) Stats(ctx context.Context) (model.JobStats, error) {
	stats := model.NewJobStats()
	s.mu.Lock()
	for _, e := range s.jobs {
		stats.Add(e.job.Status)
	}
	s.mu.Unlock()
	return stats, nil
}

// SweepExpired walks from the oldest job and stops at the first one still
// inside the expiration window; creation order equals age order.
func (s *ScanJobStore) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl)
	removed := 0

	s.mu.Lock()
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		id := el.Value.(string)
		if e, ok := s.jobs[id]; ok {
			if !e.job.CreatedAt.Before(cutoff) {
				break
			}
			s.removeLocked(id)
			removed++
		}
		el = next
	}
	s.mu.Unlock()

	metrics.AddScanJobsRemoved("expired", removed)
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("expired scan jobs swept")
	}
	return removed, nil
}

// Len returns the number of stored jobs.
func (s *ScanJobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
