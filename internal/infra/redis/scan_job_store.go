// File: internal/infra/redis/scan_job_store.go
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"splitmate-scan/internal/domain"
	"splitmate-scan/internal/domain/model"
	"splitmate-scan/internal/domain/ports/repository"
	"splitmate-scan/internal/infra/logging"
	"splitmate-scan/internal/infra/metrics"
)

var _ repository.ScanJobStore = (*ScanJobStore)(nil)

const (
	jobKeyPrefix = "scan_job:"
	jobIndexKey  = "scan_jobs:index" // zset of job ids scored by createdAt (ms)
	backendName  = "redis"
)

// ScanJobStore keeps each job as a JSON document whose key TTL equals the job
// expiration, so Redis drops abandoned jobs even without the sweep. The index
// drives capacity eviction, sweep and stats.
type ScanJobStore struct {
	client  RedisClient
	maxJobs int
	ttl     time.Duration
	sealer  BufferSealer
	now     func() time.Time
	log     *zerolog.Logger
}

// BufferSealer encrypts receipt bytes before they are written to Redis.
type BufferSealer interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

func NewScanJobStore(client RedisClient, maxJobs int, ttl time.Duration, logger *zerolog.Logger) *ScanJobStore {
	if maxJobs <= 0 {
		maxJobs = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ScanJobStore{
		client:  client,
		maxJobs: maxJobs,
		ttl:     ttl,
		now:     time.Now,
		log:     logging.Component(logger, "RedisScanJobStore"),
	}
}

// WithBufferSealer stores file buffers encrypted with b.
func (s *ScanJobStore) WithBufferSealer(b BufferSealer) *ScanJobStore {
	s.sealer = b
	return s
}

func jobKey(id string) string { return jobKeyPrefix + id }

func (s *ScanJobStore) encode(job *model.ScanJob) ([]byte, error) {
	if s.sealer == nil || len(job.FileBuffer) == 0 {
		return json.Marshal(job)
	}
	sealed, err := s.sealer.Seal(job.FileBuffer)
	if err != nil {
		return nil, fmt.Errorf("seal file buffer: %w", err)
	}
	cp := *job
	cp.FileBuffer = sealed
	return json.Marshal(&cp)
}

func (s *ScanJobStore) Create(ctx context.Context, meta model.FileMeta, buf []byte) (*model.ScanJob, error) {
	job := model.NewScanJob(uuid.NewString(), meta, buf, s.now())
	data, err := s.encode(job)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, jobKey(job.ID), data, s.ttl); err != nil {
		metrics.IncStoreOp(backendName, "create", "error")
		return nil, err
	}
	if err := s.client.ZAdd(ctx, jobIndexKey, float64(job.CreatedAt.UnixMilli()), job.ID); err != nil {
		metrics.IncStoreOp(backendName, "create", "error")
		return nil, err
	}
	metrics.IncStoreOp(backendName, "create", "ok")

	if n, err := s.evict(ctx); err != nil {
		s.log.Error().Err(err).Msg("capacity eviction failed")
	} else if n > 0 {
		metrics.AddScanJobsRemoved("evicted", n)
		s.log.Warn().Int("evicted", n).Int("max_stored_jobs", s.maxJobs).Msg("job store at capacity, evicted oldest jobs")
	}
	return job.Clone(), nil
}

// evict removes the oldest-created jobs beyond the capacity bound.
func (s *ScanJobStore) evict(ctx context.Context) (int, error) {
	total, err := s.client.ZCard(ctx, jobIndexKey)
	if err != nil {
		return 0, err
	}
	over := total - int64(s.maxJobs)
	if over <= 0 {
		return 0, nil
	}
	ids, err := s.client.ZRange(ctx, jobIndexKey, 0, over-1)
	if err != nil {
		return 0, err
	}
	return len(ids), s.remove(ctx, ids)
}

func (s *ScanJobStore) remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	if err := s.client.Del(ctx, keys...); err != nil {
		return err
	}
	return s.client.ZRem(ctx, jobIndexKey, ids...)
}

func (s *ScanJobStore) load(ctx context.Context, id string) (*model.ScanJob, error) {
	data, err := s.client.Get(ctx, jobKey(id))
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job model.ScanJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, err
	}
	if s.sealer != nil && len(job.FileBuffer) > 0 {
		plain, err := s.sealer.Open(job.FileBuffer)
		if err != nil {
			return nil, fmt.Errorf("open file buffer of %s: %w", id, err)
		}
		job.FileBuffer = plain
	}
	return &job, nil
}

func (s *ScanJobStore) Get(ctx context.Context, id string) (*model.ScanJob, error) {
	job, err := s.load(ctx, id)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		metrics.IncStoreOp(backendName, "get", "miss")
	case err != nil:
		metrics.IncStoreOp(backendName, "get", "error")
	default:
		metrics.IncStoreOp(backendName, "get", "hit")
	}
	return job, err
}

func (s *ScanJobStore) GetStatus(ctx context.Context, id string) (*model.ScanJobView, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return job.View(), nil
}

// update is a read-modify-write without WATCH: each job has a single owning
// worker, so there is no competing writer for the same key.
func (s *ScanJobStore) update(ctx context.Context, id, op string, fn func(j *model.ScanJob, now time.Time) bool) error {
	job, err := s.load(ctx, id)
	if errors.Is(err, domain.ErrJobNotFound) {
		metrics.IncStoreOp(backendName, op, "miss")
		s.log.Warn().Str("job_id", id).Str("op", op).Msg("job vanished before update (expired or evicted)")
		return nil
	}
	if err != nil {
		metrics.IncStoreOp(backendName, op, "error")
		return err
	}
	if !fn(job, s.now()) {
		metrics.IncStoreOp(backendName, op, "terminal")
		s.log.Warn().Str("job_id", id).Str("op", op).Str("status", string(job.Status)).Msg("job already terminal, transition ignored")
		return nil
	}
	data, err := s.encode(job)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, jobKey(id), data, redis.KeepTTL); err != nil {
		metrics.IncStoreOp(backendName, op, "error")
		return err
	}
	metrics.IncStoreOp(backendName, op, "ok")
	return nil
}

func (s *ScanJobStore) MarkScanning(ctx context.Context, id string, attempt int) error {
	return s.update(ctx, id, "mark_scanning", func(j *model.ScanJob, now time.Time) bool {
		return j.MarkScanning(attempt, now)
	})
}

func (s *ScanJobStore) MarkRetrying(ctx context.Context, id string, attempt int) error {
	return s.update(ctx, id, "mark_retrying", func(j *model.ScanJob, now time.Time) bool {
		return j.MarkRetrying(attempt, now)
	})
}

func (s *ScanJobStore) MarkSuccess(ctx context.Context, id string, items []model.LineItem) error {
	return s.update(ctx, id, "mark_success", func(j *model.ScanJob, now time.Time) bool {
		return j.MarkSuccess(items, now)
	})
}

func (s *ScanJobStore) MarkFailed(ctx context.Context, id string, jobErr model.JobError) error {
	return s.update(ctx, id, "mark_failed", func(j *model.ScanJob, now time.Time) bool {
		return j.MarkFailed(jobErr, now)
	})
}

// Stats reads every indexed job. Index entries whose document already expired
// are dropped from the index on the way.
func (s *ScanJobStore) Stats(ctx context.Context) (model.JobStats, error) {
	stats := model.NewJobStats()
	ids, err := s.client.ZRange(ctx, jobIndexKey, 0, -1)
	if err != nil || len(ids) == 0 {
		return stats, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...)
	if err != nil {
		return stats, err
	}
	var stale []string
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var job struct {
			Status model.ScanJobStatus `json:"status"`
		}
		if err := json.Unmarshal([]byte(str), &job); err != nil {
			continue
		}
		stats.Add(job.Status)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, jobIndexKey, stale...); err != nil {
			s.log.Debug().Err(err).Msg("pruning stale index entries failed")
		}
	}
	return stats, nil
}

func (s *ScanJobStore) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl).UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, jobIndexKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
	if err != nil {
		return 0, err
	}
	if err := s.remove(ctx, ids); err != nil {
		return 0, err
	}
	metrics.AddScanJobsRemoved("expired", len(ids))
	if len(ids) > 0 {
		s.log.Info().Int("removed", len(ids)).Msg("expired scan jobs swept")
	}
	return len(ids), nil
}
