//go:build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splitmate-scan/internal/config"
	"splitmate-scan/internal/domain/model"
)

func newIntegrationClient(t *testing.T) *redClient {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := NewClient(ctx, &config.RedisConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSlidingWindowLimiter_Redis(t *testing.T) {
	c := newIntegrationClient(t)
	l := NewSlidingWindowLimiter(c, 2*time.Second, 5)
	l.prefix = "rate_limit:test:" + uuid.NewString() + ":"
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := l.Limit(ctx, "127.0.0.1")
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, 4-i, res.Remaining)
	}
	res, err := l.Limit(ctx, "127.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.ResetAt.After(time.Now()))

	time.Sleep(2100 * time.Millisecond)
	res, err = l.Limit(ctx, "127.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestScanJobStore_RedisRoundTrip(t *testing.T) {
	c := newIntegrationClient(t)
	s := NewScanJobStore(c, 100, time.Minute, nil)
	ctx := context.Background()

	job, err := s.Create(ctx, fileMeta("it.png"), []byte{1, 2, 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.remove(context.Background(), []string{job.ID}) })

	require.NoError(t, s.MarkFailed(ctx, job.ID, model.JobError{Code: "INVALID_RECEIPT", Message: "nope"}))
	view, err := s.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScanStatusFailed, view.Status)
	require.NotNil(t, view.Error)
	assert.Equal(t, "INVALID_RECEIPT", view.Error.Code)
}
