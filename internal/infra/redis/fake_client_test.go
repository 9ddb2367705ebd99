package redis

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// fakeClient is an in-memory RedisClient covering the commands the job store
// uses. TTLs are not simulated; scripts are not supported.
type fakeClient struct {
	mu     sync.Mutex
	kv     map[string]string
	zsets  map[string]map[string]float64
	getErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{kv: map[string]string{}, zsets: map[string]map[string]float64{}}
}

func (f *fakeClient) Ping(context.Context) error { return nil }

func (f *fakeClient) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.kv[key] = string(v)
	case string:
		f.kv[key] = v
	default:
		return errors.New("fake: unsupported value type")
	}
	return nil
}

func (f *fakeClient) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.kv[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeClient) MGet(_ context.Context, keys ...string) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		if v, ok := f.kv[k]; ok {
			out[i] = v
		}
	}
	return out, nil
}

func (f *fakeClient) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.kv, k)
	}
	return nil
}

func (f *fakeClient) ZAdd(_ context.Context, key string, score float64, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	z, ok := f.zsets[key]
	if !ok {
		z = map[string]float64{}
		f.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (f *fakeClient) ZCard(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.zsets[key])), nil
}

func (f *fakeClient) sorted(key string) []string {
	z := f.zsets[key]
	ids := make([]string, 0, len(z))
	for m := range z {
		ids = append(ids, m)
	}
	sort.Slice(ids, func(i, j int) bool {
		if z[ids[i]] == z[ids[j]] {
			return ids[i] < ids[j]
		}
		return z[ids[i]] < z[ids[j]]
	})
	return ids
}

func (f *fakeClient) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.sorted(key)
	n := int64(len(ids))
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	return ids[start : stop+1], nil
}

func parseBound(s string) (float64, bool) {
	exclusive := strings.HasPrefix(s, "(")
	s = strings.TrimPrefix(s, "(")
	switch s {
	case "-inf":
		return math.Inf(-1), exclusive
	case "+inf":
		return math.Inf(1), exclusive
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v, exclusive
}

func (f *fakeClient) ZRangeByScore(_ context.Context, key string, min, max string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lo, loEx := parseBound(min)
	hi, hiEx := parseBound(max)
	var out []string
	for _, id := range f.sorted(key) {
		s := f.zsets[key][id]
		if s < lo || (loEx && s == lo) || s > hi || (hiEx && s == hi) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeClient) ZRem(_ context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.zsets[key], m)
	}
	return nil
}

func (f *fakeClient) RunScript(context.Context, *redis.Script, []string, ...interface{}) (interface{}, error) {
	return nil, errors.New("fake: scripts not supported")
}

func (f *fakeClient) Close() error { return nil }
