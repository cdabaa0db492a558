package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAcquire(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.Acquire(ctx, Key("7"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Acquire(ctx, Key("7"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other jobs are not affected
	ok, err = m.Acquire(ctx, Key("8"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Release(ctx, Key("7")))

	ok, err = m.Acquire(ctx, Key("7"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	m := NewMemory()
	m.now = func() time.Time { return now }

	ok, _ := m.Acquire(ctx, "job", 15*time.Minute)
	assert.True(t, ok)

	now = now.Add(14 * time.Minute)
	ok, _ = m.Acquire(ctx, "job", 15*time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = m.Acquire(ctx, "job", 15*time.Minute)
	assert.True(t, ok)
}

func TestMemoryExtend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	m := NewMemory()
	m.now = func() time.Time { return now }

	ok, _ := m.Acquire(ctx, "job", 15*time.Minute)
	require.True(t, ok)

	// A holder extending before expiry keeps the key past the first ttl
	now = now.Add(10 * time.Minute)
	ok, err := m.Extend(ctx, "job", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(10 * time.Minute)
	ok, _ = m.Acquire(ctx, "job", 15*time.Minute)
	assert.False(t, ok)

	// An expired key can not be extended
	now = now.Add(time.Hour)
	ok, err = m.Extend(ctx, "job", 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = m.Extend(ctx, "unknown", time.Minute)
	assert.False(t, ok)
}

func TestMemoryInvalidTTL(t *testing.T) {
	_, err := NewMemory().Acquire(context.Background(), "job", 0)
	assert.Equal(t, ErrInvalidTTL, err)
}

func TestNoop(t *testing.T) {
	ok, err := Noop{}.Acquire(context.Background(), "job", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = Noop{}.Extend(context.Background(), "job", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, Noop{}.Release(context.Background(), "job"))
}

// fakeRedis implements the commands used by the redis locker
type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	evalErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}

	f.values[key] = value.(string)
	f.ttls[key] = expiration

	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	if f.evalErr != nil {
		return redis.NewCmdResult(nil, f.evalErr)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.values[keys[0]] != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}

	if script == extendScript {
		f.ttls[keys[0]] = time.Duration(args[1].(int64)) * time.Millisecond
	} else {
		delete(f.values, keys[0])
	}

	return redis.NewCmdResult(int64(1), nil)
}

func TestRedisAcquireRelease(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()

	a := NewRedis(client)
	b := NewRedis(client)

	ok, err := a.Acquire(ctx, Key("7"), 900*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 900*time.Second, client.ttls[Key("7")])

	ok, err = b.Acquire(ctx, Key("7"), 900*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// b never held the key and must not remove it
	require.NoError(t, b.Release(ctx, Key("7")))
	assert.Contains(t, client.values, Key("7"))

	require.NoError(t, a.Release(ctx, Key("7")))
	assert.NotContains(t, client.values, Key("7"))

	ok, err = b.Acquire(ctx, Key("7"), 900*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisReleaseAfterTakeover(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	a := NewRedis(client)

	ok, _ := a.Acquire(ctx, "job", time.Minute)
	require.True(t, ok)

	// The key expired and another instance took it over
	client.values["job"] = "someone-else"

	require.NoError(t, a.Release(ctx, "job"))
	assert.Equal(t, "someone-else", client.values["job"])
}

func TestRedisExtend(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()

	a := NewRedis(client)
	b := NewRedis(client)

	ok, _ := a.Acquire(ctx, "job", time.Minute)
	require.True(t, ok)

	ok, err := a.Extend(ctx, "job", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, client.ttls["job"])

	// b does not hold the key
	ok, err = b.Extend(ctx, "job", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5*time.Minute, client.ttls["job"])

	// The key was taken over after expiry
	client.values["job"] = "someone-else"
	ok, err = a.Extend(ctx, "job", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisReleaseError(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	a := NewRedis(client)

	ok, _ := a.Acquire(ctx, "job", time.Minute)
	require.True(t, ok)

	client.evalErr = errors.New("connection refused")
	assert.Error(t, a.Release(ctx, "job"))
}
