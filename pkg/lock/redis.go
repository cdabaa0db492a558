package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries our token
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// extendScript resets the ttl only while the key still carries our token
const extendScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis shares job locks between worker instances
type Redis struct {
	client redisClient

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedis returns a locker backed by the given client
func NewRedis(client redisClient) *Redis {
	return &Redis{
		client: client,
		tokens: map[string]string{},
	}
}

// Connect opens a redis client and verifies the server answers
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "could not ping redis")
	}

	return client, nil
}

// Acquire sets the key with a holder token unless it already exists
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}

	token := uuid.New().String()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "could not acquire %s", key)
	}
	if !ok {
		return false, nil
	}

	r.mu.Lock()
	r.tokens[key] = token
	r.mu.Unlock()

	return true, nil
}

// Extend resets the ttl of a key acquired by this locker
func (r *Redis) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}

	r.mu.Lock()
	token, ok := r.tokens[key]
	r.mu.Unlock()

	if !ok {
		return false, nil
	}

	extended, err := r.client.Eval(ctx, extendScript, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "could not extend %s", key)
	}

	return extended == 1, nil
}

// Release removes the key if this locker still holds it. A key that expired
// and was taken by another holder is left untouched.
func (r *Redis) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	token, ok := r.tokens[key]
	delete(r.tokens, key)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if err := r.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		return errors.Wrapf(err, "could not release %s", key)
	}

	return nil
}
