package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hpungsan/sugya/internal/errors"
)

const (
	keyPrefix     = "sugya:lock:"
	retryInterval = 50 * time.Millisecond
	defaultWait   = 3 * time.Second
)

// releaseScript deletes the lock only if it still carries our token, so a
// holder whose TTL lapsed cannot free someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock only while it still carries our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a Locker shared by every process pointed at the same Redis. Use it
// when several sugya processes write to one Postgres database.
//
// A held lock is refreshed every third of its TTL, so it stays held for as
// long as the holder runs, however long enrichment takes. The TTL only
// matters when a holder dies without releasing.
type Redis struct {
	client  *redis.Client
	ttl     time.Duration
	wait    time.Duration
	refresh time.Duration
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, ttl: ttl, wait: defaultWait, refresh: ttl / 3}
}

// WithWait sets how long Acquire retries a held key before giving up.
func (r *Redis) WithWait(d time.Duration) *Redis {
	r.wait = d
	return r
}

// WithRefresh sets how often a held lock's TTL is renewed.
func (r *Redis) WithRefresh(d time.Duration) *Redis {
	if d > 0 {
		r.refresh = d
	}
	return r
}

// Acquire takes the lock with SET NX, retrying until the wait budget runs out.
// A key still held after that is a CONFLICT.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := ulid.Make().String()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.NewCancelled("lock " + key)
			}
			return nil, errors.NewInternal(fmt.Errorf("acquire lock %q: %w", key, err))
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, errors.NewConflict(fmt.Sprintf("passage %q is being added by another process", key))
		}

		select {
		case <-ctx.Done():
			return nil, errors.NewCancelled("lock " + key)
		case <-time.After(retryInterval):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(redisKey, token, stop, done)

	return sync.OnceFunc(func() {
		close(stop)
		<-done
		// The TTL reclaims the key if this fails.
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(relCtx, r.client, []string{redisKey}, token).Err()
	}), nil
}

// keepAlive renews the lease until stop is closed or the lock turns out to
// belong to someone else. Failed renewals are retried on the next tick.
func (r *Redis) keepAlive(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.refresh)
			n, err := refreshScript.Run(ctx, r.client, []string{redisKey}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
