package initguard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still carries our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// refreshScript extends the key's expiry only if it still carries our token.
const refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// RedisClient is the subset of the go-redis client used by [Redis].
// *redis.Client, *redis.ClusterClient and redis.UniversalClient satisfy it.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Redis is a Guard shared by every replica talking to the same Redis.
//
// A hold is a key set with SET NX PX to a random token. While held, the key's
// expiry is refreshed in the background, so a crashed replica's holds lapse
// after the TTL.
type Redis struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

var _ Guard = (*Redis)(nil)

// RedisOption configures a [Redis] guard.
type RedisOption func(*Redis)

// minRefresh bounds how often a live hold is refreshed.
const minRefresh = time.Millisecond

// WithTTL sets the hold expiry. Non-positive values keep the default of 30s.
// The expiry never drops below three refresh intervals of [minRefresh].
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.ttl = max(d, 3*minRefresh)
		}
	}
}

// WithPrefix sets the key prefix. Default: "medconnect:initguard:".
func WithPrefix(p string) RedisOption {
	return func(r *Redis) { r.prefix = p }
}

// NewRedis returns a Redis guard using client.
func NewRedis(client RedisClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "medconnect:initguard:",
		ttl:    30 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Acquire takes the hold for key, or returns [ErrHeld] when another holder
// owns it. The returned release is safe to call more than once.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	rkey := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, rkey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("initguard: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(rkey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.client.Eval(ctx, releaseScript, []string{rkey}, token).Err(); err != nil {
				slog.Warn("initguard: release failed", "key", key, "err", err)
			}
		})
	}, nil
}

func (r *Redis) keepAlive(rkey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := max(r.ttl/3, minRefresh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := r.client.Eval(ctx, refreshScript, []string{rkey}, token, r.ttl.Milliseconds()).Int64()
			cancel()
			switch {
			case err != nil:
				slog.Warn("initguard: refresh failed", "key", rkey, "err", err)
			case n == 0:
				slog.Warn("initguard: hold lost", "key", rkey)
				return
			}
		}
	}
}
