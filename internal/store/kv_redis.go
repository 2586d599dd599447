package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultLockPollInterval is how often RedisLocker retries a held lock.
const DefaultLockPollInterval = 50 * time.Millisecond

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*goredis.Client, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 15 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Debug("NewRedisClient: connected", "addr", opts.Addr, "db", opts.DB)
	return rdb, nil
}

// RedisKV is a KV backed by Redis strings.
type RedisKV struct {
	rdb goredis.UniversalClient
}

var _ KV = (*RedisKV)(nil)

func NewRedisKV(rdb goredis.UniversalClient) *RedisKV {
	return &RedisKV{rdb: rdb}
}

func (kv *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := kv.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

func (kv *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := kv.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// releaseScript deletes the lock only when it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	rdb  goredis.UniversalClient
	poll time.Duration
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(rdb goredis.UniversalClient) *RedisLocker {
	return &RedisLocker{rdb: rdb, poll: DefaultLockPollInterval}
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lockKey := "lock:" + key
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := releaseScript.Run(ctx, l.rdb, []string{lockKey}, token).Err(); err != nil {
					slog.Warn("RedisLocker.Unlock: release failed", "key", key, "error", err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}
