package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// unlockLua deletes the key only while it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisConfig configures the Redis locker.
type RedisConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Poll     time.Duration `yaml:"poll" mapstructure:"poll"`
}

// Redis is a Locker shared by every replica connected to the same server.
// Keys are taken with SET NX and a TTL, and released with a conditional
// delete.
type Redis struct {
	rdb      redis.UniversalClient
	unlockSc *redis.Script
	ttl      time.Duration
	poll     time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "lock: redis ping")
	}
	return NewRedisFromClient(rdb, cfg.TTL, cfg.Poll), nil
}

// NewRedisFromClient wraps an existing client. Zero durations take defaults
// of 30s TTL and 25ms polling.
func NewRedisFromClient(rdb redis.UniversalClient, ttl, poll time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if poll <= 0 {
		poll = 25 * time.Millisecond
	}
	return &Redis{rdb: rdb, unlockSc: redis.NewScript(unlockLua), ttl: ttl, poll: poll}
}

func redisKey(key string) string {
	return "lock:" + key
}

// Acquire implements Locker. It polls until the key is free or ctx is done.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	lk := redisKey(key)

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, lk, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return nil, eris.Wrapf(err, "lock: acquire %s", key)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, eris.Wrapf(ctx.Err(), "lock: acquire %s", key)
		case <-ticker.C:
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.unlockSc.Run(unlockCtx, r.rdb, []string{lk}, token).Err(); err != nil {
				zap.L().Warn("lock: release failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
	return release, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

var _ Locker = (*Redis)(nil)
