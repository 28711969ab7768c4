package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL    = 30 * time.Second
	defaultPrefix = "flowgate:lock:"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock shared by every process connected to the same Redis. The
// lock expires after TTL so a crashed holder cannot block an instance forever.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
	prefix string
}

func NewRedis(client *redis.Client, logger *slog.Logger, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Redis{
		client: client,
		logger: logger.With("module", "redis_lock"),
		ttl:    ttl,
		prefix: defaultPrefix,
	}
}

// NewRedisFromURL parses a redis:// URL and checks the connection.
func NewRedisFromURL(ctx context.Context, logger *slog.Logger, redisURL string, ttl time.Duration) (*Redis, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedis(client, logger, ttl), nil
}

func (r *Redis) Lock(ctx context.Context, key string) (Release, error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		acquired, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}

			return err
		}

		if !acquired {
			return errors.New("lock busy")
		}

		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := r.release(releaseCtx, redisKey, token)
		if err != nil {
			r.logger.WarnContext(releaseCtx, "Failed to release lock", "key", key, "error", err)
		}
	}, nil
}

func (r *Redis) release(ctx context.Context, redisKey, token string) error {
	deleted, err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Int()
	if err != nil {
		return err
	}

	if deleted == 0 {
		return ErrNotHeld
	}

	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
