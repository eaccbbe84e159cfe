package locksvc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/transition"
)

// only the holder of the token may delete the key
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker guards transitions across every API and admin process sharing one redis.
// A lock expires after its TTL, so a crashed holder frees the class eventually.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger core.Logger
}

var _ transition.Locker = (*RedisLocker)(nil) // interface compliance check

func NewRedisClient(conf *core.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger core.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

// Ping waits up to 5 seconds for redis to answer.
func (l *RedisLocker) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return errors.Wrap(l.client.Ping(ctx).Err(), "pinging redis")
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "acquiring %q", key)
	}
	if !ok {
		return nil, transition.ErrTransitionInProgress
	}

	return func() {
		// the caller's context may be done by now
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn(fmt.Sprintf("releasing %q: %v", key, err), err)
		}
	}, nil
}
