package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis client the locker needs.
// *redis.Client and *redis.ClusterClient satisfy it.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// releaseScript deletes the key only while it still carries the caller's
// owner id, so an expired and re-acquired lease is never dropped by its
// previous holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker claims the run lease with SET NX PX.
type RedisLocker struct {
	client RedisClient
	key    string
}

// RedisOptions holds the connection settings of NewRedisClient.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// NewRedisClient opens a go-redis client for the lease.
func NewRedisClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// NewRedisLocker builds a locker storing the lease under "lease:<name>".
func NewRedisLocker(client RedisClient, name string) *RedisLocker {
	if name == "" {
		name = DefaultName
	}
	return &RedisLocker{client: client, key: "lease:" + name}
}

// Key returns the redis key holding the lease.
func (l *RedisLocker) Key() string {
	return l.key
}

// TryLock sets the lease key to owner if it is absent. Redis expires the key
// after ttl.
func (l *RedisLocker) TryLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, ErrNoBackend
	}
	if owner == "" {
		return false, ErrEmptyOwner
	}
	acquired, err := l.client.SetNX(ctx, l.key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	return acquired, nil
}

// Unlock deletes the lease key if owner still holds it.
func (l *RedisLocker) Unlock(ctx context.Context, owner string) error {
	if l == nil || l.client == nil {
		return ErrNoBackend
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
