package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrLockFailed = errors.New("could not acquire lock")

// Locker serializes work on a named resource across processes. The
// returned release func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Noop is used when no Redis is configured; row locks alone then
// serialize writers.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

type Redis struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
	newToken      func() string
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		client:        client,
		ttl:           ttl,
		retryInterval: 50 * time.Millisecond,
		maxRetries:    100,
		newToken:      uuid.NewString,
	}
}

// Acquire takes key with SET NX PX, retrying until maxRetries or ctx ends.
// The token stored under the key makes release a no-op once the lock has
// expired and been taken by someone else.
func (l *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := l.newToken()
	for i := 0; i < l.maxRetries; i++ {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
	return nil, fmt.Errorf("lock %s: %w", key, ErrLockFailed)
}

func (l *Redis) releaser(key, token string) func() {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.client.Eval(ctx, unlockScript, []string{key}, token).Err()
	}
}

// ReserveKey names the lock guarding the reserve account.
func ReserveKey(accountNumber string) string {
	return "ledger:lock:reserve:" + accountNumber
}

// UserKey names the lock guarding a user's outgoing funds.
func UserKey(userID int64) string {
	return fmt.Sprintf("ledger:lock:user:%d", userID)
}
